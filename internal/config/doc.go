// Package config loads, validates, and normalizes samplib configuration
// from TOML files with embedded sample defaults.
package config
