// Package logging configures structured slog loggers for the daemon and CLI.
// It provides a compact console handler for interactive use, a JSON handler
// for log files, and attr helpers shared across packages.
package logging
