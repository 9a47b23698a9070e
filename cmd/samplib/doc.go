// Package main hosts the samplib CLI entrypoint and command graph.
//
// The Cobra-based command tree covers one-shot library scans, ledger
// inspection and repair, index snapshot maintenance, similarity queries,
// and configuration scaffolding. It centralizes configuration resolution
// and database access so subcommands can focus on user experience instead
// of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
