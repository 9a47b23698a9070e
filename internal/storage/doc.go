// Package storage owns the shared SQLite library database: connection setup,
// pragmas, and schema versioning. Domain stores (catalog, ledger, records)
// layer their queries on top of the handle it provides.
package storage
