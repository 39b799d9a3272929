// Package store provides durable local storage for encrypted ledger records.
//
// Two backends implement Store:
//   - SQLiteStore: a single SQLite database in WAL mode (mattn/go-sqlite3)
//   - FileStore: one JSON file rewritten atomically on every mutation
//
// Open selects a backend. In auto mode it tries SQLite first and falls back
// to the file store when SQLite cannot initialize, for example when the
// binary was built without cgo.
//
// # Ordering
//
// LoadEvents returns non-dummy records sorted by TS descending. Records with
// equal TS are ordered by insertion, most recent first, where insertion means
// the first save of an id. Upserting an existing id keeps its position.
//
// # Dummies
//
// Padding records (IsDummy) exist only to disguise write timing. They are
// invisible to LoadEvents and to DeleteByTimestamp. Nuke removes them.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: a saved record survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: all writes are serialized
package store
