// Package store provides the SQLite-backed Local Store for the offline
// sync engine.
//
// The store holds four entity collections (menu items, customers, orders,
// table-availability snapshot), the append-only pending-operation log, and a
// small key-value metadata table. It has no business logic: callers get
// synchronous, durable CRUD with indexed lookup, and every failed write
// surfaces as an explicit error rather than a silently dropped entity.
//
// # Normalization boundary
//
// Cached and live payloads historically disagreed on field casing and value
// encodings (integer vs string table numbers, float vs string prices).
// All tolerance lives in marshal.go, applied once on the way in, so every
// component downstream of the store sees one canonical shape.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Pending operations are ordered by their AUTOINCREMENT primary key, which
// is the queue's FIFO order. Rows are never reordered or renumbered.
package store
