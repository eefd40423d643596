// Package pos defines the domain model shared by the offline sync engine:
// orders, customers, menu items, table references, and pending operations.
//
// Two identity regimes coexist. Entities created while the device is online
// carry server-issued integer identifiers. Entities created offline carry
// locally-minted provisional identifiers ("local-" + UUIDv7) until the sync
// engine reconciles them against the server. EntityID abstracts over both;
// once an entity is reconciled to a server identifier it never reverts to
// the provisional form.
//
// Money fields use shopspring/decimal. Line item prices are snapshotted at
// add time and never recomputed from the menu afterward, so a price change
// between enqueue and sync cannot alter an already-taken order.
package pos
