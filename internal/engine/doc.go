// Package engine implements the offline-first synchronization engine.
//
// The engine is the heart of tillsync: every user action (intent) is
// persisted locally and queued first, then pushed to the restaurant server
// by a drain pass when connectivity allows.
//
// ARCHITECTURE:
//
// Local-First Intents:
// An intent never blocks on the network. It writes the local store,
// updates table occupancy, appends to the durable pending-operation queue,
// and only then attempts a drain if the server looks reachable. A
// transport failure during that attempt demotes silently: the operation is
// already queued and will replay later.
//
// Single-Permit Drain:
// At most one drain pass runs at a time, serialized by a one-token permit
// channel. A pass snapshots the queue, submits operations strictly in
// enqueue order, and stops at the first transport failure. Business
// rejections (4xx) are terminal: the operation is settled as rejected,
// recorded in the pass result, and never retried.
//
// Identity Reconciliation:
// A confirmed create hands back the server identifier. Reconciliation
// runs inline, between dequeue steps of the same pass, rewriting the
// store row, every queued operation that references the provisional
// identifier, and the table claim. By construction no operation can be
// submitted with a stale identifier.
//
// Triggers:
// Drains are triggered by connectivity regained (a probe watcher),
// foreground visibility, a periodic ticker, and explicit SyncNow. All
// automatic triggers respect a minimum inter-sync gap; SyncNow bypasses
// the gap but still takes the permit.
package engine
