// Package registry owns the device session table.
//
// Ownership boundary:
// - device sessions, their aggregation rings and pairings
// - discovery reconciliation as a diff-and-merge under one lock
// - the reading event channel devices enqueue into
//
// Device callbacks never touch session state directly. They enqueue a
// DeviceReading that the owning task applies with Apply under the same
// mutex that guards Pair, Free and Reconcile.
package registry
