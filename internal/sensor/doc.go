// Package sensor owns the reading model and the device collaborator contract.
//
// Ownership boundary:
// - metric codes and readings
// - per-metric aggregation ring buffers
// - discovery/device interfaces implemented by hardware or simulation adapters
package sensor
