// Package entity maintains the identity and live state of every device
// known to the bridge.
//
// The package has three parts that mirror the life of a bus message:
//
//   - Table: the immutable device mapping loaded at startup. It expands
//     YAML templates into concrete Descriptor records and indexes them
//     by entity ID and by (DGN, instance) key, including companion
//     status DGNs for devices that report state on a different message
//     than the one that commands them.
//   - Resolve: given a frame's DGN and instance, find the owning
//     Descriptor. Exact (DGN, instance) wins; a "default" keyed
//     descriptor catches any instance; both the primary and the
//     companion status index are consulted.
//   - Store: the only component allowed to mutate EntityState. Each
//     entity has its own mutation slot so unrelated entities update in
//     parallel; every apply advances the revision counter, but a
//     StateChangeEvent is produced only when a value actually changed.
//
// Table and Descriptor values are read-only after load and safe to
// share across goroutines without locking.
package entity
