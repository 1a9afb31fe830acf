// Package mem implements the typed, address-spaced byte store used for
// the simulated private, local, and global memories.
//
// A Memory owns a set of allocations addressed in a flat byte space.
// Loads and stores are bounds-checked: an access outside every live
// allocation produces no observable mutation and is reported to the
// Memory's monitor instead.
//
// For local and global memories, every byte carries an access record
// attributing the most recent read or write to the work-item or
// work-group that performed it and to the instruction involved. A
// conflicting access from a different entity with no intervening
// synchronization is a data race; each distinct (address, pair of
// entities) combination is reported once per synchronization interval.
// Barriers clear the tracking of a work-group's local memory, and
// Synchronize clears the tracking of the global memory.
package mem
