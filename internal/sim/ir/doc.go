// Package ir defines the low-level kernel intermediate representation
// executed by the simulator.
//
// A kernel program is a set of functions; each function is a flat list of
// instructions with optional debug locations (source line and file).
// Instructions operate on named virtual registers holding 64-bit scalars,
// and on byte-addressed memory in one of four address spaces (private,
// local, global, constant).
//
// The package also owns the per-opcode execution counters shared by all
// work-items of a launch. The counters are not synchronized: the
// simulator is single-threaded and cooperative, so at most one work-item
// executes at any instant.
package ir
