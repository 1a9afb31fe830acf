// Package interp is the reference work-item interpreter: a register VM
// that executes the kernel IR one instruction per step, exactly as the
// Device's cooperative scheduler requires.
//
// A Kernel binds a program function to argument values and buffer
// declarations and instantiates the work-items of each work-group. A
// WorkItem holds a call stack of frames, each with its own register
// file, plus a private memory for alloca slots. Every memory access
// goes through the simulated memories, so bounds checks and race
// tracking see each access as it happens.
package interp
