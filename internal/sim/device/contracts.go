package device

import (
	"fmt"
	"io"

	"github.com/kolkov/oclsim/internal/sim/ir"
	"github.com/kolkov/oclsim/internal/sim/mem"
)

// State is the observable execution state of a work-item.
type State int

const (
	// Ready means the work-item can execute its next instruction.
	Ready State = iota
	// AtBarrier means the work-item is blocked at a barrier.
	AtBarrier
	// Finished means the work-item has returned from the kernel.
	Finished
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case AtBarrier:
		return "at barrier"
	case Finished:
		return "finished"
	default:
		return "invalid"
	}
}

// WorkItem is one instance of the kernel function. The interpreter
// lives outside this package; the Device and WorkGroup drive it through
// this contract only.
type WorkItem interface {
	// Step executes one instruction and returns the resulting state.
	Step() State

	// State returns the current execution state without stepping.
	State() State

	// CurrentInstruction returns the instruction the work-item is
	// about to execute (or last executed once finished).
	CurrentInstruction() *ir.Instruction

	// CallStack returns the caller frames, outermost first. The
	// currently executing function is not included.
	CallStack() []ir.Frame

	// GlobalID returns the 3-D global id of the work-item.
	GlobalID() [3]uint64

	// LocalID returns the 3-D local id within its work-group.
	LocalID() [3]uint64

	// PrivateMemory returns the work-item's private memory.
	PrivateMemory() *mem.Memory

	// PrintVariable renders the named variable to w. It returns false
	// if the variable does not exist in the current scope.
	PrintVariable(w io.Writer, name string) bool

	// Variable resolves a name to its typed value.
	Variable(name string) (ir.Value, bool)

	// ValueData returns the raw bytes of the value's register.
	ValueData(v ir.Value) ([]byte, bool)

	// PrintValue renders a typed value to w.
	PrintValue(w io.Writer, v ir.Value)

	// BarrierFingerprint identifies the barrier the work-item is
	// blocked at: the barrier instruction and its fence flags. Only
	// meaningful while the state is AtBarrier.
	BarrierFingerprint() (*ir.Instruction, uint64)

	// ClearBarrier unblocks a work-item waiting at a barrier. Called
	// by its work-group when the barrier is released.
	ClearBarrier()
}

// Program identifies a compiled program and exposes its source text.
// Breakpoints are keyed by Program identity so that re-running the same
// program preserves them.
type Program interface {
	// Source returns the program source, or "" when unavailable.
	Source() string
}

// Kernel is a launchable entry point of a program.
type Kernel interface {
	// Name returns the kernel function name.
	Name() string

	// Program returns the program the kernel belongs to.
	Program() Program

	// AllocateConstants installs the program's constant buffers and
	// any kernel argument buffers into global memory. A returned
	// *FatalError aborts the launch before enumeration.
	AllocateConstants(global *mem.Memory) error

	// DeallocateConstants removes the constant buffers installed by
	// AllocateConstants. Kernel argument buffers are not removed and
	// stay in global memory after the launch.
	DeallocateConstants(global *mem.Memory)

	// CreateWorkItems instantiates every work-item of the group in
	// local-id order, allocating the kernel's local buffers in the
	// group's local memory first.
	CreateWorkItems(wg *WorkGroup) ([]WorkItem, error)
}

// FatalError is an unrecoverable error raised by an external
// collaborator, carrying its originating source location. The Device
// catches it once at top level, prints the diagnostic, releases every
// owned resource, and abandons the launch.
type FatalError struct {
	File string
	Line int
	Msg  string
}

// Error implements the error interface.
func (e *FatalError) Error() string { return e.Msg }

// Fatalf builds a FatalError at the given origin.
func Fatalf(file string, line int, format string, args ...any) *FatalError {
	return &FatalError{File: file, Line: line, Msg: fmt.Sprintf(format, args...)}
}
