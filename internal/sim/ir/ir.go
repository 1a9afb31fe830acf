package ir

import (
	"fmt"
	"strings"
)

// AddressSpace identifies which memory region a pointer refers to.
type AddressSpace int

const (
	// AddrSpacePrivate is memory exclusive to one work-item.
	AddrSpacePrivate AddressSpace = iota
	// AddrSpaceGlobal is memory shared by all work-groups of a launch.
	AddrSpaceGlobal
	// AddrSpaceConstant is read-only memory installed by the kernel,
	// backed by the global memory object.
	AddrSpaceConstant
	// AddrSpaceLocal is memory shared within a single work-group.
	AddrSpaceLocal
)

// String returns the lower-case OpenCL name of the address space.
func (s AddressSpace) String() string {
	switch s {
	case AddrSpacePrivate:
		return "private"
	case AddrSpaceGlobal:
		return "global"
	case AddrSpaceConstant:
		return "constant"
	case AddrSpaceLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Opcode identifies an instruction.
type Opcode int

const (
	OpNop Opcode = iota
	OpMov
	OpAdd
	OpSub
	OpMul
	OpUDiv
	OpURem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpCmp
	OpGlobalID
	OpLocalID
	OpGroupID
	OpGlobalSize
	OpLocalSize
	OpAlloca
	OpLoad
	OpStore
	OpJmp
	OpBr
	OpCall
	OpRet
	OpBarrier

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	OpNop:        "nop",
	OpMov:        "mov",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpUDiv:       "udiv",
	OpURem:       "urem",
	OpAnd:        "and",
	OpOr:         "or",
	OpXor:        "xor",
	OpShl:        "shl",
	OpShr:        "shr",
	OpCmp:        "cmp",
	OpGlobalID:   "gid",
	OpLocalID:    "lid",
	OpGroupID:    "grp",
	OpGlobalSize: "gsz",
	OpLocalSize:  "lsz",
	OpAlloca:     "alloca",
	OpLoad:       "load",
	OpStore:      "store",
	OpJmp:        "jmp",
	OpBr:         "br",
	OpCall:       "call",
	OpRet:        "ret",
	OpBarrier:    "barrier",
}

// String returns the assembler mnemonic for the opcode.
func (op Opcode) String() string {
	if op < 0 || op >= numOpcodes {
		return "invalid"
	}
	return opcodeNames[op]
}

// Predicate selects the comparison performed by OpCmp.
// All comparisons are unsigned.
type Predicate int

const (
	PredEQ Predicate = iota
	PredNE
	PredLT
	PredLE
	PredGT
	PredGE
)

var predicateNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge"}

// String returns the assembler name of the predicate.
func (p Predicate) String() string {
	if p < 0 || int(p) >= len(predicateNames) {
		return "invalid"
	}
	return predicateNames[p]
}

// Barrier fence flags. A barrier instruction carries the set of memory
// scopes it fences, matching CLK_LOCAL_MEM_FENCE and CLK_GLOBAL_MEM_FENCE.
const (
	BarrierLocalFence  uint64 = 1 << 0
	BarrierGlobalFence uint64 = 1 << 1
)

// Operand is a single instruction source: either a named virtual
// register or an immediate 64-bit constant.
type Operand struct {
	Reg   string
	Imm   uint64
	IsImm bool
}

// Immediate returns an immediate operand.
func Immediate(v uint64) Operand { return Operand{Imm: v, IsImm: true} }

// Register returns a register operand.
func Register(name string) Operand { return Operand{Reg: name} }

// String renders the operand in assembler syntax.
func (o Operand) String() string {
	if o.IsImm {
		return fmt.Sprintf("%d", o.Imm)
	}
	return o.Reg
}

// Instruction is a single executable operation of a function body.
//
// The fields used depend on Op:
//
//	mov/add/.../shr      Dest, Srcs
//	cmp                  Dest, Pred, Srcs[0], Srcs[1]
//	gid/lid/grp/gsz/lsz  Dest, Srcs[0] (dimension 0-2)
//	alloca               Dest, Size
//	load                 Dest, Space, Srcs[0] (address), Size
//	store                Space, Srcs[0] (address), Srcs[1] (value), Size
//	jmp                  Targets[0]
//	br                   Srcs[0] (condition), Targets[0], Targets[1]
//	call                 Dest (optional), Callee, Srcs (arguments)
//	ret                  Srcs[0] (optional result)
//	barrier              Flags
//
// Line and File carry the debug location; Line == 0 means debug
// metadata is not available for the instruction.
type Instruction struct {
	Op      Opcode
	Dest    string
	Srcs    []Operand
	Pred    Predicate
	Space   AddressSpace
	Size    uint64
	Callee  string
	Targets [2]int
	Flags   uint64

	// ValType declares the element type of an alloca result, when the
	// kernel annotates one. The debugger uses it to subscript the slot.
	ValType *Type

	Parent *Function
	Index  int
	Line   int
	File   string
}

// CountedName returns the name under which the instruction is counted
// in the per-opcode execution histogram. Calls are counted per callee.
func (in *Instruction) CountedName() string {
	if in.Op == OpCall {
		return "call " + in.Callee
	}
	return in.Op.String()
}

// String renders the instruction in assembler syntax.
func (in *Instruction) String() string {
	switch in.Op {
	case OpNop:
		return "nop"
	case OpCmp:
		return fmt.Sprintf("%s = cmp %s, %s, %s", in.Dest, in.Pred, in.Srcs[0], in.Srcs[1])
	case OpAlloca:
		return fmt.Sprintf("%s = alloca %d", in.Dest, in.Size)
	case OpLoad:
		return fmt.Sprintf("%s = load %s, %s, %d", in.Dest, in.Space, in.Srcs[0], in.Size)
	case OpStore:
		return fmt.Sprintf("store %s, %s, %s, %d", in.Space, in.Srcs[0], in.Srcs[1], in.Size)
	case OpJmp:
		return fmt.Sprintf("jmp @%d", in.Targets[0])
	case OpBr:
		return fmt.Sprintf("br %s, @%d, @%d", in.Srcs[0], in.Targets[0], in.Targets[1])
	case OpCall:
		args := make([]string, len(in.Srcs))
		for i, s := range in.Srcs {
			args[i] = s.String()
		}
		call := fmt.Sprintf("call %s(%s)", in.Callee, strings.Join(args, ", "))
		if in.Dest != "" {
			return in.Dest + " = " + call
		}
		return call
	case OpRet:
		if len(in.Srcs) > 0 {
			return "ret " + in.Srcs[0].String()
		}
		return "ret"
	case OpBarrier:
		return "barrier " + barrierFlagString(in.Flags)
	default:
		// Plain register operations.
		args := make([]string, len(in.Srcs))
		for i, s := range in.Srcs {
			args[i] = s.String()
		}
		if in.Dest == "" {
			return fmt.Sprintf("%s %s", in.Op, strings.Join(args, ", "))
		}
		return fmt.Sprintf("%s = %s %s", in.Dest, in.Op, strings.Join(args, ", "))
	}
}

func barrierFlagString(flags uint64) string {
	var parts []string
	if flags&BarrierLocalFence != 0 {
		parts = append(parts, "local")
	}
	if flags&BarrierGlobalFence != 0 {
		parts = append(parts, "global")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// Function is a flat list of instructions with named parameters.
type Function struct {
	Name   string
	Params []Value
	Instrs []*Instruction
	Labels map[string]int
}

// Param returns the parameter with the given name.
func (f *Function) Param(name string) (Value, bool) {
	for _, p := range f.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Value{}, false
}

// Frame is one caller entry of the call stack as seen by the debugger:
// the calling function and the call instruction inside it that is
// currently executing.
type Frame struct {
	Function *Function
	CallSite *Instruction
}

// Program is a compiled kernel program: a set of functions plus the
// original source text used by the debugger for line-oriented display.
type Program struct {
	Name       string
	SourceText string
	Functions  map[string]*Function
}

// Source returns the program source text, or "" if unavailable.
func (p *Program) Source() string { return p.SourceText }

// Function returns the named function.
func (p *Program) Function(name string) (*Function, bool) {
	f, ok := p.Functions[name]
	return f, ok
}
