package ir

import (
	"strings"
	"testing"
)

// TestOpcodeNames verifies every opcode renders a distinct mnemonic.
func TestOpcodeNames(t *testing.T) {
	seen := make(map[string]Opcode)
	for op := OpNop; op < numOpcodes; op++ {
		name := op.String()
		if name == "" || name == "invalid" {
			t.Errorf("opcode %d has no mnemonic", op)
		}
		if prev, dup := seen[name]; dup {
			t.Errorf("opcodes %d and %d share mnemonic %q", prev, op, name)
		}
		seen[name] = op
	}
}

// TestInstructionString checks the assembler rendering of
// representative instructions.
func TestInstructionString(t *testing.T) {
	tests := []struct {
		inst *Instruction
		want string
	}{
		{&Instruction{Op: OpMov, Dest: "%x", Srcs: []Operand{Immediate(5)}}, "%x = mov 5"},
		{&Instruction{Op: OpAdd, Dest: "%s", Srcs: []Operand{Register("%a"), Register("%b")}}, "%s = add %a, %b"},
		{&Instruction{Op: OpCmp, Dest: "%c", Pred: PredLT, Srcs: []Operand{Register("%i"), Register("n")}}, "%c = cmp lt, %i, n"},
		{&Instruction{Op: OpLoad, Dest: "%v", Space: AddrSpaceGlobal, Size: 4, Srcs: []Operand{Register("%p")}}, "%v = load global, %p, 4"},
		{&Instruction{Op: OpStore, Space: AddrSpaceLocal, Size: 4, Srcs: []Operand{Register("%p"), Register("%v")}}, "store local, %p, %v, 4"},
		{&Instruction{Op: OpBarrier, Flags: BarrierLocalFence}, "barrier local"},
		{&Instruction{Op: OpBarrier, Flags: BarrierLocalFence | BarrierGlobalFence}, "barrier local, global"},
		{&Instruction{Op: OpCall, Dest: "%r", Callee: "helper", Srcs: []Operand{Register("%a")}}, "%r = call helper(%a)"},
		{&Instruction{Op: OpRet}, "ret"},
	}
	for _, tt := range tests {
		if got := tt.inst.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

// TestCountedName verifies calls are counted per callee.
func TestCountedName(t *testing.T) {
	call := &Instruction{Op: OpCall, Callee: "llvm.dbg.value"}
	if got := call.CountedName(); got != "call llvm.dbg.value" {
		t.Errorf("CountedName() = %q, want %q", got, "call llvm.dbg.value")
	}
	add := &Instruction{Op: OpAdd}
	if got := add.CountedName(); got != "add" {
		t.Errorf("CountedName() = %q, want %q", got, "add")
	}
}

// TestInstructionCounts verifies the execution histogram accumulates
// and clears.
func TestInstructionCounts(t *testing.T) {
	ClearInstructionCounts()
	add := &Instruction{Op: OpAdd}
	mul := &Instruction{Op: OpMul}
	Count(add)
	Count(add)
	Count(mul)

	counts := InstructionCounts()
	got := make(map[string]uint64)
	for _, c := range counts {
		got[c.Name] = c.Count
	}
	if got["add"] != 2 {
		t.Errorf("add count = %d, want 2", got["add"])
	}
	if got["mul"] != 1 {
		t.Errorf("mul count = %d, want 1", got["mul"])
	}

	ClearInstructionCounts()
	if n := len(InstructionCounts()); n != 0 {
		t.Errorf("counts after clear = %d entries, want 0", n)
	}
}

// TestParseType covers the scalar type grammar.
func TestParseType(t *testing.T) {
	tests := []struct {
		name string
		want Type
		ok   bool
	}{
		{"u8", Type{Kind: KindUInt, Bits: 8}, true},
		{"u32", Type{Kind: KindUInt, Bits: 32}, true},
		{"i16", Type{Kind: KindSInt, Bits: 16}, true},
		{"f32", Type{Kind: KindFloat, Bits: 32}, true},
		{"f64", Type{Kind: KindFloat, Bits: 64}, true},
		{"f8", Type{}, false},
		{"x32", Type{}, false},
		{"u12", Type{}, false},
		{"", Type{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseType(tt.name)
		if ok != tt.ok {
			t.Errorf("ParseType(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParseType(%q) = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

// TestTypeString verifies signature rendering of pointer types.
func TestTypeString(t *testing.T) {
	elem := Type{Kind: KindUInt, Bits: 32}
	ptr := Type{Kind: KindPointer, Space: AddrSpaceGlobal, Elem: &elem}
	if got := ptr.String(); got != "global u32*" {
		t.Errorf("String() = %q, want %q", got, "global u32*")
	}
	if ptr.Size() != 8 {
		t.Errorf("pointer Size() = %d, want 8", ptr.Size())
	}
	if elem.Size() != 4 {
		t.Errorf("u32 Size() = %d, want 4", elem.Size())
	}
}

// TestPrintTypedData covers the debugger rendering of raw bytes.
func TestPrintTypedData(t *testing.T) {
	var b strings.Builder
	PrintTypedData(&b, Type{Kind: KindUInt, Bits: 32}, []byte{0x2a, 0, 0, 0})
	if b.String() != "42" {
		t.Errorf("u32 rendering = %q, want %q", b.String(), "42")
	}

	b.Reset()
	PrintTypedData(&b, Type{Kind: KindSInt, Bits: 8}, []byte{0xff})
	if b.String() != "-1" {
		t.Errorf("i8 rendering = %q, want %q", b.String(), "-1")
	}

	b.Reset()
	elem := Type{Kind: KindUInt, Bits: 8}
	PrintTypedData(&b, Type{Kind: KindPointer, Space: AddrSpaceGlobal, Elem: &elem},
		[]byte{0x00, 0x01, 0, 0, 0, 0, 0, 0})
	if b.String() != "0x100" {
		t.Errorf("pointer rendering = %q, want %q", b.String(), "0x100")
	}
}
