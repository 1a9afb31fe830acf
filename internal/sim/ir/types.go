package ir

import "fmt"

// Kind classifies a value type.
type Kind int

const (
	// KindUInt is an unsigned integer of Bits width.
	KindUInt Kind = iota
	// KindSInt is a signed integer of Bits width.
	KindSInt
	// KindFloat is an IEEE float of Bits width (32 or 64).
	KindFloat
	// KindPointer is an address into Space pointing at Elem values.
	KindPointer
)

// Type describes the shape of a kernel value. Scalars occupy Bits/8
// bytes; pointers are always 8 bytes wide regardless of pointee.
type Type struct {
	Kind  Kind
	Bits  int
	Space AddressSpace
	Elem  *Type
}

// Size returns the byte size of a value of this type.
func (t Type) Size() uint64 {
	if t.Kind == KindPointer {
		return 8
	}
	return uint64(t.Bits / 8)
}

// String renders the type in kernel signature syntax, e.g. "u32" or
// "global u32*".
func (t Type) String() string {
	switch t.Kind {
	case KindUInt:
		return fmt.Sprintf("u%d", t.Bits)
	case KindSInt:
		return fmt.Sprintf("i%d", t.Bits)
	case KindFloat:
		return fmt.Sprintf("f%d", t.Bits)
	case KindPointer:
		if t.Elem == nil {
			return fmt.Sprintf("%s void*", t.Space)
		}
		return fmt.Sprintf("%s %s*", t.Space, t.Elem)
	default:
		return "invalid"
	}
}

// ParseType parses a scalar type name ("u8".."u64", "i8".."i64",
// "f32", "f64").
func ParseType(name string) (Type, bool) {
	var kind Kind
	switch {
	case len(name) < 2:
		return Type{}, false
	case name[0] == 'u':
		kind = KindUInt
	case name[0] == 'i':
		kind = KindSInt
	case name[0] == 'f':
		kind = KindFloat
	default:
		return Type{}, false
	}
	var bits int
	switch name[1:] {
	case "8":
		bits = 8
	case "16":
		bits = 16
	case "32":
		bits = 32
	case "64":
		bits = 64
	default:
		return Type{}, false
	}
	if kind == KindFloat && bits < 32 {
		return Type{}, false
	}
	return Type{Kind: kind, Bits: bits}, true
}

// Value is a named, typed kernel value visible to the debugger: a
// kernel argument, a function parameter, or an instruction result.
// Alloca marks values produced by an alloca instruction, whose register
// holds the address of a private stack slot rather than the value
// itself.
type Value struct {
	Name   string
	Type   Type
	Alloca bool
}
