package ir

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// PrintTypedData renders raw little-endian bytes to w according to
// their type: integers in decimal, floats with %v, pointers in hex.
func PrintTypedData(w io.Writer, t Type, data []byte) {
	switch t.Kind {
	case KindPointer:
		fmt.Fprintf(w, "0x%x", binary.LittleEndian.Uint64(data))
	case KindFloat:
		if t.Bits == 32 {
			fmt.Fprintf(w, "%v", math.Float32frombits(binary.LittleEndian.Uint32(data)))
		} else {
			fmt.Fprintf(w, "%v", math.Float64frombits(binary.LittleEndian.Uint64(data)))
		}
	case KindSInt:
		var v int64
		switch t.Bits {
		case 8:
			v = int64(int8(data[0]))
		case 16:
			v = int64(int16(binary.LittleEndian.Uint16(data)))
		case 32:
			v = int64(int32(binary.LittleEndian.Uint32(data)))
		default:
			v = int64(binary.LittleEndian.Uint64(data))
		}
		fmt.Fprintf(w, "%d", v)
	default:
		var v uint64
		switch t.Bits {
		case 8:
			v = uint64(data[0])
		case 16:
			v = uint64(binary.LittleEndian.Uint16(data))
		case 32:
			v = uint64(binary.LittleEndian.Uint32(data))
		default:
			v = binary.LittleEndian.Uint64(data)
		}
		fmt.Fprintf(w, "%d", v)
	}
}
