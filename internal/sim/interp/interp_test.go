package interp_test

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/kolkov/oclsim/internal/sim/asm"
	"github.com/kolkov/oclsim/internal/sim/device"
	"github.com/kolkov/oclsim/internal/sim/interp"
	"github.com/kolkov/oclsim/internal/sim/ir"
)

// newQuietDevice builds a non-interactive device with captured output.
func newQuietDevice() (*device.Device, *bytes.Buffer, *bytes.Buffer) {
	dev := device.New()
	dev.SetInteractive(false)
	dev.SetQuickMode(false)
	dev.SetShowInstCounts(false)
	out := &bytes.Buffer{}
	errw := &bytes.Buffer{}
	dev.SetIO(strings.NewReader(""), out, errw)
	return dev, out, errw
}

func mustAssemble(t *testing.T, name, src string) *asm.Module {
	t.Helper()
	module, err := asm.Assemble(name, []byte(src))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return module
}

func mustKernel(t *testing.T, module *asm.Module, name string) *interp.Kernel {
	t.Helper()
	k, err := module.Kernel(name)
	if err != nil {
		t.Fatalf("Kernel(%s) failed: %v", name, err)
	}
	return k
}

func readU32(t *testing.T, dev *device.Device, addr uint64) uint32 {
	t.Helper()
	var buf [4]byte
	if !dev.GlobalMemory().Inspect(buf[:], addr) {
		t.Fatalf("Inspect(%#x) failed", addr)
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// TestVectorAdd runs a two-buffer element-wise addition over four
// work-items and checks every output element.
func TestVectorAdd(t *testing.T) {
	src := `.program vecadd
.kernel vecadd(global u32* a, global u32* b, global u32* c)
  %i = gid 0
  %o = mul %i, 4
  %pa = add a, %o
  %x = load global, %pa, 4
  %pb = add b, %o
  %y = load global, %pb, 4
  %s = add %x, %y
  %pc = add c, %o
  store global, %pc, %s, 4
  ret
.end
`
	module := mustAssemble(t, "vecadd.clir", src)
	kernel := mustKernel(t, module, "vecadd")

	a := make([]byte, 16)
	b := make([]byte, 16)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(a[i*4:], uint32(i))
		binary.LittleEndian.PutUint32(b[i*4:], uint32(10*i))
	}
	kernel.AddBuffer(interp.Buffer{Name: "a", Size: 16, Init: a})
	kernel.AddBuffer(interp.Buffer{Name: "b", Size: 16, Init: b})
	kernel.AddBuffer(interp.Buffer{Name: "c", Size: 16})

	dev, _, errw := newQuietDevice()
	dev.Run(kernel, 1, nil, []uint64{4}, []uint64{2})

	if errw.Len() != 0 {
		t.Errorf("unexpected diagnostics:\n%s", errw.String())
	}
	base, _ := kernel.BufferAddress("c")
	for i := uint64(0); i < 4; i++ {
		want := uint32(i + 10*i)
		if got := readU32(t, dev, base+i*4); got != want {
			t.Errorf("c[%d] = %d, want %d", i, got, want)
		}
	}
}

// TestControlFlowLoop verifies cmp/br/jmp by summing 1..n in a loop.
func TestControlFlowLoop(t *testing.T) {
	src := `.program sum
.kernel sum(u32 n, global u32* out)
  %acc = mov 0
  %i = mov 1
top:
  %c = cmp le, %i, n
  br %c, body, done
body:
  %acc = add %acc, %i
  %i = add %i, 1
  jmp top
done:
  store global, out, %acc, 4
  ret
.end
`
	module := mustAssemble(t, "sum.clir", src)
	kernel := mustKernel(t, module, "sum")
	kernel.AddBuffer(interp.Buffer{Name: "out", Size: 4})
	if err := kernel.SetArgument("n", 10); err != nil {
		t.Fatalf("SetArgument: %v", err)
	}

	dev, _, errw := newQuietDevice()
	dev.Run(kernel, 1, nil, []uint64{1}, []uint64{1})

	if errw.Len() != 0 {
		t.Errorf("unexpected diagnostics:\n%s", errw.String())
	}
	addr, _ := kernel.BufferAddress("out")
	if got := readU32(t, dev, addr); got != 55 {
		t.Errorf("sum = %d, want 55", got)
	}
}

// TestCallAndReturn verifies calls push frames, deliver arguments, and
// return results to the callsite destination.
func TestCallAndReturn(t *testing.T) {
	src := `.program calls
.kernel helper(u32 x)
  %d = mul x, 2
  ret %d
.end
.kernel entry(global u32* out)
  %g = gid 0
  %r = call helper(21)
  %o = mul %g, 4
  %p = add out, %o
  store global, %p, %r, 4
  ret
.end
`
	module := mustAssemble(t, "calls.clir", src)
	kernel := mustKernel(t, module, "entry")
	kernel.AddBuffer(interp.Buffer{Name: "out", Size: 8})

	ir.ClearInstructionCounts()
	dev, _, errw := newQuietDevice()
	dev.Run(kernel, 1, nil, []uint64{2}, []uint64{2})

	if errw.Len() != 0 {
		t.Errorf("unexpected diagnostics:\n%s", errw.String())
	}
	addr, _ := kernel.BufferAddress("out")
	for i := uint64(0); i < 2; i++ {
		if got := readU32(t, dev, addr+i*4); got != 42 {
			t.Errorf("out[%d] = %d, want 42", i, got)
		}
	}

	counts := make(map[string]uint64)
	for _, c := range ir.InstructionCounts() {
		counts[c.Name] = c.Count
	}
	if counts["call helper"] != 2 {
		t.Errorf("call helper count = %d, want 2", counts["call helper"])
	}
}

// TestScalarWidths verifies sub-word loads and stores truncate
// correctly.
func TestScalarWidths(t *testing.T) {
	src := `.program widths
.kernel widths(global u32* out)
  store global, out, 258, 1
  %v = load global, out, 1
  %o = add out, 4
  store global, %o, %v, 4
  ret
.end
`
	module := mustAssemble(t, "widths.clir", src)
	kernel := mustKernel(t, module, "widths")
	kernel.AddBuffer(interp.Buffer{Name: "out", Size: 8})

	dev, _, _ := newQuietDevice()
	dev.Run(kernel, 1, nil, []uint64{1}, []uint64{1})

	addr, _ := kernel.BufferAddress("out")
	// 258 truncates to a single byte: 2.
	if got := readU32(t, dev, addr+4); got != 2 {
		t.Errorf("round-tripped byte = %d, want 2", got)
	}
}

// TestGeometryOps verifies gid/lid/grp/gsz/lsz observe the launch
// geometry.
func TestGeometryOps(t *testing.T) {
	src := `.program geom
.kernel geom(global u32* out)
  %g = gid 0
  %l = lid 0
  %w = grp 0
  %gs = gsz 0
  %ls = lsz 0
  %o = mul %g, 20
  %p = add out, %o
  store global, %p, %g, 4
  %p = add %p, 4
  store global, %p, %l, 4
  %p = add %p, 4
  store global, %p, %w, 4
  %p = add %p, 4
  store global, %p, %gs, 4
  %p = add %p, 4
  store global, %p, %ls, 4
  ret
.end
`
	module := mustAssemble(t, "geom.clir", src)
	kernel := mustKernel(t, module, "geom")
	kernel.AddBuffer(interp.Buffer{Name: "out", Size: 6 * 20})

	dev, _, errw := newQuietDevice()
	dev.Run(kernel, 1, nil, []uint64{6}, []uint64{2})
	if errw.Len() != 0 {
		t.Errorf("unexpected diagnostics:\n%s", errw.String())
	}

	base, _ := kernel.BufferAddress("out")
	for g := uint64(0); g < 6; g++ {
		rec := base + g*20
		wants := []uint32{uint32(g), uint32(g % 2), uint32(g / 2), 6, 2}
		for i, want := range wants {
			if got := readU32(t, dev, rec+uint64(i)*4); got != want {
				t.Errorf("work-item %d field %d = %d, want %d", g, i, got, want)
			}
		}
	}
}

// TestUnboundArgumentIsFatal verifies launching with an unset argument
// aborts with a fatal diagnostic before any work-item runs.
func TestUnboundArgumentIsFatal(t *testing.T) {
	src := `.program unbound
.kernel unbound(u32 n)
  ret
.end
`
	module := mustAssemble(t, "unbound.clir", src)
	kernel := mustKernel(t, module, "unbound")

	dev, _, errw := newQuietDevice()
	dev.Run(kernel, 1, nil, []uint64{1}, []uint64{1})

	if !strings.Contains(errw.String(), "OCLGRIND FATAL ERROR") {
		t.Errorf("diagnostics = %q, want fatal error", errw.String())
	}
	if !strings.Contains(errw.String(), `argument "n" not set`) {
		t.Errorf("diagnostics = %q, want unset argument message", errw.String())
	}
}

// TestDivisionByZeroReports verifies udiv by zero produces a kernel
// error and a zero result rather than a crash.
func TestDivisionByZeroReports(t *testing.T) {
	src := `.program divz
.kernel divz(global u32* out)
  %q = udiv 7, 0
  store global, out, %q, 4
  ret
.end
`
	module := mustAssemble(t, "divz.clir", src)
	kernel := mustKernel(t, module, "divz")
	kernel.AddBuffer(interp.Buffer{Name: "out", Size: 4})

	dev, _, errw := newQuietDevice()
	dev.Run(kernel, 1, nil, []uint64{1}, []uint64{1})

	if !strings.Contains(errw.String(), "division by zero") {
		t.Errorf("diagnostics = %q, want division by zero", errw.String())
	}
	addr, _ := kernel.BufferAddress("out")
	if got := readU32(t, dev, addr); got != 0 {
		t.Errorf("quotient = %d, want 0", got)
	}
}
