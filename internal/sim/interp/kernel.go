package interp

import (
	"fmt"
	"runtime"

	"github.com/kolkov/oclsim/internal/sim/device"
	"github.com/kolkov/oclsim/internal/sim/ir"
	"github.com/kolkov/oclsim/internal/sim/mem"
)

// Buffer declares a memory buffer the kernel installs into global
// memory before launch. Constant buffers are removed again after the
// launch; argument buffers stay until the device goes away, like
// host-owned memory objects.
type Buffer struct {
	Name     string
	Size     uint64
	Init     []byte
	Constant bool
}

// Local declares a per-work-group buffer allocated in local memory.
type Local struct {
	Name string
	Size uint64
}

// Kernel binds one program function to launch state: scalar and
// pointer arguments, declared buffers, and local allocations. It
// implements the device.Kernel contract.
type Kernel struct {
	program *ir.Program
	fn      *ir.Function

	args    map[string]uint64
	buffers []Buffer
	locals  []Local

	bufferAddrs map[string]uint64
	constAddrs  []uint64
}

// NewKernel looks up the named kernel function in the program.
func NewKernel(program *ir.Program, name string) (*Kernel, error) {
	fn, ok := program.Function(name)
	if !ok {
		return nil, fmt.Errorf("kernel %q not found in program %q", name, program.Name)
	}
	return &Kernel{
		program:     program,
		fn:          fn,
		args:        make(map[string]uint64),
		bufferAddrs: make(map[string]uint64),
	}, nil
}

// Name returns the kernel function name.
func (k *Kernel) Name() string { return k.fn.Name }

// Program returns the owning program.
func (k *Kernel) Program() device.Program { return k.program }

// Function returns the kernel entry function.
func (k *Kernel) Function() *ir.Function { return k.fn }

// SetArgument binds a scalar value or buffer address to the named
// kernel parameter.
func (k *Kernel) SetArgument(name string, value uint64) error {
	if _, ok := k.fn.Param(name); !ok {
		return fmt.Errorf("kernel %q has no argument %q", k.fn.Name, name)
	}
	k.args[name] = value
	return nil
}

// AddBuffer declares a buffer installed into global memory at launch.
// If a kernel parameter shares the buffer's name, the parameter is
// bound to the buffer's address.
func (k *Kernel) AddBuffer(b Buffer) { k.buffers = append(k.buffers, b) }

// AddLocal declares a per-work-group local allocation bound to the
// named kernel parameter.
func (k *Kernel) AddLocal(l Local) { k.locals = append(k.locals, l) }

// BufferAddress returns the global address a declared buffer was
// installed at. Valid after AllocateConstants has run.
func (k *Kernel) BufferAddress(name string) (uint64, bool) {
	addr, ok := k.bufferAddrs[name]
	return addr, ok
}

// AllocateConstants implements device.Kernel: it installs every
// declared buffer into global memory and binds matching parameters.
func (k *Kernel) AllocateConstants(global *mem.Memory) error {
	for _, b := range k.buffers {
		addr, err := global.Allocate(b.Size)
		if err != nil {
			return fatalHere("allocating buffer %q for kernel %q: %v", b.Name, k.fn.Name, err)
		}
		if len(b.Init) > 0 {
			if uint64(len(b.Init)) > b.Size {
				return fatalHere("buffer %q initializer larger than buffer", b.Name)
			}
			if !global.Store(b.Init, addr) {
				return fatalHere("initializing buffer %q for kernel %q", b.Name, k.fn.Name)
			}
		}
		k.bufferAddrs[b.Name] = addr
		if b.Constant {
			k.constAddrs = append(k.constAddrs, addr)
		}
		if _, ok := k.fn.Param(b.Name); ok {
			k.args[b.Name] = addr
		}
	}
	return nil
}

// DeallocateConstants implements device.Kernel: constant buffers are
// removed; argument buffers remain host-owned.
func (k *Kernel) DeallocateConstants(global *mem.Memory) {
	for _, addr := range k.constAddrs {
		_ = global.Deallocate(addr)
	}
	k.constAddrs = nil
}

// CreateWorkItems implements device.Kernel: it allocates the kernel's
// local buffers in the group's local memory, then instantiates every
// work-item of the group in local-id order.
func (k *Kernel) CreateWorkItems(wg *device.WorkGroup) ([]device.WorkItem, error) {
	localAddrs := make(map[string]uint64, len(k.locals))
	for _, l := range k.locals {
		addr, err := wg.LocalMemory().Allocate(l.Size)
		if err != nil {
			return nil, fatalHere("allocating local buffer %q: %v", l.Name, err)
		}
		localAddrs[l.Name] = addr
	}

	// Every parameter must be bound before anything can run.
	for _, p := range k.fn.Params {
		if _, ok := k.args[p.Name]; ok {
			continue
		}
		if _, ok := localAddrs[p.Name]; ok {
			continue
		}
		return nil, fatalHere("kernel %q argument %q not set", k.fn.Name, p.Name)
	}

	local := wg.Device().LocalSize()
	items := make([]device.WorkItem, 0, local[0]*local[1]*local[2])
	for lz := uint64(0); lz < local[2]; lz++ {
		for ly := uint64(0); ly < local[1]; ly++ {
			for lx := uint64(0); lx < local[0]; lx++ {
				items = append(items, newWorkItem(k, wg, [3]uint64{lx, ly, lz}, localAddrs))
			}
		}
	}
	return items, nil
}

// fatalHere builds a device.FatalError pointing at the caller.
func fatalHere(format string, args ...any) *device.FatalError {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file, line = "interp", 0
	}
	return device.Fatalf(file, line, format, args...)
}
