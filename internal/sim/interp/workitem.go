package interp

import (
	"encoding/binary"
	"io"

	"github.com/kolkov/oclsim/internal/sim/device"
	"github.com/kolkov/oclsim/internal/sim/ir"
	"github.com/kolkov/oclsim/internal/sim/mem"
)

// frame is one call-stack entry with its own register file.
type frame struct {
	fn       *ir.Function
	pc       int
	regs     map[string]uint64
	vars     map[string]ir.Value
	callSite *ir.Instruction
}

// WorkItem executes one instance of the kernel function. It implements
// the device.WorkItem contract.
type WorkItem struct {
	kernel  *Kernel
	wg      *device.WorkGroup
	gid     [3]uint64
	lid     [3]uint64
	private *mem.Memory

	frames []*frame
	state  device.State

	barrierInst  *ir.Instruction
	barrierFlags uint64

	lastInst *ir.Instruction
}

func newWorkItem(k *Kernel, wg *device.WorkGroup, lid [3]uint64, localAddrs map[string]uint64) *WorkItem {
	dev := wg.Device()
	group := wg.GroupID()
	local := dev.LocalSize()
	offset := dev.GlobalOffset()

	wi := &WorkItem{
		kernel: k,
		wg:     wg,
		lid:    lid,
		gid: [3]uint64{
			group[0]*local[0] + lid[0] + offset[0],
			group[1]*local[1] + lid[1] + offset[1],
			group[2]*local[2] + lid[2] + offset[2],
		},
		private: mem.New(ir.AddrSpacePrivate, dev),
		state:   device.Ready,
	}

	entry := &frame{
		fn:   k.fn,
		regs: make(map[string]uint64, len(k.fn.Params)),
		vars: make(map[string]ir.Value, len(k.fn.Params)),
	}
	for _, p := range k.fn.Params {
		if v, ok := k.args[p.Name]; ok {
			entry.regs[p.Name] = v
		} else if addr, ok := localAddrs[p.Name]; ok {
			entry.regs[p.Name] = addr
		}
		entry.vars[p.Name] = p
	}
	// Local buffers that are not parameters are still visible by name.
	for name, addr := range localAddrs {
		if _, ok := entry.vars[name]; ok {
			continue
		}
		entry.regs[name] = addr
		entry.vars[name] = ir.Value{Name: name, Type: ir.Type{
			Kind:  ir.KindPointer,
			Space: ir.AddrSpaceLocal,
			Elem:  &ir.Type{Kind: ir.KindUInt, Bits: 8},
		}}
	}
	wi.frames = []*frame{entry}
	return wi
}

// GlobalID implements device.WorkItem.
func (wi *WorkItem) GlobalID() [3]uint64 { return wi.gid }

// LocalID implements device.WorkItem.
func (wi *WorkItem) LocalID() [3]uint64 { return wi.lid }

// State implements device.WorkItem.
func (wi *WorkItem) State() device.State { return wi.state }

// PrivateMemory implements device.WorkItem.
func (wi *WorkItem) PrivateMemory() *mem.Memory { return wi.private }

// BarrierFingerprint implements device.WorkItem.
func (wi *WorkItem) BarrierFingerprint() (*ir.Instruction, uint64) {
	return wi.barrierInst, wi.barrierFlags
}

// ClearBarrier implements device.WorkItem: the work-group releases the
// barrier and execution resumes after the barrier instruction.
func (wi *WorkItem) ClearBarrier() {
	if wi.state != device.AtBarrier {
		return
	}
	wi.state = device.Ready
	wi.top().pc++
}

// CurrentInstruction implements device.WorkItem.
func (wi *WorkItem) CurrentInstruction() *ir.Instruction {
	if wi.state == device.Finished {
		return wi.lastInst
	}
	f := wi.top()
	if f == nil || f.pc >= len(f.fn.Instrs) {
		return wi.lastInst
	}
	return f.fn.Instrs[f.pc]
}

// CallStack implements device.WorkItem: caller frames outermost first.
func (wi *WorkItem) CallStack() []ir.Frame {
	if len(wi.frames) <= 1 {
		return nil
	}
	stack := make([]ir.Frame, 0, len(wi.frames)-1)
	for i := 0; i < len(wi.frames)-1; i++ {
		stack = append(stack, ir.Frame{
			Function: wi.frames[i].fn,
			CallSite: wi.frames[i+1].callSite,
		})
	}
	return stack
}

func (wi *WorkItem) top() *frame {
	if len(wi.frames) == 0 {
		return nil
	}
	return wi.frames[len(wi.frames)-1]
}

func (wi *WorkItem) memoryFor(space ir.AddressSpace) *mem.Memory {
	switch space {
	case ir.AddrSpacePrivate:
		return wi.private
	case ir.AddrSpaceLocal:
		return wi.wg.LocalMemory()
	default:
		return wi.wg.Device().GlobalMemory()
	}
}

func (f *frame) value(o ir.Operand) uint64 {
	if o.IsImm {
		return o.Imm
	}
	return f.regs[o.Reg]
}

// Step implements device.WorkItem: it executes one instruction and
// returns the resulting state.
func (wi *WorkItem) Step() device.State {
	if wi.state != device.Ready {
		return wi.state
	}

	f := wi.top()
	if f.pc >= len(f.fn.Instrs) {
		// Fell off the end of the function body.
		wi.returnFrom(f, 0, false)
		return wi.state
	}

	inst := f.fn.Instrs[f.pc]
	wi.lastInst = inst
	ir.Count(inst)

	advance := true
	switch inst.Op {
	case ir.OpNop:

	case ir.OpMov:
		wi.setReg(f, inst, f.value(inst.Srcs[0]))

	case ir.OpAdd:
		wi.setReg(f, inst, f.value(inst.Srcs[0])+f.value(inst.Srcs[1]))
	case ir.OpSub:
		wi.setReg(f, inst, f.value(inst.Srcs[0])-f.value(inst.Srcs[1]))
	case ir.OpMul:
		wi.setReg(f, inst, f.value(inst.Srcs[0])*f.value(inst.Srcs[1]))
	case ir.OpUDiv:
		b := f.value(inst.Srcs[1])
		if b == 0 {
			wi.wg.Device().NotifyError("Invalid kernel operation", "division by zero")
			wi.setReg(f, inst, 0)
		} else {
			wi.setReg(f, inst, f.value(inst.Srcs[0])/b)
		}
	case ir.OpURem:
		b := f.value(inst.Srcs[1])
		if b == 0 {
			wi.wg.Device().NotifyError("Invalid kernel operation", "remainder by zero")
			wi.setReg(f, inst, 0)
		} else {
			wi.setReg(f, inst, f.value(inst.Srcs[0])%b)
		}
	case ir.OpAnd:
		wi.setReg(f, inst, f.value(inst.Srcs[0])&f.value(inst.Srcs[1]))
	case ir.OpOr:
		wi.setReg(f, inst, f.value(inst.Srcs[0])|f.value(inst.Srcs[1]))
	case ir.OpXor:
		wi.setReg(f, inst, f.value(inst.Srcs[0])^f.value(inst.Srcs[1]))
	case ir.OpShl:
		wi.setReg(f, inst, f.value(inst.Srcs[0])<<(f.value(inst.Srcs[1])&63))
	case ir.OpShr:
		wi.setReg(f, inst, f.value(inst.Srcs[0])>>(f.value(inst.Srcs[1])&63))

	case ir.OpCmp:
		a, b := f.value(inst.Srcs[0]), f.value(inst.Srcs[1])
		var r bool
		switch inst.Pred {
		case ir.PredEQ:
			r = a == b
		case ir.PredNE:
			r = a != b
		case ir.PredLT:
			r = a < b
		case ir.PredLE:
			r = a <= b
		case ir.PredGT:
			r = a > b
		case ir.PredGE:
			r = a >= b
		}
		v := uint64(0)
		if r {
			v = 1
		}
		wi.setReg(f, inst, v)

	case ir.OpGlobalID:
		wi.setReg(f, inst, indexDim(wi.gid, f.value(inst.Srcs[0])))
	case ir.OpLocalID:
		wi.setReg(f, inst, indexDim(wi.lid, f.value(inst.Srcs[0])))
	case ir.OpGroupID:
		wi.setReg(f, inst, indexDim(wi.wg.GroupID(), f.value(inst.Srcs[0])))
	case ir.OpGlobalSize:
		wi.setReg(f, inst, indexDim(wi.wg.Device().GlobalSize(), f.value(inst.Srcs[0])))
	case ir.OpLocalSize:
		wi.setReg(f, inst, indexDim(wi.wg.Device().LocalSize(), f.value(inst.Srcs[0])))

	case ir.OpAlloca:
		addr, err := wi.private.Allocate(inst.Size)
		if err != nil {
			wi.wg.Device().NotifyError("Invalid kernel operation", err.Error())
			break
		}
		f.regs[inst.Dest] = addr
		v := ir.Value{Name: inst.Dest, Alloca: true}
		if inst.ValType != nil {
			v.Type = *inst.ValType
		} else {
			v.Type = ir.Type{
				Kind:  ir.KindPointer,
				Space: ir.AddrSpacePrivate,
				Elem:  &ir.Type{Kind: ir.KindUInt, Bits: 8},
			}
		}
		f.vars[inst.Dest] = v

	case ir.OpLoad:
		address := f.value(inst.Srcs[0])
		buf := make([]byte, inst.Size)
		if wi.memoryFor(inst.Space).Load(buf, address) {
			wi.setRegTyped(f, inst, decodeScalar(buf), ir.Type{Kind: ir.KindUInt, Bits: int(inst.Size) * 8})
		}

	case ir.OpStore:
		address := f.value(inst.Srcs[0])
		buf := make([]byte, inst.Size)
		encodeScalar(buf, f.value(inst.Srcs[1]))
		wi.memoryFor(inst.Space).Store(buf, address)

	case ir.OpJmp:
		f.pc = inst.Targets[0]
		advance = false

	case ir.OpBr:
		if f.value(inst.Srcs[0]) != 0 {
			f.pc = inst.Targets[0]
		} else {
			f.pc = inst.Targets[1]
		}
		advance = false

	case ir.OpCall:
		callee, ok := wi.kernel.program.Function(inst.Callee)
		if !ok {
			wi.wg.Device().NotifyError("Invalid kernel operation", "call to undefined function "+inst.Callee)
			break
		}
		next := &frame{
			fn:       callee,
			regs:     make(map[string]uint64, len(callee.Params)),
			vars:     make(map[string]ir.Value, len(callee.Params)),
			callSite: inst,
		}
		for i, p := range callee.Params {
			if i < len(inst.Srcs) {
				next.regs[p.Name] = f.value(inst.Srcs[i])
			}
			next.vars[p.Name] = p
		}
		wi.frames = append(wi.frames, next)
		advance = false

	case ir.OpRet:
		var result uint64
		if len(inst.Srcs) > 0 {
			result = f.value(inst.Srcs[0])
		}
		wi.returnFrom(f, result, len(inst.Srcs) > 0)
		advance = false

	case ir.OpBarrier:
		wi.barrierInst = inst
		wi.barrierFlags = inst.Flags
		wi.state = device.AtBarrier
		wi.wg.NotifyBarrier(wi)
		advance = false
	}

	if advance && wi.state == device.Ready {
		f.pc++
	}
	return wi.state
}

// returnFrom pops the current frame, delivering the result to the
// caller; popping the entry frame finishes the work-item.
func (wi *WorkItem) returnFrom(f *frame, result uint64, hasResult bool) {
	wi.frames = wi.frames[:len(wi.frames)-1]
	if len(wi.frames) == 0 {
		wi.state = device.Finished
		wi.wg.NotifyFinished(wi)
		return
	}
	caller := wi.top()
	if f.callSite != nil {
		if hasResult && f.callSite.Dest != "" {
			caller.regs[f.callSite.Dest] = result
		}
		caller.pc = f.callSite.Index + 1
	}
}

// setReg assigns an untyped 64-bit result register.
func (wi *WorkItem) setReg(f *frame, inst *ir.Instruction, v uint64) {
	wi.setRegTyped(f, inst, v, ir.Type{Kind: ir.KindUInt, Bits: 64})
}

func (wi *WorkItem) setRegTyped(f *frame, inst *ir.Instruction, v uint64, t ir.Type) {
	if inst.Dest == "" {
		return
	}
	f.regs[inst.Dest] = v
	if _, declared := f.vars[inst.Dest]; !declared {
		f.vars[inst.Dest] = ir.Value{Name: inst.Dest, Type: t}
	}
}

// Variable implements device.WorkItem: names resolve innermost frame
// first, then outward through the callers.
func (wi *WorkItem) Variable(name string) (ir.Value, bool) {
	for i := len(wi.frames) - 1; i >= 0; i-- {
		if v, ok := wi.frames[i].vars[name]; ok {
			return v, true
		}
	}
	return ir.Value{}, false
}

// ValueData implements device.WorkItem: the raw little-endian register
// bytes backing a value.
func (wi *WorkItem) ValueData(v ir.Value) ([]byte, bool) {
	for i := len(wi.frames) - 1; i >= 0; i-- {
		if raw, ok := wi.frames[i].regs[v.Name]; ok {
			data := make([]byte, 8)
			binary.LittleEndian.PutUint64(data, raw)
			return data, true
		}
	}
	return nil, false
}

// PrintValue implements device.WorkItem.
func (wi *WorkItem) PrintValue(w io.Writer, v ir.Value) {
	data, ok := wi.ValueData(v)
	if !ok {
		io.WriteString(w, "(undefined)")
		return
	}
	size := v.Type.Size()
	if size == 0 || size > 8 {
		size = 8
	}
	ir.PrintTypedData(w, v.Type, data[:size])
}

// PrintVariable implements device.WorkItem.
func (wi *WorkItem) PrintVariable(w io.Writer, name string) bool {
	v, ok := wi.Variable(name)
	if !ok {
		return false
	}
	wi.PrintValue(w, v)
	return true
}

func indexDim(v [3]uint64, dim uint64) uint64 {
	if dim > 2 {
		return 0
	}
	return v[dim]
}

func decodeScalar(buf []byte) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	default:
		return binary.LittleEndian.Uint64(buf)
	}
}

func encodeScalar(buf []byte, v uint64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	default:
		binary.LittleEndian.PutUint64(buf, v)
	}
}
