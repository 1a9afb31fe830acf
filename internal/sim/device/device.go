package device

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kolkov/oclsim/internal/sim/ir"
	"github.com/kolkov/oclsim/internal/sim/mem"
)

// Environment variables forming the fixed external contract.
const (
	// EnvInteractive enters the debugger prompt on launch when "1".
	EnvInteractive = "OCLGRIND_INTERACTIVE"
	// EnvInstCounts emits an instruction histogram after launch when "1".
	EnvInstCounts = "OCLGRIND_INST_COUNTS"
	// EnvQuick enumerates only the first and last work-groups when "1".
	EnvQuick = "OCLGRIND_QUICK"
)

// Device orchestrates one kernel launch at a time: it enumerates the
// NDRange into work-groups, rotates them through a running pool,
// receives diagnostics from memories and work-groups, and runs the
// interactive debugger loop.
type Device struct {
	workDim      int
	globalOffset [3]uint64
	globalSize   [3]uint64
	localSize    [3]uint64
	numGroups    [3]uint64

	globalMem *mem.Memory
	kernel    Kernel
	program   Program

	pendingGroups [][3]uint64
	runningGroups []*WorkGroup
	currentGroup  *WorkGroup
	currentItem   WorkItem

	// breakpoints maps program identity to breakpoint id to source
	// line. The map outlives individual launches.
	breakpoints    map[Program]map[int]int
	nextBreakpoint int

	sourceLines   []string
	listPosition  int
	lastBreakLine int

	interactive    bool
	showInstCounts bool
	quickMode      bool

	running    bool
	forceBreak bool
	fatal      bool

	in      io.Reader
	out     io.Writer
	errw    io.Writer
	scanner *bufio.Scanner

	commands map[string]func(args []string)

	groupsCreated  int
	groupsReleased int
}

// New creates a Device, reading the OCLGRIND_* environment variables
// that form the external configuration contract.
func New() *Device {
	d := &Device{
		breakpoints:    make(map[Program]map[int]int),
		nextBreakpoint: 1,
		in:             os.Stdin,
		out:            os.Stdout,
		errw:           os.Stderr,
	}
	d.globalMem = mem.New(ir.AddrSpaceGlobal, d)
	d.interactive = os.Getenv(EnvInteractive) == "1"
	d.showInstCounts = os.Getenv(EnvInstCounts) == "1"
	d.quickMode = os.Getenv(EnvQuick) == "1"
	d.setupCommands()
	return d
}

// SetIO redirects the debugger input and the two output streams. The
// out writer carries debugger output, errw carries diagnostics.
func (d *Device) SetIO(in io.Reader, out, errw io.Writer) {
	d.in, d.out, d.errw = in, out, errw
}

// SetInteractive overrides the OCLGRIND_INTERACTIVE setting.
func (d *Device) SetInteractive(v bool) { d.interactive = v }

// SetQuickMode overrides the OCLGRIND_QUICK setting.
func (d *Device) SetQuickMode(v bool) { d.quickMode = v }

// SetShowInstCounts overrides the OCLGRIND_INST_COUNTS setting.
func (d *Device) SetShowInstCounts(v bool) { d.showInstCounts = v }

// IsInteractive reports whether the debugger prompt is enabled.
func (d *Device) IsInteractive() bool { return d.interactive }

// GlobalMemory returns the device's global memory.
func (d *Device) GlobalMemory() *mem.Memory { return d.globalMem }

// WorkDim returns the work dimensionality of the current launch.
func (d *Device) WorkDim() int { return d.workDim }

// GlobalSize returns the padded 3-D global size.
func (d *Device) GlobalSize() [3]uint64 { return d.globalSize }

// GlobalOffset returns the padded 3-D global offset.
func (d *Device) GlobalOffset() [3]uint64 { return d.globalOffset }

// LocalSize returns the padded 3-D work-group size.
func (d *Device) LocalSize() [3]uint64 { return d.localSize }

// NumGroups returns the number of work-groups per dimension.
func (d *Device) NumGroups() [3]uint64 { return d.numGroups }

// CurrentWorkItem returns the work-item the scheduler has selected.
func (d *Device) CurrentWorkItem() WorkItem { return d.currentItem }

// CurrentWorkGroup returns the work-group the scheduler has selected.
func (d *Device) CurrentWorkGroup() *WorkGroup { return d.currentGroup }

// GroupsCreated returns how many work-groups were instantiated during
// the last launch.
func (d *Device) GroupsCreated() int { return d.groupsCreated }

// ForceBreak reports whether a notification has requested a break
// since the continue loop last cleared the latch.
func (d *Device) ForceBreak() bool { return d.forceBreak }

// RunningGroups returns the number of work-groups parked in the
// running pool.
func (d *Device) RunningGroups() int { return len(d.runningGroups) }

// Run executes one kernel launch. globalOffset, globalSize, and
// localSize carry workDim entries; missing dimensions default to size 1
// and offset 0. Run returns when the launch completes, is quit from the
// debugger, or aborts on a fatal error; on every path all running
// work-groups are released, kernel constants are removed, and global
// memory is synchronized.
func (d *Device) Run(kernel Kernel, workDim int, globalOffset, globalSize, localSize []uint64) {
	if len(d.runningGroups) != 0 {
		panic("device: running pool not empty at launch")
	}

	d.workDim = workDim
	d.globalSize = [3]uint64{1, 1, 1}
	d.globalOffset = [3]uint64{}
	d.localSize = [3]uint64{1, 1, 1}
	for i := 0; i < workDim && i < 3; i++ {
		if i < len(globalSize) {
			d.globalSize[i] = globalSize[i]
		}
		if i < len(globalOffset) && globalOffset[i] != 0 {
			d.globalOffset[i] = globalOffset[i]
		}
		if i < len(localSize) && localSize[i] != 0 {
			d.localSize[i] = localSize[i]
		}
	}

	if err := kernel.AllocateConstants(d.globalMem); err != nil {
		var fe *FatalError
		if errors.As(err, &fe) {
			fmt.Fprintf(d.errw, "\nOCLGRIND FATAL ERROR (%s:%d)\n%s\n", fe.File, fe.Line, fe.Msg)
		} else {
			fmt.Fprintf(d.errw, "\nOCLGRIND FATAL ERROR\n%s\n", err)
		}
		fmt.Fprintf(d.errw, "When allocating kernel constants for '%s'\n", kernel.Name())

		// Same cleanup tail as every other exit path: remove whatever
		// constants were installed before the failure and leave global
		// memory synchronized.
		kernel.DeallocateConstants(d.globalMem)
		d.globalMem.Synchronize()
		return
	}

	// Create the pool of pending work-groups.
	d.numGroups[0] = d.globalSize[0] / d.localSize[0]
	d.numGroups[1] = d.globalSize[1] / d.localSize[1]
	d.numGroups[2] = d.globalSize[2] / d.localSize[2]
	d.pendingGroups = d.pendingGroups[:0]
	if d.numGroups[0] == 0 || d.numGroups[1] == 0 || d.numGroups[2] == 0 {
		// Degenerate geometry: nothing to enumerate.
	} else if d.quickMode {
		// Only run the first and last work-groups in quick mode.
		first := [3]uint64{0, 0, 0}
		last := [3]uint64{d.numGroups[0] - 1, d.numGroups[1] - 1, d.numGroups[2] - 1}
		d.pendingGroups = append(d.pendingGroups, first)
		if last != first {
			d.pendingGroups = append(d.pendingGroups, last)
		}
	} else {
		for k := uint64(0); k < d.numGroups[2]; k++ {
			for j := uint64(0); j < d.numGroups[1]; j++ {
				for i := uint64(0); i < d.numGroups[0]; i++ {
					d.pendingGroups = append(d.pendingGroups, [3]uint64{i, j, k})
				}
			}
		}
	}

	// Prepare the kernel invocation.
	ir.ClearInstructionCounts()
	d.kernel = kernel
	d.program = kernel.Program()
	d.listPosition = 0
	d.currentGroup = nil
	d.currentItem = nil
	d.fatal = false
	d.groupsCreated = 0
	d.groupsReleased = 0
	d.globalMem.Synchronize()
	d.NextWorkItem()

	if d.interactive && !d.fatal {
		d.running = true

		// Split the source into lines for the list command and
		// breakpoints.
		d.sourceLines = nil
		if source := d.program.Source(); source != "" {
			d.sourceLines = strings.Split(strings.TrimSuffix(source, "\n"), "\n")
		}

		fmt.Fprintln(d.out)
		d.infoCmd(nil)

		d.scanner = bufio.NewScanner(d.in)
		for d.running {
			fmt.Fprint(d.out, "(oclgrind) ")
			if !d.scanner.Scan() {
				fmt.Fprintln(d.out, "(quit)")
				d.quitCmd(nil)
				break
			}
			tokens := strings.Fields(d.scanner.Text())
			if len(tokens) == 0 {
				continue
			}
			if cmd, ok := d.commands[tokens[0]]; ok {
				cmd(tokens)
			} else {
				fmt.Fprintf(d.out, "Unrecognized command '%s'\n", tokens[0])
			}
		}
	} else if !d.fatal {
		d.contCmd(nil)
		d.running = false
	}

	// Destroy any remaining work-groups.
	for _, wg := range d.runningGroups {
		wg.release()
	}
	d.runningGroups = d.runningGroups[:0]
	if d.currentGroup != nil {
		d.currentGroup.release()
		d.currentGroup = nil
	}
	d.currentItem = nil

	kernel.DeallocateConstants(d.globalMem)
	d.kernel = nil

	d.globalMem.Synchronize()

	if d.showInstCounts {
		d.printInstructionCounts(kernel.Name())
	}
}

// NextWorkItem rotates the current work-item selection: the next ready
// work-item of the current group, a barrier release, the next running
// group, or a freshly instantiated pending group. It returns false when
// the launch is complete.
func (d *Device) NextWorkItem() bool {
	d.currentItem = nil
	if d.currentGroup != nil {
		// Switch to the next ready work-item.
		d.currentItem = d.currentGroup.GetNextWorkItem()
		if d.currentItem != nil {
			return true
		}

		// No work-items ready; release a collective barrier if one
		// is pending.
		if d.currentGroup.HasBarrier() {
			d.currentGroup.ClearBarrier()
			d.currentItem = d.currentGroup.GetNextWorkItem()
			return true
		}

		// Group exhausted.
		d.currentGroup.release()
		d.currentGroup = nil
	}

	// Switch to the next work-group.
	if len(d.runningGroups) > 0 {
		d.currentGroup = d.runningGroups[0]
		d.runningGroups = d.runningGroups[1:]
	} else if len(d.pendingGroups) > 0 {
		coords := d.pendingGroups[0]
		d.pendingGroups = d.pendingGroups[1:]
		wg, err := newWorkGroup(d, d.kernel, coords)
		if err != nil {
			d.reportFatal(err)
			return false
		}
		d.currentGroup = wg
	} else {
		return false
	}

	d.currentItem = d.currentGroup.GetNextWorkItem()

	// The group may have already finished (or diverged) before being
	// parked; skip it.
	if d.currentItem == nil {
		return d.NextWorkItem()
	}
	return true
}

// reportFatal prints a fatal-error diagnostic with context and stops
// the launch.
func (d *Device) reportFatal(err error) {
	var fe *FatalError
	if errors.As(err, &fe) {
		fmt.Fprintf(d.errw, "\nOCLGRIND FATAL ERROR (%s:%d)\n%s\n", fe.File, fe.Line, fe.Msg)
	} else {
		fmt.Fprintf(d.errw, "\nOCLGRIND FATAL ERROR\n%s\n", err)
	}
	d.printErrorContext()
	fmt.Fprintln(d.errw)
	d.fatal = true
	d.running = false
}

// CurrentAccessor implements mem.Monitor: it identifies the work-item
// and work-group performing the access happening now.
func (d *Device) CurrentAccessor() mem.Accessor {
	acc := mem.Accessor{WorkItem: -1, WorkGroup: -1}
	if d.currentItem != nil {
		acc.WorkItem = d.linearWorkItemID(d.currentItem.GlobalID())
		acc.Instruction = d.currentItem.CurrentInstruction()
	}
	if d.currentGroup != nil {
		acc.WorkGroup = d.linearWorkGroupID(d.currentGroup.GroupID())
	}
	return acc
}

// linearWorkItemID maps a global id to a scalar using row-major strides
// 1, S0, S0*S1 over the global size, after removing the global offset.
func (d *Device) linearWorkItemID(gid [3]uint64) int64 {
	g := [3]uint64{
		gid[0] - d.globalOffset[0],
		gid[1] - d.globalOffset[1],
		gid[2] - d.globalOffset[2],
	}
	return int64(g[0] + g[1]*d.globalSize[0] + g[2]*d.globalSize[0]*d.globalSize[1])
}

// decodeWorkItemID inverts linearWorkItemID.
func (d *Device) decodeWorkItemID(id int64) [3]uint64 {
	u := uint64(id)
	return [3]uint64{
		u%d.globalSize[0] + d.globalOffset[0],
		(u/d.globalSize[0])%d.globalSize[1] + d.globalOffset[1],
		u/(d.globalSize[0]*d.globalSize[1]) + d.globalOffset[2],
	}
}

// linearWorkGroupID maps a group id to a scalar using row-major strides
// over the group counts.
func (d *Device) linearWorkGroupID(group [3]uint64) int64 {
	return int64(group[0] + group[1]*d.numGroups[0] + group[2]*d.numGroups[0]*d.numGroups[1])
}

// decodeWorkGroupID inverts linearWorkGroupID.
func (d *Device) decodeWorkGroupID(id int64) [3]uint64 {
	u := uint64(id)
	return [3]uint64{
		u % d.numGroups[0],
		(u / d.numGroups[0]) % d.numGroups[1],
		u / (d.numGroups[0] * d.numGroups[1]),
	}
}

// MemoryError implements mem.Monitor. It renders an invalid-access
// diagnostic and sets the force-break latch.
func (d *Device) MemoryError(read bool, space ir.AddressSpace, address, size uint64) {
	access := "write"
	if read {
		access = "read"
	}
	fmt.Fprintf(d.errw, "\nInvalid %s of size %d at %s memory address %x\n",
		access, size, space, address)
	d.printErrorContext()
	fmt.Fprintln(d.errw)
	d.forceBreak = true
}

// DataRace implements mem.Monitor. It renders a data-race diagnostic
// naming the other entity involved and sets the force-break latch.
func (d *Device) DataRace(kind mem.RaceKind, space ir.AddressSpace, address uint64,
	lastWorkItem, lastWorkGroup int64, lastInstruction *ir.Instruction) {

	kindName := "Read-write"
	if kind == mem.WriteWriteRace {
		kindName = "Write-write"
	}
	fmt.Fprintf(d.errw, "\n%s data race at %s memory address %x\n", kindName, space, address)
	d.printErrorContext()
	fmt.Fprintln(d.errw)

	switch {
	case lastWorkItem >= 0:
		gid := d.decodeWorkItemID(lastWorkItem)
		fmt.Fprintf(d.errw, "\tRace occurred with work-item (%d,%d,%d)\n", gid[0], gid[1], gid[2])
	case lastWorkGroup >= 0:
		group := d.decodeWorkGroupID(lastWorkGroup)
		fmt.Fprintf(d.errw, "\tRace occurred with work-group (%d,%d,%d)\n", group[0], group[1], group[2])
	default:
		fmt.Fprintln(d.errw, "\tRace occurred with unknown entity")
	}

	if lastInstruction != nil {
		fmt.Fprint(d.errw, "\t")
		d.printInstruction(d.errw, lastInstruction)
	}
	fmt.Fprintln(d.errw)
	d.forceBreak = true
}

// NotifyDivergence renders a work-group divergence diagnostic. The
// instruction is the reference barrier previously reached; currentInfo
// and previousInfo describe the divergent and reference work-items.
func (d *Device) NotifyDivergence(instruction *ir.Instruction, divergence, currentInfo, previousInfo string) {
	fmt.Fprintf(d.errw, "\nWork-group divergence detected (%s):\n", divergence)
	d.printErrorContext()
	if currentInfo != "" {
		fmt.Fprintf(d.errw, "\t%s\n", currentInfo)
	}
	fmt.Fprintln(d.errw)

	fmt.Fprintln(d.errw, "Previous work-items executed this instruction:")
	fmt.Fprint(d.errw, "\t")
	if instruction != nil {
		d.printInstruction(d.errw, instruction)
	} else {
		fmt.Fprintln(d.errw, "(no barrier executed)")
	}
	if previousInfo != "" {
		fmt.Fprintf(d.errw, "\t%s\n", previousInfo)
	}
	fmt.Fprintln(d.errw)
	d.forceBreak = true
}

// NotifyError renders a generic kernel error with optional detail.
func (d *Device) NotifyError(errMsg, info string) {
	fmt.Fprintf(d.errw, "\n%s:\n", errMsg)
	d.printErrorContext()
	if info != "" {
		fmt.Fprintf(d.errw, "\t%s\n", info)
	}
	fmt.Fprintln(d.errw)
	d.forceBreak = true
}

// printErrorContext writes the standard tab-indented context block:
// current work-item, work-group, kernel, and instruction.
func (d *Device) printErrorContext() {
	if d.currentItem != nil {
		gid := d.currentItem.GlobalID()
		lid := d.currentItem.LocalID()
		fmt.Fprintf(d.errw, "\tWork-item:  Global(%d,%d,%d) Local(%d,%d,%d)\n",
			gid[0], gid[1], gid[2], lid[0], lid[1], lid[2])
	}
	if d.currentGroup != nil {
		group := d.currentGroup.GroupID()
		fmt.Fprintf(d.errw, "\tWork-group: (%d,%d,%d)\n", group[0], group[1], group[2])
	}
	if d.kernel != nil {
		fmt.Fprintf(d.errw, "\tKernel:     %s\n", d.kernel.Name())
	}
	if d.currentItem != nil {
		fmt.Fprint(d.errw, "\t")
		d.printInstruction(d.errw, d.currentItem.CurrentInstruction())
	}
}

// printInstruction dumps an instruction followed by its debug location,
// or a placeholder when the metadata is missing.
func (d *Device) printInstruction(w io.Writer, instruction *ir.Instruction) {
	fmt.Fprintln(w, instruction)
	if instruction.Line == 0 {
		fmt.Fprintln(w, "\tDebugging information not available.")
	} else {
		fmt.Fprintf(w, "\tAt line %d of %s\n", instruction.Line, instruction.File)
	}
}

// currentLineNumber returns the source line of the current work-item's
// instruction, or 0 when unavailable.
func (d *Device) currentLineNumber() int {
	if d.currentItem == nil || d.currentItem.State() == Finished {
		return 0
	}
	inst := d.currentItem.CurrentInstruction()
	if inst == nil {
		return 0
	}
	return inst.Line
}
