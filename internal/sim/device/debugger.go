package device

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kolkov/oclsim/internal/sim/ir"
	"github.com/kolkov/oclsim/internal/sim/mem"
)

// listLength is the number of source lines shown by the list command.
const listLength = 10

func (d *Device) setupCommands() {
	d.commands = make(map[string]func(args []string))
	add := func(name, short string, fn func(args []string)) {
		d.commands[name] = fn
		d.commands[short] = fn
	}
	add("backtrace", "bt", d.backtraceCmd)
	add("break", "b", d.breakCmd)
	add("continue", "c", d.contCmd)
	add("delete", "d", d.deleteCmd)
	add("gmem", "gm", d.memCmd)
	add("help", "h", d.helpCmd)
	add("info", "i", d.infoCmd)
	add("list", "l", d.listCmd)
	add("lmem", "lm", d.memCmd)
	add("next", "n", d.nextCmd)
	add("pmem", "pm", d.memCmd)
	add("print", "p", d.printCmd)
	add("quit", "q", d.quitCmd)
	add("step", "s", d.stepCmd)
	add("workitem", "wi", d.workitemCmd)
}

// backtraceCmd prints the current function frame and each caller frame
// in decreasing depth.
func (d *Device) backtraceCmd(args []string) {
	if d.currentItem == nil || d.currentItem.State() == Finished {
		return
	}

	callStack := d.currentItem.CallStack()

	// Current instruction frame first.
	fmt.Fprintf(d.out, "#%d ", len(callStack))
	d.printFunction(d.currentItem.CurrentInstruction())

	// Then callers, innermost first.
	for i := len(callStack) - 1; i >= 0; i-- {
		fmt.Fprintf(d.out, "#%d ", i)
		d.printFunction(callStack[i].CallSite)
	}
}

// breakCmd adds a breakpoint at the given line, or the current one.
func (d *Device) breakCmd(args []string) {
	if len(d.sourceLines) == 0 {
		fmt.Fprintln(d.out, "Breakpoints only valid when source is available.")
		return
	}

	lineNum := d.currentLineNumber()
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 || n > len(d.sourceLines) {
			fmt.Fprintln(d.out, "Invalid line number.")
			return
		}
		lineNum = n
	}

	if lineNum == 0 {
		fmt.Fprintln(d.out, "Not currently on a line.")
		return
	}

	bps := d.breakpoints[d.program]
	if bps == nil {
		bps = make(map[int]int)
		d.breakpoints[d.program] = bps
	}
	bps[d.nextBreakpoint] = lineNum
	d.nextBreakpoint++
}

// contCmd resumes execution until the next breakpoint, forced break, or
// the end of the launch.
func (d *Device) contCmd(args []string) {
	canBreak := false
	d.forceBreak = false
	d.running = true
	for d.currentItem != nil && d.running {
		// Run the current work-item as far as possible.
		for d.currentItem.State() == Ready && d.running {
			d.currentItem.Step()

			if !d.interactive {
				continue
			}

			if d.forceBreak {
				d.listPosition = 0
				d.forceBreak = false
				return
			}

			if len(d.breakpoints[d.program]) > 0 {
				line := d.currentLineNumber()
				if !canBreak {
					// Re-arm only once the previous breakpoint
					// line has been left.
					if line == d.lastBreakLine {
						continue
					}
					canBreak = true
				}

				for _, bp := range d.sortedBreakpoints() {
					if bp.line == line {
						gid := d.currentItem.GlobalID()
						fmt.Fprintf(d.out, "Breakpoint %d hit at line %d by work-item (%d,%d,%d)\n",
							bp.id, bp.line, gid[0], gid[1], gid[2])
						d.printCurrentLine()
						d.lastBreakLine = line
						d.listPosition = 0
						return
					}
				}
			}
		}

		d.NextWorkItem()
	}
	d.running = false
}

type breakpoint struct {
	id   int
	line int
}

// sortedBreakpoints returns the current program's breakpoints in id
// order.
func (d *Device) sortedBreakpoints() []breakpoint {
	bps := make([]breakpoint, 0, len(d.breakpoints[d.program]))
	for id, line := range d.breakpoints[d.program] {
		bps = append(bps, breakpoint{id: id, line: line})
	}
	sort.Slice(bps, func(i, j int) bool { return bps[i].id < bps[j].id })
	return bps
}

// deleteCmd removes one breakpoint, or all after confirmation.
func (d *Device) deleteCmd(args []string) {
	if len(args) > 1 {
		id, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintln(d.out, "Invalid breakpoint number.")
			return
		}
		if _, ok := d.breakpoints[d.program][id]; !ok {
			fmt.Fprintln(d.out, "Breakpoint not found.")
			return
		}
		delete(d.breakpoints[d.program], id)
		return
	}

	fmt.Fprint(d.out, "Delete all breakpoints? (y/n) ")
	confirm := ""
	if d.scanner != nil && d.scanner.Scan() {
		confirm = strings.TrimSpace(d.scanner.Text())
	}
	if confirm == "y" {
		d.breakpoints = make(map[Program]map[int]int)
	}
}

// memCmd inspects global, local, or private memory depending on the
// command used to invoke it.
func (d *Device) memCmd(args []string) {
	var memory *mem.Memory
	switch args[0][0] {
	case 'g':
		memory = d.globalMem
	case 'l':
		if d.currentGroup == nil {
			fmt.Fprintln(d.out, "No current work-group.")
			return
		}
		memory = d.currentGroup.LocalMemory()
	case 'p':
		if d.currentItem == nil {
			fmt.Fprintln(d.out, "No current work-item.")
			return
		}
		memory = d.currentItem.PrivateMemory()
	}

	// With no arguments, dump the entire memory.
	if len(args) == 1 {
		memory.Dump(d.out)
		return
	}
	if len(args) > 3 {
		fmt.Fprintln(d.out, "Invalid number of arguments.")
		return
	}

	address, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 64)
	if err != nil || address%4 != 0 {
		fmt.Fprintln(d.out, "Invalid address.")
		return
	}

	size := uint64(8)
	if len(args) == 3 {
		size, err = strconv.ParseUint(args[2], 10, 64)
		if err != nil || size == 0 {
			fmt.Fprintln(d.out, "Invalid size")
			return
		}
	}

	if !memory.IsAddressValid(address, size) {
		fmt.Fprintln(d.out, "Invalid memory address.")
		return
	}

	data := make([]byte, size)
	memory.Inspect(data, address)
	mem.Hexdump(d.out, address, data)
	fmt.Fprintln(d.out)
}

// helpCmd prints the command table, or one command's usage.
func (d *Device) helpCmd(args []string) {
	if len(args) < 2 {
		fmt.Fprint(d.out, "Command list:\n"+
			"  backtrace    (bt)\n"+
			"  break        (b)\n"+
			"  continue     (c)\n"+
			"  delete       (d)\n"+
			"  gmem         (gm)\n"+
			"  help         (h)\n"+
			"  info         (i)\n"+
			"  list         (l)\n"+
			"  next         (n)\n"+
			"  lmem         (lm)\n"+
			"  pmem         (pm)\n"+
			"  print        (p)\n"+
			"  quit         (q)\n"+
			"  step         (s)\n"+
			"  workitem     (wi)\n"+
			"(type 'help command' for more information)\n")
		return
	}

	switch args[1] {
	case "backtrace", "bt":
		fmt.Fprintln(d.out, "Print function call stack.")
	case "break", "b":
		fmt.Fprintln(d.out, "Set a breakpoint (only functional when source is available).\n"+
			"With no arguments, sets a breakpoint at the current line.\n"+
			"Use a numeric argument to set a breakpoint at a specific line.")
	case "continue", "c":
		fmt.Fprintln(d.out, "Continue kernel execution until next breakpoint.")
	case "delete", "d":
		fmt.Fprintln(d.out, "Delete a breakpoint.\nWith no arguments, deletes all breakpoints.")
	case "help", "h":
		fmt.Fprintln(d.out, "Display usage information for a command.")
	case "info", "i":
		fmt.Fprintln(d.out, "Display information about current debugging context.\n"+
			"With no arguments, displays general information.\n"+
			"'info break' lists breakpoints.")
	case "list", "l":
		fmt.Fprintf(d.out, "List source lines.\n"+
			"With no argument, lists %d lines after previous listing.\n"+
			"Use - to list %d lines before the previous listing\n"+
			"Use a numeric argument to list around a specific line number.\n",
			listLength, listLength)
	case "gmem", "lmem", "pmem", "gm", "lm", "pm":
		space := "global"
		switch args[1][0] {
		case 'l':
			space = "local"
		case 'p':
			space = "private"
		}
		fmt.Fprintf(d.out, "Examine contents of %s memory.\n"+
			"With no arguments, dumps entire contents of memory.\n"+
			"'%s address [size]'\n"+
			"address is hexadecimal and 4-byte aligned.\n",
			space, args[1])
	case "next", "n":
		fmt.Fprintln(d.out, "Step forward, treating function calls as single instruction.")
	case "print", "p":
		fmt.Fprintln(d.out, "Print the values of one or more variables.")
	case "quit", "q":
		fmt.Fprintln(d.out, "Quit interactive debugger (and terminate current kernel invocation).")
	case "step", "s":
		fmt.Fprintln(d.out, "Step forward a single source line, or an instruction if no source available.")
	case "workitem", "wi":
		fmt.Fprintln(d.out, "Switch to a different work-item.\n"+
			"Up to three (space separated) arguments allowed, specifying the global ID of the work-item.")
	default:
		fmt.Fprintf(d.out, "Unrecognized command '%s'\n", args[1])
	}
}

// infoCmd prints launch information, or the breakpoint list.
func (d *Device) infoCmd(args []string) {
	if len(args) > 1 {
		if args[1] == "break" {
			for _, bp := range d.sortedBreakpoints() {
				fmt.Fprintf(d.out, "Breakpoint %d: Line %d\n", bp.id, bp.line)
			}
		} else {
			fmt.Fprintf(d.out, "Invalid info command: %s\n", args[1])
		}
		return
	}

	fmt.Fprintf(d.out, "Running kernel '%s'\n", d.kernel.Name())
	fmt.Fprintf(d.out, "-> Global work size:   (%d,%d,%d)\n",
		d.globalSize[0], d.globalSize[1], d.globalSize[2])
	fmt.Fprintf(d.out, "-> Global work offset: (%d,%d,%d)\n",
		d.globalOffset[0], d.globalOffset[1], d.globalOffset[2])
	fmt.Fprintf(d.out, "-> Local work size:    (%d,%d,%d)\n",
		d.localSize[0], d.localSize[1], d.localSize[2])

	if d.currentItem != nil {
		gid := d.currentItem.GlobalID()
		fmt.Fprintf(d.out, "\nCurrent work-item: (%d,%d,%d)\n", gid[0], gid[1], gid[2])
		d.printCurrentLine()
	} else {
		fmt.Fprintln(d.out, "All work-items finished.")
	}
}

// listCmd lists source lines around the cursor, a given line, or
// backwards.
func (d *Device) listCmd(args []string) {
	if d.currentItem == nil {
		fmt.Fprintln(d.out, "All work-items finished.")
		return
	}
	if len(d.sourceLines) == 0 {
		fmt.Fprintln(d.out, "No source code available.")
		return
	}

	start := 0
	forwards := true
	if len(args) > 1 {
		if args[1] == "-" {
			forwards = false
		} else {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				fmt.Fprintln(d.out, "Invalid line number.")
				return
			}
			if n > listLength/2 {
				start = n - listLength/2
			} else {
				start = 1
			}
		}
	}

	if start == 0 {
		if forwards {
			if d.listPosition != 0 {
				start = d.listPosition + listLength
			} else {
				start = d.currentLineNumber() + 1
			}
			if start >= len(d.sourceLines)+1 {
				d.listPosition = len(d.sourceLines) + 1
				return
			}
		} else {
			start = d.listPosition
			if start == 0 {
				start = d.currentLineNumber()
			}
			if start > listLength {
				start -= listLength
			} else {
				start = 1
			}
		}
	}

	for i := 0; i < listLength; i++ {
		if start+i >= len(d.sourceLines)+1 {
			break
		}
		d.printSourceLine(start + i)
	}
	d.listPosition = start
}

// nextCmd steps over a source line, treating calls as one unit.
func (d *Device) nextCmd(args []string) {
	if d.currentItem == nil {
		fmt.Fprintln(d.out, "All work-items finished.")
		return
	}

	prevDepth := len(d.currentItem.CallStack())
	for {
		d.stepLine()
		if d.currentItem.State() != Ready {
			break
		}
		if len(d.currentItem.CallStack()) <= prevDepth {
			break
		}
	}

	if prevDepth != len(d.currentItem.CallStack()) && d.currentItem.State() != Finished {
		d.printFunction(d.currentItem.CurrentInstruction())
	}

	d.printCurrentLine()
	d.listPosition = 0
}

// printCmd prints one or more variables, with optional subscripting of
// pointer values.
func (d *Device) printCmd(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(d.out, "Variable name(s) required.")
		return
	}
	if d.currentItem == nil {
		fmt.Fprintln(d.out, "All work-items finished.")
		return
	}

	for _, arg := range args[1:] {
		fmt.Fprintf(d.out, "%s = ", arg)

		open := strings.Index(arg, "[")
		if open < 0 {
			if !d.currentItem.PrintVariable(d.out, arg) {
				fmt.Fprint(d.out, "not found")
			}
			fmt.Fprintln(d.out)
			continue
		}

		end := strings.Index(arg, "]")
		if end < 0 {
			fmt.Fprintln(d.out, "missing ']'")
			return
		}
		if end != len(arg)-1 {
			fmt.Fprintln(d.out, "invalid variable")
			return
		}

		index, err := strconv.ParseUint(arg[open+1:end], 10, 64)
		if err != nil {
			fmt.Fprintln(d.out, "invalid index")
			return
		}

		value, ok := d.currentItem.Variable(arg[:open])
		if !ok {
			fmt.Fprintln(d.out, "not found")
			return
		}
		if value.Type.Kind != ir.KindPointer {
			fmt.Fprintln(d.out, "not a pointer")
			return
		}

		data, ok := d.currentItem.ValueData(value)
		if !ok || len(data) < 8 {
			fmt.Fprintln(d.out, "not found")
			return
		}
		base := binary.LittleEndian.Uint64(data)
		if value.Alloca {
			// The register holds the address of a private stack
			// slot; the pointer itself lives in private memory.
			var slot [8]byte
			if !d.currentItem.PrivateMemory().Inspect(slot[:], base) {
				fmt.Fprintln(d.out, "invalid memory address")
				return
			}
			base = binary.LittleEndian.Uint64(slot[:])
		}

		var memory *mem.Memory
		switch value.Type.Space {
		case ir.AddrSpacePrivate:
			memory = d.currentItem.PrivateMemory()
		case ir.AddrSpaceGlobal, ir.AddrSpaceConstant:
			memory = d.globalMem
		case ir.AddrSpaceLocal:
			if d.currentGroup == nil {
				fmt.Fprintln(d.out, "invalid address space")
				return
			}
			memory = d.currentGroup.LocalMemory()
		default:
			fmt.Fprintln(d.out, "invalid address space")
			return
		}

		elem := value.Type.Elem
		if elem == nil {
			fmt.Fprintln(d.out, "not a pointer")
			return
		}
		elemSize := elem.Size()
		address := base + index*elemSize
		if !memory.IsAddressValid(address, elemSize) {
			fmt.Fprintln(d.out, "invalid memory address")
			continue
		}

		buf := make([]byte, elemSize)
		memory.Inspect(buf, address)
		ir.PrintTypedData(d.out, *elem, buf)
		fmt.Fprintln(d.out)
	}
}

// quitCmd leaves the debugger and terminates the launch.
func (d *Device) quitCmd(args []string) {
	d.interactive = false
	d.running = false
	d.breakpoints = make(map[Program]map[int]int)
}

// stepCmd steps a single source line, or one instruction without
// source.
func (d *Device) stepCmd(args []string) {
	if d.currentItem == nil {
		fmt.Fprintln(d.out, "All work-items finished.")
		return
	}

	prevDepth := len(d.currentItem.CallStack())

	d.stepLine()

	if prevDepth != len(d.currentItem.CallStack()) && d.currentItem.State() != Finished {
		d.printFunction(d.currentItem.CurrentInstruction())
	}

	d.printCurrentLine()
	d.listPosition = 0
}

// workitemCmd switches the current work-item, instantiating its
// work-group on demand.
func (d *Device) workitemCmd(args []string) {
	gid := [3]uint64{}
	for i := 1; i < len(args) && i <= 3; i++ {
		n, err := strconv.ParseUint(args[i], 10, 64)
		if err != nil || n >= d.globalSize[i-1] {
			fmt.Fprintln(d.out, "Invalid global ID.")
			return
		}
		gid[i-1] = n
	}

	group := [3]uint64{
		gid[0] / d.localSize[0],
		gid[1] / d.localSize[1],
		gid[2] / d.localSize[2],
	}

	found := false
	previousGroup := d.currentGroup

	// Already running this work-group?
	if d.currentGroup != nil && d.currentGroup.GroupID() == group {
		found = true
	}

	// In the running pool?
	if !found {
		for i, wg := range d.runningGroups {
			if wg.GroupID() == group {
				d.currentGroup = wg
				d.runningGroups = append(d.runningGroups[:i], d.runningGroups[i+1:]...)
				found = true
				break
			}
		}
	}

	// In the pending pool?
	if !found {
		for i, coords := range d.pendingGroups {
			if coords == group {
				wg, err := newWorkGroup(d, d.kernel, coords)
				if err != nil {
					d.reportFatal(err)
					return
				}
				d.currentGroup = wg
				d.pendingGroups = append(d.pendingGroups[:i], d.pendingGroups[i+1:]...)
				found = true
				break
			}
		}
	}

	if !found {
		fmt.Fprintln(d.out, "Work-item has already finished, unable to load state.")
		return
	}

	if previousGroup != nil && previousGroup != d.currentGroup {
		d.runningGroups = append(d.runningGroups, previousGroup)
	}

	lid := [3]uint64{
		gid[0] % d.localSize[0],
		gid[1] % d.localSize[1],
		gid[2] % d.localSize[2],
	}
	d.currentItem = d.currentGroup.GetWorkItem(lid)

	fmt.Fprintf(d.out, "Switched to work-item: (%d,%d,%d)\n", gid[0], gid[1], gid[2])
	if d.currentItem.State() == Finished {
		fmt.Fprintln(d.out, "Work-item has finished execution.")
	} else {
		d.printCurrentLine()
	}
}

// stepLine advances the current work-item by a whole source line when
// source is available, or a single instruction otherwise.
func (d *Device) stepLine() {
	switch d.currentItem.State() {
	case AtBarrier:
		fmt.Fprintln(d.out, "Work-item is at a barrier.")
		return
	case Finished:
		fmt.Fprintln(d.out, "Work-item has finished execution.")
		return
	}

	prevLine := d.currentLineNumber()
	for {
		state := d.currentItem.Step()
		if state != Ready {
			break
		}
		currLine := d.currentLineNumber()
		if len(d.sourceLines) == 0 {
			break
		}
		if currLine != prevLine && currLine != 0 {
			break
		}
	}
}

// printCurrentLine shows the source line the current work-item is on,
// or the raw instruction without source.
func (d *Device) printCurrentLine() {
	if d.currentItem == nil || d.currentItem.State() == Finished {
		return
	}

	lineNum := d.currentLineNumber()
	if len(d.sourceLines) > 0 && lineNum > 0 {
		d.printSourceLine(lineNum)
	} else {
		fmt.Fprintln(d.out, "Source line not available.")
		fmt.Fprintln(d.out, d.currentItem.CurrentInstruction())
	}
}

// printSourceLine prints one 1-based source line.
func (d *Device) printSourceLine(lineNum int) {
	if lineNum > 0 && lineNum <= len(d.sourceLines) {
		fmt.Fprintf(d.out, "%d\t%s\n", lineNum, d.sourceLines[lineNum-1])
	} else {
		fmt.Fprintf(d.out, "Invalid line number: %d\n", lineNum)
	}
}

// printFunction prints a function frame header: the function name, its
// parameter values, and the source line of the instruction.
func (d *Device) printFunction(instruction *ir.Instruction) {
	fn := instruction.Parent
	if fn == nil {
		fmt.Fprintln(d.out, "???")
		return
	}
	fmt.Fprintf(d.out, "%s(", fn.Name)
	for i, p := range fn.Params {
		if i > 0 {
			fmt.Fprint(d.out, ", ")
		}
		fmt.Fprintf(d.out, "%s=", p.Name)
		d.currentItem.PrintValue(d.out, p)
	}
	fmt.Fprintf(d.out, ") at line %d\n", instruction.Line)
}

