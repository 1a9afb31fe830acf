// Package asm assembles the line-oriented kernel IR text format into
// executable programs.
//
// A kernel file starts with an optional version gate and a program
// header, then mixes program-level declarations with kernel bodies:
//
//	; requires v0.1.0
//	.program reduce
//	.file reduce.cl
//	.source
//	__kernel void reduce(__global uint *data, ...)
//	.endsource
//	.const lut 16 00 01 02 03
//	.buffer data 256
//	.kernel reduce(global u32* data, u32 n, global u32* result, local u32* scratch)
//	.local scratch 256
//	  %i = gid 0        !line 3
//	loop:
//	  %c = cmp lt, %i, n
//	  br %c, loop, done
//	done:
//	  ret
//	.end
//
// Instructions use the same syntax the IR printer emits, except that
// branch targets are written as labels where the printer shows the
// target instruction index as @N. The trailing
// `!line N` (and optional `!file NAME`) annotations attach debug
// locations; instructions without them report no debug metadata.
//
// The `; requires` directive names the minimum runtime version the
// kernel needs, in semver form; assembly fails when this runtime is
// older.
package asm

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/kolkov/oclsim/internal/sim/interp"
	"github.com/kolkov/oclsim/internal/sim/ir"
)

// RuntimeVersion is the IR dialect version this runtime implements,
// compared against `; requires` directives.
const RuntimeVersion = "v0.1.0"

// Module is an assembled kernel file: one program plus a launchable
// kernel per .kernel block.
type Module struct {
	Program *ir.Program

	kernels map[string]*kernelDecl
	order   []string
	buffers []interp.Buffer
}

type kernelDecl struct {
	locals []interp.Local
}

// Kernel builds a launchable kernel bound to the module's buffer and
// local declarations.
func (m *Module) Kernel(name string) (*interp.Kernel, error) {
	decl, ok := m.kernels[name]
	if !ok {
		return nil, fmt.Errorf("no kernel %q in program %q", name, m.Program.Name)
	}
	k, err := interp.NewKernel(m.Program, name)
	if err != nil {
		return nil, err
	}
	for _, b := range m.buffers {
		k.AddBuffer(b)
	}
	for _, l := range decl.locals {
		k.AddLocal(l)
	}
	return k, nil
}

// KernelNames returns the declared kernels in declaration order.
func (m *Module) KernelNames() []string {
	return append([]string(nil), m.order...)
}

type parser struct {
	filename string
	lineno   int

	module  *Module
	program *ir.Program

	// Current .kernel block.
	fn      *ir.Function
	decl    *kernelDecl
	pending []pendingBranch

	srcFile string
	inSrc   bool
	srcBuf  strings.Builder
}

type pendingBranch struct {
	inst   *ir.Instruction
	labels []string
	lineno int
}

// Assemble parses src into a Module. filename is used in error
// positions and as the default debug file name.
func Assemble(filename string, src []byte) (*Module, error) {
	p := &parser{
		filename: filename,
		module: &Module{
			kernels: make(map[string]*kernelDecl),
		},
	}
	for _, line := range strings.Split(string(src), "\n") {
		p.lineno++
		if err := p.parseLine(line); err != nil {
			return nil, err
		}
	}
	if p.inSrc {
		return nil, p.errorf("missing .endsource")
	}
	if p.fn != nil {
		return nil, p.errorf("missing .end")
	}
	if p.program == nil {
		return nil, p.errorf("missing .program header")
	}
	p.module.Program = p.program
	return p.module, nil
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", p.filename, p.lineno, fmt.Sprintf(format, args...))
}

func (p *parser) parseLine(raw string) error {
	if p.inSrc {
		if strings.TrimSpace(raw) == ".endsource" {
			p.inSrc = false
			p.program.SourceText = p.srcBuf.String()
			return nil
		}
		p.srcBuf.WriteString(raw)
		p.srcBuf.WriteString("\n")
		return nil
	}

	line := raw

	// The version gate is a comment with meaning; all other comments
	// are stripped.
	if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "; requires "); ok {
		version := strings.TrimSpace(rest)
		if !semver.IsValid(version) {
			return p.errorf("invalid version %q in requires directive", version)
		}
		if semver.Compare(version, RuntimeVersion) > 0 {
			return p.errorf("kernel requires runtime %s, this runtime is %s", version, RuntimeVersion)
		}
		return nil
	}
	if i := strings.Index(line, ";"); i >= 0 {
		line = line[:i]
	}

	// Debug metadata suffixes.
	dbgLine, dbgFile := 0, ""
	for {
		i := strings.LastIndex(line, "!")
		if i < 0 {
			break
		}
		ann := strings.Fields(line[i+1:])
		line = line[:i]
		if len(ann) != 2 {
			return p.errorf("malformed metadata annotation")
		}
		switch ann[0] {
		case "line":
			n, err := strconv.Atoi(ann[1])
			if err != nil || n <= 0 {
				return p.errorf("invalid line metadata %q", ann[1])
			}
			dbgLine = n
		case "file":
			dbgFile = ann[1]
		default:
			return p.errorf("unknown metadata key %q", ann[0])
		}
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, ".") {
		return p.parseDirective(line)
	}

	if p.fn == nil {
		return p.errorf("instruction outside .kernel block")
	}

	// Label definition.
	if strings.HasSuffix(line, ":") && !strings.ContainsAny(line, " \t,=") {
		name := strings.TrimSuffix(line, ":")
		if _, dup := p.fn.Labels[name]; dup {
			return p.errorf("duplicate label %q", name)
		}
		p.fn.Labels[name] = len(p.fn.Instrs)
		return nil
	}

	inst, labels, err := p.parseInstruction(line)
	if err != nil {
		return err
	}
	inst.Parent = p.fn
	inst.Index = len(p.fn.Instrs)
	if dbgLine != 0 {
		inst.Line = dbgLine
		inst.File = dbgFile
		if inst.File == "" {
			inst.File = p.srcFile
		}
	}
	p.fn.Instrs = append(p.fn.Instrs, inst)
	if len(labels) > 0 {
		p.pending = append(p.pending, pendingBranch{inst: inst, labels: labels, lineno: p.lineno})
	}
	return nil
}

func (p *parser) parseDirective(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".program":
		if p.program != nil {
			return p.errorf("duplicate .program header")
		}
		if len(fields) != 2 {
			return p.errorf(".program needs a name")
		}
		p.program = &ir.Program{
			Name:      fields[1],
			Functions: make(map[string]*ir.Function),
		}
		p.srcFile = fields[1] + ".cl"
		return nil

	case ".file":
		if len(fields) != 2 {
			return p.errorf(".file needs a name")
		}
		p.srcFile = fields[1]
		return nil

	case ".source":
		if p.program == nil {
			return p.errorf(".source before .program")
		}
		p.inSrc = true
		p.srcBuf.Reset()
		return nil

	case ".const", ".buffer":
		if p.program == nil {
			return p.errorf("%s before .program", fields[0])
		}
		if len(fields) < 3 {
			return p.errorf("%s needs a name and size", fields[0])
		}
		size, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil || size == 0 {
			return p.errorf("invalid %s size %q", fields[0], fields[2])
		}
		init := make([]byte, 0, len(fields)-3)
		for _, b := range fields[3:] {
			v, err := strconv.ParseUint(b, 16, 8)
			if err != nil {
				return p.errorf("invalid initializer byte %q", b)
			}
			init = append(init, byte(v))
		}
		if uint64(len(init)) > size {
			return p.errorf("%s %q initializer exceeds size", fields[0], fields[1])
		}
		p.module.buffers = append(p.module.buffers, interp.Buffer{
			Name:     fields[1],
			Size:     size,
			Init:     init,
			Constant: fields[0] == ".const",
		})
		return nil

	case ".kernel":
		if p.program == nil {
			return p.errorf(".kernel before .program")
		}
		if p.fn != nil {
			return p.errorf("nested .kernel block")
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, ".kernel"))
		name, params, err := p.parseSignature(rest)
		if err != nil {
			return err
		}
		if _, dup := p.program.Functions[name]; dup {
			return p.errorf("duplicate kernel %q", name)
		}
		p.fn = &ir.Function{
			Name:   name,
			Params: params,
			Labels: make(map[string]int),
		}
		p.decl = &kernelDecl{}
		return nil

	case ".local":
		if p.fn == nil {
			return p.errorf(".local outside .kernel block")
		}
		if len(fields) != 3 {
			return p.errorf(".local needs a name and size")
		}
		size, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil || size == 0 {
			return p.errorf("invalid .local size %q", fields[2])
		}
		p.decl.locals = append(p.decl.locals, interp.Local{Name: fields[1], Size: size})
		return nil

	case ".end":
		if p.fn == nil {
			return p.errorf(".end outside .kernel block")
		}
		for _, pb := range p.pending {
			for i, label := range pb.labels {
				target, ok := p.fn.Labels[label]
				if !ok {
					return fmt.Errorf("%s:%d: undefined label %q", p.filename, pb.lineno, label)
				}
				pb.inst.Targets[i] = target
			}
		}
		p.pending = nil
		p.program.Functions[p.fn.Name] = p.fn
		p.module.kernels[p.fn.Name] = p.decl
		p.module.order = append(p.module.order, p.fn.Name)
		p.fn = nil
		p.decl = nil
		return nil

	default:
		return p.errorf("unknown directive %s", fields[0])
	}
}

// parseSignature parses "name(qual type name, ...)".
func (p *parser) parseSignature(sig string) (string, []ir.Value, error) {
	open := strings.Index(sig, "(")
	if open < 0 || !strings.HasSuffix(sig, ")") {
		return "", nil, p.errorf("malformed kernel signature")
	}
	name := strings.TrimSpace(sig[:open])
	if name == "" {
		return "", nil, p.errorf("kernel signature needs a name")
	}

	inner := strings.TrimSpace(sig[open+1 : len(sig)-1])
	if inner == "" {
		return name, nil, nil
	}

	var params []ir.Value
	for _, part := range strings.Split(inner, ",") {
		words := strings.Fields(part)
		switch len(words) {
		case 2:
			// Scalar: "u32 n".
			t, ok := ir.ParseType(words[0])
			if !ok {
				return "", nil, p.errorf("invalid parameter type %q", words[0])
			}
			params = append(params, ir.Value{Name: words[1], Type: t})
		case 3:
			// Pointer: "global u32* data".
			space, ok := parseSpace(words[0])
			if !ok {
				return "", nil, p.errorf("invalid address space %q", words[0])
			}
			if !strings.HasSuffix(words[1], "*") {
				return "", nil, p.errorf("qualified parameter %q must be a pointer", words[2])
			}
			elem, ok := ir.ParseType(strings.TrimSuffix(words[1], "*"))
			if !ok {
				return "", nil, p.errorf("invalid element type %q", words[1])
			}
			e := elem
			params = append(params, ir.Value{Name: words[2], Type: ir.Type{
				Kind:  ir.KindPointer,
				Space: space,
				Elem:  &e,
			}})
		default:
			return "", nil, p.errorf("malformed parameter %q", strings.TrimSpace(part))
		}
	}
	return name, params, nil
}

func parseSpace(name string) (ir.AddressSpace, bool) {
	switch name {
	case "private":
		return ir.AddrSpacePrivate, true
	case "global":
		return ir.AddrSpaceGlobal, true
	case "constant":
		return ir.AddrSpaceConstant, true
	case "local":
		return ir.AddrSpaceLocal, true
	default:
		return 0, false
	}
}
