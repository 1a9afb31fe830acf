package asm

import (
	"strconv"
	"strings"

	"github.com/kolkov/oclsim/internal/sim/ir"
)

var opcodesByName = map[string]ir.Opcode{
	"nop":     ir.OpNop,
	"mov":     ir.OpMov,
	"add":     ir.OpAdd,
	"sub":     ir.OpSub,
	"mul":     ir.OpMul,
	"udiv":    ir.OpUDiv,
	"urem":    ir.OpURem,
	"and":     ir.OpAnd,
	"or":      ir.OpOr,
	"xor":     ir.OpXor,
	"shl":     ir.OpShl,
	"shr":     ir.OpShr,
	"cmp":     ir.OpCmp,
	"gid":     ir.OpGlobalID,
	"lid":     ir.OpLocalID,
	"grp":     ir.OpGroupID,
	"gsz":     ir.OpGlobalSize,
	"lsz":     ir.OpLocalSize,
	"alloca":  ir.OpAlloca,
	"load":    ir.OpLoad,
	"store":   ir.OpStore,
	"jmp":     ir.OpJmp,
	"br":      ir.OpBr,
	"call":    ir.OpCall,
	"ret":     ir.OpRet,
	"barrier": ir.OpBarrier,
}

var predicatesByName = map[string]ir.Predicate{
	"eq": ir.PredEQ,
	"ne": ir.PredNE,
	"lt": ir.PredLT,
	"le": ir.PredLE,
	"gt": ir.PredGT,
	"ge": ir.PredGE,
}

// parseInstruction parses one instruction line (with any metadata
// already stripped). It returns the instruction plus any branch labels
// to resolve at .end.
func (p *parser) parseInstruction(line string) (*ir.Instruction, []string, error) {
	dest := ""
	body := line
	if eq := strings.Index(line, "="); eq >= 0 && !strings.Contains(line[:eq], "(") {
		dest = strings.TrimSpace(line[:eq])
		body = strings.TrimSpace(line[eq+1:])
		if dest == "" {
			return nil, nil, p.errorf("empty destination register")
		}
	}

	mnemonic, rest, _ := strings.Cut(body, " ")
	op, ok := opcodesByName[mnemonic]
	if !ok {
		return nil, nil, p.errorf("unknown instruction %q", mnemonic)
	}
	inst := &ir.Instruction{Op: op, Dest: dest}
	args := splitArgs(rest)

	switch op {
	case ir.OpNop:
		if dest != "" || len(args) != 0 {
			return nil, nil, p.errorf("nop takes no operands")
		}
		return inst, nil, nil

	case ir.OpMov:
		return p.finish(inst, args, 1, true)

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpUDiv, ir.OpURem,
		ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
		return p.finish(inst, args, 2, true)

	case ir.OpCmp:
		if len(args) != 3 {
			return nil, nil, p.errorf("cmp needs a predicate and two operands")
		}
		pred, ok := predicatesByName[args[0]]
		if !ok {
			return nil, nil, p.errorf("unknown predicate %q", args[0])
		}
		inst.Pred = pred
		return p.finish(inst, args[1:], 2, true)

	case ir.OpGlobalID, ir.OpLocalID, ir.OpGroupID, ir.OpGlobalSize, ir.OpLocalSize:
		return p.finish(inst, args, 1, true)

	case ir.OpAlloca:
		if dest == "" || len(args) < 1 {
			return nil, nil, p.errorf("alloca needs a destination and size")
		}
		size, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || size == 0 {
			return nil, nil, p.errorf("invalid alloca size %q", args[0])
		}
		inst.Size = size
		if len(args) > 1 {
			t, err := p.parsePointerType(strings.Join(args[1:], " "))
			if err != nil {
				return nil, nil, err
			}
			inst.ValType = &t
		}
		return inst, nil, nil

	case ir.OpLoad:
		if dest == "" || len(args) != 3 {
			return nil, nil, p.errorf("load needs a destination, space, address, and size")
		}
		space, ok := parseSpace(args[0])
		if !ok {
			return nil, nil, p.errorf("invalid address space %q", args[0])
		}
		inst.Space = space
		size, err := parseAccessSize(args[2])
		if err != nil {
			return nil, nil, p.errorf("invalid load size %q", args[2])
		}
		inst.Size = size
		inst.Srcs = []ir.Operand{parseOperand(args[1])}
		return inst, nil, nil

	case ir.OpStore:
		if dest != "" || len(args) != 4 {
			return nil, nil, p.errorf("store needs a space, address, value, and size")
		}
		space, ok := parseSpace(args[0])
		if !ok {
			return nil, nil, p.errorf("invalid address space %q", args[0])
		}
		inst.Space = space
		size, err := parseAccessSize(args[3])
		if err != nil {
			return nil, nil, p.errorf("invalid store size %q", args[3])
		}
		inst.Size = size
		inst.Srcs = []ir.Operand{parseOperand(args[1]), parseOperand(args[2])}
		return inst, nil, nil

	case ir.OpJmp:
		if dest != "" || len(args) != 1 {
			return nil, nil, p.errorf("jmp needs one label")
		}
		return inst, []string{args[0]}, nil

	case ir.OpBr:
		if dest != "" || len(args) != 3 {
			return nil, nil, p.errorf("br needs a condition and two labels")
		}
		inst.Srcs = []ir.Operand{parseOperand(args[0])}
		return inst, []string{args[1], args[2]}, nil

	case ir.OpCall:
		callee, callArgs, err := p.parseCall(rest)
		if err != nil {
			return nil, nil, err
		}
		inst.Callee = callee
		inst.Srcs = callArgs
		return inst, nil, nil

	case ir.OpRet:
		if dest != "" || len(args) > 1 {
			return nil, nil, p.errorf("ret takes at most one operand")
		}
		if len(args) == 1 {
			inst.Srcs = []ir.Operand{parseOperand(args[0])}
		}
		return inst, nil, nil

	case ir.OpBarrier:
		if dest != "" || len(args) == 0 {
			return nil, nil, p.errorf("barrier needs fence flags")
		}
		for _, a := range args {
			switch a {
			case "local":
				inst.Flags |= ir.BarrierLocalFence
			case "global":
				inst.Flags |= ir.BarrierGlobalFence
			default:
				return nil, nil, p.errorf("unknown fence flag %q", a)
			}
		}
		return inst, nil, nil
	}

	return nil, nil, p.errorf("unknown instruction %q", mnemonic)
}

// finish validates the operand count and attaches parsed operands.
func (p *parser) finish(inst *ir.Instruction, args []string, want int, needDest bool) (*ir.Instruction, []string, error) {
	if needDest && inst.Dest == "" {
		return nil, nil, p.errorf("%s needs a destination register", inst.Op)
	}
	if len(args) != want {
		return nil, nil, p.errorf("%s needs %d operand(s)", inst.Op, want)
	}
	for _, a := range args {
		inst.Srcs = append(inst.Srcs, parseOperand(a))
	}
	return inst, nil, nil
}

// parseCall parses "callee(arg, arg, ...)".
func (p *parser) parseCall(rest string) (string, []ir.Operand, error) {
	rest = strings.TrimSpace(rest)
	open := strings.Index(rest, "(")
	if open <= 0 || !strings.HasSuffix(rest, ")") {
		return "", nil, p.errorf("malformed call")
	}
	callee := strings.TrimSpace(rest[:open])
	inner := strings.TrimSpace(rest[open+1 : len(rest)-1])
	if inner == "" {
		return callee, nil, nil
	}
	var operands []ir.Operand
	for _, a := range splitArgs(inner) {
		operands = append(operands, parseOperand(a))
	}
	return callee, operands, nil
}

// parsePointerType parses a "space elem*" annotation, e.g. "global u32*".
func (p *parser) parsePointerType(s string) (ir.Type, error) {
	words := strings.Fields(s)
	if len(words) != 2 || !strings.HasSuffix(words[1], "*") {
		return ir.Type{}, p.errorf("malformed pointer type %q", s)
	}
	space, ok := parseSpace(words[0])
	if !ok {
		return ir.Type{}, p.errorf("invalid address space %q", words[0])
	}
	elem, ok := ir.ParseType(strings.TrimSuffix(words[1], "*"))
	if !ok {
		return ir.Type{}, p.errorf("invalid element type %q", words[1])
	}
	return ir.Type{Kind: ir.KindPointer, Space: space, Elem: &elem}, nil
}

// parseOperand interprets a token as an immediate if it parses as an
// integer, and as a register name otherwise.
func parseOperand(tok string) ir.Operand {
	if v, err := strconv.ParseUint(tok, 0, 64); err == nil {
		return ir.Immediate(v)
	}
	if strings.HasPrefix(tok, "-") {
		if v, err := strconv.ParseInt(tok, 0, 64); err == nil {
			return ir.Immediate(uint64(v))
		}
	}
	return ir.Register(tok)
}

// parseAccessSize parses a load/store width, restricted to the scalar
// widths the interpreter can decode.
func parseAccessSize(tok string) (uint64, error) {
	size, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1, 2, 4, 8:
		return size, nil
	default:
		return 0, strconv.ErrRange
	}
}

// splitArgs splits a comma-separated operand list.
func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	args := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			args = append(args, trimmed)
		}
	}
	return args
}
