package asm

import (
	"fmt"

	"ss16/pkg/isa"
	"ss16/pkg/obj"
)

// payloadOffset is the distance from the opcode to the 16-bit operand of a
// 5-byte instruction: opcode, register descriptor, addressing mode.
const payloadOffset = 3

// pcGap is the distance from a PC-relative patch site to the end of its
// instruction. The CPU adds the operand to the PC of the next instruction.
const pcGap = 2

func (a *Assembler) encodeInstruction(p parsedLine) error {
	info, ok := isa.Lookup(p.mnemonic)
	if !ok {
		return a.errorf(ErrSyntax, "unknown instruction %s", p.mnemonic)
	}
	if a.section == 0 {
		return a.errorf(ErrEncoding, "instruction %s outside of a section", p.mnemonic)
	}
	if len(p.operands) != info.Operands {
		return a.errorf(ErrEncoding, "%s expects %d operands, got %d", p.mnemonic, info.Operands, len(p.operands))
	}

	jump := info.Family == isa.FamilyJump
	ops := make([]operand, len(p.operands))
	for i, text := range p.operands {
		op, err := parseOperand(text, jump, a.lineNo)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		ops[i] = op
	}

	switch info.Family {
	case isa.FamilyNone:
		return a.emit(info.Opcode)

	case isa.FamilyReg, isa.FamilyRegLow:
		if ops[0].mode != isa.RegDir {
			return a.errorf(ErrEncoding, "%s expects a register operand", p.mnemonic)
		}
		desc := ops[0].reg<<4 | 0x0F
		if info.Family == isa.FamilyRegLow {
			desc = ops[0].reg << 4
		}
		return a.emit(info.Opcode, desc)

	case isa.FamilyRegReg:
		if ops[0].mode != isa.RegDir || ops[1].mode != isa.RegDir {
			return a.errorf(ErrEncoding, "%s expects two register operands", p.mnemonic)
		}
		return a.emit(info.Opcode, ops[0].reg<<4|ops[1].reg)

	case isa.FamilyJump:
		op := ops[0]
		if !op.mode.IsJump() {
			return a.errorf(ErrEncoding, "wrong addressing mode (%s) for %s", op.mode, p.mnemonic)
		}
		desc := byte(0xFF)
		if op.mode.UsesRegister() {
			desc = 0xF0 | op.reg
		}
		return a.encodeOperand(info.Opcode, desc, op)

	case isa.FamilyData:
		dst, src := ops[0], ops[1]
		if dst.mode != isa.RegDir {
			return a.errorf(ErrEncoding, "first operand of %s must be a register", p.mnemonic)
		}
		if info.Opcode == isa.OpSTR && (src.mode == isa.Immediate || src.mode == isa.ImmediateSymbol) {
			return a.errorf(ErrEncoding, "wrong addressing mode (%s) for %s", src.mode, p.mnemonic)
		}
		desc := dst.reg<<4 | 0x0F
		if src.mode.UsesRegister() {
			desc = dst.reg<<4 | src.reg
		}
		return a.encodeOperand(info.Opcode, desc, src)
	}
	return a.errorf(ErrEncoding, "cannot encode %s", p.mnemonic)
}

// encodeOperand writes opcode, descriptor and mode followed by the operand
// payload when the mode has one.
func (a *Assembler) encodeOperand(opcode, desc byte, op operand) error {
	length := isa.Length(isa.FamilyData, op.mode)
	if err := a.reserve(int(length)); err != nil {
		return err
	}
	if !op.mode.HasPayload() {
		return a.emit(opcode, desc, byte(op.mode))
	}

	v := op.literal
	if op.mode.UsesSymbol() {
		v = a.reference(op.symbol, a.lc()+payloadOffset, op.mode.IsPCRelative(), true)
	}
	return a.emit(opcode, desc, byte(op.mode), byte(v), byte(v>>8))
}

// reference classifies a symbol use at patch offset site in the current
// section and returns the value to write there now. The decision is made
// only from what is known at this point; anything undefined is deferred to
// the backpatch pass.
func (a *Assembler) reference(name string, site uint16, pcRel, instruction bool) uint16 {
	idx := a.symbol(name)
	s := a.file.Symbols[idx]

	if !s.Defined {
		a.forward[idx] = append(a.forward[idx], forwardRef{
			section:     a.section,
			offset:      site,
			instruction: instruction,
			pcRelative:  pcRel,
			lineNo:      a.lineNo,
		})
		return 0
	}

	if pcRel && s.Section == a.section {
		return s.Value - site - pcGap
	}
	a.relocate(idx, a.section, site, pcRel)
	return 0
}

// relocate adds the relocation for a use of defined-or-imported symbol idx.
// Global symbols are referenced by name; local ones through their section
// symbol with the offset folded into the addend.
func (a *Assembler) relocate(idx int, section, site uint16, pcRel bool) {
	s := a.file.Symbols[idx]
	r := &obj.Relocation{Section: section, Offset: site, Type: obj.Abs16}
	if pcRel {
		r.Type = obj.PCRel16
		r.Addend = -pcGap
	}

	if s.Visibility == obj.Global {
		r.Symbol = s.Name
		a.file.AddRelocation(r)
		return
	}

	r.Symbol = a.file.Sections[s.Section].Name
	r.Addend += int16(s.Value)
	ri := a.file.AddRelocation(r)
	if s.Kind != obj.KindSection {
		a.localRelocs[ri] = idx
	}
}
