package asm

import (
	"fmt"

	"ss16/pkg/obj"
)

// backpatch checks symbol discipline and resolves every forward reference,
// either by patching the section bytes or by adding a relocation.
func (a *Assembler) backpatch() error {
	for idx, s := range a.file.Symbols {
		if s.Kind == obj.KindSection {
			continue
		}
		switch {
		case !s.Defined && s.Binding == obj.Exported:
			return fmt.Errorf("%w: symbol %s declared .global but not defined", ErrSymbol, s.Name)
		case !s.Defined && s.Binding != obj.Imported:
			line := 0
			if refs := a.forward[idx]; len(refs) > 0 {
				line = refs[0].lineNo
			}
			return fmt.Errorf("%w: symbol %s used on line %d but not defined or declared .extern", ErrSymbol, s.Name, line)
		case s.Defined && s.Binding == obj.Imported:
			return fmt.Errorf("%w: symbol %s is defined and also declared .extern", ErrSymbol, s.Name)
		}

		if s.Visibility == obj.Global {
			a.globalize(idx)
		}
		for _, ref := range a.forward[idx] {
			a.resolve(idx, ref)
		}
		delete(a.forward, idx)
	}
	return nil
}

// globalize rewrites relocations that were emitted against a section symbol
// on behalf of idx before .global made it visible.
func (a *Assembler) globalize(idx int) {
	s := a.file.Symbols[idx]
	for ri, owner := range a.localRelocs {
		if owner != idx {
			continue
		}
		r := a.file.Relocations[ri]
		r.Symbol = s.Name
		r.Addend = 0
		if r.Type == obj.PCRel16 {
			r.Addend = -pcGap
		}
		delete(a.localRelocs, ri)
	}
}

func (a *Assembler) resolve(idx int, ref forwardRef) {
	s := a.file.Symbols[idx]
	pcRel := ref.instruction && ref.pcRelative

	if pcRel && s.Defined && s.Section == ref.section {
		v := s.Value - ref.offset - pcGap
		data := a.file.Sections[ref.section].Data
		data[ref.offset] = byte(v)
		data[ref.offset+1] = byte(v >> 8)
		return
	}
	a.relocate(idx, ref.section, ref.offset, pcRel)
}
