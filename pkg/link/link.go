// Package link combines assembled modules into one flat memory image.
//
// Linking runs four phases in a fixed order: Merge builds a global section
// table, Resolve binds every imported name to exactly one exported
// definition, Concatenate lays out same-named sections back to back, and
// Patch applies the relocations. Link runs all of them.
package link

import (
	"errors"
	"fmt"

	"ss16/pkg/obj"
)

var (
	ErrMultipleDefinition = errors.New("multiple definition")
	ErrUndefined          = errors.New("undefined symbol")
	ErrDuplicateModule    = errors.New("duplicate input module")
	ErrPhase              = errors.New("linker phase out of order")
	ErrLayout             = errors.New("invalid image layout")
)

// A Module is one object file together with the name it was loaded under.
type Module struct {
	Name string
	File *obj.File
}

type phase int

const (
	phaseNew phase = iota
	phaseMerged
	phaseResolved
	phaseConcatenated
	phasePatched
)

var phaseNames = [...]string{"new", "merge", "resolve", "concatenate", "patch"}

func (p phase) String() string { return phaseNames[p] }

// reloc is a module relocation re-indexed into the global section table.
type reloc struct {
	obj.Relocation
	module string
	// target is the global index of the referenced section when the
	// relocation names a section symbol of its own module, otherwise 0.
	target int
}

type symbol struct {
	obj.Symbol
	module string
}

type Linker struct {
	phase   phase
	modules []Module

	sections []*obj.Section
	index    []map[int]int // per module: local section index -> global index
	symbols  map[string]*symbol
	order    []string
	relocs   []reloc
	image    []byte
}

// NewLinker prepares a link of mods in the given order. Module names must
// be unique.
func NewLinker(mods []Module) (*Linker, error) {
	seen := make(map[string]bool, len(mods))
	for _, m := range mods {
		if seen[m.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, m.Name)
		}
		if m.File == nil || len(m.File.Sections) == 0 {
			return nil, fmt.Errorf("module %s has no section table", m.Name)
		}
		seen[m.Name] = true
	}
	return &Linker{
		modules:  mods,
		sections: []*obj.Section{{Name: obj.UndefinedSection}},
		symbols:  make(map[string]*symbol),
	}, nil
}

// Link runs all four phases and returns the image.
func Link(mods []Module) ([]byte, error) {
	l, err := NewLinker(mods)
	if err != nil {
		return nil, err
	}
	return l.Run()
}

// Run executes the remaining phases in order.
func (l *Linker) Run() ([]byte, error) {
	steps := []func() error{l.Merge, l.Resolve, l.Concatenate, l.Patch}
	for _, step := range steps[l.phase:] {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return l.image, nil
}

func (l *Linker) enter(want, next phase) error {
	if l.phase != want {
		return fmt.Errorf("%w: %s requested after %s", ErrPhase, phaseNames[next], l.phase)
	}
	return nil
}

// Merge copies every module's sections into one global table and re-indexes
// symbols and relocations against it. Sections are identified by name and
// module, so same-named sections of different modules stay distinct.
func (l *Linker) Merge() error {
	if err := l.enter(phaseNew, phaseMerged); err != nil {
		return err
	}

	l.index = make([]map[int]int, len(l.modules))
	for mi, m := range l.modules {
		idx := map[int]int{0: 0}
		for si, s := range m.File.Sections {
			if si == 0 {
				continue
			}
			idx[si] = len(l.sections)
			l.sections = append(l.sections, &obj.Section{
				Name:   s.Name,
				Length: s.Length,
				Module: m.Name,
				Data:   s.Data,
			})
		}
		l.index[mi] = idx

		for _, r := range m.File.Relocations {
			sec, ok := idx[int(r.Section)]
			if !ok || sec == 0 {
				return fmt.Errorf("%w: relocation in module %s refers to section %d", ErrLayout, m.Name, r.Section)
			}
			g := reloc{Relocation: *r, module: m.Name}
			g.Section = uint16(sec)
			if local := m.File.FindSection(r.Symbol); local >= 0 {
				g.target = idx[local]
			}
			l.relocs = append(l.relocs, g)
		}
	}

	l.phase = phaseMerged
	return nil
}

// Resolve builds the global symbol table from the exported and imported
// names of every module. Local labels stay private to their module; their
// uses already point at a section symbol. The first definition of a name
// wins and an import is upgraded in place when its export arrives. Every
// name must end up exported by exactly one module.
func (l *Linker) Resolve() error {
	if err := l.enter(phaseMerged, phaseResolved); err != nil {
		return err
	}

	for mi, m := range l.modules {
		for _, s := range m.File.Symbols {
			if s.Kind == obj.KindSection || s.Visibility != obj.Global {
				continue
			}
			sec, ok := l.index[mi][int(s.Section)]
			if !ok {
				return fmt.Errorf("%w: symbol %s in module %s refers to section %d", ErrLayout, s.Name, m.Name, s.Section)
			}

			g, ok := l.symbols[s.Name]
			if !ok {
				g = &symbol{Symbol: *s, module: m.Name}
				g.Section = uint16(sec)
				l.symbols[s.Name] = g
				l.order = append(l.order, s.Name)
				continue
			}

			switch {
			case g.Binding == obj.Exported && s.Binding == obj.Exported:
				return fmt.Errorf("%w: symbol %s exported by both %s and %s", ErrMultipleDefinition, s.Name, g.module, m.Name)
			case g.Binding != obj.Exported && s.Binding == obj.Exported:
				g.Symbol = *s
				g.Section = uint16(sec)
				g.module = m.Name
			}
		}
	}

	for _, name := range l.order {
		if g := l.symbols[name]; g.Binding != obj.Exported {
			return fmt.Errorf("%w: %s (imported by %s)", ErrUndefined, name, g.module)
		}
	}

	l.phase = phaseResolved
	return nil
}

// Concatenate lays out sections by name in first-encountered order. Within a
// name, modules contribute in input order and each section's load address is
// the image length at the point its bytes are appended.
func (l *Linker) Concatenate() error {
	if err := l.enter(phaseResolved, phaseConcatenated); err != nil {
		return err
	}

	done := make(map[string]bool)
	for _, first := range l.sections[1:] {
		if done[first.Name] {
			continue
		}
		done[first.Name] = true

		for _, s := range l.sections[1:] {
			if s.Name != first.Name {
				continue
			}
			if len(l.image)+len(s.Data) > obj.MaxImage {
				return fmt.Errorf("%w: section %s of %s does not fit in %d bytes", ErrLayout, s.Name, s.Module, obj.MaxImage)
			}
			s.Addr = uint16(len(l.image))
			l.image = append(l.image, s.Data...)
		}
	}

	l.phase = phaseConcatenated
	return nil
}

// Patch applies every relocation to the image. Arithmetic is modulo 2^16 and
// results are stored little-endian.
func (l *Linker) Patch() error {
	if err := l.enter(phaseConcatenated, phasePatched); err != nil {
		return err
	}

	for _, r := range l.relocs {
		site := int(l.sections[r.Section].Addr) + int(r.Offset)
		if int(r.Offset)+2 > len(l.sections[r.Section].Data) {
			return fmt.Errorf("%w: relocation at %s+0x%04X in %s is outside the section", ErrLayout,
				l.sections[r.Section].Name, r.Offset, r.module)
		}

		var target uint16
		if r.target != 0 {
			target = l.sections[r.target].Addr
		} else {
			g, ok := l.symbols[r.Symbol]
			if !ok {
				return fmt.Errorf("%w: %s (referenced by %s)", ErrUndefined, r.Symbol, r.module)
			}
			target = g.Value + l.sections[g.Section].Addr
		}

		v := target + uint16(r.Addend)
		if r.Type == obj.PCRel16 {
			v -= uint16(site)
		}
		l.image[site] = byte(v)
		l.image[site+1] = byte(v >> 8)
	}

	l.phase = phasePatched
	return nil
}

// Image returns the linked bytes. It is only complete after Patch.
func (l *Linker) Image() []byte {
	return l.image
}

// Sections returns the global section table; load addresses are set once
// Concatenate has run.
func (l *Linker) Sections() []*obj.Section {
	return l.sections[1:]
}

// Symbols returns the final address of every exported symbol.
func (l *Linker) Symbols() map[string]uint16 {
	out := make(map[string]uint16, len(l.symbols))
	for name, g := range l.symbols {
		out[name] = g.Value + l.sections[g.Section].Addr
	}
	return out
}
