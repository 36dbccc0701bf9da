// Package obj provides the relocatable object model shared by the assembler
// and the linker, together with its binary encoding.
package obj

// Visibility of a symbol. Values match the on-disk encoding.
type Visibility uint8

const (
	Global Visibility = 0
	Local  Visibility = 1
)

func (v Visibility) String() string {
	if v == Global {
		return "GLOBAL"
	}
	return "LOCAL"
}

// Binding records whether a symbol was declared with .extern or .global.
type Binding uint8

const (
	Imported Binding = 0
	Exported Binding = 1
	None     Binding = 2
)

func (b Binding) String() string {
	switch b {
	case Imported:
		return "Imported(extern)"
	case Exported:
		return "Exported(global)"
	}
	return "None"
}

// Kind distinguishes section symbols from ordinary ones.
type Kind uint8

const (
	KindSection Kind = 0
	KindOther   Kind = 1
)

func (k Kind) String() string {
	if k == KindSection {
		return "SECTION"
	}
	return "OTHER"
}

// RelocType selects the patch formula applied by the linker.
type RelocType uint8

const (
	Abs16   RelocType = 0 // S + A
	PCRel16 RelocType = 1 // S + A - P
)

func (t RelocType) String() string {
	if t == Abs16 {
		return "REL_16"
	}
	return "REL_16_PC"
}

// UndefinedSection is the name of the reserved section at index 0.
const UndefinedSection = "UND"

// A Symbol is an entry of a symbol table. Section is an index into the
// owning File's Sections.
type Symbol struct {
	Name       string
	Visibility Visibility
	Value      uint16
	Section    uint16
	Defined    bool
	Binding    Binding
	Kind       Kind
}

// Persistent reports whether the symbol is written to an object file.
func (s *Symbol) Persistent() bool {
	return s.Kind == KindSection || s.Visibility == Global
}

// A Section is a named byte range. Addr and Module are filled in by the linker.
type Section struct {
	Name   string
	Length uint16
	Addr   uint16
	Module string
	Data   []byte
}

// A Relocation asks the linker to write a 16-bit value at Offset within Section.
type Relocation struct {
	Section uint16
	Offset  uint16
	Type    RelocType
	Symbol  string
	Addend  int16
}

// File is one assembled module.
type File struct {
	Sections    []*Section
	Symbols     []*Symbol
	Relocations []*Relocation
}

// NewFile returns a File holding only the undefined section.
func NewFile() *File {
	return &File{
		Sections: []*Section{{Name: UndefinedSection}},
	}
}

// FindSymbol returns the index of the named symbol or -1.
func (f *File) FindSymbol(name string) int {
	for i, s := range f.Symbols {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// FindSection returns the index of the named section or -1. The undefined
// section is never returned.
func (f *File) FindSection(name string) int {
	for i := 1; i < len(f.Sections); i++ {
		if f.Sections[i].Name == name {
			return i
		}
	}
	return -1
}

// AddSymbol appends s and returns its index.
func (f *File) AddSymbol(s *Symbol) int {
	f.Symbols = append(f.Symbols, s)
	return len(f.Symbols) - 1
}

// AddSection appends a section together with its section symbol and returns
// the new section index.
func (f *File) AddSection(name string) uint16 {
	f.Sections = append(f.Sections, &Section{Name: name})
	idx := uint16(len(f.Sections) - 1)
	f.AddSymbol(&Symbol{
		Name:       name,
		Visibility: Local,
		Section:    idx,
		Defined:    true,
		Binding:    None,
		Kind:       KindSection,
	})
	return idx
}

// AddRelocation appends r and returns its index.
func (f *File) AddRelocation(r *Relocation) int {
	f.Relocations = append(f.Relocations, r)
	return len(f.Relocations) - 1
}
