// Package asm turns assembly source into a relocatable object file. Encoding
// is single pass: references to symbols that are not yet defined are recorded
// as forward references and resolved by a backpatch pass once the whole
// source has been read.
package asm

import (
	"errors"
	"fmt"
	"strings"

	"ss16/pkg/obj"
)

// Error classes. Every error returned by Assemble wraps one of these.
var (
	ErrSyntax   = errors.New("syntax error")
	ErrEncoding = errors.New("encoding error")
	ErrSymbol   = errors.New("symbol error")
)

// forwardRef is a patch site waiting for its symbol to be defined.
type forwardRef struct {
	section     uint16
	offset      uint16
	instruction bool // false for .word
	pcRelative  bool
	lineNo      int
}

type Assembler struct {
	file    *obj.File
	section uint16 // 0 until the first .section
	lineNo  int

	forward map[int][]forwardRef
	// localRelocs maps relocations emitted against a section symbol to the
	// symbol they stand for, so they can be rewritten if it becomes global.
	localRelocs map[int]int
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

func Assemble(code string) (*obj.File, error) {
	return NewAssembler().Assemble(code)
}

// Assemble encodes code and returns the finished object file. On error no
// file is returned.
func (a *Assembler) Assemble(code string) (*obj.File, error) {
	a.file = obj.NewFile()
	a.section = 0
	a.forward = make(map[int][]forwardRef)
	a.localRelocs = make(map[int]int)

	for i, raw := range strings.Split(code, "\n") {
		a.lineNo = i + 1
		p, err := parseLine(raw, a.lineNo)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}

		for _, label := range p.labels {
			if err := a.defineLabel(label); err != nil {
				return nil, err
			}
		}

		if p.mnemonic == "" {
			continue
		}
		if p.mnemonic == ".end" {
			break
		}
		if strings.HasPrefix(p.mnemonic, ".") {
			err = a.directive(p)
		} else {
			err = a.encodeInstruction(p)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := a.backpatch(); err != nil {
		return nil, err
	}
	return a.file, nil
}

func (a *Assembler) errorf(class error, format string, args ...any) error {
	return fmt.Errorf("%w: %s on line %d", class, fmt.Sprintf(format, args...), a.lineNo)
}

func (a *Assembler) lc() uint16 {
	return a.file.Sections[a.section].Length
}

// emit appends b to the current section.
func (a *Assembler) emit(b ...byte) error {
	if err := a.reserve(len(b)); err != nil {
		return err
	}
	s := a.file.Sections[a.section]
	s.Data = append(s.Data, b...)
	s.Length = uint16(len(s.Data))
	return nil
}

// symbol returns the index of name, adding an undefined local entry when the
// name has not been seen.
func (a *Assembler) symbol(name string) int {
	if idx := a.file.FindSymbol(name); idx >= 0 {
		return idx
	}
	return a.file.AddSymbol(&obj.Symbol{
		Name:       name,
		Visibility: obj.Local,
		Binding:    obj.None,
		Kind:       obj.KindOther,
	})
}

func (a *Assembler) defineLabel(name string) error {
	if a.section == 0 {
		return a.errorf(ErrEncoding, "label %s outside of a section", name)
	}
	idx := a.file.FindSymbol(name)
	if idx < 0 {
		a.file.AddSymbol(&obj.Symbol{
			Name:       name,
			Visibility: obj.Local,
			Value:      a.lc(),
			Section:    a.section,
			Defined:    true,
			Binding:    obj.None,
			Kind:       obj.KindOther,
		})
		return nil
	}

	s := a.file.Symbols[idx]
	switch {
	case s.Defined:
		return a.errorf(ErrSymbol, "multiple definition of symbol %s", name)
	case s.Binding == obj.Imported:
		return a.errorf(ErrSymbol, "symbol %s is declared .extern and cannot be defined", name)
	}
	s.Defined = true
	s.Section = a.section
	s.Value = a.lc()
	return nil
}

func (a *Assembler) directive(p parsedLine) error {
	switch p.mnemonic {
	case ".section":
		if len(p.operands) != 1 || !isIdentifier(p.operands[0]) {
			return a.errorf(ErrSyntax, ".section expects a section name")
		}
		return a.enterSection(p.operands[0])

	case ".global":
		return a.declare(p.operands, obj.Exported)

	case ".extern":
		return a.declare(p.operands, obj.Imported)

	case ".word":
		if a.section == 0 {
			return a.errorf(ErrEncoding, ".word outside of a section")
		}
		if len(p.operands) == 0 {
			return a.errorf(ErrSyntax, ".word expects at least one operand")
		}
		for _, op := range p.operands {
			if err := a.word(op); err != nil {
				return err
			}
		}
		return nil

	case ".skip":
		if a.section == 0 {
			return a.errorf(ErrEncoding, ".skip outside of a section")
		}
		if len(p.operands) != 1 || !isLiteral(p.operands[0]) {
			return a.errorf(ErrSyntax, ".skip expects one literal")
		}
		n, err := parseLiteral(p.operands[0], a.lineNo)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		return a.emit(make([]byte, n)...)
	}
	return a.errorf(ErrSyntax, "unknown directive %s", p.mnemonic)
}

// enterSection switches to name, creating it on first use. Re-entering a
// section continues at its current length.
func (a *Assembler) enterSection(name string) error {
	if idx := a.file.FindSection(name); idx >= 0 {
		a.section = uint16(idx)
		return nil
	}
	if a.file.FindSymbol(name) >= 0 {
		return a.errorf(ErrSymbol, "section name %s is already used as a symbol", name)
	}
	if len(a.file.Sections) > 0xFFFF {
		return a.errorf(ErrEncoding, "too many sections")
	}
	a.section = a.file.AddSection(name)
	return nil
}

// declare handles .global (Exported) and .extern (Imported) lists.
func (a *Assembler) declare(names []string, b obj.Binding) error {
	dir := ".global"
	if b == obj.Imported {
		dir = ".extern"
	}
	if len(names) == 0 {
		return a.errorf(ErrSyntax, "%s expects at least one symbol", dir)
	}

	for _, name := range names {
		if !isIdentifier(name) {
			return a.errorf(ErrSyntax, "invalid symbol name '%s' in %s", name, dir)
		}
		s := a.file.Symbols[a.symbol(name)]
		switch {
		case s.Kind == obj.KindSection:
			return a.errorf(ErrSymbol, "section %s cannot be declared %s", name, dir)
		case b == obj.Exported && s.Binding == obj.Imported:
			return a.errorf(ErrSymbol, "symbol %s is declared both .extern and .global", name)
		case b == obj.Imported && s.Binding == obj.Exported:
			return a.errorf(ErrSymbol, "symbol %s is declared both .global and .extern", name)
		case b == obj.Imported && s.Defined:
			return a.errorf(ErrSymbol, "symbol %s is defined and cannot be declared .extern", name)
		}
		s.Visibility = obj.Global
		s.Binding = b
	}
	return nil
}

// word emits one .word operand: a literal or an absolute symbol reference.
func (a *Assembler) word(text string) error {
	if isLiteral(text) {
		v, err := parseLiteral(text, a.lineNo)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		return a.emit(byte(v), byte(v>>8))
	}
	if !isIdentifier(text) {
		return a.errorf(ErrSyntax, "invalid .word operand '%s'", text)
	}
	if err := a.reserve(2); err != nil {
		return err
	}
	v := a.reference(text, a.lc(), false, false)
	return a.emit(byte(v), byte(v>>8))
}

// reserve fails if n more bytes would not fit in the current section.
func (a *Assembler) reserve(n int) error {
	s := a.file.Sections[a.section]
	if len(s.Data)+n > 0xFFFF {
		return a.errorf(ErrEncoding, "section %s exceeds 65535 bytes", s.Name)
	}
	return nil
}
