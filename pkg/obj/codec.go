package obj

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrCorrupt is returned when an object or image stream cannot be decoded.
var ErrCorrupt = errors.New("corrupt object file")

// maxName bounds length-prefixed strings so a damaged prefix cannot trigger a
// huge allocation.
const maxName = 1 << 16

type encoder struct {
	w   *bufio.Writer
	err error
}

func (e *encoder) write(v any) {
	if e.err != nil {
		return
	}
	e.err = binary.Write(e.w, binary.LittleEndian, v)
}

func (e *encoder) str(s string) {
	e.write(uint64(len(s)))
	if e.err == nil {
		_, e.err = e.w.WriteString(s)
	}
}

func (e *encoder) bytes(b []byte) {
	e.write(uint64(len(b)))
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

// Write encodes f. Only section symbols and global symbols are written; the
// undefined section is implied.
func Write(w io.Writer, f *File) error {
	var syms []*Symbol
	for _, s := range f.Symbols {
		if s.Persistent() {
			syms = append(syms, s)
		}
	}
	sections := f.Sections[1:]
	if len(sections) > math.MaxUint16 || len(syms) > math.MaxUint16 || len(f.Relocations) > math.MaxUint16 {
		return errors.New("object file tables exceed 65535 entries")
	}

	e := &encoder{w: bufio.NewWriter(w)}
	e.write(uint16(len(sections)))
	e.write(uint16(len(syms)))
	e.write(uint16(len(f.Relocations)))

	for _, s := range sections {
		e.str(s.Name)
		e.write(s.Length)
	}

	for _, s := range syms {
		e.str(s.Name)
		e.write(uint8(s.Visibility))
		e.write(s.Value)
		e.write(s.Section)
		e.write(uint8(s.Binding))
		e.write(uint8(s.Kind))
	}

	for _, r := range f.Relocations {
		if int(r.Section) >= len(f.Sections) || r.Section == 0 {
			return fmt.Errorf("relocation at offset 0x%04X refers to invalid section %d", r.Offset, r.Section)
		}
		e.str(f.Sections[r.Section].Name)
		e.write(r.Offset)
		e.write(uint8(r.Type))
		e.str(r.Symbol)
		e.write(r.Addend)
	}

	for _, s := range sections {
		e.bytes(s.Data)
	}

	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

type decoder struct {
	r   *bufio.Reader
	err error
}

func (d *decoder) read(v any) {
	if d.err != nil {
		return
	}
	if err := binary.Read(d.r, binary.LittleEndian, v); err != nil {
		d.err = fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
}

func (d *decoder) u8() uint8 {
	var v uint8
	d.read(&v)
	return v
}

func (d *decoder) u16() uint16 {
	var v uint16
	d.read(&v)
	return v
}

func (d *decoder) i16() int16 {
	var v int16
	d.read(&v)
	return v
}

func (d *decoder) bytes(limit uint64) []byte {
	var n uint64
	d.read(&n)
	if d.err != nil {
		return nil
	}
	if n > limit {
		d.err = fmt.Errorf("%w: length %d exceeds %d", ErrCorrupt, n, limit)
		return nil
	}
	if n == 0 {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = fmt.Errorf("%w: %v", ErrCorrupt, err)
		return nil
	}
	return b
}

func (d *decoder) str() string {
	return string(d.bytes(maxName))
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
	}
}

// Read decodes an object file written by Write.
func Read(r io.Reader) (*File, error) {
	d := &decoder{r: bufio.NewReader(r)}
	nsec := d.u16()
	nsym := d.u16()
	nrel := d.u16()
	if d.err != nil {
		return nil, d.err
	}

	f := NewFile()
	for i := 0; i < int(nsec) && d.err == nil; i++ {
		s := &Section{Name: d.str()}
		s.Length = d.u16()
		f.Sections = append(f.Sections, s)
	}

	for i := 0; i < int(nsym) && d.err == nil; i++ {
		s := &Symbol{Name: d.str()}
		s.Visibility = Visibility(d.u8())
		s.Value = d.u16()
		s.Section = d.u16()
		s.Binding = Binding(d.u8())
		s.Kind = Kind(d.u8())
		switch {
		case s.Visibility > Local:
			d.fail("symbol %s: bad visibility %d", s.Name, s.Visibility)
		case s.Binding > None:
			d.fail("symbol %s: bad import/export code %d", s.Name, s.Binding)
		case s.Kind > KindOther:
			d.fail("symbol %s: bad type %d", s.Name, s.Kind)
		case int(s.Section) >= len(f.Sections):
			d.fail("symbol %s: section index %d out of range", s.Name, s.Section)
		}
		s.Defined = s.Kind == KindSection || s.Binding == Exported
		f.Symbols = append(f.Symbols, s)
	}

	for i := 0; i < int(nrel) && d.err == nil; i++ {
		name := d.str()
		r := &Relocation{}
		r.Offset = d.u16()
		r.Type = RelocType(d.u8())
		r.Symbol = d.str()
		r.Addend = d.i16()
		if d.err != nil {
			break
		}
		idx := f.FindSection(name)
		if idx < 0 {
			d.fail("relocation refers to unknown section %q", name)
			break
		}
		if r.Type > PCRel16 {
			d.fail("relocation in %s: bad type %d", name, r.Type)
			break
		}
		r.Section = uint16(idx)
		f.Relocations = append(f.Relocations, r)
	}

	for _, s := range f.Sections[1:] {
		if d.err != nil {
			break
		}
		s.Data = d.bytes(math.MaxUint16)
		if d.err == nil && len(s.Data) != int(s.Length) {
			d.fail("section %s: %d bytes of data for length %d", s.Name, len(s.Data), s.Length)
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	return f, nil
}
