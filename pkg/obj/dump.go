package obj

import (
	"bufio"
	"fmt"
	"io"
	"sort"
)

const hexDigits = "0123456789ABCDEF"

const bytesPerRow = 8

func writeHex16(w *bufio.Writer, v uint16) {
	w.WriteString("0x")
	for i := 3; i >= 0; i-- {
		w.WriteByte(hexDigits[(v>>(uint(i)*4))&15])
	}
}

func writeRows(w *bufio.Writer, base uint16, data []byte) {
	for i := 0; i < len(data); i += bytesPerRow {
		writeHex16(w, base+uint16(i))
		w.WriteByte(':')
		end := min(i+bytesPerRow, len(data))
		for _, c := range data[i:end] {
			w.WriteByte(' ')
			w.WriteByte(hexDigits[c>>4])
			w.WriteByte(hexDigits[c&15])
		}
		w.WriteByte('\n')
	}
}

// Dump writes the tables and section contents of f in text form.
func (f *File) Dump(out io.Writer) error {
	w := bufio.NewWriter(out)

	fmt.Fprintf(w, "#sections\n%-4s %-16s %-6s\n", "idx", "name", "length")
	for i, s := range f.Sections {
		fmt.Fprintf(w, "%-4d %-16s ", i, s.Name)
		writeHex16(w, s.Length)
		w.WriteByte('\n')
	}

	fmt.Fprintf(w, "\n#symbols\n%-4s %-16s %-8s %-6s %-4s %-8s %-17s\n",
		"idx", "name", "vis", "value", "sec", "type", "binding")
	for i, s := range f.Symbols {
		fmt.Fprintf(w, "%-4d %-16s %-8s ", i, s.Name, s.Visibility)
		writeHex16(w, s.Value)
		fmt.Fprintf(w, " %-4d %-8s %-17s\n", s.Section, s.Kind, s.Binding)
	}

	fmt.Fprintf(w, "\n#relocations\n%-16s %-6s %-9s %-16s %s\n", "section", "offset", "type", "symbol", "addend")
	for _, r := range f.Relocations {
		name := "?"
		if int(r.Section) < len(f.Sections) {
			name = f.Sections[r.Section].Name
		}
		fmt.Fprintf(w, "%-16s ", name)
		writeHex16(w, r.Offset)
		fmt.Fprintf(w, " %-9s %-16s %d\n", r.Type, r.Symbol, r.Addend)
	}

	for _, s := range f.Sections[1:] {
		fmt.Fprintf(w, "\n#%s\n", s.Name)
		writeRows(w, 0, s.Data)
	}
	return w.Flush()
}

// DumpImage writes a hex dump of a linked image, one row of eight bytes per line.
func DumpImage(out io.Writer, img []byte) error {
	w := bufio.NewWriter(out)
	writeRows(w, 0, img)
	return w.Flush()
}

// DumpSymbols writes "name : 0xADDR" lines sorted by address then name.
func DumpSymbols(out io.Writer, syms map[string]uint16) error {
	names := make([]string, 0, len(syms))
	for n := range syms {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if syms[names[i]] != syms[names[j]] {
			return syms[names[i]] < syms[names[j]]
		}
		return names[i] < names[j]
	})
	w := bufio.NewWriter(out)
	for _, n := range names {
		w.WriteString(n)
		w.WriteString(" : ")
		writeHex16(w, syms[n])
		w.WriteByte('\n')
	}
	return w.Flush()
}
