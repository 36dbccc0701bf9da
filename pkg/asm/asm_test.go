package asm

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"ss16/pkg/isa"
	"ss16/pkg/obj"
)

// encodeWords converts a slice of uint16 to little-endian bytes.
func encodeWords(words ...uint16) []byte {
	out := make([]byte, len(words)*2)
	for i, w := range words {
		out[i*2] = byte(w & 0xFF)
		out[i*2+1] = byte(w >> 8)
	}
	return out
}

func section(t *testing.T, f *obj.File, name string) []byte {
	t.Helper()
	idx := f.FindSection(name)
	if idx < 0 {
		t.Fatalf("section %s not found", name)
	}
	return f.Sections[idx].Data
}

func TestHelperFunctions(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"abc", true},
		{"_abc", true},
		{".text", true},
		{"abc1", true},
		{"1abc", false},
		{"", false},
		{"ab-c", false},
	}
	for _, tc := range tests {
		if got := isIdentifier(tc.input); got != tc.want {
			t.Errorf("isIdentifier(%q) = %v; want %v", tc.input, got, tc.want)
		}
	}

	literals := []struct {
		input   string
		want    uint16
		wantErr bool
	}{
		{"10", 10, false},
		{"0x1F", 0x1F, false},
		{"-1", 0xFFFF, false},
		{"+3", 3, false},
		{"65535", 0xFFFF, false},
		{"65536", 0, true},
		{"-32769", 0, true},
		{"0xZZ", 0, true},
	}
	for _, tc := range literals {
		got, err := parseLiteral(tc.input, 1)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("parseLiteral(%q) = %#x, %v; want %#x, err %v", tc.input, got, err, tc.want, tc.wantErr)
		}
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    parsedLine
		wantErr bool
	}{
		{
			"ldr r1, $5",
			parsedLine{lineNo: 1, mnemonic: "ldr", operands: []string{"r1", "$5"}},
			false,
		},
		{
			"  add r0, r1  # comment",
			parsedLine{lineNo: 1, mnemonic: "add", operands: []string{"r0", "r1"}},
			false,
		},
		{
			"start: halt",
			parsedLine{lineNo: 1, labels: []string{"start"}, mnemonic: "halt"},
			false,
		},
		{
			"a: b:\tret",
			parsedLine{lineNo: 1, labels: []string{"a", "b"}, mnemonic: "ret"},
			false,
		},
		{
			"LDR R1, [R2 + 4]",
			parsedLine{lineNo: 1, mnemonic: "ldr", operands: []string{"R1", "[R2 + 4]"}},
			false,
		},
		{
			".global a, b",
			parsedLine{lineNo: 1, mnemonic: ".global", operands: []string{"a", "b"}},
			false,
		},
		{
			"only_label:",
			parsedLine{lineNo: 1, labels: []string{"only_label"}},
			false,
		},
		{
			"# nothing",
			parsedLine{lineNo: 1},
			false,
		},
		{"1abc: halt", parsedLine{lineNo: 1}, true},
		{"add r1,, r2", parsedLine{lineNo: 1}, true},
	}

	for _, tc := range tests {
		got, err := parseLine(tc.line, 1)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseLine(%q) error = %v, wantErr %v", tc.line, err, tc.wantErr)
			continue
		}
		if tc.wantErr {
			continue
		}
		if got.mnemonic != tc.want.mnemonic {
			t.Errorf("parseLine(%q) mnemonic = %q, want %q", tc.line, got.mnemonic, tc.want.mnemonic)
		}
		if !reflect.DeepEqual(got.labels, tc.want.labels) {
			t.Errorf("parseLine(%q) labels = %v, want %v", tc.line, got.labels, tc.want.labels)
		}
		if !reflect.DeepEqual(got.operands, tc.want.operands) {
			t.Errorf("parseLine(%q) operands = %v, want %v", tc.line, got.operands, tc.want.operands)
		}
	}
}

func TestParseOperand(t *testing.T) {
	tests := []struct {
		text    string
		jump    bool
		want    operand
		wantErr bool
	}{
		{"$5", false, operand{mode: isa.Immediate, literal: 5}, false},
		{"$x", false, operand{mode: isa.ImmediateSymbol, symbol: "x"}, false},
		{"0x10", false, operand{mode: isa.MemDirLiteral, literal: 0x10}, false},
		{"x", false, operand{mode: isa.MemDirSymbolAbs, symbol: "x"}, false},
		{"%x", false, operand{mode: isa.MemDirSymbolPCRel, symbol: "x"}, false},
		{"r3", false, operand{mode: isa.RegDir, reg: 3}, false},
		{"[sp]", false, operand{mode: isa.RegInd, reg: isa.RegSP}, false},
		{"[r2 + 0x4]", false, operand{mode: isa.RegIndLiteral, reg: 2, literal: 4}, false},
		{"[r2 + x]", false, operand{mode: isa.RegIndSymbol, reg: 2, symbol: "x"}, false},

		{"100", true, operand{mode: isa.ImmediateJmp, literal: 100}, false},
		{"x", true, operand{mode: isa.ImmediateSymbolAbsJmp, symbol: "x"}, false},
		{"%x", true, operand{mode: isa.ImmediateSymbolPCRelJmp, symbol: "x"}, false},
		{"*100", true, operand{mode: isa.MemDirLiteralJmp, literal: 100}, false},
		{"*x", true, operand{mode: isa.MemDirSymbolJmp, symbol: "x"}, false},
		{"*r1", true, operand{mode: isa.RegDirJmp, reg: 1}, false},
		{"*[r1]", true, operand{mode: isa.RegIndJmp, reg: 1}, false},
		{"*[r1 + 2]", true, operand{mode: isa.RegIndLiteralJmp, reg: 1, literal: 2}, false},
		{"*[pc + x]", true, operand{mode: isa.RegIndSymbolJmp, reg: isa.RegPC, symbol: "x"}, false},

		{"$5", true, operand{}, true},
		{"*r1", false, operand{}, true},
		{"[r1]", true, operand{}, true},
		{"[r1", false, operand{}, true},
		{"[r9]", false, operand{}, true},
		{"[r1 + ]", false, operand{}, true},
		{"$70000", false, operand{}, true},
		{"a-b", false, operand{}, true},
	}

	for _, tc := range tests {
		got, err := parseOperand(tc.text, tc.jump, 1)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseOperand(%q, %v) error = %v, wantErr %v", tc.text, tc.jump, err, tc.wantErr)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("parseOperand(%q, %v) = %+v, want %+v", tc.text, tc.jump, got, tc.want)
		}
	}
}

func TestEncodeInstructions(t *testing.T) {
	tests := []struct {
		src  string
		want []byte
	}{
		{"halt", []byte{0x00}},
		{"iret", []byte{0x20}},
		{"ret", []byte{0x40}},
		{"int r1", []byte{0x10, 0x1F}},
		{"push r2", []byte{0xE0, 0x2F}},
		{"pop r3", []byte{0xF0, 0x30}},
		{"not r1", []byte{0x80, 0x1F}},
		{"add r1, r2", []byte{0x70, 0x12}},
		{"xchg sp, pc", []byte{0x60, 0x67}},
		{"shl r1, r2", []byte{0x90, 0x12}},
		{"cmp r0, r5", []byte{0x74, 0x05}},
		{"ldr r1, $0x1234", []byte{0xA0, 0x1F, 0x00, 0x34, 0x12}},
		{"ldr r1, 0x10", []byte{0xA0, 0x1F, 0x02, 0x10, 0x00}},
		{"ldr r1, r2", []byte{0xA0, 0x12, 0x05}},
		{"ldr r1, [r2]", []byte{0xA0, 0x12, 0x06}},
		{"ldr r1, [r2 + 4]", []byte{0xA0, 0x12, 0x07, 0x04, 0x00}},
		{"str r1, 0x20", []byte{0xB0, 0x1F, 0x02, 0x20, 0x00}},
		{"str r1, [sp + -2]", []byte{0xB0, 0x16, 0x07, 0xFE, 0xFF}},
		{"jmp 0x100", []byte{0x50, 0xFF, 0x09, 0x00, 0x01}},
		{"call *0x100", []byte{0x30, 0xFF, 0x0C, 0x00, 0x01}},
		{"jmp *r3", []byte{0x50, 0xF3, 0x0E}},
		{"jne *[r3]", []byte{0x52, 0xF3, 0x0F}},
		{"jeq *[r3 + 2]", []byte{0x51, 0xF3, 0x10, 0x02, 0x00}},
		{"jgt 5", []byte{0x53, 0xFF, 0x09, 0x05, 0x00}},
	}

	for _, tc := range tests {
		f, err := Assemble(".section text\n" + tc.src)
		if err != nil {
			t.Errorf("Assemble(%q) error: %v", tc.src, err)
			continue
		}
		if got := section(t, f, "text"); !bytes.Equal(got, tc.want) {
			t.Errorf("Assemble(%q) = % X, want % X", tc.src, got, tc.want)
		}
		if len(f.Relocations) != 0 {
			t.Errorf("Assemble(%q) produced %d relocations", tc.src, len(f.Relocations))
		}
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"instruction outside section", "halt", ErrEncoding},
		{"operand count", ".section t\nadd r1", ErrEncoding},
		{"reg-reg with literal", ".section t\nadd r1, 5", ErrEncoding},
		{"jump to plain register", ".section t\njmp r1", ErrEncoding},
		{"store to immediate", ".section t\nstr r1, $5", ErrEncoding},
		{"data destination not register", ".section t\nldr 5, r1", ErrEncoding},
		{"label outside section", "x: halt", ErrEncoding},
		{"word outside section", ".word 1", ErrEncoding},
		{"unknown mnemonic", ".section t\nfoo r1", ErrSyntax},
		{"unknown directive", ".section t\n.bogus", ErrSyntax},
		{"literal range", ".section t\nldr r1, $70000", ErrSyntax},
		{"multiple definition", ".section t\nx: halt\nx: halt", ErrSymbol},
		{"label clashes with section", ".section t\nt: halt", ErrSymbol},
		{"extern defined", ".extern x\n.section t\nx: halt", ErrSymbol},
		{"global then extern", ".global x\n.extern x", ErrSymbol},
		{"extern then global", ".extern x\n.global x", ErrSymbol},
		{"extern of defined", ".section t\nx: halt\n.extern x", ErrSymbol},
		{"global section", ".section t\n.global t", ErrSymbol},
		{"used not defined", ".section t\njmp nowhere", ErrSymbol},
		{"global not defined", ".global x\n.section t\nhalt", ErrSymbol},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Assemble(tc.src)
			if !errors.Is(err, tc.want) {
				t.Errorf("Assemble() error = %v, want %v", err, tc.want)
			}
			if f != nil {
				t.Errorf("Assemble() returned a file on error")
			}
		})
	}
}

func TestPCRelativeSameSection(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []byte
	}{
		{
			// loop at 0, patch at 4: 0 - 4 - 2 = -6
			"backward jump",
			".section text\nloop: halt\njmp %loop",
			[]byte{0x00, 0x50, 0xFF, 0x0B, 0xFA, 0xFF},
		},
		{
			// end at 6, patch at 3: 6 - 3 - 2 = 1
			"forward jump",
			".section text\njmp %end\nhalt\nend: ret",
			[]byte{0x50, 0xFF, 0x0B, 0x01, 0x00, 0x00, 0x40},
		},
		{
			"forward data",
			".section text\nldr r1, %val\nhalt\nval: .word 7",
			[]byte{0xA0, 0x1F, 0x04, 0x01, 0x00, 0x00, 0x07, 0x00},
		},
		{
			"global symbol stays direct",
			".global f\n.section text\njmp %f\nf: ret",
			[]byte{0x50, 0xFF, 0x0B, 0x00, 0x00, 0x40},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Assemble(tc.src)
			if err != nil {
				t.Fatal(err)
			}
			if got := section(t, f, "text"); !bytes.Equal(got, tc.want) {
				t.Errorf("text = % X, want % X", got, tc.want)
			}
			if len(f.Relocations) != 0 {
				t.Errorf("unexpected relocations: %+v", f.Relocations)
			}
		})
	}
}

func TestRelocations(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []obj.Relocation
	}{
		{
			"local absolute backward",
			".section data\n.word 1\nx: .word 2\n.section text\nldr r0, x",
			[]obj.Relocation{{Section: 2, Offset: 3, Type: obj.Abs16, Symbol: "data", Addend: 2}},
		},
		{
			"local absolute forward",
			".section text\nldr r0, $x\n.section data\n.skip 4\nx: .word 0",
			[]obj.Relocation{{Section: 1, Offset: 3, Type: obj.Abs16, Symbol: "data", Addend: 4}},
		},
		{
			"global declared after use",
			".section text\nhalt\nx: halt\njmp x\n.global x",
			[]obj.Relocation{{Section: 1, Offset: 5, Type: obj.Abs16, Symbol: "x", Addend: 0}},
		},
		{
			"pc-relative cross section global",
			".global f\n.section a\nf: halt\n.section b\ncall %f",
			[]obj.Relocation{{Section: 2, Offset: 3, Type: obj.PCRel16, Symbol: "f", Addend: -2}},
		},
		{
			"pc-relative cross section local",
			".section a\nhalt\nf: halt\n.section b\ncall %f",
			[]obj.Relocation{{Section: 2, Offset: 3, Type: obj.PCRel16, Symbol: "a", Addend: -1}},
		},
		{
			"pc-relative cross section forward local",
			".section b\ncall %f\n.section a\nhalt\nf: halt",
			[]obj.Relocation{{Section: 1, Offset: 3, Type: obj.PCRel16, Symbol: "a", Addend: -1}},
		},
		{
			"pc-relative local made global",
			".section a\nhalt\nf: halt\n.section b\ncall %f\n.global f",
			[]obj.Relocation{{Section: 2, Offset: 3, Type: obj.PCRel16, Symbol: "f", Addend: -2}},
		},
		{
			"extern",
			".extern putc\n.section t\ncall putc\n.word putc\njmp %putc",
			[]obj.Relocation{
				{Section: 1, Offset: 3, Type: obj.Abs16, Symbol: "putc"},
				{Section: 1, Offset: 5, Type: obj.Abs16, Symbol: "putc"},
				{Section: 1, Offset: 10, Type: obj.PCRel16, Symbol: "putc", Addend: -2},
			},
		},
		{
			"section symbol",
			".section data\n.section text\nldr r1, $data",
			[]obj.Relocation{{Section: 2, Offset: 3, Type: obj.Abs16, Symbol: "data"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Assemble(tc.src)
			if err != nil {
				t.Fatal(err)
			}
			var got []obj.Relocation
			for _, r := range f.Relocations {
				got = append(got, *r)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("relocations = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDirectives(t *testing.T) {
	f, err := Assemble(`
.section a
	halt
.section b
	ret
.section a
x:	iret
	.skip 3
	.word 0x1234, -1
.end
	this line is never read
`)
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte{0x00, 0x20, 0, 0, 0}, encodeWords(0x1234, 0xFFFF)...)
	if got := section(t, f, "a"); !bytes.Equal(got, want) {
		t.Errorf("section a = % X, want % X", got, want)
	}
	if got := section(t, f, "b"); !bytes.Equal(got, []byte{0x40}) {
		t.Errorf("section b = % X", got)
	}
	x := f.Symbols[f.FindSymbol("x")]
	if x.Value != 1 || f.Sections[x.Section].Name != "a" {
		t.Errorf("x = %+v, want value 1 in a", *x)
	}
	for _, s := range f.Sections {
		if int(s.Length) != len(s.Data) {
			t.Errorf("section %s length %d, data %d", s.Name, s.Length, len(s.Data))
		}
	}
}

const multiSectionProgram = `
# prints a string through the terminal register
.global main, msg_len
.extern putc

.section text
main:
	ldr r1, $msg
	ldr r2, msg_len
loop:
	ldr r0, [r1]
	push r0
	call putc
	pop r0
	ldr r3, $1
	add r1, r3
	sub r2, r3
	ldr r4, $0
	cmp r2, r4
	jne %loop
	jmp %done
done:
	halt

.section data
msg:
	.word 0x48, 0x69
msg_len:
	.word 2
`

func TestBackpatchCompleteness(t *testing.T) {
	programs := []string{
		multiSectionProgram,
		".section text\njmp %end\nldr r1, $x\n.word x\nend: halt\n.section data\nx: .word 0",
		".global late\n.section a\ncall late\ncall %late\nlate: ret",
	}
	for _, src := range programs {
		a := NewAssembler()
		f, err := a.Assemble(src)
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if len(a.forward) != 0 {
			t.Errorf("%d symbols still have forward references", len(a.forward))
		}
		for _, r := range f.Relocations {
			idx := f.FindSymbol(r.Symbol)
			if idx < 0 {
				t.Errorf("relocation references unknown symbol %s", r.Symbol)
				continue
			}
			s := f.Symbols[idx]
			if s.Kind != obj.KindSection && s.Visibility != obj.Global {
				t.Errorf("relocation references local symbol %s", s.Name)
			}
		}
	}
}

func TestObjectRoundTrip(t *testing.T) {
	f, err := Assemble(multiSectionProgram)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := obj.Write(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := obj.Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Sections, f.Sections) {
		t.Errorf("sections differ after round trip")
	}
	if !reflect.DeepEqual(got.Relocations, f.Relocations) {
		t.Errorf("relocations differ after round trip")
	}
	for _, name := range []string{"main", "msg_len", "putc", "text", "data"} {
		if got.FindSymbol(name) < 0 {
			t.Errorf("symbol %s missing after round trip", name)
		}
	}
	for _, name := range []string{"loop", "done", "msg"} {
		if got.FindSymbol(name) >= 0 {
			t.Errorf("local symbol %s written to object file", name)
		}
	}
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"halt # stop", "halt "},
		{"# all comment", ""},
		{"no comment", "no comment"},
	}
	for _, tc := range tests {
		if got := stripComments(tc.input); got != tc.want {
			t.Errorf("stripComments(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
