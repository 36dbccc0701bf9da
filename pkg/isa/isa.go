// Package isa describes the instruction set shared by the assembler and the
// emulator: opcodes, addressing-mode codes, registers and the mnemonic table.
package isa

import "strings"

const (
	OpHALT uint8 = 0x00
	OpINT  uint8 = 0x10
	OpIRET uint8 = 0x20
	OpCALL uint8 = 0x30
	OpRET  uint8 = 0x40
	OpJMP  uint8 = 0x50
	OpJEQ  uint8 = 0x51
	OpJNE  uint8 = 0x52
	OpJGT  uint8 = 0x53
	OpXCHG uint8 = 0x60
	OpADD  uint8 = 0x70
	OpSUB  uint8 = 0x71
	OpMUL  uint8 = 0x72
	OpDIV  uint8 = 0x73
	OpCMP  uint8 = 0x74
	OpNOT  uint8 = 0x80
	OpAND  uint8 = 0x81
	OpOR   uint8 = 0x82
	OpXOR  uint8 = 0x83
	OpTEST uint8 = 0x84
	OpSHL  uint8 = 0x90
	OpSHR  uint8 = 0x91
	OpLDR  uint8 = 0xA0
	OpSTR  uint8 = 0xB0
	OpPUSH uint8 = 0xE0
	OpPOP  uint8 = 0xF0
)

// AddrMode is the addressing-mode byte written after the register descriptor.
type AddrMode uint8

// Data movement modes (ldr/str).
const (
	Immediate         AddrMode = iota // $<literal>
	ImmediateSymbol                   // $<symbol>
	MemDirLiteral                     // <literal>
	MemDirSymbolAbs                   // <symbol>
	MemDirSymbolPCRel                 // %<symbol>
	RegDir                            // <reg>
	RegInd                            // [<reg>]
	RegIndLiteral                     // [<reg> + <literal>]
	RegIndSymbol                      // [<reg> + <symbol>]
)

// Control transfer modes.
const (
	ImmediateJmp            AddrMode = iota + 9 // <literal>
	ImmediateSymbolAbsJmp                       // <symbol>
	ImmediateSymbolPCRelJmp                     // %<symbol>
	MemDirLiteralJmp                            // *<literal>
	MemDirSymbolJmp                             // *<symbol>
	RegDirJmp                                   // *<reg>
	RegIndJmp                                   // *[<reg>]
	RegIndLiteralJmp                            // *[<reg> + <literal>]
	RegIndSymbolJmp                             // *[<reg> + <symbol>]
)

// IsJump reports whether m belongs to the control-transfer family.
func (m AddrMode) IsJump() bool {
	return m >= ImmediateJmp && m <= RegIndSymbolJmp
}

// HasPayload reports whether an instruction using m carries a 2-byte operand.
func (m AddrMode) HasPayload() bool {
	switch m {
	case RegDir, RegInd, RegDirJmp, RegIndJmp:
		return false
	}
	return m <= RegIndSymbolJmp
}

// UsesSymbol reports whether the operand payload is a symbol reference.
func (m AddrMode) UsesSymbol() bool {
	switch m {
	case ImmediateSymbol, MemDirSymbolAbs, MemDirSymbolPCRel, RegIndSymbol,
		ImmediateSymbolAbsJmp, ImmediateSymbolPCRelJmp, MemDirSymbolJmp, RegIndSymbolJmp:
		return true
	}
	return false
}

// IsPCRelative reports whether the payload is an offset from the next instruction.
func (m AddrMode) IsPCRelative() bool {
	return m == MemDirSymbolPCRel || m == ImmediateSymbolPCRelJmp
}

// UsesRegister reports whether the register descriptor names a source register.
func (m AddrMode) UsesRegister() bool {
	switch m {
	case RegDir, RegInd, RegIndLiteral, RegIndSymbol,
		RegDirJmp, RegIndJmp, RegIndLiteralJmp, RegIndSymbolJmp:
		return true
	}
	return false
}

var modeNames = [...]string{
	"immediate", "immediate symbol", "memory direct", "memory direct symbol",
	"pc-relative symbol", "register direct", "register indirect",
	"register indirect + literal", "register indirect + symbol",
	"jump immediate", "jump symbol", "jump pc-relative symbol",
	"jump memory direct", "jump memory direct symbol", "jump register direct",
	"jump register indirect", "jump register indirect + literal",
	"jump register indirect + symbol",
}

func (m AddrMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// Registers. r6 doubles as the stack pointer and r7 as the program counter.
const (
	RegSP  uint8 = 6
	RegPC  uint8 = 7
	RegPSW uint8 = 8
)

// ParseRegister maps r0-r7, sp, pc and psw (any case) to a register number.
func ParseRegister(s string) (uint8, bool) {
	switch strings.ToLower(s) {
	case "r0":
		return 0, true
	case "r1":
		return 1, true
	case "r2":
		return 2, true
	case "r3":
		return 3, true
	case "r4":
		return 4, true
	case "r5":
		return 5, true
	case "r6", "sp":
		return RegSP, true
	case "r7", "pc":
		return RegPC, true
	case "psw":
		return RegPSW, true
	}
	return 0, false
}

// Family selects how an instruction's operands are laid out.
type Family uint8

const (
	FamilyNone   Family = iota // opcode only
	FamilyReg                  // opcode, rD<<4|0xF
	FamilyRegLow               // opcode, rD<<4
	FamilyRegReg               // opcode, rD<<4|rS
	FamilyJump                 // opcode, 0xFF or 0xF0|r, mode[, lo, hi]
	FamilyData                 // opcode, rD<<4|0xF or rD<<4|rS, mode[, lo, hi]
)

// Info is one row of the mnemonic table.
type Info struct {
	Opcode   uint8
	Operands int
	Family   Family
}

var mnemonics = map[string]Info{
	"halt": {OpHALT, 0, FamilyNone},
	"iret": {OpIRET, 0, FamilyNone},
	"ret":  {OpRET, 0, FamilyNone},
	"int":  {OpINT, 1, FamilyReg},
	"push": {OpPUSH, 1, FamilyReg},
	"not":  {OpNOT, 1, FamilyReg},
	"pop":  {OpPOP, 1, FamilyRegLow},
	"xchg": {OpXCHG, 2, FamilyRegReg},
	"add":  {OpADD, 2, FamilyRegReg},
	"sub":  {OpSUB, 2, FamilyRegReg},
	"mul":  {OpMUL, 2, FamilyRegReg},
	"div":  {OpDIV, 2, FamilyRegReg},
	"cmp":  {OpCMP, 2, FamilyRegReg},
	"and":  {OpAND, 2, FamilyRegReg},
	"or":   {OpOR, 2, FamilyRegReg},
	"xor":  {OpXOR, 2, FamilyRegReg},
	"test": {OpTEST, 2, FamilyRegReg},
	"shl":  {OpSHL, 2, FamilyRegReg},
	"shr":  {OpSHR, 2, FamilyRegReg},
	"call": {OpCALL, 1, FamilyJump},
	"jmp":  {OpJMP, 1, FamilyJump},
	"jeq":  {OpJEQ, 1, FamilyJump},
	"jne":  {OpJNE, 1, FamilyJump},
	"jgt":  {OpJGT, 1, FamilyJump},
	"ldr":  {OpLDR, 2, FamilyData},
	"str":  {OpSTR, 2, FamilyData},
}

// Lookup returns the table row for a mnemonic, case-insensitively.
func Lookup(mnemonic string) (Info, bool) {
	s, ok := mnemonics[strings.ToLower(mnemonic)]
	return s, ok
}

// Length returns the encoded size of an instruction of the given family
// whose last operand uses mode.
func Length(f Family, mode AddrMode) uint16 {
	switch f {
	case FamilyNone:
		return 1
	case FamilyReg, FamilyRegLow, FamilyRegReg:
		return 2
	}
	if mode.HasPayload() {
		return 5
	}
	return 3
}
