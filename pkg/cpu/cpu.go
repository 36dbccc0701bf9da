// Package cpu emulates the 16-bit machine that runs linked images.
package cpu

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"

	"ss16/pkg/isa"
)

// PSW flag bits.
const (
	FlagZ uint16 = 1 << 0
	FlagO uint16 = 1 << 1
	FlagC uint16 = 1 << 2
	FlagN uint16 = 1 << 3
	FlagI uint16 = 1 << 15 // interrupts masked
)

// Interrupt vector table entries; entry n is the word at address 2n.
// Entry 2 is reserved for a timer.
const (
	IVTReset    = 0
	IVTInvalid  = 1
	IVTTerminal = 3
)

// Memory-mapped registers.
const (
	TermOut uint16 = 0xFF00
	TermIn  uint16 = 0xFF02
)

const DefaultSP uint16 = 0xFF00

const (
	SP = isa.RegSP
	PC = isa.RegPC
)

var ErrStepLimit = errors.New("step limit reached before halt")

type CPU struct {
	// Regs holds r0-r7; r6 is the stack pointer and r7 the program counter.
	Regs [8]uint16
	PSW  uint16

	Memory [65536]byte

	Halted bool

	// KeyBuffer holds keys not yet delivered through term_in.
	KeyBuffer        []byte
	InterruptPending bool

	// Output receives bytes written to term_out. If nil, os.Stdout is used.
	Output io.Writer

	Steps uint64
}

// State is the serializable part of a CPU.
type State struct {
	Regs             [8]uint16
	PSW              uint16
	Memory           [65536]byte
	Halted           bool
	KeyBuffer        []byte
	InterruptPending bool
	Steps            uint64
}

func (c *CPU) getState() State {
	return State{
		Regs:             c.Regs,
		PSW:              c.PSW,
		Memory:           c.Memory,
		Halted:           c.Halted,
		KeyBuffer:        append([]byte(nil), c.KeyBuffer...),
		InterruptPending: c.InterruptPending,
		Steps:            c.Steps,
	}
}

func (c *CPU) restoreState(s State) {
	c.Regs = s.Regs
	c.PSW = s.PSW
	c.Memory = s.Memory
	c.Halted = s.Halted
	c.KeyBuffer = s.KeyBuffer
	c.InterruptPending = s.InterruptPending
	c.Steps = s.Steps
}

// Snapshot encodes the machine state with gob.
func (c *CPU) Snapshot() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c.getState()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Restore replaces the machine state with one produced by Snapshot.
func (c *CPU) Restore(data []byte) error {
	var s State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	c.restoreState(s)
	return nil
}

func (c *CPU) outputSink() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}

func NewCPU() *CPU {
	c := &CPU{}
	c.Regs[SP] = DefaultSP
	return c
}

// Load copies img to address 0 and resets the machine.
func (c *CPU) Load(img []byte) error {
	if len(img) > len(c.Memory) {
		return fmt.Errorf("image of %d bytes does not fit in memory", len(img))
	}
	c.Memory = [65536]byte{}
	copy(c.Memory[:], img)
	c.Reset()
	return nil
}

// Reset starts execution at the address stored in IVT entry 0.
func (c *CPU) Reset() {
	c.Regs = [8]uint16{}
	c.Regs[SP] = DefaultSP
	c.Regs[PC] = c.Read16(IVTReset * 2)
	c.PSW = 0
	c.Halted = false
	c.KeyBuffer = nil
	c.InterruptPending = false
	c.Steps = 0
}

// PushKey queues a key for the terminal and requests an interrupt.
func (c *CPU) PushKey(key byte) {
	c.KeyBuffer = append(c.KeyBuffer, key)
	c.InterruptPending = true
}

// Read16 reads a little-endian word.
func (c *CPU) Read16(addr uint16) uint16 {
	return uint16(c.Memory[addr]) | uint16(c.Memory[addr+1])<<8
}

// Write16 writes a little-endian word. Writing term_out also prints the low
// byte.
func (c *CPU) Write16(addr uint16, val uint16) {
	c.Memory[addr] = byte(val)
	c.Memory[addr+1] = byte(val >> 8)
	if addr == TermOut {
		c.outputSink().Write([]byte{byte(val)})
	}
}

func (c *CPU) push(v uint16) {
	c.Regs[SP] -= 2
	c.Write16(c.Regs[SP], v)
}

func (c *CPU) pop() uint16 {
	v := c.Read16(c.Regs[SP])
	c.Regs[SP] += 2
	return v
}

func (c *CPU) fetch() byte {
	b := c.Memory[c.Regs[PC]]
	c.Regs[PC]++
	return b
}

func (c *CPU) fetch16() uint16 {
	lo := c.fetch()
	hi := c.fetch()
	return uint16(lo) | uint16(hi)<<8
}

// reg returns the register numbered r; 8 is the PSW.
func (c *CPU) reg(r uint8) *uint16 {
	switch {
	case r < 8:
		return &c.Regs[r]
	case r == isa.RegPSW:
		return &c.PSW
	}
	return nil
}

func (c *CPU) setFlag(f uint16, on bool) {
	if on {
		c.PSW |= f
	} else {
		c.PSW &^= f
	}
}

func (c *CPU) setZN(v uint16) {
	c.setFlag(FlagZ, v == 0)
	c.setFlag(FlagN, v&0x8000 != 0)
}

func (c *CPU) interrupt(entry uint16) {
	c.push(c.PSW)
	c.push(c.Regs[PC])
	c.PSW |= FlagI
	c.Regs[PC] = c.Read16((entry % 8) * 2)
}

func (c *CPU) invalid() {
	c.Regs[PC] = c.Read16(IVTInvalid * 2)
}

// operand is a decoded source operand: either a value or a memory address.
type operand struct {
	mode  isa.AddrMode
	reg   uint8
	value uint16
	addr  uint16
	mem   bool
}

// decodeOperand reads the addressing-mode byte and any payload. src is the
// register named in the low nibble of the descriptor.
func (c *CPU) decodeOperand(src uint8) (operand, bool) {
	op := operand{mode: isa.AddrMode(c.fetch()), reg: src}
	if op.mode > isa.RegIndSymbolJmp {
		return op, false
	}

	var payload uint16
	if op.mode.HasPayload() {
		payload = c.fetch16()
	}
	var r uint16
	if op.mode.UsesRegister() {
		p := c.reg(src)
		if p == nil {
			return op, false
		}
		r = *p
	}

	switch op.mode {
	case isa.Immediate, isa.ImmediateSymbol, isa.ImmediateJmp, isa.ImmediateSymbolAbsJmp:
		op.value = payload
	case isa.ImmediateSymbolPCRelJmp:
		op.value = c.Regs[PC] + payload
	case isa.MemDirLiteral, isa.MemDirSymbolAbs, isa.MemDirLiteralJmp, isa.MemDirSymbolJmp:
		op.addr, op.mem = payload, true
	case isa.MemDirSymbolPCRel:
		op.addr, op.mem = c.Regs[PC]+payload, true
	case isa.RegDir, isa.RegDirJmp:
		op.value = r
	case isa.RegInd, isa.RegIndJmp:
		op.addr, op.mem = r, true
	default: // register indirect with displacement
		op.addr, op.mem = r+payload, true
	}
	return op, true
}

func (c *CPU) load(op operand) uint16 {
	if op.mem {
		return c.Read16(op.addr)
	}
	return op.value
}

func (c *CPU) Step() {
	if c.Halted {
		return
	}

	if c.InterruptPending && c.PSW&FlagI == 0 && len(c.KeyBuffer) > 0 {
		key := c.KeyBuffer[0]
		c.KeyBuffer = c.KeyBuffer[1:]
		c.InterruptPending = len(c.KeyBuffer) > 0
		c.Write16(TermIn, uint16(key))
		c.interrupt(IVTTerminal)
	}

	c.Steps++
	opcode := c.fetch()
	switch opcode {
	case isa.OpHALT:
		c.Halted = true
		return
	case isa.OpIRET:
		c.Regs[PC] = c.pop()
		c.PSW = c.pop()
		return
	case isa.OpRET:
		c.Regs[PC] = c.pop()
		return
	}

	desc := c.fetch()
	rd, rs := desc>>4, desc&0x0F

	switch opcode {
	case isa.OpINT:
		p := c.reg(rd)
		if p == nil {
			c.invalid()
			return
		}
		c.interrupt(*p)

	case isa.OpPUSH:
		p := c.reg(rd)
		if p == nil {
			c.invalid()
			return
		}
		c.push(*p)

	case isa.OpPOP:
		p := c.reg(rd)
		if p == nil {
			c.invalid()
			return
		}
		*p = c.pop()

	case isa.OpNOT:
		p := c.reg(rd)
		if p == nil {
			c.invalid()
			return
		}
		*p = ^*p

	case isa.OpXCHG, isa.OpADD, isa.OpSUB, isa.OpMUL, isa.OpDIV, isa.OpCMP,
		isa.OpAND, isa.OpOR, isa.OpXOR, isa.OpTEST, isa.OpSHL, isa.OpSHR:
		d, s := c.reg(rd), c.reg(rs)
		if d == nil || s == nil {
			c.invalid()
			return
		}
		if !c.alu(opcode, d, s) {
			c.invalid()
		}

	case isa.OpCALL, isa.OpJMP, isa.OpJEQ, isa.OpJNE, isa.OpJGT:
		op, ok := c.decodeOperand(rs)
		if !ok || !op.mode.IsJump() {
			c.invalid()
			return
		}
		target := c.load(op)
		switch opcode {
		case isa.OpCALL:
			c.push(c.Regs[PC])
			c.Regs[PC] = target
		case isa.OpJMP:
			c.Regs[PC] = target
		case isa.OpJEQ:
			if c.PSW&FlagZ != 0 {
				c.Regs[PC] = target
			}
		case isa.OpJNE:
			if c.PSW&FlagZ == 0 {
				c.Regs[PC] = target
			}
		case isa.OpJGT:
			n, o := c.PSW&FlagN != 0, c.PSW&FlagO != 0
			if c.PSW&FlagZ == 0 && n == o {
				c.Regs[PC] = target
			}
		}

	case isa.OpLDR, isa.OpSTR:
		d := c.reg(rd)
		if d == nil {
			c.invalid()
			return
		}
		op, ok := c.decodeOperand(rs)
		if !ok || op.mode.IsJump() {
			c.invalid()
			return
		}
		if opcode == isa.OpLDR {
			*d = c.load(op)
			return
		}
		switch {
		case op.mem:
			c.Write16(op.addr, *d)
		case op.mode == isa.RegDir:
			*c.reg(rs) = *d
		default:
			c.invalid()
		}

	default:
		c.invalid()
	}
}

// alu executes a two-register instruction. It reports false on division by
// zero.
func (c *CPU) alu(opcode byte, d, s *uint16) bool {
	a, b := *d, *s
	switch opcode {
	case isa.OpXCHG:
		*d, *s = b, a
	case isa.OpADD:
		*d = a + b
	case isa.OpSUB:
		*d = a - b
	case isa.OpMUL:
		*d = a * b
	case isa.OpDIV:
		if b == 0 {
			return false
		}
		*d = a / b
	case isa.OpAND:
		*d = a & b
	case isa.OpOR:
		*d = a | b
	case isa.OpXOR:
		*d = a ^ b
	case isa.OpCMP:
		r := a - b
		c.setZN(r)
		c.setFlag(FlagC, a < b)
		c.setFlag(FlagO, (a^b)&(a^r)&0x8000 != 0)
	case isa.OpTEST:
		c.setZN(a & b)
	case isa.OpSHL:
		r := a << b
		c.setZN(r)
		c.setFlag(FlagC, b > 0 && b <= 16 && a&(1<<(16-b)) != 0)
		*d = r
	case isa.OpSHR:
		r := a >> b
		c.setZN(r)
		c.setFlag(FlagC, b > 0 && b <= 16 && a&(1<<(b-1)) != 0)
		*d = r
	}
	return true
}

func (c *CPU) Run() {
	for !c.Halted {
		c.Step()
	}
}

// RunUntilDone steps until the machine halts or limit instructions have run.
// A limit of 0 means no limit.
func (c *CPU) RunUntilDone(limit uint64) error {
	start := c.Steps
	for !c.Halted {
		if limit > 0 && c.Steps-start >= limit {
			return ErrStepLimit
		}
		c.Step()
	}
	return nil
}
