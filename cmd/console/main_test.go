package main

import (
	"bytes"
	"errors"
	"testing"

	"ss16/pkg/asm"
	"ss16/pkg/cpu"
	"ss16/pkg/link"
)

const echoProgram = `
.section ivt
.word start, fault, 0, keyboard
.section text
start:
	jmp %start
keyboard:
	push r0
	ldr r0, 0xFF02
	str r0, 0xFF00
	pop r0
	iret
fault:
	halt
`

func loadProgram(t *testing.T, src string) (*cpu.CPU, *bytes.Buffer) {
	t.Helper()
	f, err := asm.Assemble(src)
	if err != nil {
		t.Fatal(err)
	}
	img, err := link.Link([]link.Module{{Name: "p.o", File: f}})
	if err != nil {
		t.Fatal(err)
	}
	vm := cpu.NewCPU()
	out := new(bytes.Buffer)
	vm.Output = out
	if err := vm.Load(img); err != nil {
		t.Fatal(err)
	}
	return vm, out
}

func TestTranslateKey(t *testing.T) {
	tests := []struct{ in, want byte }{
		{'\r', '\n'},
		{0x7F, 0x08},
		{'a', 'a'},
		{'\n', '\n'},
	}
	for _, tc := range tests {
		if got := translateKey(tc.in); got != tc.want {
			t.Errorf("translateKey(%#x) = %#x, want %#x", tc.in, got, tc.want)
		}
	}
}

func TestCRLFWriter(t *testing.T) {
	var buf bytes.Buffer
	n, err := crlfWriter{&buf}.Write([]byte("a\nb\n"))
	if err != nil || n != 4 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if buf.String() != "a\r\nb\r\n" {
		t.Errorf("wrote %q", buf.String())
	}
}

func TestRunEchoesUntilInterrupted(t *testing.T) {
	vm, out := loadProgram(t, echoProgram)
	keys := make(chan byte, 8)
	for _, k := range []byte("hi") {
		keys <- k
	}
	keys <- ctrlC

	if err := run(vm, keys, 0); !errors.Is(err, errInterrupted) {
		t.Fatalf("run() = %v, want errInterrupted", err)
	}
	if string(vm.KeyBuffer) != "hi" {
		t.Fatalf("queued keys = %q, want %q", vm.KeyBuffer, "hi")
	}

	if err := vm.RunUntilDone(1000); !errors.Is(err, cpu.ErrStepLimit) {
		t.Fatalf("RunUntilDone() = %v", err)
	}
	if out.String() != "hi" {
		t.Errorf("output = %q, want %q", out.String(), "hi")
	}
}

func TestRunStepLimit(t *testing.T) {
	vm, _ := loadProgram(t, echoProgram)
	if err := run(vm, nil, 25000); !errors.Is(err, cpu.ErrStepLimit) {
		t.Errorf("run() = %v, want ErrStepLimit", err)
	}
	if vm.Steps != 25000 {
		t.Errorf("ran %d steps, want 25000", vm.Steps)
	}
}

func TestRunUntilHalt(t *testing.T) {
	vm, out := loadProgram(t, ".section ivt\n.word start\n.section text\nstart: ldr r0, $0x41\nstr r0, 0xFF00\nhalt\n")
	keys := make(chan byte)
	close(keys)
	if err := run(vm, keys, 0); err != nil {
		t.Fatal(err)
	}
	if out.String() != "A" {
		t.Errorf("output = %q, want %q", out.String(), "A")
	}
}
