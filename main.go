//go:build !js

package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ss16/pkg/asm"
	"ss16/pkg/cpu"
	"ss16/pkg/link"
	"ss16/pkg/obj"
	"ss16/pkg/utils"
)

func main() {
	outPath := flag.String("o", "", "output image path (default: first source with .hex extension)")
	runProgram := flag.Bool("run", false, "run the linked image on the emulator")
	maxSteps := flag.Uint64("steps", 0, "stop the emulator after this many instructions (0 = no limit)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-o out.hex] [-run] a.s b.s ...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "nothing to do: provide one or more assembly sources")
		flag.Usage()
		os.Exit(2)
	}

	img, err := buildImage(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	output := *outPath
	if output == "" {
		output = utils.ReplaceExt(flag.Arg(0), ".hex")
	}
	var buf bytes.Buffer
	if err := obj.WriteImage(&buf, img); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode image: %v\n", err)
		os.Exit(1)
	}
	if err := utils.WriteFileAtomic(output, buf.Bytes()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write image %q: %v\n", output, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "linked %d bytes -> %s\n", len(img), output)

	if !*runProgram {
		return
	}
	vm, err := runImage(img, os.Stdout, *maxSteps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "\nrun complete: %s\n", registerLine(vm))
}

// buildImage assembles every source in memory and links the results in
// command-line order.
func buildImage(paths []string) ([]byte, error) {
	mods := make([]link.Module, 0, len(paths))
	for _, p := range paths {
		source, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read source %q: %w", p, err)
		}
		f, err := asm.Assemble(string(source))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		mods = append(mods, link.Module{Name: p, File: f})
	}
	img, err := link.Link(mods)
	if err != nil {
		return nil, fmt.Errorf("link failed: %w", err)
	}
	return img, nil
}

// runImage loads img and runs it until halt, sending term_out to out.
func runImage(img []byte, out io.Writer, maxSteps uint64) (*cpu.CPU, error) {
	vm := cpu.NewCPU()
	vm.Output = out
	if err := vm.Load(img); err != nil {
		return nil, err
	}
	if err := vm.RunUntilDone(maxSteps); err != nil {
		if errors.Is(err, cpu.ErrStepLimit) {
			return vm, fmt.Errorf("%w (%s)", err, registerLine(vm))
		}
		return vm, err
	}
	return vm, nil
}

func registerLine(vm *cpu.CPU) string {
	return fmt.Sprintf("PC=0x%04X SP=0x%04X PSW=0x%04X R0=0x%04X R1=0x%04X R2=0x%04X R3=0x%04X steps=%d",
		vm.Regs[cpu.PC], vm.Regs[cpu.SP], vm.PSW,
		vm.Regs[0], vm.Regs[1], vm.Regs[2], vm.Regs[3], vm.Steps)
}
