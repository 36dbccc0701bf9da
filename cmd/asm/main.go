// Command asm assembles one source file into a relocatable object file.
//
//	asm [-txt] [-o out.o] in.s
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"ss16/pkg/asm"
	"ss16/pkg/obj"
	"ss16/pkg/utils"
)

var errUsage = errors.New("usage: asm [-txt] [-o out.o] in.s")

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("asm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outPath := fs.String("o", "", "output object file (default: input with .o extension)")
	text := fs.Bool("txt", false, "also write a text dump to <out>.txt")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	inPath := fs.Arg(0)
	output := *outPath
	if output == "" {
		output = utils.ReplaceExt(inPath, ".o")
	}

	source, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("failed to read source %q: %w", inPath, err)
	}
	f, err := asm.Assemble(string(source))
	if err != nil {
		return fmt.Errorf("%s: %w", inPath, err)
	}

	var objBuf bytes.Buffer
	if err := obj.Write(&objBuf, f); err != nil {
		return fmt.Errorf("failed to encode object: %w", err)
	}
	outputs := []utils.File{{Path: output, Data: objBuf.Bytes()}}
	if *text {
		var txtBuf bytes.Buffer
		if err := f.Dump(&txtBuf); err != nil {
			return fmt.Errorf("failed to dump object: %w", err)
		}
		outputs = append(outputs, utils.File{Path: output + ".txt", Data: txtBuf.Bytes()})
	}

	if err := utils.WriteFilesAtomic(outputs); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
