// Command ld links object files into a flat memory image.
//
//	ld [-hex] [-o out.hex] a.o b.o ...
//
// Modules are laid out in command-line order. With -hex the image is also
// dumped to <out>.txt and the exported symbols to <out>_symbols.txt.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"ss16/pkg/link"
	"ss16/pkg/obj"
	"ss16/pkg/utils"
)

var errUsage = errors.New("usage: ld [-hex] [-o out.hex] a.o b.o ...")

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
	fs := flag.NewFlagSet("ld", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outPath := fs.String("o", "out.hex", "output image")
	hex := fs.Bool("hex", false, "also write a hex dump and a symbol table")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	mods, err := loadModules(fs.Args())
	if err != nil {
		return err
	}
	l, err := link.NewLinker(mods)
	if err != nil {
		return err
	}
	img, err := l.Run()
	if err != nil {
		return err
	}

	var imgBuf bytes.Buffer
	if err := obj.WriteImage(&imgBuf, img); err != nil {
		return err
	}
	outputs := []utils.File{{Path: *outPath, Data: imgBuf.Bytes()}}
	if *hex {
		var dump, syms bytes.Buffer
		if err := obj.DumpImage(&dump, img); err != nil {
			return err
		}
		if err := obj.DumpSymbols(&syms, l.Symbols()); err != nil {
			return err
		}
		outputs = append(outputs,
			utils.File{Path: utils.ReplaceExt(*outPath, ".txt"), Data: dump.Bytes()},
			utils.File{Path: utils.ReplaceExt(*outPath, "_symbols.txt"), Data: syms.Bytes()},
		)
	}

	if err := utils.WriteFilesAtomic(outputs); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func loadModules(paths []string) ([]link.Module, error) {
	mods := make([]link.Module, 0, len(paths))
	for _, p := range paths {
		fh, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		f, err := obj.Read(fh)
		fh.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		mods = append(mods, link.Module{Name: p, File: f})
	}
	return mods, nil
}
