// Command console runs a linked image with the terminal attached to the
// emulator's memory-mapped terminal.
//
//	console [-steps N] [-save state.zip] [-resume state.zip] [-screenshot mem.png] image.hex
//
// Keys typed on stdin are delivered through term_in; Ctrl-C stops the
// machine.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/term"

	"ss16/pkg/cpu"
	"ss16/pkg/obj"
	"ss16/pkg/utils"
)

const (
	ctrlC     = 0x03
	batchSize = 10000
)

var errInterrupted = errors.New("interrupted")

func main() {
	os.Exit(console())
}

// console runs the machine and returns the exit status, so deferred terminal
// restoration happens before the process exits.
func console() int {
	steps := flag.Uint64("steps", 0, "stop after this many instructions (0 = no limit)")
	savePath := flag.String("save", "", "hibernate the machine to this file when it stops")
	resumePath := flag.String("resume", "", "resume from a hibernation file instead of loading an image")
	shotPath := flag.String("screenshot", "", "write a PNG memory map when the machine stops")
	flag.Parse()

	if flag.NArg() != 1 && *resumePath == "" {
		fmt.Fprintln(os.Stderr, "usage: console [-steps N] [-save f] [-resume f] [-screenshot f] image.hex")
		return 2
	}

	vm := cpu.NewCPU()
	if *resumePath != "" {
		if err := vm.RestoreFromFile(*resumePath); err != nil {
			log.Printf("failed to resume from %s: %v", *resumePath, err)
			return 1
		}
	} else {
		fullPath, _, err := utils.GetPathInfo(flag.Arg(0))
		if err != nil {
			log.Printf("bad image path: %v", err)
			return 1
		}
		img, err := readImage(fullPath)
		if err != nil {
			log.Printf("failed to read image: %v", err)
			return 1
		}
		if err := vm.Load(img); err != nil {
			log.Printf("failed to load image: %v", err)
			return 1
		}
	}

	fd := int(os.Stdin.Fd())
	out := io.Writer(os.Stdout)
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			log.Printf("failed to set raw mode: %v", err)
			return 1
		}
		defer term.Restore(fd, oldState)
		out = crlfWriter{os.Stdout}
	}
	vm.Output = out

	runErr := run(vm, readKeys(os.Stdin), *steps)

	status := 0
	if *savePath != "" {
		if err := vm.HibernateToFile(*savePath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to save state: %v\r\n", err)
			status = 1
		}
	}
	if *shotPath != "" {
		if err := vm.SaveScreenshot(*shotPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to save memory map: %v\r\n", err)
			status = 1
		}
	}
	if runErr != nil && !errors.Is(runErr, errInterrupted) {
		fmt.Fprintf(os.Stderr, "\r\n%v\r\n", runErr)
		status = 1
	}
	return status
}

func readImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return obj.ReadImage(bytes.NewReader(data))
}

// readKeys forwards stdin bytes over a channel until stdin closes.
func readKeys(r io.Reader) <-chan byte {
	keys := make(chan byte, 64)
	go func() {
		defer close(keys)
		buf := make([]byte, 1)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				keys <- translateKey(buf[0])
			}
			if err != nil {
				return
			}
		}
	}()
	return keys
}

// translateKey maps raw-mode Enter and Backspace to LF and BS.
func translateKey(b byte) byte {
	switch b {
	case '\r':
		return '\n'
	case 0x7F:
		return 0x08
	}
	return b
}

// run steps vm in batches, feeding it keys between batches, until it halts,
// the step limit is hit or Ctrl-C arrives.
func run(vm *cpu.CPU, keys <-chan byte, limit uint64) error {
	start := vm.Steps
	for !vm.Halted {
	drain:
		for {
			select {
			case k, ok := <-keys:
				if !ok {
					keys = nil
					break drain
				}
				if k == ctrlC {
					return errInterrupted
				}
				vm.PushKey(k)
			default:
				break drain
			}
		}

		n := uint64(batchSize)
		if limit > 0 {
			if vm.Steps-start >= limit {
				return cpu.ErrStepLimit
			}
			n = min(n, limit-(vm.Steps-start))
		}
		err := vm.RunUntilDone(n)
		if err != nil && !errors.Is(err, cpu.ErrStepLimit) {
			return err
		}
		if !vm.Halted {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

// crlfWriter turns LF into CRLF for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\r', '\n'})); err != nil {
		return 0, err
	}
	return len(p), nil
}
