package cpu

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// humanReadableState is the JSON part of a hibernation archive.
type humanReadableState struct {
	Regs             [8]uint16 `json:"regs"`
	PSW              uint16    `json:"psw"`
	Z                bool      `json:"z"`
	O                bool      `json:"o"`
	C                bool      `json:"c"`
	N                bool      `json:"n"`
	I                bool      `json:"i"`
	Halted           bool      `json:"halted"`
	InterruptPending bool      `json:"interrupt_pending"`
	KeyBuffer        []byte    `json:"key_buffer"`
	Steps            uint64    `json:"steps"`
}

// HibernateToBytes packs the machine into a ZIP archive holding
// cpu_state.json and memory.bin.
func (c *CPU) HibernateToBytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	state := humanReadableState{
		Regs:             c.Regs,
		PSW:              c.PSW,
		Z:                c.PSW&FlagZ != 0,
		O:                c.PSW&FlagO != 0,
		C:                c.PSW&FlagC != 0,
		N:                c.PSW&FlagN != 0,
		I:                c.PSW&FlagI != 0,
		Halted:           c.Halted,
		InterruptPending: c.InterruptPending,
		KeyBuffer:        c.KeyBuffer,
		Steps:            c.Steps,
	}
	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cpu_state: %w", err)
	}
	if err := writeZipEntry(zw, "cpu_state.json", jsonData); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "memory.bin", c.Memory[:]); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// RestoreFromBytes applies an archive produced by HibernateToBytes. The PSW
// word is authoritative; the per-flag booleans are informational.
func (c *CPU) RestoreFromBytes(data []byte) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	fileMap := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		fileMap[f.Name] = f
	}

	jsonData, err := readZipEntry(fileMap, "cpu_state.json")
	if err != nil {
		return err
	}
	var state humanReadableState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return fmt.Errorf("unmarshal cpu_state: %w", err)
	}
	memData, err := readZipEntry(fileMap, "memory.bin")
	if err != nil {
		return err
	}
	if len(memData) != len(c.Memory) {
		return fmt.Errorf("memory.bin holds %d bytes, want %d", len(memData), len(c.Memory))
	}

	c.Regs = state.Regs
	c.PSW = state.PSW
	c.Halted = state.Halted
	c.InterruptPending = state.InterruptPending
	c.KeyBuffer = state.KeyBuffer
	c.Steps = state.Steps
	copy(c.Memory[:], memData)
	return nil
}

func (c *CPU) HibernateToFile(path string) error {
	data, err := c.HibernateToBytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *CPU) RestoreFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.RestoreFromBytes(data)
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(fileMap map[string]*zip.File, name string) ([]byte, error) {
	f, ok := fileMap[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
