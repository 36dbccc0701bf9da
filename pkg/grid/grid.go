// Package grid lays out character cells for the emulator's terminal views.
package grid

import "sync"

// GetGridCoords converts a linear cell index into column and row.
func GetGridCoords(index, cols int) (x, y int) {
	return index % cols, index / cols
}

// Terminal is a fixed-size character grid fed by term_out writes. It handles
// newline, carriage return and backspace, wraps at the right edge and
// scrolls when the cursor passes the last row. It is safe for use by one
// writer and one reader concurrently.
type Terminal struct {
	mu     sync.Mutex
	cols   int
	rows   int
	cells  []byte
	cursor int
}

func NewTerminal(cols, rows int) *Terminal {
	return &Terminal{cols: cols, rows: rows, cells: make([]byte, cols*rows)}
}

func (t *Terminal) Size() (cols, rows int) {
	return t.cols, t.rows
}

func (t *Terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range p {
		t.put(b)
	}
	return len(p), nil
}

func (t *Terminal) put(b byte) {
	x, y := GetGridCoords(t.cursor, t.cols)
	switch b {
	case '\n':
		t.cursor = (y + 1) * t.cols
	case '\r':
		t.cursor = y * t.cols
	case 0x08:
		if x > 0 {
			t.cursor--
			t.cells[t.cursor] = 0
		}
		return
	default:
		if b < 0x20 || b > 0x7E {
			b = '?'
		}
		t.cells[t.cursor] = b
		t.cursor++
	}
	if t.cursor >= len(t.cells) {
		t.scroll()
	}
}

func (t *Terminal) scroll() {
	copy(t.cells, t.cells[t.cols:])
	clear(t.cells[len(t.cells)-t.cols:])
	t.cursor -= t.cols
}

// Lines returns the grid contents, one string per row with trailing blanks
// trimmed.
func (t *Terminal) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := make([]string, t.rows)
	for y := range lines {
		row := t.cells[y*t.cols : (y+1)*t.cols]
		end := len(row)
		for end > 0 && row[end-1] == 0 {
			end--
		}
		line := make([]byte, end)
		for i, c := range row[:end] {
			if c == 0 {
				c = ' '
			}
			line[i] = c
		}
		lines[y] = string(line)
	}
	return lines
}

// Cursor returns the cursor position as column and row.
func (t *Terminal) Cursor() (x, y int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return GetGridCoords(t.cursor, t.cols)
}

func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.cells)
	t.cursor = 0
}
