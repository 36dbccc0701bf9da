// Command desktop runs a linked image in a window that shows the terminal,
// the registers and a live map of memory.
//
//	desktop [-steps N] [-screenshot memory.png] image.hex
//
// Keys: typed characters go to term_in; F5 takes a snapshot, F9 restores it,
// F6 pauses, F7 single-steps while paused, F12 saves the memory map as PNG.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text"
	"golang.org/x/image/font/basicfont"

	"ss16/pkg/cpu"
	"ss16/pkg/grid"
	"ss16/pkg/obj"
	"ss16/pkg/utils"
)

const (
	termCols   = 64
	termRows   = 24
	charWidth  = 7
	lineHeight = 13
	margin     = 8

	termWidth    = termCols * charWidth
	termHeight   = termRows * lineHeight
	screenWidth  = margin*3 + termWidth + cpu.MemoryMapSize
	screenHeight = margin*2 + termHeight + 8*lineHeight
)

var (
	textColor   = color.RGBA{0xD0, 0xD0, 0xD0, 0xFF}
	statusColor = color.RGBA{0x00, 0xDC, 0x5A, 0xFF}
	frameColor  = color.RGBA{0x30, 0x30, 0x30, 0xFF}
)

type Game struct {
	vm            *cpu.CPU
	term          *grid.Terminal
	stepsPerFrame int
	paused        bool
	snapshot      []byte
	status        string
	shotPath      string
	memImg        *ebiten.Image
}

func newGame(vm *cpu.CPU, stepsPerFrame int, shotPath string) *Game {
	g := &Game{
		vm:            vm,
		term:          grid.NewTerminal(termCols, termRows),
		stepsPerFrame: stepsPerFrame,
		shotPath:      shotPath,
	}
	vm.Output = g.term
	return g
}

func (g *Game) Update() error {
	for _, r := range ebiten.AppendInputChars(nil) {
		if r < 0x80 {
			g.vm.PushKey(byte(r))
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		g.vm.PushKey('\n')
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		g.vm.PushKey(0x08)
	}

	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyF5):
		g.takeSnapshot()
	case inpututil.IsKeyJustPressed(ebiten.KeyF9):
		g.restoreSnapshot()
	case inpututil.IsKeyJustPressed(ebiten.KeyF6):
		g.paused = !g.paused
	case inpututil.IsKeyJustPressed(ebiten.KeyF7):
		if g.paused {
			g.vm.Step()
		}
	case inpututil.IsKeyJustPressed(ebiten.KeyF12):
		g.saveMemoryMap()
	}

	if !g.paused {
		g.run()
	}
	return nil
}

// run executes one frame's worth of instructions.
func (g *Game) run() {
	for i := 0; i < g.stepsPerFrame && !g.vm.Halted; i++ {
		g.vm.Step()
	}
}

func (g *Game) takeSnapshot() {
	data, err := g.vm.Snapshot()
	if err != nil {
		g.status = fmt.Sprintf("snapshot failed: %v", err)
		return
	}
	g.snapshot = data
	g.status = fmt.Sprintf("snapshot taken at step %d", g.vm.Steps)
}

func (g *Game) restoreSnapshot() {
	if g.snapshot == nil {
		g.status = "no snapshot to restore"
		return
	}
	if err := g.vm.Restore(g.snapshot); err != nil {
		g.status = fmt.Sprintf("restore failed: %v", err)
		return
	}
	g.status = fmt.Sprintf("restored step %d", g.vm.Steps)
}

func (g *Game) saveMemoryMap() {
	if err := g.vm.SaveScreenshot(g.shotPath); err != nil {
		g.status = fmt.Sprintf("screenshot failed: %v", err)
		return
	}
	g.status = "memory map saved to " + g.shotPath
}

// registerLines formats the register panel.
func registerLines(vm *cpu.CPU) []string {
	bit := func(mask uint16, name string) string {
		if vm.PSW&mask != 0 {
			return name
		}
		return "-"
	}
	state := "running"
	if vm.Halted {
		state = "halted"
	}
	return []string{
		fmt.Sprintf("r0 %04X  r1 %04X  r2 %04X  r3 %04X", vm.Regs[0], vm.Regs[1], vm.Regs[2], vm.Regs[3]),
		fmt.Sprintf("r4 %04X  r5 %04X  sp %04X  pc %04X", vm.Regs[4], vm.Regs[5], vm.Regs[cpu.SP], vm.Regs[cpu.PC]),
		fmt.Sprintf("psw %04X [%s%s%s%s%s]  steps %d  %s", vm.PSW,
			bit(cpu.FlagI, "I"), bit(cpu.FlagN, "N"), bit(cpu.FlagC, "C"), bit(cpu.FlagO, "O"), bit(cpu.FlagZ, "Z"),
			vm.Steps, state),
	}
}

func (g *Game) Draw(screen *ebiten.Image) {
	face := basicfont.Face7x13

	fillRect(screen, margin-2, margin-2, termWidth+4, termHeight+4, frameColor)
	for y, line := range g.term.Lines() {
		text.Draw(screen, line, face, margin, margin+(y+1)*lineHeight-3, textColor)
	}
	if cx, cy := g.term.Cursor(); !g.vm.Halted {
		fillRect(screen, margin+cx*charWidth, margin+(cy+1)*lineHeight-2, charWidth, 1, textColor)
	}

	if g.memImg == nil {
		g.memImg = ebiten.NewImage(cpu.MemoryMapSize, cpu.MemoryMapSize)
	}
	g.memImg.WritePixels(g.vm.GetMemoryImage().Pix)
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(float64(margin*2+termWidth), margin)
	screen.DrawImage(g.memImg, op)

	y := margin*2 + termHeight + lineHeight
	for _, line := range registerLines(g.vm) {
		text.Draw(screen, line, face, margin, y, textColor)
		y += lineHeight
	}
	if g.paused {
		text.Draw(screen, "paused (F6 resume, F7 step)", face, margin, y, statusColor)
		y += lineHeight
	}
	if g.status != "" {
		text.Draw(screen, g.status, face, margin, y, statusColor)
	}
	ebitenutil.DebugPrintAt(screen, "F5 snapshot  F9 restore\nF6 pause  F12 memory map",
		margin*2+termWidth, margin*2+cpu.MemoryMapSize)
}

func fillRect(dst *ebiten.Image, x, y, w, h int, c color.Color) {
	dst.SubImage(image.Rect(x, y, x+w, y+h)).(*ebiten.Image).Fill(c)
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenWidth, screenHeight
}

func loadImage(path string) ([]byte, error) {
	fullPath, _, err := utils.GetPathInfo(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, err
	}
	return obj.ReadImage(bytes.NewReader(data))
}

func main() {
	steps := flag.Int("steps", 10000, "instructions executed per frame")
	shot := flag.String("screenshot", "memory.png", "file written by F12")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: desktop [-steps N] [-screenshot f] image.hex")
		os.Exit(2)
	}

	img, err := loadImage(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to read image: %v", err)
	}
	vm := cpu.NewCPU()
	if err := vm.Load(img); err != nil {
		log.Fatalf("failed to load image: %v", err)
	}

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(screenWidth*2, screenHeight*2)
	ebiten.SetWindowTitle("ss16 Desktop")

	game := newGame(vm, *steps, *shot)
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}
