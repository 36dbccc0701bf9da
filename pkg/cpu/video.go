package cpu

import (
	"image"
	"image/color"
	"image/png"
	"os"
)

// MemoryMapSize is the side of the square memory view: one pixel per byte.
const MemoryMapSize = 256

var (
	pcColor = color.RGBA{0xFF, 0x40, 0x40, 0xFF}
	spColor = color.RGBA{0x40, 0xFF, 0x40, 0xFF}
	ioColor = color.RGBA{0x40, 0x80, 0xFF, 0xFF}
)

// GetMemoryImage renders the address space as a 256x256 image. Byte values
// are drawn in grey; the word at pc is red, the word at sp green and the
// terminal registers blue.
func (c *CPU) GetMemoryImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, MemoryMapSize, MemoryMapSize))
	for i, b := range c.Memory {
		o := i * 4
		img.Pix[o+0] = b
		img.Pix[o+1] = b
		img.Pix[o+2] = b
		img.Pix[o+3] = 0xFF
	}

	mark := func(addr uint16, col color.RGBA) {
		for _, a := range []uint16{addr, addr + 1} {
			img.SetRGBA(int(a)%MemoryMapSize, int(a)/MemoryMapSize, col)
		}
	}
	mark(TermOut, ioColor)
	mark(TermIn, ioColor)
	mark(c.Regs[SP], spColor)
	mark(c.Regs[PC], pcColor)
	return img
}

// SaveScreenshot writes the memory view to filename as a PNG.
func (c *CPU) SaveScreenshot(filename string) error {
	img := c.GetMemoryImage()
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
