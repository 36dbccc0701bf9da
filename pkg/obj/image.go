package obj

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// MaxImage is the size of the 16-bit address space.
const MaxImage = 1 << 16

// WriteImage writes a linked image as a u64 byte count followed by the bytes.
func WriteImage(w io.Writer, img []byte) error {
	if len(img) > MaxImage {
		return fmt.Errorf("image of %d bytes exceeds the %d byte address space", len(img), MaxImage)
	}
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(img))); err != nil {
		return err
	}
	if _, err := bw.Write(img); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadImage reads an image written by WriteImage.
func ReadImage(r io.Reader) ([]byte, error) {
	d := &decoder{r: bufio.NewReader(r)}
	img := d.bytes(math.MaxUint16 + 1)
	if d.err != nil {
		return nil, d.err
	}
	return img, nil
}
