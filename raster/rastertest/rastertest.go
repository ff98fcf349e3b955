// Package rastertest provides in-memory implementations of the raster
// interfaces for tests that run without GDAL.
package rastertest

import (
	"fmt"
	"io"

	"github.com/nci/s2crop/raster"
)

// MemReader serves bands held in memory, row-major, Width pixels per row.
// Every window read is recorded in Reads.
type MemReader struct {
	Width int
	Bands [][]float64
	Reads []raster.Window
}

func (m *MemReader) ReadWindow(band int, win raster.Window) ([]float64, error) {
	if band < 1 || band > len(m.Bands) {
		return nil, fmt.Errorf("no band %d", band)
	}
	m.Reads = append(m.Reads, win)
	src := m.Bands[band-1]
	out := make([]float64, 0, win.Width*win.Height)
	for r := win.RowOff; r < win.RowOff+win.Height; r++ {
		out = append(out, src[r*m.Width+win.ColOff:r*m.Width+win.ColOff+win.Width]...)
	}
	return out, nil
}

// Transformer converts coordinates in place between two reference systems.
// ok[i] is false for points that could not be transformed.
type Transformer interface {
	Transform(xs, ys []float64) (ok []bool, err error)
}

// TransformerFactory builds a Transformer from srcCRS to dstCRS.
type TransformerFactory func(srcCRS, dstCRS string) (Transformer, error)

// IdentityTransformer leaves coordinates unchanged.
type IdentityTransformer struct{}

func (IdentityTransformer) Transform(xs, ys []float64) ([]bool, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("coordinate count mismatch: %d x, %d y", len(xs), len(ys))
	}
	ok := make([]bool, len(xs))
	for i := range ok {
		ok[i] = true
	}
	return ok, nil
}

// SameCRS is a TransformerFactory that only handles identical systems.
func SameCRS(srcCRS, dstCRS string) (Transformer, error) {
	if srcCRS != dstCRS {
		return nil, fmt.Errorf("no transformation %s -> %s", srcCRS, dstCRS)
	}
	return IdentityTransformer{}, nil
}

func closeTransformer(t Transformer) {
	if c, ok := t.(io.Closer); ok {
		c.Close()
	}
}
