package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// MaskedArray is the first phase of a fragment's pixels: raw values and,
// per band, a mask where true means "not a measurement to keep".
type MaskedArray struct {
	Width  int
	Height int
	Data   [][]float64
	Mask   [][]bool
}

// FilledArray is the second phase: masked pixels have been replaced by a
// chosen fill value and the mask is gone.
type FilledArray struct {
	Width  int
	Height int
	Fill   float64
	Data   [][]float64
}

// Resolve substitutes fill at every masked pixel. The receiver is left
// untouched.
func (m *MaskedArray) Resolve(fill float64) *FilledArray {
	out := &FilledArray{Width: m.Width, Height: m.Height, Fill: fill, Data: make([][]float64, len(m.Data))}
	for b, band := range m.Data {
		dst := make([]float64, len(band))
		mask := m.Mask[b]
		for i, v := range band {
			if mask[i] {
				dst[i] = fill
			} else {
				dst[i] = v
			}
		}
		out.Data[b] = dst
	}
	return out
}

// Valid counts the unmasked pixels of band b (0-indexed).
func (m *MaskedArray) Valid(b int) int {
	n := 0
	for _, masked := range m.Mask[b] {
		if !masked {
			n++
		}
	}
	return n
}

// Fragment is a masked sub-region of a mosaic. Transform maps fragment
// pixel (0, 0) to the top-left corner of Window in the mosaic's CRS; the
// pixel size is the mosaic's.
type Fragment struct {
	*MaskedArray
	Window    Window
	Transform Affine
	CRS       string
	DataType  DataType
}

func (f *Fragment) Bounds() orb.Bound {
	return ArrayBounds(f.Height, f.Width, f.Transform)
}

func (f *Fragment) Grid() Grid {
	return Grid{Width: f.Width, Height: f.Height, Transform: f.Transform, CRS: f.CRS}
}

// pixelEpsilon is how close, in pixels, a coordinate must be to a pixel
// border to be snapped onto it.
const pixelEpsilon = 1e-6

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < pixelEpsilon {
		return r
	}
	return v
}

// ToPixelSpace maps a polygon from CRS coordinates to fractional pixel
// coordinates through the inverse of tr. Coordinates within pixelEpsilon of
// a pixel border are snapped onto it.
func ToPixelSpace(poly orb.MultiPolygon, tr Affine) (orb.MultiPolygon, error) {
	inv, err := tr.Invert()
	if err != nil {
		return nil, err
	}
	out := make(orb.MultiPolygon, len(poly))
	for i, p := range poly {
		op := make(orb.Polygon, len(p))
		for j, ring := range p {
			or := make(orb.Ring, len(ring))
			for k, pt := range ring {
				c, r := inv.Apply(pt[0], pt[1])
				or[k] = orb.Point{snap(c), snap(r)}
			}
			op[j] = or
		}
		out[i] = op
	}
	return out, nil
}

// GeometryWindow returns the smallest window of g enclosing poly, clipped to
// the raster. A polygon that misses the raster yields ErrEmptyWindow.
func GeometryWindow(g Grid, poly orb.MultiPolygon) (Window, error) {
	if len(poly) == 0 {
		return Window{}, fmt.Errorf("no geometry: %w", ErrEmptyWindow)
	}
	px, err := ToPixelSpace(poly, g.Transform)
	if err != nil {
		return Window{}, err
	}
	return pixelWindow(px.Bound(), g.Width, g.Height)
}

func pixelWindow(b orb.Bound, width, height int) (Window, error) {
	c0 := clamp(int(math.Floor(b.Min[0])), 0, width)
	r0 := clamp(int(math.Floor(b.Min[1])), 0, height)
	c1 := clamp(int(math.Ceil(b.Max[0])), 0, width)
	r1 := clamp(int(math.Ceil(b.Max[1])), 0, height)

	win := Window{ColOff: c0, RowOff: r0, Width: c1 - c0, Height: r1 - r0}
	if win.Empty() {
		return win, fmt.Errorf("window %v outside %dx%d raster: %w", win, width, height, ErrEmptyWindow)
	}
	return win, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ExtractFragment masks the mosaic described by md against poly (in the
// mosaic's CRS) and returns the pixels of the enclosing window. Pixels
// touched by the polygon are kept (all-touched); pixels outside it or equal
// to the mosaic nodata value are masked. The same polygon mask applies to
// every band.
func ExtractFragment(src BandReader, md Metadata, poly orb.MultiPolygon, rz Rasterizer) (*Fragment, error) {
	win, err := GeometryWindow(md.Grid, poly)
	if err != nil {
		return nil, err
	}

	wg := Grid{
		Width:     win.Width,
		Height:    win.Height,
		Transform: md.Transform.Mult(Translation(float64(win.ColOff), float64(win.RowOff))),
		CRS:       md.CRS,
	}
	touched, err := rz.RasterizeAllTouched(wg, poly)
	if err != nil {
		return nil, fmt.Errorf("masking window %v: %w", win, err)
	}
	if len(touched) != win.Width*win.Height {
		return nil, fmt.Errorf("mask of window %v has %d pixels", win, len(touched))
	}

	hit := false
	for _, t := range touched {
		if t {
			hit = true
			break
		}
	}
	if !hit {
		return nil, fmt.Errorf("polygon touches no pixel of window %v: %w", win, ErrEmptyWindow)
	}

	arr := &MaskedArray{
		Width:  win.Width,
		Height: win.Height,
		Data:   make([][]float64, md.Bands),
		Mask:   make([][]bool, md.Bands),
	}
	for b := 0; b < md.Bands; b++ {
		data, err := src.ReadWindow(b+1, win)
		if err != nil {
			return nil, fmt.Errorf("reading band %d window %v: %w", b+1, win, err)
		}
		if len(data) != win.Width*win.Height {
			return nil, fmt.Errorf("band %d: read %d samples, expected %d", b+1, len(data), win.Width*win.Height)
		}
		mask := make([]bool, len(data))
		for i, v := range data {
			mask[i] = !touched[i] || md.IsNoData(v)
		}
		arr.Data[b] = data
		arr.Mask[b] = mask
	}

	return &Fragment{
		MaskedArray: arr,
		Window:      win,
		Transform:   wg.Transform,
		CRS:         md.CRS,
		DataType:    md.DataType,
	}, nil
}
