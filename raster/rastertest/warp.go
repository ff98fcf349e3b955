package rastertest

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/nci/s2crop/raster"
)

// samplesPerEdge is the density of the grid used to estimate the
// destination extent.
const samplesPerEdge = 21

// Warper is a raster.Warper that resamples by nearest neighbour onto the
// grid DefaultTransform suggests. Coordinates are converted with
// Transformers, which must provide both directions.
type Warper struct {
	Transformers TransformerFactory
}

func (w Warper) Warp(src *raster.FilledArray, grid raster.Grid, dstCRS string) (raster.Grid, [][]float64, error) {
	forward, err := w.Transformers(grid.CRS, dstCRS)
	if err != nil {
		return raster.Grid{}, nil, err
	}
	defer closeTransformer(forward)
	inverse, err := w.Transformers(dstCRS, grid.CRS)
	if err != nil {
		return raster.Grid{}, nil, err
	}
	defer closeTransformer(inverse)

	tr, width, height, err := DefaultTransform(forward, grid.Width, grid.Height, grid.Bounds())
	if err != nil {
		return raster.Grid{}, nil, fmt.Errorf("computing destination grid: %w", err)
	}
	dst := raster.Grid{Width: width, Height: height, Transform: tr, CRS: dstCRS}
	data, err := Warp(src, grid.Transform, dst, inverse, src.Fill)
	if err != nil {
		return raster.Grid{}, nil, err
	}
	return dst, data, nil
}

// DefaultTransform suggests a north-up destination grid for a source raster
// of width x height pixels covering bounds, given a forward Transformer from
// the source to the destination CRS. The extent is that of a regular grid of
// sample points across the source bounds; the square pixel size is chosen so
// that the source diagonal spans the same number of pixels in both CRSs.
func DefaultTransform(tr Transformer, width, height int, bounds orb.Bound) (raster.Affine, int, int, error) {
	if width <= 0 || height <= 0 {
		return raster.Affine{}, 0, 0, fmt.Errorf("invalid source size %dx%d", width, height)
	}

	n := samplesPerEdge * samplesPerEdge
	xs := make([]float64, 0, n+2)
	ys := make([]float64, 0, n+2)
	dx := (bounds.Max[0] - bounds.Min[0]) / float64(samplesPerEdge-1)
	dy := (bounds.Max[1] - bounds.Min[1]) / float64(samplesPerEdge-1)
	for i := 0; i < samplesPerEdge; i++ {
		for j := 0; j < samplesPerEdge; j++ {
			xs = append(xs, bounds.Min[0]+float64(j)*dx)
			ys = append(ys, bounds.Max[1]-float64(i)*dy)
		}
	}
	// diagonal corners, top-left then bottom-right
	xs = append(xs, bounds.Min[0], bounds.Max[0])
	ys = append(ys, bounds.Max[1], bounds.Min[1])

	ok, err := tr.Transform(xs, ys)
	if err != nil {
		return raster.Affine{}, 0, 0, err
	}

	ext := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	valid := 0
	for i := 0; i < n; i++ {
		if !ok[i] || math.IsNaN(xs[i]) || math.IsNaN(ys[i]) || math.IsInf(xs[i], 0) || math.IsInf(ys[i], 0) {
			continue
		}
		ext = ext.Extend(orb.Point{xs[i], ys[i]})
		valid++
	}
	if valid == 0 {
		return raster.Affine{}, 0, 0, fmt.Errorf("no point of %v could be transformed", bounds)
	}

	var diag float64
	if ok[n] && ok[n+1] {
		diag = math.Hypot(xs[n+1]-xs[n], ys[n+1]-ys[n])
	}
	if diag == 0 || math.IsNaN(diag) {
		diag = math.Hypot(ext.Max[0]-ext.Min[0], ext.Max[1]-ext.Min[1])
	}
	res := diag / math.Hypot(float64(width), float64(height))
	if res == 0 || math.IsNaN(res) || math.IsInf(res, 0) {
		return raster.Affine{}, 0, 0, fmt.Errorf("degenerate destination extent %v", ext)
	}

	w := int((ext.Max[0]-ext.Min[0])/res + 0.5)
	h := int((ext.Max[1]-ext.Min[1])/res + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return raster.Affine{res, 0, ext.Min[0], 0, -res, ext.Max[1]}, w, h, nil
}

// Warp resamples a filled array placed by srcTransform onto dst using
// nearest neighbour. inverse converts destination CRS coordinates back into
// the source CRS. Destination pixels whose centre falls outside the source
// array, or cannot be transformed, receive fill.
func Warp(src *raster.FilledArray, srcTransform raster.Affine, dst raster.Grid, inverse Transformer, fill float64) ([][]float64, error) {
	toPixel, err := srcTransform.Invert()
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(src.Data))
	for b := range out {
		out[b] = make([]float64, dst.Width*dst.Height)
	}

	xs := make([]float64, dst.Width)
	ys := make([]float64, dst.Width)
	for row := 0; row < dst.Height; row++ {
		for col := 0; col < dst.Width; col++ {
			xs[col], ys[col] = dst.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
		}
		ok, err := inverse.Transform(xs, ys)
		if err != nil {
			return nil, fmt.Errorf("transforming row %d: %w", row, err)
		}
		for col := 0; col < dst.Width; col++ {
			idx := row*dst.Width + col
			sc, sr := toPixel.Apply(xs[col], ys[col])
			ic, ir := int(math.Floor(sc)), int(math.Floor(sr))
			inside := ok[col] && !math.IsNaN(sc) && !math.IsNaN(sr) &&
				ic >= 0 && ic < src.Width && ir >= 0 && ir < src.Height
			for b := range out {
				if inside {
					out[b][idx] = src.Data[b][ir*src.Width+ic]
				} else {
					out[b][idx] = fill
				}
			}
		}
	}
	return out, nil
}
