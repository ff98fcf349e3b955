package rastertest

import (
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/nci/s2crop/raster"
)

// Rasterizer is a raster.Rasterizer computed in memory with AllTouched.
type Rasterizer struct{}

func (Rasterizer) RasterizeAllTouched(g raster.Grid, poly orb.MultiPolygon) ([]bool, error) {
	px, err := raster.ToPixelSpace(poly, g.Transform)
	if err != nil {
		return nil, err
	}
	return AllTouched(px, g.Width, g.Height), nil
}

// AllTouched burns a polygon given in pixel coordinates (col, row) onto a
// width x height grid. A pixel is set when its centre lies inside the
// polygon (even-odd rule, so holes are honoured) or when any polygon edge
// passes through its interior. Edges running exactly along pixel borders do
// not select the neighbouring pixels.
func AllTouched(poly orb.MultiPolygon, width, height int) []bool {
	mask := make([]bool, width*height)
	if width <= 0 || height <= 0 {
		return mask
	}

	var edges [][2]orb.Point
	for _, p := range poly {
		for _, ring := range p {
			n := len(ring)
			if n < 2 {
				continue
			}
			for i := 0; i < n; i++ {
				a, b := ring[i], ring[(i+1)%n]
				if a == b {
					continue
				}
				edges = append(edges, [2]orb.Point{a, b})
			}
		}
	}

	fillCentres(mask, edges, width, height)
	for _, e := range edges {
		burnEdge(mask, e[0], e[1], width, height)
	}
	return mask
}

// fillCentres is a scanline fill sampled at pixel centres.
func fillCentres(mask []bool, edges [][2]orb.Point, width, height int) {
	xs := make([]float64, 0, 16)
	for row := 0; row < height; row++ {
		yc := float64(row) + 0.5
		xs = xs[:0]
		for _, e := range edges {
			y0, y1 := e[0][1], e[1][1]
			if (y0 <= yc && yc < y1) || (y1 <= yc && yc < y0) {
				t := (yc - y0) / (y1 - y0)
				xs = append(xs, e[0][0]+t*(e[1][0]-e[0][0]))
			}
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			// centres c+0.5 in [xs[i], xs[i+1])
			c0 := int(math.Ceil(xs[i] - 0.5))
			c1 := int(math.Ceil(xs[i+1]-0.5)) - 1
			if c0 < 0 {
				c0 = 0
			}
			if c1 > width-1 {
				c1 = width - 1
			}
			for c := c0; c <= c1; c++ {
				mask[row*width+c] = true
			}
		}
	}
}

// burnEdge marks every pixel whose open interior the segment a-b crosses,
// walking the segment one pixel row at a time.
func burnEdge(mask []bool, a, b orb.Point, width, height int) {
	ymin, ymax := math.Min(a[1], b[1]), math.Max(a[1], b[1])
	r0 := int(math.Floor(ymin))
	r1 := int(math.Ceil(ymax)) - 1
	if r0 < 0 {
		r0 = 0
	}
	if r1 > height-1 {
		r1 = height - 1
	}

	dy := b[1] - a[1]
	for row := r0; row <= r1; row++ {
		var xa, xb float64
		if dy == 0 {
			xa, xb = a[0], b[0]
		} else {
			lo := math.Max(float64(row), ymin)
			hi := math.Min(float64(row+1), ymax)
			if hi <= lo {
				continue
			}
			xa = a[0] + (lo-a[1])/dy*(b[0]-a[0])
			xb = a[0] + (hi-a[1])/dy*(b[0]-a[0])
		}
		if xa > xb {
			xa, xb = xb, xa
		}

		c0 := int(math.Floor(xa))
		c1 := int(math.Ceil(xb)) - 1
		if c0 < 0 {
			c0 = 0
		}
		if c1 > width-1 {
			c1 = width - 1
		}
		for c := c0; c <= c1; c++ {
			mask[row*width+c] = true
		}
	}
}
