package raster

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// Affine maps pixel (col, row) to CRS coordinates:
//
//	x = a*col + b*row + c
//	y = d*col + e*row + f
//
// The element order matches f64.Aff3, which is also the order used by most
// raster libraries. GDAL geotransforms use a different order, see FromGeoTransform.
type Affine f64.Aff3

func Identity() Affine {
	return Affine{1, 0, 0, 0, 1, 0}
}

func Translation(tx, ty float64) Affine {
	return Affine{1, 0, tx, 0, 1, ty}
}

func Scale(sx, sy float64) Affine {
	return Affine{sx, 0, 0, 0, sy, 0}
}

// FromGeoTransform converts a GDAL geotransform.
func FromGeoTransform(gt [6]float64) Affine {
	return Affine{gt[1], gt[2], gt[0], gt[4], gt[5], gt[3]}
}

func (p Affine) GeoTransform() [6]float64 {
	return [6]float64{p[2], p[0], p[1], p[5], p[3], p[4]}
}

// Mult composes p and q; the result applies q first, then p.
func (p Affine) Mult(q Affine) Affine {
	return Affine{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

func (p Affine) Apply(col, row float64) (float64, float64) {
	return p[0]*col + p[1]*row + p[2], p[3]*col + p[4]*row + p[5]
}

func (p Affine) Determinant() float64 {
	return p[0]*p[4] - p[1]*p[3]
}

func (p Affine) Invert() (Affine, error) {
	det := p.Determinant()
	if det == 0 || math.IsNaN(det) {
		return Affine{}, fmt.Errorf("affine transform %v is not invertible", p)
	}
	return Affine{
		p[4] / det,
		-p[1] / det,
		(p[1]*p[5] - p[4]*p[2]) / det,
		-p[3] / det,
		p[0] / det,
		(p[3]*p[2] - p[0]*p[5]) / det,
	}, nil
}

// PixelSize is the ground size of one pixel along columns and rows.
func (p Affine) PixelSize() (float64, float64) {
	return math.Hypot(p[0], p[3]), math.Hypot(p[1], p[4])
}

func (p Affine) IsRectilinear() bool {
	return p[1] == 0 && p[3] == 0
}

// AlmostEqual compares two transforms with a tolerance expressed as a
// fraction of p's pixel size.
func (p Affine) AlmostEqual(q Affine, tol float64) bool {
	sx, sy := p.PixelSize()
	t := tol * math.Max(sx, sy)
	for i := range p {
		if math.Abs(p[i]-q[i]) > t {
			return false
		}
	}
	return true
}

func (p Affine) String() string {
	return fmt.Sprintf("| %.6f, %.6f, %.6f|\n| %.6f, %.6f, %.6f|", p[0], p[1], p[2], p[3], p[4], p[5])
}
