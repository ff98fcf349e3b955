// Package raster holds the geometric and numeric core of the mosaic and crop
// pipeline: affine transforms, grids and windows, the band-stack plan, the
// overlap gate, fragment extraction and the two-phase mask resolution that
// precedes reprojection.
//
// Nothing in this package performs file I/O. Pixels come in through
// BandReader, polygons are burnt through Rasterizer and filled arrays are
// reprojected through Warper, all of which are provided by the GDAL worker.
package raster

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

var (
	// ErrGridMismatch indicates tiles that cannot be stacked onto one grid.
	ErrGridMismatch = errors.New("tile grid mismatch")

	// ErrEmptyWindow indicates a polygon that selects no pixel of the raster.
	ErrEmptyWindow = errors.New("empty crop window")
)

type DataType int

const (
	Unknown DataType = iota
	Byte
	UInt16
	Int16
	UInt32
	Int32
	Float32
	Float64
)

var dataTypeNames = map[DataType]string{Unknown: "Unknown", Byte: "Byte", UInt16: "UInt16", Int16: "Int16",
	UInt32: "UInt32", Int32: "Int32", Float32: "Float32", Float64: "Float64"}

func (dt DataType) String() string {
	if name, ok := dataTypeNames[dt]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int(dt))
}

func ParseDataType(name string) (DataType, error) {
	for dt, n := range dataTypeNames {
		if dt != Unknown && strings.EqualFold(n, name) {
			return dt, nil
		}
	}
	return Unknown, fmt.Errorf("unsupported data type %q", name)
}

func (dt DataType) Size() int {
	switch dt {
	case Byte:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

func (dt DataType) limits() (float64, float64, bool) {
	switch dt {
	case Byte:
		return 0, math.MaxUint8, true
	case UInt16:
		return 0, math.MaxUint16, true
	case Int16:
		return math.MinInt16, math.MaxInt16, true
	case UInt32:
		return 0, math.MaxUint32, true
	case Int32:
		return math.MinInt32, math.MaxInt32, true
	default:
		return 0, 0, false
	}
}

// Cast converts v to the nearest value representable in dt. Integer types
// round half away from zero and saturate at their limits.
func (dt DataType) Cast(v float64) float64 {
	if lo, hi, integral := dt.limits(); integral {
		if math.IsNaN(v) {
			return 0
		}
		return math.Min(math.Max(math.Round(v), lo), hi)
	}
	if dt == Float32 {
		return float64(float32(v))
	}
	return v
}

// Fits reports whether v survives a cast to dt unchanged.
func (dt DataType) Fits(v float64) bool {
	if dt == Unknown {
		return false
	}
	if math.IsNaN(v) {
		return dt == Float32 || dt == Float64
	}
	return dt.Cast(v) == v
}

// Grid is the georeferencing of a raster: its size in pixels, its affine
// transform and its coordinate reference system (WKT or an EPSG:n string).
type Grid struct {
	Width     int
	Height    int
	Transform Affine
	CRS       string
}

// Bounds is the axis-aligned rectangle covering the grid in its CRS.
func (g Grid) Bounds() orb.Bound {
	return ArrayBounds(g.Height, g.Width, g.Transform)
}

// ArrayBounds computes the bounds of a height x width array placed by tr.
func ArrayBounds(height, width int, tr Affine) orb.Bound {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, c := range [][2]float64{{0, 0}, {float64(width), 0}, {0, float64(height)}, {float64(width), float64(height)}} {
		x, y := tr.Apply(c[0], c[1])
		b = b.Extend(orb.Point{x, y})
	}
	return b
}

type Metadata struct {
	Grid
	Bands     int
	DataType  DataType
	NoData    float64
	HasNoData bool
}

func (md Metadata) IsNoData(v float64) bool {
	if !md.HasNoData {
		return false
	}
	if math.IsNaN(md.NoData) {
		return math.IsNaN(v)
	}
	return v == md.NoData
}

// Window is a rectangular block of pixels within a raster.
type Window struct {
	ColOff, RowOff int
	Width, Height  int
}

func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

func (w Window) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", w.ColOff, w.RowOff, w.Width, w.Height)
}

// BandReader reads a window of one band (1-indexed) as float64 samples in
// row-major order.
type BandReader interface {
	ReadWindow(band int, win Window) ([]float64, error)
}

// Rasterizer burns poly, given in the CRS of g, onto g. A pixel is set when
// the polygon touches it at all, not only when it covers its centre. The
// mask is row-major, g.Width pixels per row.
type Rasterizer interface {
	RasterizeAllTouched(g Grid, poly orb.MultiPolygon) ([]bool, error)
}

// Warper reprojects src, laid out on grid, into dstCRS. It chooses the
// destination grid and returns it with one slice per band. Destination
// pixels with no source pixel, or whose source pixel holds src.Fill, are
// set to src.Fill.
type Warper interface {
	Warp(src *FilledArray, grid Grid, dstCRS string) (Grid, [][]float64, error)
}

// Image is a fully resolved raster ready to be written.
type Image struct {
	Metadata
	Data [][]float64
}

// AOI is an area of interest projected into a raster's CRS. Footprint is
// the geometry as given and decides coverage; Region is the buffered union
// of its parts and decides which pixels are extracted. Centroid is the
// footprint centre in longitude and latitude.
type AOI struct {
	CRS       string
	Footprint orb.MultiPolygon
	Region    orb.MultiPolygon
	Centroid  orb.Point
}
