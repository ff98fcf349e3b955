package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "cpl_string.h"
// #cgo pkg-config: gdal
import "C"

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/nci/s2crop/raster"
)

var (
	// ErrOpen is returned when GDAL cannot open a raster or vector file.
	ErrOpen = errors.New("gdal open failed")

	// ErrWrite is returned when a dataset cannot be created or written.
	ErrWrite = errors.New("gdal write failed")
)

var GDALTypes = map[C.GDALDataType]raster.DataType{
	C.GDT_Byte:    raster.Byte,
	C.GDT_UInt16:  raster.UInt16,
	C.GDT_Int16:   raster.Int16,
	C.GDT_UInt32:  raster.UInt32,
	C.GDT_Int32:   raster.Int32,
	C.GDT_Float32: raster.Float32,
	C.GDT_Float64: raster.Float64,
}

func gdalType(dt raster.DataType) (C.GDALDataType, error) {
	for k, v := range GDALTypes {
		if v == dt {
			return k, nil
		}
	}
	return C.GDT_Unknown, fmt.Errorf("data type %v has no GDAL equivalent", dt)
}

type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
	Cubic
	CubicSpline
	Lanczos
	Average
	Mode
	Gauss
)

var resamplingNames = []string{"nearest", "bilinear", "cubic", "cubicspline", "lanczos", "average", "mode", "gauss"}

func (r Resampling) String() string {
	if int(r) < 0 || int(r) >= len(resamplingNames) {
		return fmt.Sprintf("Resampling(%d)", int(r))
	}
	return resamplingNames[r]
}

func ParseResampling(name string) (Resampling, error) {
	for i, n := range resamplingNames {
		if strings.EqualFold(n, name) {
			return Resampling(i), nil
		}
	}
	return Nearest, fmt.Errorf("unknown resampling %q", name)
}

func (r Resampling) gdal() C.GDALRIOResampleAlg {
	switch r {
	case Bilinear:
		return C.GRIORA_Bilinear
	case Cubic:
		return C.GRIORA_Cubic
	case CubicSpline:
		return C.GRIORA_CubicSpline
	case Lanczos:
		return C.GRIORA_Lanczos
	case Average:
		return C.GRIORA_Average
	case Mode:
		return C.GRIORA_Mode
	case Gauss:
		return C.GRIORA_Gauss
	default:
		return C.GRIORA_NearestNeighbour
	}
}

// Dataset is a read-only GDAL raster.
type Dataset struct {
	Path string
	h    C.GDALDatasetH
}

func Open(path string) (*Dataset, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	ds := C.GDALOpen(cPath, C.GA_ReadOnly)
	if ds == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrOpen)
	}
	return &Dataset{Path: path, h: ds}, nil
}

func (d *Dataset) Close() {
	if d.h != nil {
		C.GDALClose(d.h)
		d.h = nil
	}
}

// Metadata describes the raster from its first band; CRS is canonical WKT.
func (d *Dataset) Metadata() (raster.Metadata, error) {
	var md raster.Metadata
	md.Width = int(C.GDALGetRasterXSize(d.h))
	md.Height = int(C.GDALGetRasterYSize(d.h))
	md.Bands = int(C.GDALGetRasterCount(d.h))
	if md.Bands < 1 {
		return md, fmt.Errorf("%s: raster has no band", d.Path)
	}

	var gt [6]float64
	if C.GDALGetGeoTransform(d.h, (*C.double)(&gt[0])) != C.CE_None {
		return md, fmt.Errorf("%s: raster is not georeferenced", d.Path)
	}
	md.Transform = raster.FromGeoTransform(gt)

	if proj := C.GoString(C.GDALGetProjectionRef(d.h)); proj != "" {
		wkt, err := CanonicalCRS(proj)
		if err != nil {
			return md, fmt.Errorf("%s: %v", d.Path, err)
		}
		md.CRS = wkt
	}

	bandH := C.GDALGetRasterBand(d.h, C.int(1))
	dt, ok := GDALTypes[C.GDALGetRasterDataType(bandH)]
	if !ok {
		return md, fmt.Errorf("%s: unsupported data type %s", d.Path, C.GoString(C.GDALGetDataTypeName(C.GDALGetRasterDataType(bandH))))
	}
	md.DataType = dt

	var hasNoData C.int
	nodata := float64(C.GDALGetRasterNoDataValue(bandH, &hasNoData))
	if hasNoData != 0 {
		md.NoData, md.HasNoData = nodata, true
	}
	return md, nil
}

// ReadWindow implements raster.BandReader.
func (d *Dataset) ReadWindow(band int, win raster.Window) ([]float64, error) {
	return d.read(band, win, win.Width, win.Height, Nearest, nil)
}

// ReadResampledRows reads rows [row, row+rows) of the band resampled onto a
// width x height grid covering the whole raster. Reading a band block by
// block gives the same samples as reading it at once.
func (d *Dataset) ReadResampledRows(band, width, height, row, rows int, alg Resampling) ([]float64, error) {
	if width <= 0 || height <= 0 || row < 0 || rows <= 0 || row+rows > height {
		return nil, fmt.Errorf("%s: rows %d+%d outside a %dx%d grid", d.Path, row, rows, width, height)
	}
	srcW := int(C.GDALGetRasterXSize(d.h))
	srcH := int(C.GDALGetRasterYSize(d.h))

	scale := float64(srcH) / float64(height)
	y0 := float64(row) * scale
	y1 := float64(row+rows) * scale

	r0 := int(math.Floor(y0))
	r1 := int(math.Ceil(y1))
	if r1 > srcH {
		r1 = srcH
	}
	if r1 <= r0 {
		r1 = r0 + 1
	}
	win := raster.Window{RowOff: r0, Width: srcW, Height: r1 - r0}
	return d.read(band, win, width, rows, alg, &[4]float64{0, y0, float64(srcW), y1 - y0})
}

// read fills a bufW x bufH buffer from win. When exact is set it gives the
// fractional source window (x, y, width, height) that win encloses.
func (d *Dataset) read(band int, win raster.Window, bufW, bufH int, alg Resampling, exact *[4]float64) ([]float64, error) {
	if band < 1 || band > int(C.GDALGetRasterCount(d.h)) {
		return nil, fmt.Errorf("%s: no band %d", d.Path, band)
	}
	if win.Empty() || bufW <= 0 || bufH <= 0 {
		return nil, fmt.Errorf("%s: empty read window %v", d.Path, win)
	}
	bandH := C.GDALGetRasterBand(d.h, C.int(band))

	var extra C.GDALRasterIOExtraArg
	extra.nVersion = C.RASTERIO_EXTRA_ARG_CURRENT_VERSION
	extra.eResampleAlg = alg.gdal()
	if exact != nil {
		extra.bFloatingPointWindowValidity = 1
		extra.dfXOff = C.double(exact[0])
		extra.dfYOff = C.double(exact[1])
		extra.dfXSize = C.double(exact[2])
		extra.dfYSize = C.double(exact[3])
	}

	buf := make([]float64, bufW*bufH)
	gerr := C.GDALRasterIOEx(bandH, C.GF_Read, C.int(win.ColOff), C.int(win.RowOff), C.int(win.Width), C.int(win.Height),
		unsafe.Pointer(&buf[0]), C.int(bufW), C.int(bufH), C.GDT_Float64, 0, 0, &extra)
	if gerr != C.CE_None {
		return nil, fmt.Errorf("%s: reading band %d %v: %s", d.Path, band, win, lastError())
	}
	return buf, nil
}

func lastError() string {
	msg := C.GoString(C.CPLGetLastErrorMsg())
	if msg == "" {
		return "unknown GDAL error"
	}
	return msg
}
