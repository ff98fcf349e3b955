package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "ogr_srs_api.h"
// #include "cpl_string.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"strings"
	"unsafe"
)

// newSRS builds a spatial reference from any definition OSRSetFromUserInput
// accepts (EPSG:n, WKT, PROJ string). Axis order is forced to x=easting/lon,
// y=northing/lat.
func newSRS(def string) (C.OGRSpatialReferenceH, error) {
	if strings.TrimSpace(def) == "" {
		return nil, fmt.Errorf("empty CRS definition")
	}
	cDef := C.CString(def)
	defer C.free(unsafe.Pointer(cDef))

	hSRS := C.OSRNewSpatialReference(nil)
	if C.OSRSetFromUserInput(hSRS, cDef) != C.OGRERR_NONE {
		C.OSRDestroySpatialReference(hSRS)
		return nil, fmt.Errorf("invalid CRS %q", shorten(def))
	}
	C.OSRSetAxisMappingStrategy(hSRS, C.OAMS_TRADITIONAL_GIS_ORDER)
	return hSRS, nil
}

func exportWKT(hSRS C.OGRSpatialReferenceH) (string, error) {
	var projWKT *C.char
	if C.OSRExportToWkt(hSRS, &projWKT) != C.OGRERR_NONE {
		return "", fmt.Errorf("could not export CRS to WKT")
	}
	defer C.free(unsafe.Pointer(projWKT))
	return C.GoString(projWKT), nil
}

// CanonicalCRS returns the WKT form of a CRS definition.
func CanonicalCRS(def string) (string, error) {
	hSRS, err := newSRS(def)
	if err != nil {
		return "", err
	}
	defer C.OSRDestroySpatialReference(hSRS)
	return exportWKT(hSRS)
}

// SameCRS reports whether two CRS definitions describe the same system.
func SameCRS(a, b string) bool {
	if a == b {
		return true
	}
	hA, err := newSRS(a)
	if err != nil {
		return false
	}
	defer C.OSRDestroySpatialReference(hA)
	hB, err := newSRS(b)
	if err != nil {
		return false
	}
	defer C.OSRDestroySpatialReference(hB)
	return C.OSRIsSame(hA, hB) == 1
}

// CoordTransform converts coordinates between two spatial references. It
// must be closed after use.
type CoordTransform struct {
	src, dst C.OGRSpatialReferenceH
	h        C.OGRCoordinateTransformationH
}

func NewCoordTransform(srcCRS, dstCRS string) (*CoordTransform, error) {
	src, err := newSRS(srcCRS)
	if err != nil {
		return nil, fmt.Errorf("source %v", err)
	}
	dst, err := newSRS(dstCRS)
	if err != nil {
		C.OSRDestroySpatialReference(src)
		return nil, fmt.Errorf("destination %v", err)
	}
	h := C.OCTNewCoordinateTransformation(src, dst)
	if h == nil {
		C.OSRDestroySpatialReference(src)
		C.OSRDestroySpatialReference(dst)
		return nil, fmt.Errorf("no coordinate transformation from %q to %q", shorten(srcCRS), shorten(dstCRS))
	}
	return &CoordTransform{src: src, dst: dst, h: h}, nil
}

func (ct *CoordTransform) Transform(xs, ys []float64) ([]bool, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("coordinate count mismatch: %d x, %d y", len(xs), len(ys))
	}
	ok := make([]bool, len(xs))
	if len(xs) == 0 {
		return ok, nil
	}

	success := make([]C.int, len(xs))
	C.OCTTransformEx(ct.h, C.int(len(xs)), (*C.double)(unsafe.Pointer(&xs[0])), (*C.double)(unsafe.Pointer(&ys[0])), nil, &success[0])
	for i, s := range success {
		ok[i] = s != 0
	}
	return ok, nil
}

func (ct *CoordTransform) Close() error {
	if ct.h != nil {
		C.OCTDestroyCoordinateTransformation(ct.h)
		C.OSRDestroySpatialReference(ct.src)
		C.OSRDestroySpatialReference(ct.dst)
		ct.h = nil
	}
	return nil
}

func shorten(def string) string {
	if len(def) > 64 {
		return def[:61] + "..."
	}
	return def
}
