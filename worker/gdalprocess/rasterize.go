package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "gdal_alg.h"
// #include "ogr_api.h"
// #include "cpl_string.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/nci/s2crop/raster"
)

// fromMultiPolygon builds an OGR geometry owned by the caller.
func fromMultiPolygon(poly orb.MultiPolygon) (C.OGRGeometryH, error) {
	cWKT := C.CString(wkt.MarshalString(poly))
	defer C.free(unsafe.Pointer(cWKT))

	var geom C.OGRGeometryH
	cursor := cWKT
	if C.OGR_G_CreateFromWkt(&cursor, nil, &geom) != C.OGRERR_NONE || geom == nil {
		return nil, fmt.Errorf("polygon could not be imported")
	}
	return geom, nil
}

// RasterizeAllTouched burns poly onto g in a MEM dataset with the
// ALL_TOUCHED rasterization option.
func RasterizeAllTouched(g raster.Grid, poly orb.MultiPolygon) ([]bool, error) {
	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("invalid mask size %dx%d", g.Width, g.Height)
	}
	mem, err := createMem(raster.Metadata{Grid: raster.Grid{Width: g.Width, Height: g.Height, Transform: g.Transform}, Bands: 1, DataType: raster.Byte})
	if err != nil {
		return nil, err
	}
	defer mem.close()

	geom, err := fromMultiPolygon(poly)
	if err != nil {
		return nil, err
	}
	defer C.OGR_G_DestroyGeometry(geom)

	geomBurnValue := C.double(1)
	panBandList := []C.int{C.int(1)}
	pahGeomList := []C.OGRGeometryH{geom}

	opts := C.CString("ALL_TOUCHED=TRUE")
	defer C.free(unsafe.Pointer(opts))
	optList := []*C.char{opts, nil}

	if gdalErr := C.GDALRasterizeGeometries(mem.h, 1, &panBandList[0], 1, &pahGeomList[0], nil, nil, &geomBurnValue, &optList[0], nil, nil); gdalErr != C.CE_None {
		return nil, fmt.Errorf("rasterizing polygon onto %dx%d grid: %s", g.Width, g.Height, lastError())
	}

	burnt, err := mem.readBand(1, g.Width, g.Height)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(burnt))
	for i, v := range burnt {
		mask[i] = v != 0
	}
	return mask, nil
}
