package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "ogr_api.h"
// #include "ogr_srs_api.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"log"
	"unsafe"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"

	"github.com/nci/s2crop/raster"
)

// DefaultVectorCRS is assumed for layers that carry no spatial reference,
// as GeoJSON files usually do.
const DefaultVectorCRS = "EPSG:4326"

// LoadAOI reads every polygon of every layer of a vector file and projects
// them into dstCRS (the layer CRS when empty). The region is the union of
// the parts, each buffered by buffer CRS units.
func LoadAOI(path, dstCRS string, buffer float64) (*raster.AOI, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	ds := C.GDALOpenEx(cPath, C.uint(C.GDAL_OF_VECTOR|C.GDAL_OF_READONLY), nil, nil, nil)
	if ds == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrOpen)
	}
	defer C.GDALClose(ds)

	aoi := &raster.AOI{CRS: dstCRS}
	var region C.OGRGeometryH
	defer func() {
		if region != nil {
			C.OGR_G_DestroyGeometry(region)
		}
	}()

	for l := 0; l < int(C.GDALDatasetGetLayerCount(ds)); l++ {
		layer := C.GDALDatasetGetLayer(ds, C.int(l))

		srcCRS := DefaultVectorCRS
		if hSRS := C.OGR_L_GetSpatialRef(layer); hSRS != nil {
			s, err := exportWKT(C.OGRSpatialReferenceH(hSRS))
			if err != nil {
				return nil, fmt.Errorf("%s: %v", path, err)
			}
			srcCRS = s
		}
		if aoi.CRS == "" {
			aoi.CRS = srcCRS
		}

		var ct *CoordTransform
		if !SameCRS(srcCRS, aoi.CRS) {
			var err error
			ct, err = NewCoordTransform(srcCRS, aoi.CRS)
			if err != nil {
				return nil, fmt.Errorf("%s: %v", path, err)
			}
			defer ct.Close()
		}

		C.OGR_L_ResetReading(layer)
		for {
			feat := C.OGR_L_GetNextFeature(layer)
			if feat == nil {
				break
			}
			parts, buffered, err := projectFeature(feat, ct, buffer)
			C.OGR_F_Destroy(feat)
			if err != nil {
				return nil, fmt.Errorf("%s: %v", path, err)
			}
			if buffered == nil {
				continue
			}
			aoi.Footprint = append(aoi.Footprint, parts...)

			if region == nil {
				region = buffered
			} else {
				union := C.OGR_G_Union(region, buffered)
				C.OGR_G_DestroyGeometry(region)
				C.OGR_G_DestroyGeometry(buffered)
				region = union
			}
		}
	}

	if len(aoi.Footprint) == 0 || region == nil {
		return nil, fmt.Errorf("%s: no polygon found", path)
	}

	var err error
	if aoi.Region, err = toMultiPolygon(region); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}

	centre, _ := planar.CentroidArea(aoi.Footprint)
	toLonLat, err := NewCoordTransform(aoi.CRS, DefaultVectorCRS)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	defer toLonLat.Close()
	xs, ys := []float64{centre[0]}, []float64{centre[1]}
	if ok, _ := toLonLat.Transform(xs, ys); !ok[0] {
		return nil, fmt.Errorf("%s: centroid %v cannot be expressed in %s", path, centre, DefaultVectorCRS)
	}
	aoi.Centroid = orb.Point{xs[0], ys[0]}
	return aoi, nil
}

// projectFeature returns the polygons of a feature in the destination CRS
// and, separately, the buffered geometry owned by the caller. Features
// without polygonal geometry yield nothing.
func projectFeature(feat C.OGRFeatureH, ct *CoordTransform, buffer float64) (orb.MultiPolygon, C.OGRGeometryH, error) {
	ref := C.OGR_F_GetGeometryRef(feat)
	if ref == nil || C.OGR_G_IsEmpty(ref) == 1 {
		return nil, nil, nil
	}

	geom := C.OGR_G_Clone(ref)
	defer C.OGR_G_DestroyGeometry(geom)
	C.OGR_G_FlattenTo2D(geom)
	if ct != nil {
		if C.OGR_G_Transform(geom, ct.h) != C.OGRERR_NONE {
			return nil, nil, fmt.Errorf("geometry could not be reprojected")
		}
	}

	parts, err := toMultiPolygon(geom)
	if err != nil || len(parts) == 0 {
		return nil, nil, err
	}

	// lines and points of a collection must not widen the region
	if C.OGR_GT_Flatten(C.OGR_G_GetGeometryType(geom)) == C.wkbGeometryCollection {
		polys, err := fromMultiPolygon(parts)
		if err != nil {
			return nil, nil, err
		}
		defer C.OGR_G_DestroyGeometry(polys)
		geom = polys
	}

	buffered := C.OGR_G_Buffer(geom, C.double(buffer), C.int(30))
	if buffered == nil || C.OGR_G_IsEmpty(buffered) == 1 {
		if buffered != nil {
			C.OGR_G_DestroyGeometry(buffered)
		}
		return nil, nil, fmt.Errorf("buffer of %v collapsed the geometry", buffer)
	}
	return parts, buffered, nil
}

// toMultiPolygon converts a geometry to orb through WKT. The polygons of a
// geometry collection are gathered; other parts are dropped.
func toMultiPolygon(geom C.OGRGeometryH) (orb.MultiPolygon, error) {
	if C.OGR_GT_Flatten(C.OGR_G_GetGeometryType(geom)) == C.wkbGeometryCollection {
		var out orb.MultiPolygon
		for i := 0; i < int(C.OGR_G_GetGeometryCount(geom)); i++ {
			member := C.OGR_G_GetGeometryRef(geom, C.int(i))
			part, err := toMultiPolygon(member)
			if err != nil {
				return nil, err
			}
			if len(part) == 0 {
				log.Printf("aoi: dropping %s member %d of geometry collection", C.GoString(C.OGR_G_GetGeometryName(member)), i)
			}
			out = append(out, part...)
		}
		return out, nil
	}

	mp := C.OGR_G_ForceToMultiPolygon(C.OGR_G_Clone(geom))
	defer C.OGR_G_DestroyGeometry(mp)
	if C.OGR_G_IsEmpty(mp) == 1 || C.OGR_GT_Flatten(C.OGR_G_GetGeometryType(mp)) != C.wkbMultiPolygon {
		return nil, nil
	}

	var cWKT *C.char
	if C.OGR_G_ExportToWkt(mp, &cWKT) != C.OGRERR_NONE {
		return nil, fmt.Errorf("geometry could not be exported")
	}
	defer C.free(unsafe.Pointer(cWKT))

	out, err := wkt.UnmarshalMultiPolygon(C.GoString(cWKT))
	if err != nil {
		return nil, err
	}
	return out, nil
}
