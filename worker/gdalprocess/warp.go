package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "gdalwarper.h"
// #include "gdal_alg.h"
// #include "cpl_string.h"
// #cgo pkg-config: gdal
// int
// warp_operation(GDALDatasetH hSrcDS, GDALDatasetH hDstDS, double nodata)
// {
//        int i, nBands, err;
//        GDALWarpOptions *psWOptions;
//
//        nBands = GDALGetRasterCount(hSrcDS);
//        psWOptions = GDALCreateWarpOptions();
//        psWOptions->nBandCount = nBands;
//        psWOptions->panSrcBands = (int *) CPLMalloc(sizeof(int) * nBands);
//        psWOptions->panDstBands = (int *) CPLMalloc(sizeof(int) * nBands);
//        psWOptions->padfSrcNoDataReal = (double *) CPLMalloc(sizeof(double) * nBands);
//        psWOptions->padfDstNoDataReal = (double *) CPLMalloc(sizeof(double) * nBands);
//        for(i = 0; i < nBands; i++) {
//            psWOptions->panSrcBands[i] = i + 1;
//            psWOptions->panDstBands[i] = i + 1;
//            psWOptions->padfSrcNoDataReal[i] = nodata;
//            psWOptions->padfDstNoDataReal[i] = nodata;
//        }
//        psWOptions->papszWarpOptions = CSLSetNameValue(psWOptions->papszWarpOptions, "INIT_DEST", "NO_DATA");
//
//        err = GDALReprojectImage(hSrcDS, GDALGetProjectionRef(hSrcDS), hDstDS, GDALGetProjectionRef(hDstDS), GRA_NearestNeighbour, 0.0, 0.0, NULL, NULL, psWOptions);
//        GDALDestroyWarpOptions(psWOptions);
//
//        return err;
// }
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/nci/s2crop/raster"
)

// suggestedGrid is the destination grid GDAL proposes for warping ds into
// dstCRS: its full extent at a resolution close to the source's.
func suggestedGrid(ds *writeDataset, dstCRS string) (raster.Grid, error) {
	dstWKT, err := CanonicalCRS(dstCRS)
	if err != nil {
		return raster.Grid{}, err
	}
	projWKT := C.CString(dstWKT)
	defer C.free(unsafe.Pointer(projWKT))

	hTransformArg := C.GDALCreateGenImgProjTransformer(ds.h, nil, nil, projWKT, C.int(0), C.double(0), C.int(0))
	if hTransformArg == nil {
		return raster.Grid{}, fmt.Errorf("GDALCreateGenImgProjTransformer() failed: %s", lastError())
	}
	defer C.GDALDestroyGenImgProjTransformer(hTransformArg)

	psInfo := (*C.GDALTransformerInfo)(hTransformArg)

	var padfGeoTransformOut [6]C.double
	var pnPixels, pnLines C.int
	if C.GDALSuggestedWarpOutput(ds.h, psInfo.pfnTransform, hTransformArg, &padfGeoTransformOut[0], &pnPixels, &pnLines) != C.CE_None {
		return raster.Grid{}, fmt.Errorf("GDALSuggestedWarpOutput() failed: %s", lastError())
	}

	var gt [6]float64
	for i := range gt {
		gt[i] = float64(padfGeoTransformOut[i])
	}
	return raster.Grid{Width: int(pnPixels), Height: int(pnLines), Transform: raster.FromGeoTransform(gt), CRS: dstWKT}, nil
}

// Warp reprojects src, laid out on grid, into dstCRS by nearest neighbour on
// the grid GDAL suggests. src.Fill is the nodata value on both sides, so
// masked source pixels and destination pixels outside the source come out
// as the fill.
func Warp(src *raster.FilledArray, grid raster.Grid, dstCRS string) (raster.Grid, [][]float64, error) {
	if len(src.Data) == 0 {
		return raster.Grid{}, nil, fmt.Errorf("nothing to warp")
	}
	if grid.Width != src.Width || grid.Height != src.Height {
		return raster.Grid{}, nil, fmt.Errorf("array %dx%d does not match grid %dx%d", src.Width, src.Height, grid.Width, grid.Height)
	}

	srcMD := raster.Metadata{Grid: grid, Bands: len(src.Data), DataType: raster.Float64, NoData: src.Fill, HasNoData: true}
	srcDS, err := createMem(srcMD)
	if err != nil {
		return raster.Grid{}, nil, err
	}
	defer srcDS.close()
	for b, band := range src.Data {
		if err := srcDS.writeBand(b+1, src.Width, src.Height, band); err != nil {
			return raster.Grid{}, nil, err
		}
	}

	dst, err := suggestedGrid(srcDS, dstCRS)
	if err != nil {
		return raster.Grid{}, nil, err
	}
	if dst.Width <= 0 || dst.Height <= 0 {
		return raster.Grid{}, nil, fmt.Errorf("degenerate destination grid %dx%d", dst.Width, dst.Height)
	}

	dstMD := raster.Metadata{Grid: dst, Bands: len(src.Data), DataType: raster.Float64, NoData: src.Fill, HasNoData: true}
	dstDS, err := createMem(dstMD)
	if err != nil {
		return raster.Grid{}, nil, err
	}
	defer dstDS.close()

	if cErr := C.warp_operation(srcDS.h, dstDS.h, C.double(src.Fill)); cErr != 0 {
		return raster.Grid{}, nil, fmt.Errorf("warp_operation() failed: %s", lastError())
	}

	out := make([][]float64, len(src.Data))
	for b := range out {
		if out[b], err = dstDS.readBand(b+1, dst.Width, dst.Height); err != nil {
			return raster.Grid{}, nil, err
		}
	}
	return dst, out, nil
}
