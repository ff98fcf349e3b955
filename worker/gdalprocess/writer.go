package gdalprocess

// #include <stdlib.h>
// #include "gdal.h"
// #include "cpl_string.h"
// #cgo pkg-config: gdal
import "C"

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/nci/s2crop/raster"
)

var (
	// MosaicOptions are the creation options of the stacked reflectance map.
	MosaicOptions = []string{"COMPRESS=LZW", "BIGTIFF=YES", "TILED=YES"}

	// CropOptions are the creation options of the reprojected crop.
	CropOptions = []string{"COMPRESS=LZW"}
)

// TempPath is the sibling file a raster is written to before being renamed
// onto path.
func TempPath(path string) string {
	return filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.%d.part", filepath.Base(path), os.Getpid()))
}

type writeDataset struct {
	path string
	h    C.GDALDatasetH
}

// createGTiff creates a GeoTIFF laid out as md, with nodata set on every band
// when md has one.
func createGTiff(path string, md raster.Metadata, options []string) (*writeDataset, error) {
	return createDataset("GTiff", path, md, options)
}

// createMem creates an in-memory dataset laid out as md.
func createMem(md raster.Metadata) (*writeDataset, error) {
	return createDataset("MEM", "", md, nil)
}

func createDataset(driver, path string, md raster.Metadata, options []string) (*writeDataset, error) {
	gType, err := gdalType(md.DataType)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, ErrWrite)
	}

	driverNameC := C.CString(driver)
	defer C.free(unsafe.Pointer(driverNameC))
	hDriver := C.GDALGetDriverByName(driverNameC)
	if hDriver == nil {
		return nil, fmt.Errorf("%s driver not registered: %w", driver, ErrWrite)
	}

	var opts **C.char
	for _, o := range options {
		cOpt := C.CString(o)
		opts = C.CSLAddString(opts, cOpt)
		C.free(unsafe.Pointer(cOpt))
	}
	defer C.CSLDestroy(opts)

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	hDstDS := C.GDALCreate(hDriver, cPath, C.int(md.Width), C.int(md.Height), C.int(md.Bands), gType, opts)
	if hDstDS == nil {
		return nil, fmt.Errorf("%s: %s: %w", path, lastError(), ErrWrite)
	}
	wd := &writeDataset{path: path, h: hDstDS}

	gt := md.Transform.GeoTransform()
	if C.GDALSetGeoTransform(hDstDS, (*C.double)(&gt[0])) != C.CE_None {
		wd.abort()
		return nil, fmt.Errorf("%s: setting geotransform: %w", path, ErrWrite)
	}
	if md.CRS != "" {
		wkt, err := CanonicalCRS(md.CRS)
		if err != nil {
			wd.abort()
			return nil, fmt.Errorf("%s: %v: %w", path, err, ErrWrite)
		}
		projWKT := C.CString(wkt)
		defer C.free(unsafe.Pointer(projWKT))
		C.GDALSetProjection(hDstDS, projWKT)
	}
	if md.HasNoData {
		for b := 1; b <= md.Bands; b++ {
			C.GDALSetRasterNoDataValue(C.GDALGetRasterBand(hDstDS, C.int(b)), C.double(md.NoData))
		}
	}
	return wd, nil
}

func (wd *writeDataset) writeBand(band, width, height int, data []float64) error {
	return wd.writeRows(band, 0, width, height, data)
}

// writeRows writes rows [row, row+rows) of a band width pixels wide.
func (wd *writeDataset) writeRows(band, row, width, rows int, data []float64) error {
	if len(data) != width*rows {
		return fmt.Errorf("%s: band %d rows %d+%d have %d samples, expected %d: %w", wd.path, band, row, rows, len(data), width*rows, ErrWrite)
	}
	hBand := C.GDALGetRasterBand(wd.h, C.int(band))
	gerr := C.GDALRasterIO(hBand, C.GF_Write, 0, C.int(row), C.int(width), C.int(rows), unsafe.Pointer(&data[0]), C.int(width), C.int(rows), C.GDT_Float64, 0, 0)
	if gerr != C.CE_None {
		return fmt.Errorf("%s: writing band %d: %s: %w", wd.path, band, lastError(), ErrWrite)
	}
	return nil
}

func (wd *writeDataset) readBand(band, width, height int) ([]float64, error) {
	buf := make([]float64, width*height)
	hBand := C.GDALGetRasterBand(wd.h, C.int(band))
	gerr := C.GDALRasterIO(hBand, C.GF_Read, 0, 0, C.int(width), C.int(height), unsafe.Pointer(&buf[0]), C.int(width), C.int(height), C.GDT_Float64, 0, 0)
	if gerr != C.CE_None {
		return nil, fmt.Errorf("reading band %d: %s", band, lastError())
	}
	return buf, nil
}

func (wd *writeDataset) close() {
	if wd.h != nil {
		C.GDALClose(wd.h)
		wd.h = nil
	}
}

func (wd *writeDataset) abort() {
	wd.close()
	os.Remove(wd.path)
}

// commit closes the temporary dataset and moves it onto dst.
func (wd *writeDataset) commit(dst string) error {
	wd.close()
	if err := os.Rename(wd.path, dst); err != nil {
		os.Remove(wd.path)
		return fmt.Errorf("%s: %v: %w", dst, err, ErrWrite)
	}
	return nil
}

// WriteGTiff writes img to path with the given creation options. The file is
// built next to path and renamed into place once complete.
func WriteGTiff(path string, img *raster.Image, options []string) error {
	if img.Bands != len(img.Data) {
		return fmt.Errorf("%s: image declares %d bands, holds %d: %w", path, img.Bands, len(img.Data), ErrWrite)
	}
	wd, err := createGTiff(TempPath(path), img.Metadata, options)
	if err != nil {
		return err
	}
	for b, band := range img.Data {
		if err := wd.writeBand(b+1, img.Width, img.Height, band); err != nil {
			wd.abort()
			return err
		}
	}
	return wd.commit(path)
}
