package utils

// #include <stdlib.h>
// #include "gdal.h"
// #include "gdal_frmts.h"
// #cgo pkg-config: gdal
import "C"

import (
	"os"
	"sync"
	"unsafe"
)

var gdalOnce sync.Once

// InitGdal sets GDAL defaults that are not already present in the
// environment and registers the drivers. Safe to call more than once.
func InitGdal() {
	gdalOnce.Do(func() {
		setDefaultEnv("GDAL_PAM_ENABLED", "NO")
		setDefaultEnv("GDAL_DISABLE_READDIR_ON_OPEN", "EMPTY_DIR")
		setDefaultEnv("GDAL_MAX_DATASET_POOL_SIZE", "32")
		setDefaultEnv("OGR_GEOJSON_MAX_OBJ_SIZE", "0")

		registerGDALDrivers()
	})
}

func setDefaultEnv(envVar string, defaultVal string) {
	if _, ok := os.LookupEnv(envVar); !ok {
		os.Setenv(envVar, defaultVal)
	}
}

// GDALVersion is the release name of the linked GDAL library.
func GDALVersion() string {
	key := C.CString("RELEASE_NAME")
	defer C.free(unsafe.Pointer(key))
	return C.GoString(C.GDALVersionInfo(key))
}

func registerGDALDrivers() {
	// Drivers are interrogated in registration order when a file is
	// opened, so the GeoTIFF and JPEG2000 drivers go first.
	var haveJP2OpenJPEG, haveGTiff bool

	C.GDALAllRegister()
	for i := 0; i < int(C.GDALGetDriverCount()); i++ {
		driver := C.GDALGetDriver(C.int(i))
		switch C.GoString(C.GDALGetDriverShortName(driver)) {
		case "JP2OpenJPEG":
			haveJP2OpenJPEG = true
		case "GTiff":
			haveGTiff = true
		}
	}

	for C.GDALGetDriverCount() > 0 {
		C.GDALDeregisterDriver(C.GDALGetDriver(0))
	}

	if haveGTiff {
		C.GDALRegister_GTiff()
	}
	if haveJP2OpenJPEG {
		C.GDALRegister_JP2OpenJPEG()
	}
	C.GDALAllRegister()
}
