package processor

import (
	"context"
	"fmt"

	"github.com/nci/s2crop/raster"
)

type Status int

const (
	// StatusCropped means the AOI intersects the mosaic and a crop was written.
	StatusCropped Status = iota + 1

	// StatusNoCoverage means the AOI misses the mosaic; only the mosaic exists.
	StatusNoCoverage
)

func (s Status) String() string {
	switch s {
	case StatusCropped:
		return "cropped"
	case StatusNoCoverage:
		return "no_coverage"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Raster is an opened mosaic.
type Raster interface {
	raster.BandReader
	Metadata() (raster.Metadata, error)
	Close()
}

// Engine performs the file-backed and GDAL-backed steps of the pipeline.
type Engine interface {
	raster.Rasterizer
	raster.Warper

	StackBands(ctx context.Context, tiles []string, dst string, resolution float64) (raster.Metadata, error)
	OpenRaster(path string) (Raster, error)
	LoadAOI(path, crs string, buffer float64) (*raster.AOI, error)
	WriteCrop(path string, img *raster.Image) error
}

type CropRequest struct {
	Product string
	// Tiles are stacked into MosaicPath in this order. When empty,
	// MosaicPath must already exist.
	Tiles      []string
	MosaicPath string
	CropPath   string
	AOIPath    string
	Resolution float64
	// CRS of the crop; empty keeps the mosaic CRS.
	CRS      string
	DataType raster.DataType
	Fill     float64
	// Buffer is applied around the AOI, in mosaic CRS units.
	Buffer float64
}

func (r *CropRequest) Validate() error {
	if r.MosaicPath == "" {
		return fmt.Errorf("no mosaic path")
	}
	if r.CropPath == "" {
		return fmt.Errorf("no crop path")
	}
	if r.CropPath == r.MosaicPath {
		return fmt.Errorf("crop and mosaic share path %s", r.CropPath)
	}
	if r.AOIPath == "" {
		return fmt.Errorf("no AOI")
	}
	if r.Buffer < 0 {
		return fmt.Errorf("negative buffer %v", r.Buffer)
	}
	if r.Resolution < 0 {
		return fmt.Errorf("negative resolution %v", r.Resolution)
	}
	if r.DataType != raster.Unknown && !r.DataType.Fits(r.Fill) {
		return fmt.Errorf("fill value %v not representable as %v", r.Fill, r.DataType)
	}
	return nil
}

type Result struct {
	Product    string             `json:"product,omitempty"`
	Status     Status             `json:"status"`
	MosaicPath string             `json:"mosaic"`
	CropPath   string             `json:"crop,omitempty"`
	Mosaic     raster.Metadata    `json:"-"`
	Crop       *raster.Metadata   `json:"-"`
	Stats      []raster.BandStats `json:"stats,omitempty"`
}
