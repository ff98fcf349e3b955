package gdalprocess

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/nci/s2crop/processor"
	"github.com/nci/s2crop/raster"
)

// Engine runs the file-backed pipeline steps on GDAL.
type Engine struct {
	Stack       StackOptions
	CropOptions []string
}

func NewEngine(stack StackOptions) *Engine {
	return &Engine{Stack: stack, CropOptions: CropOptions}
}

func (e *Engine) StackBands(ctx context.Context, tiles []string, dst string, resolution float64) (raster.Metadata, error) {
	opts := e.Stack
	opts.Resolution = resolution
	return StackBands(ctx, tiles, dst, opts)
}

func (e *Engine) OpenRaster(path string) (processor.Raster, error) {
	ds, err := Open(path)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (e *Engine) LoadAOI(path, crs string, buffer float64) (*raster.AOI, error) {
	return LoadAOI(path, crs, buffer)
}

func (e *Engine) RasterizeAllTouched(g raster.Grid, poly orb.MultiPolygon) ([]bool, error) {
	return RasterizeAllTouched(g, poly)
}

func (e *Engine) Warp(src *raster.FilledArray, grid raster.Grid, dstCRS string) (raster.Grid, [][]float64, error) {
	return Warp(src, grid, dstCRS)
}

func (e *Engine) WriteCrop(path string, img *raster.Image) error {
	return WriteGTiff(path, img, e.CropOptions)
}
