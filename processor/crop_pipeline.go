package processor

import (
	"context"
	"fmt"
	"log"

	"github.com/nci/s2crop/metrics"
	"github.com/nci/s2crop/raster"
)

type CropPipeline struct {
	Context context.Context
	Engine  Engine
	Logger  metrics.Logger
	Verbose bool
}

func InitCropPipeline(ctx context.Context, engine Engine, logger metrics.Logger, verbose bool) *CropPipeline {
	return &CropPipeline{
		Context: ctx,
		Engine:  engine,
		Logger:  logger,
		Verbose: verbose,
	}
}

// Process stacks the tiles, then crops the mosaic to the AOI. A mosaic is
// produced whether or not the AOI covers it. When the crop step fails the
// returned Result still describes the mosaic.
func (p *CropPipeline) Process(req *CropRequest) (*Result, error) {
	mc := metrics.NewCollector(p.Logger)
	mc.Info.Product = req.Product
	mc.Info.Tiles = req.Tiles
	defer mc.Log()

	res, err := p.process(req, mc)
	if res != nil {
		mc.Info.Status = res.Status.String()
		mc.Info.CropStats = res.Stats
	}
	if err != nil {
		mc.Info.Error = err.Error()
		log.Printf("crop: %s: %v", req.Product, err)
	}
	return res, err
}

func (p *CropPipeline) process(req *CropRequest, mc *metrics.Collector) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if len(req.Tiles) > 0 {
		done := mc.Stage("stack")
		_, err := p.Engine.StackBands(p.Context, req.Tiles, req.MosaicPath, req.Resolution)
		done(err)
		if err != nil {
			return nil, fmt.Errorf("stacking %d tiles into %s: %w", len(req.Tiles), req.MosaicPath, err)
		}
		if p.Verbose {
			log.Printf("stack: %s written from %d tiles", req.MosaicPath, len(req.Tiles))
		}
	}

	src, err := p.Engine.OpenRaster(req.MosaicPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	md, err := src.Metadata()
	if err != nil {
		return nil, err
	}
	res := &Result{Product: req.Product, MosaicPath: req.MosaicPath, Mosaic: md}
	mc.Info.Mosaic = metrics.NewRasterInfo(req.MosaicPath, md)

	if err := p.Context.Err(); err != nil {
		return res, err
	}

	done := mc.Stage("aoi")
	aoi, err := p.Engine.LoadAOI(req.AOIPath, md.CRS, req.Buffer)
	done(err)
	if err != nil {
		return res, err
	}
	mc.Info.AOI = &metrics.AOIInfo{Path: req.AOIPath, Footprint: aoi.Footprint, Centroid: [2]float64{aoi.Centroid[0], aoi.Centroid[1]}}

	if !raster.Intersects(aoi.Footprint, md.Bounds()) {
		res.Status = StatusNoCoverage
		log.Printf("crop: %s does not cover %s", req.MosaicPath, req.AOIPath)
		return res, nil
	}

	done = mc.Stage("extract")
	frag, err := raster.ExtractFragment(src, md, aoi.Region, p.Engine)
	done(err)
	if err != nil {
		return res, fmt.Errorf("cropping %s: %w", req.MosaicPath, err)
	}
	res.Stats = raster.ComputeStats(frag.MaskedArray)
	if p.Verbose {
		log.Printf("crop: window %v of %s", frag.Window, req.MosaicPath)
	}

	if err := p.Context.Err(); err != nil {
		return res, err
	}

	done = mc.Stage("reproject")
	img, err := raster.Reproject(frag, raster.ReprojectOptions{CRS: req.CRS, DataType: req.DataType, Fill: req.Fill}, p.Engine)
	done(err)
	if err != nil {
		return res, fmt.Errorf("reprojecting %s: %w", req.MosaicPath, err)
	}

	done = mc.Stage("write")
	err = p.Engine.WriteCrop(req.CropPath, img)
	done(err)
	if err != nil {
		return res, err
	}

	res.Status = StatusCropped
	res.CropPath = req.CropPath
	res.Crop = &img.Metadata
	mc.Info.Crop = metrics.NewRasterInfo(req.CropPath, img.Metadata)
	return res, nil
}

// ProcessAll runs every request with at most concurrency of them in flight.
// Results and errors are indexed like reqs.
func (p *CropPipeline) ProcessAll(reqs []*CropRequest, concurrency int) ([]*Result, []error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]*Result, len(reqs))
	errs := make([]error, len(reqs))

	cLimiter := NewConcLimiter(concurrency)
	for i, req := range reqs {
		cLimiter.Increase()
		go func(i int, req *CropRequest) {
			defer cLimiter.Decrease()
			results[i], errs[i] = p.Process(req)
		}(i, req)
	}
	cLimiter.Wait()
	return results, errs
}
