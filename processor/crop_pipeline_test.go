package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nci/s2crop/metrics"
	"github.com/nci/s2crop/raster"
	"github.com/nci/s2crop/raster/rastertest"
)

const (
	utm31  = "EPSG:32631"
	wgs84  = "EPSG:4326"
	nBands = 6
)

type memRaster struct {
	md    raster.Metadata
	bands [][]float64
}

func (m *memRaster) Metadata() (raster.Metadata, error) { return m.md, nil }
func (m *memRaster) Close()                             {}

func (m *memRaster) ReadWindow(band int, win raster.Window) ([]float64, error) {
	src := m.bands[band-1]
	out := make([]float64, 0, win.Width*win.Height)
	for r := win.RowOff; r < win.RowOff+win.Height; r++ {
		off := r*m.md.Width + win.ColOff
		out = append(out, src[off:off+win.Width]...)
	}
	return out, nil
}

// lonLat is a linear stand-in for a UTM zone 31 to WGS84 conversion.
type lonLat struct{ inverse bool }

func (t lonLat) Transform(xs, ys []float64) ([]bool, error) {
	ok := make([]bool, len(xs))
	for i := range xs {
		if t.inverse {
			xs[i] = (xs[i]-3)*70000 + 500000
			ys[i] = ys[i] * 111000
		} else {
			xs[i] = 3 + (xs[i]-500000)/70000
			ys[i] = ys[i] / 111000
		}
		ok[i] = true
	}
	return ok, nil
}

type fakeEngine struct {
	mu    sync.Mutex
	tiles map[string]*memRaster
	files map[string]*memRaster
	crops map[string]*raster.Image
	aois  map[string]orb.MultiPolygon
}

func newFakeEngine() *fakeEngine {
	e := &fakeEngine{
		tiles: map[string]*memRaster{},
		files: map[string]*memRaster{},
		crops: map[string]*raster.Image{},
		aois:  map[string]orb.MultiPolygon{},
	}
	for b := 0; b < nBands; b++ {
		e.tiles[tileName(b)] = tileRaster(100, 100, float64(1000*(b+1)))
	}
	return e
}

func tileName(b int) string {
	return fmt.Sprintf("T31UFQ_20230601T103631_B0%d.jp2", b+2)
}

func tileNames() []string {
	var out []string
	for b := 0; b < nBands; b++ {
		out = append(out, tileName(b))
	}
	return out
}

func tileRaster(width, height int, base float64) *memRaster {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = base + float64(i%100)
	}
	return &memRaster{
		md: raster.Metadata{
			Grid:      raster.Grid{Width: width, Height: height, Transform: raster.Affine{10, 0, 600000, 0, -10, 5001000}, CRS: utm31},
			Bands:     1,
			DataType:  raster.UInt16,
			NoData:    0,
			HasNoData: true,
		},
		bands: [][]float64{data},
	}
}

func (e *fakeEngine) StackBands(ctx context.Context, tiles []string, dst string, resolution float64) (raster.Metadata, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := make([]raster.TileInfo, len(tiles))
	for i, t := range tiles {
		tr, ok := e.tiles[t]
		if !ok {
			return raster.Metadata{}, fmt.Errorf("%s: no such tile", t)
		}
		infos[i] = raster.TileInfo{Path: t, Metadata: tr.md}
	}
	plan, err := raster.PlanStack(infos, resolution)
	if err != nil {
		return raster.Metadata{}, err
	}
	out := &memRaster{md: plan.Output}
	for _, r := range plan.Reads {
		if r.Resampled {
			return raster.Metadata{}, fmt.Errorf("resampling not supported")
		}
		out.bands = append(out.bands, e.tiles[r.Path].bands[0])
	}
	e.files[dst] = out
	return plan.Output, nil
}

func (e *fakeEngine) OpenRaster(path string) (Raster, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.files[path]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%s: not found", path)
}

func (e *fakeEngine) LoadAOI(path, crs string, buffer float64) (*raster.AOI, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fp, ok := e.aois[path]
	if !ok {
		return nil, fmt.Errorf("%s: not found", path)
	}
	return &raster.AOI{CRS: crs, Footprint: fp, Region: chamfer(fp.Bound(), buffer)}, nil
}

// chamfer buffers b by d with the corners cut diagonally, a one-segment
// approximation of round buffer corners.
func chamfer(b orb.Bound, d float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{b.Min[0] - d, b.Min[1]}, {b.Min[0], b.Min[1] - d},
		{b.Max[0], b.Min[1] - d}, {b.Max[0] + d, b.Min[1]},
		{b.Max[0] + d, b.Max[1]}, {b.Max[0], b.Max[1] + d},
		{b.Min[0], b.Max[1] + d}, {b.Min[0] - d, b.Max[1]},
		{b.Min[0] - d, b.Min[1]},
	}}}
}

func transformers(src, dst string) (rastertest.Transformer, error) {
	switch {
	case src == dst:
		return rastertest.IdentityTransformer{}, nil
	case src == utm31 && dst == wgs84:
		return lonLat{}, nil
	case src == wgs84 && dst == utm31:
		return lonLat{inverse: true}, nil
	}
	return nil, fmt.Errorf("no transformation %s -> %s", src, dst)
}

func (e *fakeEngine) RasterizeAllTouched(g raster.Grid, poly orb.MultiPolygon) ([]bool, error) {
	return rastertest.Rasterizer{}.RasterizeAllTouched(g, poly)
}

func (e *fakeEngine) Warp(src *raster.FilledArray, grid raster.Grid, dstCRS string) (raster.Grid, [][]float64, error) {
	return rastertest.Warper{Transformers: transformers}.Warp(src, grid, dstCRS)
}

func (e *fakeEngine) WriteCrop(path string, img *raster.Image) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.crops[path] = img
	return nil
}

type recordingLogger struct {
	mu   sync.Mutex
	runs []*metrics.RunInfo
}

func (l *recordingLogger) Log(info *metrics.RunInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, info)
}

func (l *recordingLogger) Close() {}

func box(minX, minY, maxX, maxY float64) orb.MultiPolygon {
	return orb.MultiPolygon{orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}.ToPolygon()}
}

func request(aoi string) *CropRequest {
	return &CropRequest{
		Product:    "S2A_MSIL1C_20230601T103631",
		Tiles:      tileNames(),
		MosaicPath: "mosaic.tif",
		CropPath:   "mosaic_crop.tif",
		AOIPath:    aoi,
		CRS:        wgs84,
		DataType:   raster.Float32,
		Fill:       -10000,
		Buffer:     150,
	}
}

func TestCropPipelineEndToEnd(t *testing.T) {
	e := newFakeEngine()
	e.aois["field.geojson"] = box(600200, 5000300, 600500, 5000600)
	logger := &recordingLogger{}

	p := InitCropPipeline(context.Background(), e, logger, false)
	res, err := p.Process(request("field.geojson"))
	require.NoError(t, err)

	assert.Equal(t, StatusCropped, res.Status)
	assert.Equal(t, "mosaic_crop.tif", res.CropPath)

	mosaic := e.files["mosaic.tif"]
	require.NotNil(t, mosaic)
	assert.Equal(t, nBands, mosaic.md.Bands)
	for b := 0; b < nBands; b++ {
		assert.Equal(t, float64(1000*(b+1)), mosaic.bands[b][0])
	}

	img := e.crops["mosaic_crop.tif"]
	require.NotNil(t, img)
	assert.Equal(t, nBands, img.Bands)
	assert.Equal(t, raster.Float32, img.DataType)
	assert.Equal(t, wgs84, img.CRS)
	assert.Equal(t, -10000.0, img.NoData)
	assert.True(t, img.HasNoData)
	assert.True(t, img.Width > 0 && img.Width < 100, "width %d", img.Width)
	assert.True(t, img.Height > 0 && img.Height < 100, "height %d", img.Height)
	last := img.Width*img.Height - 1
	for b, band := range img.Data {
		// corners sample the cut buffer corners of the fragment
		for _, i := range []int{0, img.Width - 1, last - img.Width + 1, last} {
			assert.Equal(t, -10000.0, band[i], "band %d pixel %d", b+1, i)
		}
		lo, hi := float64(1000*(b+1)), float64(1000*(b+1)+99)
		values := 0
		for _, v := range band {
			if v != -10000 {
				require.True(t, v >= lo && v <= hi, "band %d value %v", b+1, v)
				values++
			}
		}
		assert.True(t, values > 0, "band %d holds only fill", b+1)
	}

	// the 150 m buffer widens the 300 m field to 60 pixels; each cut
	// corner drops 105 of them
	require.Len(t, res.Stats, nBands)
	assert.Equal(t, 3600-4*105, res.Stats[0].Count)

	require.Len(t, logger.runs, 1)
	assert.Equal(t, "cropped", logger.runs[0].Status)
	var stages []string
	for _, st := range logger.runs[0].Stages {
		stages = append(stages, st.Name)
	}
	assert.Equal(t, []string{"stack", "aoi", "extract", "reproject", "write"}, stages)
}

func TestCropPipelineNoCoverage(t *testing.T) {
	e := newFakeEngine()
	e.aois["far.geojson"] = box(611000, 5000300, 611300, 5000600)
	logger := &recordingLogger{}

	res, err := InitCropPipeline(context.Background(), e, logger, false).Process(request("far.geojson"))
	require.NoError(t, err)
	assert.Equal(t, StatusNoCoverage, res.Status)
	assert.Empty(t, res.CropPath)
	assert.Contains(t, e.files, "mosaic.tif")
	assert.Empty(t, e.crops)
	assert.Equal(t, "no_coverage", logger.runs[0].Status)
}

func TestCropPipelineTouchingEdge(t *testing.T) {
	e := newFakeEngine()
	e.aois["edge.geojson"] = box(601000, 5000300, 601300, 5000600)

	res, err := InitCropPipeline(context.Background(), e, nil, false).Process(request("edge.geojson"))
	require.NoError(t, err)
	assert.Equal(t, StatusCropped, res.Status)
	assert.Equal(t, 15*60-2*105, res.Stats[0].Count)
}

func TestCropPipelineEmptyWindow(t *testing.T) {
	e := newFakeEngine()
	e.aois["corner.geojson"] = box(601000, 5001000, 601100, 5001100)
	req := request("corner.geojson")
	req.Buffer = 0

	res, err := InitCropPipeline(context.Background(), e, nil, false).Process(req)
	assert.True(t, errors.Is(err, raster.ErrEmptyWindow))
	require.NotNil(t, res)
	assert.Equal(t, "mosaic.tif", res.MosaicPath)
	assert.Empty(t, e.crops)
}

func TestCropPipelineGridMismatch(t *testing.T) {
	e := newFakeEngine()
	e.tiles[tileName(3)] = tileRaster(90, 100, 4000)
	e.aois["field.geojson"] = box(600200, 5000300, 600500, 5000600)

	res, err := InitCropPipeline(context.Background(), e, nil, false).Process(request("field.geojson"))
	assert.True(t, errors.Is(err, raster.ErrGridMismatch))
	assert.Nil(t, res)
	assert.Empty(t, e.files)
}

func TestCropPipelineKeepsMosaicCRS(t *testing.T) {
	e := newFakeEngine()
	e.aois["field.geojson"] = box(600200, 5000300, 600500, 5000600)
	req := request("field.geojson")
	req.CRS = ""
	req.DataType = raster.UInt16
	req.Fill = 0

	res, err := InitCropPipeline(context.Background(), e, nil, false).Process(req)
	require.NoError(t, err)
	img := e.crops["mosaic_crop.tif"]
	assert.Equal(t, utm31, img.CRS)
	assert.Equal(t, 60, img.Width)
	assert.Equal(t, 60, img.Height)
	assert.True(t, img.Transform.AlmostEqual(raster.Affine{10, 0, 600050, 0, -10, 5000750}, 1e-9))
	assert.Equal(t, res.Crop.Width, img.Width)
}

func TestCropRequestValidate(t *testing.T) {
	for name, mod := range map[string]func(*CropRequest){
		"no mosaic":  func(r *CropRequest) { r.MosaicPath = "" },
		"same path":  func(r *CropRequest) { r.CropPath = r.MosaicPath },
		"no aoi":     func(r *CropRequest) { r.AOIPath = "" },
		"neg buffer": func(r *CropRequest) { r.Buffer = -1 },
		"bad fill":   func(r *CropRequest) { r.DataType = raster.Byte },
		"neg res":    func(r *CropRequest) { r.Resolution = -10 },
	} {
		req := request("field.geojson")
		mod(req)
		assert.Error(t, req.Validate(), name)
	}
	assert.NoError(t, request("field.geojson").Validate())
}

func TestProcessAll(t *testing.T) {
	e := newFakeEngine()
	e.aois["field.geojson"] = box(600200, 5000300, 600500, 5000600)
	e.aois["far.geojson"] = box(611000, 5000300, 611300, 5000600)

	a := request("field.geojson")
	b := request("far.geojson")
	b.MosaicPath, b.CropPath = "other.tif", "other_crop.tif"

	results, errs := InitCropPipeline(context.Background(), e, nil, false).ProcessAll([]*CropRequest{a, b}, 2)
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, StatusCropped, results[0].Status)
	assert.Equal(t, StatusNoCoverage, results[1].Status)
}
