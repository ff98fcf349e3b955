package gdalprocess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nci/s2crop/processor"
	"github.com/nci/s2crop/raster"
	"github.com/nci/s2crop/utils"
)

const utm31 = "EPSG:32631"

func TestMain(m *testing.M) {
	utils.InitGdal()
	os.Exit(m.Run())
}

func writeTile(t *testing.T, path string, width, height int, res, base float64) {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = base + float64(i%width)
	}
	img := &raster.Image{
		Metadata: raster.Metadata{
			Grid:      raster.Grid{Width: width, Height: height, Transform: raster.Affine{res, 0, 600000, 0, -res, 5001000}, CRS: utm31},
			Bands:     1,
			DataType:  raster.UInt16,
			HasNoData: true,
		},
		Data: [][]float64{data},
	}
	require.NoError(t, WriteGTiff(path, img, nil))
}

// writeRamp stores a tile whose pixel i holds base+i.
func writeRamp(t *testing.T, path string, width, height int, res, base float64) {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = base + float64(i)
	}
	img := &raster.Image{
		Metadata: raster.Metadata{
			Grid:     raster.Grid{Width: width, Height: height, Transform: raster.Affine{res, 0, 600000, 0, -res, 5001000}, CRS: utm31},
			Bands:    1,
			DataType: raster.UInt16,
		},
		Data: [][]float64{data},
	}
	require.NoError(t, WriteGTiff(path, img, nil))
}

func writeTiles(t *testing.T, dir string, n int) []string {
	var tiles []string
	for b := 0; b < n; b++ {
		p := filepath.Join(dir, fmt.Sprintf("T31UFQ_20230601T103631_B0%d.tif", b+2))
		writeTile(t, p, 100, 100, 10, float64(1000*(b+1)))
		tiles = append(tiles, p)
	}
	return tiles
}

// lonLatRing returns a UTM 31N rectangle as a WGS84 ring.
func lonLatRing(t *testing.T, b orb.Bound) [][2]float64 {
	ct, err := NewCoordTransform(utm31, DefaultVectorCRS)
	require.NoError(t, err)
	defer ct.Close()

	ring := b.ToRing()
	xs, ys := make([]float64, len(ring)), make([]float64, len(ring))
	for i, p := range ring {
		xs[i], ys[i] = p[0], p[1]
	}
	ok, err := ct.Transform(xs, ys)
	require.NoError(t, err)
	coords := make([][2]float64, len(ring))
	for i := range ring {
		require.True(t, ok[i])
		coords[i] = [2]float64{xs[i], ys[i]}
	}
	return coords
}

func writeGeoJSON(t *testing.T, path string, geometry map[string]interface{}) {
	doc := map[string]interface{}{
		"type": "FeatureCollection",
		"features": []interface{}{map[string]interface{}{
			"type":       "Feature",
			"properties": map[string]interface{}{},
			"geometry":   geometry,
		}},
	}
	buf, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, buf, 0644))
}

// writeAOI stores a UTM 31N rectangle as a WGS84 GeoJSON polygon.
func writeAOI(t *testing.T, path string, b orb.Bound) {
	writeGeoJSON(t, path, map[string]interface{}{"type": "Polygon", "coordinates": [][][2]float64{lonLatRing(t, b)}})
}

func leftovers(t *testing.T, dir string) []string {
	matches, err := filepath.Glob(filepath.Join(dir, ".*.part"))
	require.NoError(t, err)
	return matches
}

func TestStackBands(t *testing.T) {
	dir := t.TempDir()
	tiles := writeTiles(t, dir, 3)
	dst := filepath.Join(dir, "mosaic.tif")

	md, err := StackBands(context.Background(), tiles, dst, StackOptions{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, md.Bands)
	assert.Empty(t, leftovers(t, dir))

	ds, err := Open(dst)
	require.NoError(t, err)
	defer ds.Close()
	got, err := ds.Metadata()
	require.NoError(t, err)
	assert.Equal(t, 3, got.Bands)
	assert.Equal(t, raster.UInt16, got.DataType)
	assert.True(t, got.HasNoData)
	assert.Equal(t, raster.Affine{10, 0, 600000, 0, -10, 5001000}, got.Transform)
	assert.True(t, SameCRS(got.CRS, utm31))

	for b := 1; b <= 3; b++ {
		data, err := ds.ReadWindow(b, raster.Window{ColOff: 5, RowOff: 7, Width: 2, Height: 1})
		require.NoError(t, err)
		assert.Equal(t, []float64{float64(1000*b + 5), float64(1000*b + 6)}, data)
	}
}

func TestStackBandsMismatch(t *testing.T) {
	dir := t.TempDir()
	tiles := writeTiles(t, dir, 2)
	odd := filepath.Join(dir, "T31UFQ_20230601T103631_B05.tif")
	writeTile(t, odd, 90, 100, 10, 3000)
	dst := filepath.Join(dir, "mosaic.tif")

	_, err := StackBands(context.Background(), append(tiles, odd), dst, StackOptions{})
	assert.True(t, errors.Is(err, raster.ErrGridMismatch))
	assert.NoFileExists(t, dst)
	assert.Empty(t, leftovers(t, dir))

	_, err = StackBands(context.Background(), []string{filepath.Join(dir, "missing.tif")}, dst, StackOptions{})
	assert.True(t, errors.Is(err, ErrOpen))
}

func TestStackBandsResamples(t *testing.T) {
	dir := t.TempDir()
	fine := filepath.Join(dir, "B02.tif")
	coarse := filepath.Join(dir, "B05.tif")
	writeTile(t, fine, 20, 20, 10, 1000)
	writeTile(t, coarse, 10, 10, 20, 2000)
	dst := filepath.Join(dir, "mosaic.tif")

	md, err := StackBands(context.Background(), []string{fine, coarse}, dst, StackOptions{Resolution: 10, Resampling: Nearest})
	require.NoError(t, err)
	assert.Equal(t, 20, md.Width)
	assert.Equal(t, 20, md.Height)

	ds, err := Open(dst)
	require.NoError(t, err)
	defer ds.Close()
	data, err := ds.ReadWindow(2, raster.Window{Width: 4, Height: 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{2000, 2000, 2001, 2001}, data)
}

func TestStackBandsRowBlocks(t *testing.T) {
	dir := t.TempDir()
	fine := filepath.Join(dir, "B02.tif")
	coarse := filepath.Join(dir, "B05.tif")
	writeRamp(t, fine, 20, 20, 10, 1000)
	writeRamp(t, coarse, 10, 10, 20, 2000)
	dst := filepath.Join(dir, "mosaic.tif")

	_, err := StackBands(context.Background(), []string{fine, coarse}, dst, StackOptions{Resolution: 10, Resampling: Nearest, BlockRows: 3, Workers: 2})
	require.NoError(t, err)

	ds, err := Open(dst)
	require.NoError(t, err)
	defer ds.Close()

	got, err := ds.ReadWindow(1, raster.Window{Width: 20, Height: 20})
	require.NoError(t, err)
	for i, v := range got {
		require.Equal(t, float64(1000+i), v, "band 1 pixel %d", i)
	}

	got, err = ds.ReadWindow(2, raster.Window{Width: 20, Height: 20})
	require.NoError(t, err)
	for row := 0; row < 20; row++ {
		for col := 0; col < 20; col++ {
			want := float64(2000 + (row/2)*10 + col/2)
			require.Equal(t, want, got[row*20+col], "band 2 pixel %d,%d", col, row)
		}
	}
}

func TestLoadAOI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aoi.geojson")
	writeAOI(t, path, orb.Bound{Min: orb.Point{600200, 5000300}, Max: orb.Point{600500, 5000600}})

	aoi, err := LoadAOI(path, utm31, 150)
	require.NoError(t, err)
	require.Len(t, aoi.Footprint, 1)

	fb := aoi.Footprint.Bound()
	assert.InDelta(t, 600200, fb.Min[0], 0.01)
	assert.InDelta(t, 5000600, fb.Max[1], 0.01)

	rb := aoi.Region.Bound()
	assert.InDelta(t, 600050, rb.Min[0], 0.5)
	assert.InDelta(t, 600650, rb.Max[0], 0.5)
	assert.InDelta(t, 5000150, rb.Min[1], 0.5)
	assert.InDelta(t, 5000750, rb.Max[1], 0.5)

	assert.InDelta(t, 4.27, aoi.Centroid[0], 0.05)
	assert.InDelta(t, 45.1, aoi.Centroid[1], 0.1)

	_, err = LoadAOI(filepath.Join(dir, "missing.geojson"), utm31, 0)
	assert.True(t, errors.Is(err, ErrOpen))
}

func TestLoadAOICollection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aoi.geojson")
	road := lonLatRing(t, orb.Bound{Min: orb.Point{603000, 5003000}, Max: orb.Point{604000, 5004000}})
	writeGeoJSON(t, path, map[string]interface{}{
		"type": "GeometryCollection",
		"geometries": []interface{}{
			map[string]interface{}{"type": "Polygon", "coordinates": [][][2]float64{lonLatRing(t, orb.Bound{Min: orb.Point{600200, 5000300}, Max: orb.Point{600500, 5000600}})}},
			map[string]interface{}{"type": "LineString", "coordinates": road[:2]},
		},
	})

	aoi, err := LoadAOI(path, utm31, 150)
	require.NoError(t, err)
	require.Len(t, aoi.Footprint, 1)

	fb := aoi.Footprint.Bound()
	assert.InDelta(t, 600200, fb.Min[0], 0.01)
	assert.InDelta(t, 600500, fb.Max[0], 0.01)

	// the line is dropped, not buffered into the region
	rb := aoi.Region.Bound()
	assert.InDelta(t, 600050, rb.Min[0], 0.5)
	assert.InDelta(t, 600650, rb.Max[0], 0.5)
	assert.InDelta(t, 5000750, rb.Max[1], 0.5)
}

func TestTransformRoundTrip(t *testing.T) {
	fwd, err := NewCoordTransform(utm31, DefaultVectorCRS)
	require.NoError(t, err)
	defer fwd.Close()
	inv, err := NewCoordTransform(DefaultVectorCRS, utm31)
	require.NoError(t, err)
	defer inv.Close()

	xs, ys := []float64{600000}, []float64{5000000}
	_, err = fwd.Transform(xs, ys)
	require.NoError(t, err)
	assert.True(t, xs[0] > 4 && xs[0] < 5, "longitude %v", xs[0])
	_, err = inv.Transform(xs, ys)
	require.NoError(t, err)
	assert.InDelta(t, 600000, xs[0], 1e-3)
	assert.InDelta(t, 5000000, ys[0], 1e-3)

	_, err = NewCoordTransform("EPSG:0", utm31)
	assert.Error(t, err)
}

func runPipeline(t *testing.T, dir string, aoi orb.Bound) (*processor.Result, error) {
	tiles := writeTiles(t, dir, 6)
	aoiPath := filepath.Join(dir, "aoi.geojson")
	writeAOI(t, aoiPath, aoi)

	p := processor.InitCropPipeline(context.Background(), NewEngine(StackOptions{Workers: 3}), nil, false)
	return p.Process(&processor.CropRequest{
		Tiles:      tiles,
		MosaicPath: filepath.Join(dir, "mosaic.tif"),
		CropPath:   filepath.Join(dir, "mosaic_crop.tif"),
		AOIPath:    aoiPath,
		CRS:        "EPSG:4326",
		DataType:   raster.Float32,
		Fill:       -10000,
		Buffer:     150,
	})
}

func TestPipelineEndToEnd(t *testing.T) {
	dir := t.TempDir()
	res, err := runPipeline(t, dir, orb.Bound{Min: orb.Point{600200, 5000300}, Max: orb.Point{600500, 5000600}})
	require.NoError(t, err)
	assert.Equal(t, processor.StatusCropped, res.Status)

	ds, err := Open(res.CropPath)
	require.NoError(t, err)
	defer ds.Close()
	md, err := ds.Metadata()
	require.NoError(t, err)
	assert.Equal(t, 6, md.Bands)
	assert.Equal(t, raster.Float32, md.DataType)
	assert.True(t, md.HasNoData)
	assert.Equal(t, -10000.0, md.NoData)
	assert.True(t, SameCRS(md.CRS, "EPSG:4326"))

	b := md.Bounds()
	assert.True(t, b.Min[0] > 4 && b.Max[0] < 5)
	assert.True(t, b.Min[1] > 44 && b.Max[1] < 46)

	// a 600 m region is cropped, not the whole 1 km mosaic
	assert.True(t, md.Width > 0 && md.Width < 100, "width %d", md.Width)
	assert.True(t, md.Height > 0 && md.Height < 100, "height %d", md.Height)

	// buffered corners are rounded, so the crop corners are nodata
	corners := []raster.Window{
		{Width: 1, Height: 1},
		{ColOff: md.Width - 1, Width: 1, Height: 1},
		{RowOff: md.Height - 1, Width: 1, Height: 1},
		{ColOff: md.Width - 1, RowOff: md.Height - 1, Width: 1, Height: 1},
	}
	for band := 1; band <= md.Bands; band++ {
		for _, win := range corners {
			px, err := ds.ReadWindow(band, win)
			require.NoError(t, err)
			assert.Equal(t, -10000.0, px[0], "band %d corner %d,%d", band, win.ColOff, win.RowOff)
		}
	}

	data, err := ds.ReadWindow(3, raster.Window{ColOff: md.Width / 2, RowOff: md.Height / 2, Width: 1, Height: 1})
	require.NoError(t, err)
	assert.True(t, data[0] >= 3000 && data[0] < 3100, "centre value %v", data[0])
	assert.Empty(t, leftovers(t, dir))
}

func TestPipelineDisjoint(t *testing.T) {
	dir := t.TempDir()
	res, err := runPipeline(t, dir, orb.Bound{Min: orb.Point{610200, 5000300}, Max: orb.Point{610500, 5000600}})
	require.NoError(t, err)
	assert.Equal(t, processor.StatusNoCoverage, res.Status)
	assert.FileExists(t, filepath.Join(dir, "mosaic.tif"))
	assert.NoFileExists(t, filepath.Join(dir, "mosaic_crop.tif"))
}
