package metrics

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nci/s2crop/raster"
)

type memLogger struct {
	infos []*RunInfo
}

func (l *memLogger) Log(info *RunInfo) { l.infos = append(l.infos, info) }
func (l *memLogger) Close()            {}

func square(x, y, size float64) orb.MultiPolygon {
	return orb.MultiPolygon{orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x + size, y + size}}.ToPolygon()}
}

func TestCollectorStages(t *testing.T) {
	logger := &memLogger{}
	mc := NewCollector(logger)
	mc.Info.Product = "S2A_MSIL1C"

	mc.Stage("stack")(nil)
	mc.Stage("aoi")(errors.New("no polygon found"))
	mc.Log()

	require.Len(t, logger.infos, 1)
	info := logger.infos[0]
	require.Len(t, info.Stages, 2)
	assert.Equal(t, "stack", info.Stages[0].Name)
	assert.Empty(t, info.Stages[0].Error)
	assert.Equal(t, "no polygon found", info.Stages[1].Error)
	assert.True(t, info.Duration >= info.Stages[0].Duration)
}

func TestCollectorWithoutLogger(t *testing.T) {
	mc := NewCollector(nil)
	mc.Stage("stack")(nil)
	assert.NotPanics(t, mc.Log)
}

func TestToJSON(t *testing.T) {
	md := raster.Metadata{Grid: raster.Grid{Width: 100, Height: 80}, Bands: 6, DataType: raster.Float32}
	info := &RunInfo{
		Product: "S2A",
		Mosaic:  NewRasterInfo("mosaic.tif", md),
		AOI:     &AOIInfo{Path: "aoi.geojson", Footprint: square(10, 20, 30), Centroid: [2]float64{4.2, 45.1}},
		Status:  "cropped",
	}

	out, err := info.ToJSON()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "\n"))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	aoi := doc["aoi"].(map[string]interface{})
	assert.Equal(t, "MULTIPOLYGON(((10 20,40 20,40 50,10 50,10 20)))", aoi["geometry"])
	assert.Equal(t, 900.0, aoi["geometry_area"])
	assert.NotContains(t, aoi, "Footprint")

	mosaic := doc["mosaic"].(map[string]interface{})
	assert.Equal(t, "Float32", mosaic["data_type"])
	assert.Equal(t, 6.0, mosaic["bands"])
}

func TestToJSONEmptyAOI(t *testing.T) {
	info := &RunInfo{AOI: &AOIInfo{Path: "aoi.geojson"}}
	_, err := info.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, "POLYGON EMPTY", info.AOI.Geometry)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "metrics")
	logger, err := NewFileLogger(dir, 0, 0, false)
	require.NoError(t, err)

	for _, p := range []string{"a", "b", "c"} {
		logger.Log(&RunInfo{Product: p, Status: "cropped"})
	}
	logger.Close()

	lines := readLines(t, filepath.Join(dir, "log0"))
	require.Len(t, lines, 3)
	var rec RunInfo
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &rec))
	assert.Equal(t, "c", rec.Product)
}

func TestFileLoggerRotates(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, 1, 2, false)
	require.NoError(t, err)

	for _, p := range []string{"a", "b", "c", "d"} {
		logger.Log(&RunInfo{Product: p})
	}
	logger.Close()

	// every write after the first finds log0 full and rotates it away
	assert.Len(t, readLines(t, filepath.Join(dir, "log0")), 1)
	assert.FileExists(t, filepath.Join(dir, "log0.0"))
	assert.FileExists(t, filepath.Join(dir, "log0.1"))
	assert.NoFileExists(t, filepath.Join(dir, "log0.2"))
}
