package metrics

import (
	"bytes"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"

	"github.com/nci/s2crop/raster"
)

type RasterInfo struct {
	Path     string `json:"path"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Bands    int    `json:"bands"`
	DataType string `json:"data_type"`
}

func NewRasterInfo(path string, md raster.Metadata) *RasterInfo {
	return &RasterInfo{Path: path, Width: md.Width, Height: md.Height, Bands: md.Bands, DataType: md.DataType.String()}
}

type AOIInfo struct {
	Path         string           `json:"path"`
	Footprint    orb.MultiPolygon `json:"-"`
	Geometry     string           `json:"geometry"`
	GeometryArea float64          `json:"geometry_area"`
	Centroid     [2]float64       `json:"centroid"`
}

type StageInfo struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunInfo is the record of one pipeline run.
type RunInfo struct {
	RunTime   string             `json:"run_time"`
	Duration  time.Duration      `json:"duration"`
	Product   string             `json:"product,omitempty"`
	Tiles     []string           `json:"tiles"`
	AOI       *AOIInfo           `json:"aoi,omitempty"`
	Mosaic    *RasterInfo        `json:"mosaic,omitempty"`
	Crop      *RasterInfo        `json:"crop,omitempty"`
	CropStats []raster.BandStats `json:"crop_stats,omitempty"`
	Stages    []StageInfo        `json:"stages"`
	Status    string             `json:"status"`
	Error     string             `json:"error,omitempty"`
}

type Collector struct {
	Info   *RunInfo
	logger Logger
	start  time.Time
	mu     sync.Mutex
}

func NewCollector(logger Logger) *Collector {
	now := time.Now()
	return &Collector{
		Info:   &RunInfo{RunTime: now.Format(time.RFC3339)},
		logger: logger,
		start:  now,
	}
}

// Stage starts timing a named stage; the returned func ends it.
func (m *Collector) Stage(name string) func(error) {
	t0 := time.Now()
	return func(err error) {
		st := StageInfo{Name: name, Duration: time.Since(t0)}
		if err != nil {
			st.Error = err.Error()
		}
		m.mu.Lock()
		m.Info.Stages = append(m.Info.Stages, st)
		m.mu.Unlock()
	}
}

func (m *Collector) Log() {
	m.Info.Duration = time.Since(m.start)
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *RunInfo) ToJSON() (string, error) {
	i.normaliseGeometry()

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (i *RunInfo) normaliseGeometry() {
	if i.AOI == nil {
		return
	}
	if len(i.AOI.Footprint) == 0 {
		i.AOI.Geometry = "POLYGON EMPTY"
		return
	}
	i.AOI.Geometry = wkt.MarshalString(i.AOI.Footprint)
	i.AOI.GeometryArea = math.Abs(planar.Area(i.AOI.Footprint))
}
