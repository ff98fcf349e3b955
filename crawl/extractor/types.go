package extractor

import "time"

// SafeProduct is the identity of a Sentinel-2 SAFE product, parsed from its
// directory name, e.g.
// S2A_MSIL1C_20230601T103631_N0509_R008_T31UFQ_20230601T142021.SAFE
type SafeProduct struct {
	Name          string    `json:"name"`
	Dir           string    `json:"dir,omitempty"`
	Mission       string    `json:"mission"`
	Level         string    `json:"level"`
	Sensing       string    `json:"sensing"`
	SensingTime   time.Time `json:"sensing_time"`
	Baseline      string    `json:"baseline"`
	Orbit         string    `json:"orbit"`
	Tile          string    `json:"tile"`
	Discriminator string    `json:"discriminator"`
}

// BandFile is one band image of a product.
type BandFile struct {
	Code string `json:"code"`
	Path string `json:"path"`
}

// FileInfo is a regular file reached by the crawler.
type FileInfo struct {
	FilePath string    `json:"file_path"`
	Size     int64     `json:"size"`
	MTime    time.Time `json:"mtime"`
}
