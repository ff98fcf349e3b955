package raster

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BandStats summarises the unmasked pixels of one band.
type BandStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

// ComputeStats returns one BandStats per band of m. Bands with no valid
// pixel report a zero Count and zero values.
func ComputeStats(m *MaskedArray) []BandStats {
	out := make([]BandStats, len(m.Data))
	vals := make([]float64, 0, m.Width*m.Height)
	for b, band := range m.Data {
		vals = vals[:0]
		for i, v := range band {
			if !m.Mask[b][i] {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		mean, std := stat.MeanStdDev(vals, nil)
		if len(vals) == 1 {
			std = 0
		}
		out[b] = BandStats{
			Count: len(vals),
			Min:   floats.Min(vals),
			Max:   floats.Max(vals),
			Mean:  mean,
			Std:   std,
		}
	}
	return out
}
