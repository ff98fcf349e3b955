package raster

import (
	"fmt"
	"math"
)

// gridTolerance is the allowed transform difference between stacked tiles,
// as a fraction of a pixel.
const gridTolerance = 1e-6

// TileInfo describes one single-band tile as opened from disk.
type TileInfo struct {
	Path string
	Metadata
}

// TileRead is how one tile has to be read to land on the stack grid.
type TileRead struct {
	Path      string
	Band      int
	SrcWidth  int
	SrcHeight int
	Resampled bool
}

type StackPlan struct {
	Output Metadata
	Reads  []TileRead
}

// PlanStack checks that tiles can be stacked in the given order and works
// out the output grid. When targetRes is positive every tile is resampled
// so that its pixel size equals targetRes; the output dimensions are
// round(dim * native/targetRes) and the transform is rescaled accordingly.
// All planned tile grids must agree with tile 0, otherwise ErrGridMismatch
// is returned and nothing should be written.
func PlanStack(tiles []TileInfo, targetRes float64) (*StackPlan, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tiles to stack: %w", ErrGridMismatch)
	}
	if targetRes < 0 || math.IsNaN(targetRes) {
		return nil, fmt.Errorf("invalid target resolution %v", targetRes)
	}

	plan := &StackPlan{Reads: make([]TileRead, len(tiles))}
	var ref Grid
	for i, t := range tiles {
		if t.Width <= 0 || t.Height <= 0 {
			return nil, fmt.Errorf("%s: empty raster %dx%d: %w", t.Path, t.Width, t.Height, ErrGridMismatch)
		}
		if t.Bands < 1 {
			return nil, fmt.Errorf("%s: raster has no band: %w", t.Path, ErrGridMismatch)
		}

		g, resampled, err := normaliseGrid(t.Grid, targetRes)
		if err != nil {
			return nil, fmt.Errorf("%s: %v: %w", t.Path, err, ErrGridMismatch)
		}

		if i == 0 {
			ref = g
			plan.Output = Metadata{
				Grid:      g,
				Bands:     len(tiles),
				DataType:  t.DataType,
				NoData:    t.NoData,
				HasNoData: t.HasNoData,
			}
		} else if err := sameGrid(ref, g); err != nil {
			return nil, fmt.Errorf("%s differs from %s: %v: %w", t.Path, tiles[0].Path, err, ErrGridMismatch)
		}

		plan.Reads[i] = TileRead{Path: t.Path, Band: 1, SrcWidth: t.Width, SrcHeight: t.Height, Resampled: resampled}
	}
	return plan, nil
}

func normaliseGrid(g Grid, targetRes float64) (Grid, bool, error) {
	if targetRes == 0 {
		return g, false, nil
	}
	native, _ := g.Transform.PixelSize()
	if native == 0 {
		return g, false, fmt.Errorf("degenerate transform")
	}
	ratio := native / targetRes
	if math.Abs(ratio-1) < gridTolerance {
		return g, false, nil
	}

	w := int(math.Round(float64(g.Width) * ratio))
	h := int(math.Round(float64(g.Height) * ratio))
	if w < 1 || h < 1 {
		return g, false, fmt.Errorf("target resolution %v too coarse for %dx%d pixels of %v", targetRes, g.Width, g.Height, native)
	}

	out := g
	out.Width = w
	out.Height = h
	out.Transform = g.Transform.Mult(Scale(float64(g.Width)/float64(w), float64(g.Height)/float64(h)))
	return out, true, nil
}

func sameGrid(a, b Grid) error {
	if a.Width != b.Width || a.Height != b.Height {
		return fmt.Errorf("size %dx%d vs %dx%d", b.Width, b.Height, a.Width, a.Height)
	}
	if a.CRS != b.CRS {
		return fmt.Errorf("different CRS")
	}
	if !a.Transform.AlmostEqual(b.Transform, gridTolerance) {
		return fmt.Errorf("transform %v vs %v", b.Transform.GeoTransform(), a.Transform.GeoTransform())
	}
	return nil
}
