package gdalprocess

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nci/s2crop/raster"
)

type StackOptions struct {
	// Resolution is the target pixel size in CRS units; 0 keeps the native grid.
	Resolution float64
	Resampling Resampling
	// Workers bounds the number of bands read concurrently.
	Workers int
	// BlockRows is the height of the row blocks bands are copied in;
	// 0 means DefaultBlockRows.
	BlockRows     int
	CreateOptions []string
	Verbose       bool
}

// DefaultBlockRows keeps a block of a 10980 pixel wide band under 50 MB.
const DefaultBlockRows = 512

// StackBands stacks single-band tiles, in order, into one multi-band
// GeoTIFF at dst. Every tile is checked against the first before anything
// is written; on failure no file is left at dst.
func StackBands(ctx context.Context, tiles []string, dst string, opts StackOptions) (raster.Metadata, error) {
	var md raster.Metadata
	if len(tiles) == 0 {
		return md, fmt.Errorf("no tiles to stack: %w", raster.ErrGridMismatch)
	}

	datasets := make([]*Dataset, 0, len(tiles))
	defer func() {
		for _, ds := range datasets {
			ds.Close()
		}
	}()

	infos := make([]raster.TileInfo, len(tiles))
	for i, path := range tiles {
		ds, err := Open(path)
		if err != nil {
			return md, err
		}
		datasets = append(datasets, ds)

		tmd, err := ds.Metadata()
		if err != nil {
			return md, fmt.Errorf("%v: %w", err, raster.ErrGridMismatch)
		}
		if i > 0 && tmd.CRS != infos[0].CRS && SameCRS(tmd.CRS, infos[0].CRS) {
			tmd.CRS = infos[0].CRS
		}
		infos[i] = raster.TileInfo{Path: path, Metadata: tmd}
	}

	plan, err := raster.PlanStack(infos, opts.Resolution)
	if err != nil {
		return md, err
	}
	if err := ctx.Err(); err != nil {
		return md, err
	}

	createOptions := opts.CreateOptions
	if createOptions == nil {
		createOptions = MosaicOptions
	}
	wd, err := createGTiff(TempPath(dst), plan.Output, createOptions)
	if err != nil {
		return md, err
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	blockRows := opts.BlockRows
	if blockRows < 1 {
		blockRows = DefaultBlockRows
	}

	var mu sync.Mutex
	out := plan.Output
	for i, read := range plan.Reads {
		i, read := i, read
		ds := datasets[i]
		g.Go(func() error {
			for row := 0; row < out.Height; row += blockRows {
				if err := gctx.Err(); err != nil {
					return err
				}
				rows := min(blockRows, out.Height-row)

				var data []float64
				var err error
				if read.Resampled {
					data, err = ds.ReadResampledRows(read.Band, out.Width, out.Height, row, rows, opts.Resampling)
				} else {
					data, err = ds.ReadWindow(read.Band, raster.Window{RowOff: row, Width: read.SrcWidth, Height: rows})
				}
				if err != nil {
					return err
				}

				mu.Lock()
				err = wd.writeRows(i+1, row, out.Width, rows, data)
				mu.Unlock()
				if err != nil {
					return err
				}
			}
			if opts.Verbose {
				log.Printf("stack: band %d <- %s (%dx%d, resampled %v)", i+1, read.Path, read.SrcWidth, read.SrcHeight, read.Resampled)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		wd.abort()
		return md, err
	}
	if err := wd.commit(dst); err != nil {
		return md, err
	}
	return out, nil
}
