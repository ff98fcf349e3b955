package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nci/s2crop/crawl/extractor"
	"github.com/nci/s2crop/processor"
	"github.com/nci/s2crop/worker/downloader"
)

var (
	outPath    string
	mosaicPath string
	cropPath   string
	aoiPath    string
	safeDir    string
	pattern    string
	unzip      bool

	resolution float64
	resampling string
	workers    int
	epsg       int
	dtype      string
	nodata     float64
	buffer     float64
)

// addStackFlags registers the flags overriding the stack section of the
// configuration.
func addStackFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&resolution, "resolution", 0, "Target pixel size in CRS units, 0 keeps the native grid")
	cmd.Flags().StringVar(&resampling, "resampling", "", "Resampling used when changing resolution")
	cmd.Flags().IntVar(&workers, "workers", 0, "Bands read concurrently")
}

func addCropFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&epsg, "epsg", 0, "EPSG code of the crop, 0 keeps the mosaic CRS")
	cmd.Flags().StringVar(&dtype, "dtype", "", "Data type of the crop")
	cmd.Flags().Float64Var(&nodata, "nodata", 0, "Fill value of the crop")
	cmd.Flags().Float64Var(&buffer, "buffer", 0, "AOI buffer distance in mosaic CRS units")
}

// applyFlags copies the flags set on the command line over the loaded
// configuration and validates the result.
func applyFlags(cmd *cobra.Command) error {
	f := cmd.Flags()
	if f.Changed("resolution") {
		cfg.Stack.Resolution = resolution
	}
	if f.Changed("resampling") {
		cfg.Stack.Resampling = resampling
	}
	if f.Changed("workers") {
		cfg.Stack.Workers = workers
	}
	if f.Changed("epsg") {
		cfg.Crop.EPSG = epsg
	}
	if f.Changed("dtype") {
		cfg.Crop.DataType = dtype
	}
	if f.Changed("nodata") {
		cfg.Crop.NoData = nodata
	}
	if f.Changed("buffer") {
		cfg.Crop.Buffer = buffer
	}
	return cfg.Validate()
}

var stackCmd = &cobra.Command{
	Use:   "stack --out MOSAIC TILE...",
	Short: "Stack single-band tiles into a multi-band GeoTIFF",
	Long: `Stack single-band tiles, in the order given, into one multi-band GeoTIFF.
Every tile must share the grid of the first once brought to --resolution.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyFlags(cmd); err != nil {
			return err
		}
		engine, err := newEngine()
		if err != nil {
			return err
		}

		md, err := engine.StackBands(cmd.Context(), args, outPath, cfg.Stack.Resolution)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]interface{}{
				"mosaic": outPath,
				"width":  md.Width,
				"height": md.Height,
				"bands":  md.Bands,
			})
		}
		_, _ = successColor.Fprintf(os.Stderr, "✓ %s: %d bands, %dx%d\n", outPath, md.Bands, md.Width, md.Height)
		return nil
	},
}

var cropCmd = &cobra.Command{
	Use:   "crop --mosaic MOSAIC --aoi AOI",
	Short: "Crop an existing mosaic to an AOI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, nil)
	},
}

var runCmd = &cobra.Command{
	Use:   "run --mosaic MOSAIC --aoi AOI TILE...",
	Short: "Stack tiles into a mosaic, then crop it to an AOI",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, args)
	},
}

func runPipeline(cmd *cobra.Command, tiles []string) error {
	if err := applyFlags(cmd); err != nil {
		return err
	}
	pipeline, err := newPipeline(cmd.Context())
	if err != nil {
		return err
	}

	crop := cropPath
	if crop == "" {
		crop = extractor.CropName(mosaicPath)
	}
	req := newCropRequest(filepath.Base(mosaicPath), tiles, mosaicPath, crop, aoiPath)
	res, err := pipeline.Process(req)
	return report([]*processor.Result{res}, []error{err})
}

var safeCmd = &cobra.Command{
	Use:   "safe --dir DIR --aoi AOI",
	Short: "Build and crop a mosaic for every SAFE product in a directory",
	Long: `Build and crop a mosaic for every *.SAFE product directly under --dir.
Band files are located from the configured band codes; --pattern restricts
which files are considered, e.g. 'path =~ "IMG_DATA"'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyFlags(cmd); err != nil {
			return err
		}
		if unzip {
			if _, err := downloader.ExtractAll(safeDir); err != nil {
				return err
			}
		}
		out := outPath
		if out == "" {
			out = safeDir
		}
		pipeline, err := newPipeline(cmd.Context())
		if err != nil {
			return err
		}

		reqs, err := productRequests(safeDir, out, aoiPath)
		if err != nil {
			return err
		}
		results, errs := pipeline.ProcessAll(reqs, cfg.Concurrency)
		return report(results, errs)
	},
}

// productRequests builds one crop request per SAFE product under dir, with
// outputs written to outDir.
func productRequests(dir, outDir, aoi string) ([]*processor.CropRequest, error) {
	products, err := extractor.FindProducts(dir)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("no SAFE product found in %s", dir)
	}

	expr, err := extractor.ParsePatternExpression(pattern)
	if err != nil {
		return nil, fmt.Errorf("--pattern: %v", err)
	}
	finder := &extractor.BandFinder{Concurrency: 4, Pattern: expr, FollowSymlink: true}

	reqs := make([]*processor.CropRequest, 0, len(products))
	for _, p := range products {
		tiles, err := finder.Find(p.Dir, p, cfg.BandCodes())
		if err != nil {
			return nil, err
		}
		if cfg.Verbose {
			log.Printf("safe: %s: %d band files", p.Name, len(tiles))
		}
		mosaic := filepath.Join(outDir, p.OutputName(cfg.BandLabels()))
		reqs = append(reqs, newCropRequest(p.Name, tiles, mosaic, extractor.CropName(mosaic), aoi))
	}
	return reqs, nil
}

func init() {
	stackCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output mosaic")
	stackCmd.MarkFlagRequired("out")
	addStackFlags(stackCmd)

	for _, cmd := range []*cobra.Command{cropCmd, runCmd} {
		cmd.Flags().StringVar(&mosaicPath, "mosaic", "", "Mosaic path")
		cmd.Flags().StringVar(&cropPath, "out", "", "Crop path, defaults to <mosaic>_crop.tif")
		cmd.Flags().StringVar(&aoiPath, "aoi", "", "AOI vector file")
		cmd.MarkFlagRequired("mosaic")
		cmd.MarkFlagRequired("aoi")
		addCropFlags(cmd)
	}
	addStackFlags(runCmd)

	safeCmd.Flags().StringVar(&safeDir, "dir", ".", "Directory holding the SAFE products")
	safeCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output directory, defaults to --dir")
	safeCmd.Flags().StringVar(&aoiPath, "aoi", "", "AOI vector file")
	safeCmd.Flags().StringVar(&pattern, "pattern", "", "Band file filter expression over path and type")
	safeCmd.Flags().BoolVar(&unzip, "unzip", false, "Extract *.zip archives in --dir first")
	safeCmd.MarkFlagRequired("aoi")
	addStackFlags(safeCmd)
	addCropFlags(safeCmd)

	rootCmd.AddCommand(stackCmd, cropCmd, runCmd, safeCmd)
}
