package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nci/s2crop/metrics"
	"github.com/nci/s2crop/processor"
	"github.com/nci/s2crop/utils"
	gp "github.com/nci/s2crop/worker/gdalprocess"
)

const (
	exitOK         = 0
	exitError      = 1
	exitNoCoverage = 3
)

// errNoCoverage is returned by commands when no crop could be produced
// because the AOI misses every mosaic.
var errNoCoverage = errors.New("AOI does not cover the mosaic")

var (
	configFile string
	jsonOutput bool
	verbose    bool
	metricsDir string

	cfg           *utils.Config
	metricsLogger metrics.Logger

	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
)

var rootCmd = &cobra.Command{
	Use:   "s2crop",
	Short: "Stack Sentinel-2 bands into a reflectance mosaic and crop it to an AOI",
	Long: `s2crop stacks single-band Sentinel-2 tiles into a multi-band reflectance
mosaic and crops it to an area of interest, reprojected and padded with nodata.

Settings come from the YAML file given with --config, then S2CROP_* environment
variables (a .env file in the current directory is loaded first), then flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = utils.LoadConfig(configFile, ".env")
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("verbose") {
			cfg.Verbose = verbose
		}
		if cmd.Flags().Changed("metrics-dir") {
			cfg.Metrics.LogDir = metricsDir
		}

		utils.InitGdal()
		if cfg.Verbose {
			log.Printf("GDAL %s", utils.GDALVersion())
		}
		return initMetricsLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")
	rootCmd.PersistentFlags().StringVar(&metricsDir, "metrics-dir", "", "Run metrics directory, '-' for the log")
}

// initMetricsLogger picks the run metrics sink: none, the log ("-"), or
// rotating files under the metrics directory.
func initMetricsLogger() error {
	switch cfg.Metrics.LogDir {
	case "":
	case "-":
		metricsLogger = metrics.NewStdoutLogger()
	default:
		l, err := metrics.NewFileLogger(cfg.Metrics.LogDir, cfg.Metrics.MaxLogFileSize, cfg.Metrics.MaxLogFiles, cfg.Verbose)
		if err != nil {
			return fmt.Errorf("metrics: %v", err)
		}
		metricsLogger = l
	}
	return nil
}

func newEngine() (*gp.Engine, error) {
	alg, err := gp.ParseResampling(cfg.Stack.Resampling)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, utils.ErrConfig)
	}
	return gp.NewEngine(gp.StackOptions{
		Resampling: alg,
		Workers:    cfg.Stack.Workers,
		Verbose:    cfg.Verbose,
	}), nil
}

func newPipeline(ctx context.Context) (*processor.CropPipeline, error) {
	engine, err := newEngine()
	if err != nil {
		return nil, err
	}
	return processor.InitCropPipeline(ctx, engine, metricsLogger, cfg.Verbose), nil
}

func newCropRequest(product string, tiles []string, mosaic, crop, aoi string) *processor.CropRequest {
	return &processor.CropRequest{
		Product:    product,
		Tiles:      tiles,
		MosaicPath: mosaic,
		CropPath:   crop,
		AOIPath:    aoi,
		Resolution: cfg.Stack.Resolution,
		CRS:        cfg.CropCRS(),
		DataType:   cfg.CropDataType(),
		Fill:       cfg.Crop.NoData,
		Buffer:     cfg.Crop.Buffer,
	}
}

func printStatus(res *processor.Result, err error) {
	switch {
	case err != nil:
		_, _ = errorColor.Fprintf(os.Stderr, "✗ %v\n", err)
	case res.Status == processor.StatusCropped:
		_, _ = successColor.Fprintf(os.Stderr, "✓ %s cropped to %s\n", res.MosaicPath, res.CropPath)
	default:
		_, _ = warningColor.Fprintf(os.Stderr, "⚠ %s not covered by the AOI\n", res.MosaicPath)
	}
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// report prints the results and folds them into the command error:
// any failure wins, otherwise no crop at all means no coverage.
func report(results []*processor.Result, errs []error) error {
	if jsonOutput {
		type entry struct {
			*processor.Result
			Error string `json:"error,omitempty"`
		}
		out := make([]entry, len(results))
		for i := range results {
			out[i].Result = results[i]
			if out[i].Result == nil {
				out[i].Result = &processor.Result{}
			}
			if errs[i] != nil {
				out[i].Error = errs[i].Error()
			}
		}
		if err := outputJSON(out); err != nil {
			return err
		}
	}

	var firstErr error
	failed, cropped := 0, 0
	for i, res := range results {
		if errs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = errs[i]
			}
		} else if res != nil && res.Status == processor.StatusCropped {
			cropped++
		}
		// a single failure is reported by main
		if !jsonOutput && (errs[i] == nil || len(results) > 1) {
			printStatus(res, errs[i])
		}
	}
	if failed == 1 && len(results) == 1 {
		return firstErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d products failed, first: %w", failed, len(results), firstErr)
	}
	if cropped == 0 {
		return errNoCoverage
	}
	return nil
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errNoCoverage):
		return exitNoCoverage
	default:
		return exitError
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if metricsLogger != nil {
		metricsLogger.Close()
	}

	if err != nil && !errors.Is(err, errNoCoverage) {
		_, _ = errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
