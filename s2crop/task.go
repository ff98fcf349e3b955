package main

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nci/s2crop/processor"
	"github.com/nci/s2crop/utils"
	"github.com/nci/s2crop/worker/downloader"
	gp "github.com/nci/s2crop/worker/gdalprocess"
)

const (
	configInput = "config_file"
	aoiInput    = "input_aoi"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Run as a hosted processing task",
	Long: `Run as a hosted processing task in the directory named by
DELAIRSTACK_PROCESS_WORKDIR: read inputs.json, download the products,
unzip them, build and crop a mosaic per SAFE product and describe the
deliverables in outputs.json.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		workdir, err := utils.Workdir()
		if err != nil {
			return err
		}
		if err := utils.LoadEnvFiles(filepath.Join(workdir, ".env")); err != nil {
			return err
		}
		if err := cfg.ApplyEnv(); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		in, err := utils.ReadInputs(filepath.Join(workdir, utils.InputsFile))
		if err != nil {
			return err
		}
		peps, err := in.ComponentPath(configInput)
		if err != nil {
			return err
		}
		aoi, err := in.ComponentPath(aoiInput)
		if err != nil {
			return err
		}
		for _, name := range []string{configInput, aoiInput} {
			ds := in.Dataset(name)
			log.Printf("task: %s dataset: %q (id: %q) in %q", name, ds.Name, ds.ID, ds.Components[0].Path)
		}
		log.Printf("task: tile %q from %s to %s", in.Parameters.Tile, in.Parameters.StartDate, in.Parameters.EndDate)

		req := &downloader.Request{
			ConfigPath: peps,
			Tile:       in.Parameters.Tile,
			StartDate:  in.Parameters.StartDate,
			EndDate:    in.Parameters.EndDate,
			Workdir:    workdir,
		}
		if req.Tile == "" {
			footprint, err := gp.LoadAOI(aoi, gp.DefaultVectorCRS, 0)
			if err != nil {
				return err
			}
			req.Centroid = footprint.Centroid
			log.Printf("task: downloading around AOI centroid %v", req.Centroid)
		}

		dl := &downloader.Downloader{
			Command:   cfg.Downloader.Command,
			Script:    cfg.Downloader.Script,
			Satellite: cfg.Downloader.Satellite,
			Verbose:   cfg.Verbose,
		}
		if err := dl.Run(cmd.Context(), req); err != nil {
			return err
		}
		if _, err := downloader.ExtractAll(workdir); err != nil {
			return err
		}

		reqs, err := productRequests(workdir, workdir, aoi)
		if err != nil {
			return err
		}
		pipeline, err := newPipeline(cmd.Context())
		if err != nil {
			return err
		}
		results, errs := pipeline.ProcessAll(reqs, cfg.Concurrency)

		out := taskOutputs(results, errs, cfg.BandNames())
		if len(out.Outputs) > 0 {
			manifest := filepath.Join(workdir, utils.OutputsFile)
			if err := utils.WriteOutputs(manifest, out); err != nil {
				return fmt.Errorf("%s: %v", manifest, err)
			}
			log.Printf("task: %d deliverables described in %s", len(out.Outputs), manifest)
		}
		return report(results, errs)
	},
}

// taskOutputs describes the deliverables of the last product processed
// without error. The crop is listed only when it was written.
func taskOutputs(results []*processor.Result, errs []error, bands []string) *utils.Outputs {
	out := utils.NewOutputs()
	for i := len(results) - 1; i >= 0; i-- {
		res := results[i]
		if errs[i] != nil || res == nil {
			continue
		}
		out.Outputs[utils.MosaicDeliverable] = utils.NewRasterDeliverable(res.MosaicPath, bands)
		if res.Status == processor.StatusCropped {
			out.Outputs[utils.CropDeliverable] = utils.NewRasterDeliverable(res.CropPath, bands)
		}
		break
	}
	return out
}

func init() {
	rootCmd.AddCommand(taskCmd)
}
