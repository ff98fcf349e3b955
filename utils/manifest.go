package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
)

// WorkdirEnv names the task working directory in hosting mode.
const WorkdirEnv = "DELAIRSTACK_PROCESS_WORKDIR"

const (
	InputsFile      = "inputs.json"
	OutputsFile     = "outputs.json"
	ManifestVersion = "0.1"

	MosaicDeliverable = "reflectance_map"
	CropDeliverable   = "reflectance_map_crop"
)

type Component struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type Dataset struct {
	ID         string      `json:"_id"`
	Name       string      `json:"name"`
	Components []Component `json:"components"`
}

type TaskParameters struct {
	Tile      string `json:"tuile"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type TaskInputs struct {
	Inputs     map[string]*Dataset `json:"inputs"`
	Parameters TaskParameters      `json:"parameters"`
}

// Workdir returns the absolute task working directory.
func Workdir() (string, error) {
	dir := os.Getenv(WorkdirEnv)
	if dir == "" {
		return "", fmt.Errorf("%s environment variable must be defined: %w", WorkdirEnv, ErrConfig)
	}
	return filepath.Abs(dir)
}

func ReadInputs(path string) (*TaskInputs, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var in TaskInputs
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, ErrConfig)
	}
	return &in, nil
}

// ComponentPath is the path of the first component of the named input.
func (in *TaskInputs) ComponentPath(name string) (string, error) {
	ds, ok := in.Inputs[name]
	if !ok || ds == nil {
		return "", fmt.Errorf("input %q missing: %w", name, ErrConfig)
	}
	if len(ds.Components) == 0 || ds.Components[0].Path == "" {
		return "", fmt.Errorf("input %q has no component path: %w", name, ErrConfig)
	}
	return ds.Components[0].Path, nil
}

func (in *TaskInputs) Dataset(name string) *Dataset {
	return in.Inputs[name]
}

type BandName struct {
	Name string `json:"name"`
}

type Deliverable struct {
	Type       string      `json:"type"`
	Format     string      `json:"format"`
	Name       string      `json:"name"`
	Bands      []BandName  `json:"bands"`
	Categories []string    `json:"categories"`
	Components []Component `json:"components"`
}

type Outputs struct {
	Outputs map[string]*Deliverable `json:"outputs"`
	Version string                  `json:"version"`
}

func NewOutputs() *Outputs {
	return &Outputs{Outputs: map[string]*Deliverable{}, Version: ManifestVersion}
}

// NewRasterDeliverable describes a reflectance GeoTIFF with the given band names.
func NewRasterDeliverable(path string, bands []string) *Deliverable {
	d := &Deliverable{
		Type:       "raster",
		Format:     "tif",
		Name:       filepath.Base(path),
		Categories: []string{"reflectances"},
		Components: []Component{{Name: "raster", Path: path}},
	}
	for _, b := range bands {
		d.Bands = append(d.Bands, BandName{Name: b})
	}
	return d
}

// WriteOutputs writes the manifest as indented JSON, replacing path atomically.
func WriteOutputs(path string, out *Outputs) error {
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.%d.part", filepath.Base(path), os.Getpid()))
	if err := ioutil.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
