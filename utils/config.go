package utils

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/nci/s2crop/raster"
)

// ErrConfig is wrapped by every configuration validation failure.
var ErrConfig = errors.New("invalid configuration")

// EnvPrefix prefixes the environment variables overriding the config file.
const EnvPrefix = "S2CROP_"

// Band is one Sentinel-2 band of the stack. Code is the file suffix
// (B02), Label goes into the output file name, Name into the manifest.
type Band struct {
	Code  string `yaml:"code"`
	Label string `yaml:"label"`
	Name  string `yaml:"name"`
}

type StackConfig struct {
	Resolution float64 `yaml:"resolution"`
	Resampling string  `yaml:"resampling"`
	Workers    int     `yaml:"workers"`
}

type CropConfig struct {
	// EPSG code of the crop; 0 keeps the mosaic CRS.
	EPSG     int     `yaml:"epsg"`
	DataType string  `yaml:"data_type"`
	NoData   float64 `yaml:"nodata"`
	Buffer   float64 `yaml:"buffer"`
}

type DownloaderConfig struct {
	Command   string `yaml:"command"`
	Script    string `yaml:"script"`
	Satellite string `yaml:"satellite"`
}

type MetricsConfig struct {
	LogDir         string `yaml:"log_dir"`
	MaxLogFileSize int64  `yaml:"max_log_file_size"`
	MaxLogFiles    int    `yaml:"max_log_files"`
}

type Config struct {
	Bands      []Band           `yaml:"bands"`
	Stack      StackConfig      `yaml:"stack"`
	Crop       CropConfig       `yaml:"crop"`
	Downloader DownloaderConfig `yaml:"downloader"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	// Concurrency is the number of products processed at once.
	Concurrency int  `yaml:"concurrency"`
	Verbose     bool `yaml:"verbose"`
}

// ResamplingMethods are the accepted stack.resampling values.
var ResamplingMethods = []string{"nearest", "bilinear", "cubic", "cubicspline", "lanczos", "average", "mode", "gauss"}

func DefaultBands() []Band {
	return []Band{
		{Code: "B02", Label: "B", Name: "blue"},
		{Code: "B03", Label: "G", Name: "green"},
		{Code: "B04", Label: "R", Name: "red"},
		{Code: "B05", Label: "RE705", Name: "red_edge_705"},
		{Code: "B06", Label: "RE740", Name: "red_edge_740"},
		{Code: "B07", Label: "RE783", Name: "red_edge_783"},
		{Code: "B08", Label: "NIR", Name: "nir"},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Bands: DefaultBands(),
		Stack: StackConfig{
			Resolution: 10,
			Resampling: "gauss",
			Workers:    1,
		},
		Crop: CropConfig{
			DataType: "Float32",
			NoData:   -10000,
			Buffer:   150,
		},
		Downloader: DownloaderConfig{
			Command:   "python3",
			Script:    "/opt/task/peps_download.py",
			Satellite: "S2ST",
		},
		Concurrency: 1,
	}
}

// LoadConfig builds the configuration from the defaults, the YAML file at
// path (if any) and the S2CROP_* environment, in that order. Existing
// .env files named in envFiles are loaded first without overriding the
// process environment.
func LoadConfig(path string, envFiles ...string) (*Config, error) {
	if err := LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if path != "" {
		if err := config.LoadConfigFile(path); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %v", p, err)
		}
	}
	return nil
}

// LoadConfigFile overlays the YAML document at configFile onto config.
// A bands list in the file replaces the default list.
func (config *Config) LoadConfigFile(configFile string) error {
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	bands := config.Bands
	config.Bands = nil
	if err := yaml.UnmarshalStrict(cfg, config); err != nil {
		return fmt.Errorf("Error at YAML parsing config document: %s. Error: %v", configFile, err)
	}
	if len(config.Bands) == 0 {
		config.Bands = bands
	}
	return nil
}

// ApplyEnv overrides settings from S2CROP_* variables.
func (config *Config) ApplyEnv() error {
	var err error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && err == nil {
			var f float64
			if f, err = strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				*dst = f
			} else {
				err = fmt.Errorf("%s%s: %v: %w", EnvPrefix, name, err, ErrConfig)
			}
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && err == nil {
			var n int
			if n, err = strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			} else {
				err = fmt.Errorf("%s%s: %v: %w", EnvPrefix, name, err, ErrConfig)
			}
		}
	}

	float("RESOLUTION", &config.Stack.Resolution)
	str("RESAMPLING", &config.Stack.Resampling)
	integer("WORKERS", &config.Stack.Workers)
	integer("EPSG", &config.Crop.EPSG)
	str("DTYPE", &config.Crop.DataType)
	float("NODATA", &config.Crop.NoData)
	float("BUFFER", &config.Crop.Buffer)
	str("DOWNLOADER_COMMAND", &config.Downloader.Command)
	str("DOWNLOADER_SCRIPT", &config.Downloader.Script)
	str("METRICS_DIR", &config.Metrics.LogDir)
	integer("CONCURRENCY", &config.Concurrency)
	if v, ok := os.LookupEnv(EnvPrefix + "VERBOSE"); ok && err == nil {
		var b bool
		if b, err = strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			config.Verbose = b
		} else {
			err = fmt.Errorf("%sVERBOSE: %v: %w", EnvPrefix, err, ErrConfig)
		}
	}
	return err
}

func (config *Config) Validate() error {
	if len(config.Bands) == 0 {
		return fmt.Errorf("no band configured: %w", ErrConfig)
	}
	seen := map[string]bool{}
	for i, b := range config.Bands {
		if b.Code == "" {
			return fmt.Errorf("band %d has no code: %w", i+1, ErrConfig)
		}
		if seen[b.Code] {
			return fmt.Errorf("band %s listed twice: %w", b.Code, ErrConfig)
		}
		seen[b.Code] = true
	}

	if config.Stack.Resolution < 0 {
		return fmt.Errorf("negative resolution %v: %w", config.Stack.Resolution, ErrConfig)
	}
	if !validResampling(config.Stack.Resampling) {
		return fmt.Errorf("unknown resampling %q, expected one of %v: %w", config.Stack.Resampling, ResamplingMethods, ErrConfig)
	}
	if config.Stack.Workers < 1 {
		config.Stack.Workers = 1
	}

	if config.Crop.EPSG < 0 {
		return fmt.Errorf("invalid EPSG code %d: %w", config.Crop.EPSG, ErrConfig)
	}
	dt, err := raster.ParseDataType(config.Crop.DataType)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrConfig)
	}
	if !dt.Fits(config.Crop.NoData) {
		return fmt.Errorf("nodata %v does not fit %v: %w", config.Crop.NoData, dt, ErrConfig)
	}
	if config.Crop.Buffer < 0 {
		return fmt.Errorf("negative buffer %v: %w", config.Crop.Buffer, ErrConfig)
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return nil
}

func validResampling(name string) bool {
	for _, m := range ResamplingMethods {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}

// CropDataType is the parsed crop data type; call after Validate.
func (config *Config) CropDataType() raster.DataType {
	dt, _ := raster.ParseDataType(config.Crop.DataType)
	return dt
}

// CropCRS is the crop CRS as an EPSG:n string, empty for the mosaic CRS.
func (config *Config) CropCRS() string {
	if config.Crop.EPSG == 0 {
		return ""
	}
	return fmt.Sprintf("EPSG:%d", config.Crop.EPSG)
}

func (config *Config) BandCodes() []string {
	out := make([]string, len(config.Bands))
	for i, b := range config.Bands {
		out[i] = b.Code
	}
	return out
}

func (config *Config) BandLabels() []string {
	out := make([]string, len(config.Bands))
	for i, b := range config.Bands {
		out[i] = b.Label
		if out[i] == "" {
			out[i] = b.Code
		}
	}
	return out
}

func (config *Config) BandNames() []string {
	out := make([]string, len(config.Bands))
	for i, b := range config.Bands {
		out[i] = b.Name
		if out[i] == "" {
			out[i] = b.Code
		}
	}
	return out
}
