// Package config holds the service configuration read through viper from
// flags, MIXTEX_* environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/logging"
)

// EnvPrefix is prepended to every environment variable, so max_length is
// read from MIXTEX_MAX_LENGTH and log.level from MIXTEX_LOG_LEVEL.
const EnvPrefix = "MIXTEX"

const (
	KeyModelDir            = "model_dir"
	KeyDataDir             = "data_dir"
	KeyHTTPAddr            = "http_addr"
	KeyGRPCAddr            = "grpc_addr"
	KeyCORSOrigins         = "cors_origins"
	KeyMaxLength           = "max_length"
	KeyImageSize           = "image_size"
	KeyRepetitionThreshold = "repetition_threshold"
	KeySeedFromEncode      = "seed_from_encode"
	KeyDevice              = "device"
	KeyNumThreads          = "num_threads"
	KeyONNXLibraryPath     = "onnx_library_path"
	KeyMaxConcurrent       = "max_concurrent"
	KeyMaxQueue            = "max_queue"
	KeyRequestTimeout      = "request_timeout"
	KeyWatchInterval       = "watch_interval"
	KeyReleaseAPIURL       = "release_api_url"
	KeyReleaseAsset        = "release_asset"
	KeyReleaseFallbackURL  = "release_fallback_url"
	KeyLogLevel            = "log.level"
	KeyLogStyle            = "log.style"
	KeyLogFile             = "log.file"
)

const (
	DefaultReleaseAPIURL      = "https://api.github.com/repos/RQLuo/MixTeX-Latex-OCR/releases/latest"
	DefaultReleaseAsset       = "mixtex-b.zip"
	DefaultReleaseFallbackURL = "https://github.com/RQLuo/MixTeX-Latex-OCR/releases/tag/MixTex-B"
)

type Config struct {
	ModelDir string `json:"model_dir"`
	DataDir  string `json:"data_dir"`

	HTTPAddr    string   `json:"http_addr"`
	GRPCAddr    string   `json:"grpc_addr"`
	CORSOrigins []string `json:"cors_origins"`

	MaxLength           int  `json:"max_length"`
	ImageSize           int  `json:"image_size"`
	RepetitionThreshold int  `json:"repetition_threshold"`
	SeedFromEncode      bool `json:"seed_from_encode"`

	Device          constants.ExecutionDevice `json:"device"`
	NumThreads      int                       `json:"num_threads"`
	ONNXLibraryPath string                    `json:"onnx_library_path"`

	MaxConcurrent  int           `json:"max_concurrent"`
	MaxQueue       int           `json:"max_queue"`
	RequestTimeout time.Duration `json:"request_timeout"`
	WatchInterval  time.Duration `json:"watch_interval"`

	ReleaseAPIURL      string `json:"release_api_url"`
	ReleaseAsset       string `json:"release_asset"`
	ReleaseFallbackURL string `json:"release_fallback_url"`

	Log logging.Config `json:"log"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyModelDir, "model")
	v.SetDefault(KeyDataDir, "data")
	v.SetDefault(KeyHTTPAddr, "127.0.0.1:8000")
	v.SetDefault(KeyGRPCAddr, ":50051")
	v.SetDefault(KeyCORSOrigins, []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault(KeyMaxLength, 512)
	v.SetDefault(KeyImageSize, 448)
	v.SetDefault(KeyRepetitionThreshold, 21)
	v.SetDefault(KeySeedFromEncode, false)
	v.SetDefault(KeyDevice, string(constants.ExecutionDeviceAuto))
	v.SetDefault(KeyNumThreads, 0)
	v.SetDefault(KeyONNXLibraryPath, "")
	v.SetDefault(KeyMaxConcurrent, 2)
	v.SetDefault(KeyMaxQueue, 16)
	v.SetDefault(KeyRequestTimeout, 2*time.Minute)
	v.SetDefault(KeyWatchInterval, time.Duration(0))
	v.SetDefault(KeyReleaseAPIURL, DefaultReleaseAPIURL)
	v.SetDefault(KeyReleaseAsset, DefaultReleaseAsset)
	v.SetDefault(KeyReleaseFallbackURL, DefaultReleaseFallbackURL)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogStyle, string(logging.StyleConsole))
	v.SetDefault(KeyLogFile, "")
}

// NewViper returns a viper instance with defaults registered and
// environment lookup enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads cfgFile into v when it is set, then decodes and validates the
// result.
func Load(v *viper.Viper, cfgFile string) (Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromViper decodes v without validating.
func FromViper(v *viper.Viper) Config {
	return Config{
		ModelDir:            v.GetString(KeyModelDir),
		DataDir:             v.GetString(KeyDataDir),
		HTTPAddr:            v.GetString(KeyHTTPAddr),
		GRPCAddr:            v.GetString(KeyGRPCAddr),
		CORSOrigins:         splitList(v.GetStringSlice(KeyCORSOrigins)),
		MaxLength:           v.GetInt(KeyMaxLength),
		ImageSize:           v.GetInt(KeyImageSize),
		RepetitionThreshold: v.GetInt(KeyRepetitionThreshold),
		SeedFromEncode:      v.GetBool(KeySeedFromEncode),
		Device:              constants.ExecutionDevice(strings.ToLower(v.GetString(KeyDevice))),
		NumThreads:          v.GetInt(KeyNumThreads),
		ONNXLibraryPath:     v.GetString(KeyONNXLibraryPath),
		MaxConcurrent:       v.GetInt(KeyMaxConcurrent),
		MaxQueue:            v.GetInt(KeyMaxQueue),
		RequestTimeout:      v.GetDuration(KeyRequestTimeout),
		WatchInterval:       v.GetDuration(KeyWatchInterval),
		ReleaseAPIURL:       v.GetString(KeyReleaseAPIURL),
		ReleaseAsset:        v.GetString(KeyReleaseAsset),
		ReleaseFallbackURL:  v.GetString(KeyReleaseFallbackURL),
		Log: logging.Config{
			Level: v.GetString(KeyLogLevel),
			Style: logging.Style(v.GetString(KeyLogStyle)),
			File:  v.GetString(KeyLogFile),
		},
	}
}

// splitList accepts both a list and a single comma separated value, which
// is how environment variables arrive.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.ModelDir == "" {
		errs = append(errs, errors.New("model_dir must be set"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("max_length must be positive, got %d", c.MaxLength))
	}
	if c.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("image_size must be positive, got %d", c.ImageSize))
	}
	if c.RepetitionThreshold < 2 {
		errs = append(errs, fmt.Errorf("repetition_threshold must be at least 2, got %d", c.RepetitionThreshold))
	}
	switch c.Device {
	case constants.ExecutionDeviceAuto, constants.ExecutionDeviceCPU, constants.ExecutionDeviceCUDA:
	default:
		errs = append(errs, fmt.Errorf("device must be auto, cpu or cuda, got %q", c.Device))
	}
	if c.NumThreads < 0 {
		errs = append(errs, fmt.Errorf("num_threads must not be negative, got %d", c.NumThreads))
	}
	if c.MaxConcurrent < 0 || c.MaxQueue < 0 {
		errs = append(errs, errors.New("max_concurrent and max_queue must not be negative"))
	}
	if c.RequestTimeout < 0 || c.WatchInterval < 0 {
		errs = append(errs, errors.New("request_timeout and watch_interval must not be negative"))
	}
	switch c.Log.Style {
	case logging.StyleJSON, logging.StyleConsole, logging.StyleNoop:
	default:
		errs = append(errs, fmt.Errorf("log.style must be json, console or noop, got %q", c.Log.Style))
	}
	return errors.Join(errs...)
}

// DownloadDir is where release archives are staged.
func (c Config) DownloadDir() string { return filepath.Join(c.DataDir, "downloads") }
