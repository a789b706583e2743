package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/logging"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8000", cfg.HTTPAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSOrigins)
	assert.Equal(t, 512, cfg.MaxLength)
	assert.Equal(t, 448, cfg.ImageSize)
	assert.Equal(t, 21, cfg.RepetitionThreshold)
	assert.Equal(t, constants.ExecutionDeviceAuto, cfg.Device)
	assert.Equal(t, DefaultReleaseAsset, cfg.ReleaseAsset)
	assert.Equal(t, logging.StyleConsole, cfg.Log.Style)
	assert.Equal(t, filepath.Join("data", "downloads"), cfg.DownloadDir())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MIXTEX_MAX_LENGTH", "64")
	t.Setenv("MIXTEX_DEVICE", "CPU")
	t.Setenv("MIXTEX_CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("MIXTEX_LOG_LEVEL", "debug")
	t.Setenv("MIXTEX_REQUEST_TIMEOUT", "5s")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.MaxLength)
	assert.Equal(t, constants.ExecutionDeviceCPU, cfg.Device)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixtex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_dir: /models/mixtex
max_queue: 4
watch_interval: 30s
log:
  style: json
`), 0o644))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "/models/mixtex", cfg.ModelDir)
	assert.Equal(t, 4, cfg.MaxQueue)
	assert.Equal(t, 30*time.Second, cfg.WatchInterval)
	assert.Equal(t, logging.StyleJSON, cfg.Log.Style)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	v := NewViper()
	v.Set(KeyMaxLength, 0)
	v.Set(KeyDevice, "tpu")
	v.Set(KeyRepetitionThreshold, 1)
	v.Set(KeyLogStyle, "xml")

	_, err := Load(v, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_length")
	assert.Contains(t, err.Error(), "device")
	assert.Contains(t, err.Error(), "repetition_threshold")
	assert.Contains(t, err.Error(), "log.style")
}
