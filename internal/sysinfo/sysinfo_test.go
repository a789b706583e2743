package sysinfo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
)

func TestParseNVIDIASMI(t *testing.T) {
	gpus := parseNVIDIASMI("NVIDIA GeForce RTX 3080, 10240 MiB, 8.6\n\nTesla T4, 15360 MiB, 7.5\nbroken line\n")
	require.Len(t, gpus, 2)
	assert.Equal(t, GPU{Vendor: "nvidia", Model: "NVIDIA GeForce RTX 3080", MemoryMB: 10240, ComputeCapability: "8.6"}, gpus[0])
	assert.Equal(t, "Tesla T4", gpus[1].Model)
	assert.Equal(t, int64(15360), gpus[1].MemoryMB)
}

func TestDetectNVIDIA(t *testing.T) {
	orig := runCommand
	t.Cleanup(func() { runCommand = orig })

	runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "nvidia-smi", name)
		return []byte("NVIDIA A100, 40960 MiB, 8.0\n"), nil
	}
	assert.Len(t, DetectNVIDIA(context.Background()), 1)

	runCommand = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("executable file not found")
	}
	assert.Empty(t, DetectNVIDIA(context.Background()))
}

func TestResolveDevice(t *testing.T) {
	nvidia := []GPU{{Vendor: "nvidia", Model: "T4"}}
	assert.Equal(t, constants.ExecutionDeviceCUDA, ResolveDevice(constants.ExecutionDeviceAuto, nvidia))
	assert.Equal(t, constants.ExecutionDeviceCPU, ResolveDevice(constants.ExecutionDeviceAuto, nil))
	assert.Equal(t, constants.ExecutionDeviceCPU, ResolveDevice(constants.ExecutionDeviceCPU, nvidia))
	assert.Equal(t, constants.ExecutionDeviceCUDA, ResolveDevice(constants.ExecutionDeviceCUDA, nil))
}

func TestCachedReusesSnapshot(t *testing.T) {
	calls := 0
	c := NewCached(time.Hour)
	c.collect = func(context.Context) (Snapshot, error) {
		calls++
		return Snapshot{Hostname: "box"}, nil
	}
	assert.Equal(t, "box", c.Get(context.Background()).Hostname)
	assert.Equal(t, "box", c.Get(context.Background()).Hostname)
	assert.Equal(t, 1, calls)
}

func TestCollect(t *testing.T) {
	orig := runCommand
	t.Cleanup(func() { runCommand = orig })
	runCommand = func(context.Context, string, ...string) ([]byte, error) { return nil, errors.New("absent") }

	s, _ := Collect(context.Background())
	assert.NotEmpty(t, s.OS)
	assert.Empty(t, s.GPUs)
}
