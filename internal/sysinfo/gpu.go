package sysinfo

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
)

// GPU is one accelerator reported by the vendor tool.
type GPU struct {
	Vendor            string `json:"vendor"`
	Model             string `json:"model"`
	MemoryMB          int64  `json:"memory_mb"`
	ComputeCapability string `json:"compute_capability,omitempty"`
}

// runCommand is replaced in tests.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// DetectNVIDIA lists NVIDIA GPUs through nvidia-smi. A missing tool or a
// machine without NVIDIA GPUs yields an empty list.
func DetectNVIDIA(ctx context.Context) []GPU {
	output, err := runCommand(ctx, "nvidia-smi", "--query-gpu=name,memory.total,compute_cap", "--format=csv,noheader")
	if err != nil {
		return nil
	}
	return parseNVIDIASMI(string(output))
}

// parseNVIDIASMI reads lines like "NVIDIA GeForce RTX 3080, 10240 MiB, 8.6".
func parseNVIDIASMI(output string) []GPU {
	var gpus []GPU
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}

		gpu := GPU{
			Vendor: "nvidia",
			Model:  strings.TrimSpace(parts[0]),
		}
		memStr := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), "MiB"))
		if memMB, err := strconv.ParseInt(memStr, 10, 64); err == nil {
			gpu.MemoryMB = memMB
		}
		if len(parts) >= 3 {
			gpu.ComputeCapability = strings.TrimSpace(parts[2])
		}
		gpus = append(gpus, gpu)
	}
	return gpus
}

// ResolveDevice turns "auto" into CUDA when an NVIDIA GPU is present and
// CPU otherwise. Explicit choices are returned unchanged.
func ResolveDevice(requested constants.ExecutionDevice, gpus []GPU) constants.ExecutionDevice {
	if requested != constants.ExecutionDeviceAuto && requested != "" {
		return requested
	}
	for _, gpu := range gpus {
		if gpu.Vendor == "nvidia" {
			return constants.ExecutionDeviceCUDA
		}
	}
	return constants.ExecutionDeviceCPU
}
