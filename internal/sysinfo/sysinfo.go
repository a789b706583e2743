// Package sysinfo reports the host resources shown by /health and used to
// pick the execution device.
package sysinfo

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

type Snapshot struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	Uptime   uint64 `json:"uptime_seconds"`

	CPUModel    string  `json:"cpu_model"`
	LogicalCPUs int     `json:"logical_cpus"`
	CPUPercent  float64 `json:"cpu_percent"`

	MemoryTotal       uint64  `json:"memory_total"`
	MemoryAvailable   uint64  `json:"memory_available"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`

	GPUs []GPU `json:"gpus"`
}

// Collect gathers a snapshot. Fields a probe cannot fill stay zero; the
// returned error joins every probe failure.
func Collect(ctx context.Context) (Snapshot, error) {
	s := Snapshot{OS: runtime.GOOS, Arch: runtime.GOARCH}
	var errs []error

	if info, err := host.InfoWithContext(ctx); err == nil {
		s.Hostname = info.Hostname
		s.Platform = info.Platform
		s.Uptime = info.Uptime
		if info.KernelArch != "" {
			s.Arch = info.KernelArch
		}
	} else {
		errs = append(errs, err)
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		s.CPUModel = infos[0].ModelName
	} else if err != nil {
		errs = append(errs, err)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.LogicalCPUs = n
	} else {
		errs = append(errs, err)
	}
	// A zero interval compares against the previous call, so it does not
	// block the health endpoint.
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryTotal = vm.Total
		s.MemoryAvailable = vm.Available
		s.MemoryUsedPercent = vm.UsedPercent
	} else {
		errs = append(errs, err)
	}

	s.GPUs = DetectNVIDIA(ctx)
	return s, errors.Join(errs...)
}

// Cached keeps the last snapshot for ttl so frequent health checks do not
// shell out to nvidia-smi every time.
type Cached struct {
	ttl     time.Duration
	collect func(context.Context) (Snapshot, error)

	mu      sync.Mutex
	last    Snapshot
	expires time.Time
}

func NewCached(ttl time.Duration) *Cached {
	return &Cached{ttl: ttl, collect: Collect}
}

func (c *Cached) Get(ctx context.Context) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Now().Before(c.expires) {
		return c.last
	}
	s, _ := c.collect(ctx)
	c.last = s
	c.expires = time.Now().Add(c.ttl)
	return s
}
