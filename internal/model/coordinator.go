package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
)

// Handle is one loaded version of the model. Requests pin a handle with
// Coordinator.Acquire and must Release it; a handle replaced by a reload is
// closed once its last request releases it.
type Handle struct {
	bundle   *Bundle
	version  uint64
	loadedAt time.Time
	logger   *zap.Logger

	refs      atomic.Int64
	retired   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

func newHandle(b *Bundle, version uint64, logger *zap.Logger) *Handle {
	return &Handle{
		bundle:   b,
		version:  version,
		loadedAt: time.Now(),
		logger:   logger,
		closed:   make(chan struct{}),
	}
}

func (h *Handle) Bundle() *Bundle         { return h.bundle }
func (h *Handle) Version() uint64         { return h.version }
func (h *Handle) LoadedAt() time.Time     { return h.loadedAt }
func (h *Handle) Closed() <-chan struct{} { return h.closed }

// Release unpins the handle.
func (h *Handle) Release() {
	if h.refs.Add(-1) == 0 && h.retired.Load() {
		h.close()
	}
}

func (h *Handle) retire() {
	h.retired.Store(true)
	if h.refs.Load() == 0 {
		h.close()
	}
}

func (h *Handle) close() {
	h.closeOnce.Do(func() {
		if err := h.bundle.Close(); err != nil {
			h.logger.Warn("Error closing retired model", zap.Uint64("version", h.version), zap.Error(err))
		} else {
			h.logger.Info("Retired model closed", zap.Uint64("version", h.version))
		}
		close(h.closed)
	})
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State       constants.ModelStatus `json:"state"`
	Version     uint64                `json:"version"`
	Dir         string                `json:"dir,omitempty"`
	Fingerprint string                `json:"fingerprint,omitempty"`
	LoadedAt    time.Time             `json:"loaded_at,omitempty"`
	LastError   string                `json:"last_error,omitempty"`
}

// Loaded reports whether a handle is current, including while a reload is
// in progress.
func (s Status) Loaded() bool { return s.Version > 0 }

// Coordinator owns the current model handle. Reads are lock free; reloads
// are serialised.
type Coordinator struct {
	loader Loader
	logger *zap.Logger

	current  atomic.Pointer[Handle]
	reloadMu sync.Mutex
	version  uint64

	mu        sync.RWMutex
	state     constants.ModelStatus
	lastErr   error
	listeners []func(Status)
}

func NewCoordinator(loader Loader, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		loader: loader,
		logger: logger,
		state:  constants.ModelStatusNotLoaded,
	}
}

// OnChange registers fn to be called after every state change.
func (c *Coordinator) OnChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Acquire pins the current handle. It fails with errdefs.KindModelNotLoaded
// when no model is loaded.
func (c *Coordinator) Acquire() (*Handle, error) {
	for {
		h := c.current.Load()
		if h == nil {
			return nil, errdefs.New(errdefs.KindModelNotLoaded, "acquire model", c.notLoadedReason())
		}
		h.refs.Add(1)
		if c.current.Load() == h {
			return h, nil
		}
		// Swapped between Load and Add; the old handle may already be retired.
		h.Release()
	}
}

func (c *Coordinator) notLoadedReason() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastErr != nil {
		return c.lastErr
	}
	return errors.New("model not loaded")
}

// Reload builds a new bundle and swaps it in. On failure the previous
// handle, if any, stays current.
func (c *Coordinator) Reload(ctx context.Context) (Status, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	c.setState(constants.ModelStatusLoading, nil)
	start := time.Now()
	bundle, err := c.loader.Load(ctx)
	if err != nil {
		c.logger.Error("Model load failed", zap.Error(err))
		state := constants.ModelStatusError
		if c.current.Load() != nil {
			state = constants.ModelStatusLoaded
		} else if errdefs.KindOf(err) == errdefs.KindModelNotLoaded {
			state = constants.ModelStatusNotLoaded
		}
		c.setState(state, err)
		return c.Status(), err
	}

	c.version++
	h := newHandle(bundle, c.version, c.logger)
	old := c.current.Swap(h)
	if old != nil {
		old.retire()
	}
	c.logger.Info("Model loaded",
		zap.Uint64("version", h.version),
		zap.String("dir", bundle.Dir),
		zap.Duration("elapsed", time.Since(start)))
	c.setState(constants.ModelStatusLoaded, nil)
	return c.Status(), nil
}

// Unload drops the current handle. In-flight requests finish on it.
func (c *Coordinator) Unload() {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	if old := c.current.Swap(nil); old != nil {
		old.retire()
	}
	c.setState(constants.ModelStatusNotLoaded, nil)
}

// Status reports the current handle and the outcome of the last load.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	s := Status{State: c.state}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.mu.RUnlock()

	if h := c.current.Load(); h != nil {
		s.Version = h.version
		s.Dir = h.bundle.Dir
		s.Fingerprint = h.bundle.Fingerprint
		s.LoadedAt = h.loadedAt
	}
	return s
}

func (c *Coordinator) setState(state constants.ModelStatus, err error) {
	c.mu.Lock()
	c.state = state
	c.lastErr = err
	listeners := append([]func(Status){}, c.listeners...)
	c.mu.Unlock()

	s := c.Status()
	for _, fn := range listeners {
		fn(s)
	}
}
