package watchercontroller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/model"
)

// Reloader is the part of model.Coordinator the watcher drives.
type Reloader interface {
	Reload(ctx context.Context) (model.Status, error)
	Status() model.Status
}

// Watcher reloads the model when the artifacts in its directory change.
type Watcher struct {
	dir      string
	models   Reloader
	logger   *zap.Logger
	onReload func(error)

	// lastTried is the fingerprint of the last failed reload, so a broken
	// directory is not reloaded on every tick.
	lastTried string
}

func New(dir string, models Reloader, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{dir: dir, models: models, logger: logger}
}

// OnReload registers fn to be called with the outcome of every reload the
// watcher triggers.
func (w *Watcher) OnReload(fn func(error)) { w.onReload = fn }

// Check fingerprints the model directory and reloads when it differs from
// the loaded model. It reports whether a reload was attempted.
func (w *Watcher) Check(ctx context.Context) bool {
	fingerprint, err := model.Fingerprint(w.dir)
	if err != nil {
		w.logger.Debug("Model directory not ready", zap.String("dir", w.dir), zap.Error(err))
		return false
	}
	status := w.models.Status()
	if status.Loaded() && status.Fingerprint == fingerprint {
		w.lastTried = ""
		return false
	}
	if fingerprint == w.lastTried {
		return false
	}

	w.logger.Info("Model artifacts changed, reloading",
		zap.String("dir", w.dir),
		zap.String("fingerprint", fingerprint),
		zap.String("previous", status.Fingerprint))
	_, err = w.models.Reload(ctx)
	if err != nil {
		w.lastTried = fingerprint
		w.logger.Error("Reload after artifact change failed", zap.Error(err))
	} else {
		w.lastTried = ""
	}
	if w.onReload != nil {
		w.onReload(err)
	}
	return true
}

// Run checks immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	w.logger.Info("Starting model watcher", zap.String("dir", w.dir), zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Model watcher stopped")
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}
