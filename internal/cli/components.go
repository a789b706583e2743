package cli

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/backend"
	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/config"
	"github.com/kennethnrk/mixtex-ocr/internal/inference"
	"github.com/kennethnrk/mixtex-ocr/internal/installer"
	"github.com/kennethnrk/mixtex-ocr/internal/metrics"
	"github.com/kennethnrk/mixtex-ocr/internal/model"
	"github.com/kennethnrk/mixtex-ocr/internal/postprocess"
	"github.com/kennethnrk/mixtex-ocr/internal/queue"
	"github.com/kennethnrk/mixtex-ocr/internal/service"
	"github.com/kennethnrk/mixtex-ocr/internal/store"
	"github.com/kennethnrk/mixtex-ocr/internal/sysinfo"
	"github.com/kennethnrk/mixtex-ocr/internal/typst"
)

// loaderFunc returns the model loader for cfg and a func that releases
// whatever backs it.
type loaderFunc func(ctx context.Context, cfg config.Config, logger *zap.Logger) (model.Loader, func(), error)

// onnxLoader loads the model directory with ONNX Runtime on the configured
// device.
func onnxLoader(ctx context.Context, cfg config.Config, logger *zap.Logger) (model.Loader, func(), error) {
	var gpus []sysinfo.GPU
	if cfg.Device == constants.ExecutionDeviceAuto {
		gpus = sysinfo.DetectNVIDIA(ctx)
	}
	device := sysinfo.ResolveDevice(cfg.Device, gpus)
	logger.Info("Execution device selected",
		zap.String("requested", string(cfg.Device)),
		zap.String("device", string(device)),
		zap.Int("gpus", len(gpus)))

	rt := backend.NewONNXRuntime(cfg.ONNXLibraryPath, logger.Named("onnx"))
	loader := &model.DirLoader{
		Dir:     cfg.ModelDir,
		Factory: rt,
		SessionOptions: []backend.SessionOption{
			backend.WithThreads(cfg.NumThreads),
			backend.WithCUDA(device == constants.ExecutionDeviceCUDA),
		},
		Logger: logger.Named("model"),
	}
	release := func() {
		if err := rt.Shutdown(); err != nil {
			logger.Warn("ONNX Runtime shutdown failed", zap.Error(err))
		}
	}
	return loader, release, nil
}

type components struct {
	coord     *model.Coordinator
	queue     *queue.Queue
	metrics   *metrics.Metrics
	store     *store.Store
	installer *installer.Installer
	service   *service.Service

	closers []func()
}

// build wires the service. The store and installer are only opened when
// withStore is set.
func (a *app) build(ctx context.Context, withStore bool) (*components, error) {
	cfg := a.cfg
	logger := a.logger
	c := &components{}

	loader, release, err := a.loader(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, release)

	c.coord = model.NewCoordinator(loader, logger.Named("coordinator"))
	c.closers = append(c.closers, c.coord.Unload)

	engine := inference.New(c.coord, postprocess.New(typst.New()), inference.Config{
		MaxLength:           cfg.MaxLength,
		ImageSize:           cfg.ImageSize,
		RepetitionThreshold: cfg.RepetitionThreshold,
		SeedFromEncode:      cfg.SeedFromEncode,
	}, logger.Named("inference"))

	c.queue = queue.New(queue.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueue:      cfg.MaxQueue,
		Timeout:       cfg.RequestTimeout,
	}, logger.Named("queue"))

	c.metrics = metrics.New()
	c.metrics.WatchQueue(
		func() int64 { return c.queue.Stats().Running },
		func() int64 { return c.queue.Stats().Waiting },
	)
	c.metrics.WatchModel(func() uint64 { return c.coord.Status().Version })

	if withStore {
		c.store, err = store.New(cfg.DataDir)
		if err != nil {
			c.Close()
			return nil, err
		}
		st := c.store
		c.closers = append(c.closers, func() {
			if err := st.Close(); err != nil {
				logger.Warn("Store close failed", zap.Error(err))
			}
		})
		c.installer = installer.New(a.installerConfig(), nil, c.store, c.coord, logger.Named("installer"))
	}

	c.service = service.New(service.Deps{
		Engine:    engine,
		Models:    c.coord,
		Queue:     c.queue,
		Metrics:   c.metrics,
		Store:     c.store,
		Installer: c.installer,
		Host:      sysinfo.NewCached(10 * time.Second),
		Logger:    logger.Named("service"),
	})
	return c, nil
}

func (a *app) installerConfig() installer.Config {
	return installer.Config{
		APIURL:      a.cfg.ReleaseAPIURL,
		Asset:       a.cfg.ReleaseAsset,
		FallbackURL: a.cfg.ReleaseFallbackURL,
		ModelDir:    a.cfg.ModelDir,
		DownloadDir: a.cfg.DownloadDir(),
	}
}

// Close releases everything in reverse order of creation.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
