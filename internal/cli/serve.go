package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	grpcapi "github.com/kennethnrk/mixtex-ocr/internal/api/grpc"
	httpapi "github.com/kennethnrk/mixtex-ocr/internal/api/http"
	"github.com/kennethnrk/mixtex-ocr/internal/config"
	watchercontroller "github.com/kennethnrk/mixtex-ocr/internal/controller/watcher"
	"github.com/kennethnrk/mixtex-ocr/internal/model"
)

const shutdownTimeout = 15 * time.Second

func (a *app) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and gRPC APIs",
		Long: `Load the model and serve the HTTP API, the gRPC API and Prometheus
metrics. The service starts even when the model directory is missing or
incomplete; use /download_model or /reload_model once files are in place.`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}

	f := cmd.Flags()
	f.String("http-addr", "127.0.0.1:8000", "HTTP listen address")
	f.String("grpc-addr", ":50051", "gRPC listen address; empty disables gRPC")
	f.StringSlice("cors-origins", nil, "browser origins allowed to call the HTTP API")
	f.Int("max-concurrent", 2, "recognitions running at once; 0 is unlimited")
	f.Int("max-queue", 16, "requests waiting for a slot; 0 is unlimited")
	f.Duration("request-timeout", 2*time.Minute, "longest a request may wait for a slot")
	f.Duration("watch-interval", 0, "poll the model directory for changes; 0 disables")
	a.mustBindPFlag(config.KeyHTTPAddr, f.Lookup("http-addr"))
	a.mustBindPFlag(config.KeyGRPCAddr, f.Lookup("grpc-addr"))
	a.mustBindPFlag(config.KeyCORSOrigins, f.Lookup("cors-origins"))
	a.mustBindPFlag(config.KeyMaxConcurrent, f.Lookup("max-concurrent"))
	a.mustBindPFlag(config.KeyMaxQueue, f.Lookup("max-queue"))
	a.mustBindPFlag(config.KeyRequestTimeout, f.Lookup("request-timeout"))
	a.mustBindPFlag(config.KeyWatchInterval, f.Lookup("watch-interval"))
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return a.serve(ctx)
}

// serve runs until ctx is done or a server fails.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	c, err := a.build(ctx, true)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.service.Reload(ctx, "startup"); err != nil {
		logger.Warn("Serving without a model", zap.String("model_dir", cfg.ModelDir), zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)

	httpSrv := httpapi.New(c.service, cfg.CORSOrigins, logger.Named("http"))
	g.Go(func() error { return httpSrv.ListenAndServe(cfg.HTTPAddr) })

	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpcapi.New(c.service, logger.Named("grpc"))
		c.coord.OnChange(func(st model.Status) { grpcSrv.SetModelStatus(st) })
		g.Go(func() error { return grpcSrv.ListenAndServe(cfg.GRPCAddr) })
	}

	if cfg.WatchInterval > 0 {
		w := watchercontroller.New(cfg.ModelDir, c.coord, logger.Named("watcher"))
		w.OnReload(func(err error) { c.metrics.Reload("watch", err) })
		g.Go(func() error {
			w.Run(ctx, cfg.WatchInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.Stop(shutdownCtx)
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	logger.Info("MixTeX OCR service started",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("model_dir", cfg.ModelDir))
	return g.Wait()
}
