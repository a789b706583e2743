// Package httpapi serves the recognition service over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/service"
)

// Transport labels HTTP requests in metrics.
const Transport = "http"

// maxUploadBytes bounds uploaded files and base64 form values.
const maxUploadBytes = 32 << 20

type Server struct {
	svc     *service.Service
	origins []string
	logger  *zap.Logger
	srv     *http.Server
}

// New returns a Server. origins lists the browser origins allowed by CORS;
// when empty, cross-origin requests are refused.
func New(svc *service.Service, origins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, origins: origins, logger: logger}
	s.srv = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.MaxMultipartMemory = maxUploadBytes
	r.Use(gin.Recovery(), requestID(), accessLog(s.logger))
	if len(s.origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = s.origins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader}
		corsConfig.ExposeHeaders = []string{RequestIDHeader}
		r.Use(cors.New(corsConfig))
	}

	r.HEAD("/", s.root)
	r.GET("/", s.root)
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(s.svc.Metrics().Handler()))

	r.POST("/predict", s.predictUpload)
	r.POST("/predict_base64", s.predictBase64("base64"))
	r.POST("/predict_clipboard", s.predictBase64("clipboard"))

	r.POST("/feedback", s.feedback)
	r.GET("/statistics", s.statistics)

	r.POST("/reload_model", s.reloadModel)
	r.POST("/download_model", s.downloadModel)
	return r
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server stopped: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
