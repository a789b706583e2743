package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
	"github.com/kennethnrk/mixtex-ocr/internal/imageprep"
	"github.com/kennethnrk/mixtex-ocr/internal/inference"
	"github.com/kennethnrk/mixtex-ocr/internal/installer"
	"github.com/kennethnrk/mixtex-ocr/internal/model"
	"github.com/kennethnrk/mixtex-ocr/internal/postprocess"
	"github.com/kennethnrk/mixtex-ocr/internal/queue"
	"github.com/kennethnrk/mixtex-ocr/internal/service"
)

// Transport labels gRPC requests in metrics.
const Transport = "grpc"

// Server implements OCRServer on top of the service and carries the
// standard health service.
type Server struct {
	svc    *service.Service
	logger *zap.Logger
	grpc   *grpc.Server
	health *health.Server
}

func New(svc *service.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		logger: logger,
		health: health.NewServer(),
	}
	s.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	s.grpc.RegisterService(&ServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetModelStatus(svc.ModelStatus())
	return s
}

// SetModelStatus reports SERVING while a model is loaded.
func (s *Server) SetModelStatus(st model.Status) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st.Loaded() {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(ServiceName, serving)
}

// Serve handles connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server stopped: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until Stop is called.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Stop drains in-flight calls, forcing the server closed when ctx ends
// first.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		s.logger.Warn("gRPC call failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("gRPC call", fields...)
	}
	return resp, err
}

// Predict recognizes the base64 "image" field of the request.
func (s *Server) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	fields := req.GetFields()
	data := fields["image"].GetStringValue()
	if data == "" {
		return nil, status.Error(codes.InvalidArgument, "image is required")
	}

	maxLength, err := intField(fields, "max_length")
	if err != nil {
		return nil, err
	}
	pr := service.PredictRequest{
		Options: inference.Options{
			Options: postprocess.Options{
				UseDollars:   fields["use_dollars"].GetBoolValue(),
				ConvertAlign: fields["convert_align"].GetBoolValue(),
				UseTypst:     fields["use_typst"].GetBoolValue(),
			},
			MaxLength: maxLength,
		},
		MathML:    fields["mathml"].GetBoolValue(),
		RequestID: fields["request_id"].GetStringValue(),
	}

	if err := s.svc.Ready(Transport); err != nil {
		return nil, toStatus(err)
	}
	img, err := imageprep.DecodeBase64(data)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.svc.Predict(ctx, Transport, img, pr)
	if err != nil {
		return nil, toStatus(err)
	}

	out := map[string]any{
		"success":       true,
		"latex":         p.LaTeX,
		"request_id":    p.RequestID,
		"steps":         p.Steps,
		"termination":   string(p.Termination),
		"model_version": p.ModelVersion,
		"duration_ms":   p.Duration.Milliseconds(),
	}
	if p.MathML != "" {
		out["mathml"] = p.MathML
	}
	return newStruct(out)
}

// intField reads a non-negative whole number; absent fields read as zero.
func intField(fields map[string]*structpb.Value, name string) (int, error) {
	v, ok := fields[name]
	if !ok {
		return 0, nil
	}
	n, isNumber := v.GetKind().(*structpb.Value_NumberValue)
	if !isNumber {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	f := n.NumberValue
	if f < 0 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a whole number between 0 and %d", name, math.MaxInt32)
	}
	return int(f), nil
}

func (s *Server) ReloadModel(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.svc.Reload(ctx, Transport)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "model reload failed: %v", err)
	}
	return newStruct(map[string]any{
		"success": true,
		"model":   modelStatusMap(st),
	})
}

func (s *Server) Statistics(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.svc.Statistics()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	counts := make(map[string]any, len(stats.FeedbackCounts))
	for k, v := range stats.FeedbackCounts {
		counts[k] = v
	}
	return newStruct(map[string]any{
		"total_count":     stats.TotalCount,
		"feedback_counts": counts,
	})
}

func modelStatusMap(st model.Status) map[string]any {
	m := map[string]any{
		"state":   string(st.State),
		"version": st.Version,
		"dir":     st.Dir,
	}
	if st.Fingerprint != "" {
		m["fingerprint"] = st.Fingerprint
	}
	if !st.LoadedAt.IsZero() {
		m["loaded_at"] = st.LoadedAt.UTC().Format(time.RFC3339Nano)
	}
	if st.LastError != "" {
		m["last_error"] = st.LastError
	}
	return m
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps service errors onto gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		code = codes.ResourceExhausted
	case errors.Is(err, queue.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, installer.ErrInProgress):
		code = codes.Aborted
	case errors.Is(err, errdefs.ErrModelNotLoaded):
		code = codes.Unavailable
	case errors.Is(err, errdefs.ErrInvalidImageInput):
		code = codes.InvalidArgument
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
