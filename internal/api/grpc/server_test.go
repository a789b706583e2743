package grpcapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
	"github.com/kennethnrk/mixtex-ocr/internal/inference"
	"github.com/kennethnrk/mixtex-ocr/internal/inference/inferencetest"
	"github.com/kennethnrk/mixtex-ocr/internal/model"
	"github.com/kennethnrk/mixtex-ocr/internal/postprocess"
	"github.com/kennethnrk/mixtex-ocr/internal/queue"
	"github.com/kennethnrk/mixtex-ocr/internal/service"
	"github.com/kennethnrk/mixtex-ocr/internal/store"
	"github.com/kennethnrk/mixtex-ocr/internal/typst"
)

type harness struct {
	client *Client
	server *Server
	coord  *model.Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	coord, err := inferencetest.NewCoordinator(context.Background(),
		inferencetest.Script{Tokens: []string{"x", "^", "2"}}, logger)
	require.NoError(t, err)

	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := service.New(service.Deps{
		Engine: inference.New(coord, postprocess.New(typst.New()), inference.DefaultConfig(), logger),
		Models: coord,
		Store:  st,
		Logger: logger,
	})
	srv := New(svc, logger)
	coord.OnChange(srv.SetModelStatus)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	_, err = svc.SubmitFeedback(store.FeedbackRecord{LaTeX: "x^2", Feedback: "wrong"})
	require.NoError(t, err)
	return &harness{client: client, server: srv, coord: coord}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, inferencetest.Image()))
	return buf.Bytes()
}

func TestPredict(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.Predict(context.Background(), pngBytes(t), PredictOptions{RequestID: "r-1", UseDollars: true})
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "x^2", resp["latex"])
	assert.Equal(t, "r-1", resp["request_id"])
	assert.Equal(t, "eos", resp["termination"])
	assert.Equal(t, float64(4), resp["steps"])
	assert.Equal(t, float64(1), resp["model_version"])
}

func TestPredictErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Predict(ctx, []byte("not an image"), PredictOptions{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.call(ctx, methodPredict, map[string]any{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	h.coord.Unload()
	_, err = h.client.Predict(ctx, pngBytes(t), PredictOptions{})
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = h.client.Predict(ctx, []byte("not an image"), PredictOptions{})
	assert.Equal(t, codes.Unavailable, status.Code(err), "model check precedes decoding")
}

func TestPredictMaxLength(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	image := base64.StdEncoding.EncodeToString(pngBytes(t))

	for _, bad := range []any{2.5, -1, 1e12, "3", true} {
		_, err := h.client.call(ctx, methodPredict, map[string]any{"image": image, "max_length": bad})
		assert.Equal(t, codes.InvalidArgument, status.Code(err), "max_length %v", bad)
	}

	resp, err := h.client.call(ctx, methodPredict, map[string]any{"image": image, "max_length": 2})
	require.NoError(t, err)
	assert.Equal(t, "max_length", resp["termination"])
	assert.Equal(t, float64(2), resp["steps"])
}

func TestHealthFollowsModel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	h.coord.Unload()
	st, err = h.client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	resp, err := h.client.ReloadModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(2), resp["model"].(map[string]any)["version"])

	st, err = h.client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
}

func TestStatistics(t *testing.T) {
	h := newHarness(t)
	resp, err := h.client.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(1), resp["total_count"])
	assert.Equal(t, map[string]any{"negative": float64(1)}, resp["feedback_counts"])
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{queue.ErrQueueFull, codes.ResourceExhausted},
		{queue.ErrRequestTimeout, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errdefs.New(errdefs.KindModelNotLoaded, "acquire", nil), codes.Unavailable},
		{errdefs.New(errdefs.KindInvalidImageInput, "decode", nil), codes.InvalidArgument},
		{errdefs.New(errdefs.KindTypstConversionFailure, "typst", nil), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(toStatus(tt.err)), tt.err.Error())
	}
}

func TestUnaryHandlerUsesInterceptor(t *testing.T) {
	var seen string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return handler(ctx, req)
	}
	srv := stubServer{}
	dec := func(v any) error {
		in, err := structpb.NewStruct(map[string]any{"k": "v"})
		if err != nil {
			return err
		}
		v.(*structpb.Struct).Fields = in.Fields
		return nil
	}
	out, err := ServiceDesc.Methods[2].Handler(srv, context.Background(), dec, interceptor)
	require.NoError(t, err)
	assert.Equal(t, "/mixtex.v1.OCR/Statistics", seen)
	assert.Equal(t, "v", out.(*structpb.Struct).GetFields()["k"].GetStringValue())
}

type stubServer struct{}

func (stubServer) Predict(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return in, nil
}

func (stubServer) ReloadModel(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return in, nil
}

func (stubServer) Statistics(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return in, nil
}
