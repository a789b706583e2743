package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
	"github.com/kennethnrk/mixtex-ocr/internal/inference"
	"github.com/kennethnrk/mixtex-ocr/internal/inference/inferencetest"
	"github.com/kennethnrk/mixtex-ocr/internal/model"
	"github.com/kennethnrk/mixtex-ocr/internal/postprocess"
	"github.com/kennethnrk/mixtex-ocr/internal/queue"
	"github.com/kennethnrk/mixtex-ocr/internal/store"
	"github.com/kennethnrk/mixtex-ocr/internal/typst"
)

func newService(t *testing.T, script inferencetest.Script, q queue.Config, withStore bool) (*Service, *model.Coordinator) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	coord, err := inferencetest.NewCoordinator(context.Background(), script, logger)
	require.NoError(t, err)

	d := Deps{
		Engine: inference.New(coord, postprocess.New(typst.New()), inference.DefaultConfig(), logger),
		Models: coord,
		Queue:  queue.New(q, logger),
		Logger: logger,
	}
	if withStore {
		st, err := store.New(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		d.Store = st
	}
	return New(d), coord
}

func TestPredict(t *testing.T) {
	svc, _ := newService(t, inferencetest.Script{Tokens: []string{"x", "=", "1"}}, queue.Config{}, false)

	p, err := svc.Predict(context.Background(), "http", inferencetest.Image(), PredictRequest{MathML: true})
	require.NoError(t, err)
	assert.Equal(t, "x=1", p.LaTeX)
	assert.NotEmpty(t, p.RequestID)
	assert.Equal(t, 4, p.Steps)
	assert.Equal(t, constants.TerminationEOS, p.Termination)
	assert.Equal(t, uint64(1), p.ModelVersion)
	assert.Contains(t, p.MathML, "<math")

	n, err := testutil.GatherAndCount(svc.Metrics().Registry(), "mixtex_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPredictOptions(t *testing.T) {
	svc, _ := newService(t, inferencetest.Script{Tokens: []string{`\[`, "x", `\]`}}, queue.Config{}, false)

	p, err := svc.Predict(context.Background(), "grpc", inferencetest.Image(), PredictRequest{
		Options:   inference.Options{Options: postprocess.Options{ConvertAlign: true}},
		RequestID: "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", p.RequestID)
	assert.Equal(t, "$$ x $$", p.LaTeX)

	p, err = svc.Predict(context.Background(), "grpc", inferencetest.Image(), PredictRequest{
		Options: inference.Options{Options: postprocess.Options{UseTypst: true}},
		MathML:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "$ x $", p.LaTeX)
	assert.Empty(t, p.MathML, "no MathML for Typst output")

	p, err = svc.Predict(context.Background(), "grpc", inferencetest.Image(), PredictRequest{
		Options: inference.Options{MaxLength: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, constants.TerminationMaxLength, p.Termination)
	assert.Equal(t, 2, p.Steps)
}

func TestPredictModelNotLoaded(t *testing.T) {
	svc, coord := newService(t, inferencetest.Script{}, queue.Config{}, false)
	coord.Unload()

	_, err := svc.Predict(context.Background(), "http", inferencetest.Image(), PredictRequest{})
	require.Error(t, err)
	assert.Equal(t, errdefs.KindModelNotLoaded, errdefs.KindOf(err))

	h := svc.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.False(t, h.ModelLoaded)
}

func TestReady(t *testing.T) {
	svc, coord := newService(t, inferencetest.Script{}, queue.Config{}, false)
	require.NoError(t, svc.Ready("http"))

	coord.Unload()
	err := svc.Ready("http")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindModelNotLoaded, errdefs.KindOf(err))

	n, err := testutil.GatherAndCount(svc.Metrics().Registry(), "mixtex_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "refusal is counted")
}

func TestPredictQueueLimits(t *testing.T) {
	gate := make(chan struct{})
	svc, _ := newService(t,
		inferencetest.Script{Tokens: []string{"x"}, Gate: gate},
		queue.Config{MaxConcurrent: 1, MaxQueue: 1, Timeout: 100 * time.Millisecond},
		false)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := svc.Predict(ctx, "http", inferencetest.Image(), PredictRequest{})
		first <- err
	}()
	require.Eventually(t, func() bool { return svc.queue.Stats().Running == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := svc.Predict(ctx, "http", inferencetest.Image(), PredictRequest{})
		second <- err
	}()
	require.Eventually(t, func() bool { return svc.queue.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	_, err := svc.Predict(ctx, "http", inferencetest.Image(), PredictRequest{})
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	assert.Equal(t, "queue_full", outcome(err))

	err = <-second
	assert.ErrorIs(t, err, queue.ErrRequestTimeout)
	assert.Equal(t, "timeout", outcome(err))

	close(gate)
	require.NoError(t, <-first)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "canceled", outcome(context.Canceled))
	assert.Equal(t, "timeout", outcome(context.DeadlineExceeded))
	assert.Equal(t, "inference_failure", outcome(errdefs.New(errdefs.KindInferenceFailure, "decode", errors.New("boom"))))
}

func TestFeedbackAndStatistics(t *testing.T) {
	svc, _ := newService(t, inferencetest.Script{}, queue.Config{}, true)

	for _, fb := range []string{"good", "Correct", "wrong", "meh"} {
		_, err := svc.SubmitFeedback(store.FeedbackRecord{LaTeX: "x", Feedback: fb})
		require.NoError(t, err)
	}
	_, err := svc.SubmitFeedback(store.FeedbackRecord{LaTeX: " ", Feedback: "good"})
	assert.Error(t, err)

	stats, err := svc.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalCount)
	assert.Equal(t, 2, stats.FeedbackCounts["positive"])
	assert.Equal(t, 1, stats.FeedbackCounts["negative"])
	assert.Equal(t, 1, stats.FeedbackCounts["meh"])
}

func TestFeedbackWithoutStore(t *testing.T) {
	svc, _ := newService(t, inferencetest.Script{}, queue.Config{}, false)

	_, err := svc.SubmitFeedback(store.FeedbackRecord{LaTeX: "x", Feedback: "good"})
	assert.ErrorIs(t, err, ErrFeedbackDisabled)

	stats, err := svc.Statistics()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCount)

	_, err = svc.Download(context.Background())
	assert.ErrorIs(t, err, ErrDownloadDisabled)
}

func TestReloadAndHealth(t *testing.T) {
	svc, _ := newService(t, inferencetest.Script{}, queue.Config{}, false)

	status, err := svc.Reload(context.Background(), "manual")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), status.Version)

	h := svc.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.ModelLoaded)
	assert.Equal(t, constants.ModelStatusLoaded, h.Model.State)
}
