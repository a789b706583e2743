package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Request("http", OutcomeSuccess)
	m.Request("http", OutcomeSuccess)
	m.Request("grpc", "invalid_image_input")
	m.Reload("api", nil)
	m.Reload("watcher", errors.New("boom"))
	m.Feedback("correct")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("http", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("grpc", "invalid_image_input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloadsTotal.WithLabelValues("watcher", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedbackTotal.WithLabelValues("correct")))
}

func TestRecognition(t *testing.T) {
	m := New()
	m.Recognition("eos", 12, 300*time.Millisecond)
	m.Recognition("repetition", 21, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.terminationsTotal.WithLabelValues("eos")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.generatedTokens))
	assert.Equal(t, 2, testutil.CollectAndCount(m.inferenceLatency))
}

func TestHandlerExposesGauges(t *testing.T) {
	m := New()
	m.WatchQueue(func() int64 { return 2 }, func() int64 { return 5 })
	m.WatchModel(func() uint64 { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "mixtex_queue_running 2")
	assert.Contains(t, string(body), "mixtex_queue_waiting 5")
	assert.Contains(t, string(body), "mixtex_model_version 3")
	assert.Contains(t, string(body), "go_goroutines")
}
