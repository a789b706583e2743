// Package service ties the recognition engine to the request queue, model
// lifecycle, persistence and metrics. Both the HTTP and the gRPC API call
// into it.
package service

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
	feedbackcontroller "github.com/kennethnrk/mixtex-ocr/internal/controller/feedback"
	"github.com/kennethnrk/mixtex-ocr/internal/inference"
	"github.com/kennethnrk/mixtex-ocr/internal/installer"
	"github.com/kennethnrk/mixtex-ocr/internal/mathml"
	"github.com/kennethnrk/mixtex-ocr/internal/metrics"
	"github.com/kennethnrk/mixtex-ocr/internal/model"
	"github.com/kennethnrk/mixtex-ocr/internal/queue"
	"github.com/kennethnrk/mixtex-ocr/internal/store"
	"github.com/kennethnrk/mixtex-ocr/internal/sysinfo"
)

var (
	// ErrFeedbackDisabled is returned when the service runs without a store.
	ErrFeedbackDisabled = errors.New("feedback storage is not configured")

	// ErrDownloadDisabled is returned when the service runs without an
	// installer.
	ErrDownloadDisabled = errors.New("model download is not configured")
)

// Models is the part of model.Coordinator the service uses.
type Models interface {
	inference.Models
	Reload(ctx context.Context) (model.Status, error)
	Status() model.Status
}

type Deps struct {
	Engine    *inference.Engine
	Models    Models
	Queue     *queue.Queue
	Metrics   *metrics.Metrics
	Store     *store.Store
	Installer *installer.Installer
	MathML    *mathml.Renderer
	Host      *sysinfo.Cached
	Logger    *zap.Logger
}

type Service struct {
	engine    *inference.Engine
	models    Models
	queue     *queue.Queue
	metrics   *metrics.Metrics
	store     *store.Store
	installer *installer.Installer
	mathml    *mathml.Renderer
	host      *sysinfo.Cached
	logger    *zap.Logger
}

func New(d Deps) *Service {
	s := &Service{
		engine:    d.Engine,
		models:    d.Models,
		queue:     d.Queue,
		metrics:   d.Metrics,
		store:     d.Store,
		installer: d.Installer,
		mathml:    d.MathML,
		host:      d.Host,
		logger:    d.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.queue == nil {
		s.queue = queue.New(queue.Config{}, s.logger)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.mathml == nil {
		s.mathml = mathml.New()
	}
	if s.host == nil {
		s.host = sysinfo.NewCached(10 * time.Second)
	}
	return s
}

func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

type PredictRequest struct {
	inference.Options
	MathML    bool
	RequestID string
}

type Prediction struct {
	RequestID    string                `json:"request_id"`
	LaTeX        string                `json:"latex"`
	MathML       string                `json:"mathml,omitempty"`
	Steps        int                   `json:"steps"`
	Termination  constants.Termination `json:"termination"`
	ModelVersion uint64                `json:"model_version"`
	Duration     time.Duration         `json:"duration"`
}

// Ready fails with errdefs.KindModelNotLoaded while no model is loaded, so
// transports can refuse a request before decoding its image. The refusal is
// counted like a failed prediction.
func (s *Service) Ready(transport string) error {
	if s.models.Status().Loaded() {
		return nil
	}
	h, err := s.models.Acquire()
	if err == nil {
		// loaded between Status and Acquire
		h.Release()
		return nil
	}
	s.metrics.Request(transport, outcome(err))
	return err
}

// Predict runs one recognition under the request queue. transport labels
// the request in metrics and logs.
func (s *Service) Predict(ctx context.Context, transport string, img image.Image, req PredictRequest) (*Prediction, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	logger := s.logger.With(zap.String("request_id", req.RequestID), zap.String("transport", transport))

	release, err := s.queue.Acquire(ctx)
	if err != nil {
		s.metrics.Request(transport, outcome(err))
		logger.Warn("Request not admitted", zap.Error(err))
		return nil, err
	}
	defer release()

	res, err := s.engine.Recognize(ctx, img, req.Options)
	if err != nil {
		s.metrics.Request(transport, outcome(err))
		logger.Error("Recognition failed", zap.Error(err))
		return nil, err
	}
	s.metrics.Request(transport, metrics.OutcomeSuccess)
	s.metrics.Recognition(string(res.Termination), len(res.Tokens), res.Duration)

	p := &Prediction{
		RequestID:    req.RequestID,
		LaTeX:        res.Text,
		Steps:        res.Steps,
		Termination:  res.Termination,
		ModelVersion: res.ModelVersion,
		Duration:     res.Duration,
	}
	if req.MathML && !req.UseTypst {
		if p.MathML, err = s.mathml.Render(res.Text); err != nil {
			logger.Warn("MathML rendering failed", zap.Error(err))
		}
	}
	logger.Info("Recognition succeeded",
		zap.Int("steps", res.Steps),
		zap.String("termination", string(res.Termination)),
		zap.Duration("elapsed", res.Duration))
	return p, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return metrics.OutcomeQueueFull
	case errors.Is(err, queue.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeCanceled
	default:
		return errdefs.KindOf(err).String()
	}
}

// Reload rebuilds the model from its directory. trigger labels the reload
// in metrics.
func (s *Service) Reload(ctx context.Context, trigger string) (model.Status, error) {
	status, err := s.models.Reload(ctx)
	s.metrics.Reload(trigger, err)
	return status, err
}

// Download installs the latest model release and reloads it.
func (s *Service) Download(ctx context.Context) (installer.Result, error) {
	if s.installer == nil {
		return installer.Result{Status: "error", Message: ErrDownloadDisabled.Error()}, ErrDownloadDisabled
	}
	res, err := s.installer.Install(ctx)
	if !errors.Is(err, installer.ErrInProgress) {
		s.metrics.Reload("download", err)
	}
	return res, err
}

func (s *Service) SubmitFeedback(rec store.FeedbackRecord) (store.FeedbackRecord, error) {
	if s.store == nil {
		return store.FeedbackRecord{}, ErrFeedbackDisabled
	}
	saved, err := feedbackcontroller.SubmitFeedback(s.store, rec)
	if err != nil {
		return store.FeedbackRecord{}, err
	}
	s.metrics.Feedback(string(saved.Kind))
	s.logger.Info("Feedback recorded", zap.String("id", saved.ID), zap.String("kind", string(saved.Kind)))
	return saved, nil
}

func (s *Service) Statistics() (feedbackcontroller.Statistics, error) {
	if s.store == nil {
		return feedbackcontroller.Statistics{FeedbackCounts: map[string]int{}}, nil
	}
	return feedbackcontroller.GetStatistics(s.store)
}

type Health struct {
	Status      string           `json:"status"`
	ModelLoaded bool             `json:"model_loaded"`
	Model       model.Status     `json:"model"`
	Queue       queue.Stats      `json:"queue"`
	Host        sysinfo.Snapshot `json:"host"`
}

// Health reports "healthy" while a model is loaded and "degraded" otherwise.
func (s *Service) Health(ctx context.Context) Health {
	status := s.models.Status()
	h := Health{
		Status:      "healthy",
		ModelLoaded: status.Loaded(),
		Model:       status,
		Queue:       s.queue.Stats(),
		Host:        s.host.Get(ctx),
	}
	if !h.ModelLoaded {
		h.Status = "degraded"
	}
	return h
}

// ModelStatus is the coordinator's current status.
func (s *Service) ModelStatus() model.Status { return s.models.Status() }
