// Package inference runs the image-to-LaTeX pipeline: padding, feature
// extraction, one encoder pass and a greedy decode loop over the decoder's
// key/value cache.
package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/backend"
	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
	"github.com/kennethnrk/mixtex-ocr/internal/imageprep"
	"github.com/kennethnrk/mixtex-ocr/internal/model"
	"github.com/kennethnrk/mixtex-ocr/internal/postprocess"
	"github.com/kennethnrk/mixtex-ocr/internal/repetition"
)

// DefaultMaxLength caps the number of generated tokens.
const DefaultMaxLength = 512

type Config struct {
	MaxLength           int
	ImageSize           int
	RepetitionThreshold int
	// SeedFromEncode seeds the decoder with the tokenizer's encoding of the
	// BOS text instead of the bare BOS id.
	SeedFromEncode bool
}

func DefaultConfig() Config {
	return Config{
		MaxLength:           DefaultMaxLength,
		ImageSize:           imageprep.DefaultSize,
		RepetitionThreshold: repetition.StopThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxLength <= 0 {
		c.MaxLength = d.MaxLength
	}
	if c.ImageSize <= 0 {
		c.ImageSize = d.ImageSize
	}
	if c.RepetitionThreshold <= 0 {
		c.RepetitionThreshold = d.RepetitionThreshold
	}
	return c
}

// Options are per request.
type Options struct {
	postprocess.Options
	// MaxLength lowers the configured token cap for this request when set.
	MaxLength int
}

type Result struct {
	Text         string                `json:"text"`
	Raw          string                `json:"raw"`
	Tokens       []int64               `json:"tokens"`
	Steps        int                   `json:"steps"`
	Termination  constants.Termination `json:"termination"`
	ModelVersion uint64                `json:"model_version"`
	Duration     time.Duration         `json:"duration"`
}

// Models hands out pinned model handles. *model.Coordinator implements it.
type Models interface {
	Acquire() (*model.Handle, error)
}

// Engine is safe for concurrent use; every call to Recognize owns its cache
// and token sequence.
type Engine struct {
	models Models
	post   *postprocess.Processor
	cfg    Config
	logger *zap.Logger
}

func New(models Models, post *postprocess.Processor, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if post == nil {
		post = postprocess.New(nil)
	}
	return &Engine{
		models: models,
		post:   post,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

func (e *Engine) Config() Config { return e.cfg }

// Recognize converts img to LaTeX, or Typst when opts.UseTypst is set.
// Failures are *errdefs.Error values except for context cancellation,
// which is returned wrapped as is.
func (e *Engine) Recognize(ctx context.Context, img image.Image, opts Options) (*Result, error) {
	start := time.Now()
	h, err := e.models.Acquire()
	if err != nil {
		return nil, err
	}
	defer h.Release()

	if img == nil || img.Bounds().Empty() {
		return nil, errdefs.Newf(errdefs.KindInvalidImageInput, "recognize", "image is empty")
	}

	maxLength := e.cfg.MaxLength
	if opts.MaxLength > 0 && opts.MaxLength < maxLength {
		maxLength = opts.MaxLength
	}

	b := h.Bundle()
	hidden, err := e.encode(b, img)
	if err != nil {
		return nil, err
	}

	res, err := e.decode(ctx, b, hidden, maxLength)
	if err != nil {
		return nil, err
	}

	text, err := e.post.Process(res.Raw, opts.Options)
	if err != nil {
		return nil, err
	}
	res.Text = text
	res.ModelVersion = h.Version()
	res.Duration = time.Since(start)

	e.logger.Debug("Recognition finished",
		zap.Uint64("model_version", res.ModelVersion),
		zap.Int("steps", res.Steps),
		zap.String("termination", string(res.Termination)),
		zap.Duration("elapsed", res.Duration))
	return res, nil
}

func (e *Engine) encode(b *model.Bundle, img image.Image) (backend.NamedTensor, error) {
	const op = "encode"
	padded := imageprep.Pad(img, e.cfg.ImageSize, e.cfg.ImageSize)
	pixels := b.Features.Extract(padded)

	outputs, err := b.Encoder.Run([]backend.NamedTensor{{
		Name:  b.EncoderIO.PixelValues,
		Shape: b.Features.Shape(),
		Data:  pixels,
	}})
	if err != nil {
		return backend.NamedTensor{}, errdefs.New(errdefs.KindInferenceFailure, op, err)
	}
	if b.EncoderIO.HiddenState >= len(outputs) {
		return backend.NamedTensor{}, errdefs.Newf(errdefs.KindInferenceFailure, op,
			"encoder returned %d outputs, hidden state is output %d", len(outputs), b.EncoderIO.HiddenState)
	}
	hidden := outputs[b.EncoderIO.HiddenState]
	if _, err := hidden.Float32(); err != nil {
		return backend.NamedTensor{}, errdefs.New(errdefs.KindInferenceFailure, op, err)
	}
	if len(hidden.Shape) != 3 {
		return backend.NamedTensor{}, errdefs.Newf(errdefs.KindInferenceFailure, op,
			"encoder hidden state has shape %v, want [batch seq hidden]", hidden.Shape)
	}
	hidden.Name = b.DecoderIO.EncoderHidden
	return hidden, nil
}

// decode runs the greedy loop. After each step it checks, in order, for
// repetition, end of sequence and the length cap.
func (e *Engine) decode(ctx context.Context, b *model.Bundle, hidden backend.NamedTensor, maxLength int) (*Result, error) {
	const op = "decode"
	dio := b.DecoderIO
	tok := b.Tokenizer

	seed := tok.Seed(e.cfg.SeedFromEncode)
	cache := NewCache(dio.Slots(), dio.Arch, len(seed)+maxLength)
	useCache := []bool{true}

	res := &Result{Tokens: make([]int64, 0, maxLength)}
	var text []rune
	ids := seed
	for step := 0; step < maxLength; step++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("decode step %d: %w", step, err)
		}

		inputs := make([]backend.NamedTensor, 0, 3+dio.Slots())
		inputs = append(inputs,
			backend.NamedTensor{Name: dio.InputIDs, Shape: []int64{1, int64(len(ids))}, Data: ids},
			hidden,
		)
		if dio.UseCacheBranch != "" {
			inputs = append(inputs, backend.NamedTensor{Name: dio.UseCacheBranch, Shape: []int64{1}, Data: useCache})
		}
		shape := cache.Shape()
		for slot, name := range dio.Past {
			inputs = append(inputs, backend.NamedTensor{Name: name, Shape: shape, Data: cache.View(slot)})
		}

		outputs, err := b.Decoder.Run(inputs)
		if err != nil {
			return nil, errdefs.New(errdefs.KindInferenceFailure, op, fmt.Errorf("step %d: %w", step, err))
		}
		next, err := nextToken(outputs, dio.Logits)
		if err != nil {
			return nil, errdefs.New(errdefs.KindInferenceFailure, op, fmt.Errorf("step %d: %w", step, err))
		}

		want := cache.Len() + len(ids)
		present := make([]backend.NamedTensor, dio.Slots())
		for slot, idx := range dio.Present {
			if idx >= len(outputs) {
				return nil, errdefs.Newf(errdefs.KindInferenceFailure, op, "step %d: decoder returned %d outputs, want index %d", step, len(outputs), idx)
			}
			present[slot] = outputs[idx]
		}
		if err := cache.Replace(present); err != nil {
			return nil, errdefs.New(errdefs.KindInferenceFailure, op, fmt.Errorf("step %d: %w", step, err))
		}
		if cache.Len() != want {
			return nil, errdefs.Newf(errdefs.KindInferenceFailure, op, "step %d: cache length %d, want %d", step, cache.Len(), want)
		}

		res.Tokens = append(res.Tokens, next)
		res.Steps = step + 1
		text = append(text, []rune(tok.DecodeToken(next))...)

		if repetition.DetectRunes(text, e.cfg.RepetitionThreshold) {
			res.Termination = constants.TerminationRepetition
			break
		}
		if next == tok.EOS() {
			res.Termination = constants.TerminationEOS
			break
		}
		if step+1 == maxLength {
			res.Termination = constants.TerminationMaxLength
			break
		}
		ids = []int64{next}
	}

	res.Raw = string(text)
	return res, nil
}

// nextToken picks the most likely token at the last position of the logits
// output.
func nextToken(outputs []backend.NamedTensor, index int) (int64, error) {
	if index >= len(outputs) {
		return 0, fmt.Errorf("decoder returned %d outputs, logits is output %d", len(outputs), index)
	}
	logits := outputs[index]
	data, err := logits.Float32()
	if err != nil {
		return 0, err
	}
	if len(logits.Shape) == 0 {
		return 0, errors.New("logits tensor has no shape")
	}
	vocab := int(logits.Shape[len(logits.Shape)-1])
	if vocab <= 0 || len(data) < vocab || len(data)%vocab != 0 {
		return 0, fmt.Errorf("logits tensor has shape %v and %d values", logits.Shape, len(data))
	}
	return int64(Argmax(data[len(data)-vocab:])), nil
}

// Argmax returns the index of the largest value. Ties go to the lowest
// index; an empty slice yields -1.
func Argmax(values []float32) int {
	if len(values) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := values[0]
	for i, v := range values[1:] {
		if v > maxVal {
			maxVal = v
			maxIdx = i + 1
		}
	}
	return maxIdx
}
