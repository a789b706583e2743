// Package inferencetest provides a scripted in-memory model for tests of
// code built on top of the inference engine.
package inferencetest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/backend"
	"github.com/kennethnrk/mixtex-ocr/internal/features"
	"github.com/kennethnrk/mixtex-ocr/internal/model"
	"github.com/kennethnrk/mixtex-ocr/internal/tokenizer"
)

const eos = 2

var specials = []string{"<s>", "<pad>", "</s>", "<unk>"}

// Script is what the fake decoder emits: one vocabulary entry per step,
// then end of sequence.
type Script struct {
	Tokens []string
	// StepDelay is slept before every decoder step.
	StepDelay time.Duration
	// Gate, when set, is received from before the first decoder step.
	Gate <-chan struct{}
}

type codec struct{ vocab []string }

func (c codec) Encode(string) []int { return []int{0} }

func (c codec) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(c.vocab[id])
	}
	return b.String()
}

// NewBundle builds a model bundle whose decoder follows script.
func NewBundle(script Script) (*model.Bundle, error) {
	vocab := append([]string{}, specials...)
	ids := make([]int64, len(script.Tokens))
	for i, tok := range script.Tokens {
		ids[i] = int64(len(vocab))
		vocab = append(vocab, tok)
	}

	enc := encoder{}
	dec := &decoder{script: script, ids: ids, vocab: len(vocab)}
	encIO, err := model.ResolveEncoder(enc.InputInfo(), enc.OutputInfo())
	if err != nil {
		return nil, err
	}
	decIO, err := model.ResolveDecoder(dec.InputInfo(), dec.OutputInfo(), model.Architecture{Layers: 1, Heads: 1, HeadDim: 1, Hidden: 1})
	if err != nil {
		return nil, err
	}
	return &model.Bundle{
		Dir:         "scripted",
		Fingerprint: "scripted",
		Tokenizer:   tokenizer.New(codec{vocab: vocab}, tokenizer.RobertaSpecials),
		Features:    features.New(features.DefaultConfig()),
		Encoder:     enc,
		Decoder:     dec,
		EncoderIO:   encIO,
		DecoderIO:   decIO,
	}, nil
}

// Loader returns a model.Loader producing scripted bundles.
func Loader(script Script) model.Loader {
	return model.LoaderFunc(func(context.Context) (*model.Bundle, error) {
		return NewBundle(script)
	})
}

// NewCoordinator returns a coordinator with a scripted model already
// loaded.
func NewCoordinator(ctx context.Context, script Script, logger *zap.Logger) (*model.Coordinator, error) {
	c := model.NewCoordinator(Loader(script), logger)
	if _, err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Image returns a small black image.
func Image() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.Black)
		}
	}
	return img
}

type encoder struct{}

func (encoder) Run([]backend.NamedTensor) ([]backend.NamedTensor, error) {
	return []backend.NamedTensor{{Name: "last_hidden_state", Shape: []int64{1, 1, 1}, Data: []float32{0}}}, nil
}

func (encoder) InputInfo() []backend.TensorInfo {
	return []backend.TensorInfo{{Name: "pixel_values", Shape: []int64{-1, 3, 448, 448}}}
}

func (encoder) OutputInfo() []backend.TensorInfo {
	return []backend.TensorInfo{{Name: "last_hidden_state"}}
}

func (encoder) Close() error { return nil }

type decoder struct {
	script Script
	ids    []int64
	vocab  int
}

func (d *decoder) Run(inputs []backend.NamedTensor) ([]backend.NamedTensor, error) {
	in, ok := backend.Find(inputs, "input_ids")
	if !ok {
		return nil, errors.New("missing input_ids")
	}
	past, ok := backend.Find(inputs, "past_key_values.0.key")
	if !ok {
		return nil, errors.New("missing past_key_values.0.key")
	}
	step := int(past.Shape[2])
	if step == 0 && d.script.Gate != nil {
		<-d.script.Gate
	}
	if d.script.StepDelay > 0 {
		time.Sleep(d.script.StepDelay)
	}

	next := int64(eos)
	if step < len(d.ids) {
		next = d.ids[step]
	}
	n := len(in.Data.([]int64))
	logits := make([]float32, n*d.vocab)
	logits[(n-1)*d.vocab+int(next)] = 1

	length := step + n
	outputs := []backend.NamedTensor{{Name: "logits", Shape: []int64{1, int64(n), int64(d.vocab)}, Data: logits}}
	for _, kind := range []string{"key", "value"} {
		outputs = append(outputs, backend.NamedTensor{
			Name:  fmt.Sprintf("present.0.%s", kind),
			Shape: []int64{1, 1, int64(length), 1},
			Data:  make([]float32, length),
		})
	}
	return outputs, nil
}

func (d *decoder) InputInfo() []backend.TensorInfo {
	return []backend.TensorInfo{
		{Name: "input_ids", Shape: []int64{-1, -1}, DataType: backend.DataTypeInt64},
		{Name: "encoder_hidden_states", Shape: []int64{-1, -1, 1}, DataType: backend.DataTypeFloat32},
		{Name: "use_cache_branch", Shape: []int64{1}, DataType: backend.DataTypeBool},
		{Name: "past_key_values.0.key", Shape: []int64{-1, 1, -1, 1}, DataType: backend.DataTypeFloat32},
		{Name: "past_key_values.0.value", Shape: []int64{-1, 1, -1, 1}, DataType: backend.DataTypeFloat32},
	}
}

func (d *decoder) OutputInfo() []backend.TensorInfo {
	return []backend.TensorInfo{{Name: "logits"}, {Name: "present.0.key"}, {Name: "present.0.value"}}
}

func (d *decoder) Close() error { return nil }
