package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kennethnrk/mixtex-ocr/internal/backend"
	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
)

type closeCounter struct {
	closed atomic.Int32
}

func (s *closeCounter) Run([]backend.NamedTensor) ([]backend.NamedTensor, error) { return nil, nil }
func (s *closeCounter) InputInfo() []backend.TensorInfo                           { return nil }
func (s *closeCounter) OutputInfo() []backend.TensorInfo                          { return nil }
func (s *closeCounter) Close() error {
	s.closed.Add(1)
	return nil
}

func decoderIO(layers int, namedOutputs bool) ([]backend.TensorInfo, []backend.TensorInfo) {
	inputs := []backend.TensorInfo{
		{Name: "input_ids", Shape: []int64{-1, -1}, DataType: backend.DataTypeInt64},
		{Name: "encoder_hidden_states", Shape: []int64{-1, -1, 768}, DataType: backend.DataTypeFloat32},
	}
	outputs := []backend.TensorInfo{{Name: "logits"}}
	for i := 0; i < layers; i++ {
		for _, kind := range []string{"key", "value"} {
			inputs = append(inputs, backend.TensorInfo{
				Name:  fmt.Sprintf("past_key_values.%d.%s", i, kind),
				Shape: []int64{-1, 12, -1, 64},
			})
			name := fmt.Sprintf("present.%d.%s", i, kind)
			if !namedOutputs {
				name = fmt.Sprintf("output_%d", len(outputs))
			}
			outputs = append(outputs, backend.TensorInfo{Name: name})
		}
	}
	inputs = append(inputs, backend.TensorInfo{Name: "use_cache_branch", Shape: []int64{1}, DataType: backend.DataTypeBool})
	return inputs, outputs
}

func TestResolveDecoderNamed(t *testing.T) {
	inputs, outputs := decoderIO(6, true)
	// Shuffle output order so name lookup matters.
	outputs[1], outputs[2] = outputs[2], outputs[1]

	b, err := ResolveDecoder(inputs, outputs, Architecture{Hidden: 768})
	require.NoError(t, err)

	assert.Equal(t, 6, b.Arch.Layers)
	assert.Equal(t, 12, b.Arch.Heads)
	assert.Equal(t, 64, b.Arch.HeadDim)
	assert.Equal(t, 12, b.Slots())
	assert.Equal(t, 0, b.Logits)
	assert.Equal(t, "use_cache_branch", b.UseCacheBranch)
	assert.Equal(t, "past_key_values.0.key", b.Past[CacheKey{0, KVKey}.Slot()])
	assert.Equal(t, "past_key_values.5.value", b.Past[CacheKey{5, KVValue}.Slot()])
	assert.Equal(t, 2, b.Present[CacheKey{0, KVKey}.Slot()])
	assert.Equal(t, 1, b.Present[CacheKey{0, KVValue}.Slot()])
	assert.Equal(t, 12, b.Present[CacheKey{5, KVValue}.Slot()])
}

func TestResolveDecoderPositionalFallback(t *testing.T) {
	inputs, outputs := decoderIO(2, false)
	b, err := ResolveDecoder(inputs, outputs, DefaultArchitecture)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, b.Present)
	assert.Equal(t, 0, b.Logits)
}

func TestResolveDecoderErrors(t *testing.T) {
	inputs, outputs := decoderIO(2, true)

	_, err := ResolveDecoder(inputs[1:], outputs, DefaultArchitecture)
	assert.ErrorContains(t, err, "input_ids")

	// drop past_key_values.1.value
	var missing []backend.TensorInfo
	for _, in := range inputs {
		if in.Name != "past_key_values.1.value" {
			missing = append(missing, in)
		}
	}
	_, err = ResolveDecoder(missing, outputs, DefaultArchitecture)
	assert.Error(t, err)

	_, err = ResolveDecoder(inputs, outputs[:2], DefaultArchitecture)
	assert.Error(t, err)
}

func TestSlotRoundTrip(t *testing.T) {
	for slot := 0; slot < 12; slot++ {
		assert.Equal(t, slot, KeyForSlot(slot).Slot())
	}
	assert.Equal(t, CacheKey{Layer: 3, Kind: KVValue}, KeyForSlot(7))
	assert.Equal(t, "value", KVValue.String())
}

func TestResolveEncoder(t *testing.T) {
	b, err := ResolveEncoder(
		[]backend.TensorInfo{{Name: "pixel_values"}},
		[]backend.TensorInfo{{Name: "pooler_output"}, {Name: "last_hidden_state"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "pixel_values", b.PixelValues)
	assert.Equal(t, 1, b.HiddenState)

	_, err = ResolveEncoder(nil, nil)
	assert.Error(t, err)
}

func TestParseModelConfigNestedDecoder(t *testing.T) {
	cfg, err := ParseModelConfig([]byte(`{
		"decoder_start_token_id": 0,
		"eos_token_id": 2,
		"pad_token_id": 1,
		"decoder": {"num_hidden_layers": 3, "num_attention_heads": 8, "hidden_size": 512}
	}`))
	require.NoError(t, err)
	assert.Equal(t, Architecture{Layers: 3, Heads: 8, HeadDim: 64, Hidden: 512}, cfg.Arch)
	assert.Equal(t, int64(0), cfg.Specials.BOS)
	assert.Equal(t, int64(2), cfg.Specials.EOS)
	assert.Contains(t, cfg.Specials.Suppressed, int64(1))
}

func TestLoadModelConfigDefaults(t *testing.T) {
	cfg, err := LoadModelConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultArchitecture, cfg.Arch)
}

func writeArtifacts(t *testing.T, dir string) {
	t.Helper()
	for _, name := range constants.RequiredModelFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
}

func TestValidateDir(t *testing.T) {
	dir := t.TempDir()

	err := ValidateDir(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrModelNotLoaded)
	assert.ErrorContains(t, err, constants.EncoderModelFile)

	writeArtifacts(t, dir)
	assert.NoError(t, ValidateDir(dir))

	assert.ErrorIs(t, ValidateDir(filepath.Join(dir, "nope")), errdefs.ErrModelNotLoaded)
}

func TestFingerprintChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir)

	a, err := Fingerprint(dir)
	require.NoError(t, err)
	b, err := Fingerprint(dir)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.NoError(t, os.WriteFile(filepath.Join(dir, constants.VocabFile), []byte("a larger vocabulary"), 0o644))
	c, err := Fingerprint(dir)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

type countingLoader struct {
	mu       sync.Mutex
	sessions []*closeCounter
	fail     error
}

func (l *countingLoader) Load(context.Context) (*Bundle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	enc, dec := &closeCounter{}, &closeCounter{}
	l.sessions = append(l.sessions, enc, dec)
	return &Bundle{Dir: fmt.Sprintf("v%d", len(l.sessions)/2), Encoder: enc, Decoder: dec}, nil
}

func TestCoordinatorAcquireBeforeLoad(t *testing.T) {
	c := NewCoordinator(&countingLoader{}, zaptest.NewLogger(t))
	_, err := c.Acquire()
	assert.ErrorIs(t, err, errdefs.ErrModelNotLoaded)
	assert.False(t, c.Status().Loaded())
	assert.Equal(t, constants.ModelStatusNotLoaded, c.Status().State)
}

func TestCoordinatorReloadKeepsInFlightHandle(t *testing.T) {
	loader := &countingLoader{}
	c := NewCoordinator(loader, zaptest.NewLogger(t))

	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	h1, err := c.Acquire()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h1.Version())

	status, err := c.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), status.Version)

	// the old handle stays open while pinned
	assert.Equal(t, int32(0), loader.sessions[0].closed.Load())
	h2, err := c.Acquire()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h2.Version())
	assert.Equal(t, "v1", h1.Bundle().Dir)

	h1.Release()
	<-h1.Closed()
	assert.Equal(t, int32(1), loader.sessions[0].closed.Load())
	assert.Equal(t, int32(1), loader.sessions[1].closed.Load())

	h2.Release()
	assert.Equal(t, int32(0), loader.sessions[2].closed.Load())
}

func TestCoordinatorFailedReloadKeepsCurrent(t *testing.T) {
	loader := &countingLoader{}
	c := NewCoordinator(loader, zaptest.NewLogger(t))
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	loader.fail = errors.New("corrupt decoder")
	status, err := c.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(1), status.Version)
	assert.True(t, status.Loaded())
	assert.Equal(t, "corrupt decoder", status.LastError)

	h, err := c.Acquire()
	require.NoError(t, err)
	h.Release()
}

func TestCoordinatorUnloadAndListeners(t *testing.T) {
	var states []constants.ModelStatus
	c := NewCoordinator(&countingLoader{}, zaptest.NewLogger(t))
	c.OnChange(func(s Status) { states = append(states, s.State) })

	_, err := c.Reload(context.Background())
	require.NoError(t, err)
	c.Unload()

	assert.Equal(t, []constants.ModelStatus{
		constants.ModelStatusLoading,
		constants.ModelStatusLoaded,
		constants.ModelStatusNotLoaded,
	}, states)
	_, err = c.Acquire()
	assert.ErrorIs(t, err, errdefs.ErrModelNotLoaded)
}

func TestCoordinatorConcurrentAcquireDuringReload(t *testing.T) {
	loader := &countingLoader{}
	c := NewCoordinator(loader, zaptest.NewLogger(t))
	_, err := c.Reload(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h, err := c.Acquire()
				if !assert.NoError(t, err) {
					return
				}
				// a pinned handle is never closed underneath us
				select {
				case <-h.Closed():
					t.Error("acquired a closed handle")
				default:
				}
				h.Release()
			}
		}()
	}
	for i := 0; i < 10; i++ {
		_, err := c.Reload(context.Background())
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, uint64(11), c.Status().Version)
}
