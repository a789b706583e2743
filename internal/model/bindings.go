package model

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/kennethnrk/mixtex-ocr/internal/backend"
)

// KVKind distinguishes the two cached attention tensors of a layer.
type KVKind uint8

const (
	KVKey KVKind = iota
	KVValue
)

func (k KVKind) String() string {
	if k == KVValue {
		return "value"
	}
	return "key"
}

// CacheKey addresses one cached tensor.
type CacheKey struct {
	Layer int
	Kind  KVKind
}

// Slot is the key's index in a layer-major table of 2*layers entries.
func (k CacheKey) Slot() int { return k.Layer*2 + int(k.Kind) }

// KeyForSlot is the inverse of Slot.
func KeyForSlot(slot int) CacheKey {
	return CacheKey{Layer: slot / 2, Kind: KVKind(slot % 2)}
}

// Architecture is the decoder attention geometry.
type Architecture struct {
	Layers  int
	Heads   int
	HeadDim int
	Hidden  int
}

// DefaultArchitecture is the MixTeX decoder: 6 layers of 12 heads x 64.
var DefaultArchitecture = Architecture{Layers: 6, Heads: 12, HeadDim: 64, Hidden: 768}

// EncoderBindings names the encoder graph's image input and hidden state
// output.
type EncoderBindings struct {
	PixelValues string
	HiddenState int
}

// DecoderBindings maps the decoder graph's tensor names onto typed cache
// slots. It is resolved once when a model loads; the decode loop only uses
// slot indices.
type DecoderBindings struct {
	InputIDs      string
	EncoderHidden string
	// UseCacheBranch is empty when the graph has no such input.
	UseCacheBranch string
	Logits         int
	// Past[slot] is the input name, Present[slot] the output index.
	Past    []string
	Present []int
	Arch    Architecture
}

func (b DecoderBindings) Slots() int { return len(b.Past) }

var (
	pastPattern    = regexp.MustCompile(`^past_key_values\.(\d+)\.(key|value)$`)
	presentPattern = regexp.MustCompile(`^present\.(\d+)\.(key|value)$`)
)

// ResolveEncoder picks the encoder's image input and hidden state output.
func ResolveEncoder(inputs, outputs []backend.TensorInfo) (EncoderBindings, error) {
	if len(inputs) == 0 || len(outputs) == 0 {
		return EncoderBindings{}, fmt.Errorf("encoder graph has %d inputs and %d outputs", len(inputs), len(outputs))
	}
	b := EncoderBindings{PixelValues: inputs[0].Name}
	for _, in := range inputs {
		if in.Name == "pixel_values" {
			b.PixelValues = in.Name
		}
	}
	for i, out := range outputs {
		if out.Name == "last_hidden_state" {
			b.HiddenState = i
		}
	}
	return b, nil
}

// ResolveDecoder builds the slot table for a merged decoder graph. Output
// names of the form present.{i}.{key|value} are preferred; graphs with
// other output names fall back to the positional layout
// [logits, present.0.key, present.0.value, ...]. Head geometry comes from
// the past_key_values input shapes when they are static and from fallback
// otherwise.
func ResolveDecoder(inputs, outputs []backend.TensorInfo, fallback Architecture) (DecoderBindings, error) {
	b := DecoderBindings{Logits: -1, Arch: fallback}

	past := map[CacheKey]backend.TensorInfo{}
	for _, in := range inputs {
		switch in.Name {
		case "input_ids":
			b.InputIDs = in.Name
		case "encoder_hidden_states":
			b.EncoderHidden = in.Name
		case "use_cache_branch":
			b.UseCacheBranch = in.Name
		default:
			if key, ok := parseCacheName(pastPattern, in.Name); ok {
				past[key] = in
			}
		}
	}
	if b.InputIDs == "" {
		return b, fmt.Errorf("decoder graph has no input_ids input")
	}
	if b.EncoderHidden == "" {
		return b, fmt.Errorf("decoder graph has no encoder_hidden_states input")
	}

	layers := len(past) / 2
	if layers == 0 || len(past)%2 != 0 {
		return b, fmt.Errorf("decoder graph has %d past_key_values inputs, want key and value per layer", len(past))
	}
	b.Arch.Layers = layers
	b.Past = make([]string, 2*layers)
	for key, info := range past {
		if key.Layer >= layers {
			return b, fmt.Errorf("past_key_values layers are not contiguous: found layer %d of %d", key.Layer, layers)
		}
		b.Past[key.Slot()] = info.Name
		if len(info.Shape) == 4 {
			if info.Shape[1] > 0 {
				b.Arch.Heads = int(info.Shape[1])
			}
			if info.Shape[3] > 0 {
				b.Arch.HeadDim = int(info.Shape[3])
			}
		}
	}
	for slot, name := range b.Past {
		if name == "" {
			return b, fmt.Errorf("decoder graph is missing past_key_values for %v", KeyForSlot(slot))
		}
	}

	b.Present = make([]int, 2*layers)
	for i := range b.Present {
		b.Present[i] = -1
	}
	named := 0
	for i, out := range outputs {
		if out.Name == "logits" {
			b.Logits = i
			continue
		}
		if key, ok := parseCacheName(presentPattern, out.Name); ok && key.Layer < layers {
			b.Present[key.Slot()] = i
			named++
		}
	}

	if named != 2*layers {
		if len(outputs) < 1+2*layers {
			return b, fmt.Errorf("decoder graph has %d outputs, want logits plus %d present tensors", len(outputs), 2*layers)
		}
		b.Logits = 0
		for slot := range b.Present {
			b.Present[slot] = slot + 1
		}
	}
	if b.Logits < 0 {
		b.Logits = 0
	}
	return b, nil
}

func parseCacheName(re *regexp.Regexp, name string) (CacheKey, bool) {
	m := re.FindStringSubmatch(name)
	if m == nil {
		return CacheKey{}, false
	}
	layer, err := strconv.Atoi(m[1])
	if err != nil {
		return CacheKey{}, false
	}
	kind := KVKey
	if m[2] == "value" {
		kind = KVValue
	}
	return CacheKey{Layer: layer, Kind: kind}, true
}
