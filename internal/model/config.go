package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/tokenizer"
)

// ModelConfig is the part of config.json the loader needs.
type ModelConfig struct {
	Arch     Architecture
	Specials tokenizer.Specials
}

type rawDecoderConfig struct {
	NumHiddenLayers   int    `json:"num_hidden_layers"`
	DecoderLayers     int    `json:"decoder_layers"`
	NumAttentionHeads int    `json:"num_attention_heads"`
	HiddenSize        int    `json:"hidden_size"`
	BOSTokenID        *int64 `json:"bos_token_id"`
	EOSTokenID        *int64 `json:"eos_token_id"`
	PadTokenID        *int64 `json:"pad_token_id"`
}

type rawModelConfig struct {
	rawDecoderConfig
	DecoderStartTokenID *int64            `json:"decoder_start_token_id"`
	Decoder             *rawDecoderConfig `json:"decoder"`
}

// LoadModelConfig reads config.json from dir. A missing file yields the
// MixTeX defaults.
func LoadModelConfig(dir string) (ModelConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, constants.ModelConfigFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ModelConfig{Arch: DefaultArchitecture, Specials: tokenizer.RobertaSpecials}, nil
		}
		return ModelConfig{}, fmt.Errorf("read model config: %w", err)
	}
	return ParseModelConfig(data)
}

// ParseModelConfig accepts either a flat decoder config or a
// vision-encoder-decoder config with a nested "decoder" section.
func ParseModelConfig(data []byte) (ModelConfig, error) {
	cfg := ModelConfig{Arch: DefaultArchitecture, Specials: tokenizer.RobertaSpecials}
	var raw rawModelConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse model config: %w", err)
	}

	dec := raw.rawDecoderConfig
	if raw.Decoder != nil {
		dec = *raw.Decoder
	}
	if n := firstPositive(dec.DecoderLayers, dec.NumHiddenLayers); n > 0 {
		cfg.Arch.Layers = n
	}
	if dec.NumAttentionHeads > 0 {
		cfg.Arch.Heads = dec.NumAttentionHeads
	}
	if dec.HiddenSize > 0 {
		cfg.Arch.Hidden = dec.HiddenSize
	}
	if cfg.Arch.Heads > 0 && cfg.Arch.Hidden%cfg.Arch.Heads == 0 {
		cfg.Arch.HeadDim = cfg.Arch.Hidden / cfg.Arch.Heads
	}

	sp := &cfg.Specials
	if id := firstID(raw.DecoderStartTokenID, dec.BOSTokenID, raw.BOSTokenID); id != nil {
		sp.BOS = *id
	}
	if id := firstID(dec.EOSTokenID, raw.EOSTokenID); id != nil {
		sp.EOS = *id
	}
	suppressed := []int64{sp.BOS, sp.EOS}
	if id := firstID(dec.PadTokenID, raw.PadTokenID); id != nil {
		suppressed = append(suppressed, *id)
	}
	sp.Suppressed = suppressed
	return cfg, nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstID(ids ...*int64) *int64 {
	for _, id := range ids {
		if id != nil {
			return id
		}
	}
	return nil
}
