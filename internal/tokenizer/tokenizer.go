// Package tokenizer wraps a HuggingFace tokenizer with the special token
// bookkeeping the decode loop needs.
package tokenizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
)

// Codec is the encode/decode surface of a tokenizer.
type Codec interface {
	Encode(text string) []int
	Decode(ids []int) string
}

// Specials holds the ids the decode loop treats specially. Suppressed ids
// never contribute text.
type Specials struct {
	BOS        int64
	EOS        int64
	BOSText    string
	Suppressed []int64
}

// RobertaSpecials are the RoBERTa defaults used when neither the tokenizer
// nor the model config name the special tokens.
var RobertaSpecials = Specials{
	BOS:        0,
	EOS:        2,
	BOSText:    "<s>",
	Suppressed: []int64{0, 1, 2, 3},
}

type Tokenizer struct {
	codec      Codec
	bos        int64
	eos        int64
	bosText    string
	suppressed map[int64]struct{}
}

// New wraps codec. BOS and EOS are always suppressed.
func New(codec Codec, sp Specials) *Tokenizer {
	t := &Tokenizer{
		codec:      codec,
		bos:        sp.BOS,
		eos:        sp.EOS,
		bosText:    sp.BOSText,
		suppressed: make(map[int64]struct{}, len(sp.Suppressed)+2),
	}
	if t.bosText == "" {
		t.bosText = RobertaSpecials.BOSText
	}
	for _, id := range sp.Suppressed {
		t.suppressed[id] = struct{}{}
	}
	t.suppressed[sp.BOS] = struct{}{}
	t.suppressed[sp.EOS] = struct{}{}
	return t
}

func (t *Tokenizer) BOS() int64 { return t.bos }
func (t *Tokenizer) EOS() int64 { return t.eos }

func (t *Tokenizer) IsSpecial(id int64) bool {
	_, ok := t.suppressed[id]
	return ok
}

// Seed returns the ids fed to the decoder at step 0. By default that is the
// single beginning-of-sequence id; with fromEncode set it is whatever the
// tokenizer produces for the BOS text, falling back to the BOS id when the
// encoding is empty.
func (t *Tokenizer) Seed(fromEncode bool) []int64 {
	if fromEncode {
		ids := t.codec.Encode(t.bosText)
		if len(ids) > 0 {
			out := make([]int64, len(ids))
			for i, id := range ids {
				out[i] = int64(id)
			}
			return out
		}
	}
	return []int64{t.bos}
}

// DecodeToken returns the text of a single token, or "" for special tokens.
func (t *Tokenizer) DecodeToken(id int64) string {
	if t.IsSpecial(id) {
		return ""
	}
	return t.codec.Decode([]int{int(id)})
}

// Decode returns the text of ids with special tokens removed.
func (t *Tokenizer) Decode(ids []int64) string {
	keep := make([]int, 0, len(ids))
	for _, id := range ids {
		if !t.IsSpecial(id) {
			keep = append(keep, int(id))
		}
	}
	return t.codec.Decode(keep)
}

// Load reads tokenizer.json (and tokenizer_config.json when present) from
// dir. Special ids the tokenizer does not know fall back to defaults.
func Load(dir string, defaults Specials) (*Tokenizer, error) {
	var config *api.Config
	configPath := filepath.Join(dir, constants.TokenizerConfigFile)
	if _, err := os.Stat(configPath); err == nil {
		content, err := normalizeConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("normalize tokenizer config: %w", err)
		}
		config, err = api.ParseConfigContent(content)
		if err != nil {
			return nil, fmt.Errorf("parse tokenizer config: %w", err)
		}
		config.ConfigFile = configPath
	}

	tok, err := hftokenizer.NewFromFile(config, filepath.Join(dir, constants.TokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer.json: %w", err)
	}
	return New(tok, resolveSpecials(tok, defaults)), nil
}

func resolveSpecials(tok tokenizers.Tokenizer, defaults Specials) Specials {
	sp := defaults
	if id, err := tok.SpecialTokenID(api.TokBeginningOfSentence); err == nil {
		sp.BOS = int64(id)
	}
	if id, err := tok.SpecialTokenID(api.TokEndOfSentence); err == nil {
		sp.EOS = int64(id)
	}

	suppressed := append([]int64(nil), defaults.Suppressed...)
	for _, special := range []api.SpecialToken{
		api.TokBeginningOfSentence,
		api.TokEndOfSentence,
		api.TokPad,
		api.TokUnknown,
		api.TokMask,
		api.TokClassification,
	} {
		if id, err := tok.SpecialTokenID(special); err == nil {
			suppressed = append(suppressed, int64(id))
		}
	}
	sp.Suppressed = suppressed
	return sp
}

// normalizeConfig rewrites HuggingFace AddedToken objects such as
// {"__type": "AddedToken", "content": "<s>"} into plain strings.
func normalizeConfig(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, err
	}
	for _, field := range []string{
		"bos_token", "eos_token", "pad_token", "unk_token",
		"cls_token", "sep_token", "mask_token",
	} {
		v, ok := raw[field]
		if !ok {
			continue
		}
		if m, isMap := v.(map[string]any); isMap {
			text, _ := m["content"].(string)
			raw[field] = text
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(raw); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
