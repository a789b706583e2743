package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kennethnrk/mixtex-ocr/internal/backend"
	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
	"github.com/kennethnrk/mixtex-ocr/internal/features"
	"github.com/kennethnrk/mixtex-ocr/internal/tokenizer"
)

// Bundle is everything one inference needs. It is immutable once built.
type Bundle struct {
	Dir         string
	Fingerprint string
	Tokenizer   *tokenizer.Tokenizer
	Features    *features.Extractor
	Encoder     backend.Session
	Decoder     backend.Session
	EncoderIO   EncoderBindings
	DecoderIO   DecoderBindings
}

// Close releases both sessions.
func (b *Bundle) Close() error {
	var errs []error
	if b.Encoder != nil {
		errs = append(errs, b.Encoder.Close())
	}
	if b.Decoder != nil {
		errs = append(errs, b.Decoder.Close())
	}
	return errors.Join(errs...)
}

// Loader builds a fresh Bundle.
type Loader interface {
	Load(ctx context.Context) (*Bundle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (*Bundle, error)

func (f LoaderFunc) Load(ctx context.Context) (*Bundle, error) { return f(ctx) }

// ValidateDir checks that dir holds every required model artifact. A
// missing directory or file is reported as errdefs.KindModelNotLoaded.
func ValidateDir(dir string) error {
	const op = "validate model dir"
	info, err := os.Stat(dir)
	if err != nil {
		return errdefs.New(errdefs.KindModelNotLoaded, op, err)
	}
	if !info.IsDir() {
		return errdefs.Newf(errdefs.KindModelNotLoaded, op, "%s is not a directory", dir)
	}

	var missing []string
	for _, name := range constants.RequiredModelFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errdefs.Newf(errdefs.KindModelNotLoaded, op, "%s is missing %s", dir, strings.Join(missing, ", "))
	}
	return nil
}

// Fingerprint summarises the size and modification time of every required
// artifact. It changes whenever a file is replaced.
func Fingerprint(dir string) (string, error) {
	h := sha256.New()
	for _, name := range constants.RequiredModelFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", name, err)
		}
		fmt.Fprintf(h, "%s:%d:%d\n", name, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// DirLoader loads a bundle from a model directory through a session
// factory.
type DirLoader struct {
	Dir            string
	Factory        backend.SessionFactory
	SessionOptions []backend.SessionOption
	Logger         *zap.Logger
}

func (l *DirLoader) Load(ctx context.Context) (*Bundle, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateDir(l.Dir); err != nil {
		return nil, err
	}
	fingerprint, err := Fingerprint(l.Dir)
	if err != nil {
		return nil, err
	}

	modelCfg, err := LoadModelConfig(l.Dir)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.Load(l.Dir, modelCfg.Specials)
	if err != nil {
		return nil, err
	}
	featCfg, err := features.LoadConfig(l.Dir)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encoder, err := l.Factory.CreateSession(filepath.Join(l.Dir, constants.EncoderModelFile), l.SessionOptions...)
	if err != nil {
		return nil, fmt.Errorf("load encoder: %w", err)
	}
	decoder, err := l.Factory.CreateSession(filepath.Join(l.Dir, constants.DecoderModelFile), l.SessionOptions...)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("load decoder: %w", err)
	}

	b := &Bundle{
		Dir:         l.Dir,
		Fingerprint: fingerprint,
		Tokenizer:   tok,
		Features:    features.New(featCfg),
		Encoder:     encoder,
		Decoder:     decoder,
	}
	if b.EncoderIO, err = ResolveEncoder(encoder.InputInfo(), encoder.OutputInfo()); err != nil {
		_ = b.Close()
		return nil, err
	}
	if b.DecoderIO, err = ResolveDecoder(decoder.InputInfo(), decoder.OutputInfo(), modelCfg.Arch); err != nil {
		_ = b.Close()
		return nil, err
	}

	logger.Info("Model bundle loaded",
		zap.String("dir", l.Dir),
		zap.String("fingerprint", fingerprint),
		zap.Int("decoder_layers", b.DecoderIO.Arch.Layers),
		zap.Int("heads", b.DecoderIO.Arch.Heads),
		zap.Int("head_dim", b.DecoderIO.Arch.HeadDim),
		zap.Int64("bos", tok.BOS()),
		zap.Int64("eos", tok.EOS()))
	return b, nil
}
