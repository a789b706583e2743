// Package features turns a prepared canvas into the normalized NCHW float32
// tensor consumed by the vision encoder, following the model's
// preprocessor_config.json.
package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/kennethnrk/mixtex-ocr/internal/common/constants"
	"github.com/kennethnrk/mixtex-ocr/internal/imageprep"
)

// Config mirrors the fields of a ViT image processor that affect the
// tensor values.
type Config struct {
	Width         int
	Height        int
	DoResize      bool
	DoRescale     bool
	RescaleFactor float32
	DoNormalize   bool
	Mean          [3]float32
	Std           [3]float32
}

// DefaultConfig is the ViT processor default at the encoder's resolution.
func DefaultConfig() Config {
	return Config{
		Width:         imageprep.DefaultSize,
		Height:        imageprep.DefaultSize,
		DoResize:      true,
		DoRescale:     true,
		RescaleFactor: 1.0 / 255.0,
		DoNormalize:   true,
		Mean:          [3]float32{0.5, 0.5, 0.5},
		Std:           [3]float32{0.5, 0.5, 0.5},
	}
}

type rawConfig struct {
	DoResize      *bool     `json:"do_resize"`
	DoRescale     *bool     `json:"do_rescale"`
	RescaleFactor *float32  `json:"rescale_factor"`
	DoNormalize   *bool     `json:"do_normalize"`
	ImageMean     []float32 `json:"image_mean"`
	ImageStd      []float32 `json:"image_std"`
	Size          any       `json:"size"`
}

// LoadConfig reads preprocessor_config.json from dir. A missing file yields
// DefaultConfig.
func LoadConfig(dir string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(filepath.Join(dir, constants.PreprocessorConfig))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read preprocessor config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses the contents of a preprocessor_config.json.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse preprocessor config: %w", err)
	}

	if raw.DoResize != nil {
		cfg.DoResize = *raw.DoResize
	}
	if raw.DoRescale != nil {
		cfg.DoRescale = *raw.DoRescale
	}
	if raw.RescaleFactor != nil && *raw.RescaleFactor > 0 {
		cfg.RescaleFactor = *raw.RescaleFactor
	}
	if raw.DoNormalize != nil {
		cfg.DoNormalize = *raw.DoNormalize
	}
	if len(raw.ImageMean) == 3 {
		copy(cfg.Mean[:], raw.ImageMean)
	}
	if len(raw.ImageStd) == 3 {
		copy(cfg.Std[:], raw.ImageStd)
	}
	if w, h := parseSize(raw.Size); w > 0 && h > 0 {
		cfg.Width, cfg.Height = w, h
	}

	for i, s := range cfg.Std {
		if s == 0 {
			return cfg, fmt.Errorf("parse preprocessor config: image_std[%d] is zero", i)
		}
	}
	return cfg, nil
}

// parseSize accepts 448, {"height": 448, "width": 448} or
// {"shortest_edge": 448}.
func parseSize(v any) (int, int) {
	switch val := v.(type) {
	case float64:
		return int(val), int(val)
	case map[string]any:
		h, _ := val["height"].(float64)
		w, _ := val["width"].(float64)
		if h > 0 && w > 0 {
			return int(w), int(h)
		}
		if s, ok := val["shortest_edge"].(float64); ok && s > 0 {
			return int(s), int(s)
		}
	}
	return 0, 0
}

// Extractor converts images into encoder input tensors.
type Extractor struct {
	cfg Config
}

func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

func (e *Extractor) Config() Config { return e.cfg }

// Shape is the tensor shape Extract produces.
func (e *Extractor) Shape() []int64 {
	return []int64{1, 3, int64(e.cfg.Height), int64(e.cfg.Width)}
}

// Extract returns img as a [1,3,H,W] float32 tensor in channel-major order.
func (e *Extractor) Extract(img image.Image) []float32 {
	rgba := e.toRGBA(img)
	w, h := e.cfg.Width, e.cfg.Height
	plane := w * h
	out := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			idx := y*w + x
			for c := 0; c < 3; c++ {
				out[c*plane+idx] = e.scale(float32(p[c]), c)
			}
		}
	}
	return out
}

func (e *Extractor) scale(v float32, channel int) float32 {
	if e.cfg.DoRescale {
		v *= e.cfg.RescaleFactor
	}
	if e.cfg.DoNormalize {
		v = (v - e.cfg.Mean[channel]) / e.cfg.Std[channel]
	}
	return v
}

// toRGBA returns a zero-origin RGBA image of the configured size, resizing
// bilinearly when the input differs and resizing is enabled.
func (e *Extractor) toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && b.Dx() == e.cfg.Width && b.Dy() == e.cfg.Height {
		return rgba
	}

	dst := image.NewRGBA(image.Rect(0, 0, e.cfg.Width, e.cfg.Height))
	if e.cfg.DoResize && (b.Dx() != e.cfg.Width || b.Dy() != e.cfg.Height) {
		draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
