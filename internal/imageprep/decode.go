package imageprep

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
)

// MaxPixels bounds the decoded size of a request image.
const MaxPixels = 40_000_000

// Decode decodes PNG, JPEG, GIF, BMP, TIFF or WebP bytes. Anything that is
// not a decodable image yields an errdefs.KindInvalidImageInput error.
func Decode(data []byte) (image.Image, error) {
	const op = "decode image"
	if len(data) == 0 {
		return nil, errdefs.New(errdefs.KindInvalidImageInput, op, errors.New("empty image data"))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errdefs.New(errdefs.KindInvalidImageInput, op, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errdefs.Newf(errdefs.KindInvalidImageInput, op, "invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, errdefs.Newf(errdefs.KindInvalidImageInput, op, "image too large: %dx%d", cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errdefs.New(errdefs.KindInvalidImageInput, op, err)
	}
	return img, nil
}

// DecodeBase64 decodes a base64 image, accepting either the raw payload or
// a data URL such as "data:image/png;base64,....".
func DecodeBase64(s string) (image.Image, error) {
	const op = "decode base64 image"
	payload := strings.TrimSpace(s)
	if strings.HasPrefix(payload, "data:image") {
		if i := strings.IndexByte(payload, ','); i >= 0 {
			payload = payload[i+1:]
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some clients strip the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, errdefs.New(errdefs.KindInvalidImageInput, op, err)
		}
	}
	return Decode(data)
}

// Load reads and decodes an image file.
func Load(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	return Decode(data)
}
