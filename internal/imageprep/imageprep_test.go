package imageprep

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func rgbAt(img *image.RGBA, x, y int) color.RGBA {
	return img.RGBAAt(x, y)
}

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.RGBA{R: 255, A: 255}
)

func TestPadCentersSmallImage(t *testing.T) {
	out := Pad(solid(100, 50, red), DefaultSize, DefaultSize)

	require.Equal(t, image.Rect(0, 0, 448, 448), out.Bounds())
	// offset ((448-100)/2, (448-50)/2) = (174, 199)
	assert.Equal(t, red, rgbAt(out, 174, 199))
	assert.Equal(t, red, rgbAt(out, 273, 248))
	assert.Equal(t, white, rgbAt(out, 173, 199))
	assert.Equal(t, white, rgbAt(out, 174, 198))
	assert.Equal(t, white, rgbAt(out, 274, 248))
	assert.Equal(t, white, rgbAt(out, 0, 0))
}

func TestPadOddSizesFloorOffset(t *testing.T) {
	assert.Equal(t, image.Rect(223, 222, 224, 225), Placement(1, 3, 448, 448))
}

func TestPadExactSizeIsIdentity(t *testing.T) {
	out := Pad(solid(448, 448, red), DefaultSize, DefaultSize)
	assert.Equal(t, red, rgbAt(out, 0, 0))
	assert.Equal(t, red, rgbAt(out, 447, 447))
	assert.Equal(t, image.Rect(0, 0, 448, 448), Placement(448, 448, 448, 448))
}

func TestPlacementScalesLargeImages(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		wantW      int
		wantH      int
		wantOffset image.Point
	}{
		{"twice as wide", 896, 448, 448, 224, image.Pt(0, 112)},
		{"tall", 200, 896, 100, 448, image.Pt(174, 0)},
		{"wide formula strip", 1000, 300, 448, 134, image.Pt(0, 157)},
		{"one side at the limit", 448, 100, 448, 100, image.Pt(0, 174)},
		{"very thin strip keeps one pixel", 5000, 2, 448, 1, image.Pt(0, 223)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Placement(tt.w, tt.h, DefaultSize, DefaultSize)
			assert.Equal(t, tt.wantW, r.Dx())
			assert.Equal(t, tt.wantH, r.Dy())
			assert.Equal(t, tt.wantOffset, r.Min)

			// aspect ratio preserved within one pixel of rounding
			scale := float64(r.Dx()) / float64(tt.w)
			assert.InDelta(t, float64(tt.h)*scale, float64(r.Dy()), 1.0)
		})
	}
}

func TestPadResizesLargeImage(t *testing.T) {
	out := Pad(solid(896, 448, red), DefaultSize, DefaultSize)

	require.Equal(t, image.Rect(0, 0, 448, 448), out.Bounds())
	assert.Equal(t, white, rgbAt(out, 224, 50))
	assert.Equal(t, white, rgbAt(out, 224, 400))

	// resampled interior stays red up to filter rounding
	c := rgbAt(out, 224, 224)
	assert.GreaterOrEqual(t, c.R, uint8(250))
	assert.LessOrEqual(t, c.G, uint8(5))
	assert.LessOrEqual(t, c.B, uint8(5))
}

func TestPadCompositesTransparencyOnWhite(t *testing.T) {
	out := Pad(solid(10, 10, color.NRGBA{}), DefaultSize, DefaultSize)
	assert.Equal(t, white, rgbAt(out, 219, 219))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInvalidImageInput)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidImageInput)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeBase64(t *testing.T) {
	raw := encodePNG(t, solid(4, 3, red))
	b64 := base64.StdEncoding.EncodeToString(raw)

	for name, input := range map[string]string{
		"raw":      b64,
		"data url": "data:image/png;base64," + b64,
	} {
		t.Run(name, func(t *testing.T) {
			img, err := DecodeBase64(input)
			require.NoError(t, err)
			assert.Equal(t, 4, img.Bounds().Dx())
			assert.Equal(t, 3, img.Bounds().Dy())
		})
	}

	_, err := DecodeBase64("%%% not base64 %%%")
	assert.ErrorIs(t, err, errdefs.ErrInvalidImageInput)
}
