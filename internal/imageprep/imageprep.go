// Package imageprep decodes request images and lays them out on the fixed
// white canvas the vision encoder expects.
package imageprep

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// DefaultSize is the encoder's square input resolution.
const DefaultSize = 448

// Pad returns a width x height RGB canvas with a white background and img
// centered on it. Images smaller than the canvas in both dimensions are
// drawn untouched; anything else is scaled down with Catmull-Rom filtering
// so it fits without cropping. Transparent pixels end up white.
func Pad(img image.Image, width, height int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	src := img.Bounds()
	dst := Placement(src.Dx(), src.Dy(), width, height)
	if dst.Empty() {
		return canvas
	}

	if dst.Dx() == src.Dx() && dst.Dy() == src.Dy() {
		draw.Draw(canvas, dst, img, src.Min, draw.Over)
		return canvas
	}
	draw.CatmullRom.Scale(canvas, dst, img, src, draw.Over, nil)
	return canvas
}

// Placement returns the rectangle a srcW x srcH image occupies on a
// width x height canvas.
func Placement(srcW, srcH, width, height int) image.Rectangle {
	if srcW <= 0 || srcH <= 0 || width <= 0 || height <= 0 {
		return image.Rectangle{}
	}

	w, h := srcW, srcH
	if srcW >= width || srcH >= height {
		w, h = ScaledSize(srcW, srcH, width, height)
	}

	x := (width - w) / 2
	y := (height - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// ScaledSize returns srcW x srcH scaled by min(width/srcW, height/srcH),
// rounded to the nearest pixel and clamped to the canvas.
func ScaledSize(srcW, srcH, width, height int) (int, int) {
	scale := math.Min(float64(width)/float64(srcW), float64(height)/float64(srcH))
	w := clamp(int(math.Round(float64(srcW)*scale)), 1, width)
	h := clamp(int(math.Round(float64(srcH)*scale)), 1, height)
	return w, h
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
