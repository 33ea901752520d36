package segment

import (
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/adjust"
)

// AlphaThreshold alpha 二值化阈值
const AlphaThreshold = 125

// BinarizeAlpha 取 alpha 通道二值化：< 125 → 0，>= 125 → 255
func BinarizeAlpha(img image.Image) *image.Gray {
	bin := adjust.Apply(img, func(c color.RGBA) color.RGBA {
		if c.A >= AlphaThreshold {
			return color.RGBA{R: 255, G: 255, B: 255, A: 255}
		}
		return color.RGBA{A: 255}
	})

	b := bin.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x, y, color.Gray{Y: bin.RGBAAt(x, y).R})
		}
	}
	return out
}
