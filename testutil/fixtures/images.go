// =============================================================================
// 🖼️ 测试数据工厂 - 渲染图
// =============================================================================
package fixtures

import (
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/imgio"
)

// ViewImage 生成一张带透明背景的视图：左右两块不同颜色的不透明矩形
func ViewImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	left := color.RGBA{R: 200, G: 40, B: 40, A: 255}
	right := color.RGBA{R: 40, G: 60, B: 200, A: 255}
	for y := h / 4; y < 3*h/4; y++ {
		for x := w / 8; x < w/2; x++ {
			img.SetRGBA(x, y, left)
		}
		for x := w / 2; x < 7*w/8; x++ {
			img.SetRGBA(x, y, right)
		}
	}
	return img
}

// AlphaGradient 宽 256 的横向 alpha 渐变，第 x 列 alpha = x
func AlphaGradient(h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 256, h))
	for y := 0; y < h; y++ {
		for x := 0; x < 256; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 128, G: 128, B: 128, A: uint8(x)})
		}
	}
	return img
}

// SavePNG 写 PNG
func SavePNG(path string, img image.Image) error {
	return imgio.Save(path, img, imgio.PNGEncoder())
}
