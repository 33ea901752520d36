package render

import (
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/clone"
	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/image/vector"
)

const markerRadius = 4

var markerColor = color.RGBA{R: 255, A: 255}

// DrawMarker 在图像副本上画一个红色实心圆点
func DrawMarker(src image.Image, at mgl64.Vec2) *image.RGBA {
	dst := clone.AsRGBA(src)
	b := dst.Bounds()

	r := vector.NewRasterizer(b.Dx(), b.Dy())
	const segments = 24
	cx, cy := float32(at.X()+0.5), float32(at.Y()+0.5)
	for i := 0; i <= segments; i++ {
		theta := 2 * math.Pi * float64(i) / segments
		x := cx + float32(markerRadius*math.Cos(theta))
		y := cy + float32(markerRadius*math.Sin(theta))
		if i == 0 {
			r.MoveTo(x, y)
		} else {
			r.LineTo(x, y)
		}
	}
	r.ClosePath()
	r.Draw(dst, b, image.NewUniform(markerColor), image.Point{})
	return dst
}
