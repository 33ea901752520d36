package render

import (
	"context"
	"image"
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/BaSui01/materialflow/asset"
)

const (
	nearPlane = 1e-4
	ambient   = 0.3
)

// SoftwareBackend 纯 Go 光栅化：z-buffer、平面着色、双面、透明背景。
// 不处理纹理与材质，只用材质基础色。
type SoftwareBackend struct{}

// NewSoftwareBackend 创建软件渲染后端
func NewSoftwareBackend() *SoftwareBackend { return &SoftwareBackend{} }

// Name 返回后端名称
func (b *SoftwareBackend) Name() string { return "software" }

// Close 无资源需要释放
func (b *SoftwareBackend) Close() error { return nil }

type screenVert struct {
	x, y, invDepth float64
}

// Render 渲染一帧
func (b *SoftwareBackend) Render(ctx context.Context, scene *asset.Scene, view View, width, height int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	// 保存 1/depth，0 表示空
	zbuf := make([]float64, width*height)

	inv := view.Pose.Inv()
	f := view.K.At(0, 0)
	cx, cy := view.K.At(0, 2), view.K.At(1, 2)

	project := func(q mgl64.Vec3) (screenVert, bool) {
		d := -q.Z()
		if d <= nearPlane {
			return screenVert{}, false
		}
		return screenVert{x: cx + f*q.X()/d, y: cy - f*q.Y()/d, invDepth: 1 / d}, true
	}

	for _, m := range scene.Meshes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cam := make([]mgl64.Vec3, len(m.Positions))
		for i, p := range m.Positions {
			cam[i] = inv.Mul4x1(p.Vec4(1)).Vec3()
		}

		for t := 0; t+2 < len(m.Indices); t += 3 {
			i0, i1, i2 := int(m.Indices[t]), int(m.Indices[t+1]), int(m.Indices[t+2])
			if i0 >= len(cam) || i1 >= len(cam) || i2 >= len(cam) {
				continue
			}
			a, bb, c := cam[i0], cam[i1], cam[i2]
			va, ok0 := project(a)
			vb, ok1 := project(bb)
			vc, ok2 := project(c)
			if !ok0 || !ok1 || !ok2 {
				continue
			}
			col, ok := shade(a, bb, c, m.Color)
			if !ok {
				continue
			}
			rasterize(img, zbuf, width, height, va, vb, vc, col)
		}
	}
	return img, nil
}

// shade 按面法线与视线夹角计算平面着色，返回预乘 alpha 颜色
func shade(a, b, c mgl64.Vec3, base mgl64.Vec4) (color.RGBA, bool) {
	n := b.Sub(a).Cross(c.Sub(a))
	if n.Len() == 0 {
		return color.RGBA{}, false
	}
	n = n.Normalize()
	centre := a.Add(b).Add(c).Mul(1.0 / 3)
	if centre.Len() == 0 {
		return color.RGBA{}, false
	}
	toEye := centre.Mul(-1).Normalize()
	intensity := ambient + (1-ambient)*math.Abs(n.Dot(toEye))

	alpha := clamp01(base[3])
	ch := func(v float64) uint8 {
		return uint8(math.Round(clamp01(v*intensity) * alpha * 255))
	}
	return color.RGBA{R: ch(base[0]), G: ch(base[1]), B: ch(base[2]), A: uint8(math.Round(alpha * 255))}, true
}

func edge(a, b screenVert, px, py float64) float64 {
	return (b.x-a.x)*(py-a.y) - (b.y-a.y)*(px-a.x)
}

func rasterize(img *image.RGBA, zbuf []float64, width, height int, v0, v1, v2 screenVert, col color.RGBA) {
	area := edge(v0, v1, v2.x, v2.y)
	if area == 0 {
		return
	}
	minX := max(0, int(math.Floor(min(v0.x, v1.x, v2.x))))
	maxX := min(width-1, int(math.Ceil(max(v0.x, v1.x, v2.x))))
	minY := max(0, int(math.Floor(min(v0.y, v1.y, v2.y))))
	maxY := min(height-1, int(math.Ceil(max(v0.y, v1.y, v2.y))))

	for y := minY; y <= maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float64(x) + 0.5
			l0 := edge(v1, v2, px, py) / area
			l1 := edge(v2, v0, px, py) / area
			l2 := edge(v0, v1, px, py) / area
			if l0 < 0 || l1 < 0 || l2 < 0 {
				continue
			}
			z := l0*v0.invDepth + l1*v1.invDepth + l2*v2.invDepth
			i := y*width + x
			if z <= zbuf[i] {
				continue
			}
			zbuf[i] = z
			img.SetRGBA(x, y, col)
		}
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
