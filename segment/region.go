package segment

import (
	"context"
	"image"
	"sort"

	"github.com/anthonynsimon/bild/clone"
)

// RegionModel 离线掩码生成：前景内相同量化颜色的 4 连通区域。
// 软件渲染是平面着色，同一平面的像素颜色一致，区域即可见面片。
type RegionModel struct {
	// Levels 每个通道的量化级数
	Levels int
}

// NewRegionModel 创建区域模型
func NewRegionModel() *RegionModel {
	return &RegionModel{Levels: 16}
}

// Name 返回模型标识
func (m *RegionModel) Name() string { return "region" }

// Release 无资源
func (m *RegionModel) Release(context.Context) error { return nil }

// Generate 生成掩码，按面积降序，过滤掉小于 MinMaskRegionArea 的区域
func (m *RegionModel) Generate(ctx context.Context, img image.Image, alpha *image.Gray, params Params) ([]Mask, error) {
	rgba := clone.AsRGBA(img)
	b := rgba.Bounds()
	w, h := b.Dx(), b.Dy()
	levels := m.Levels
	if levels < 2 {
		levels = 2
	}
	step := 256 / levels

	key := func(x, y int) uint32 {
		c := rgba.RGBAAt(b.Min.X+x, b.Min.Y+y)
		return uint32(int(c.R)/step)<<16 | uint32(int(c.G)/step)<<8 | uint32(int(c.B)/step)
	}
	inside := func(x, y int) bool {
		return alpha.GrayAt(alpha.Bounds().Min.X+x, alpha.Bounds().Min.Y+y).Y != 0
	}

	visited := make([]bool, w*h)
	var masks []Mask
	stack := make([]int, 0, 1024)
	// 当前区域的像素下标，通过面积过滤后才分配整幅掩码
	pixels := make([]int, 0, 1024)

	for start := 0; start < w*h; start++ {
		if visited[start] {
			continue
		}
		if start%w == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		sx, sy := start%w, start/w
		if !inside(sx, sy) {
			visited[start] = true
			continue
		}

		k := key(sx, sy)
		boundary := 0
		pixels = pixels[:0]
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := p%w, p/w
			pixels = append(pixels, p)

			same := 0
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				if !inside(nx, ny) || key(nx, ny) != k {
					continue
				}
				same++
				q := ny*w + nx
				if !visited[q] {
					visited[q] = true
					stack = append(stack, q)
				}
			}
			if same < 4 {
				boundary++
			}
		}

		area := len(pixels)
		if area < params.MinMaskRegionArea {
			continue
		}
		seg := image.NewGray(image.Rect(0, 0, w, h))
		for _, p := range pixels {
			seg.Pix[p] = 255
		}
		mask := NewMask(seg, 0, 0)
		// 区域越规整分数越高：填充率近似 IoU，内部像素占比近似稳定性
		mask.PredictedIoU = float64(area) / float64(mask.BBox.Dx()*mask.BBox.Dy())
		mask.StabilityScore = 1 - float64(boundary)/float64(area)
		masks = append(masks, mask)
	}

	sort.SliceStable(masks, func(i, j int) bool { return masks[i].Area > masks[j].Area })
	return masks, nil
}
