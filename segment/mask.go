package segment

import (
	"fmt"
	"image"
	"image/color"
)

// Mask 一个部件掩码
type Mask struct {
	// Segmentation 0/255 二值图，与输入图同尺寸
	Segmentation   *image.Gray
	Area           int
	BBox           image.Rectangle
	PredictedIoU   float64
	StabilityScore float64
}

// Score 排序用的综合分数
func (m Mask) Score() float64 {
	return m.PredictedIoU * m.StabilityScore
}

// Contains 像素是否在掩码内
func (m Mask) Contains(x, y int) bool {
	return m.Segmentation.GrayAt(x, y).Y != 0
}

// NewMask 根据二值图计算面积与包围框
func NewMask(seg *image.Gray, iou, stability float64) Mask {
	b := seg.Bounds()
	area := 0
	bbox := image.Rectangle{}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if seg.GrayAt(x, y).Y == 0 {
				continue
			}
			area++
			px := image.Rect(x, y, x+1, y+1)
			if bbox.Empty() {
				bbox = px
			} else {
				bbox = bbox.Union(px)
			}
		}
	}
	return Mask{Segmentation: seg, Area: area, BBox: bbox, PredictedIoU: iou, StabilityScore: stability}
}

// =============================================================================
// 🔢 COCO 未压缩 RLE
// =============================================================================

// RLE 列主序游程编码，counts 从 0 的游程开始
type RLE struct {
	Size   [2]int `json:"size"` // [height, width]
	Counts []int  `json:"counts"`
}

// EncodeRLE 把二值图编码为 RLE
func EncodeRLE(seg *image.Gray) RLE {
	b := seg.Bounds()
	h, w := b.Dy(), b.Dx()
	rle := RLE{Size: [2]int{h, w}}
	var current uint8
	run := 0
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			v := uint8(0)
			if seg.GrayAt(b.Min.X+x, b.Min.Y+y).Y != 0 {
				v = 1
			}
			if v != current {
				rle.Counts = append(rle.Counts, run)
				run = 0
				current = v
			}
			run++
		}
	}
	rle.Counts = append(rle.Counts, run)
	return rle
}

// Decode 解码为 0/255 二值图
func (r RLE) Decode() (*image.Gray, error) {
	h, w := r.Size[0], r.Size[1]
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("invalid rle size %v", r.Size)
	}
	seg := image.NewGray(image.Rect(0, 0, w, h))
	pos := 0
	total := h * w
	for i, n := range r.Counts {
		if n < 0 || pos+n > total {
			return nil, fmt.Errorf("rle counts overflow mask %dx%d", w, h)
		}
		if i%2 == 1 {
			for k := pos; k < pos+n; k++ {
				seg.SetGray(k/h, k%h, color.Gray{Y: 255})
			}
		}
		pos += n
	}
	if pos != total {
		return nil, fmt.Errorf("rle covers %d of %d pixels", pos, total)
	}
	return seg, nil
}
