package mocks

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/BaSui01/materialflow/segment"
)

// StubMaskModel 是 segment.Model 的模拟实现。
// 默认把 alpha 的左右两半各作为一个掩码返回。
type StubMaskModel struct {
	mu sync.Mutex

	masksFunc func(img image.Image, alpha *image.Gray) []segment.Mask
	err       error

	generated int
	released  int
	params    []segment.Params
}

// NewStubMaskModel 创建 StubMaskModel
func NewStubMaskModel() *StubMaskModel {
	return &StubMaskModel{masksFunc: halves}
}

// WithMasks 自定义掩码生成
func (m *StubMaskModel) WithMasks(fn func(img image.Image, alpha *image.Gray) []segment.Mask) *StubMaskModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masksFunc = fn
	return m
}

// WithError 设置 Generate 错误
func (m *StubMaskModel) WithError(err error) *StubMaskModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Name 返回模型标识
func (m *StubMaskModel) Name() string { return "stub" }

// Generate 返回预设掩码
func (m *StubMaskModel) Generate(ctx context.Context, img image.Image, alpha *image.Gray, params segment.Params) ([]segment.Mask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released > 0 {
		return nil, segment.ErrReleased
	}
	m.generated++
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	return m.masksFunc(img, alpha), nil
}

// Release 记录释放次数
func (m *StubMaskModel) Release(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	return nil
}

// Generated Generate 调用次数
func (m *StubMaskModel) Generated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generated
}

// Released Release 调用次数
func (m *StubMaskModel) Released() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Params 每次 Generate 收到的参数
func (m *StubMaskModel) Params() []segment.Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]segment.Params(nil), m.params...)
}

// ErrStub 通用注入错误
var ErrStub = errors.New("stub failure")

func halves(img image.Image, alpha *image.Gray) []segment.Mask {
	b := alpha.Bounds()
	mid := b.Min.X + b.Dx()/2
	var out []segment.Mask
	for _, r := range []image.Rectangle{
		image.Rect(b.Min.X, b.Min.Y, mid, b.Max.Y),
		image.Rect(mid, b.Min.Y, b.Max.X, b.Max.Y),
	} {
		seg := image.NewGray(b)
		area := 0
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				if alpha.GrayAt(x, y).Y == 255 {
					seg.SetGray(x, y, color.Gray{Y: 255})
					area++
				}
			}
		}
		if area > 0 {
			out = append(out, segment.NewMask(seg, 0.9, 0.9))
		}
	}
	return out
}
