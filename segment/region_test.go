package segment

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/materialflow/testutil"
	"github.com/BaSui01/materialflow/testutil/fixtures"
)

func TestRegionModel_TwoBlocks(t *testing.T) {
	img := fixtures.ViewImage(64, 48)
	m := NewRegionModel()

	masks, err := m.Generate(context.Background(), img, BinarizeAlpha(img), Params{MinMaskRegionArea: 10})
	require.NoError(t, err)
	require.Len(t, masks, 2)

	assert.Equal(t, 24*24, masks[0].Area)
	assert.Equal(t, 24*24, masks[1].Area)
	assert.Equal(t, image.Rect(8, 12, 32, 36), masks[0].BBox)
	assert.Equal(t, image.Rect(32, 12, 56, 36), masks[1].BBox)
	// 矩形区域填满包围框
	assert.InDelta(t, 1.0, masks[0].PredictedIoU, 1e-12)
	assert.Greater(t, masks[0].StabilityScore, 0.5)
}

func TestRegionModel_MinArea(t *testing.T) {
	img := fixtures.ViewImage(64, 48)
	masks, err := NewRegionModel().Generate(context.Background(), img, BinarizeAlpha(img), Params{MinMaskRegionArea: 1000})
	require.NoError(t, err)
	assert.Empty(t, masks)
}

func TestRegionModel_Cancelled(t *testing.T) {
	img := fixtures.ViewImage(64, 48)
	_, err := NewRegionModel().Generate(testutil.CancelledContext(), img, BinarizeAlpha(img), Params{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegionModel_ReleaseIsNoop(t *testing.T) {
	assert.NoError(t, NewRegionModel().Release(context.Background()))
}

// checkerboard 每个像素自成一个区域
func checkerboard(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(0)
			if (x+y)%2 == 0 {
				v = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func TestRegionModel_TinyRegionsDoNotAllocateMasks(t *testing.T) {
	img := checkerboard(64, 48)
	alpha := BinarizeAlpha(img)
	m := NewRegionModel()
	params := Params{MinMaskRegionArea: 2}

	masks, err := m.Generate(context.Background(), img, alpha, params)
	require.NoError(t, err)
	assert.Empty(t, masks)

	// 3072 个单像素区域都被过滤，分配次数不随区域数增长
	allocs := testing.AllocsPerRun(5, func() {
		_, _ = m.Generate(context.Background(), img, alpha, params)
	})
	assert.Less(t, allocs, 64.0)
}
