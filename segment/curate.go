package segment

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anthonynsimon/bild/blend"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"go.uber.org/zap"
)

// GPTInputDir VLM 输入目录
const GPTInputDir = "gpt_input"

// CurateOptions gpt_input 生成选项
type CurateOptions struct {
	// MaxPartsPerView 每个视角最多保留的部件数
	MaxPartsPerView int
	// PanelSize 四联图中每格的边长
	PanelSize int
	// FrontView 作为参照的正视图文件名
	FrontView string
	Logger    *zap.Logger
}

func (o CurateOptions) withDefaults() CurateOptions {
	if o.MaxPartsPerView <= 0 {
		o.MaxPartsPerView = 8
	}
	if o.PanelSize <= 0 {
		o.PanelSize = 256
	}
	if o.FrontView == "" {
		o.FrontView = "render_0.png"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

var maskHighlight = color.NRGBA{R: 255, A: 150}

// Curate 为 root 下所有资产生成 gpt_input，返回写出的图片总数
func Curate(ctx context.Context, root string, opts CurateOptions) (int, error) {
	assets, err := AssetDirs(root)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, name := range assets {
		n, err := CurateAsset(ctx, filepath.Join(root, name), opts)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// CurateAsset 按分数挑选每个视角的部件，写出
// [正视图 | 原图 | 红色掩码叠加 | 裁剪] 四联图到 gpt_input/<view>/part_<k>.png。
// 已有的 gpt_input 会被整体替换。
func CurateAsset(ctx context.Context, assetDir string, opts CurateOptions) (int, error) {
	opts = opts.withDefaults()
	name := filepath.Base(assetDir)

	views, err := ListImages(filepath.Join(assetDir, ImagesDir))
	if err != nil {
		return 0, fmt.Errorf("asset %s: %w", name, err)
	}
	if len(views) == 0 {
		return 0, nil
	}

	frontFile := opts.FrontView
	if _, err := os.Stat(filepath.Join(assetDir, ImagesDir, frontFile)); err != nil {
		frontFile = views[0]
	}
	front, err := imgio.Open(filepath.Join(assetDir, ImagesDir, frontFile))
	if err != nil {
		return 0, fmt.Errorf("asset %s: open front view: %w", name, err)
	}
	frontPanel := fitPanel(front, opts.PanelSize)

	outRoot := filepath.Join(assetDir, GPTInputDir)
	if err := os.RemoveAll(outRoot); err != nil {
		return 0, fmt.Errorf("asset %s: reset gpt_input: %w", name, err)
	}
	if err := os.MkdirAll(outRoot, 0o755); err != nil {
		return 0, fmt.Errorf("asset %s: %w", name, err)
	}

	written := 0
	for _, view := range views {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		stem := strings.TrimSuffix(view, filepath.Ext(view))
		mf, err := LoadMaskFile(filepath.Join(assetDir, SegDir, stem+MasksSuffix))
		if err != nil {
			return written, fmt.Errorf("asset %s view %s: %w", name, view, err)
		}
		if len(mf.Masks) == 0 {
			continue
		}

		img, err := imgio.Open(filepath.Join(assetDir, ImagesDir, view))
		if err != nil {
			return written, err
		}
		picked := pickParts(mf.Masks, opts.MaxPartsPerView)

		viewDir := filepath.Join(outRoot, stem)
		if err := os.MkdirAll(viewDir, 0o755); err != nil {
			return written, err
		}
		original := fitPanel(img, opts.PanelSize)

		for k, meta := range picked {
			mask, err := imgio.Open(filepath.Join(assetDir, SegDir, meta.MaskFile))
			if err != nil {
				return written, err
			}
			crop, err := imgio.Open(filepath.Join(assetDir, SegDir, meta.CropFile))
			if err != nil {
				return written, err
			}
			panels := []image.Image{
				frontPanel,
				original,
				fitPanel(highlight(img, mask), opts.PanelSize),
				fitPanel(crop, opts.PanelSize),
			}
			out := filepath.Join(viewDir, fmt.Sprintf("part_%d.png", k))
			if err := imgio.Save(out, composite(panels, opts.PanelSize), imgio.PNGEncoder()); err != nil {
				return written, err
			}
			written++
		}
	}

	opts.Logger.Debug("gpt input curated", zap.String("asset", name), zap.Int("images", written))
	return written, nil
}

// pickParts 分数降序，同分按面积降序
func pickParts(masks []MaskMeta, limit int) []MaskMeta {
	sorted := append([]MaskMeta(nil), masks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].Score(), sorted[j].Score()
		if si != sj {
			return si > sj
		}
		return sorted[i].Area > sorted[j].Area
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// highlight 掩码区域叠加红色
func highlight(img, mask image.Image) *image.RGBA {
	b := img.Bounds()
	layer := image.NewNRGBA(b)
	mb := mask.Bounds()
	for y := 0; y < b.Dy() && y < mb.Dy(); y++ {
		for x := 0; x < b.Dx() && x < mb.Dx(); x++ {
			if r, _, _, _ := mask.At(mb.Min.X+x, mb.Min.Y+y).RGBA(); r > 0x7fff {
				layer.SetNRGBA(b.Min.X+x, b.Min.Y+y, maskHighlight)
			}
		}
	}
	return blend.Normal(img, layer)
}

// fitPanel 等比缩放到 size×size 内并居中
func fitPanel(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	panel := image.NewRGBA(image.Rect(0, 0, size, size))
	if b.Dx() == 0 || b.Dy() == 0 {
		return panel
	}
	scale := min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	resized := transform.Resize(img, w, h, transform.Linear)
	offset := image.Pt((size-w)/2, (size-h)/2)
	draw.Draw(panel, image.Rectangle{Min: offset, Max: offset.Add(image.Pt(w, h))}, resized, image.Point{}, draw.Over)
	return panel
}

// composite 横向拼接，白底
func composite(panels []image.Image, size int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, size*len(panels), size))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for i, p := range panels {
		r := image.Rect(i*size, 0, (i+1)*size, size)
		draw.Draw(out, r, p, p.Bounds().Min, draw.Over)
	}
	return out
}
