package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/anthonynsimon/bild/blend"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"go.uber.org/zap"
)

const (
	// ImagesDir 输入渲染图目录
	ImagesDir = "images"
	// SegDir 分割输出目录
	SegDir = "seg"
	// MasksSuffix 掩码元数据文件后缀
	MasksSuffix = "_masks.json"
)

// MaskMeta masks.json 中的一条记录
type MaskMeta struct {
	Index          int     `json:"index"`
	Area           int     `json:"area"`
	BBox           [4]int  `json:"bbox"` // x, y, w, h
	PredictedIoU   float64 `json:"predicted_iou"`
	StabilityScore float64 `json:"stability_score"`
	MaskFile       string  `json:"mask_file"`
	CropFile       string  `json:"crop_file"`
}

// Score 排序分数
func (m MaskMeta) Score() float64 { return m.PredictedIoU * m.StabilityScore }

// MaskFile 一张图的掩码元数据
type MaskFile struct {
	Image  string     `json:"image"`
	Model  string     `json:"model"`
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Masks  []MaskMeta `json:"masks"`
}

// Options 分割运行选项
type Options struct {
	// ContinueOnError 单个资产失败时继续处理其余资产
	ContinueOnError bool
	// Rand 叠加图配色用的随机源，为 nil 时使用固定种子
	Rand *rand.Rand
	// Skip 返回 true 的资产跳过
	Skip func(ctx context.Context, asset string) bool
	// OnAssetDone 资产完成回调
	OnAssetDone func(ctx context.Context, asset string, res *AssetResult) error
}

// AssetResult 单个资产的分割结果
type AssetResult struct {
	Asset  string
	Images int
	Masks  int
}

// Report 一次批量分割的汇总
type Report struct {
	Processed []string
	Skipped   []string
	Failed    []string
}

// Segmenter 批量分割渲染图
type Segmenter struct {
	model  Model
	params Params
	opts   Options
	logger *zap.Logger
}

// NewSegmenter 创建分割器；模型在 Run 结束时释放
func NewSegmenter(model Model, params Params, opts Options, logger *zap.Logger) *Segmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(params.Seed, 0))
	}
	return &Segmenter{
		model:  model,
		params: params,
		opts:   opts,
		logger: logger.With(zap.String("component", "segmenter")),
	}
}

// AssetDirs 列出渲染根目录下含 images 子目录的资产（排序）
func AssetDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list render root %s: %w", root, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if info, err := os.Stat(filepath.Join(root, e.Name(), ImagesDir)); err == nil && info.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Run 分割 root 下的所有资产。模型在整批结束后释放（失败时同样释放）。
func (s *Segmenter) Run(ctx context.Context, root string) (report *Report, err error) {
	defer func() {
		if rerr := s.model.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("release mask model failed", zap.Error(rerr))
			if err == nil {
				err = rerr
			}
		}
	}()

	assets, err := AssetDirs(root)
	if err != nil {
		return nil, err
	}

	report = &Report{}
	for _, name := range assets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if s.opts.Skip != nil && s.opts.Skip(ctx, name) {
			report.Skipped = append(report.Skipped, name)
			continue
		}

		res, err := s.SegmentAsset(ctx, filepath.Join(root, name))
		if err == nil && s.opts.OnAssetDone != nil {
			err = s.opts.OnAssetDone(ctx, name, res)
		}
		if err != nil {
			report.Failed = append(report.Failed, name)
			if !s.opts.ContinueOnError || ctx.Err() != nil {
				return report, err
			}
			s.logger.Error("asset segmentation failed, continuing", zap.String("asset", name), zap.Error(err))
			continue
		}
		report.Processed = append(report.Processed, name)
	}
	return report, nil
}

// SegmentAsset 分割单个资产目录下 images/ 中的所有图像
func (s *Segmenter) SegmentAsset(ctx context.Context, assetDir string) (*AssetResult, error) {
	name := filepath.Base(assetDir)
	images, err := ListImages(filepath.Join(assetDir, ImagesDir))
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", name, err)
	}
	segDir := filepath.Join(assetDir, SegDir)
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return nil, fmt.Errorf("asset %s: create seg dir: %w", name, err)
	}

	start := time.Now()
	res := &AssetResult{Asset: name}
	for _, file := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.segmentImage(ctx, assetDir, file)
		if err != nil {
			return nil, fmt.Errorf("asset %s image %s: %w", name, file, err)
		}
		res.Images++
		res.Masks += n
	}

	s.logger.Info("asset segmented",
		zap.String("asset", name),
		zap.String("model", s.model.Name()),
		zap.Int("images", res.Images),
		zap.Int("masks", res.Masks),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (s *Segmenter) segmentImage(ctx context.Context, assetDir, file string) (int, error) {
	img, err := imgio.Open(filepath.Join(assetDir, ImagesDir, file))
	if err != nil {
		return 0, err
	}
	alpha := BinarizeAlpha(img)

	masks, err := s.model.Generate(ctx, img, alpha, s.params)
	if err != nil {
		return 0, err
	}

	stem := strings.TrimSuffix(file, filepath.Ext(file))
	segDir := filepath.Join(assetDir, SegDir)
	b := img.Bounds()
	meta := MaskFile{
		Image:  filepath.Join(ImagesDir, file),
		Model:  s.model.Name(),
		Width:  b.Dx(),
		Height: b.Dy(),
		Masks:  make([]MaskMeta, 0, len(masks)),
	}

	for k, m := range masks {
		maskFile := fmt.Sprintf("%s_mask_%d.png", stem, k)
		cropFile := fmt.Sprintf("%s_crop_%d.png", stem, k)
		if err := imgio.Save(filepath.Join(segDir, maskFile), m.Segmentation, imgio.PNGEncoder()); err != nil {
			return 0, err
		}
		if err := imgio.Save(filepath.Join(segDir, cropFile), CropMasked(img, m), imgio.PNGEncoder()); err != nil {
			return 0, err
		}
		meta.Masks = append(meta.Masks, MaskMeta{
			Index:          k,
			Area:           m.Area,
			BBox:           [4]int{m.BBox.Min.X, m.BBox.Min.Y, m.BBox.Dx(), m.BBox.Dy()},
			PredictedIoU:   m.PredictedIoU,
			StabilityScore: m.StabilityScore,
			MaskFile:       maskFile,
			CropFile:       cropFile,
		})
	}

	overlay := Overlay(img, masks, s.opts.Rand)
	if err := imgio.Save(filepath.Join(segDir, stem+"_overlay.png"), overlay, imgio.PNGEncoder()); err != nil {
		return 0, err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, err
	}
	// 元数据最后写，作为该图完成的标志
	if err := os.WriteFile(filepath.Join(segDir, stem+MasksSuffix), data, 0o644); err != nil {
		return 0, err
	}
	return len(masks), nil
}

// ListImages 目录下的 png/jpg 文件名（排序）
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadMaskFile 读取 seg/<stem>_masks.json
func LoadMaskFile(path string) (*MaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var mf MaskFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &mf, nil
}

// CropMasked 裁出掩码包围框，框内掩码以外的像素置为透明
func CropMasked(img image.Image, m Mask) *image.RGBA {
	crop := transform.Crop(img, m.BBox)
	cb := crop.Bounds()
	for y := cb.Min.Y; y < cb.Max.Y; y++ {
		for x := cb.Min.X; x < cb.Max.X; x++ {
			if !m.Contains(m.BBox.Min.X+x-cb.Min.X, m.BBox.Min.Y+y-cb.Min.Y) {
				crop.SetRGBA(x, y, color.RGBA{})
			}
		}
	}
	return crop
}

// Overlay 每个掩码随机着色后半透明叠加到原图（大掩码在下）
func Overlay(img image.Image, masks []Mask, rng *rand.Rand) *image.RGBA {
	b := img.Bounds()
	layer := image.NewNRGBA(b)
	order := make([]int, len(masks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return masks[order[i]].Area > masks[order[j]].Area })

	for _, i := range order {
		c := color.NRGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 140}
		seg := masks[i].Segmentation
		sb := seg.Bounds()
		for y := sb.Min.Y; y < sb.Max.Y; y++ {
			for x := sb.Min.X; x < sb.Max.X; x++ {
				if seg.GrayAt(x, y).Y != 0 {
					layer.SetNRGBA(b.Min.X+x-sb.Min.X, b.Min.Y+y-sb.Min.Y, c)
				}
			}
		}
	}
	return blend.Normal(img, layer)
}
