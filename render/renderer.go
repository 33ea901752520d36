package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/imgio"
	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/asset"
	"github.com/BaSui01/materialflow/config"
)

const (
	// ImagesDir 渲染图目录名
	ImagesDir = "images"
	// MarkedDir 标记图目录名
	MarkedDir = "marked"
	// CamerasFile 相机参数文件名
	CamerasFile = "cameras.json"
)

// ErrEmptyScene 资产里没有可渲染的三角形
var ErrEmptyScene = errors.New("asset has no triangle geometry")

// Result 单个资产的渲染结果
type Result struct {
	Asset string
	// Dir 资产输出根目录 <out_dir>/<stem>
	Dir string
	// Source 实际渲染的文件（可能是旋转产物）
	Source string
	Views  []View
}

// ImagePaths 渲染图的绝对路径（按视角顺序）
func (r *Result) ImagePaths() []string {
	out := make([]string, len(r.Views))
	for i, v := range r.Views {
		out[i] = filepath.Join(r.Dir, v.File)
	}
	return out
}

// Renderer 多视角渲染器
type Renderer struct {
	cfg     config.RenderConfig
	backend Backend
	logger  *zap.Logger
}

// NewRenderer 创建渲染器
func NewRenderer(cfg config.RenderConfig, backend Backend, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With(zap.String("component", "renderer")),
	}
}

// AssetDir 资产的输出根目录
func AssetDir(outDir, assetPath string) string {
	return filepath.Join(outDir, asset.Stem(assetPath))
}

// RenderViews 渲染一个资产的全部视角。
// 输出目录在检查资产是否存在之前创建。
func (r *Renderer) RenderViews(ctx context.Context, assetPath string) (*Result, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	root := AssetDir(r.cfg.OutDir, assetPath)
	imagesDir := filepath.Join(root, ImagesDir)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}

	if _, err := os.Stat(assetPath); err != nil {
		return nil, fmt.Errorf("GLB asset not found at %s: %w", assetPath, err)
	}

	source := assetPath
	if r.cfg.TrillisAsset {
		rotated, reused, err := asset.EnsureRotated(assetPath, r.cfg.ReplaceOrgFile)
		if err != nil {
			return nil, fmt.Errorf("rotate %s: %w", assetPath, err)
		}
		r.logger.Debug("asset oriented",
			zap.String("source", rotated),
			zap.Bool("reused", reused))
		source = rotated
	}

	scene, err := asset.LoadGLB(source)
	if err != nil {
		return nil, err
	}
	if scene.TriangleCount() == 0 {
		return nil, fmt.Errorf("%s: %w", source, ErrEmptyScene)
	}

	bb := scene.Bounds()
	center := bb.Centroid()
	distance := bb.MaxExtent() * 2
	if distance == 0 {
		distance = 1
	}

	width, height := r.cfg.Width(), r.cfg.Height()
	k := Intrinsics(width, height, r.cfg.FovDeg)

	if r.cfg.Mark {
		if err := os.MkdirAll(filepath.Join(root, MarkedDir), 0o755); err != nil {
			return nil, fmt.Errorf("create marked dir: %w", err)
		}
	}

	start := time.Now()
	result := &Result{Asset: asset.Stem(assetPath), Dir: root, Source: source}
	index := 0
	for _, elev := range r.cfg.ElevationAngles {
		for _, azim := range r.cfg.AzimuthAngles {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			view := View{
				Index:     index,
				Azimuth:   azim,
				Elevation: elev,
				Pose:      LookAt(center, CameraRotation(azim, elev), distance),
				K:         k,
				File:      filepath.Join(ImagesDir, fmt.Sprintf("render_%d.png", index)),
			}
			index++

			img, err := r.backend.Render(ctx, scene, view, width, height)
			if err != nil {
				return nil, fmt.Errorf("render view %d (azim=%v, elev=%v): %w", view.Index, azim, elev, err)
			}
			if err := imgio.Save(filepath.Join(root, view.File), img, imgio.PNGEncoder()); err != nil {
				return nil, fmt.Errorf("save view %d: %w", view.Index, err)
			}

			if r.cfg.Mark {
				if err := r.saveMarked(root, img, view, width, height); err != nil {
					return nil, err
				}
			}

			result.Views = append(result.Views, view)
		}
	}

	cams := CameraFile{
		Asset:    result.Asset,
		Source:   source,
		Width:    width,
		Height:   height,
		FovDeg:   r.cfg.FovDeg,
		Center:   [3]float64{center[0], center[1], center[2]},
		Distance: distance,
		Views:    result.Views,
	}
	if err := writeJSON(filepath.Join(root, CamerasFile), cams); err != nil {
		return nil, err
	}

	r.logger.Info("views rendered",
		zap.String("asset", result.Asset),
		zap.String("backend", r.backend.Name()),
		zap.Int("views", len(result.Views)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// saveMarked 每个视角都写出标记副本；标记点不可见时副本不画点
func (r *Renderer) saveMarked(root string, img image.Image, view View, width, height int) error {
	var marked *image.RGBA
	if at, ok := ProjectMarker(MarkPoint, view.Pose, view.K, width, height); ok {
		marked = DrawMarker(img, at)
	} else {
		marked = clone.AsRGBA(img)
		r.logger.Debug("marker outside view", zap.Int("view", view.Index))
	}
	name := MarkedName(view.Azimuth, view.Elevation)
	if err := imgio.Save(filepath.Join(root, MarkedDir, name), marked, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("save marked view %d: %w", view.Index, err)
	}
	return nil
}

// MarkedName 标记副本文件名
func MarkedName(azim, elev float64) string {
	return fmt.Sprintf("render_azim%s_elev%s_marked.png", formatAngle(azim), formatAngle(elev))
}

// LoadCameras 读取 cameras.json
func LoadCameras(assetDir string) (*CameraFile, error) {
	data, err := os.ReadFile(filepath.Join(assetDir, CamerasFile))
	if err != nil {
		return nil, err
	}
	var cams CameraFile
	if err := json.Unmarshal(data, &cams); err != nil {
		return nil, fmt.Errorf("parse %s: %w", CamerasFile, err)
	}
	return &cams, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func formatAngle(a float64) string {
	return strconv.FormatFloat(a, 'f', -1, 64)
}
