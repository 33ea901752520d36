package segment

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/config"
)

// ErrReleased 模型已释放
var ErrReleased = errors.New("mask model released")

// Model 已加载的掩码生成器
type Model interface {
	// Name 模型标识，用于日志与指标
	Name() string
	// Generate 为一张图生成掩码；alpha 为二值化后的前景
	Generate(ctx context.Context, img image.Image, alpha *image.Gray, params Params) ([]Mask, error)
	// Release 释放模型占用的资源，可重复调用
	Release(ctx context.Context) error
}

// LoadModel 按配置加载掩码模型
func LoadModel(ctx context.Context, cfg config.SegmentationConfig, logger *zap.Logger) (Model, error) {
	switch cfg.Backend {
	case "region", "":
		return NewRegionModel(), nil
	case "service":
		return LoadServiceModel(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown segmentation backend: %s", cfg.Backend)
	}
}
