package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/asset"
)

// ErrBackendUnavailable 请求的后端未编译进当前二进制
var ErrBackendUnavailable = errors.New("render backend unavailable")

// Backend 离屏渲染后端
type Backend interface {
	// Name 后端名称
	Name() string
	// Render 按视角渲染一帧，背景透明
	Render(ctx context.Context, scene *asset.Scene, view View, width, height int) (*image.RGBA, error)
	// Close 释放后端资源
	Close() error
}

// BackendFactory 后端构造函数
type BackendFactory func(logger *zap.Logger) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]BackendFactory{
		"software": func(*zap.Logger) (Backend, error) { return NewSoftwareBackend(), nil },
	}
)

// RegisterBackend 注册后端，同名覆盖
func RegisterBackend(name string, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = factory
}

// Backends 已注册的后端名称
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewBackend 按名称创建后端
func NewBackend(name string, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrBackendUnavailable, name, Backends())
	}
	return factory(logger)
}
