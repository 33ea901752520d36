//go:build raylib

package render

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime"
	"sync"

	"github.com/anthonynsimon/bild/clone"
	rl "github.com/gen2brain/raylib-go/raylib"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/asset"
)

func init() {
	RegisterBackend("raylib", func(logger *zap.Logger) (Backend, error) {
		return NewRaylibBackend(logger), nil
	})
}

// RaylibBackend 用隐藏窗口 + RenderTexture 做 GPU 离屏渲染。
// OpenGL 上下文绑定在创建它的线程上，所有调用都经由同一个锁线程的 goroutine。
type RaylibBackend struct {
	logger *zap.Logger

	calls chan func()
	once  sync.Once
	done  chan struct{}

	width, height int32
	target        rl.RenderTexture2D
	ready         bool
}

// NewRaylibBackend 创建 raylib 后端，窗口在第一次渲染时按分辨率创建
func NewRaylibBackend(logger *zap.Logger) *RaylibBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &RaylibBackend{
		logger: logger.With(zap.String("component", "raylib_backend")),
		calls:  make(chan func()),
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *RaylibBackend) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		select {
		case fn := <-b.calls:
			fn()
		case <-b.done:
			if b.ready {
				rl.UnloadRenderTexture(b.target)
				rl.CloseWindow()
			}
			return
		}
	}
}

// do 在渲染线程上执行 fn 并等待完成
func (b *RaylibBackend) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case b.calls <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return fmt.Errorf("raylib backend closed")
	}
	<-finished
	return nil
}

// Name 返回后端名称
func (b *RaylibBackend) Name() string { return "raylib" }

func (b *RaylibBackend) ensureWindow(width, height int32) {
	if b.ready && b.width == width && b.height == height {
		return
	}
	if b.ready {
		rl.UnloadRenderTexture(b.target)
	} else {
		rl.SetTraceLogLevel(rl.LogWarning)
		rl.SetConfigFlags(rl.FlagWindowHidden)
		rl.InitWindow(width, height, "materialflow")
	}
	b.target = rl.LoadRenderTexture(width, height)
	b.width, b.height = width, height
	b.ready = true
	b.logger.Debug("render target ready", zap.Int32("width", width), zap.Int32("height", height))
}

// Render 渲染一帧
func (b *RaylibBackend) Render(ctx context.Context, scene *asset.Scene, view View, width, height int) (*image.RGBA, error) {
	var out *image.RGBA
	err := b.do(ctx, func() {
		b.ensureWindow(int32(width), int32(height))

		eye := view.Pose.Col(3).Vec3()
		forward := view.Pose.Col(2).Vec3().Mul(-1)
		up := view.Pose.Col(1).Vec3()
		f := view.K.At(0, 0)
		fovy := 2 * math.Atan(float64(height)/2/f) * 180 / math.Pi

		camera := rl.Camera3D{
			Position:   vec3(eye),
			Target:     vec3(eye.Add(forward)),
			Up:         vec3(up),
			Fovy:       float32(fovy),
			Projection: rl.CameraPerspective,
		}

		rl.BeginTextureMode(b.target)
		rl.ClearBackground(rl.Blank)
		rl.BeginMode3D(camera)
		for _, m := range scene.Meshes {
			col := rl.NewColor(
				uint8(clamp01(m.Color[0])*255),
				uint8(clamp01(m.Color[1])*255),
				uint8(clamp01(m.Color[2])*255),
				uint8(clamp01(m.Color[3])*255),
			)
			for t := 0; t+2 < len(m.Indices); t += 3 {
				p0 := vec3(m.Positions[m.Indices[t]])
				p1 := vec3(m.Positions[m.Indices[t+1]])
				p2 := vec3(m.Positions[m.Indices[t+2]])
				// 两种绕序都画一次，相当于关闭背面剔除
				rl.DrawTriangle3D(p0, p1, p2, col)
				rl.DrawTriangle3D(p0, p2, p1, col)
			}
		}
		rl.EndMode3D()
		rl.EndTextureMode()

		img := rl.LoadImageFromTexture(b.target.Texture)
		// RenderTexture 的原点在左下角
		rl.ImageFlipVertical(img)
		frame := img.ToImage()
		rl.UnloadImage(img)

		out = clone.AsRGBA(frame)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close 关闭窗口并停止渲染线程
func (b *RaylibBackend) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func vec3(v mgl64.Vec3) rl.Vector3 {
	return rl.NewVector3(float32(v.X()), float32(v.Y()), float32(v.Z()))
}
