// Package ctxkeys 定义流水线在 context 中传递的运行标识。
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	runIDKey contextKey = "run_id"
	stageKey contextKey = "stage"
	assetKey contextKey = "asset"
)

// WithRunID 设置 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	return value(ctx, runIDKey)
}

// WithStage 设置当前阶段名
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// Stage 获取当前阶段名
func Stage(ctx context.Context) (string, bool) {
	return value(ctx, stageKey)
}

// WithAsset 设置当前资产名
func WithAsset(ctx context.Context, asset string) context.Context {
	return context.WithValue(ctx, assetKey, asset)
}

// Asset 获取当前资产名
func Asset(ctx context.Context) (string, bool) {
	return value(ctx, assetKey)
}

// LogFields 把 context 中已有的标识转成日志字段
func LogFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v, ok := RunID(ctx); ok {
		fields = append(fields, zap.String("run_id", v))
	}
	if v, ok := Stage(ctx); ok {
		fields = append(fields, zap.String("stage", v))
	}
	if v, ok := Asset(ctx); ok {
		fields = append(fields, zap.String("asset", v))
	}
	return fields
}

func value(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
