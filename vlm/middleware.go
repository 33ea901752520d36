package vlm

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/materialflow/internal/cache"
	"github.com/BaSui01/materialflow/internal/ctxkeys"
	"github.com/BaSui01/materialflow/internal/metrics"
)

// QueryFunc 一次查询
type QueryFunc func(ctx context.Context, imagePath, prompt string) (string, error)

// Middleware 包装查询
type Middleware func(next QueryFunc) QueryFunc

type wrapped struct {
	Backend
	query QueryFunc
}

func (w *wrapped) Query(ctx context.Context, imagePath, prompt string) (string, error) {
	return w.query(ctx, imagePath, prompt)
}

// Wrap 依次套上中间件，第一个中间件在最外层
func Wrap(b Backend, mws ...Middleware) Backend {
	if len(mws) == 0 {
		return b
	}
	q := QueryFunc(b.Query)
	for i := len(mws) - 1; i >= 0; i-- {
		q = mws[i](q)
	}
	return &wrapped{Backend: b, query: q}
}

// WithTimeout 单次请求超时；d <= 0 时不生效。
// 仅是本次请求超时（上层 ctx 仍有效）时返回可重试的 *Error。
func WithTimeout(d time.Duration) Middleware {
	return func(next QueryFunc) QueryFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, imagePath, prompt string) (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			out, err := next(callCtx, imagePath, prompt)
			if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return "", &Error{
					Code:      ErrUpstreamTimeout,
					Message:   "request exceeded " + d.String(),
					Retryable: true,
					Cause:     err,
				}
			}
			return out, err
		}
	}
}

// WithRateLimit 每分钟最多 rpm 次请求；rpm <= 0 时不限流
func WithRateLimit(rpm int) Middleware {
	return func(next QueryFunc) QueryFunc {
		if rpm <= 0 {
			return next
		}
		limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		return func(ctx context.Context, imagePath, prompt string) (string, error) {
			if err := limiter.Wait(ctx); err != nil {
				return "", err
			}
			return next(ctx, imagePath, prompt)
		}
	}
}

// ResponseCache 响应缓存，*cache.Manager 满足该接口
type ResponseCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

type cachedResponse struct {
	Text string `json:"text"`
}

// WithCache 按 后端 + 模型 + 提示词 + 图片内容 缓存回答。
// 缓存读写失败只记日志，不影响查询。
func WithCache(c ResponseCache, backend, model string, ttl time.Duration, collector *metrics.Collector, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "vlm_cache"))
	return func(next QueryFunc) QueryFunc {
		if c == nil {
			return next
		}
		return func(ctx context.Context, imagePath, prompt string) (string, error) {
			data, err := os.ReadFile(imagePath)
			if err != nil {
				return next(ctx, imagePath, prompt)
			}
			key := cache.ResponseKey(backend, model, prompt, data)

			var hit cachedResponse
			err = c.GetJSON(ctx, key, &hit)
			switch {
			case err == nil:
				if collector != nil {
					collector.RecordCacheHit("vlm")
				}
				logger.Debug("vlm cache hit", zap.String("image", imagePath))
				return hit.Text, nil
			case cache.IsCacheMiss(err):
				if collector != nil {
					collector.RecordCacheMiss("vlm")
				}
			default:
				logger.Warn("vlm cache get failed", append(ctxkeys.LogFields(ctx), zap.Error(err))...)
			}

			out, err := next(ctx, imagePath, prompt)
			if err != nil {
				return "", err
			}
			if err := c.SetJSON(ctx, key, cachedResponse{Text: out}, ttl); err != nil {
				logger.Warn("vlm cache set failed", append(ctxkeys.LogFields(ctx), zap.Error(err))...)
			}
			return out, nil
		}
	}
}

// WithMetrics 记录请求次数与耗时
func WithMetrics(collector *metrics.Collector, backend, model string) Middleware {
	return func(next QueryFunc) QueryFunc {
		if collector == nil {
			return next
		}
		return func(ctx context.Context, imagePath, prompt string) (string, error) {
			start := time.Now()
			out, err := next(ctx, imagePath, prompt)
			collector.RecordVLMRequest(backend, model, err, time.Since(start))
			return out, err
		}
	}
}
