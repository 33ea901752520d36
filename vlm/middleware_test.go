package vlm_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/materialflow/internal/cache"
	"github.com/BaSui01/materialflow/internal/metrics"
	"github.com/BaSui01/materialflow/testutil/mocks"
	"github.com/BaSui01/materialflow/vlm"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func tempImage(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestWrap_OrderAndIdentity(t *testing.T) {
	stub := mocks.NewStubBackend().WithName("Qwen")
	var order []string
	tag := func(name string) vlm.Middleware {
		return func(next vlm.QueryFunc) vlm.QueryFunc {
			return func(ctx context.Context, img, prompt string) (string, error) {
				order = append(order, name)
				return next(ctx, img, prompt)
			}
		}
	}

	b := vlm.Wrap(stub, tag("outer"), tag("inner"))
	assert.Equal(t, "Qwen", b.Name())
	assert.Equal(t, "stub-vl", b.Model())
	_, err := b.Query(context.Background(), "x.png", "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Same(t, stub, vlm.Wrap(stub))
}

func TestWithTimeout(t *testing.T) {
	stub := mocks.NewStubBackend().WithDelay(time.Second)
	b := vlm.Wrap(stub, vlm.WithTimeout(20*time.Millisecond))

	_, err := b.Query(context.Background(), "x.png", "p")
	var ve *vlm.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, vlm.ErrUpstreamTimeout, ve.Code)
	assert.True(t, vlm.IsRetryable(err))

	// 上层取消不会被伪装成可重试错误
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Query(ctx, "x.png", "p")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, vlm.IsRetryable(err))

	fast := vlm.Wrap(mocks.NewStubBackend(), vlm.WithTimeout(0))
	_, err = fast.Query(context.Background(), "x.png", "p")
	assert.NoError(t, err)
}

func TestWithRateLimit(t *testing.T) {
	stub := mocks.NewStubBackend()
	// 6000/min = 每 10ms 一个令牌
	b := vlm.Wrap(stub, vlm.WithRateLimit(6000))

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := b.Query(context.Background(), "x.png", "p")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	assert.Equal(t, 4, stub.CallCount())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Query(ctx, "x.png", "p")
	assert.Error(t, err)
}

func TestWithCache(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Hour}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer mgr.Close()

	collector := metrics.NewCollector("test", nil)
	stub := mocks.NewStubBackend().WithResponse("cap,wood,30-40,Shore A")
	b := vlm.Wrap(stub, vlm.WithCache(mgr, "Qwen", "qwen-vl-max-latest", 0, collector, nil))

	img := tempImage(t, "a.png", "pixels-a")
	for i := 0; i < 3; i++ {
		out, err := b.Query(context.Background(), img, "prompt")
		require.NoError(t, err)
		assert.Equal(t, "cap,wood,30-40,Shore A", out)
	}
	assert.Equal(t, 1, stub.CallCount())

	// 提示词不同、图片内容不同都不会命中
	_, err = b.Query(context.Background(), img, "other prompt")
	require.NoError(t, err)
	_, err = b.Query(context.Background(), tempImage(t, "a.png", "pixels-b"), "prompt")
	require.NoError(t, err)
	assert.Equal(t, 3, stub.CallCount())

	assert.Equal(t, 2.0, counterValue(t, collector.Registry(), "test_cache_hits_total"))
	assert.Equal(t, 3.0, counterValue(t, collector.Registry(), "test_cache_misses_total"))
}

func TestWithCache_ErrorsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer mgr.Close()

	stub := mocks.NewStubBackend().WithError(errors.New("boom")).WithFailFirst(1)
	b := vlm.Wrap(stub, vlm.WithCache(mgr, "Qwen", "m", time.Minute, nil, nil))
	img := tempImage(t, "a.png", "x")

	_, err = b.Query(context.Background(), img, "p")
	require.Error(t, err)
	_, err = b.Query(context.Background(), img, "p")
	require.NoError(t, err)
	_, err = b.Query(context.Background(), img, "p")
	require.NoError(t, err)
	assert.Equal(t, 2, stub.CallCount())
}

func TestWithCache_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	defer mgr.Close()
	mr.Close()

	stub := mocks.NewStubBackend()
	b := vlm.Wrap(stub, vlm.WithCache(mgr, "Qwen", "m", time.Minute, nil, zaptest.NewLogger(t)))
	_, err = b.Query(context.Background(), tempImage(t, "a.png", "x"), "p")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.CallCount())
}

func TestWithMetrics(t *testing.T) {
	collector := metrics.NewCollector("test", nil)
	stub := mocks.NewStubBackend().WithError(errors.New("boom")).WithFailAfter(1)
	b := vlm.Wrap(stub, vlm.WithMetrics(collector, "Qwen", "m"))

	_, _ = b.Query(context.Background(), "x.png", "p")
	_, _ = b.Query(context.Background(), "x.png", "p")
	assert.Equal(t, 2.0, counterValue(t, collector.Registry(), "test_vlm_requests_total"))
}
