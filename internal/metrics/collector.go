package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	registry *prometheus.Registry

	// 阶段指标
	stageDuration *prometheus.HistogramVec
	assetsTotal   *prometheus.CounterVec

	// 渲染 / 分割指标
	rendersTotal *prometheus.CounterVec
	masksTotal   *prometheus.CounterVec

	// VLM 指标
	vlmRequestsTotal   *prometheus.CounterVec
	vlmRequestDuration *prometheus.HistogramVec
	observationsTotal  *prometheus.CounterVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"stage", "status"},
	)

	c.assetsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_total",
			Help:      "Assets handled per stage by outcome",
		},
		[]string{"stage", "outcome"},
	)

	c.rendersTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Total number of rendered views",
		},
		[]string{"backend"},
	)

	c.masksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "masks_total",
			Help:      "Total number of generated masks",
		},
		[]string{"model"},
	)

	c.vlmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vlm_requests_total",
			Help:      "Total number of VLM requests",
		},
		[]string{"backend", "model", "status"},
	)

	c.vlmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vlm_request_duration_seconds",
			Help:      "VLM request duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"backend", "model"},
	)

	c.observationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Result lines written, by parse outcome",
		},
		[]string{"outcome"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry 返回私有 Registry
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// =============================================================================
// 🎯 阶段指标记录
// =============================================================================

// RecordStage 记录阶段耗时
func (c *Collector) RecordStage(stage string, err error, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage, statusOf(err)).Observe(duration.Seconds())
}

// RecordAsset 记录单个资产在某阶段的结果: done, skipped, failed
func (c *Collector) RecordAsset(stage, outcome string) {
	c.assetsTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordRenders 记录渲染出的视角数
func (c *Collector) RecordRenders(backend string, n int) {
	c.rendersTotal.WithLabelValues(backend).Add(float64(n))
}

// RecordMasks 记录生成的掩码数
func (c *Collector) RecordMasks(model string, n int) {
	c.masksTotal.WithLabelValues(model).Add(float64(n))
}

// =============================================================================
// 🤖 VLM 指标记录
// =============================================================================

// RecordVLMRequest 记录 VLM 请求
func (c *Collector) RecordVLMRequest(backend, model string, err error, duration time.Duration) {
	c.vlmRequestsTotal.WithLabelValues(backend, model, statusOf(err)).Inc()
	c.vlmRequestDuration.WithLabelValues(backend, model).Observe(duration.Seconds())
}

// RecordObservation 记录结果行: valid, invalid, sentinel
func (c *Collector) RecordObservation(outcome string) {
	c.observationsTotal.WithLabelValues(outcome).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🔧 输出
// =============================================================================

// WriteTextfile 以 node_exporter textfile 格式写出全部指标
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	c.logger.Info("metrics written", zap.String("path", path))
	return nil
}

// statusOf 将错误归类为 success / error
func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
