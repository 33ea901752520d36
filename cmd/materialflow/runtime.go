package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/config"
	"github.com/BaSui01/materialflow/internal/cache"
	"github.com/BaSui01/materialflow/internal/database"
	"github.com/BaSui01/materialflow/internal/export"
	"github.com/BaSui01/materialflow/internal/metrics"
	"github.com/BaSui01/materialflow/internal/telemetry"
	"github.com/BaSui01/materialflow/pipeline"
)

// runtime 持有一次运行的外部资源
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *metrics.Collector
	ledger    *database.Ledger
	cache     *cache.Manager
	sink      *export.MongoSink
	providers *telemetry.Providers
}

// newRuntime 按配置打开台账、缓存、导出和遥测。
// 缓存不可用只告警；台账与导出失败直接返回。
func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector(cfg.Metrics.Namespace, logger),
	}

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}
	rt.providers = providers

	ledger, err := database.Open(ctx, cfg.Store, logger)
	switch {
	case errors.Is(err, database.ErrDisabled):
		logger.Info("stage ledger disabled, every asset will be processed")
	case err != nil:
		rt.Close()
		return nil, err
	default:
		rt.ledger = ledger
	}

	if cfg.Cache.Enabled {
		mgr, err := cache.NewManager(cache.Config{
			Addr:       cfg.Cache.Addr,
			Password:   cfg.Cache.Password,
			DB:         cfg.Cache.DB,
			DefaultTTL: cfg.Cache.TTL,
			MaxRetries: 3,
		}, logger)
		if err != nil {
			logger.Warn("response cache unavailable, continuing without it", zap.Error(err))
		} else {
			rt.cache = mgr
		}
	}

	if cfg.Export.MongoURI != "" {
		sink, err := export.NewMongoSink(ctx, cfg.Export, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.sink = sink
	}

	return rt, nil
}

// Dependencies 组装流水线依赖。为空的指针不能装进接口字段。
func (rt *runtime) Dependencies() pipeline.Dependencies {
	deps := pipeline.Dependencies{
		Ledger:  rt.ledger,
		Metrics: rt.collector,
	}
	if rt.cache != nil {
		deps.Cache = rt.cache
	}
	if rt.sink != nil {
		deps.Sink = rt.sink
	}
	return deps
}

// Close 落盘指标并释放资源
func (rt *runtime) Close() {
	if path := rt.cfg.Metrics.TextfilePath; path != "" {
		if err := rt.collector.WriteTextfile(path); err != nil {
			rt.logger.Warn("write metrics textfile failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if rt.sink != nil {
		if err := rt.sink.Close(ctx); err != nil {
			rt.logger.Warn("close export sink failed", zap.Error(err))
		}
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			rt.logger.Warn("close cache failed", zap.Error(err))
		}
	}
	if rt.ledger != nil {
		if err := rt.ledger.Close(); err != nil {
			rt.logger.Warn("close ledger failed", zap.Error(err))
		}
	}
	if rt.providers != nil {
		if err := rt.providers.Shutdown(ctx); err != nil {
			rt.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}
