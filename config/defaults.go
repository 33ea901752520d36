// =============================================================================
// 📦 MaterialFlow 默认配置
// =============================================================================
// 默认值与原始标注流水线保持一致：3×3 视角、60° 视场、800×600 输出
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Render:       DefaultRenderConfig(),
		Segmentation: DefaultSegmentationConfig(),
		VLM:          DefaultVLMConfig(),
		Pipeline:     DefaultPipelineConfig(),
		Store:        DefaultStoreConfig(),
		Cache:        DefaultCacheConfig(),
		Export:       DefaultExportConfig(),
		Log:          DefaultLogConfig(),
		Metrics:      DefaultMetricsConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultRenderConfig 返回默认渲染配置
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		OutDir:          "renders",
		AzimuthAngles:   []float64{0, 120, 240},
		ElevationAngles: []float64{0, 60, -60},
		TrillisAsset:    true,
		ReplaceOrgFile:  false,
		FovDeg:          60,
		Resolution:      []int{800, 600},
		Mark:            false,
		Backend:         "software",
	}
}

// DefaultSegmentationConfig 返回默认分割配置
func DefaultSegmentationConfig() SegmentationConfig {
	return SegmentationConfig{
		Device:                     "cuda",
		SAM2Checkpoint:             "./sam2/checkpoints/sam2_hiera_base_plus.pt",
		ModelCfg:                   "configs/sam2/sam2_hiera_b+.yaml",
		PointsPerSide:              32,
		PointsPerBatch:             128,
		PredIoUThresh:              0.7,
		StabilityScoreThresh:       0.85,
		StabilityScoreOffset:       0.7,
		CropNLayers:                1,
		BoxNMSThresh:               0.7,
		CropNPointsDownscaleFactor: 1,
		MinMaskRegionArea:          900,
		UseM2M:                     false,
		Backend:                    "region",
		ServiceURL:                 "http://localhost:8000",
		Timeout:                    2 * time.Minute,
		MaxPartsPerView:            8,
		ContinueOnError:            false,
	}
}

// DefaultVLMConfig 返回默认 VLM 配置
func DefaultVLMConfig() VLMConfig {
	return VLMConfig{
		Type:              "Qwen",
		Timeout:           2 * time.Minute,
		MaxRetries:        3,
		FailurePolicy:     "sentinel",
		RequestsPerMinute: 0,
		Workers:           1,
	}
}

// DefaultPipelineConfig 返回默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		InputDir: "test_asset",
		Seed:     42,
		Stages: StagesConfig{
			Visualize: true,
			Segment:   true,
			Query:     false,
		},
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Driver:          "sqlite",
		DSN:             "materialflow.db",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: false,
		Addr:    "localhost:6379",
		DB:      0,
		TTL:     24 * time.Hour,
	}
}

// DefaultExportConfig 返回默认导出配置
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		MongoDatabase:   "materialflow",
		MongoCollection: "observations",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "materialflow",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "materialflow",
		SampleRate:   0.1,
	}
}
