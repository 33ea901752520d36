// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 渲染默认值
	assert.Equal(t, "renders", cfg.Render.OutDir)
	assert.Equal(t, []float64{0, 120, 240}, cfg.Render.AzimuthAngles)
	assert.Equal(t, []float64{0, 60, -60}, cfg.Render.ElevationAngles)
	assert.True(t, cfg.Render.TrillisAsset)
	assert.False(t, cfg.Render.ReplaceOrgFile)
	assert.Equal(t, 60.0, cfg.Render.FovDeg)
	assert.Equal(t, 800, cfg.Render.Width())
	assert.Equal(t, 600, cfg.Render.Height())

	// 分割默认值
	assert.Equal(t, 32, cfg.Segmentation.PointsPerSide)
	assert.Equal(t, 128, cfg.Segmentation.PointsPerBatch)
	assert.Equal(t, 0.7, cfg.Segmentation.PredIoUThresh)
	assert.Equal(t, 0.85, cfg.Segmentation.StabilityScoreThresh)
	assert.Equal(t, 0.7, cfg.Segmentation.StabilityScoreOffset)
	assert.Equal(t, 1, cfg.Segmentation.CropNLayers)
	assert.Equal(t, 0.7, cfg.Segmentation.BoxNMSThresh)
	assert.Equal(t, 1, cfg.Segmentation.CropNPointsDownscaleFactor)
	assert.Equal(t, 900, cfg.Segmentation.MinMaskRegionArea)
	assert.False(t, cfg.Segmentation.UseM2M)

	// VLM 默认值
	assert.Equal(t, "Qwen", cfg.VLM.Type)
	assert.Equal(t, "sentinel", cfg.VLM.FailurePolicy)
	assert.Equal(t, 1, cfg.VLM.Workers)

	// 流水线默认值
	assert.True(t, cfg.Pipeline.Stages.Visualize)
	assert.True(t, cfg.Pipeline.Stages.Segment)
	assert.False(t, cfg.Pipeline.Stages.Query)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "materialflow", cfg.Metrics.Namespace)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "renders", cfg.Render.OutDir)
	assert.Equal(t, "Qwen", cfg.VLM.Type)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
render:
  out_dir: "out"
  azimuth_angles: [0, 90, 180, 270]
  elevation_angles: [30]
  fov_deg: 45
  resolution: [640, 480]
  mark: true

segmentation:
  points_per_side: 16
  min_mask_region_area: 400
  backend: service
  service_url: "http://sam:9000"

vlm:
  vlm_type: GPT4V
  vlm_api_key: "sk-test"
  vlm_model_name: "gpt-4o"
  timeout: 45s

pipeline:
  seed: 7
  stages:
    visualize: false
    segment: false
    query: true

log:
  level: "debug"
  format: "json"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "out", cfg.Render.OutDir)
	assert.Equal(t, []float64{0, 90, 180, 270}, cfg.Render.AzimuthAngles)
	assert.Equal(t, []float64{30}, cfg.Render.ElevationAngles)
	assert.Equal(t, 45.0, cfg.Render.FovDeg)
	assert.Equal(t, []int{640, 480}, cfg.Render.Resolution)
	assert.True(t, cfg.Render.Mark)
	// YAML 未设置的字段保留默认值
	assert.True(t, cfg.Render.TrillisAsset)

	assert.Equal(t, 16, cfg.Segmentation.PointsPerSide)
	assert.Equal(t, 400, cfg.Segmentation.MinMaskRegionArea)
	assert.Equal(t, 128, cfg.Segmentation.PointsPerBatch)
	assert.Equal(t, "service", cfg.Segmentation.Backend)

	assert.Equal(t, "GPT4V", cfg.VLM.Type)
	assert.Equal(t, "sk-test", cfg.VLM.APIKey)
	assert.Equal(t, "gpt-4o", cfg.VLM.Model)
	assert.Equal(t, 45*time.Second, cfg.VLM.Timeout)

	assert.Equal(t, uint64(7), cfg.Pipeline.Seed)
	assert.False(t, cfg.Pipeline.Stages.Visualize)
	assert.True(t, cfg.Pipeline.Stages.Query)

	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("MATERIALFLOW_RENDER_OUT_DIR", "env-renders")
	t.Setenv("MATERIALFLOW_RENDER_AZIMUTH_ANGLES", "0, 45,90")
	t.Setenv("MATERIALFLOW_RENDER_RESOLUTION", "320,240")
	t.Setenv("MATERIALFLOW_RENDER_MARK", "true")
	t.Setenv("MATERIALFLOW_SEGMENTATION_PRED_IOU_THRESH", "0.5")
	t.Setenv("MATERIALFLOW_VLM_API_KEY", "env-key")
	t.Setenv("MATERIALFLOW_VLM_TIMEOUT", "10s")
	t.Setenv("MATERIALFLOW_PIPELINE_SEED", "99")
	t.Setenv("MATERIALFLOW_PIPELINE_STAGES_QUERY", "true")
	t.Setenv("MATERIALFLOW_LOG_OUTPUT_PATHS", "stdout, /tmp/mf.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "env-renders", cfg.Render.OutDir)
	assert.Equal(t, []float64{0, 45, 90}, cfg.Render.AzimuthAngles)
	assert.Equal(t, []int{320, 240}, cfg.Render.Resolution)
	assert.True(t, cfg.Render.Mark)
	assert.Equal(t, 0.5, cfg.Segmentation.PredIoUThresh)
	assert.Equal(t, "env-key", cfg.VLM.APIKey)
	assert.Equal(t, 10*time.Second, cfg.VLM.Timeout)
	assert.Equal(t, uint64(99), cfg.Pipeline.Seed)
	assert.True(t, cfg.Pipeline.Stages.Query)
	assert.Equal(t, []string{"stdout", "/tmp/mf.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
render:
  out_dir: "yaml-out"
  fov_deg: 30
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("MATERIALFLOW_RENDER_OUT_DIR", "env-out")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	// 环境变量应该覆盖 YAML
	assert.Equal(t, "env-out", cfg.Render.OutDir)
	// YAML 值应该保留
	assert.Equal(t, 30.0, cfg.Render.FovDeg)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_RENDER_BACKEND", "raylib")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "raylib", cfg.Render.Backend)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("MATERIALFLOW_RENDER_FOV_DEG", "wide")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MATERIALFLOW_RENDER_FOV_DEG")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("MATERIALFLOW_VLM_WORKERS", "0")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error { return cfg.Validate() }).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "renders", cfg.Render.OutDir)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
render:
  azimuth_angles: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{
			name:    "empty azimuths",
			modify:  func(c *Config) { c.Render.AzimuthAngles = nil },
			wantErr: "azimuth_angles",
		},
		{
			name:    "fov out of range",
			modify:  func(c *Config) { c.Render.FovDeg = 180 },
			wantErr: "fov_deg",
		},
		{
			name:    "bad resolution",
			modify:  func(c *Config) { c.Render.Resolution = []int{800} },
			wantErr: "resolution",
		},
		{
			name:    "unknown render backend",
			modify:  func(c *Config) { c.Render.Backend = "opengl" },
			wantErr: "render.backend",
		},
		{
			name: "service backend without url",
			modify: func(c *Config) {
				c.Segmentation.Backend = "service"
				c.Segmentation.ServiceURL = ""
			},
			wantErr: "service_url",
		},
		{
			name:    "query stage without api key",
			modify:  func(c *Config) { c.Pipeline.Stages.Query = true },
			wantErr: "vlm_api_key",
		},
		{
			name: "query stage with unknown backend",
			modify: func(c *Config) {
				c.Pipeline.Stages.Query = true
				c.VLM.APIKey = "k"
				c.VLM.Type = "Claude"
			},
			wantErr: "vlm_type",
		},
		{
			name:    "unknown failure policy",
			modify:  func(c *Config) { c.VLM.FailurePolicy = "ignore" },
			wantErr: "failure_policy",
		},
		{
			name:    "unknown store driver",
			modify:  func(c *Config) { c.Store.Driver = "oracle" },
			wantErr: "store.driver",
		},
		{
			name:    "sample rate too high",
			modify:  func(c *Config) { c.Telemetry.SampleRate = 2 },
			wantErr: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Render.FovDeg = 0
	cfg.Store.Driver = "oracle"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fov_deg")
	assert.Contains(t, err.Error(), "store.driver")
}

func TestRenderConfig_EmptyResolution(t *testing.T) {
	r := DefaultRenderConfig()
	r.Resolution = nil

	assert.NotPanics(t, func() {
		assert.Zero(t, r.Width())
		assert.Zero(t, r.Height())
	})
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolution")

	// 渲染一节不检查后端名
	r = DefaultRenderConfig()
	r.Backend = "custom"
	assert.NoError(t, r.Validate())
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("render:\n  fov_deg: 50\n"), 0644))

	cfg := MustLoad(configPath)
	assert.Equal(t, 50.0, cfg.Render.FovDeg)
}

func TestMustLoad_Panics(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("render: [broken"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
