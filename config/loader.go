// =============================================================================
// 📦 MaterialFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("MATERIALFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 MaterialFlow 的完整配置结构。
// 每个阶段拿到的是自己那一节的值拷贝，运行期间不会被修改。
type Config struct {
	// Render 多视角渲染配置
	Render RenderConfig `yaml:"render" env:"RENDER"`

	// Segmentation 掩码生成配置
	Segmentation SegmentationConfig `yaml:"segmentation" env:"SEGMENTATION"`

	// VLM 视觉语言模型配置
	VLM VLMConfig `yaml:"vlm" env:"VLM"`

	// Pipeline 流水线编排配置
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Store 阶段台账与观测结果存储
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Cache VLM 响应缓存（Redis）
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Export 观测结果导出（MongoDB）
	Export ExportConfig `yaml:"export" env:"EXPORT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// RenderConfig 多视角渲染配置
type RenderConfig struct {
	// 渲染输出根目录，每个资产一个子目录
	OutDir string `yaml:"out_dir" env:"OUT_DIR"`
	// 方位角列表（度），内层循环
	AzimuthAngles []float64 `yaml:"azimuth_angles" env:"AZIMUTH_ANGLES"`
	// 仰角列表（度），外层循环
	ElevationAngles []float64 `yaml:"elevation_angles" env:"ELEVATION_ANGLES"`
	// 资产是否需要先做坐标系旋转
	TrillisAsset bool `yaml:"trillis_asset" env:"TRILLIS_ASSET"`
	// 旋转结果是否覆盖原文件
	ReplaceOrgFile bool `yaml:"replace_org_file" env:"REPLACE_ORG_FILE"`
	// 水平视场角（度）
	FovDeg float64 `yaml:"fov_deg" env:"FOV_DEG"`
	// 分辨率 [width, height]
	Resolution []int `yaml:"resolution" env:"RESOLUTION"`
	// 是否输出带标记点的副本
	Mark bool `yaml:"mark" env:"MARK"`
	// 渲染后端: software, raylib
	Backend string `yaml:"backend" env:"BACKEND"`
}

// Width 返回输出宽度，resolution 缺失时为 0
func (r RenderConfig) Width() int {
	if len(r.Resolution) != 2 {
		return 0
	}
	return r.Resolution[0]
}

// Height 返回输出高度，resolution 缺失时为 0
func (r RenderConfig) Height() int {
	if len(r.Resolution) != 2 {
		return 0
	}
	return r.Resolution[1]
}

// Validate 检查角度、视场角与分辨率。后端名由 Config.Validate 检查，
// 直接注入 Backend 的调用方不受其约束。
func (r RenderConfig) Validate() error {
	if errs := r.problems(); len(errs) > 0 {
		return fmt.Errorf("render config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (r RenderConfig) problems() []string {
	var errs []string
	if len(r.AzimuthAngles) == 0 {
		errs = append(errs, "render.azimuth_angles must not be empty")
	}
	if len(r.ElevationAngles) == 0 {
		errs = append(errs, "render.elevation_angles must not be empty")
	}
	if r.FovDeg <= 0 || r.FovDeg >= 180 {
		errs = append(errs, "render.fov_deg must be in (0, 180)")
	}
	if r.Width() <= 0 || r.Height() <= 0 {
		errs = append(errs, "render.resolution must be [width, height] with positive values")
	}
	return errs
}

// SegmentationConfig 掩码生成配置
type SegmentationConfig struct {
	// 推理设备，透传给分割服务
	Device string `yaml:"device" env:"DEVICE"`
	// 模型权重路径（服务端路径）
	SAM2Checkpoint string `yaml:"sam2_checkpoint" env:"SAM2_CHECKPOINT"`
	// 模型结构配置
	ModelCfg string `yaml:"model_cfg" env:"MODEL_CFG"`

	PointsPerSide              int     `yaml:"points_per_side" env:"POINTS_PER_SIDE"`
	PointsPerBatch             int     `yaml:"points_per_batch" env:"POINTS_PER_BATCH"`
	PredIoUThresh              float64 `yaml:"pred_iou_thresh" env:"PRED_IOU_THRESH"`
	StabilityScoreThresh       float64 `yaml:"stability_score_thresh" env:"STABILITY_SCORE_THRESH"`
	StabilityScoreOffset       float64 `yaml:"stability_score_offset" env:"STABILITY_SCORE_OFFSET"`
	CropNLayers                int     `yaml:"crop_n_layers" env:"CROP_N_LAYERS"`
	BoxNMSThresh               float64 `yaml:"box_nms_thresh" env:"BOX_NMS_THRESH"`
	CropNPointsDownscaleFactor int     `yaml:"crop_n_points_downscale_factor" env:"CROP_N_POINTS_DOWNSCALE_FACTOR"`
	MinMaskRegionArea          int     `yaml:"min_mask_region_area" env:"MIN_MASK_REGION_AREA"`
	UseM2M                     bool    `yaml:"use_m2m" env:"USE_M2M"`

	// 分割后端: service（远程推理服务）, region（本地颜色区域）
	Backend string `yaml:"backend" env:"BACKEND"`
	// 推理服务地址
	ServiceURL string `yaml:"service_url" env:"SERVICE_URL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 私有 CA 证书（PEM），推理服务走内部 TLS 时使用
	CAFile string `yaml:"ca_file" env:"CA_FILE"`
	// 每个视角送入 VLM 的最大部件数
	MaxPartsPerView int `yaml:"max_parts_per_view" env:"MAX_PARTS_PER_VIEW"`
	// 单个资产失败时是否继续处理其余资产
	ContinueOnError bool `yaml:"continue_on_error" env:"CONTINUE_ON_ERROR"`
}

// VLMConfig 视觉语言模型配置
type VLMConfig struct {
	// 后端类型: Qwen, GPT4V
	Type string `yaml:"vlm_type" env:"TYPE"`
	// API Key
	APIKey string `yaml:"vlm_api_key" env:"API_KEY"`
	// 模型名称，为空时使用后端默认值
	Model string `yaml:"vlm_model_name" env:"MODEL_NAME"`
	// 基础 URL，为空时使用后端默认值
	BaseURL string `yaml:"vlm_base_url" env:"BASE_URL"`
	// 单次请求超时，0 表示不限制
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 可重试错误的最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 失败策略: sentinel, abort
	FailurePolicy string `yaml:"failure_policy" env:"FAILURE_POLICY"`
	// 每分钟请求上限，0 表示不限流
	RequestsPerMinute int `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE"`
	// 并发处理的资产数
	Workers int `yaml:"workers" env:"WORKERS"`
	// 回答不符合格式时写入哨兵行
	StrictParse bool `yaml:"strict_parse" env:"STRICT_PARSE"`
}

// PipelineConfig 流水线编排配置
type PipelineConfig struct {
	// GLB 资产目录
	InputDir string `yaml:"input_dir" env:"INPUT_DIR"`
	// 随机种子
	Seed uint64 `yaml:"seed" env:"SEED"`
	// 阶段开关
	Stages StagesConfig `yaml:"stages" env:"STAGES"`
	// 忽略检查点，强制重跑
	Force bool `yaml:"force" env:"FORCE"`
}

// StagesConfig 阶段开关
type StagesConfig struct {
	Visualize bool `yaml:"visualize" env:"VISUALIZE"`
	Segment   bool `yaml:"segment" env:"SEGMENT"`
	Query     bool `yaml:"query" env:"QUERY"`
}

// StoreConfig 台账存储配置
type StoreConfig struct {
	// 驱动类型: sqlite, postgres, mysql, none
	Driver string `yaml:"driver" env:"DRIVER"`
	// 连接串；sqlite 下为文件路径
	DSN string `yaml:"dsn" env:"DSN"`
	// 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// CacheConfig Redis 缓存配置
type CacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 缓存过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// ExportConfig MongoDB 导出配置
type ExportConfig struct {
	// 连接 URI，为空表示不导出
	MongoURI string `yaml:"mongo_uri" env:"MONGO_URI"`
	// 数据库名
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE"`
	// 集合名
	MongoCollection string `yaml:"mongo_collection" env:"MONGO_COLLECTION"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// node_exporter textfile 输出路径，为空则不落盘
	TextfilePath string `yaml:"textfile_path" env:"TEXTFILE_PATH"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MATERIALFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔：字符串、整数、浮点数切片
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			if err := setFieldValue(out.Index(i), strings.TrimSpace(p)); err != nil {
				return err
			}
		}
		field.Set(out)
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置，一次性收集所有错误
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.Render.problems()...)
	if b := c.Render.Backend; b != "software" && b != "raylib" {
		errs = append(errs, fmt.Sprintf("render.backend %q not supported (software, raylib)", b))
	}

	s := c.Segmentation
	if s.PointsPerSide <= 0 || s.PointsPerBatch <= 0 {
		errs = append(errs, "segmentation.points_per_side and points_per_batch must be positive")
	}
	if s.MinMaskRegionArea < 0 {
		errs = append(errs, "segmentation.min_mask_region_area must not be negative")
	}
	switch s.Backend {
	case "region":
	case "service":
		if s.ServiceURL == "" {
			errs = append(errs, "segmentation.service_url is required for the service backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("segmentation.backend %q not supported (service, region)", s.Backend))
	}

	v := c.VLM
	if c.Pipeline.Stages.Query {
		if v.Type != "Qwen" && v.Type != "GPT4V" {
			errs = append(errs, fmt.Sprintf("vlm.vlm_type %q not supported (Qwen, GPT4V)", v.Type))
		}
		if strings.TrimSpace(v.APIKey) == "" {
			errs = append(errs, "vlm.vlm_api_key is required when the query stage is enabled")
		}
	}
	if v.FailurePolicy != "sentinel" && v.FailurePolicy != "abort" {
		errs = append(errs, fmt.Sprintf("vlm.failure_policy %q not supported (sentinel, abort)", v.FailurePolicy))
	}
	if v.MaxRetries < 0 || v.Workers <= 0 || v.RequestsPerMinute < 0 {
		errs = append(errs, "vlm.max_retries and requests_per_minute must be >= 0, workers must be positive")
	}

	switch c.Store.Driver {
	case "none", "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q not supported", c.Store.Driver))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
