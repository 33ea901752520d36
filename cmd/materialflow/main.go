// =============================================================================
// MaterialFlow 主入口
// =============================================================================
// 使用方法:
//
//	materialflow run --config config.yaml         # 按配置执行全流程
//	materialflow render --input test_asset        # 只渲染
//	materialflow segment --out renders            # 只分割
//	materialflow query --out renders              # 只查询 VLM
//	materialflow rotate chair.glb                 # 旋转资产
//	materialflow submesh extract -o parts a.obj   # 拆分子网格
//	materialflow version                          # 显示版本信息
// =============================================================================
package main

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/materialflow/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage 参数错误，已打印用法
var errUsage = errors.New("invalid usage")

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runPipeline("run", os.Args[2:], nil)
	case "render":
		err = runPipeline("render", os.Args[2:], &config.StagesConfig{Visualize: true})
	case "segment":
		err = runPipeline("segment", os.Args[2:], &config.StagesConfig{Segment: true})
	case "query":
		err = runPipeline("query", os.Args[2:], &config.StagesConfig{Query: true})
	case "rotate":
		err = runRotate(os.Args[2:])
	case "submesh":
		err = runSubmesh(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("MaterialFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`MaterialFlow - 3D asset material annotation pipeline

Usage:
  materialflow <command> [options]

Commands:
  run       Run the enabled stages (visualize, segment, query)
  render    Render multi-view images only
  segment   Generate masks and gpt_input composites only
  query     Query the VLM over gpt_input images only
  rotate    Rotate GLB assets into render orientation
  submesh   Split (extract) or normalize (merge) OBJ/GLB meshes
  version   Show version information
  help      Show this help message

Options for run/render/segment/query:
  --config <path>   Path to configuration file (YAML)
  --input <dir>     GLB asset directory (pipeline.input_dir)
  --out <dir>       Render root (render.out_dir)
  --force           Ignore the stage ledger and redo every asset
  --log-level <l>   Override log.level

Examples:
  materialflow run --config config.yaml
  materialflow render --input test_asset --out renders
  MATERIALFLOW_VLM_API_KEY=sk-... materialflow query --out renders
  materialflow rotate --replace chair.glb
  materialflow submesh extract --out parts chair.obj
  materialflow submesh merge --out merged chair.obj`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
