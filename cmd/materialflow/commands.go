package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/asset"
	"github.com/BaSui01/materialflow/config"
	"github.com/BaSui01/materialflow/pipeline"
)

// =============================================================================
// 🚀 流水线命令
// =============================================================================

// runPipeline 执行 run/render/segment/query。stages 非空时覆盖配置中的阶段开关。
func runPipeline(name string, args []string, stages *config.StagesConfig) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	input := fs.String("input", "", "GLB asset directory")
	out := fs.String("out", "", "Render output root")
	force := fs.Bool("force", false, "Ignore the stage ledger")
	logLevel := fs.String("log-level", "", "Override log level")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cfg, *input, *out, *force, *logLevel, stages)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("starting MaterialFlow",
		zap.String("version", Version),
		zap.String("command", name),
		zap.String("input_dir", cfg.Pipeline.InputDir),
		zap.String("out_dir", cfg.Render.OutDir),
		zap.Bool("visualize", cfg.Pipeline.Stages.Visualize),
		zap.Bool("segment", cfg.Pipeline.Stages.Segment),
		zap.Bool("query", cfg.Pipeline.Stages.Query),
	)

	summary, err := pipeline.New(cfg, rt.Dependencies(), logger).Run(ctx)
	if summary != nil {
		for _, st := range summary.Stages {
			logger.Info("stage summary",
				zap.String("stage", st.Stage),
				zap.Int("processed", len(st.Processed)),
				zap.Int("skipped", len(st.Skipped)),
				zap.Int("failed", len(st.Failed)),
			)
		}
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("run interrupted, completed outputs are kept")
		return err
	}
	if err != nil {
		return err
	}
	logger.Info("run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("observations", summary.Observations))
	return nil
}

// applyOverrides 命令行参数覆盖配置
func applyOverrides(cfg *config.Config, input, out string, force bool, logLevel string, stages *config.StagesConfig) {
	if input != "" {
		cfg.Pipeline.InputDir = input
	}
	if out != "" {
		cfg.Render.OutDir = out
	}
	if force {
		cfg.Pipeline.Force = true
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if stages != nil {
		cfg.Pipeline.Stages = *stages
	}
}

// =============================================================================
// 🔄 资产工具
// =============================================================================

func runRotate(args []string) error {
	fs := flag.NewFlagSet("rotate", flag.ContinueOnError)
	replace := fs.Bool("replace", false, "Overwrite the input file")
	eulerFlag := fs.String("euler", "90,0,180", "Static xyz Euler angles in degrees")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: materialflow rotate [--replace] [--euler x,y,z] <file.glb>...")
		return errUsage
	}
	euler, err := parseEuler(*eulerFlag)
	if err != nil {
		return err
	}
	for _, path := range fs.Args() {
		out, err := asset.Rotate(path, euler, *replace)
		if err != nil {
			return err
		}
		fmt.Println(out)
	}
	return nil
}

func runSubmesh(args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: materialflow submesh <extract|merge> [--out dir] <file>...")
		return errUsage
	}
	mode := args[0]
	fs := flag.NewFlagSet("submesh "+mode, flag.ContinueOnError)
	out := fs.String("out", "", "Output directory (defaults to <file>_parts or <file>_merged)")
	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	for _, path := range fs.Args() {
		switch mode {
		case "extract":
			files, err := asset.ExtractSubmeshes(path, outputDir(*out, path, "_parts"))
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Println(f)
			}
		case "merge":
			file, err := asset.MergeSubmeshes(path, outputDir(*out, path, "_merged"))
			if err != nil {
				return err
			}
			fmt.Println(file)
		default:
			fmt.Fprintf(os.Stderr, "Unknown submesh mode: %s\n", mode)
			return errUsage
		}
	}
	return nil
}

// outputDir 未指定时在输入旁边建目录
func outputDir(out, path, suffix string) string {
	if out != "" {
		return out
	}
	return filepath.Join(filepath.Dir(path), asset.Stem(path)+suffix)
}

// parseEuler 解析 "x,y,z"（度）
func parseEuler(s string) (mgl64.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("euler %q: want three comma separated angles", s)
	}
	var v mgl64.Vec3
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return mgl64.Vec3{}, fmt.Errorf("euler %q: %w", s, err)
		}
		v[i] = f
	}
	return v, nil
}
