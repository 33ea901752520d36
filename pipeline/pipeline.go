// =============================================================================
// 🧩 MaterialFlow 资产材质流水线
// =============================================================================
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/config"
	"github.com/BaSui01/materialflow/internal/ctxkeys"
	"github.com/BaSui01/materialflow/internal/database"
	"github.com/BaSui01/materialflow/internal/export"
	"github.com/BaSui01/materialflow/internal/metrics"
	"github.com/BaSui01/materialflow/internal/telemetry"
	"github.com/BaSui01/materialflow/render"
	"github.com/BaSui01/materialflow/segment"
	"github.com/BaSui01/materialflow/vlm"
	"github.com/BaSui01/materialflow/workflow"
)

// 阶段名，同时用作台账中的 stage 字段
const (
	StageSeed      = "seed"
	StageVisualize = "visualize"
	StageSegment   = "segment"
	StageQuery     = "query"
)

// Dependencies 外部协作者。为空的字段按配置创建或直接跳过。
type Dependencies struct {
	// RenderBackend 为空时按 render.backend 创建
	RenderBackend render.Backend
	// MaskModel 为空时按 segmentation 配置加载
	MaskModel segment.Model
	// VLM 为空时按 vlm 配置创建
	VLM vlm.Backend

	Ledger  *database.Ledger
	Sink    export.Sink
	Cache   vlm.ResponseCache
	Metrics *metrics.Collector
}

// StageReport 单个阶段的资产处理结果
type StageReport struct {
	Stage     string
	Processed []string
	Skipped   []string
	Failed    []string
}

// Summary 一次运行的结果
type Summary struct {
	RunID        string
	Stages       []StageReport
	Observations int
}

// Stage 按名字查找阶段结果
func (s *Summary) Stage(name string) *StageReport {
	for i := range s.Stages {
		if s.Stages[i].Stage == name {
			return &s.Stages[i]
		}
	}
	return nil
}

// runState 在阶段之间传递
type runState struct {
	runID   string
	rng     *rand.Rand
	summary *Summary

	// query 阶段的 worker 并发更新 summary
	mu sync.Mutex
}

func (s *runState) addObservations(n int) {
	s.mu.Lock()
	s.summary.Observations += n
	s.mu.Unlock()
}

// Pipeline 资产材质流水线
type Pipeline struct {
	cfg    *config.Config
	deps   Dependencies
	logger *zap.Logger
}

// New 创建流水线
func New(cfg *config.Config, deps Dependencies, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("component", "pipeline")),
	}
}

// Steps 按配置组装的阶段
func (p *Pipeline) Steps() []workflow.Step {
	steps := []workflow.Step{workflow.NewFuncStep(StageSeed, p.seedStage)}
	st := p.cfg.Pipeline.Stages
	if st.Visualize {
		steps = append(steps, workflow.NewFuncStep(StageVisualize, p.visualizeStage))
	}
	if st.Segment {
		steps = append(steps, workflow.NewFuncStep(StageSegment, p.segmentStage))
	}
	if st.Query {
		steps = append(steps, workflow.NewFuncStep(StageQuery, p.queryStage))
	}
	return steps
}

// Run 执行一次完整运行
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	logger := p.logger.With(zap.String("run_id", runID))
	state := &runState{runID: runID, summary: &Summary{RunID: runID}}

	ctx = ctxkeys.WithRunID(ctx, runID)
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run", attribute.String("run_id", runID))
	ctx = workflow.WithEmitter(ctx, func(e workflow.Event) {
		switch e.Type {
		case workflow.EventStepStart:
			logger.Info("stage started", zap.String("stage", e.Step))
		case workflow.EventStepComplete:
			logger.Info("stage completed", zap.String("stage", e.Step), zap.Duration("elapsed", e.Duration))
			if p.deps.Metrics != nil {
				p.deps.Metrics.RecordStage(e.Step, nil, e.Duration)
			}
		case workflow.EventStepError:
			logger.Error("stage failed", zap.String("stage", e.Step), zap.Error(e.Error))
			if p.deps.Metrics != nil {
				p.deps.Metrics.RecordStage(e.Step, e.Error, e.Duration)
			}
		}
	})

	start := time.Now()
	wf := workflow.NewChainWorkflow("materialflow", p.Steps()...)
	_, err := wf.Execute(ctx, state)
	telemetry.EndSpan(span, err)
	if err != nil {
		return state.summary, err
	}

	logger.Info("pipeline finished",
		zap.Int("observations", state.summary.Observations),
		zap.Duration("elapsed", time.Since(start)))
	return state.summary, nil
}

// =============================================================================
// 🎲 seed
// =============================================================================

// seedStage 构造显式随机源交给后续阶段，不修改任何全局状态
func (p *Pipeline) seedStage(ctx context.Context, input any) (any, error) {
	state := input.(*runState)
	seed := p.cfg.Pipeline.Seed
	state.rng = rand.New(rand.NewPCG(seed, 0))
	p.logger.Debug("random source seeded", zap.Uint64("seed", seed))
	return state, nil
}

// =============================================================================
// 🔖 台账
// =============================================================================

// shouldSkip 台账标记完成且磁盘产物齐全时跳过
func (p *Pipeline) shouldSkip(ctx context.Context, asset, stage string, onDisk func() bool) bool {
	if p.cfg.Pipeline.Force || p.deps.Ledger == nil {
		return false
	}
	done, err := p.deps.Ledger.IsDone(ctx, asset, stage)
	if err != nil {
		p.logger.Warn("ledger lookup failed", zap.String("asset", asset), zap.String("stage", stage), zap.Error(err))
		return false
	}
	if done && !onDisk() {
		p.logger.Info("ledger entry stale, redoing", zap.String("asset", asset), zap.String("stage", stage))
		return false
	}
	return done
}

func (p *Pipeline) markDone(ctx context.Context, runID, asset, stage string, outputs int) error {
	if p.deps.Ledger == nil {
		return nil
	}
	if err := p.deps.Ledger.MarkDone(ctx, runID, asset, stage, outputs); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

func (p *Pipeline) recordAsset(stage, outcome string) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordAsset(stage, outcome)
	}
}

func stageSpan(ctx context.Context, stage, runID string) (context.Context, func(error)) {
	ctx = ctxkeys.WithStage(ctx, stage)
	ctx, span := telemetry.StartSpan(ctx, "pipeline."+stage, attribute.String("run_id", runID))
	return ctx, func(err error) {
		if errors.Is(err, context.Canceled) {
			span.SetAttributes(attribute.Bool("cancelled", true))
		}
		telemetry.EndSpan(span, err)
	}
}
