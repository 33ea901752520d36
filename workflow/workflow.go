package workflow

import (
	"context"
	"fmt"
	"time"
)

// Step 工作流步骤
type Step interface {
	// Name 返回步骤名称
	Name() string
	// Execute 执行步骤，input 为上一步的输出
	Execute(ctx context.Context, input any) (any, error)
}

// StepFunc 步骤函数类型
type StepFunc func(ctx context.Context, input any) (any, error)

// FuncStep 函数步骤实现
type FuncStep struct {
	name string
	fn   StepFunc
}

// NewFuncStep 创建函数步骤
func NewFuncStep(name string, fn StepFunc) *FuncStep {
	return &FuncStep{name: name, fn: fn}
}

func (s *FuncStep) Execute(ctx context.Context, input any) (any, error) {
	return s.fn(ctx, input)
}

func (s *FuncStep) Name() string { return s.name }

// ChainWorkflow 顺序链式工作流
type ChainWorkflow struct {
	name  string
	steps []Step
}

// NewChainWorkflow 创建链式工作流
func NewChainWorkflow(name string, steps ...Step) *ChainWorkflow {
	return &ChainWorkflow{name: name, steps: steps}
}

// Execute 按顺序执行每个步骤。某一步返回错误后不再执行后续步骤。
func (w *ChainWorkflow) Execute(ctx context.Context, input any) (any, error) {
	emit, _ := emitterFromContext(ctx)
	current := input

	for i, step := range w.steps {
		if err := ctx.Err(); err != nil {
			return current, err
		}

		if emit != nil {
			emit(Event{Type: EventStepStart, Step: step.Name(), Index: i})
		}
		start := time.Now()
		result, err := step.Execute(ctx, current)
		elapsed := time.Since(start)
		if err != nil {
			if emit != nil {
				emit(Event{Type: EventStepError, Step: step.Name(), Index: i, Duration: elapsed, Error: err})
			}
			return current, fmt.Errorf("step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		if emit != nil {
			emit(Event{Type: EventStepComplete, Step: step.Name(), Index: i, Duration: elapsed})
		}
		current = result
	}
	return current, nil
}

// Name 返回工作流名称
func (w *ChainWorkflow) Name() string { return w.name }

// AddStep 追加步骤
func (w *ChainWorkflow) AddStep(step Step) { w.steps = append(w.steps, step) }

// Steps 返回所有步骤
func (w *ChainWorkflow) Steps() []Step { return w.steps }

// =============================================================================
// 事件
// =============================================================================

// EventType 事件类型
type EventType string

const (
	EventStepStart    EventType = "step_start"
	EventStepComplete EventType = "step_complete"
	EventStepError    EventType = "step_error"
)

// Event 步骤事件
type Event struct {
	Type     EventType
	Step     string
	Index    int
	Duration time.Duration
	Error    error
}

// Emitter 事件回调
type Emitter func(Event)

type emitterKey struct{}

// WithEmitter 在 context 中挂载事件回调
func WithEmitter(ctx context.Context, emitter Emitter) context.Context {
	if emitter == nil {
		return ctx
	}
	return context.WithValue(ctx, emitterKey{}, emitter)
}

func emitterFromContext(ctx context.Context) (Emitter, bool) {
	emit, ok := ctx.Value(emitterKey{}).(Emitter)
	return emit, ok && emit != nil
}
