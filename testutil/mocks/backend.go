// StubBackend 是 VLM 后端的测试模拟实现。
//
// 支持固定回答、按图片定制回答、错误注入与调用记录。
package mocks

import (
	"context"
	"sync"
	"time"
)

// StubCall 记录单次查询
type StubCall struct {
	ImagePath string
	Prompt    string
	Response  string
	Error     error
}

// StubBackend 是 vlm.Backend 的模拟实现
type StubBackend struct {
	mu sync.Mutex

	name     string
	model    string
	response string
	err      error

	queryFunc func(ctx context.Context, imagePath, prompt string) (string, error)

	delay     time.Duration
	failAfter int // 第 N 次调用之后开始返回 err
	failFirst int // 前 N 次调用返回 err
	callCount int
	calls     []StubCall
}

// --- 构造函数和 Builder 方法 ---

// NewStubBackend 创建新的 StubBackend
func NewStubBackend() *StubBackend {
	return &StubBackend{
		name:     "stub",
		model:    "stub-vl",
		response: "stub part,plastic,40-50,Shore D",
	}
}

// WithName 设置后端标识
func (m *StubBackend) WithName(name string) *StubBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponse 设置固定回答
func (m *StubBackend) WithResponse(response string) *StubBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置返回错误
func (m *StubBackend) WithError(err error) *StubBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFailAfter 前 n 次调用成功，之后返回 WithError 设置的错误
func (m *StubBackend) WithFailAfter(n int) *StubBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithFailFirst 前 n 次调用返回 WithError 设置的错误，之后成功
func (m *StubBackend) WithFailFirst(n int) *StubBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	return m
}

// WithDelay 每次调用前等待 d（受 ctx 控制）
func (m *StubBackend) WithDelay(d time.Duration) *StubBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithQueryFunc 自定义查询逻辑，优先级最高
func (m *StubBackend) WithQueryFunc(fn func(ctx context.Context, imagePath, prompt string) (string, error)) *StubBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryFunc = fn
	return m
}

// --- vlm.Backend 实现 ---

// Name 返回后端标识
func (m *StubBackend) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Model 返回模型名
func (m *StubBackend) Model() string { return m.model }

// Query 返回预设回答
func (m *StubBackend) Query(ctx context.Context, imagePath, prompt string) (string, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	delay, fn := m.delay, m.queryFunc
	response, err := m.response, m.err
	failAfter, failFirst := m.failAfter, m.failFirst
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			m.record(imagePath, prompt, "", ctx.Err())
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	switch {
	case fn != nil:
		response, err = fn(ctx, imagePath, prompt)
	case failFirst > 0:
		if n > failFirst {
			err = nil
		}
	case failAfter > 0:
		if n <= failAfter {
			err = nil
		}
	}
	if err != nil {
		response = ""
	}
	m.record(imagePath, prompt, response, err)
	return response, err
}

func (m *StubBackend) record(imagePath, prompt, response string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, StubCall{ImagePath: imagePath, Prompt: prompt, Response: response, Error: err})
}

// --- 检查方法 ---

// CallCount 调用次数
func (m *StubBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Calls 全部调用记录
func (m *StubBackend) Calls() []StubCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StubCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset 清空调用记录
func (m *StubBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.calls = nil
}
