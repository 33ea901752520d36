// =============================================================================
// 📝 MaterialFlow VLM 标注
// =============================================================================
// 每个资产：gpt_input/<view>/<image> 按排序逐张查询，
// 结果逐行写入 <root>/<asset>/<asset>.txt 并立即刷新
// =============================================================================
package vlm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/materialflow/internal/ctxkeys"
	"github.com/BaSui01/materialflow/internal/metrics"
	"github.com/BaSui01/materialflow/internal/retry"
	"github.com/BaSui01/materialflow/segment"
)

// SentinelResponse 查询失败时写入的占位回答
const SentinelResponse = "error,-1"

// FailurePolicy 单张图片查询失败后的处理方式
type FailurePolicy string

const (
	// PolicySentinel 写入 <image>,error,-1 后继续
	PolicySentinel FailurePolicy = "sentinel"
	// PolicyAbort 立即返回错误
	PolicyAbort FailurePolicy = "abort"
)

// ParseFailurePolicy 解析失败策略，空串为 sentinel
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicySentinel:
		return PolicySentinel, nil
	case PolicyAbort:
		return PolicyAbort, nil
	}
	return "", fmt.Errorf("unknown failure policy %q", s)
}

// Options 标注选项
type Options struct {
	FailurePolicy FailurePolicy
	// MaxRetries 可重试错误的重试次数
	MaxRetries int
	// RetryDelay 首次重试延迟，默认 1s
	RetryDelay time.Duration
	// Workers 并发处理的资产数，默认 1
	Workers int
	// StrictParse 回答无法解析时写入哨兵行
	StrictParse bool
	// Materials 材质库，为空时使用 Materials
	Materials []string

	Skip        func(ctx context.Context, asset string) bool
	OnAssetDone func(ctx context.Context, asset string, res *AssetResult) error

	Metrics *metrics.Collector
}

// Line 结果文件中的一行
type Line struct {
	ImagePath string
	Response  string
	// Observation 解析成功时非空
	Observation *Observation
	Sentinel    bool
}

// String 结果文件中的文本形式
func (l Line) String() string { return l.ImagePath + "," + l.Response }

// AssetResult 单个资产的标注结果
type AssetResult struct {
	Asset string
	Path  string
	Lines []Line
}

// Observations 解析成功的观测
func (r *AssetResult) Observations() []Observation {
	var out []Observation
	for _, l := range r.Lines {
		if l.Observation != nil {
			out = append(out, *l.Observation)
		}
	}
	return out
}

// Report 整批结果
type Report struct {
	Processed []string
	Skipped   []string
	Failed    []string
}

// Annotator 对渲染根目录执行 VLM 标注
type Annotator struct {
	backend Backend
	prompt  string
	opts    Options
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewAnnotator 创建标注器
func NewAnnotator(backend Backend, opts Options, logger *zap.Logger) *Annotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = PolicySentinel
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Annotator{
		backend: backend,
		prompt:  BuildPrompt(opts.Materials),
		opts:    opts,
		retryer: retry.NewBackoffRetryer(&retry.RetryPolicy{
			MaxRetries:   opts.MaxRetries,
			InitialDelay: opts.RetryDelay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			Jitter:       true,
			ShouldRetry:  IsRetryable,
		}, logger),
		logger: logger.With(zap.String("component", "annotator"), zap.String("backend", backend.Name())),
	}
}

// Prompt 返回使用的提示词
func (a *Annotator) Prompt() string { return a.prompt }

// ResultPath <root>/<asset>/<asset>.txt
func ResultPath(assetDir string) string {
	name := filepath.Base(assetDir)
	return filepath.Join(assetDir, name+".txt")
}

// AssetDirs 列出 root 下含 gpt_input 的资产（排序）
func AssetDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list render root %s: %w", root, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if info, err := os.Stat(filepath.Join(root, e.Name(), segment.GPTInputDir)); err == nil && info.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// InputImages gpt_input 下按 视角、文件名 排序的图片路径
func InputImages(assetDir string) ([]string, error) {
	root := filepath.Join(assetDir, segment.GPTInputDir)
	views, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, v := range views {
		if !v.IsDir() {
			continue
		}
		files, err := segment.ListImages(filepath.Join(root, v.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, filepath.Join(root, v.Name(), f))
		}
	}
	return out, nil
}

// Run 标注 root 下所有资产。Workers > 1 时资产间并发，同一资产内严格顺序。
func (a *Annotator) Run(ctx context.Context, root string) (*Report, error) {
	assets, err := AssetDirs(root)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		report = &Report{}
	)
	add := func(list *[]string, name string) {
		mu.Lock()
		*list = append(*list, name)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for _, name := range assets {
		if gctx.Err() != nil {
			break
		}
		if a.opts.Skip != nil && a.opts.Skip(gctx, name) {
			add(&report.Skipped, name)
			continue
		}
		g.Go(func() error {
			res, err := a.AnnotateAsset(gctx, filepath.Join(root, name))
			if err == nil && a.opts.OnAssetDone != nil {
				err = a.opts.OnAssetDone(gctx, name, res)
			}
			if err != nil {
				add(&report.Failed, name)
				return fmt.Errorf("asset %s: %w", name, err)
			}
			add(&report.Processed, name)
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	sort.Strings(report.Processed)
	sort.Strings(report.Skipped)
	sort.Strings(report.Failed)
	return report, err
}

// AnnotateAsset 标注单个资产，结果文件会被重写
func (a *Annotator) AnnotateAsset(ctx context.Context, assetDir string) (*AssetResult, error) {
	name := filepath.Base(assetDir)
	ctx = ctxkeys.WithAsset(ctx, name)
	images, err := InputImages(assetDir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		a.logger.Warn("asset has no gpt_input images", zap.String("asset", name))
	}

	res := &AssetResult{Asset: name, Path: ResultPath(assetDir)}
	f, err := os.Create(res.Path)
	if err != nil {
		return nil, fmt.Errorf("create result file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	start := time.Now()
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		line, err := a.queryImage(ctx, img)
		if err != nil {
			return res, err
		}
		if _, err := w.WriteString(line.String() + "\n"); err != nil {
			return res, err
		}
		// 每行立即落盘，中断时文件里只有完整的行
		if err := w.Flush(); err != nil {
			return res, err
		}
		res.Lines = append(res.Lines, line)
	}

	a.logger.Info("asset annotated",
		zap.String("asset", name),
		zap.Int("lines", len(res.Lines)),
		zap.Int("observations", len(res.Observations())),
		zap.Duration("elapsed", time.Since(start)))
	return res, f.Close()
}

func (a *Annotator) queryImage(ctx context.Context, imagePath string) (Line, error) {
	resp, err := retry.DoWithResult(ctx, a.retryer, func() (string, error) {
		return a.backend.Query(ctx, imagePath, a.prompt)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Line{}, ctx.Err()
		}
		if a.opts.FailurePolicy == PolicyAbort {
			return Line{}, fmt.Errorf("query %s: %w", imagePath, err)
		}
		a.logger.Warn("vlm query failed, writing sentinel",
			append(ctxkeys.LogFields(ctx), zap.String("image", imagePath), zap.Error(err))...)
		a.record("sentinel")
		return Line{ImagePath: imagePath, Response: SentinelResponse, Sentinel: true}, nil
	}

	text := strings.TrimSpace(FoldLines(resp))
	obs, perr := ParseObservationIn(imagePath, text, a.opts.Materials)
	if perr != nil {
		if a.opts.StrictParse {
			a.logger.Warn("unparseable answer, writing sentinel",
				append(ctxkeys.LogFields(ctx), zap.String("image", imagePath), zap.Error(perr))...)
			a.record("sentinel")
			return Line{ImagePath: imagePath, Response: SentinelResponse, Sentinel: true}, nil
		}
		a.logger.Debug("unparseable answer kept verbatim", zap.String("image", imagePath), zap.Error(perr))
		a.record("invalid")
		return Line{ImagePath: imagePath, Response: text}, nil
	}
	a.record("valid")
	return Line{ImagePath: imagePath, Response: text, Observation: &obs}, nil
}

func (a *Annotator) record(outcome string) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordObservation(outcome)
	}
}

// ReadResults 读取结果文件，跳过空行
func ReadResults(path string) ([]Line, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []Line
	for _, raw := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		out = append(out, ParseLine(raw))
	}
	return out, nil
}

// ParseLine 解析结果文件中的一行。图片路径不含逗号时第一个逗号为分隔符。
func ParseLine(raw string) Line {
	img, resp, _ := strings.Cut(raw, ",")
	l := Line{ImagePath: img, Response: resp}
	if resp == SentinelResponse {
		l.Sentinel = true
		return l
	}
	if obs, err := ParseObservation(img, resp); err == nil {
		l.Observation = &obs
	}
	return l
}
