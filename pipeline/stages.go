package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/asset"
	"github.com/BaSui01/materialflow/internal/ctxkeys"
	"github.com/BaSui01/materialflow/internal/database"
	"github.com/BaSui01/materialflow/internal/telemetry"
	"github.com/BaSui01/materialflow/render"
	"github.com/BaSui01/materialflow/segment"
	"github.com/BaSui01/materialflow/vlm"
)

// =============================================================================
// 🎥 visualize
// =============================================================================

func (p *Pipeline) visualizeStage(ctx context.Context, input any) (out any, err error) {
	state := input.(*runState)
	ctx, end := stageSpan(ctx, StageVisualize, state.runID)
	defer func() { end(err) }()

	if err := p.cfg.Render.Validate(); err != nil {
		return nil, err
	}

	// 非 GLB 条目在任何渲染开始前就报错
	assets, err := asset.Discover(p.cfg.Pipeline.InputDir)
	if err != nil {
		return nil, err
	}

	backend := p.deps.RenderBackend
	if backend == nil {
		if backend, err = render.NewBackend(p.cfg.Render.Backend, p.logger); err != nil {
			return nil, err
		}
		defer backend.Close()
	}

	renderer := render.NewRenderer(p.cfg.Render, backend, p.logger)
	want := len(p.cfg.Render.AzimuthAngles) * len(p.cfg.Render.ElevationAngles)
	report := StageReport{Stage: StageVisualize}
	defer func() { state.summary.Stages = append(state.summary.Stages, report) }()

	for _, path := range assets {
		name := asset.Stem(path)
		dir := render.AssetDir(p.cfg.Render.OutDir, path)
		if p.shouldSkip(ctx, name, StageVisualize, func() bool { return rendersComplete(dir, want) }) {
			report.Skipped = append(report.Skipped, name)
			p.recordAsset(StageVisualize, "skipped")
			continue
		}

		actx, span := telemetry.StartSpan(ctxkeys.WithAsset(ctx, name), "visualize.asset", attribute.String("asset", name))
		res, err := renderer.RenderViews(actx, path)
		if err == nil {
			err = p.markDone(actx, state.runID, name, StageVisualize, len(res.Views))
		}
		telemetry.EndSpan(span, err)
		if err != nil {
			report.Failed = append(report.Failed, name)
			p.recordAsset(StageVisualize, "failed")
			return nil, fmt.Errorf("asset %s: %w", name, err)
		}

		report.Processed = append(report.Processed, name)
		p.recordAsset(StageVisualize, "done")
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordRenders(backend.Name(), len(res.Views))
		}
	}
	return state, nil
}

// rendersComplete N×M 张渲染图与 cameras.json 都在
func rendersComplete(dir string, want int) bool {
	images, err := segment.ListImages(filepath.Join(dir, render.ImagesDir))
	if err != nil || len(images) != want {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, render.CamerasFile))
	return err == nil
}

// =============================================================================
// ✂️ segment
// =============================================================================

func (p *Pipeline) segmentStage(ctx context.Context, input any) (out any, err error) {
	state := input.(*runState)
	ctx, end := stageSpan(ctx, StageSegment, state.runID)
	defer func() { end(err) }()

	segCfg := p.cfg.Segmentation
	root := p.cfg.Render.OutDir

	model := p.deps.MaskModel
	if model == nil {
		if model, err = segment.LoadModel(ctx, segCfg, p.logger); err != nil {
			return nil, err
		}
	}

	report := StageReport{Stage: StageSegment}
	defer func() { state.summary.Stages = append(state.summary.Stages, report) }()

	curate := segment.CurateOptions{MaxPartsPerView: segCfg.MaxPartsPerView, Logger: p.logger}
	segmenter := segment.NewSegmenter(model, segment.ParamsFromConfig(segCfg, p.cfg.Pipeline.Seed), segment.Options{
		ContinueOnError: segCfg.ContinueOnError,
		Rand:            state.rng,
		Skip: func(ctx context.Context, name string) bool {
			return p.shouldSkip(ctx, name, StageSegment, func() bool {
				return segmentsComplete(filepath.Join(root, name))
			})
		},
		OnAssetDone: func(ctx context.Context, name string, res *segment.AssetResult) error {
			parts, err := segment.CurateAsset(ctx, filepath.Join(root, name), curate)
			if err != nil {
				return err
			}
			if p.deps.Metrics != nil {
				p.deps.Metrics.RecordMasks(model.Name(), res.Masks)
			}
			p.logger.Info("asset segmented and curated",
				zap.String("asset", name),
				zap.Int("masks", res.Masks),
				zap.Int("parts", parts))
			return p.markDone(ctx, state.runID, name, StageSegment, parts)
		},
	}, p.logger)

	rep, err := segmenter.Run(ctx, root)
	if rep != nil {
		report.Processed, report.Skipped, report.Failed = rep.Processed, rep.Skipped, rep.Failed
		for range rep.Processed {
			p.recordAsset(StageSegment, "done")
		}
		for range rep.Skipped {
			p.recordAsset(StageSegment, "skipped")
		}
		for range rep.Failed {
			p.recordAsset(StageSegment, "failed")
		}
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// segmentsComplete 每张渲染图都有 masks.json，且 gpt_input 已生成
func segmentsComplete(assetDir string) bool {
	images, err := segment.ListImages(filepath.Join(assetDir, segment.ImagesDir))
	if err != nil || len(images) == 0 {
		return false
	}
	for _, img := range images {
		stem := img[:len(img)-len(filepath.Ext(img))]
		if _, err := os.Stat(filepath.Join(assetDir, segment.SegDir, stem+segment.MasksSuffix)); err != nil {
			return false
		}
	}
	info, err := os.Stat(filepath.Join(assetDir, segment.GPTInputDir))
	return err == nil && info.IsDir()
}

// =============================================================================
// 💬 query
// =============================================================================

func (p *Pipeline) queryStage(ctx context.Context, input any) (out any, err error) {
	state := input.(*runState)
	ctx, end := stageSpan(ctx, StageQuery, state.runID)
	defer func() { end(err) }()

	vcfg := p.cfg.VLM
	policy, err := vlm.ParseFailurePolicy(vcfg.FailurePolicy)
	if err != nil {
		return nil, err
	}

	var base vlm.Backend = p.deps.VLM
	if base == nil {
		b, err := vlm.New(vcfg, p.logger)
		if err != nil {
			return nil, err
		}
		base = b
	}

	mws := []vlm.Middleware{}
	if p.deps.Cache != nil {
		mws = append(mws, vlm.WithCache(p.deps.Cache, base.Name(), base.Model(), p.cfg.Cache.TTL, p.deps.Metrics, p.logger))
	}
	mws = append(mws,
		vlm.WithRateLimit(vcfg.RequestsPerMinute),
		vlm.WithMetrics(p.deps.Metrics, base.Name(), base.Model()),
		vlm.WithTimeout(vcfg.Timeout),
	)
	backend := vlm.Wrap(base, mws...)

	root := p.cfg.Render.OutDir
	annotator := vlm.NewAnnotator(backend, vlm.Options{
		FailurePolicy: policy,
		MaxRetries:    vcfg.MaxRetries,
		Workers:       vcfg.Workers,
		StrictParse:   vcfg.StrictParse,
		Metrics:       p.deps.Metrics,
		Skip: func(ctx context.Context, name string) bool {
			return p.shouldSkip(ctx, name, StageQuery, func() bool {
				return resultsComplete(filepath.Join(root, name))
			})
		},
		OnAssetDone: func(ctx context.Context, name string, res *vlm.AssetResult) error {
			return p.persistObservations(ctx, state, name, res)
		},
	}, p.logger)

	rep, err := annotator.Run(ctx, root)
	if rep != nil {
		state.summary.Stages = append(state.summary.Stages, StageReport{
			Stage:     StageQuery,
			Processed: rep.Processed,
			Skipped:   rep.Skipped,
			Failed:    rep.Failed,
		})
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// resultsComplete 结果文件行数等于 gpt_input 图片数
func resultsComplete(assetDir string) bool {
	images, err := vlm.InputImages(assetDir)
	if err != nil {
		return false
	}
	lines, err := vlm.ReadResults(vlm.ResultPath(assetDir))
	if err != nil {
		return false
	}
	return len(lines) == len(images)
}

// persistObservations 写入存储并导出，最后标记完成
func (p *Pipeline) persistObservations(ctx context.Context, state *runState, name string, res *vlm.AssetResult) error {
	records := ObservationRecords(state.runID, name, res)

	state.addObservations(len(res.Observations()))

	if p.deps.Ledger != nil {
		if err := p.deps.Ledger.ReplaceObservations(ctx, name, records); err != nil {
			return err
		}
	}
	if p.deps.Sink != nil {
		if err := p.deps.Sink.Export(ctx, state.runID, name, records); err != nil {
			return fmt.Errorf("export observations: %w", err)
		}
	}
	p.recordAsset(StageQuery, "done")
	return p.markDone(ctx, state.runID, name, StageQuery, len(res.Lines))
}

// ObservationRecords 把结果行转换为存储记录，无法解析的行保留原文
func ObservationRecords(runID, name string, res *vlm.AssetResult) []database.ObservationRecord {
	records := make([]database.ObservationRecord, 0, len(res.Lines))
	for _, l := range res.Lines {
		rec := database.ObservationRecord{
			RunID:     runID,
			Asset:     name,
			ImagePath: l.ImagePath,
			Raw:       l.Response,
		}
		if o := l.Observation; o != nil {
			rec.Caption = o.Caption
			rec.Material = o.Material
			rec.HardnessLow = o.HardnessLow
			rec.HardnessHigh = o.HardnessHigh
			rec.Scale = string(o.Scale)
			rec.Valid = true
		}
		records = append(records, rec)
	}
	return records
}
