package vlm_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/materialflow/internal/metrics"
	"github.com/BaSui01/materialflow/testutil"
	"github.com/BaSui01/materialflow/testutil/mocks"
	"github.com/BaSui01/materialflow/vlm"
)

// gptInput 在 root/<asset>/gpt_input/<view>/part_<k>.png 下放 views×parts 张图
func gptInput(t *testing.T, root, asset string, views, parts int) []string {
	t.Helper()
	var paths []string
	for v := 0; v < views; v++ {
		dir := filepath.Join(root, asset, "gpt_input", fmt.Sprintf("render_%d", v))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for k := 0; k < parts; k++ {
			p := filepath.Join(dir, fmt.Sprintf("part_%d.png", k))
			require.NoError(t, os.WriteFile(p, []byte(p), 0o644))
			paths = append(paths, p)
		}
	}
	return paths
}

func fastOptions() vlm.Options {
	return vlm.Options{MaxRetries: 2, RetryDelay: time.Millisecond}
}

func TestAnnotator_WritesOneLinePerImage(t *testing.T) {
	root := t.TempDir()
	images := gptInput(t, root, "chair", 1, 2)
	stub := mocks.NewStubBackend().WithResponse("cap,wood,30-40,Shore A")

	var results []*vlm.AssetResult
	opts := fastOptions()
	opts.OnAssetDone = func(_ context.Context, _ string, res *vlm.AssetResult) error {
		results = append(results, res)
		return nil
	}
	report, err := vlm.NewAnnotator(stub, opts, zaptest.NewLogger(t)).Run(testutil.TestContext(t), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"chair"}, report.Processed)

	lines := testutil.ReadLines(t, filepath.Join(root, "chair", "chair.txt"))
	require.Len(t, lines, 2)
	for i, line := range lines {
		assert.Equal(t, images[i]+",cap,wood,30-40,Shore A", line)
		assert.True(t, strings.HasSuffix(line, "cap,wood,30-40,Shore A"))
	}

	require.Len(t, results, 1)
	obs := results[0].Observations()
	require.Len(t, obs, 2)
	assert.Equal(t, images[0], obs[0].ImagePath)
	assert.Equal(t, vlm.ShoreA, obs[0].Scale)

	calls := stub.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, vlm.BuildPrompt(nil), calls[0].Prompt)
}

func TestAnnotator_SortedAcrossViews(t *testing.T) {
	root := t.TempDir()
	images := gptInput(t, root, "lamp", 3, 2)
	stub := mocks.NewStubBackend()

	_, err := vlm.NewAnnotator(stub, fastOptions(), nil).Run(context.Background(), root)
	require.NoError(t, err)

	var queried []string
	for _, c := range stub.Calls() {
		queried = append(queried, c.ImagePath)
	}
	assert.Equal(t, images, queried)
}

func TestAnnotator_FoldsMultilineAnswers(t *testing.T) {
	root := t.TempDir()
	gptInput(t, root, "a", 1, 1)
	stub := mocks.NewStubBackend().WithResponse("cap,\nwood,\n30-40,\nShore A\n")

	_, err := vlm.NewAnnotator(stub, fastOptions(), nil).Run(context.Background(), root)
	require.NoError(t, err)
	lines := testutil.ReadLines(t, filepath.Join(root, "a", "a.txt"))
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], ",cap, wood, 30-40, Shore A"), lines[0])
}

func TestAnnotator_SentinelPolicy(t *testing.T) {
	root := t.TempDir()
	images := gptInput(t, root, "a", 1, 3)

	// 第二张图一直失败（不可重试），其余正常
	stub := mocks.NewStubBackend().WithQueryFunc(func(_ context.Context, img, _ string) (string, error) {
		if strings.HasSuffix(img, "part_1.png") {
			return "", &vlm.Error{Code: vlm.ErrInvalidRequest, Message: "bad image"}
		}
		return "cap,wood,30-40,Shore A", nil
	})
	collector := metrics.NewCollector("test", nil)
	opts := fastOptions()
	opts.Metrics = collector

	_, err := vlm.NewAnnotator(stub, opts, nil).Run(context.Background(), root)
	require.NoError(t, err)
	lines := testutil.ReadLines(t, filepath.Join(root, "a", "a.txt"))
	require.Len(t, lines, 3)
	assert.Equal(t, images[1]+",error,-1", lines[1])
	assert.Equal(t, 3, stub.CallCount())
	assert.Equal(t, 3.0, counterValue(t, collector.Registry(), "test_observations_total"))
}

func TestAnnotator_RetriesRetryableErrors(t *testing.T) {
	root := t.TempDir()
	gptInput(t, root, "a", 1, 1)
	stub := mocks.NewStubBackend().
		WithError(&vlm.Error{Code: vlm.ErrRateLimited, Retryable: true}).
		WithFailFirst(2)

	_, err := vlm.NewAnnotator(stub, fastOptions(), nil).Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 3, stub.CallCount())
	lines := testutil.ReadLines(t, filepath.Join(root, "a", "a.txt"))
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "error,-1")
}

func TestAnnotator_RetriesExhaustedWritesSentinel(t *testing.T) {
	root := t.TempDir()
	images := gptInput(t, root, "a", 1, 1)
	stub := mocks.NewStubBackend().WithError(&vlm.Error{Code: vlm.ErrUpstreamError, Retryable: true})

	_, err := vlm.NewAnnotator(stub, fastOptions(), nil).Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 3, stub.CallCount())
	assert.Equal(t, []string{images[0] + ",error,-1"}, testutil.ReadLines(t, filepath.Join(root, "a", "a.txt")))
}

func TestAnnotator_AbortPolicy(t *testing.T) {
	root := t.TempDir()
	images := gptInput(t, root, "a", 1, 3)
	stub := mocks.NewStubBackend().WithError(errors.New("quota")).WithFailAfter(1)

	opts := fastOptions()
	opts.FailurePolicy = vlm.PolicyAbort
	report, err := vlm.NewAnnotator(stub, opts, nil).Run(context.Background(), root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
	assert.Equal(t, []string{"a"}, report.Failed)

	// 已完成的行保留
	lines := testutil.ReadLines(t, filepath.Join(root, "a", "a.txt"))
	assert.Equal(t, []string{images[0] + ",stub part,plastic,40-50,Shore D"}, lines)
}

func TestAnnotator_StrictParse(t *testing.T) {
	root := t.TempDir()
	gptInput(t, root, "a", 1, 1)
	stub := mocks.NewStubBackend().WithResponse("I think it is made of steel")

	opts := fastOptions()
	lenient, err := vlm.NewAnnotator(stub, opts, nil).AnnotateAsset(context.Background(), filepath.Join(root, "a"))
	require.NoError(t, err)
	require.Len(t, lenient.Lines, 1)
	assert.Equal(t, "I think it is made of steel", lenient.Lines[0].Response)
	assert.Nil(t, lenient.Lines[0].Observation)

	opts.StrictParse = true
	strict, err := vlm.NewAnnotator(stub, opts, nil).AnnotateAsset(context.Background(), filepath.Join(root, "a"))
	require.NoError(t, err)
	assert.True(t, strict.Lines[0].Sentinel)

	// 结果文件被重写而不是追加
	assert.Len(t, testutil.ReadLines(t, filepath.Join(root, "a", "a.txt")), 1)
}

// 每写一行就刷新：查询过程中读取文件，只能看到完整的行
func TestAnnotator_FlushesEachLine(t *testing.T) {
	root := t.TempDir()
	images := gptInput(t, root, "a", 1, 3)
	result := filepath.Join(root, "a", "a.txt")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var n atomic.Int32
	var seen [][]string
	stub := mocks.NewStubBackend().WithQueryFunc(func(_ context.Context, _, _ string) (string, error) {
		seen = append(seen, testutil.ReadLines(t, result))
		if n.Add(1) == 3 {
			cancel()
			return "", context.Canceled
		}
		return "cap,wood,30-40,Shore A", nil
	})

	_, err := vlm.NewAnnotator(stub, fastOptions(), nil).Run(ctx, root)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, seen, 3)
	assert.Empty(t, seen[0])
	assert.Equal(t, []string{images[0] + ",cap,wood,30-40,Shore A"}, seen[1])
	assert.Len(t, seen[2], 2)

	final := testutil.ReadLines(t, result)
	assert.Len(t, final, 2)
	for _, line := range final {
		assert.True(t, strings.HasSuffix(line, ",cap,wood,30-40,Shore A"))
	}
}

func TestAnnotator_WorkersAndSkip(t *testing.T) {
	root := t.TempDir()
	for _, a := range []string{"a", "b", "c", "d"} {
		gptInput(t, root, a, 1, 2)
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no_input"), 0o755))

	stub := mocks.NewStubBackend().WithDelay(5 * time.Millisecond)
	opts := fastOptions()
	opts.Workers = 3
	opts.Skip = func(_ context.Context, asset string) bool { return asset == "b" }

	report, err := vlm.NewAnnotator(stub, opts, nil).Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, report.Processed)
	assert.Equal(t, []string{"b"}, report.Skipped)
	assert.Equal(t, 6, stub.CallCount())
	testutil.AssertNotExists(t, filepath.Join(root, "b", "b.txt"))
	testutil.AssertNotExists(t, filepath.Join(root, "no_input", "no_input.txt"))

	lines, err := vlm.ReadResults(filepath.Join(root, "c", "c.txt"))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.NotNil(t, lines[0].Observation)
}

func TestAnnotator_CustomMaterialsParse(t *testing.T) {
	root := t.TempDir()
	gptInput(t, root, "tyre", 1, 1)
	stub := mocks.NewStubBackend().WithResponse("black tyre,rubber,60-70,Shore A")

	var got *vlm.AssetResult
	opts := fastOptions()
	opts.StrictParse = true
	opts.Materials = []string{"rubber", "steel"}
	opts.OnAssetDone = func(_ context.Context, _ string, res *vlm.AssetResult) error {
		got = res
		return nil
	}
	a := vlm.NewAnnotator(stub, opts, zaptest.NewLogger(t))
	assert.Contains(t, a.Prompt(), "{rubber, steel}")

	_, err := a.Run(testutil.TestContext(t), root)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Lines, 1)
	assert.False(t, got.Lines[0].Sentinel)
	require.NotNil(t, got.Lines[0].Observation)
	assert.Equal(t, "rubber", got.Lines[0].Observation.Material)
}
