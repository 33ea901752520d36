package asset

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/materialflow/testutil"
	"github.com/BaSui01/materialflow/testutil/fixtures"
)

const twoPartOBJ = `mtllib parts.mtl
v 0 0 0
v 2 0 0
v 2 2 0
v 10 10 10
v 11 10 10
v 11 12 10
vt 0 0
vt 1 0
vn 0 0 1
o seat
f 1/1/1 2/2/1 3//1
g leg
f 4 5 6
`

func writeOBJ(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parts.obj")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func parseVertexLine(t *testing.T, line string) mgl64.Vec3 {
	t.Helper()
	f := strings.Fields(line)
	require.Len(t, f, 4)
	var v mgl64.Vec3
	for i := 0; i < 3; i++ {
		x, err := strconv.ParseFloat(f[i+1], 64)
		require.NoError(t, err)
		v[i] = x
	}
	return v
}

func TestExtractSubmeshes_OBJ(t *testing.T) {
	src := writeOBJ(t, twoPartOBJ)
	out := t.TempDir()

	files, err := ExtractSubmeshes(src, out)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(out, "seat.obj"), filepath.Join(out, "leg.obj")}, files)

	seat := testutil.ReadLines(t, files[0])
	assert.Equal(t, "mtllib parts.mtl", seat[0])
	assert.Equal(t, mgl64.Vec3{-0.5, -0.5, -0.5}, parseVertexLine(t, seat[1]))
	assert.Equal(t, mgl64.Vec3{0.5, -0.5, -0.5}, parseVertexLine(t, seat[2]))
	assert.Equal(t, mgl64.Vec3{0.5, 0.5, -0.5}, parseVertexLine(t, seat[3]))
	assert.Equal(t, "vt 0 0", seat[4])
	assert.Equal(t, "vt 1 0", seat[5])
	assert.Equal(t, "vn 0 0 1", seat[6])
	assert.Equal(t, "o seat", seat[7])
	assert.Equal(t, "f 1/1/1 2/2/1 3//1", seat[8])

	leg := testutil.ReadLines(t, files[1])
	assert.Equal(t, "o leg", leg[4])
	// 重新编号后从 1 开始
	assert.Equal(t, "f 1 2 3", leg[5])
}

func TestExtractSubmeshes_GLB(t *testing.T) {
	src := filepath.Join(t.TempDir(), "stack.glb")
	require.NoError(t, fixtures.WriteBoxesGLB(src, fixtures.TwoBoxes()...))
	out := t.TempDir()

	files, err := ExtractSubmeshes(src, out)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(out, "base.obj"), filepath.Join(out, "top.obj")}, files)

	lines := testutil.ReadLines(t, files[1])
	var faces int
	for _, l := range lines {
		if strings.HasPrefix(l, "f ") {
			faces++
		}
	}
	assert.Equal(t, 12, faces)
}

func TestExtractSubmeshes_Unsupported(t *testing.T) {
	_, err := ExtractSubmeshes("model.fbx", t.TempDir())
	assert.Error(t, err)
}

func TestMergeSubmeshes(t *testing.T) {
	src := writeOBJ(t, twoPartOBJ)
	out := t.TempDir()

	merged, err := MergeSubmeshes(src, out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "parts_merge.obj"), merged)

	lines := testutil.ReadLines(t, merged)
	require.Len(t, lines, 1+6+2+1+1+2)
	assert.Equal(t, "mtllib parts.mtl", lines[0])
	assert.Equal(t, mgl64.Vec3{-0.5, -0.5, -0.5}, parseVertexLine(t, lines[1]))
	assert.Equal(t, "o merged", lines[10])
	assert.Equal(t, "f 1/1/1 2/2/1 3//1", lines[11])
	assert.Equal(t, "f 4 5 6", lines[12])
}

func TestMergeSubmeshes_NoVertices(t *testing.T) {
	src := writeOBJ(t, "o empty\n")
	_, err := MergeSubmeshes(src, t.TempDir())
	assert.Error(t, err)
}

func TestParseOBJ_NegativeIndices(t *testing.T) {
	src := writeOBJ(t, "v 0 0 0\nv 1 0 0\nv 0 1 0\no tri\nf -3 -2 -1\n")
	obj, err := parseOBJ(src)
	require.NoError(t, err)
	require.Len(t, obj.groups, 1)
	assert.Equal(t, []objRef{{v: 1}, {v: 2}, {v: 3}}, obj.groups[0].faces[0])
}

func TestParseOBJ_OutOfRange(t *testing.T) {
	src := writeOBJ(t, "v 0 0 0\no tri\nf 1 2 3\n")
	_, err := parseOBJ(src)
	assert.Error(t, err)
}

func TestProperty_NormalizerFitsUnitCube(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("normalized points lie in [-0.5, 0.5] with one axis spanning fully", prop.ForAll(
		func(xs, ys, zs []float64) bool {
			n := min(len(xs), len(ys), len(zs))
			if n == 0 {
				return true
			}
			pts := make([]mgl64.Vec3, n)
			for i := 0; i < n; i++ {
				pts[i] = mgl64.Vec3{xs[i], ys[i], zs[i]}
			}
			norm := NewNormalizer(pts)
			lo, hi := 0.0, 0.0
			for i, p := range pts {
				q := norm.Apply(p)
				for k := 0; k < 3; k++ {
					if q[k] < -0.5-1e-9 || q[k] > 0.5+1e-9 {
						return false
					}
					if i == 0 && k == 0 {
						lo, hi = q[k], q[k]
					}
					lo = min(lo, q[k])
					hi = max(hi, q[k])
				}
			}
			// 点集不退化时最长轴恰好覆盖 [-0.5, 0.5]
			return norm.Scale == 1 || (hi-lo) > 1-1e-9
		},
		gen.SliceOfN(8, gen.Float64Range(-100, 100)),
		gen.SliceOfN(8, gen.Float64Range(-100, 100)),
		gen.SliceOfN(8, gen.Float64Range(-100, 100)),
	))

	properties.TestingRun(t)
}
