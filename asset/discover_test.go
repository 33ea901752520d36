package asset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "table.glb"))
	touch(t, filepath.Join(dir, "chair.glb"))
	touch(t, filepath.Join(dir, "chair_rotated.glb"))

	got, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "chair.glb"),
		filepath.Join(dir, "table.glb"),
	}, got)
}

func TestDiscover_RejectsNonGLB(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "chair.glb"))
	touch(t, filepath.Join(dir, "notes.txt"))

	_, err := Discover(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonGLBAsset)
	assert.Contains(t, err.Error(), "notes.txt")
}

func TestDiscover_MissingDir(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStem(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"chair.glb", "chair"},
		{"a/b/chair.v2.glb", "chair"},
		{"noext", "noext"},
		{"/x/chair_rotated.glb", "chair_rotated"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Stem(tt.path))
		})
	}
}

func TestProperty_StemHasNoDot(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("stem is a dot-free prefix of the base name", prop.ForAll(
		func(name, ext string) bool {
			base := name + "." + ext
			stem := Stem(filepath.Join("root", base))
			if len(stem) > len(base) || base[:len(stem)] != stem {
				return false
			}
			for _, c := range stem {
				if c == '.' {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
