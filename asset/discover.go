package asset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNonGLBAsset 输入目录中存在非 GLB 条目
var ErrNonGLBAsset = errors.New("non-glb asset in input directory")

// Discover 列出输入目录下待处理的 GLB 资产（按文件名排序）。
// 任一条目不是 .glb 时在开始工作前返回 ErrNonGLBAsset；
// 旋转产物 *_rotated.glb 不计入工作列表。
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list assets in %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".glb") {
			return nil, fmt.Errorf("%w: %s", ErrNonGLBAsset, name)
		}
		if IsRotated(name) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// Stem 资产名：文件名中第一个 '.' 之前的部分
func Stem(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}
