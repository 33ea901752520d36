package asset

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// =============================================================================
// 🧩 OBJ 子网格拆分与合并
// =============================================================================

// objRef 面上的一个顶点引用（1 起始，0 表示缺省）
type objRef struct {
	v, vt, vn int
}

type objGroup struct {
	name  string
	faces [][]objRef
}

// objFile 解析后的 OBJ，vt/vn 保留原始行文本
type objFile struct {
	mtllibs []string
	v       []mgl64.Vec3
	vt      []string
	vn      []string
	groups  []*objGroup
	// 所有面（按出现顺序），合并时使用
	faces []string
}

func parseOBJ(path string) (*objFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open obj: %w", err)
	}
	defer f.Close()

	obj := &objFile{}
	byName := make(map[string]*objGroup)
	var current *objGroup

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "mtllib":
			obj.mtllibs = append(obj.mtllibs, line)
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("%s:%d: vertex needs 3 coordinates", path, lineNo)
			}
			var p mgl64.Vec3
			for i := 0; i < 3; i++ {
				p[i], err = strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
				}
			}
			obj.v = append(obj.v, p)
		case "vt":
			obj.vt = append(obj.vt, line)
		case "vn":
			obj.vn = append(obj.vn, line)
		case "o", "g":
			name := "unnamed"
			if len(fields) > 1 {
				name = fields[1]
			}
			// 同名分组合并
			g, ok := byName[name]
			if !ok {
				g = &objGroup{name: name}
				byName[name] = g
				obj.groups = append(obj.groups, g)
			}
			current = g
		case "f":
			obj.faces = append(obj.faces, line)
			refs, err := obj.parseFace(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
			if current != nil {
				current.faces = append(current.faces, refs)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read obj: %w", err)
	}
	return obj, nil
}

// parseFace 解析 v、v/vt、v//vn、v/vt/vn，负索引按当前计数换算
func (o *objFile) parseFace(parts []string) ([]objRef, error) {
	refs := make([]objRef, 0, len(parts))
	for _, part := range parts {
		idx := strings.Split(part, "/")
		var r objRef
		var err error
		if r.v, err = resolveIndex(idx[0], len(o.v)); err != nil {
			return nil, err
		}
		if len(idx) > 1 {
			if r.vt, err = resolveIndex(idx[1], len(o.vt)); err != nil {
				return nil, err
			}
		}
		if len(idx) > 2 {
			if r.vn, err = resolveIndex(idx[2], len(o.vn)); err != nil {
				return nil, err
			}
		}
		refs = append(refs, r)
	}
	return refs, nil
}

func resolveIndex(s string, count int) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad face index %q", s)
	}
	if n < 0 {
		n = count + n + 1
	}
	if n <= 0 || n > count {
		return 0, fmt.Errorf("face index %s out of range (%d defined)", s, count)
	}
	return n, nil
}

// Normalizer 把点集平移缩放到以原点为中心的单位立方体：(p-min)/scale - 0.5
type Normalizer struct {
	Min   mgl64.Vec3
	Scale float64
}

// NewNormalizer 按点集包围盒构造；退化点集的 scale 取 1
func NewNormalizer(points []mgl64.Vec3) Normalizer {
	if len(points) == 0 {
		return Normalizer{Scale: 1}
	}
	bb := BoundingBox{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		for i := 0; i < 3; i++ {
			bb.Min[i] = math.Min(bb.Min[i], p[i])
			bb.Max[i] = math.Max(bb.Max[i], p[i])
		}
	}
	scale := bb.MaxExtent()
	if scale <= 0 {
		scale = 1
	}
	return Normalizer{Min: bb.Min, Scale: scale}
}

// Apply 归一化单个点
func (n Normalizer) Apply(p mgl64.Vec3) mgl64.Vec3 {
	return p.Sub(n.Min).Mul(1 / n.Scale).Sub(mgl64.Vec3{0.5, 0.5, 0.5})
}

// ExtractSubmeshes 拆分子网格并写入 outDir/<name>.obj，返回写出的文件。
// OBJ 按 o/g 分组；GLB 按网格。
func ExtractSubmeshes(path, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create submesh dir: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".obj":
		return extractOBJ(path, outDir)
	case ".glb":
		return extractGLB(path, outDir)
	default:
		return nil, fmt.Errorf("unsupported submesh source: %s", path)
	}
}

func extractOBJ(path, outDir string) ([]string, error) {
	obj, err := parseOBJ(path)
	if err != nil {
		return nil, err
	}

	var written []string
	for _, g := range obj.groups {
		if len(g.faces) == 0 {
			continue
		}
		usedV, usedVT, usedVN := map[int]int{}, map[int]int{}, map[int]int{}
		for _, face := range g.faces {
			for _, r := range face {
				if r.v > 0 {
					usedV[r.v] = 0
				}
				if r.vt > 0 {
					usedVT[r.vt] = 0
				}
				if r.vn > 0 {
					usedVN[r.vn] = 0
				}
			}
		}
		vOrder := renumber(usedV)
		vtOrder := renumber(usedVT)
		vnOrder := renumber(usedVN)

		pts := make([]mgl64.Vec3, len(vOrder))
		for i, old := range vOrder {
			pts[i] = obj.v[old-1]
		}
		norm := NewNormalizer(pts)

		out := filepath.Join(outDir, g.name+".obj")
		err := writeLines(out, func(w *bufio.Writer) {
			for _, l := range obj.mtllibs {
				fmt.Fprintln(w, l)
			}
			for _, p := range pts {
				writeVertex(w, norm.Apply(p))
			}
			for _, old := range vtOrder {
				fmt.Fprintln(w, obj.vt[old-1])
			}
			for _, old := range vnOrder {
				fmt.Fprintln(w, obj.vn[old-1])
			}
			fmt.Fprintf(w, "o %s\n", g.name)
			for _, face := range g.faces {
				w.WriteString("f")
				for _, r := range face {
					w.WriteString(" " + formatRef(usedV[r.v], usedVT[r.vt], usedVN[r.vn]))
				}
				w.WriteString("\n")
			}
		})
		if err != nil {
			return written, err
		}
		written = append(written, out)
	}
	return written, nil
}

func extractGLB(path, outDir string) ([]string, error) {
	scene, err := LoadGLB(path)
	if err != nil {
		return nil, err
	}
	var written []string
	for _, m := range scene.Meshes {
		norm := NewNormalizer(m.Positions)
		out := filepath.Join(outDir, m.Name+".obj")
		err := writeLines(out, func(w *bufio.Writer) {
			for _, p := range m.Positions {
				writeVertex(w, norm.Apply(p))
			}
			for i := 0; i+2 < len(m.Indices); i += 3 {
				fmt.Fprintf(w, "f %d %d %d\n", m.Indices[i]+1, m.Indices[i+1]+1, m.Indices[i+2]+1)
			}
		})
		if err != nil {
			return written, err
		}
		written = append(written, out)
	}
	return written, nil
}

// MergeSubmeshes 整体归一化 OBJ，写出 outDir/<stem>_merge.obj（单个 o merged 对象）
func MergeSubmeshes(path, outDir string) (string, error) {
	obj, err := parseOBJ(path)
	if err != nil {
		return "", err
	}
	if len(obj.v) == 0 {
		return "", fmt.Errorf("no vertex data in %s", path)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create merge dir: %w", err)
	}

	norm := NewNormalizer(obj.v)
	out := filepath.Join(outDir, Stem(path)+"_merge.obj")
	err = writeLines(out, func(w *bufio.Writer) {
		for _, l := range obj.mtllibs {
			fmt.Fprintln(w, l)
		}
		for _, p := range obj.v {
			writeVertex(w, norm.Apply(p))
		}
		for _, l := range obj.vt {
			fmt.Fprintln(w, l)
		}
		for _, l := range obj.vn {
			fmt.Fprintln(w, l)
		}
		fmt.Fprintln(w, "o merged")
		for _, l := range obj.faces {
			fmt.Fprintln(w, l)
		}
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// renumber 旧索引升序重新编号（1 起始），写回 map 并返回旧索引顺序
func renumber(used map[int]int) []int {
	order := make([]int, 0, len(used))
	for old := range used {
		order = append(order, old)
	}
	sort.Ints(order)
	for i, old := range order {
		used[old] = i + 1
	}
	return order
}

func formatRef(v, vt, vn int) string {
	s := strconv.Itoa(v)
	if vt > 0 || vn > 0 {
		s += "/"
		if vt > 0 {
			s += strconv.Itoa(vt)
		}
	}
	if vn > 0 {
		s += "/" + strconv.Itoa(vn)
	}
	return s
}

func writeVertex(w *bufio.Writer, p mgl64.Vec3) {
	fmt.Fprintf(w, "v %s %s %s\n",
		strconv.FormatFloat(p[0], 'g', -1, 64),
		strconv.FormatFloat(p[1], 'g', -1, 64),
		strconv.FormatFloat(p[2], 'g', -1, 64))
}

func writeLines(path string, fn func(w *bufio.Writer)) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	fn(w)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
