package asset

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// defaultColor 无材质时的基础色
var defaultColor = mgl64.Vec4{0.8, 0.8, 0.8, 1}

// Mesh 世界坐标下的三角网格
type Mesh struct {
	Name      string
	Positions []mgl64.Vec3
	Indices   []uint32
	// Color 材质基础色（RGBA，0..1）
	Color mgl64.Vec4
}

// Scene 展开后的场景
type Scene struct {
	Meshes []Mesh
}

// BoundingBox 轴对齐包围盒
type BoundingBox struct {
	Min, Max mgl64.Vec3
}

// Centroid 包围盒中心
func (b BoundingBox) Centroid() mgl64.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Extents 各轴跨度
func (b BoundingBox) Extents() mgl64.Vec3 {
	return b.Max.Sub(b.Min)
}

// MaxExtent 最长边
func (b BoundingBox) MaxExtent() float64 {
	e := b.Extents()
	return math.Max(e[0], math.Max(e[1], e[2]))
}

// Bounds 计算整个场景的包围盒；空场景返回零值
func (s *Scene) Bounds() BoundingBox {
	first := true
	var bb BoundingBox
	for _, m := range s.Meshes {
		for _, p := range m.Positions {
			if first {
				bb.Min, bb.Max = p, p
				first = false
				continue
			}
			for i := 0; i < 3; i++ {
				bb.Min[i] = math.Min(bb.Min[i], p[i])
				bb.Max[i] = math.Max(bb.Max[i], p[i])
			}
		}
	}
	return bb
}

// TriangleCount 三角形总数
func (s *Scene) TriangleCount() int {
	n := 0
	for _, m := range s.Meshes {
		n += len(m.Indices) / 3
	}
	return n
}

// LoadGLB 读取 GLB 并按节点变换展开成世界坐标网格。
// 只处理三角形图元。
func LoadGLB(path string) (*Scene, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open asset %s: %w", path, err)
	}
	l := &sceneLoader{doc: doc, scene: &Scene{}}
	for _, idx := range rootNodes(doc) {
		if err := l.visit(idx, mgl64.Ident4(), 0); err != nil {
			return nil, fmt.Errorf("load asset %s: %w", path, err)
		}
	}
	return l.scene, nil
}

type sceneLoader struct {
	doc   *gltf.Document
	scene *Scene
}

// 防止循环引用的节点图
const maxNodeDepth = 64

func (l *sceneLoader) visit(idx uint32, parent mgl64.Mat4, depth int) error {
	if depth > maxNodeDepth {
		return fmt.Errorf("node hierarchy deeper than %d", maxNodeDepth)
	}
	if int(idx) >= len(l.doc.Nodes) {
		return fmt.Errorf("node index %d out of range", idx)
	}
	node := l.doc.Nodes[idx]
	world := parent.Mul4(localMatrix(node))

	if node.Mesh != nil {
		if err := l.addMesh(*node.Mesh, node.Name, world); err != nil {
			return err
		}
	}
	for _, child := range node.Children {
		if err := l.visit(child, world, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (l *sceneLoader) addMesh(meshIdx uint32, nodeName string, world mgl64.Mat4) error {
	if int(meshIdx) >= len(l.doc.Meshes) {
		return fmt.Errorf("mesh index %d out of range", meshIdx)
	}
	gm := l.doc.Meshes[meshIdx]
	name := gm.Name
	if name == "" {
		name = nodeName
	}
	if name == "" {
		name = fmt.Sprintf("mesh_%d", meshIdx)
	}

	for pi, prim := range gm.Primitives {
		if prim.Mode != gltf.PrimitiveTriangles {
			continue
		}
		posIdx, ok := prim.Attributes[gltf.POSITION]
		if !ok {
			continue
		}
		raw, err := modeler.ReadPosition(l.doc, l.doc.Accessors[posIdx], nil)
		if err != nil {
			return fmt.Errorf("mesh %s primitive %d: read positions: %w", name, pi, err)
		}

		var indices []uint32
		if prim.Indices != nil {
			indices, err = modeler.ReadIndices(l.doc, l.doc.Accessors[*prim.Indices], nil)
			if err != nil {
				return fmt.Errorf("mesh %s primitive %d: read indices: %w", name, pi, err)
			}
		} else {
			indices = make([]uint32, len(raw))
			for i := range indices {
				indices[i] = uint32(i)
			}
		}

		positions := make([]mgl64.Vec3, len(raw))
		for i, p := range raw {
			v := mgl64.Vec4{float64(p[0]), float64(p[1]), float64(p[2]), 1}
			positions[i] = world.Mul4x1(v).Vec3()
		}

		meshName := name
		if len(gm.Primitives) > 1 {
			meshName = fmt.Sprintf("%s_%d", name, pi)
		}
		l.scene.Meshes = append(l.scene.Meshes, Mesh{
			Name:      meshName,
			Positions: positions,
			Indices:   indices[:len(indices)-len(indices)%3],
			Color:     l.baseColor(prim),
		})
	}
	return nil
}

func (l *sceneLoader) baseColor(prim *gltf.Primitive) mgl64.Vec4 {
	if prim.Material == nil || int(*prim.Material) >= len(l.doc.Materials) {
		return defaultColor
	}
	pbr := l.doc.Materials[*prim.Material].PBRMetallicRoughness
	if pbr == nil {
		return defaultColor
	}
	c := pbr.BaseColorFactorOrDefault()
	return mgl64.Vec4{float64(c[0]), float64(c[1]), float64(c[2]), float64(c[3])}
}

// rootNodes 返回默认场景的根节点；没有场景时取所有不是子节点的节点
func rootNodes(doc *gltf.Document) []uint32 {
	if len(doc.Scenes) > 0 {
		si := uint32(0)
		if doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes) {
			si = *doc.Scene
		}
		return doc.Scenes[si].Nodes
	}
	isChild := make(map[uint32]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			isChild[c] = true
		}
	}
	var roots []uint32
	for i := range doc.Nodes {
		if !isChild[uint32(i)] {
			roots = append(roots, uint32(i))
		}
	}
	return roots
}

// localMatrix 节点局部变换；显式 matrix 优先，否则按 T*R*S 组合
func localMatrix(n *gltf.Node) mgl64.Mat4 {
	m := n.MatrixOrDefault()
	if m != gltf.DefaultMatrix {
		var out mgl64.Mat4
		for i := range m {
			out[i] = float64(m[i])
		}
		return out
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	q := mgl64.Quat{W: float64(r[3]), V: mgl64.Vec3{float64(r[0]), float64(r[1]), float64(r[2])}}
	return mgl64.Translate3D(float64(t[0]), float64(t[1]), float64(t[2])).
		Mul4(q.Mat4()).
		Mul4(mgl64.Scale3D(float64(s[0]), float64(s[1]), float64(s[2])))
}
