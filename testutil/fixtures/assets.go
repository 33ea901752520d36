// =============================================================================
// 📦 测试数据工厂 - 3D 资产
// =============================================================================
// 生成由若干彩色长方体组成的 GLB，用于渲染、旋转与子网格测试
// =============================================================================
package fixtures

import (
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// Box 轴对齐长方体
type Box struct {
	Name  string
	Min   [3]float32
	Max   [3]float32
	Color [4]float32
}

// UnitCube 单位立方体 [0,1]^3
func UnitCube() Box {
	return Box{Name: "cube", Max: [3]float32{1, 1, 1}, Color: [4]float32{0.8, 0.2, 0.2, 1}}
}

// TwoBoxes 上下叠放的两个不同颜色的长方体
func TwoBoxes() []Box {
	return []Box{
		{Name: "base", Min: [3]float32{0, 0, 0}, Max: [3]float32{1, 1, 0.4}, Color: [4]float32{0.9, 0.1, 0.1, 1}},
		{Name: "top", Min: [3]float32{0.2, 0.2, 0.4}, Max: [3]float32{0.8, 0.8, 1}, Color: [4]float32{0.1, 0.3, 0.9, 1}},
	}
}

// 每个面 4 个顶点，法线沿面朝向
var boxFaces = [6]struct {
	normal  [3]float32
	corners [4][3]int
}{
	{[3]float32{1, 0, 0}, [4][3]int{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}}},
	{[3]float32{-1, 0, 0}, [4][3]int{{0, 0, 0}, {0, 0, 1}, {0, 1, 1}, {0, 1, 0}}},
	{[3]float32{0, 1, 0}, [4][3]int{{0, 1, 0}, {0, 1, 1}, {1, 1, 1}, {1, 1, 0}}},
	{[3]float32{0, -1, 0}, [4][3]int{{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1}}},
	{[3]float32{0, 0, 1}, [4][3]int{{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1}}},
	{[3]float32{0, 0, -1}, [4][3]int{{0, 0, 0}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}}},
}

func boxGeometry(b Box) (positions, normals [][3]float32, indices []uint32) {
	pick := func(sel, axis int) float32 {
		if sel == 0 {
			return b.Min[axis]
		}
		return b.Max[axis]
	}
	for _, f := range boxFaces {
		base := uint32(len(positions))
		for _, c := range f.corners {
			positions = append(positions, [3]float32{pick(c[0], 0), pick(c[1], 1), pick(c[2], 2)})
			normals = append(normals, f.normal)
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return positions, normals, indices
}

// WriteBoxesGLB 把长方体写成 GLB，每个长方体一个网格、一个材质、一个节点
func WriteBoxesGLB(path string, boxes ...Box) error {
	doc := gltf.NewDocument()
	doc.Asset.Generator = "materialflow fixtures"

	for i, b := range boxes {
		positions, normals, indices := boxGeometry(b)

		posAccessor := modeler.WritePosition(doc, positions)
		normalAccessor := modeler.WriteNormal(doc, normals)
		indicesAccessor := modeler.WriteIndices(doc, indices)

		color := b.Color
		doc.Materials = append(doc.Materials, &gltf.Material{
			Name: b.Name,
			PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
				BaseColorFactor: &color,
				MetallicFactor:  gltf.Float(0),
				RoughnessFactor: gltf.Float(1),
			},
		})

		prim := &gltf.Primitive{
			Attributes: map[string]uint32{
				gltf.POSITION: uint32(posAccessor),
				gltf.NORMAL:   uint32(normalAccessor),
			},
			Indices:  gltf.Index(uint32(indicesAccessor)),
			Material: gltf.Index(uint32(i)),
		}
		doc.Meshes = append(doc.Meshes, &gltf.Mesh{Name: b.Name, Primitives: []*gltf.Primitive{prim}})
		doc.Nodes = append(doc.Nodes, &gltf.Node{Name: b.Name, Mesh: gltf.Index(uint32(i))})
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(i))
	}

	return gltf.SaveBinary(doc, path)
}
