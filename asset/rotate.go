package asset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// DefaultEuler 生成式资产（Y-up）到渲染坐标系的默认旋转，单位度
var DefaultEuler = mgl64.Vec3{90, 0, 180}

// EulerXYZ 静态 xyz 欧拉角（度）转旋转矩阵，R = Rz·Ry·Rx
func EulerXYZ(xDeg, yDeg, zDeg float64) mgl64.Mat3 {
	return mgl64.Rotate3DZ(mgl64.DegToRad(zDeg)).
		Mul3(mgl64.Rotate3DY(mgl64.DegToRad(yDeg))).
		Mul3(mgl64.Rotate3DX(mgl64.DegToRad(xDeg)))
}

// RotatedPath 旋转结果的默认路径
func RotatedPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_rotated.glb"
}

// IsRotated 判断文件是否是旋转产物
func IsRotated(path string) bool {
	return strings.HasSuffix(strings.ToLower(filepath.Base(path)), "_rotated.glb")
}

// Rotate 旋转所有图元的 POSITION 与 NORMAL，返回写出的文件路径。
// replace 为 true 时覆盖原文件，否则写到 RotatedPath(path)。
func Rotate(path string, euler mgl64.Vec3, replace bool) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("rotate asset: %w", err)
	}
	doc, err := gltf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open asset %s: %w", path, err)
	}

	rot := EulerXYZ(euler[0], euler[1], euler[2])
	// 同一个 accessor 可能被多个图元共用，只转换一次
	rotatedPos := make(map[uint32]uint32)
	rotatedNorm := make(map[uint32]uint32)

	for _, mesh := range doc.Meshes {
		for _, prim := range mesh.Primitives {
			if idx, ok := prim.Attributes[gltf.POSITION]; ok {
				out, done := rotatedPos[idx]
				if !done {
					out, err = rotateAccessor(doc, idx, rot, false)
					if err != nil {
						return "", fmt.Errorf("mesh %s: %w", mesh.Name, err)
					}
					rotatedPos[idx] = out
				}
				prim.Attributes[gltf.POSITION] = out
			}
			if idx, ok := prim.Attributes[gltf.NORMAL]; ok {
				out, done := rotatedNorm[idx]
				if !done {
					out, err = rotateAccessor(doc, idx, rot, true)
					if err != nil {
						return "", fmt.Errorf("mesh %s: %w", mesh.Name, err)
					}
					rotatedNorm[idx] = out
				}
				prim.Attributes[gltf.NORMAL] = out
			}
		}
	}

	out := RotatedPath(path)
	if replace {
		out = path
	}
	if err := gltf.SaveBinary(doc, out); err != nil {
		return "", fmt.Errorf("save rotated asset %s: %w", out, err)
	}
	return out, nil
}

// EnsureRotated 已有 _rotated 文件时直接复用，否则按默认角度旋转。
// 第二个返回值表示是否复用了已有文件。
func EnsureRotated(path string, replace bool) (string, bool, error) {
	rotated := RotatedPath(path)
	if info, err := os.Stat(rotated); err == nil && !info.IsDir() {
		return rotated, true, nil
	}
	out, err := Rotate(path, DefaultEuler, replace)
	if err != nil {
		return "", false, err
	}
	return out, false, nil
}

func rotateAccessor(doc *gltf.Document, idx uint32, rot mgl64.Mat3, normal bool) (uint32, error) {
	if int(idx) >= len(doc.Accessors) {
		return 0, fmt.Errorf("accessor %d out of range", idx)
	}
	acr := doc.Accessors[idx]

	var data [][3]float32
	var err error
	if normal {
		data, err = modeler.ReadNormal(doc, acr, nil)
	} else {
		data, err = modeler.ReadPosition(doc, acr, nil)
	}
	if err != nil {
		return 0, fmt.Errorf("read accessor %d: %w", idx, err)
	}

	out := make([][3]float32, len(data))
	for i, p := range data {
		v := rot.Mul3x1(mgl64.Vec3{float64(p[0]), float64(p[1]), float64(p[2])})
		out[i] = [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
	}

	if normal {
		return uint32(modeler.WriteNormal(doc, out)), nil
	}
	return uint32(modeler.WritePosition(doc, out)), nil
}
