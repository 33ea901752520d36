package render

import (
	"encoding/json"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/BaSui01/materialflow/asset"
)

// MarkPoint 标记点（世界坐标）
var MarkPoint = mgl64.Vec3{0.5, 0.5, 0.5}

// View 一个渲染视角
type View struct {
	Index     int
	Azimuth   float64
	Elevation float64
	// Pose 相机到世界的变换
	Pose mgl64.Mat4
	// K 相机内参
	K mgl64.Mat3
	// File 渲染图相对资产目录的路径
	File string
}

// CameraRotation 视角对应的相机旋转
func CameraRotation(azimuth, elevation float64) mgl64.Mat3 {
	return asset.EulerXYZ(90-elevation, 0, 180-azimuth)
}

// LookAt 相机放在 center + distance·z 处，旋转保持不变
func LookAt(center mgl64.Vec3, rot mgl64.Mat3, distance float64) mgl64.Mat4 {
	pose := rot.Mat4()
	eye := center.Add(rot.Col(2).Mul(distance))
	pose.SetCol(3, eye.Vec4(1))
	return pose
}

// Intrinsics 针孔内参，主点在图像中心
func Intrinsics(width, height int, fovDeg float64) mgl64.Mat3 {
	cx := float64(width) / 2
	cy := float64(height) / 2
	f := cx / math.Tan(mgl64.DegToRad(fovDeg)/2)
	// 列主序
	return mgl64.Mat3{
		f, 0, 0,
		0, f, 0,
		cx, cy, 1,
	}
}

// ProjectMarker 把世界坐标点投影到图像坐标（x 做镜像）。
// 点在相机后方或落在图像外时 ok 为 false。
func ProjectMarker(p mgl64.Vec3, pose mgl64.Mat4, k mgl64.Mat3, width, height int) (mgl64.Vec2, bool) {
	q := pose.Inv().Mul4x1(p.Vec4(1)).Vec3()
	if q.Z() >= 0 {
		return mgl64.Vec2{}, false
	}
	proj := k.Mul3x1(q)
	x := proj.X() / proj.Z()
	y := proj.Y() / proj.Z()
	x = float64(width) - 1 - x

	inside := x >= 0 && y >= 0 && x < float64(width) && y < float64(height)
	return mgl64.Vec2{x, y}, inside
}

// =============================================================================
// 📄 cameras.json
// =============================================================================

type viewJSON struct {
	Index     int           `json:"index"`
	File      string        `json:"file"`
	Azimuth   float64       `json:"azimuth"`
	Elevation float64       `json:"elevation"`
	Pose      [4][4]float64 `json:"pose"`
	K         [3][3]float64 `json:"k"`
}

// CameraFile cameras.json 的内容，矩阵按行主序保存
type CameraFile struct {
	Asset    string     `json:"asset"`
	Source   string     `json:"source"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	FovDeg   float64    `json:"fov_deg"`
	Center   [3]float64 `json:"center"`
	Distance float64    `json:"distance"`
	Views    []View     `json:"views"`
}

func (v View) MarshalJSON() ([]byte, error) {
	out := viewJSON{Index: v.Index, File: v.File, Azimuth: v.Azimuth, Elevation: v.Elevation}
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out.Pose[r][c] = v.Pose.At(r, c)
		}
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.K[r][c] = v.K.At(r, c)
		}
	}
	return json.Marshal(out)
}

func (v *View) UnmarshalJSON(data []byte) error {
	var in viewJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	v.Index, v.File, v.Azimuth, v.Elevation = in.Index, in.File, in.Azimuth, in.Elevation
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			v.Pose.Set(r, c, in.Pose[r][c])
		}
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v.K.Set(r, c, in.K[r][c])
		}
	}
	return nil
}
