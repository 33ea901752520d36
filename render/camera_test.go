package render

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// assertVec3Near 逐分量绝对误差比较，期望值含 0 时也适用
func assertVec3Near(t *testing.T, want, got mgl64.Vec3, eps float64, msgAndArgs ...any) bool {
	t.Helper()
	return assert.InDeltaSlice(t, want[:], got[:], eps, msgAndArgs...)
}

func TestIntrinsics(t *testing.T) {
	k := Intrinsics(800, 600, 60)
	f := 400 / math.Tan(math.Pi/6)

	assert.InDelta(t, f, k.At(0, 0), 1e-9)
	assert.InDelta(t, f, k.At(1, 1), 1e-9)
	assert.Equal(t, 400.0, k.At(0, 2))
	assert.Equal(t, 300.0, k.At(1, 2))
	assert.Equal(t, 1.0, k.At(2, 2))
	assert.Zero(t, k.At(0, 1))
	assert.Zero(t, k.At(2, 0))
}

func TestLookAt_PlacesCameraAlongZ(t *testing.T) {
	center := mgl64.Vec3{1, 2, 3}
	rot := CameraRotation(0, 0)
	pose := LookAt(center, rot, 4)

	eye := pose.Col(3).Vec3()
	assertVec3Near(t, rot.Col(2).Mul(4), eye.Sub(center), 1e-9)
	got := pose.Mat3()
	assert.InDeltaSlice(t, rot[:], got[:], 1e-12)
	assert.Equal(t, 1.0, pose.At(3, 3))
}

func TestCameraRotation_FrontView(t *testing.T) {
	// azim=0, elev=0 时相机 z 轴指向 +y
	rot := CameraRotation(0, 0)
	assertVec3Near(t, mgl64.Vec3{0, 1, 0}, rot.Col(2), 1e-9)

	// elev=90 时从正上方看
	top := CameraRotation(0, 90)
	assertVec3Near(t, mgl64.Vec3{0, 0, 1}, top.Col(2), 1e-9)
}

func TestProjectMarker_CenterLandsOnPrincipalPoint(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		azim := rapid.Float64Range(0, 360).Draw(t, "azim")
		elev := rapid.Float64Range(-89, 89).Draw(t, "elev")
		dist := rapid.Float64Range(0.5, 10).Draw(t, "distance")

		center := MarkPoint
		pose := LookAt(center, CameraRotation(azim, elev), dist)
		k := Intrinsics(800, 600, 60)

		at, ok := ProjectMarker(center, pose, k, 800, 600)
		if !ok {
			t.Fatalf("center not visible")
		}
		if math.Abs(at.X()-399) > 1e-6 || math.Abs(at.Y()-300) > 1e-6 {
			t.Fatalf("projected to %v", at)
		}
	})
}

func TestProjectMarker_BehindCamera(t *testing.T) {
	pose := LookAt(mgl64.Vec3{}, CameraRotation(0, 0), 2)
	// 相机在 (0,2,0) 朝 -y 看，(0,5,0) 在背后
	_, ok := ProjectMarker(mgl64.Vec3{0, 5, 0}, pose, Intrinsics(100, 100, 60), 100, 100)
	assert.False(t, ok)
}

func TestView_JSONRowMajor(t *testing.T) {
	v := View{
		Index:     3,
		Azimuth:   120,
		Elevation: -60,
		Pose:      LookAt(mgl64.Vec3{0.5, 0.5, 0.5}, CameraRotation(120, -60), 2),
		K:         Intrinsics(800, 600, 60),
		File:      "images/render_3.png",
	}
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var raw struct {
		Pose [4][4]float64 `json:"pose"`
		K    [3][3]float64 `json:"k"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 400.0, raw.K[0][2])
	assert.Equal(t, v.Pose.At(0, 3), raw.Pose[0][3])
	assert.Equal(t, [4]float64{0, 0, 0, 1}, raw.Pose[3])

	var back View
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, v, back)
}
