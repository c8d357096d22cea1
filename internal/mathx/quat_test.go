package mathx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuatEulerRoundTrip(t *testing.T) {
	cases := []struct {
		name             string
		roll, pitch, yaw float64
	}{
		{"identity", 0, 0, 0},
		{"roll only", 0.7, 0, 0},
		{"pitch only", 0, 0.4, 0},
		{"yaw only", 0, 0, 1.2},
		{"combined", 0.3, -0.5, 2.0},
		{"negative roll", -1.1, 0.2, -0.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := QuatFromEuler(tc.roll, tc.pitch, tc.yaw)
			r, p, y := q.Euler()
			assert.InDelta(t, tc.roll, r, 1e-9)
			assert.InDelta(t, tc.pitch, p, 1e-9)
			assert.InDelta(t, tc.yaw, y, 1e-9)
		})
	}
}

func TestQuatNormalize(t *testing.T) {
	q := Quat{X: 2, Y: 0, Z: 0, W: 2}.Normalize()
	assert.InDelta(t, 1.0, math.Sqrt(q.X*q.X+q.Y*q.Y+q.Z*q.Z+q.W*q.W), 1e-12)

	// Degenerate input falls back to identity.
	assert.Equal(t, IdentityQuat(), Quat{}.Normalize())
}

func TestFlipped(t *testing.T) {
	assert.False(t, IdentityQuat().Flipped())
	assert.True(t, QuatFromEuler(math.Pi, 0, 0).Flipped())
	assert.True(t, QuatFromEuler(-math.Pi, 0, 0).Flipped())
	assert.True(t, QuatFromEuler(math.Pi-0.005, 0, 0).Flipped())
	assert.False(t, QuatFromEuler(math.Pi-0.1, 0, 0).Flipped())
	assert.False(t, QuatFromEuler(math.Pi/2, 0, 0).Flipped())
}

func TestRotate(t *testing.T) {
	// Quarter turn about Z maps +X to +Y.
	q := QuatFromEuler(0, 0, math.Pi/2)
	v := q.Rotate(Vec3{X: 1})
	assert.InDelta(t, 0, v.X, 1e-9)
	assert.InDelta(t, 1, v.Y, 1e-9)
	assert.InDelta(t, 0, v.Z, 1e-9)
}
