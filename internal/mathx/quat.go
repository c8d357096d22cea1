package mathx

import "math"

// Quat is a rotation quaternion. It is the canonical rotation representation
// throughout the server; Euler angles only appear at conversion boundaries.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

func IdentityQuat() Quat { return Quat{W: 1} }

// QuatFromEuler builds a rotation from roll (about X), pitch (about Y) and
// yaw (about Z), composed yaw*pitch*roll.
func QuatFromEuler(roll, pitch, yaw float64) Quat {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return Quat{
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
		W: cr*cp*cy + sr*sp*sy,
	}
}

// Euler returns roll, pitch and yaw angles. Pitch is clamped to ±π/2 at the
// gimbal singularity.
func (q Quat) Euler() (roll, pitch, yaw float64) {
	roll = math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))

	sp := 2 * (q.W*q.Y - q.Z*q.X)
	if math.Abs(sp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sp)
	} else {
		pitch = math.Asin(sp)
	}

	yaw = math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
	return
}

func (q Quat) Normalize() Quat {
	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if n == 0 {
		return IdentityQuat()
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

func (q Quat) Mul(o Quat) Quat {
	return Quat{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

// Rotate applies the rotation to a vector.
func (q Quat) Rotate(v Vec3) Vec3 {
	// v' = v + 2*cross(q.xyz, cross(q.xyz, v) + w*v)
	ux, uy, uz := q.X, q.Y, q.Z
	cx := uy*v.Z - uz*v.Y + q.W*v.X
	cy := uz*v.X - ux*v.Z + q.W*v.Y
	cz := ux*v.Y - uy*v.X + q.W*v.Z
	return Vec3{
		X: v.X + 2*(uy*cz-uz*cy),
		Y: v.Y + 2*(uz*cx-ux*cz),
		Z: v.Z + 2*(ux*cy-uy*cx),
	}
}

// FlipTolerance is the allowed deviation from a half-turn when deciding
// whether a pawn is held upside down.
const FlipTolerance = 0.01

// Flipped reports whether the rotation is within FlipTolerance of a half-turn
// about the X axis. ±π are the same physical half-turn, so both count.
func (q Quat) Flipped() bool {
	roll, _, _ := q.Euler()
	return math.Abs(math.Abs(roll)-math.Pi) < FlipTolerance
}
