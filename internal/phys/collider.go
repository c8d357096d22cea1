package phys

import (
	"math"

	"tablesim.dev/internal/mathx"
)

type ColliderHandle uint64

// Shape is a closed set of collision shape primitives.
type Shape interface {
	// halfExtents returns the shape's axis-aligned half extents, used as the
	// broad bound for ground and pair tests.
	halfExtents() mathx.Vec3
}

type Cuboid struct {
	HalfExtents mathx.Vec3
}

func (c Cuboid) halfExtents() mathx.Vec3 { return c.HalfExtents }

type Cylinder struct {
	HalfHeight float64
	Radius     float64
}

func (c Cylinder) halfExtents() mathx.Vec3 {
	return mathx.Vec3{X: c.Radius, Y: c.HalfHeight, Z: c.Radius}
}

// ConvexHull is bounded by the extrema of its point cloud.
type ConvexHull struct {
	Points []mathx.Vec3
}

func (c ConvexHull) halfExtents() mathx.Vec3 {
	var he mathx.Vec3
	for _, p := range c.Points {
		he.X = math.Max(he.X, math.Abs(p.X))
		he.Y = math.Max(he.Y, math.Abs(p.Y))
		he.Z = math.Max(he.Z, math.Abs(p.Z))
	}
	return he
}

// ColliderDesc describes a collider to attach to a rigid body.
type ColliderDesc struct {
	Shape    Shape
	Friction float64
	Mass     float64
	Sensor   bool
	// CollisionEvents enables discrete contact events for this collider.
	CollisionEvents bool
}

// Collider is a live collider owned by a World.
type Collider struct {
	Shape           Shape
	Friction        float64
	Mass            float64
	Sensor          bool
	CollisionEvents bool

	parent BodyHandle
}

// Parent returns the handle of the body the collider is attached to.
func (c *Collider) Parent() BodyHandle { return c.parent }
