package phys

import "tablesim.dev/internal/mathx"

type BodyType int

const (
	// Dynamic bodies are integrated and respond to gravity and contacts.
	Dynamic BodyType = iota
	// Fixed bodies never move.
	Fixed
	// KinematicPositionBased bodies are driven externally; the simulation
	// reads their velocity but never writes their transform.
	KinematicPositionBased
)

type BodyHandle uint64

// RigidBodyDesc describes a rigid body to insert into a World.
type RigidBodyDesc struct {
	Type           BodyType
	Position       mathx.Vec3
	Rotation       mathx.Quat
	LinearDamping  float64
	AngularDamping float64
	CCD            bool
}

// RigidBody is a live body owned by a World. Transform and velocity fields
// are in the world's internal length units.
type RigidBody struct {
	Type     BodyType
	Position mathx.Vec3
	Rotation mathx.Quat
	LinVel   mathx.Vec3
	AngVel   mathx.Vec3

	LinearDamping  float64
	AngularDamping float64
	CCD            bool

	colliders []ColliderHandle
	grounded  bool
}

// Colliders returns the handles of all colliders attached to the body.
func (b *RigidBody) Colliders() []ColliderHandle {
	out := make([]ColliderHandle, len(b.colliders))
	copy(out, b.colliders)
	return out
}
