// Package phys owns the rigid-body simulation the lobby drives. It exposes a
// deliberately narrow surface: insert/remove bodies and colliders, advance by
// one fixed timestep, and drain discrete collision events. The simulation is
// intentionally simple (semi-implicit Euler, implicit ground plane at y=0,
// axis-aligned broad bounds for contacts) — enough to give free pawns
// believable motion and settle them on the table.
package phys

import (
	"errors"
	"fmt"
	"math"

	"tablesim.dev/internal/mathx"
)

// ErrStaleHandle reports an operation against a handle whose body or collider
// was already removed. It indicates a caller-level invariant violation and is
// always recoverable.
var ErrStaleHandle = errors.New("stale physics handle")

const (
	gravityY = -9.8

	// Vertical impact speed below which no collision event is emitted.
	impactEventThreshold = 0.5
)

// CollisionEvent is a discrete "contact started" record, drained after Step.
type CollisionEvent struct {
	Position mathx.Vec3 `json:"position"`
	Impulse  float64    `json:"impulse"`
}

type pairKey struct{ a, b BodyHandle }

// World owns all rigid bodies and colliders for one lobby. It must only be
// mutated from a single goroutine at a time; the lobby lock provides that.
type World struct {
	dt      float64
	gravity mathx.Vec3

	bodies    map[BodyHandle]*RigidBody
	colliders map[ColliderHandle]*Collider
	order     []BodyHandle
	next      uint64

	contacts map[pairKey]struct{}
	events   []CollisionEvent
}

// NewWorld creates an empty world stepped at the given fixed timestep.
// The ground plane at y=0 is implicit.
func NewWorld(dt float64) *World {
	return &World{
		dt:        dt,
		gravity:   mathx.Vec3{Y: gravityY},
		bodies:    make(map[BodyHandle]*RigidBody),
		colliders: make(map[ColliderHandle]*Collider),
		contacts:  make(map[pairKey]struct{}),
	}
}

func (w *World) InsertRigidBody(desc RigidBodyDesc) BodyHandle {
	w.next++
	h := BodyHandle(w.next)
	rot := desc.Rotation
	if rot == (mathx.Quat{}) {
		rot = mathx.IdentityQuat()
	}
	w.bodies[h] = &RigidBody{
		Type:           desc.Type,
		Position:       desc.Position,
		Rotation:       rot,
		LinearDamping:  desc.LinearDamping,
		AngularDamping: desc.AngularDamping,
		CCD:            desc.CCD,
	}
	w.order = append(w.order, h)
	return h
}

// InsertWithParent attaches a collider to an existing rigid body. A body may
// carry any number of colliders.
func (w *World) InsertWithParent(desc ColliderDesc, parent BodyHandle) (ColliderHandle, error) {
	body, ok := w.bodies[parent]
	if !ok {
		return 0, fmt.Errorf("insert collider on body %d: %w", parent, ErrStaleHandle)
	}
	w.next++
	h := ColliderHandle(w.next)
	w.colliders[h] = &Collider{
		Shape:           desc.Shape,
		Friction:        desc.Friction,
		Mass:            desc.Mass,
		Sensor:          desc.Sensor,
		CollisionEvents: desc.CollisionEvents,
		parent:          parent,
	}
	body.colliders = append(body.colliders, h)
	return h, nil
}

// RemoveRigidBody removes a body and cascades removal of its colliders.
func (w *World) RemoveRigidBody(h BodyHandle) error {
	body, ok := w.bodies[h]
	if !ok {
		return fmt.Errorf("remove body %d: %w", h, ErrStaleHandle)
	}
	for _, ch := range body.colliders {
		delete(w.colliders, ch)
	}
	delete(w.bodies, h)
	for i, o := range w.order {
		if o == h {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	for k := range w.contacts {
		if k.a == h || k.b == h {
			delete(w.contacts, k)
		}
	}
	return nil
}

func (w *World) RemoveCollider(h ColliderHandle) error {
	c, ok := w.colliders[h]
	if !ok {
		return fmt.Errorf("remove collider %d: %w", h, ErrStaleHandle)
	}
	if body, ok := w.bodies[c.parent]; ok {
		for i, o := range body.colliders {
			if o == h {
				body.colliders = append(body.colliders[:i], body.colliders[i+1:]...)
				break
			}
		}
	}
	delete(w.colliders, h)
	return nil
}

func (w *World) Body(h BodyHandle) (*RigidBody, error) {
	body, ok := w.bodies[h]
	if !ok {
		return nil, fmt.Errorf("body %d: %w", h, ErrStaleHandle)
	}
	return body, nil
}

func (w *World) Collider(h ColliderHandle) (*Collider, error) {
	c, ok := w.colliders[h]
	if !ok {
		return nil, fmt.Errorf("collider %d: %w", h, ErrStaleHandle)
	}
	return c, nil
}

// SetBodyType switches a body between dynamic and kinematic simulation.
// Velocity is preserved so a released pawn keeps its momentum.
func (w *World) SetBodyType(h BodyHandle, t BodyType) error {
	body, ok := w.bodies[h]
	if !ok {
		return fmt.Errorf("set body type %d: %w", h, ErrStaleHandle)
	}
	body.Type = t
	return nil
}

// SetSensor toggles whether a collider participates physically. Sensor
// colliders generate no contacts and no events.
func (w *World) SetSensor(h ColliderHandle, sensor bool) error {
	c, ok := w.colliders[h]
	if !ok {
		return fmt.Errorf("set sensor %d: %w", h, ErrStaleHandle)
	}
	c.Sensor = sensor
	return nil
}

// Step advances the simulation by one fixed timestep. Must not be called
// concurrently with any other World method.
func (w *World) Step() {
	for _, h := range w.order {
		body := w.bodies[h]
		if body.Type != Dynamic {
			continue
		}

		body.LinVel = body.LinVel.Add(w.gravity.Scale(w.dt))
		body.LinVel = body.LinVel.Scale(1 / (1 + w.dt*body.LinearDamping))
		body.AngVel = body.AngVel.Scale(1 / (1 + w.dt*body.AngularDamping))

		body.Position = body.Position.Add(body.LinVel.Scale(w.dt))
		if angle := body.AngVel.Length() * w.dt; angle > 1e-12 {
			axis := body.AngVel.Scale(1 / body.AngVel.Length())
			s := math.Sin(angle / 2)
			dq := mathx.Quat{X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s, W: math.Cos(angle / 2)}
			body.Rotation = dq.Mul(body.Rotation).Normalize()
		}

		w.resolveGround(h, body)
	}
	w.detectPairs()
}

// resolveGround clamps a dynamic body to the implicit ground plane and emits
// an impact event when it lands hard enough.
func (w *World) resolveGround(h BodyHandle, body *RigidBody) {
	half, friction, mass, wantEvents := w.solidBounds(body)
	if !w.hasSolidCollider(body) {
		// Sensor-only bodies pass through everything, ground included.
		body.grounded = false
		return
	}
	bottom := body.Position.Y - half.Y
	if bottom >= 0 {
		body.grounded = false
		return
	}

	impact := -body.LinVel.Y
	body.Position.Y = half.Y
	if body.LinVel.Y < 0 {
		body.LinVel.Y = 0
	}
	// Crude ground friction: decay horizontal motion while in contact.
	decay := 1 / (1 + w.dt*friction*10)
	body.LinVel.X *= decay
	body.LinVel.Z *= decay
	body.AngVel = body.AngVel.Scale(decay)

	if !body.grounded && wantEvents && impact > impactEventThreshold {
		w.events = append(w.events, CollisionEvent{
			Position: body.Position,
			Impulse:  mass * impact,
		})
	}
	body.grounded = true
}

// detectPairs emits a contact-started event per newly overlapping body pair.
func (w *World) detectPairs() {
	seen := make(map[pairKey]struct{}, len(w.contacts))
	for i := 0; i < len(w.order); i++ {
		for j := i + 1; j < len(w.order); j++ {
			a, b := w.bodies[w.order[i]], w.bodies[w.order[j]]
			ha, _, ma, ea := w.solidBounds(a)
			hb, _, mb, eb := w.solidBounds(b)
			if (ha == mathx.Vec3{}) || (hb == mathx.Vec3{}) {
				continue
			}
			if !overlaps(a.Position, ha, b.Position, hb) {
				continue
			}
			key := pairKey{w.order[i], w.order[j]}
			seen[key] = struct{}{}
			if _, known := w.contacts[key]; known {
				continue
			}
			if !ea && !eb {
				continue
			}
			rel := a.LinVel.Sub(b.LinVel).Length()
			if rel <= impactEventThreshold {
				continue
			}
			mid := a.Position.Add(b.Position).Scale(0.5)
			w.events = append(w.events, CollisionEvent{Position: mid, Impulse: (ma + mb) * rel})
		}
	}
	w.contacts = seen
}

func (w *World) hasSolidCollider(body *RigidBody) bool {
	for _, ch := range body.colliders {
		if c := w.colliders[ch]; c != nil && !c.Sensor {
			return true
		}
	}
	return false
}

// solidBounds unions the non-sensor colliders of a body.
func (w *World) solidBounds(body *RigidBody) (half mathx.Vec3, friction, mass float64, events bool) {
	for _, ch := range body.colliders {
		c := w.colliders[ch]
		if c == nil || c.Sensor {
			continue
		}
		he := c.Shape.halfExtents()
		half.X = math.Max(half.X, he.X)
		half.Y = math.Max(half.Y, he.Y)
		half.Z = math.Max(half.Z, he.Z)
		friction = math.Max(friction, c.Friction)
		mass += c.Mass
		events = events || c.CollisionEvents
	}
	return
}

func overlaps(pa, ha, pb, hb mathx.Vec3) bool {
	return math.Abs(pa.X-pb.X) <= ha.X+hb.X &&
		math.Abs(pa.Y-pb.Y) <= ha.Y+hb.Y &&
		math.Abs(pa.Z-pb.Z) <= ha.Z+hb.Z
}

// DrainCollisionEvents returns and clears every event accumulated since the
// previous drain. It never blocks.
func (w *World) DrainCollisionEvents() []CollisionEvent {
	out := w.events
	w.events = nil
	return out
}
