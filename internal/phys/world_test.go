package phys

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesim.dev/internal/mathx"
)

const testDT = 1.0 / 45.0

func dynamicBox(t *testing.T, w *World, pos mathx.Vec3) BodyHandle {
	t.Helper()
	h := w.InsertRigidBody(RigidBodyDesc{
		Type:          Dynamic,
		Position:      pos,
		LinearDamping: 1.0, AngularDamping: 0.5,
	})
	_, err := w.InsertWithParent(ColliderDesc{
		Shape:    Cuboid{HalfExtents: mathx.Vec3{X: 0.5, Y: 0.5, Z: 0.5}},
		Friction: 0.7, Mass: 0.01, CollisionEvents: true,
	}, h)
	require.NoError(t, err)
	return h
}

func TestDynamicBodyFallsAndLands(t *testing.T) {
	w := NewWorld(testDT)
	h := dynamicBox(t, w, mathx.Vec3{Y: 10})

	w.Step()
	body, err := w.Body(h)
	require.NoError(t, err)
	assert.Less(t, body.Position.Y, 10.0, "gravity should pull the body down")

	for i := 0; i < 45*10; i++ {
		w.Step()
	}
	body, err = w.Body(h)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, body.Position.Y, 1e-6, "body should rest on the ground at its half height")

	events := w.DrainCollisionEvents()
	assert.NotEmpty(t, events, "landing should produce a collision event")
	assert.Greater(t, events[0].Impulse, 0.0)

	assert.Empty(t, w.DrainCollisionEvents(), "drain must clear the queue")
}

func TestKinematicBodyIsNotIntegrated(t *testing.T) {
	w := NewWorld(testDT)
	h := w.InsertRigidBody(RigidBodyDesc{Type: KinematicPositionBased, Position: mathx.Vec3{Y: 5}})
	for i := 0; i < 100; i++ {
		w.Step()
	}
	body, err := w.Body(h)
	require.NoError(t, err)
	assert.Equal(t, 5.0, body.Position.Y)
}

func TestSensorCollidersAreNonPhysical(t *testing.T) {
	w := NewWorld(testDT)
	h := w.InsertRigidBody(RigidBodyDesc{Type: Dynamic, Position: mathx.Vec3{Y: 3}})
	ch, err := w.InsertWithParent(ColliderDesc{
		Shape:  Cuboid{HalfExtents: mathx.Vec3{X: 0.5, Y: 0.5, Z: 0.5}},
		Sensor: true, CollisionEvents: true, Mass: 0.01,
	}, h)
	require.NoError(t, err)

	for i := 0; i < 45*5; i++ {
		w.Step()
	}
	body, _ := w.Body(h)
	assert.Less(t, body.Position.Y, 0.0, "sensor-only body should fall through the ground")
	assert.Empty(t, w.DrainCollisionEvents())

	// Un-sensoring restores physicality.
	require.NoError(t, w.SetSensor(ch, false))
	body.Position = mathx.Vec3{Y: 3}
	body.LinVel = mathx.Vec3{}
	for i := 0; i < 45*5; i++ {
		w.Step()
	}
	assert.InDelta(t, 0.5, body.Position.Y, 1e-6)
}

func TestStaleHandlesAreRecoverableErrors(t *testing.T) {
	w := NewWorld(testDT)
	h := dynamicBox(t, w, mathx.Vec3{Y: 1})

	body, err := w.Body(h)
	require.NoError(t, err)
	colliders := body.Colliders()
	require.Len(t, colliders, 1)

	require.NoError(t, w.RemoveRigidBody(h))

	_, err = w.Body(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.ErrorIs(t, w.RemoveRigidBody(h), ErrStaleHandle)
	// Collider removal cascaded with the body.
	assert.ErrorIs(t, w.RemoveCollider(colliders[0]), ErrStaleHandle)
	_, err = w.InsertWithParent(ColliderDesc{Shape: Cuboid{}}, h)
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestCompositeColliders(t *testing.T) {
	w := NewWorld(testDT)
	h := w.InsertRigidBody(RigidBodyDesc{Type: Dynamic, Position: mathx.Vec3{Y: 5}})
	for i := 0; i < 3; i++ {
		_, err := w.InsertWithParent(ColliderDesc{
			Shape: Cylinder{HalfHeight: 0.2 * float64(i+1), Radius: 0.1},
			Mass:  0.01,
		}, h)
		require.NoError(t, err)
	}
	body, _ := w.Body(h)
	assert.Len(t, body.Colliders(), 3)

	for i := 0; i < 45*5; i++ {
		w.Step()
	}
	// Rests on the tallest attached collider.
	assert.InDelta(t, 0.6, body.Position.Y, 1e-6)
}

func TestPairContactEventFiresOnce(t *testing.T) {
	w := NewWorld(testDT)
	a := dynamicBox(t, w, mathx.Vec3{X: -2, Y: 0.5})
	_ = dynamicBox(t, w, mathx.Vec3{X: 2, Y: 0.5})

	body, _ := w.Body(a)
	body.LinVel = mathx.Vec3{X: 40}

	var total int
	for i := 0; i < 45; i++ {
		w.Step()
		total += len(w.DrainCollisionEvents())
	}
	assert.GreaterOrEqual(t, total, 1, "approach should start a contact")
}

func TestRemoveColliderDetachesFromBody(t *testing.T) {
	w := NewWorld(testDT)
	h := dynamicBox(t, w, mathx.Vec3{Y: 1})
	body, _ := w.Body(h)
	ch := body.Colliders()[0]
	require.NoError(t, w.RemoveCollider(ch))
	assert.Empty(t, body.Colliders())

	var stale error = ErrStaleHandle
	assert.True(t, errors.Is(w.RemoveCollider(ch), stale))
}
