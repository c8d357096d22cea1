package pawn

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/phys"
)

func strp(s string) *string         { return &s }
func vecp(v mathx.Vec3) *mathx.Vec3 { return &v }

func testDeck(cards ...string) Data {
	return Data{Kind: KindDeck, Deck: &Deck{
		Contents:      cards,
		CardThickness: 0.01,
		Size:          mathx.Vec2{X: 2, Y: 3},
	}}
}

func TestApplyProducesDiffOnly(t *testing.T) {
	p := &Pawn{ID: 1, Name: "rook", Moveable: true, Position: mathx.Vec3{X: 1}}

	u := Update{
		ID:       1,
		Name:     strp("rook"),            // unchanged, must be suppressed
		Position: vecp(mathx.Vec3{X: 2}),  // changed
	}
	diff, changed := u.Apply(p)
	assert.True(t, changed)
	assert.Nil(t, diff.Name, "unchanged field must not appear in the diff")
	require.NotNil(t, diff.Position)
	assert.Equal(t, mathx.Vec3{X: 2}, *diff.Position)
	assert.Equal(t, mathx.Vec3{X: 2}, p.Position)
}

func TestApplyNoChangeIsNotAChange(t *testing.T) {
	p := &Pawn{ID: 1, Moveable: true, Position: mathx.Vec3{X: 5}}
	u := Update{ID: 1, Position: vecp(mathx.Vec3{X: 5})}
	_, changed := u.Apply(p)
	assert.False(t, changed, "patching with current values must be a no-op")
}

func TestSanitizeDropsTransformsOnImmovable(t *testing.T) {
	p := &Pawn{ID: 2, Moveable: false, Position: mathx.Vec3{Y: 1}}
	rot := mathx.QuatFromEuler(0, 0, 1)
	u := Update{ID: 2, Position: vecp(mathx.Vec3{Y: 9}), Rotation: &rot, SelectRotation: &rot}
	u.Sanitize(p)
	assert.Nil(t, u.Position)
	assert.Nil(t, u.Rotation)
	assert.Nil(t, u.SelectRotation)

	_, changed := u.Apply(p)
	assert.False(t, changed)
	assert.Equal(t, mathx.Vec3{Y: 1}, p.Position)
}

func TestDeckColliderTracksStackHeight(t *testing.T) {
	d := testDeck("a", "b", "c", "d")
	desc, ok := d.Collider(1.0)
	require.True(t, ok)
	cuboid, ok := desc.Shape.(phys.Cuboid)
	require.True(t, ok)
	assert.InDelta(t, 0.03, cuboid.HalfExtents.Y, 1e-9, "thin stacks clamp to the minimum half height")
	assert.InDelta(t, 1.0, cuboid.HalfExtents.X, 1e-9)
	assert.InDelta(t, 1.5, cuboid.HalfExtents.Z, 1e-9)

	big := testDeck(make([]string, 100)...)
	desc, _ = big.Collider(1.0)
	tall := desc.Shape.(phys.Cuboid)
	assert.InDelta(t, 0.01*100*1.15/2, tall.HalfExtents.Y, 1e-9)
	assert.Greater(t, tall.HalfExtents.Y, cuboid.HalfExtents.Y)
}

func TestSnapPointHasNoCollider(t *testing.T) {
	d := Data{Kind: KindSnapPoint, SnapPoint: &SnapPoint{Radius: 1}}
	_, ok := d.Collider(1.0)
	assert.False(t, ok)
}

func TestDataJSONRoundTrip(t *testing.T) {
	capacity := uint64(3)
	cases := []Data{
		PlainData(),
		testDeck("c1", "c2"),
		{Kind: KindContainer, Container: &Container{
			Holds:    &Pawn{ID: 9, Name: "chip", Moveable: true, Data: PlainData()},
			Capacity: &capacity,
		}},
		{Kind: KindDice, Dice: &Dice{RollRotations: []mathx.Quat{mathx.QuatFromEuler(math.Pi, 0, 0)}}},
	}
	for _, d := range cases {
		b, err := json.Marshal(d)
		require.NoError(t, err)
		var back Data
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, d.Kind, back.Kind)
	}

	var bad Data
	assert.Error(t, json.Unmarshal([]byte(`{"class":"Wormhole"}`), &bad))
}

func TestCloneIsDeep(t *testing.T) {
	capacity := uint64(5)
	p := &Pawn{
		ID:       7,
		Moveable: true,
		Data: Data{Kind: KindContainer, Container: &Container{
			Holds:    &Pawn{ID: 8, Data: testDeck("x", "y")},
			Capacity: &capacity,
		}},
		RigidBody: 42,
	}
	u := UserID(1)
	p.SelectedUser = &u

	c := p.Clone()
	assert.Nil(t, c.SelectedUser, "runtime state must not survive cloning")
	assert.Zero(t, c.RigidBody)

	c.Data.Container.Holds.Data.Deck.Contents[0] = "mutated"
	assert.Equal(t, "x", p.Data.Container.Holds.Data.Deck.Contents[0])

	*c.Data.Container.Capacity = 0
	assert.Equal(t, uint64(5), *p.Data.Container.Capacity)
}

func TestFlipped(t *testing.T) {
	p := &Pawn{SelectRotation: mathx.IdentityQuat()}
	assert.False(t, p.Flipped())
	p.SelectRotation = mathx.QuatFromEuler(math.Pi, 0, 0)
	assert.True(t, p.Flipped())
}
