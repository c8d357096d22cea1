// Package pawn defines the entity model of the shared scene: the pawn itself,
// its tagged-variant payload, and the sparse update patches the protocol
// exchanges. The lobby owns the instances; this package owns their semantics.
package pawn

import (
	"time"

	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/phys"
)

// ID identifies a pawn within one lobby. Client-created pawns carry
// client-chosen ids; server-created pawns draw from the lobby's monotonic
// counter. Never reused within a lobby's lifetime.
type ID uint64

// UserID identifies a connected user within one lobby.
type UserID uint64

// Pawn is a simulated object on the table.
type Pawn struct {
	ID ID `json:"id"`

	// Descriptive fields, changed only via explicit update.
	Name    string `json:"name,omitempty"`
	Mesh    string `json:"mesh,omitempty"`
	Tint    uint64 `json:"tint,omitempty"`
	Texture string `json:"texture,omitempty"`

	// Moveable gates every transform mutation. Immovable pawns get a fixed
	// rigid body and silently drop transform patches.
	Moveable bool `json:"moveable"`

	Position       mathx.Vec3 `json:"position"`
	Rotation       mathx.Quat `json:"rotation"`
	SelectRotation mathx.Quat `json:"selectRotation"`

	Data Data `json:"data"`

	// SelectedUser is the exclusive holder of the pawn, nil when free.
	// While held the pawn is kinematic and its colliders are sensors.
	SelectedUser *UserID `json:"-"`

	// RigidBody is valid only within the owning lobby's physics world.
	RigidBody phys.BodyHandle `json:"-"`

	// LastUpdated feeds velocity inference on transform updates.
	LastUpdated time.Time `json:"-"`
}

// Clone returns a deep copy with runtime-only state cleared, suitable for
// spawning from a container template.
func (p *Pawn) Clone() *Pawn {
	c := *p
	c.SelectedUser = nil
	c.RigidBody = 0
	c.Data = p.Data.clone()
	return &c
}

// Flipped reports whether the pawn is held upside down, which decides the end
// of a deck cards are drawn from and merged onto.
func (p *Pawn) Flipped() bool {
	return p.SelectRotation.Flipped()
}
