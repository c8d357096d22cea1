package pawn

import (
	"tablesim.dev/internal/mathx"
)

// Update is a sparse patch: nil fields are left unchanged. Selected is a
// tri-state — nil leaves the selection alone.
type Update struct {
	ID ID `json:"id"`

	Name    *string `json:"name,omitempty"`
	Mesh    *string `json:"mesh,omitempty"`
	Tint    *uint64 `json:"tint,omitempty"`
	Texture *string `json:"texture,omitempty"`

	Moveable *bool `json:"moveable,omitempty"`

	Position       *mathx.Vec3 `json:"position,omitempty"`
	Rotation       *mathx.Quat `json:"rotation,omitempty"`
	Selected       *bool       `json:"selected,omitempty"`
	SelectRotation *mathx.Quat `json:"selectRotation,omitempty"`

	Data *Data `json:"data,omitempty"`
}

// Sanitize strips the fields an immovable pawn must never accept. It mutates
// the update in place so the relayed patch matches what was applied.
func (u *Update) Sanitize(p *Pawn) {
	if !p.Moveable && (u.Moveable == nil || !*u.Moveable) {
		u.Position = nil
		u.Rotation = nil
		u.SelectRotation = nil
	}
}

// Apply patches the pawn and returns the diff of fields that actually changed
// value. Change suppression keeps physics-driven broadcasts from echoing
// no-op updates back and forth. Selection transitions are the caller's
// responsibility; Selected is copied into the diff untouched.
func (u *Update) Apply(p *Pawn) (Update, bool) {
	diff := Update{ID: p.ID, Selected: u.Selected}
	changed := u.Selected != nil

	if u.Name != nil && *u.Name != p.Name {
		p.Name = *u.Name
		diff.Name = u.Name
		changed = true
	}
	if u.Mesh != nil && *u.Mesh != p.Mesh {
		p.Mesh = *u.Mesh
		diff.Mesh = u.Mesh
		changed = true
	}
	if u.Tint != nil && *u.Tint != p.Tint {
		p.Tint = *u.Tint
		diff.Tint = u.Tint
		changed = true
	}
	if u.Texture != nil && *u.Texture != p.Texture {
		p.Texture = *u.Texture
		diff.Texture = u.Texture
		changed = true
	}
	if u.Moveable != nil && *u.Moveable != p.Moveable {
		p.Moveable = *u.Moveable
		diff.Moveable = u.Moveable
		changed = true
	}
	if u.Position != nil && *u.Position != p.Position {
		p.Position = *u.Position
		diff.Position = u.Position
		changed = true
	}
	if u.Rotation != nil && *u.Rotation != p.Rotation {
		p.Rotation = *u.Rotation
		diff.Rotation = u.Rotation
		changed = true
	}
	if u.SelectRotation != nil && *u.SelectRotation != p.SelectRotation {
		p.SelectRotation = *u.SelectRotation
		diff.SelectRotation = u.SelectRotation
		changed = true
	}
	if u.Data != nil {
		p.Data = u.Data.clone()
		diff.Data = u.Data
		changed = true
	}
	return diff, changed
}

// TransformUpdate captures the pawn's current transform, used for
// physics-driven broadcasts.
func (p *Pawn) TransformUpdate() Update {
	pos, rot := p.Position, p.Rotation
	return Update{ID: p.ID, Position: &pos, Rotation: &rot}
}
