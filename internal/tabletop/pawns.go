package tabletop

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/pawn"
	"tablesim.dev/internal/phys"
	"tablesim.dev/internal/protocol"
	"tablesim.dev/internal/script"
)

// AddPawn spawns a client-provided pawn onto the table. Allowed for the host
// always, for everyone else only when the spawn-permission setting is on.
func (l *Lobby) AddPawn(actor pawn.UserID, p pawn.Pawn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if actor != l.host && !l.settings.SpawnPermission {
		return fmt.Errorf("add pawn by %d: %w", actor, ErrNotHost)
	}
	added, err := l.addPawnLocked(&p)
	if err != nil {
		return err
	}
	l.relayExcept(nil, protocol.AddPawnMsg{Type: protocol.TypeAddPawn, Pawn: *added})
	return nil
}

// addPawnLocked is the single insertion path: cap check, id allocation,
// rotation normalization and rigid-body creation. Used by AddPawn, the
// container algebra and the script host.
func (l *Lobby) addPawnLocked(p *pawn.Pawn) (*pawn.Pawn, error) {
	if len(l.pawns) >= MaxPawns {
		return nil, fmt.Errorf("add pawn: %w", ErrPawnCap)
	}
	if p.ID == 0 {
		p.ID = pawn.ID(l.allocID())
	} else {
		if _, exists := l.pawns[p.ID]; exists {
			return nil, fmt.Errorf("add pawn %d: id in use", p.ID)
		}
		l.bumpID(uint64(p.ID))
	}
	if p.Rotation == (mathx.Quat{}) {
		p.Rotation = mathx.IdentityQuat()
	}
	if p.SelectRotation == (mathx.Quat{}) {
		p.SelectRotation = mathx.IdentityQuat()
	}
	p.SelectedUser = nil

	if err := l.insertBodyLocked(p); err != nil {
		return nil, err
	}
	l.pawns[p.ID] = p
	return p, nil
}

// RemovePawns deletes pawns from the table. Pawns held by someone other than
// the actor are skipped, never ripped out from under their holder.
func (l *Lobby) RemovePawns(actor pawn.UserID, ids []pawn.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []pawn.ID
	for _, id := range ids {
		p, ok := l.pawns[id]
		if !ok {
			l.log.Debug("remove of unknown pawn", zap.Uint64("pawn", uint64(id)))
			continue
		}
		if p.SelectedUser != nil && *p.SelectedUser != actor {
			l.log.Warn("remove of held pawn rejected",
				zap.Uint64("pawn", uint64(id)), zap.Uint64("actor", uint64(actor)))
			continue
		}
		l.removePawnLocked(p)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		l.relayExcept(nil, protocol.RemovePawnsMsg{Type: protocol.TypeRemovePawns, IDs: removed})
	}
}

// ClearPawns wipes the table. Host only.
func (l *Lobby) ClearPawns(actor pawn.UserID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if actor != l.host {
		return fmt.Errorf("clear pawns by %d: %w", actor, ErrNotHost)
	}
	l.clearPawnsLocked()
	l.relayExcept(nil, protocol.ClearPawnsMsg{Type: protocol.TypeClearPawns})
	return nil
}

func (l *Lobby) clearPawnsLocked() {
	for _, p := range l.pawns {
		l.removePawnLocked(p)
	}
}

func (l *Lobby) removePawnLocked(p *pawn.Pawn) {
	if err := l.world.RemoveRigidBody(p.RigidBody); err != nil {
		l.logConsistency("remove pawn body", err, zap.Uint64("pawn", uint64(p.ID)))
	}
	p.RigidBody = 0
	delete(l.pawns, p.ID)
}

// grabEvent defers a script grab/release hook until after the whole update
// batch is applied.
type grabEvent struct {
	pawn    pawn.ID
	user    pawn.UserID
	grabbed bool
}

// UpdatePawns is the generic mutation path for client batches. A nil-selected
// conflict never moves another user's held pawn; offending items are
// neutralized individually, the rest of the batch proceeds.
func (l *Lobby) UpdatePawns(actor pawn.UserID, updates []pawn.Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updatePawnsLocked(&actor, updates, nil)
}

// updatePawnsLocked applies a batch, syncs physics state, relays the applied
// diffs to everyone but the actor and fires grab/release hooks. actor == nil
// means the server (physics step or script) and bypasses ownership checks.
func (l *Lobby) updatePawnsLocked(actor *pawn.UserID, updates []pawn.Update, collisions []phys.CollisionEvent) {
	applied := make([]pawn.Update, 0, len(updates))
	var hooks []grabEvent

	for i := range updates {
		u := updates[i]
		p, ok := l.pawns[u.ID]
		if !ok {
			l.log.Debug("update of unknown pawn", zap.Uint64("pawn", uint64(u.ID)))
			continue
		}
		if p.SelectedUser != nil && actor != nil && *p.SelectedUser != *actor {
			// Held by someone else: neutralize this item only.
			continue
		}
		u.Sanitize(p)

		// Selection transitions are resolved here, not in Apply: only real
		// transitions count as changes or fire hooks.
		if u.Selected != nil {
			switch {
			case *u.Selected && p.SelectedUser == nil && actor != nil:
				holder := *actor
				p.SelectedUser = &holder
				hooks = append(hooks, grabEvent{p.ID, holder, true})
			case !*u.Selected && p.SelectedUser != nil:
				holder := *p.SelectedUser
				p.SelectedUser = nil
				hooks = append(hooks, grabEvent{p.ID, holder, false})
			default:
				u.Selected = nil
			}
			if u.Selected != nil {
				if err := l.setBodyModeLocked(p); err != nil {
					l.logConsistency("selection mode", err, zap.Uint64("pawn", uint64(p.ID)))
				}
			}
		}

		oldPos := p.Position
		diff, changed := u.Apply(p)
		if !changed {
			continue
		}

		if diff.Position != nil || diff.Rotation != nil {
			l.syncTransformLocked(p, oldPos, diff.Position != nil)
		}
		if diff.Data != nil {
			if err := l.rebuildCollidersLocked(p); err != nil {
				l.logConsistency("rebuild colliders", err, zap.Uint64("pawn", uint64(p.ID)))
			}
		}
		applied = append(applied, diff)
	}

	if len(applied) > 0 || len(collisions) > 0 {
		l.relayExcept(actor, protocol.UpdatePawnsMsg{
			Type:       protocol.TypeUpdatePawns,
			Updates:    applied,
			Collisions: collisions,
		})
	}
	for _, h := range hooks {
		h := h
		l.callScriptLocked(func(vm *script.VM) error {
			return vm.Grab(h.pawn, h.user, h.grabbed)
		})
	}
}

// syncTransformLocked pushes the pawn's transform into its rigid body. For
// free pawns the linear velocity is inferred by finite difference so a thrown
// object keeps its momentum on release; the elapsed-time floor stops rapid
// updates from blowing the difference up.
func (l *Lobby) syncTransformLocked(p *pawn.Pawn, oldPos mathx.Vec3, moved bool) {
	body, err := l.world.Body(p.RigidBody)
	if err != nil {
		l.logConsistency("transform sync", err, zap.Uint64("pawn", uint64(p.ID)))
		return
	}
	now := time.Now()
	if moved && p.SelectedUser == nil {
		dt := now.Sub(p.LastUpdated)
		if dt < minVelocityDT {
			dt = minVelocityDT
		}
		body.LinVel = p.Position.Sub(oldPos).Scale(PhysicsScale / dt.Seconds())
	}
	body.Position = p.Position.Scale(PhysicsScale)
	body.Rotation = p.Rotation.Normalize()
	p.LastUpdated = now
}

// insertBodyLocked creates the rigid body and colliders for a pawn entering
// the world.
func (l *Lobby) insertBodyLocked(p *pawn.Pawn) error {
	h := l.world.InsertRigidBody(phys.RigidBodyDesc{
		Type:           bodyTypeFor(p),
		Position:       p.Position.Scale(PhysicsScale),
		Rotation:       p.Rotation,
		LinearDamping:  pawnLinearDamping,
		AngularDamping: pawnAngularDamping,
		CCD:            true,
	})
	p.RigidBody = h
	p.LastUpdated = time.Now()
	if err := l.attachCollidersLocked(p); err != nil {
		_ = l.world.RemoveRigidBody(h)
		p.RigidBody = 0
		return err
	}
	return nil
}

// attachCollidersLocked derives colliders from the pawn's payload. Snap
// points get none; payloads without a derived shape fall back to the default
// cuboid. Held pawns get sensors.
func (l *Lobby) attachCollidersLocked(p *pawn.Pawn) error {
	desc, ok := p.Data.Collider(PhysicsScale)
	if !ok {
		if p.Data.Kind == pawn.KindSnapPoint {
			return nil
		}
		desc = pawn.DefaultCollider(PhysicsScale)
	}
	desc.Sensor = p.SelectedUser != nil
	_, err := l.world.InsertWithParent(desc, p.RigidBody)
	return err
}

// rebuildCollidersLocked tears down and re-derives a pawn's colliders, used
// whenever its payload changes shape (deck growing or shrinking).
func (l *Lobby) rebuildCollidersLocked(p *pawn.Pawn) error {
	body, err := l.world.Body(p.RigidBody)
	if err != nil {
		return err
	}
	for _, ch := range body.Colliders() {
		if err := l.world.RemoveCollider(ch); err != nil {
			return err
		}
	}
	return l.attachCollidersLocked(p)
}

// setBodyModeLocked ties simulation mode to selection: held pawns are
// kinematic with sensor colliders, free movable pawns are dynamic, immovable
// pawns are fixed.
func (l *Lobby) setBodyModeLocked(p *pawn.Pawn) error {
	if err := l.world.SetBodyType(p.RigidBody, bodyTypeFor(p)); err != nil {
		return err
	}
	body, err := l.world.Body(p.RigidBody)
	if err != nil {
		return err
	}
	sensor := p.SelectedUser != nil
	for _, ch := range body.Colliders() {
		if err := l.world.SetSensor(ch, sensor); err != nil {
			return err
		}
	}
	if sensor {
		body.LinVel = mathx.Vec3{}
		body.AngVel = mathx.Vec3{}
	}
	return nil
}

func bodyTypeFor(p *pawn.Pawn) phys.BodyType {
	switch {
	case !p.Moveable:
		return phys.Fixed
	case p.SelectedUser != nil:
		return phys.KinematicPositionBased
	default:
		return phys.Dynamic
	}
}
