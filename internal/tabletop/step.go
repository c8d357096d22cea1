package tabletop

import (
	"errors"
	"math"

	"go.uber.org/zap"

	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/pawn"
	"tablesim.dev/internal/phys"
	"tablesim.dev/internal/protocol"
	"tablesim.dev/internal/script"
)

// transformEpsilon suppresses broadcasts for sub-visible physics jitter.
const transformEpsilon = 1e-6

// Step advances the lobby by one fixed physics tick: integrate the world,
// pull moved transforms back onto free pawns, broadcast the batch together
// with any collision events, then fire the script physics callback and due
// timers. Runs under the lobby lock like every other mutation.
func (l *Lobby) Step() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.world.Step()
	collisions := l.world.DrainCollisionEvents()

	var moved []pawn.Update
	for _, p := range l.sortedPawnsLocked() {
		if !p.Moveable || p.SelectedUser != nil {
			continue
		}
		body, err := l.world.Body(p.RigidBody)
		if err != nil {
			l.logConsistency("step transform read", err, zap.Uint64("pawn", uint64(p.ID)))
			continue
		}
		pos := body.Position.Scale(1 / PhysicsScale)
		if nearVec(pos, p.Position) && body.Rotation == p.Rotation {
			continue
		}
		p.Position = pos
		p.Rotation = body.Rotation
		moved = append(moved, p.TransformUpdate())
	}

	if len(moved) > 0 || len(collisions) > 0 {
		l.relayPhysicsLocked(moved, collisions)
	}

	l.callScriptLocked(func(vm *script.VM) error {
		if err := vm.Physics(); err != nil {
			return err
		}
		return errors.Join(vm.TickTimers()...)
	})
}

// relayPhysicsLocked fans physics-driven motion out to everyone; there is no
// actor to exclude.
func (l *Lobby) relayPhysicsLocked(moved []pawn.Update, collisions []phys.CollisionEvent) {
	l.relayExcept(nil, protocol.UpdatePawnsMsg{
		Type:       protocol.TypeUpdatePawns,
		Updates:    moved,
		Collisions: collisions,
	})
}

func nearVec(a, b mathx.Vec3) bool {
	return math.Abs(a.X-b.X) < transformEpsilon &&
		math.Abs(a.Y-b.Y) < transformEpsilon &&
		math.Abs(a.Z-b.Z) < transformEpsilon
}
