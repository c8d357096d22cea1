package tabletop

import (
	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/pawn"
)

// outBufferSize bounds the per-user outbound queue. A user that cannot drain
// this many frames is considered stalled and starts losing frames rather than
// blocking the lobby.
const outBufferSize = 256

var userColors = []string{
	"#d32f2f", "#1976d2", "#388e3c", "#fbc02d",
	"#7b1fa2", "#f57c00", "#0097a7", "#5d4037",
}

// User is one connected participant. All fields are guarded by the owning
// lobby's lock; the transport only ever touches Out.
type User struct {
	ID    pawn.UserID
	Color string

	// hand holds pawns withdrawn from the table. Hand pawns are not
	// simulated and are invisible to other users.
	hand map[pawn.ID]*pawn.Pawn

	cursor *mathx.Vec3
	head   *mathx.Vec3

	out     chan []byte
	closed  bool
	dropped uint64
}

func newUser(id pawn.UserID, color string) *User {
	return &User{
		ID:    id,
		Color: color,
		hand:  make(map[pawn.ID]*pawn.Pawn),
		out:   make(chan []byte, outBufferSize),
	}
}

// Out is the frame stream the transport writes to the socket. It is closed
// when the user disconnects.
func (u *User) Out() <-chan []byte { return u.out }

// send enqueues a frame, dropping it when the buffer is full. Called with the
// lobby lock held.
func (u *User) send(b []byte) bool {
	if u.closed {
		return false
	}
	select {
	case u.out <- b:
		return true
	default:
		u.dropped++
		return false
	}
}

func (u *User) close() {
	if u.closed {
		return
	}
	u.closed = true
	close(u.out)
}
