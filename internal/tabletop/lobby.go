// Package tabletop implements the authoritative lobby: users, pawns, the
// physics world, the script VM, and the full event-handling protocol. One
// mutex serializes every mutation of a lobby; the physics step, client events
// and script callbacks all run under it. Lobbies are fully independent of each
// other.
package tabletop

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tablesim.dev/internal/pawn"
	"tablesim.dev/internal/phys"
	"tablesim.dev/internal/protocol"
	"tablesim.dev/internal/script"
)

const (
	// PhysicsRate is the fixed simulation step interval.
	PhysicsRate = time.Second / 45
	// CursorRate is the avatar-presence relay interval.
	CursorRate = time.Second / 10

	// PhysicsScale maps world units to physics units. Applied on every
	// translation crossing the pawn/rigid-body boundary, both directions.
	PhysicsScale = 1.0 / 8

	MaxPawns = 1024
	MaxUsers = 32

	// minVelocityDT floors the elapsed time used for velocity inference so
	// rapid successive updates cannot blow the finite difference up.
	minVelocityDT = time.Second / 20

	// Spawn offsets keep freshly split pawns from overlapping their source.
	containerSpawnOffset = 3.0
	deckSplitOffset      = 1.0

	pawnLinearDamping  = 1.0
	pawnAngularDamping = 0.5
)

var (
	ErrLobbyFull    = errors.New("lobby is full")
	ErrNotHost      = errors.New("host-only action")
	ErrPawnCap      = errors.New("pawn cap reached")
	ErrUnknownPawn  = errors.New("unknown pawn")
	ErrUnknownUser  = errors.New("unknown user")
	ErrNotContainer = errors.New("not a container")
	ErrNotMergeable = errors.New("not mergeable")
)

// Lobby is the aggregate root of one session. All exported methods lock; the
// *Locked helpers assume the caller holds mu (the script host calls them
// re-entrantly from VM callbacks).
type Lobby struct {
	name    string
	log     *zap.Logger
	created time.Time

	mu sync.Mutex

	host     pawn.UserID
	info     *protocol.GameInfo
	settings protocol.Settings

	users map[pawn.UserID]*User
	pawns map[pawn.ID]*pawn.Pawn

	assets     map[string]Asset
	assetBytes int

	registered map[string]*pawn.Pawn

	world *phys.World

	// vm is taken out of the struct for the duration of every script call;
	// nil here means a call is in flight and reentrancy must fail fast.
	vm *script.VM

	// nextID allocates user ids and server-chosen pawn ids from one
	// monotonic space, never reused within the lobby's lifetime.
	nextID uint64

	closed bool
}

// NewLobby builds an empty lobby with a running (but unstepped) physics world
// and a fresh script VM.
func NewLobby(name string, log *zap.Logger) *Lobby {
	l := &Lobby{
		name:       name,
		log:        log.With(zap.String("lobby", name)),
		created:    time.Now(),
		users:      make(map[pawn.UserID]*User),
		pawns:      make(map[pawn.ID]*pawn.Pawn),
		assets:     make(map[string]Asset),
		registered: make(map[string]*pawn.Pawn),
		world:      phys.NewWorld(PhysicsRate.Seconds()),
	}
	l.vm = script.New(&lobbyHost{l: l}, l.resolveScript)
	return l
}

func (l *Lobby) Name() string { return l.name }

func (l *Lobby) allocID() uint64 {
	l.nextID++
	return l.nextID
}

// bumpID keeps the allocator above every client-chosen id so server-allocated
// ids stay unique.
func (l *Lobby) bumpID(id uint64) {
	if id > l.nextID {
		l.nextID = id
	}
}

// Join admits a new user, sends them the full snapshot and announces them to
// everyone else. The first user becomes host.
func (l *Lobby) Join(referrer string) (*User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errors.New("lobby closed")
	}
	if len(l.users) >= MaxUsers {
		return nil, ErrLobbyFull
	}

	id := pawn.UserID(l.allocID())
	u := newUser(id, userColors[int(id)%len(userColors)])
	if len(l.users) == 0 {
		l.host = id
	}
	l.users[id] = u

	l.log.Info("user joined",
		zap.Uint64("user", uint64(id)),
		zap.String("referrer", referrer),
		zap.Int("users", len(l.users)))

	l.sendTo(u, protocol.StartMsg{
		Type:            protocol.TypeStart,
		ID:              id,
		Host:            l.host == id,
		Color:           u.Color,
		Info:            l.info,
		Settings:        l.settings,
		Users:           l.userInfosLocked(),
		Pawns:           l.pawnSnapshotLocked(),
		RegisteredPawns: l.registeredSnapshotLocked(),
	})
	l.relayExcept(&id, protocol.ConnectMsg{Type: protocol.TypeConnect, ID: id, Color: u.Color})
	if l.settings.ShowCardCounts {
		l.broadcastHandCountsLocked()
	}
	return u, nil
}

// Disconnect removes a user, force-releases everything they held and
// reassigns the host if needed. It reports whether the lobby is now empty;
// an empty lobby is closed and must be torn down by the caller.
func (l *Lobby) Disconnect(id pawn.UserID) (empty bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[id]
	if !ok {
		return len(l.users) == 0
	}

	// Force-release every pawn the departing user held.
	var released []pawn.Update
	no := false
	for _, p := range l.sortedPawnsLocked() {
		if p.SelectedUser == nil || *p.SelectedUser != id {
			continue
		}
		p.SelectedUser = nil
		if err := l.setBodyModeLocked(p); err != nil {
			l.logConsistency("release on disconnect", err, zap.Uint64("pawn", uint64(p.ID)))
		}
		released = append(released, pawn.Update{ID: p.ID, Selected: &no})
	}

	if n := len(u.hand); n > 0 {
		l.log.Info("discarding hand on disconnect", zap.Uint64("user", uint64(id)), zap.Int("pawns", n))
	}
	u.close()
	delete(l.users, id)

	if len(released) > 0 {
		l.relayExcept(nil, protocol.UpdatePawnsMsg{Type: protocol.TypeUpdatePawns, Updates: released})
	}
	l.relayExcept(nil, protocol.DisconnectMsg{Type: protocol.TypeDisconnect, ID: id})
	l.log.Info("user left", zap.Uint64("user", uint64(id)), zap.Int("users", len(l.users)))

	if len(l.users) == 0 {
		l.closed = true
		return true
	}
	if l.host == id {
		l.host = l.lowestUserLocked()
		l.relayExcept(nil, protocol.AssignHostMsg{Type: protocol.TypeAssignHost, ID: l.host})
		l.log.Info("host reassigned", zap.Uint64("host", uint64(l.host)))
	}
	return false
}

func (l *Lobby) lowestUserLocked() pawn.UserID {
	var lowest pawn.UserID
	first := true
	for id := range l.users {
		if first || id < lowest {
			lowest = id
			first = false
		}
	}
	return lowest
}

// UpdateSettings applies host-only lobby flags. Turning card counts on
// immediately broadcasts every user's hand size.
func (l *Lobby) UpdateSettings(actor pawn.UserID, s protocol.Settings) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if actor != l.host {
		return fmt.Errorf("settings by %d: %w", actor, ErrNotHost)
	}
	prev := l.settings
	l.settings = s
	l.relayExcept(&actor, protocol.SettingsMsg{Type: protocol.TypeSettings, Settings: s})
	if s.ShowCardCounts && !prev.ShowCardCounts {
		l.broadcastHandCountsLocked()
	}
	return nil
}

// Chat relays a user message to everyone and fires the script chat callback.
func (l *Lobby) Chat(actor pawn.UserID, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if content == "" {
		return
	}
	if _, ok := l.users[actor]; !ok {
		return
	}
	l.relayExcept(nil, protocol.ChatMsg{Type: protocol.TypeChat, ID: &actor, Content: content})
	l.callScriptLocked(func(vm *script.VM) error {
		return vm.Chat(actor, content)
	})
}

// Ping answers a keep-alive probe directly to the sender.
func (l *Lobby) Ping(actor pawn.UserID, idx uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.users[actor]; ok {
		l.sendTo(u, protocol.PongMsg{Type: protocol.TypePong, Idx: idx})
	}
}

// UpdateUserStatus records the sender's cursor/head pose. Statuses for other
// ids are dropped; presence is self-reported only.
func (l *Lobby) UpdateUserStatus(actor pawn.UserID, updates []protocol.UserStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[actor]
	if !ok {
		return
	}
	for _, s := range updates {
		if s.ID != actor {
			continue
		}
		if s.Cursor != nil {
			c := *s.Cursor
			u.cursor = &c
		}
		if s.Head != nil {
			h := *s.Head
			u.head = &h
		}
	}
}

// RelayStatuses broadcasts the current avatar poses. Driven by the manager at
// CursorRate, decoupled from how often clients send.
func (l *Lobby) RelayStatuses() {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []protocol.UserStatus
	for _, id := range l.sortedUsersLocked() {
		u := l.users[id]
		if u.cursor == nil && u.head == nil {
			continue
		}
		out = append(out, protocol.UserStatus{ID: id, Cursor: u.cursor, Head: u.head})
	}
	if len(out) == 0 {
		return
	}
	l.relayExcept(nil, protocol.UserStatusesMsg{Type: protocol.TypeUserStatuses, Updates: out})
}

// Page renders a script-defined sub-page, if the game provides one.
func (l *Lobby) Page(path string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var body string
	var ok bool
	l.callScriptLocked(func(vm *script.VM) error {
		var err error
		body, ok, err = vm.Page(path)
		return err
	})
	return body, ok
}

// UserCount reports connected users, for the dashboard.
func (l *Lobby) UserCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

// PawnCount reports pawns on the table, for the dashboard.
func (l *Lobby) PawnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pawns)
}

// --- snapshot and relay helpers, all called with mu held ---

func (l *Lobby) userInfosLocked() []protocol.UserInfo {
	out := make([]protocol.UserInfo, 0, len(l.users))
	for _, id := range l.sortedUsersLocked() {
		out = append(out, protocol.UserInfo{ID: id, Color: l.users[id].Color})
	}
	return out
}

func (l *Lobby) pawnSnapshotLocked() []pawn.Pawn {
	out := make([]pawn.Pawn, 0, len(l.pawns))
	for _, p := range l.sortedPawnsLocked() {
		out = append(out, *p)
	}
	return out
}

func (l *Lobby) registeredSnapshotLocked() map[string]pawn.Pawn {
	if len(l.registered) == 0 {
		return nil
	}
	out := make(map[string]pawn.Pawn, len(l.registered))
	for path, p := range l.registered {
		out[path] = *p
	}
	return out
}

func (l *Lobby) sortedUsersLocked() []pawn.UserID {
	ids := make([]pawn.UserID, 0, len(l.users))
	for id := range l.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l *Lobby) sortedPawnsLocked() []*pawn.Pawn {
	ids := make([]pawn.ID, 0, len(l.pawns))
	for id := range l.pawns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*pawn.Pawn, len(ids))
	for i, id := range ids {
		out[i] = l.pawns[id]
	}
	return out
}

// relayExcept fans an event out to every user, skipping the actor when one is
// given. Encoding failures are programming errors and only logged.
func (l *Lobby) relayExcept(actor *pawn.UserID, msg any) {
	b, err := protocol.Encode(msg)
	if err != nil {
		l.log.Error("encode event", zap.Error(err))
		return
	}
	for _, u := range l.users {
		if actor != nil && u.ID == *actor {
			continue
		}
		u.send(b)
	}
}

func (l *Lobby) sendTo(u *User, msg any) {
	b, err := protocol.Encode(msg)
	if err != nil {
		l.log.Error("encode event", zap.Error(err))
		return
	}
	u.send(b)
}

func (l *Lobby) broadcastHandCountsLocked() {
	for _, id := range l.sortedUsersLocked() {
		l.relayExcept(nil, protocol.HandCountMsg{
			Type:  protocol.TypeHandCount,
			ID:    id,
			Count: uint64(len(l.users[id].hand)),
		})
	}
}

func (l *Lobby) systemChatLocked(content string) {
	l.relayExcept(nil, protocol.ChatMsg{Type: protocol.TypeChat, Content: content})
}

func (l *Lobby) logConsistency(op string, err error, fields ...zap.Field) {
	l.log.Error("consistency error: "+op, append(fields, zap.Error(err))...)
}
