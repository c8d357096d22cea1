package tabletop

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tablesim.dev/internal/indexdb"
	"tablesim.dev/internal/journal"
	"tablesim.dev/internal/pawn"
)

// Manager owns every live lobby. It creates a lobby on first join, drives its
// physics and presence tasks, and tears it down when the last user leaves.
// The index and journal are optional operator telemetry; both tolerate nil.
type Manager struct {
	log     *zap.Logger
	index   *indexdb.SQLiteIndex
	journal *journal.Writer

	mu      sync.Mutex
	lobbies map[string]*managedLobby
}

type managedLobby struct {
	lobby *Lobby
	stop  chan struct{}
	done  chan struct{}

	sessionID string
	openedAt  time.Time
	peakUsers int
	joins     int
}

func NewManager(log *zap.Logger, index *indexdb.SQLiteIndex, jw *journal.Writer) *Manager {
	return &Manager{
		log:     log,
		index:   index,
		journal: jw,
		lobbies: make(map[string]*managedLobby),
	}
}

// Join connects a user to the named lobby, creating and starting it if this
// is the first connection.
func (m *Manager) Join(name, referrer string) (*Lobby, *User, error) {
	m.mu.Lock()
	ml, ok := m.lobbies[name]
	if !ok {
		ml = m.startLobbyLocked(name)
	}
	m.mu.Unlock()

	u, err := ml.lobby.Join(referrer)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	ml.joins++
	if n := ml.lobby.UserCount(); n > ml.peakUsers {
		ml.peakUsers = n
	}
	m.mu.Unlock()

	m.journal.Write(journal.Entry{
		At: time.Now(), Event: "join", Lobby: name,
		User: uint64(u.ID), Users: ml.lobby.UserCount(),
	})
	return ml.lobby, u, nil
}

func (m *Manager) startLobbyLocked(name string) *managedLobby {
	now := time.Now()
	ml := &managedLobby{
		lobby:     NewLobby(name, m.log),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		sessionID: fmt.Sprintf("%s-%d", name, now.UnixNano()),
		openedAt:  now,
	}
	m.lobbies[name] = ml
	go ml.run()

	m.log.Info("lobby opened", zap.String("lobby", name))
	m.index.SessionOpened(ml.sessionID, name, now)
	m.journal.Write(journal.Entry{At: now, Event: "open", Lobby: name})
	return ml
}

// run drives one lobby: physics at PhysicsRate, presence relay at CursorRate.
// The lobby lock is taken inside Step/RelayStatuses, so a slow step in this
// lobby never stalls any other lobby or connection I/O.
func (ml *managedLobby) run() {
	defer close(ml.done)

	physics := time.NewTicker(PhysicsRate)
	defer physics.Stop()
	cursors := time.NewTicker(CursorRate)
	defer cursors.Stop()

	for {
		select {
		case <-ml.stop:
			return
		case <-physics.C:
			ml.lobby.Step()
		case <-cursors.C:
			ml.lobby.RelayStatuses()
		}
	}
}

// Leave disconnects a user and tears the lobby down if it emptied.
func (m *Manager) Leave(l *Lobby, id pawn.UserID) {
	empty := l.Disconnect(id)
	m.journal.Write(journal.Entry{
		At: time.Now(), Event: "leave", Lobby: l.Name(),
		User: uint64(id), Users: l.UserCount(),
	})
	if !empty {
		return
	}

	m.mu.Lock()
	ml, ok := m.lobbies[l.Name()]
	if ok && ml.lobby == l {
		delete(m.lobbies, l.Name())
	} else {
		ml = nil
	}
	m.mu.Unlock()
	if ml == nil {
		return
	}

	close(ml.stop)
	<-ml.done
	now := time.Now()
	m.log.Info("lobby closed",
		zap.String("lobby", l.Name()),
		zap.Duration("lifetime", now.Sub(ml.openedAt)),
		zap.Int("peak_users", ml.peakUsers))
	m.index.SessionClosed(ml.sessionID, now, ml.peakUsers, ml.joins)
	m.journal.Write(journal.Entry{At: now, Event: "close", Lobby: l.Name()})
}

// Lookup returns a live lobby by name.
func (m *Manager) Lookup(name string) (*Lobby, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ml, ok := m.lobbies[name]
	if !ok {
		return nil, false
	}
	return ml.lobby, true
}

// LobbyStatus is one dashboard row.
type LobbyStatus struct {
	Name   string
	Users  int
	Pawns  int
	Uptime time.Duration
}

// Snapshot lists live lobbies for the dashboard, sorted by name.
func (m *Manager) Snapshot() []LobbyStatus {
	m.mu.Lock()
	mls := make([]*managedLobby, 0, len(m.lobbies))
	for _, ml := range m.lobbies {
		mls = append(mls, ml)
	}
	m.mu.Unlock()

	out := make([]LobbyStatus, 0, len(mls))
	for _, ml := range mls {
		out = append(out, LobbyStatus{
			Name:   ml.lobby.Name(),
			Users:  ml.lobby.UserCount(),
			Pawns:  ml.lobby.PawnCount(),
			Uptime: time.Since(ml.openedAt),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close stops every lobby task. Connected sockets are the transport's problem.
func (m *Manager) Close() {
	m.mu.Lock()
	mls := make([]*managedLobby, 0, len(m.lobbies))
	for _, ml := range m.lobbies {
		mls = append(mls, ml)
	}
	m.lobbies = make(map[string]*managedLobby)
	m.mu.Unlock()

	for _, ml := range mls {
		close(ml.stop)
		<-ml.done
	}
}

const lobbyNameAlphabet = "abcdefghijklmnopqrstuvwxyz"

// RandomLobbyName generates a short session name for the root redirect.
func RandomLobbyName() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = lobbyNameAlphabet[rand.Intn(len(lobbyNameAlphabet))]
	}
	return string(b)
}
