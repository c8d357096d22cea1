package script

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/pawn"
)

// fakeHost records every call the VM makes back into the lobby.
type fakeHost struct {
	pawns    map[pawn.ID]*pawn.Pawn
	next     pawn.ID
	updates  []pawn.Update
	chats    []string
	chatTo   map[pawn.UserID][]string
	regs     map[string]*pawn.Pawn
	now      float64
	createOK bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		pawns:    make(map[pawn.ID]*pawn.Pawn),
		chatTo:   make(map[pawn.UserID][]string),
		regs:     make(map[string]*pawn.Pawn),
		createOK: true,
	}
}

func (h *fakeHost) Name() string  { return "testlobby" }
func (h *fakeHost) Time() float64 { return h.now }

func (h *fakeHost) SystemChat(content string) { h.chats = append(h.chats, content) }
func (h *fakeHost) ChatTo(id pawn.UserID, content string) {
	h.chatTo[id] = append(h.chatTo[id], content)
}

func (h *fakeHost) CreatePawn(p *pawn.Pawn) (pawn.ID, error) {
	if !h.createOK {
		return 0, errors.New("lobby full")
	}
	if p.ID == 0 {
		h.next++
		p.ID = h.next
	}
	h.pawns[p.ID] = p
	return p.ID, nil
}

func (h *fakeHost) UpdatePawn(u pawn.Update) error {
	if _, ok := h.pawns[u.ID]; !ok {
		return fmt.Errorf("no pawn %d", u.ID)
	}
	h.updates = append(h.updates, u)
	return nil
}

func (h *fakeHost) DestroyPawn(id pawn.ID) error {
	if _, ok := h.pawns[id]; !ok {
		return fmt.Errorf("no pawn %d", id)
	}
	delete(h.pawns, id)
	return nil
}

func (h *fakeHost) GetPawn(id pawn.ID) (*pawn.Pawn, bool) {
	p, ok := h.pawns[id]
	return p, ok
}

func (h *fakeHost) RegisterPawn(path string, p *pawn.Pawn) error {
	h.regs[path] = p
	return nil
}

func noResolve(string) (string, bool) { return "", false }

func newTestVM(t *testing.T, host Host, resolve Resolver) *VM {
	t.Helper()
	if host == nil {
		host = newFakeHost()
	}
	if resolve == nil {
		resolve = noResolve
	}
	return New(host, resolve)
}

func TestSandboxStripsDangerousGlobals(t *testing.T) {
	vm := newTestVM(t, nil, nil)
	for _, src := range []string{
		`assert(os == nil, "os must be stripped")`,
		`assert(io == nil, "io must be stripped")`,
		`assert(load == nil, "load must be stripped")`,
		`assert(dofile == nil, "dofile must be stripped")`,
		`assert(math ~= nil and string ~= nil and table ~= nil)`,
		`assert(type(lobby.chat) == "function")`,
	} {
		require.NoError(t, vm.Load("probe", src), src)
	}
}

func TestInfiniteLoopIsBounded(t *testing.T) {
	host := newFakeHost()
	vm := newTestVM(t, host, nil)

	err := vm.Load("spin", `while true do end`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionLimit)

	// The VM survives and the next call still works.
	require.NoError(t, vm.Load("after", `lobby.chat("alive")`))
	assert.Equal(t, []string{"alive"}, host.chats)
}

func TestRunawayCallbackDoesNotPoisonOthers(t *testing.T) {
	host := newFakeHost()
	vm := newTestVM(t, host, nil)
	require.NoError(t, vm.Load("game", `
		function physics() while true do end end
		function chat(id, content) lobby.chat("saw "..content) end
	`))

	err := vm.Physics()
	assert.ErrorIs(t, err, ErrExecutionLimit)

	require.NoError(t, vm.Chat(3, "hi"))
	assert.Equal(t, []string{"saw hi"}, host.chats)
}

func TestMissingCallbackIsNoOp(t *testing.T) {
	vm := newTestVM(t, nil, nil)
	require.NoError(t, vm.Load("empty", `x = nil`))
	assert.NoError(t, vm.Start())
	assert.NoError(t, vm.Physics())
	assert.NoError(t, vm.Chat(1, "hello"))
}

func TestScheduleFiresExactlyOnce(t *testing.T) {
	host := newFakeHost()
	vm := newTestVM(t, host, nil)
	require.NoError(t, vm.Load("game", `
		lobby.schedule(function() lobby.chat("tick") end, 3)
	`))
	require.Equal(t, 1, vm.PendingTimers())

	for i := 0; i < 10; i++ {
		for _, err := range vm.TickTimers() {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, []string{"tick"}, host.chats, "timer must fire exactly once")
	assert.Equal(t, 0, vm.PendingTimers())
}

func TestScheduleFromTimerChains(t *testing.T) {
	host := newFakeHost()
	vm := newTestVM(t, host, nil)
	require.NoError(t, vm.Load("game", `
		lobby.schedule(function()
			lobby.chat("first")
			lobby.schedule(function() lobby.chat("second") end, 1)
		end, 1)
	`))

	vm.TickTimers()
	vm.TickTimers()
	assert.Equal(t, []string{"first", "second"}, host.chats)
}

func TestRequireResolvesAndCaches(t *testing.T) {
	loads := 0
	resolve := func(path string) (string, bool) {
		if path != "util" {
			return "", false
		}
		loads++
		return `return { double = function(n) return n * 2 end }`, true
	}
	host := newFakeHost()
	vm := newTestVM(t, host, resolve)

	require.NoError(t, vm.Load("game", `
		local u = require("util")
		local again = require("util")
		assert(u == again, "require must cache")
		lobby.chat(tostring(u.double(21)))
	`))
	assert.Equal(t, []string{"42"}, host.chats)
	assert.Equal(t, 1, loads, "module source must load once")

	err := vm.Load("bad", `require("missing")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestPawnRoundTripThroughScript(t *testing.T) {
	host := newFakeHost()
	vm := newTestVM(t, host, nil)

	require.NoError(t, vm.Load("game", `
		created = lobby.create_pawn({
			name = "ace",
			mesh = "generic/card.gltf",
			position = { x = 1, y = 2, z = 3 },
			class = "Deck",
			deck = {
				contents = { "cards/ace.png" },
				card_thickness = 0.01,
				size = { x = 2, y = 3 },
			},
		})
		local p = lobby.get_pawn(created)
		assert(p.name == "ace")
		assert(p.position.y == 2)
		assert(p.class == "Deck")
		assert(p.deck.contents[1] == "cards/ace.png")
	`))

	require.Len(t, host.pawns, 1)
	var p *pawn.Pawn
	for _, v := range host.pawns {
		p = v
	}
	assert.Equal(t, "ace", p.Name)
	assert.Equal(t, mathx.Vec3{X: 1, Y: 2, Z: 3}, p.Position)
	require.Equal(t, pawn.KindDeck, p.Data.Kind)
	assert.Equal(t, []string{"cards/ace.png"}, p.Data.Deck.Contents)
}

func TestUpdatePawnIsSparse(t *testing.T) {
	host := newFakeHost()
	host.pawns[7] = &pawn.Pawn{ID: 7, Name: "rook", Moveable: true}
	vm := newTestVM(t, host, nil)

	require.NoError(t, vm.Load("game", `
		lobby.update_pawn({ id = 7, position = { x = 4, y = 0, z = 0 } })
	`))
	require.Len(t, host.updates, 1)
	u := host.updates[0]
	assert.Equal(t, pawn.ID(7), u.ID)
	require.NotNil(t, u.Position)
	assert.Equal(t, 4.0, u.Position.X)
	assert.Nil(t, u.Name, "untouched fields must stay nil")
	assert.Nil(t, u.Rotation)
}

func TestGetPawnMissingReturnsNil(t *testing.T) {
	vm := newTestVM(t, nil, nil)
	require.NoError(t, vm.Load("game", `
		assert(lobby.get_pawn(99) == nil)
	`))
}

func TestGrabHooksFirePerPawn(t *testing.T) {
	host := newFakeHost()
	vm := newTestVM(t, host, nil)
	require.NoError(t, vm.Load("game", `
		lobby.on_grab(5, function(user) lobby.chat("grab by "..user) end)
		lobby.on_release(5, function(user) lobby.chat("release by "..user) end)
	`))

	require.NoError(t, vm.Grab(5, 2, true))
	require.NoError(t, vm.Grab(5, 2, false))
	require.NoError(t, vm.Grab(6, 2, true), "pawn without a hook is a no-op")
	assert.Equal(t, []string{"grab by 2", "release by 2"}, host.chats)
}

func TestHostErrorsSurfaceAsScriptErrors(t *testing.T) {
	host := newFakeHost()
	host.createOK = false
	vm := newTestVM(t, host, nil)

	err := vm.Load("game", `lobby.create_pawn({ name = "x" })`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lobby full")

	// pcall on the script side contains the failure.
	require.NoError(t, vm.Load("game2", `
		local ok = pcall(lobby.create_pawn, { name = "x" })
		assert(not ok)
		lobby.chat("contained")
	`))
	assert.Equal(t, []string{"contained"}, host.chats)
}

func TestChatToTargetsOneUser(t *testing.T) {
	host := newFakeHost()
	vm := newTestVM(t, host, nil)
	require.NoError(t, vm.Load("game", `lobby.chat("psst", 4)`))
	assert.Empty(t, host.chats)
	assert.Equal(t, []string{"psst"}, host.chatTo[4])
}

func TestRegisterPawnRecordsTemplate(t *testing.T) {
	host := newFakeHost()
	vm := newTestVM(t, host, nil)
	require.NoError(t, vm.Load("game", `
		lobby.register_pawn("std/die", {
			name = "d6",
			class = "Dice",
			dice = { roll_rotations = { { x = 0, y = 0, z = 0, w = 1 } } },
		})
	`))
	p, ok := host.regs["std/die"]
	require.True(t, ok)
	assert.Equal(t, "d6", p.Name)
	require.Equal(t, pawn.KindDice, p.Data.Kind)
	require.Len(t, p.Data.Dice.RollRotations, 1)
}

func TestPageCallback(t *testing.T) {
	vm := newTestVM(t, nil, nil)
	require.NoError(t, vm.Load("game", `
		function page(path)
			if path == "rules" then return "<h1>Rules</h1>" end
			return nil
		end
	`))

	body, ok, err := vm.Page("rules")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<h1>Rules</h1>", body)

	_, ok, err = vm.Page("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
