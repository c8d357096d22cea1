package tabletop

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tablesim.dev/internal/pawn"
	"tablesim.dev/internal/protocol"
	"tablesim.dev/internal/script"
)

// callScriptLocked runs one script call with take-and-restore VM ownership:
// the VM leaves the lobby struct for the call's duration, so a callback that
// somehow re-enters the script boundary finds no VM and fails fast instead of
// corrupting interpreter state. Script errors become system chat.
func (l *Lobby) callScriptLocked(f func(vm *script.VM) error) {
	vm := l.vm
	if vm == nil {
		l.log.Error("reentrant script call dropped")
		return
	}
	l.vm = nil
	err := f(vm)
	// resetVMLocked may have swapped in a fresh VM mid-call; don't clobber it.
	if l.vm == nil {
		l.vm = vm
	}
	if err == nil {
		return
	}
	if errors.Is(err, script.ErrExecutionLimit) {
		l.log.Warn("script execution limit", zap.Error(err))
	} else {
		l.log.Warn("script error", zap.Error(err))
	}
	l.systemChatLocked(fmt.Sprintf("script error: %v", err))
}

// lobbyHost exposes the lobby to the VM. Every method runs with the lobby
// lock already held by whichever entry point invoked the script, so these go
// straight to the *Locked internals.
type lobbyHost struct {
	l *Lobby
}

var _ script.Host = (*lobbyHost)(nil)

func (h *lobbyHost) Name() string { return h.l.name }

func (h *lobbyHost) Time() float64 { return time.Since(h.l.created).Seconds() }

func (h *lobbyHost) SystemChat(content string) {
	h.l.systemChatLocked(content)
}

func (h *lobbyHost) ChatTo(id pawn.UserID, content string) {
	u, ok := h.l.users[id]
	if !ok {
		return
	}
	h.l.sendTo(u, protocol.ChatMsg{Type: protocol.TypeChat, Content: content})
}

func (h *lobbyHost) CreatePawn(p *pawn.Pawn) (pawn.ID, error) {
	added, err := h.l.addPawnLocked(p)
	if err != nil {
		return 0, err
	}
	h.l.relayExcept(nil, protocol.AddPawnMsg{Type: protocol.TypeAddPawn, Pawn: *added})
	return added.ID, nil
}

func (h *lobbyHost) UpdatePawn(u pawn.Update) error {
	if _, ok := h.l.pawns[u.ID]; !ok {
		return fmt.Errorf("update pawn %d: %w", u.ID, ErrUnknownPawn)
	}
	h.l.updatePawnsLocked(nil, []pawn.Update{u}, nil)
	return nil
}

func (h *lobbyHost) DestroyPawn(id pawn.ID) error {
	p, ok := h.l.pawns[id]
	if !ok {
		return fmt.Errorf("destroy pawn %d: %w", id, ErrUnknownPawn)
	}
	h.l.removePawnLocked(p)
	h.l.relayExcept(nil, protocol.RemovePawnsMsg{Type: protocol.TypeRemovePawns, IDs: []pawn.ID{id}})
	return nil
}

func (h *lobbyHost) GetPawn(id pawn.ID) (*pawn.Pawn, bool) {
	p, ok := h.l.pawns[id]
	return p, ok
}

func (h *lobbyHost) RegisterPawn(path string, p *pawn.Pawn) error {
	if path == "" {
		return fmt.Errorf("register pawn: empty path")
	}
	h.l.registered[path] = p
	h.l.relayExcept(nil, protocol.RegisterPawnMsg{Type: protocol.TypeRegisterPawn, Path: path, Pawn: *p})
	return nil
}
