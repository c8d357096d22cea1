package tabletop

import (
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tablesim.dev/internal/pawn"
	"tablesim.dev/internal/protocol"
	"tablesim.dev/internal/script"
)

// Asset caps: entries, bytes per entry, aggregate bytes per lobby.
const (
	MaxAssets          = 256
	MaxAssetBytes      = 2 << 20
	MaxTotalAssetBytes = 40 << 20
)

// entryScript is the asset path that, when registered, hot-swaps the lobby's
// game logic via a full VM rebuild.
const entryScript = "main.lua"

// Asset is one decoded game resource, retrievable by path over HTTP.
type Asset struct {
	Mime string
	Data []byte
}

// decodeDataURL parses an RFC 2397 data URL ("data:<mime>;base64,<payload>").
func decodeDataURL(s string) (Asset, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Asset{}, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Asset{}, fmt.Errorf("malformed data URL")
	}
	mime, b64 := meta, false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		mime, b64 = m, true
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	var data []byte
	var err error
	if b64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Asset{}, fmt.Errorf("decode base64: %w", err)
		}
	} else {
		data = []byte(payload)
	}
	return Asset{Mime: mime, Data: data}, nil
}

// RegisterGame stores a host-uploaded asset bundle and game metadata. A
// bundle containing the entry script triggers the script hot-swap: pawns
// cleared, VM rebuilt, entry loaded, start fired. Cap violations reject the
// whole registration with no partial effect.
func (l *Lobby) RegisterGame(actor pawn.UserID, info protocol.GameInfo, rawAssets map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if actor != l.host {
		return fmt.Errorf("register game by %d: %w", actor, ErrNotHost)
	}

	decoded := make(map[string]Asset, len(rawAssets))
	addedBytes := 0
	for path, raw := range rawAssets {
		a, err := decodeDataURL(raw)
		if err != nil {
			return fmt.Errorf("register asset %q: %w", path, err)
		}
		if len(a.Data) > MaxAssetBytes {
			return fmt.Errorf("register asset %q: %d bytes over per-asset cap", path, len(a.Data))
		}
		addedBytes += len(a.Data)
		if prev, ok := l.assets[path]; ok {
			addedBytes -= len(prev.Data)
		}
		decoded[path] = a
	}
	newCount := len(l.assets)
	for path := range decoded {
		if _, ok := l.assets[path]; !ok {
			newCount++
		}
	}
	if newCount > MaxAssets {
		return fmt.Errorf("register game: %d assets over cap", newCount)
	}
	if l.assetBytes+addedBytes > MaxTotalAssetBytes {
		return fmt.Errorf("register game: %d bytes over aggregate cap", l.assetBytes+addedBytes)
	}

	for path, a := range decoded {
		l.assets[path] = a
	}
	l.assetBytes += addedBytes
	l.info = &info

	l.log.Info("game registered",
		zap.String("game", info.Name),
		zap.Int("assets", len(l.assets)),
		zap.Int("bytes", l.assetBytes))
	l.relayExcept(nil, protocol.RegisterGameAckMsg{Type: protocol.TypeRegisterGame, Info: info})

	if _, ok := decoded[entryScript]; ok {
		l.resetVMLocked()
	}
	return nil
}

// ClearAssets drops every registered asset. Host only. Game info and the
// running script are untouched; this only frees the asset table.
func (l *Lobby) ClearAssets(actor pawn.UserID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if actor != l.host {
		return fmt.Errorf("clear assets by %d: %w", actor, ErrNotHost)
	}
	l.assets = make(map[string]Asset)
	l.assetBytes = 0
	l.log.Info("assets cleared")
	return nil
}

// Asset looks an asset up by path for the HTTP layer.
func (l *Lobby) Asset(path string) (Asset, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.assets[path]
	return a, ok
}

// resolveScript serves require() paths from the uploaded asset table, with or
// without the .lua suffix.
func (l *Lobby) resolveScript(path string) (string, bool) {
	if a, ok := l.assets[path]; ok {
		return string(a.Data), true
	}
	if a, ok := l.assets[path+".lua"]; ok {
		return string(a.Data), true
	}
	return "", false
}

// resetVMLocked is the redeploy path: clear the table, drop the old VM with
// all its timers and hooks, build a fresh sandbox, load the entry script and
// fire start. Script failures surface as system chat, never as a dead lobby.
func (l *Lobby) resetVMLocked() {
	l.clearPawnsLocked()
	l.registered = make(map[string]*pawn.Pawn)
	l.relayExcept(nil, protocol.ClearPawnsMsg{Type: protocol.TypeClearPawns})

	l.vm = script.New(&lobbyHost{l: l}, l.resolveScript)

	src, ok := l.resolveScript(entryScript)
	if !ok {
		return
	}
	l.callScriptLocked(func(vm *script.VM) error {
		if err := vm.Load(entryScript, src); err != nil {
			return err
		}
		return vm.Start()
	})
}
