package protocol

import (
	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/pawn"
	"tablesim.dev/internal/phys"
)

// GameInfo is author metadata set once by the host when registering a game.
type GameInfo struct {
	Name   string `json:"name"`
	Author string `json:"author,omitempty"`
}

// Settings are the host-controlled lobby flags.
type Settings struct {
	SpawnPermission bool `json:"spawnPermission"`
	ShowCardCounts  bool `json:"showCardCounts"`
	HideChat        bool `json:"hideChat"`
}

// UserInfo is the public view of a connected user.
type UserInfo struct {
	ID    pawn.UserID `json:"id"`
	Color string      `json:"color"`
}

// UserStatus carries avatar presence (cursor and head pose). Nil fields are
// left unchanged, mirroring pawn updates.
type UserStatus struct {
	ID     pawn.UserID `json:"id"`
	Cursor *mathx.Vec3 `json:"cursor,omitempty"`
	Head   *mathx.Vec3 `json:"head,omitempty"`
}

// --- client -> server ---

type JoinMsg struct {
	Type     EventType `json:"type"`
	Referrer string    `json:"referrer,omitempty"`
}

type PingMsg struct {
	Type EventType `json:"type"`
	Idx  uint64    `json:"idx"`
}

type AddPawnMsg struct {
	Type EventType `json:"type"`
	Pawn pawn.Pawn `json:"pawn"`
}

type RemovePawnsMsg struct {
	Type EventType `json:"type"`
	IDs  []pawn.ID `json:"pawns"`
}

type ClearPawnsMsg struct {
	Type EventType `json:"type"`
}

type UpdatePawnsMsg struct {
	Type    EventType   `json:"type"`
	Updates []pawn.Update `json:"pawns"`
	// Collisions rides along on physics-driven broadcasts for audio cues.
	Collisions []phys.CollisionEvent `json:"collisions,omitempty"`
}

type ExtractPawnsMsg struct {
	Type   EventType    `json:"type"`
	FromID pawn.ID      `json:"fromId"`
	NewID  pawn.ID      `json:"newId"`
	IntoID *pawn.UserID `json:"intoId,omitempty"`
	Count  *uint64      `json:"count,omitempty"`
}

type StorePawnMsg struct {
	Type   EventType `json:"type"`
	FromID pawn.ID   `json:"fromId"`
	IntoID uint64    `json:"intoId"`
}

type TakePawnMsg struct {
	Type         EventType   `json:"type"`
	FromID       pawn.UserID `json:"fromId"`
	TargetID     pawn.ID     `json:"targetId"`
	PositionHint *mathx.Vec3 `json:"positionHint,omitempty"`
}

type RegisterGameMsg struct {
	Type   EventType         `json:"type"`
	Info   GameInfo          `json:"info"`
	Assets map[string]string `json:"assets,omitempty"` // path -> RFC 2397 data URL
}

type ClearAssetsMsg struct {
	Type EventType `json:"type"`
}

type SettingsMsg struct {
	Type EventType `json:"type"`
	Settings
}

type UserStatusesMsg struct {
	Type    EventType    `json:"type"`
	Updates []UserStatus `json:"updates"`
}

type ChatMsg struct {
	Type EventType `json:"type"`
	// ID is the sending user, nil for system messages.
	ID      *pawn.UserID `json:"id,omitempty"`
	Content string       `json:"content"`
}

// --- server -> client ---

type StartMsg struct {
	Type            EventType            `json:"type"`
	ID              pawn.UserID          `json:"id"`
	Host            bool                 `json:"host"`
	Color           string               `json:"color"`
	Info            *GameInfo            `json:"info,omitempty"`
	Settings        Settings             `json:"settings"`
	Users           []UserInfo           `json:"users"`
	Pawns           []pawn.Pawn          `json:"pawns"`
	RegisteredPawns map[string]pawn.Pawn `json:"registeredPawns,omitempty"`
}

type AssignHostMsg struct {
	Type EventType   `json:"type"`
	ID   pawn.UserID `json:"id"`
}

type ConnectMsg struct {
	Type  EventType   `json:"type"`
	ID    pawn.UserID `json:"id"`
	Color string      `json:"color"`
}

type DisconnectMsg struct {
	Type EventType   `json:"type"`
	ID   pawn.UserID `json:"id"`
}

type PongMsg struct {
	Type EventType `json:"type"`
	Idx  uint64    `json:"idx"`
}

type AddPawnToHandMsg struct {
	Type EventType `json:"type"`
	Pawn pawn.Pawn `json:"pawn"`
}

type HandCountMsg struct {
	Type  EventType   `json:"type"`
	ID    pawn.UserID `json:"id"`
	Count uint64      `json:"count"`
}

type RegisterGameAckMsg struct {
	Type EventType `json:"type"`
	Info GameInfo  `json:"info"`
}

type RegisterPawnMsg struct {
	Type EventType `json:"type"`
	Path string    `json:"path"`
	Pawn pawn.Pawn `json:"pawn"`
}
