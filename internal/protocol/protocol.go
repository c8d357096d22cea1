// Package protocol defines the tagged-union wire model exchanged with
// clients: one JSON event per frame, routed by the snake_case "type" field.
// The protocol is best effort — malformed or semantically invalid events are
// logged and dropped server-side, never answered with an error frame.
package protocol

import "encoding/json"

type EventType string

// Client -> server events.
const (
	TypeJoin         EventType = "join"
	TypePing         EventType = "ping"
	TypeAddPawn      EventType = "add_pawn"
	TypeRemovePawns  EventType = "remove_pawns"
	TypeClearPawns   EventType = "clear_pawns"
	TypeUpdatePawns  EventType = "update_pawns"
	TypeExtractPawns EventType = "extract_pawns"
	TypeStorePawn    EventType = "store_pawn"
	TypeTakePawn     EventType = "take_pawn"
	TypeRegisterGame EventType = "register_game"
	TypeClearAssets  EventType = "clear_assets"
	TypeSettings     EventType = "settings"
	TypeUserStatuses EventType = "update_user_statuses"
	TypeChat         EventType = "chat"
)

// Server -> client events.
const (
	TypeStart         EventType = "start"
	TypeAssignHost    EventType = "assign_host"
	TypeConnect       EventType = "connect"
	TypeDisconnect    EventType = "disconnect"
	TypePong          EventType = "pong"
	TypeAddPawnToHand EventType = "add_pawn_to_hand"
	TypeHandCount     EventType = "hand_count"
	TypeRegisterPawn  EventType = "register_pawn"
)

// Base lets the transport route a frame by type before full decoding.
type Base struct {
	Type EventType `json:"type"`
}

func DecodeBase(b []byte) (Base, error) {
	var m Base
	err := json.Unmarshal(b, &m)
	return m, err
}

func Encode(e any) ([]byte, error) {
	return json.Marshal(e)
}
