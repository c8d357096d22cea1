package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesim.dev/internal/mathx"
	"tablesim.dev/internal/pawn"
)

func TestDecodeBaseRoutesByType(t *testing.T) {
	b, err := DecodeBase([]byte(`{"type":"update_pawns","pawns":[]}`))
	require.NoError(t, err)
	assert.Equal(t, TypeUpdatePawns, b.Type)

	_, err = DecodeBase([]byte(`{not json`))
	assert.Error(t, err)
}

func TestUpdatePawnsRoundTrip(t *testing.T) {
	pos := mathx.Vec3{X: 1, Y: 2, Z: 3}
	sel := true
	msg := UpdatePawnsMsg{
		Type: TypeUpdatePawns,
		Updates: []pawn.Update{
			{ID: 5, Position: &pos, Selected: &sel},
		},
	}
	raw, err := Encode(msg)
	require.NoError(t, err)

	var back UpdatePawnsMsg
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Len(t, back.Updates, 1)
	u := back.Updates[0]
	assert.Equal(t, pawn.ID(5), u.ID)
	require.NotNil(t, u.Position)
	assert.Equal(t, pos, *u.Position)
	require.NotNil(t, u.Selected)
	assert.True(t, *u.Selected)
	assert.Nil(t, u.Rotation, "absent fields stay nil")
}

func TestExtractPawnsOptionalFields(t *testing.T) {
	var msg ExtractPawnsMsg
	require.NoError(t, json.Unmarshal([]byte(`{"type":"extract_pawns","fromId":3,"newId":9}`), &msg))
	assert.Nil(t, msg.IntoID)
	assert.Nil(t, msg.Count)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"extract_pawns","fromId":3,"newId":9,"intoId":1,"count":2}`), &msg))
	require.NotNil(t, msg.IntoID)
	assert.Equal(t, pawn.UserID(1), *msg.IntoID)
	require.NotNil(t, msg.Count)
	assert.Equal(t, uint64(2), *msg.Count)
}

func TestChatSystemMessageHasNoSender(t *testing.T) {
	raw, err := Encode(ChatMsg{Type: TypeChat, Content: "script error: boom"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"id"`)

	id := pawn.UserID(4)
	raw, err = Encode(ChatMsg{Type: TypeChat, ID: &id, Content: "hi"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":4`)
}

func TestStartMsgCarriesSnapshot(t *testing.T) {
	msg := StartMsg{
		Type:     TypeStart,
		ID:       2,
		Host:     false,
		Color:    "#1976d2",
		Settings: Settings{ShowCardCounts: true},
		Users:    []UserInfo{{ID: 1, Color: "#d32f2f"}, {ID: 2, Color: "#1976d2"}},
		Pawns: []pawn.Pawn{
			{ID: 10, Name: "die", Moveable: true, Data: pawn.Data{Kind: pawn.KindDice, Dice: &pawn.Dice{}}},
		},
	}
	raw, err := Encode(msg)
	require.NoError(t, err)

	var back StartMsg
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, pawn.UserID(2), back.ID)
	require.Len(t, back.Pawns, 1)
	assert.Equal(t, pawn.KindDice, back.Pawns[0].Data.Kind)
	assert.Len(t, back.Users, 2)
}
