// Package ws bridges WebSocket connections to lobbies: one reader loop
// decoding tagged events, one writer goroutine draining the user's outbound
// channel, and a keep-alive pinger. Transport failures terminate only their
// own connection, via the ordinary disconnect path.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tablesim.dev/internal/protocol"
	"tablesim.dev/internal/tabletop"
)

const (
	// readIdleTimeout bounds how long a silent connection stays alive; the
	// keep-alive pings below keep healthy clients inside it.
	readIdleTimeout = 10 * time.Second
	pingInterval    = 5 * time.Second
	writeTimeout    = 5 * time.Second

	// handshakeTimeout bounds how long we wait for the initial join frame.
	handshakeTimeout = 5 * time.Second
)

type Server struct {
	mgr *tabletop.Manager
	log *zap.Logger

	upgrader websocket.Upgrader
}

func NewServer(mgr *tabletop.Manager, log *zap.Logger) *Server {
	return &Server{
		mgr: mgr,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Handler upgrades and serves one connection to the named lobby.
func (s *Server) Handler(lobbyName string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.serve(conn, lobbyName)
	}
}

func (s *Server) serve(conn *websocket.Conn, lobbyName string) {
	// The first frame must be a join.
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeJoin {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected join"),
			time.Now().Add(time.Second))
		return
	}
	var join protocol.JoinMsg
	if err := json.Unmarshal(msg, &join); err != nil {
		return
	}

	lobby, user, err := s.mgr.Join(lobbyName, join.Referrer)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		return
	}
	log := s.log.With(zap.String("lobby", lobbyName), zap.Uint64("user", uint64(user.ID)))

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(pingInterval)
		defer ping.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case b, ok := <-user.Out():
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.dispatch(lobby, user, msg, log)
	}

	// Disconnect path: stop the writer, then tear session state down. The
	// lobby closes user.Out afterwards; the writer is already gone.
	close(stop)
	<-writerDone
	s.mgr.Leave(lobby, user.ID)
}

// dispatch decodes one inbound frame and routes it. Malformed frames are
// logged and dropped; the connection stays open.
func (s *Server) dispatch(lobby *tabletop.Lobby, user *tabletop.User, msg []byte, log *zap.Logger) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		log.Debug("malformed frame", zap.Error(err))
		return
	}

	decode := func(v any) bool {
		if err := json.Unmarshal(msg, v); err != nil {
			log.Debug("malformed event", zap.String("type", string(base.Type)), zap.Error(err))
			return false
		}
		return true
	}
	logErr := func(err error) {
		if err != nil {
			log.Info("event rejected", zap.String("type", string(base.Type)), zap.Error(err))
		}
	}

	switch base.Type {
	case protocol.TypePing:
		var e protocol.PingMsg
		if decode(&e) {
			lobby.Ping(user.ID, e.Idx)
		}
	case protocol.TypeAddPawn:
		var e protocol.AddPawnMsg
		if decode(&e) {
			logErr(lobby.AddPawn(user.ID, e.Pawn))
		}
	case protocol.TypeRemovePawns:
		var e protocol.RemovePawnsMsg
		if decode(&e) {
			lobby.RemovePawns(user.ID, e.IDs)
		}
	case protocol.TypeClearPawns:
		logErr(lobby.ClearPawns(user.ID))
	case protocol.TypeUpdatePawns:
		var e protocol.UpdatePawnsMsg
		if decode(&e) {
			lobby.UpdatePawns(user.ID, e.Updates)
		}
	case protocol.TypeExtractPawns:
		var e protocol.ExtractPawnsMsg
		if decode(&e) {
			logErr(lobby.ExtractPawns(user.ID, e.FromID, e.NewID, e.IntoID, e.Count))
		}
	case protocol.TypeStorePawn:
		var e protocol.StorePawnMsg
		if decode(&e) {
			logErr(lobby.StorePawn(user.ID, e.FromID, e.IntoID))
		}
	case protocol.TypeTakePawn:
		var e protocol.TakePawnMsg
		if decode(&e) {
			logErr(lobby.TakePawn(user.ID, e.FromID, e.TargetID, e.PositionHint))
		}
	case protocol.TypeRegisterGame:
		var e protocol.RegisterGameMsg
		if decode(&e) {
			logErr(lobby.RegisterGame(user.ID, e.Info, e.Assets))
		}
	case protocol.TypeClearAssets:
		logErr(lobby.ClearAssets(user.ID))
	case protocol.TypeSettings:
		var e protocol.SettingsMsg
		if decode(&e) {
			logErr(lobby.UpdateSettings(user.ID, e.Settings))
		}
	case protocol.TypeUserStatuses:
		var e protocol.UserStatusesMsg
		if decode(&e) {
			lobby.UpdateUserStatus(user.ID, e.Updates)
		}
	case protocol.TypeChat:
		var e protocol.ChatMsg
		if decode(&e) {
			lobby.Chat(user.ID, e.Content)
		}
	case protocol.TypeJoin:
		// Already joined; duplicate joins are dropped.
	default:
		log.Debug("unknown event type", zap.String("type", string(base.Type)))
	}
}
