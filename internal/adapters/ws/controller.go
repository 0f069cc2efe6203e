package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/studyroom/studyroom/internal/app"
	"github.com/studyroom/studyroom/internal/domain"
	"github.com/studyroom/studyroom/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type RoomWSController struct {
	rt        *app.RealtimeService
	limiter   *ChatRateLimiter
	readLimit int64
}

func NewRoomWSController(rt *app.RealtimeService, readLimit int64) *RoomWSController {
	if readLimit <= 0 {
		readLimit = 32768
	}
	return &RoomWSController{
		rt:        rt,
		limiter:   NewChatRateLimiter(10, time.Second*10),
		readLimit: readLimit,
	}
}

// HandleWS upgrades the request and runs the connection's pumps. Each
// connection is its own realtime session.
func (ctl *RoomWSController) HandleWS(ctx context.Context, c *gin.Context) {
	sid := app.SessionID(uuid.NewString())
	log.Info().Str("module", "adapters.ws").Str("sid", string(sid)).Msg("new WS connection")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}
	conn.SetReadLimit(ctl.readLimit)

	rc := newRoomConn(conn)
	connCtx, cancel := context.WithCancel(ctx)

	go ctl.writePump(connCtx, rc)
	go func() {
		defer cancel()
		ctl.readPump(connCtx, sid, rc)
	}()
}

func (ctl *RoomWSController) dispatch(sid app.SessionID, c *roomConn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Msg("bad frame")
		ctl.sendError(c, "invalid message")
		return
	}

	switch env.Type {
	case protocol.TypeJoin:
		ctl.handleJoin(sid, c, env.Payload)
	case protocol.TypeLeave:
		ctl.handleLeave(sid, c)
	case protocol.TypeChat:
		ctl.handleChat(sid, c, env.Payload)
	case protocol.TypeTimerStatus:
		ctl.handleTimerStatus(sid, c, env.Payload)
	default:
		ctl.sendError(c, "unknown type")
	}
}

func (ctl *RoomWSController) handleJoin(sid app.SessionID, c *roomConn, raw json.RawMessage) {
	var p protocol.JoinPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		ctl.sendError(c, "bad payload")
		return
	}
	if p.RoomID <= 0 {
		ctl.sendError(c, "roomId is required")
		return
	}

	effective := ctl.rt.Join(sid, c, p.RoomID, p.User)

	// Ack with the server-effective user so the client adopts the
	// canonical id if it connected without one.
	ctl.sendJSON(c, protocol.TypeJoined, protocol.JoinedPayload{
		RoomID: p.RoomID,
		User:   effective,
	})
	ctl.broadcastMembers(p.RoomID)
}

func (ctl *RoomWSController) handleLeave(sid app.SessionID, c *roomConn) {
	roomID, ok := ctl.rt.Leave(sid)
	if ok {
		ctl.broadcastMembers(roomID)
	}
}

func (ctl *RoomWSController) handleChat(sid app.SessionID, c *roomConn, raw json.RawMessage) {
	var p protocol.ChatPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		ctl.sendError(c, "bad payload")
		return
	}

	content := strings.TrimSpace(p.Content)
	if content == "" {
		ctl.sendError(c, "content is empty")
		return
	}
	if len([]rune(content)) > domain.MaxChatContentLen {
		ctl.sendError(c, "content too long")
		return
	}

	roomID, ok := ctl.rt.JoinedRoom(sid)
	if !ok {
		ctl.sendError(c, "not joined")
		return
	}
	if p.RoomID != 0 && p.RoomID != roomID {
		ctl.sendError(c, "roomId mismatch")
		return
	}

	user, _ := ctl.rt.JoinedUser(sid)
	if !ctl.limiter.Allow(user.ID) {
		ctl.sendError(c, "too many messages")
		return
	}

	frame, err := protocol.Encode(protocol.TypeChatMessage, protocol.ChatMessagePayload{
		ID:      uuid.NewString(),
		RoomID:  roomID,
		User:    user,
		Content: content,
		TS:      time.Now().UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("encode chatMessage")
		return
	}
	if ctl.rt.Broadcast(roomID, frame) > 0 {
		ctl.broadcastMembers(roomID)
	}
}

func (ctl *RoomWSController) handleTimerStatus(sid app.SessionID, c *roomConn, raw json.RawMessage) {
	var p protocol.TimerStatusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		ctl.sendError(c, "bad payload")
		return
	}

	status, err := ctl.rt.UpdateStatus(sid, string(p.Status))
	if err != nil {
		ctl.sendError(c, "not joined")
		return
	}

	roomID, _ := ctl.rt.JoinedRoom(sid)
	user, _ := ctl.rt.JoinedUser(sid)

	frame, err := protocol.Encode(protocol.TypeTimerStatus, protocol.TimerStatusEventPayload{
		RoomID: roomID,
		UserID: user.ID,
		Status: status,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("encode timerStatus")
		return
	}
	ctl.rt.Broadcast(roomID, frame)
	ctl.broadcastMembers(roomID)
}

// broadcastMembers pushes the current roster to the room. A broadcast that
// evicts connections shrinks the roster, so it loops until a snapshot goes
// out without evictions; every survivor ends up with the final membership.
func (ctl *RoomWSController) broadcastMembers(roomID domain.RoomID) {
	for {
		members := ctl.rt.SnapshotMembers(roomID)
		frame, err := protocol.Encode(protocol.TypeRoomMembersUpdate, protocol.RoomMembersUpdatePayload{
			RoomID:  roomID,
			Members: members,
			Count:   len(members),
		})
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.ws").Msg("encode roomMembersUpdate")
			return
		}
		if ctl.rt.Broadcast(roomID, frame) == 0 {
			return
		}
	}
}

func (ctl *RoomWSController) sendJSON(c *roomConn, kind string, payload any) {
	frame, err := protocol.Encode(kind, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Str("type", kind).Msg("sendJSON encode")
		return
	}
	_ = c.TrySend(frame)
}

func (ctl *RoomWSController) sendError(c *roomConn, msg string) {
	ctl.sendJSON(c, protocol.TypeError, protocol.ErrorPayload{Message: msg})
}
