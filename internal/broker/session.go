package broker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/n0remac/p2pcall/internal/logging"
	"github.com/n0remac/p2pcall/internal/validate"
)

// MaxFrameBytes is the per-message size cap on the message endpoint (spec
// §6: "Frame cap 64 000 bytes → session closed with code 1009").
const MaxFrameBytes = 64_000

// MaxChatTextChars bounds a relayed chat frame's payload.text (spec §4.6).
const MaxChatTextChars = 500

// relayTypes are the message types the broker forwards between peers
// (spec §4.6). heartbeat is handled separately (echoed, not relayed);
// every other type draws an error reply.
var relayTypes = map[string]bool{
	"offer":         true,
	"answer":        true,
	"ice-candidate": true,
	"chat":          true,
}

// Frame is the wire shape of every message endpoint frame (spec §6).
type Frame struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	FromPeerID string          `json:"fromPeerId,omitempty"`
	ToPeerID   string          `json:"toPeerId,omitempty"`
	RoomID     string          `json:"roomId,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

// Session is one peer's live message-endpoint connection (spec §4.6). It
// is exclusively owned by the Hub it is registered with.
type Session struct {
	conn     *websocket.Conn
	send     chan []byte
	roomID   string
	peerID   string
	role     Role
	hub      *Hub
	registry *Registry
	now      func() time.Time

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, hub *Hub, registry *Registry, roomID, peerID string, role Role, now func() time.Time) *Session {
	return &Session{
		conn:     conn,
		send:     make(chan []byte, 32),
		roomID:   roomID,
		peerID:   peerID,
		role:     role,
		hub:      hub,
		registry: registry,
		now:      now,
	}
}

// Run drives the session until its connection closes. It blocks the
// calling goroutine (the write pump runs on a second goroutine the caller
// does not need to manage); callers invoke Run from the HTTP handler's
// goroutine, one per upgraded connection (spec §5: "I/O arrives as
// discrete events", one owned context per peer).
func (s *Session) Run() {
	s.conn.SetReadLimit(MaxFrameBytes)
	go s.writePump()
	defer s.close()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(message)
	}
}

func (s *Session) writePump() {
	for msg := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// sendFrame marshals and enqueues a frame for delivery, dropping it
// without blocking if the session's outbound buffer is full (spec §5:
// ordering guarantees don't extend to an unresponsive peer).
func (s *Session) sendFrame(f Frame) {
	raw, err := json.Marshal(f)
	if err != nil {
		logging.Error("broker: marshal outgoing frame", err, logging.Fields{"type": f.Type})
		return
	}
	select {
	case s.send <- raw:
	default:
		logging.Info("broker: dropping outgoing frame, session send buffer full", logging.Fields{"peerId": s.peerID, "roomId": s.roomID})
	}
}

// sendError sends a terminal-looking but non-fatal "error" frame to this
// session's own peer (spec §4.6).
func (s *Session) sendError(code, message string) {
	payload, _ := json.Marshal(map[string]string{"code": code, "message": message})
	s.sendFrame(Frame{Type: "error", Payload: payload, RoomID: s.roomID, Timestamp: s.now().UnixMilli()})
}

func (s *Session) handleFrame(raw []byte) {
	var in Frame
	if err := json.Unmarshal(raw, &in); err != nil {
		logging.Info("broker: dropping malformed frame", logging.Fields{"peerId": s.peerID, "roomId": s.roomID})
		return
	}
	if in.Type == "" {
		return
	}

	if in.Type == "heartbeat" {
		s.sendFrame(Frame{Type: "heartbeat", RoomID: s.roomID, Timestamp: s.now().UnixMilli()})
		return
	}

	if !relayTypes[in.Type] {
		s.sendError("UNSUPPORTED_TYPE", "unsupported message type: "+in.Type)
		return
	}

	if in.Type == "chat" {
		var chat struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(in.Payload, &chat); err != nil {
			s.sendError("INVALID_PAYLOAD", "chat payload must include text")
			return
		}
		if err := validate.MinLen("payload.text", chat.Text, 1); err != nil {
			s.sendError("INVALID_PAYLOAD", err.Error())
			return
		}
		if err := validate.MaxLen("payload.text", chat.Text, MaxChatTextChars); err != nil {
			s.sendError("INVALID_PAYLOAD", err.Error())
			return
		}
	}

	out := Frame{
		Type:       in.Type,
		Payload:    in.Payload,
		FromPeerID: s.peerID,
		RoomID:     s.roomID,
		Timestamp:  s.now().UnixMilli(),
	}
	if in.ToPeerID != "" {
		out.ToPeerID = in.ToPeerID
		s.hub.sendTo(s.roomID, in.ToPeerID, out)
		return
	}
	s.hub.broadcastExcept(s.roomID, s.peerID, out)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		s.registry.RemoveParticipant(s.roomID, s.peerID)
		s.hub.broadcastExcept(s.roomID, s.peerID, Frame{
			Type: "peer-left", RoomID: s.roomID, FromPeerID: s.peerID, Timestamp: s.now().UnixMilli(),
		})
		close(s.send)
		s.conn.Close()
	})
}

// Hub is the broker's exclusively-owned table of live message sessions,
// keyed by room then peer (spec §3 "Ownership", §4.6). Grounded on
// websocket/websocket.go's Hub.Rooms map-of-maps shape from the teacher
// repo, generalized from the teacher's global chat broadcast to this
// spec's "everyone else in the room" / "exactly one peer" relay rule.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*Session
}

func newHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*Session)}
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[s.roomID]
	if !ok {
		room = make(map[string]*Session)
		h.rooms[s.roomID] = room
	}
	room[s.peerID] = s
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[s.roomID]
	if !ok {
		return
	}
	if existing, ok := room[s.peerID]; ok && existing == s {
		delete(room, s.peerID)
	}
	if len(room) == 0 {
		delete(h.rooms, s.roomID)
	}
}

// participantCount returns the number of live sessions in a room.
func (h *Hub) participantCount(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

// broadcastExcept sends frame to every session in roomID other than
// exceptPeerID (spec §4.6: "otherwise every other peer in the room does").
func (h *Hub) broadcastExcept(roomID, exceptPeerID string, frame Frame) {
	h.mu.Lock()
	room := h.rooms[roomID]
	targets := make([]*Session, 0, len(room))
	for peerID, s := range room {
		if peerID != exceptPeerID {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()
	for _, s := range targets {
		s.sendFrame(frame)
	}
}

// sendTo sends frame to exactly one peer in roomID, if still connected
// (spec §4.6: "if present, only that peer receives it").
func (h *Hub) sendTo(roomID, peerID string, frame Frame) {
	h.mu.Lock()
	s, ok := h.rooms[roomID][peerID]
	h.mu.Unlock()
	if ok {
		s.sendFrame(frame)
	}
}

// closeRoom force-closes every live session in roomID with a terminal
// error frame, used by the cleanup ticker when a room expires (spec
// §4.6 "Lifecycle").
func (h *Hub) closeRoom(roomID, reason string) {
	h.mu.Lock()
	room := h.rooms[roomID]
	sessions := make([]*Session, 0, len(room))
	for _, s := range room {
		sessions = append(sessions, s)
	}
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for _, s := range sessions {
		s.sendError("ROOM_EXPIRED", reason)
		s.closeOnce.Do(func() {
			close(s.send)
			s.conn.Close()
		})
	}
}

// closeAll force-closes every live session across every room, used on
// broker shutdown (spec §4.6 "Lifecycle").
func (h *Hub) closeAll() {
	h.mu.Lock()
	roomIDs := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		roomIDs = append(roomIDs, id)
	}
	h.mu.Unlock()
	for _, id := range roomIDs {
		h.closeRoom(id, "broker shutting down")
	}
}
