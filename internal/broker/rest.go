// REST, CORS, and message-endpoint admission surface (spec §6). Grounded
// on the teacher's main.go net/http.ServeMux + http.ListenAndServe wiring
// style (no router framework in the teacher repo) and on
// other_examples' Adityaadpandey-sfu-go sfu.go corsMiddleware for the
// allow-list/OPTIONS-204 shape.
package broker

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/n0remac/p2pcall/internal/logging"
	"github.com/n0remac/p2pcall/internal/validate"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"code": code})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// corsMiddleware enforces the origin allow-list (spec §6): disallowed
// origins get 403 CORS_BLOCKED, OPTIONS always gets 204, allowed/absent
// origins get the usual CORS headers.
func (b *Broker) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !b.originAllowed(origin) {
			writeError(w, http.StatusForbidden, "CORS_BLOCKED")
			return
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (b *Broker) originAllowed(origin string) bool {
	for _, allowed := range b.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// bodyCapMiddleware enforces the per-request body cap (spec §6): a request
// whose declared Content-Length exceeds the cap gets 413 BODY_TOO_LARGE; a
// body of undeclared length is cut off at the cap by http.MaxBytesReader.
func (b *Broker) bodyCapMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > b.cfg.MaxJSONBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.cfg.MaxJSONBodyBytes)
		next(w, r)
	}
}

// restRateLimitMiddleware enforces the per-IP fixed-window REST rate limit
// (spec §4.6, §6): 429 RATE_LIMITED on overflow.
func (b *Broker) restRateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !b.restLimiter.Allow(ip) || !b.restTokenBucket.Allow(ip) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED")
			return
		}
		next(w, r)
	}
}

// Handler returns the broker's fully wired http.Handler (spec §6).
func (b *Broker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", b.corsMiddleware(b.handleHealth))
	mux.HandleFunc("/v1/rooms", b.corsMiddleware(b.bodyCapMiddleware(b.restRateLimitMiddleware(b.handleRooms))))
	mux.HandleFunc("/v1/rooms/", b.corsMiddleware(b.restRateLimitMiddleware(b.handleRoomStatus)))
	mux.HandleFunc("/v1/turn-credentials", b.corsMiddleware(b.bodyCapMiddleware(b.restRateLimitMiddleware(b.handleTurnCredentials))))
	mux.HandleFunc("/v1/ws", b.handleWS)
	return mux
}

func (b *Broker) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "timestamp": b.now().UnixMilli()})
}

func (b *Broker) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
		return
	}
	room, err := b.registry.CreateRoom()
	if err != nil {
		logging.Error("broker: create room", err, nil)
		writeError(w, http.StatusInternalServerError, "INTERNAL")
		return
	}
	joinURL := strings.TrimRight(b.cfg.FrontendBaseURL, "/") + "/join/" + room.RoomID
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"roomId":    room.RoomID,
		"joinUrl":   joinURL,
		"expiresAt": room.ExpiresAt.UnixMilli(),
	})
}

func (b *Broker) handleRoomStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/rooms/")
	if err := validate.RoomID(id); err != nil {
		writeError(w, http.StatusNotFound, "ROOM_NOT_FOUND")
		return
	}
	room, ok := b.registry.GetActiveRoom(id)
	if !ok {
		writeError(w, http.StatusNotFound, "ROOM_NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"roomId":           room.RoomID,
		"status":           "open",
		"expiresAt":        room.ExpiresAt.UnixMilli(),
		"participantCount": b.hub.participantCount(room.RoomID),
	})
}

func (b *Broker) handleTurnCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
		return
	}
	var body struct {
		PeerID string `json:"peerId"`
	}
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	creds := BuildTurnCredentials(b.cfg.TurnURLs, b.cfg.TurnSharedSecret, body.PeerID, b.cfg.TurnTTLSeconds, b.now())
	writeJSON(w, http.StatusOK, creds)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // origin enforcement happens in handleWS before upgrade
}

// handleWS implements the message endpoint admission sequence from spec
// §4.6: rate-limit → sanitize roomId → coerce role → validateJoin → on
// failure send the mapped status and drop, on success upgrade and emit
// session-joined/peer-joined.
func (b *Broker) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !b.wsLimiter.Allow(ip) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED")
		return
	}
	if origin := r.Header.Get("Origin"); origin != "" && !b.originAllowed(origin) {
		writeError(w, http.StatusForbidden, "CORS_BLOCKED")
		return
	}

	roomID := r.URL.Query().Get("roomId")
	peerID := r.URL.Query().Get("peerId")
	roleParam := r.URL.Query().Get("role")

	if err := validate.RoomID(roomID); err != nil {
		writeError(w, http.StatusBadRequest, "ROOM_CODE_INVALID")
		return
	}
	if err := validate.MinLen("peerId", peerID, 1); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	var role Role
	switch roleParam {
	case string(RoleHost):
		role = RoleHost
	case string(RoleGuest):
		role = RoleGuest
	default:
		writeError(w, http.StatusBadRequest, "INVALID_ROLE")
		return
	}

	_, code := b.registry.ValidateJoin(roomID, peerID, role)
	if code != JoinOK {
		writeError(w, code.HTTPStatus(), string(code))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("broker: ws upgrade", err, logging.Fields{"roomId": roomID})
		return
	}

	if err := b.registry.AddParticipant(roomID, peerID, role); err != nil {
		logging.Error("broker: add participant after upgrade", err, logging.Fields{"roomId": roomID})
		conn.Close()
		return
	}

	session := newSession(conn, b.hub, b.registry, roomID, peerID, role, b.now)
	b.hub.add(session)

	session.sendFrame(Frame{
		Type:      "session-joined",
		RoomID:    roomID,
		Timestamp: b.now().UnixMilli(),
		Payload:   mustMarshal(map[string]int{"participantCount": b.hub.participantCount(roomID)}),
	})
	b.hub.broadcastExcept(roomID, peerID, Frame{
		Type:       "peer-joined",
		RoomID:     roomID,
		FromPeerID: peerID,
		Timestamp:  b.now().UnixMilli(),
		Payload:    mustMarshal(map[string]string{"role": string(role)}),
	})

	session.Run()
}

func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
