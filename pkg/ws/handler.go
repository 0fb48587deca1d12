// Package ws implements the bidirectional-socket front end. Each connection
// is bound to one session and one generated user identifier; inbound frames
// are dispatched into the session's serialization point and outbound
// broadcasts are drained from the subscriber's bounded queue by a dedicated
// writer.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sketchroom/sketchroom/pkg/board"
	"github.com/sketchroom/sketchroom/pkg/identifiers"
	"github.com/sketchroom/sketchroom/pkg/logger"
	"github.com/sketchroom/sketchroom/pkg/session"
)

const (
	// writeWait is the deadline for a single frame or control write.
	writeWait = 10 * time.Second

	// pongWait is how long a peer may stay silent before it is dropped.
	pongWait = 60 * time.Second

	// pingPeriod is the keepalive interval; it must be shorter than pongWait.
	pingPeriod = 30 * time.Second

	// maxMessageSize bounds a single inbound frame.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Sessions are unauthenticated shared spaces; the browser client may be
	// served from anywhere.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades HTTP requests to whiteboard socket connections.
type Handler struct {
	registry *session.Registry
}

// NewHandler creates the socket front end over the given registry.
func NewHandler(registry *session.Registry) *Handler {
	return &Handler{registry: registry}
}

// ServeHTTP upgrades the connection, binds it to the session named by the
// "session" query parameter, and runs the read loop until the peer goes
// away. A missing session parameter closes the socket with code 1008.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("Socket upgrade failed: %v", err)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		closeWith(conn, websocket.ClosePolicyViolation, "missing session query parameter")
		_ = conn.Close()
		return
	}

	sess, err := h.registry.GetOrCreate(r.Context(), sessionID)
	if err != nil {
		logger.Errorf("Failed to open session %s: %v", sessionID, err)
		closeWith(conn, websocket.CloseInternalServerErr, "session unavailable")
		_ = conn.Close()
		return
	}

	sub := session.NewSubscriber(identifiers.NewUserID(), sessionID)
	go h.writePump(conn, sub)

	sess.Attach(sub)
	logger.Debugw("subscriber attached", "session", sessionID, "user", sub.UserID())

	h.readPump(r.Context(), conn, sess, sub)
}

// readPump decodes inbound frames and dispatches them until the peer
// closes or errors, then runs the detach sequence.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, sess *session.Session, sub *session.Subscriber) {
	defer func() {
		sess.Detach(sub)
		_ = conn.Close()
		logger.Debugw("subscriber detached", "session", sub.SessionID(), "user", sub.UserID())
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugw("socket read error", "session", sub.SessionID(), "user", sub.UserID(), "error", err)
			}
			return
		}
		h.dispatch(ctx, sess, sub, data)
	}
}

// inboundMessage is the superset of fields a client frame may carry; the
// type discriminant selects which are read.
type inboundMessage struct {
	Type      string        `json:"type"`
	Element   board.Element `json:"element"`
	ElementID string        `json:"elementId"`
	Position  string        `json:"position"`
	X         float64       `json:"x"`
	Y         float64       `json:"y"`
}

// dispatch routes one decoded frame into the session. Malformed or invalid
// frames are logged and dropped; the connection stays open.
func (h *Handler) dispatch(ctx context.Context, sess *session.Session, sub *session.Subscriber, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warnw("dropping malformed frame", "session", sub.SessionID(), "user", sub.UserID(), "error", err)
		return
	}

	switch msg.Type {
	case session.FrameDraw:
		if err := board.Validate(msg.Element); err != nil {
			logger.Warnw("dropping invalid element", "session", sub.SessionID(), "user", sub.UserID(), "error", err)
			return
		}
		if _, err := sess.ApplyCreate(ctx, msg.Element, sub); err != nil {
			logger.Errorw("draw refused", "session", sub.SessionID(), "error", err)
		}
	case session.FrameErase:
		if err := sess.ApplyDelete(ctx, msg.ElementID, sub); err != nil {
			logger.Warnw("erase refused", "session", sub.SessionID(), "element", msg.ElementID, "error", err)
		}
	case session.FrameClear:
		if err := sess.ApplyClear(ctx, sub); err != nil {
			logger.Errorw("clear refused", "session", sub.SessionID(), "error", err)
		}
	case session.FrameMove:
		if _, err := sess.ApplyMove(ctx, msg.ElementID, msg.Element, sub); err != nil {
			logger.Warnw("move refused", "session", sub.SessionID(), "element", msg.ElementID, "error", err)
		}
	case session.FrameReorder:
		if err := sess.ApplyReorder(ctx, msg.ElementID, msg.Position, sub); err != nil {
			logger.Warnw("reorder refused", "session", sub.SessionID(), "element", msg.ElementID, "error", err)
		}
	case session.FrameCursor:
		sess.RelayCursor(msg.X, msg.Y, sub)
	default:
		logger.Debugw("ignoring unknown frame type", "session", sub.SessionID(), "type", msg.Type)
	}
}

// writePump drains the subscriber's queue to the wire and keeps the
// connection alive with periodic pings. It exits when the subscriber's
// channel is closed by detach or when a write fails.
func (h *Handler) writePump(conn *websocket.Conn, sub *session.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-sub.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
