package webchat

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/schooldesk/assistant/internal/conversation"
	"github.com/schooldesk/assistant/internal/flow"
	"github.com/schooldesk/assistant/internal/tenancy"
	"github.com/schooldesk/assistant/pkg/logging"
)

// Handler serves the browser chat widget over WebSocket. Each connection keeps
// its own flow context so multi-turn flows survive across socket turns without
// the widget having to echo the context back.
type Handler struct {
	engine   *conversation.Engine
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type      string `json:"type"` // "message", "ping"
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type        string   `json:"type"` // "message", "session", "pong", "error"
	Text        string   `json:"text,omitempty"`
	Intent      string   `json:"intent,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

// NewHandler creates a web chat handler.
func NewHandler(engine *conversation.Engine, logger *logging.Logger) *Handler {
	if engine == nil {
		panic("webchat: engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine: engine,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The widget is embedded on school websites; CORS is enforced at
			// the HTTP layer for the REST surface, not here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// ServeWS upgrades the connection and runs the per-socket message loop.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := tenancy.SchoolIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing school id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("webchat: upgrade failed", "error", err, "school_id", schoolID)
		return
	}
	defer conn.Close()

	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		sessionID = generateSessionID()
	}

	if err := conn.WriteJSON(OutboundMessage{Type: "session", SessionID: sessionID}); err != nil {
		return
	}

	h.logger.Info("webchat: connection opened", "school_id", schoolID, "session_id", sessionID)

	var flowCtx flow.Context
	for {
		var msg InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			h.logger.Debug("webchat: connection closed", "school_id", schoolID, "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = conn.WriteJSON(OutboundMessage{Type: "pong"})
			continue
		}
		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}

		resp := h.engine.ProcessMessage(r.Context(), conversation.MessageRequest{
			SchoolID: schoolID,
			UserID:   sessionID,
			Message:  msg.Text,
			Context:  flowCtx,
		})
		flowCtx = resp.Context

		if err := conn.WriteJSON(OutboundMessage{
			Type:        "message",
			Text:        resp.Text,
			Intent:      resp.Intent,
			Suggestions: resp.Suggestions,
			SessionID:   sessionID,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			h.logger.Debug("webchat: write failed", "school_id", schoolID, "error", err)
			return
		}
	}
}
