package handlers

import (
	"net/http"
	"strings"

	"github.com/schooldesk/assistant/internal/conversation"
	"github.com/schooldesk/assistant/internal/flow"
	"github.com/schooldesk/assistant/internal/tenancy"
	"github.com/schooldesk/assistant/pkg/logging"
)

// AssistantHandler exposes the message pipeline over HTTP.
type AssistantHandler struct {
	engine *conversation.Engine
	logger *logging.Logger
}

// NewAssistantHandler wires the handler.
func NewAssistantHandler(engine *conversation.Engine, logger *logging.Logger) *AssistantHandler {
	if engine == nil {
		panic("handlers: engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AssistantHandler{engine: engine, logger: logger}
}

type messageBody struct {
	UserID  string       `json:"user_id,omitempty"`
	Message string       `json:"message"`
	Context flow.Context `json:"context,omitempty"`
}

// ProcessMessage runs the full pipeline for one message.
func (h *AssistantHandler) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := tenancy.SchoolIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing school id")
		return
	}

	var body messageBody
	if !readJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp := h.engine.ProcessMessage(r.Context(), conversation.MessageRequest{
		SchoolID: schoolID,
		UserID:   body.UserID,
		Message:  body.Message,
		Context:  body.Context,
	})
	writeJSON(w, http.StatusOK, resp)
}

// Route exposes bare pattern routing for diagnostics.
func (h *AssistantHandler) Route(w http.ResponseWriter, r *http.Request) {
	schoolID, ok := tenancy.SchoolIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing school id")
		return
	}
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		writeError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	result := h.engine.Route(message, schoolID)
	if result == nil {
		writeJSON(w, http.StatusOK, map[string]any{"matched": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matched": true, "result": result})
}
