package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/schooldesk/assistant/internal/conversation"
	"github.com/schooldesk/assistant/internal/routing"
	"github.com/schooldesk/assistant/pkg/logging"
)

// AdminRoutingHandler manages config versions, patterns and templates, and
// exposes cache control for operators.
type AdminRoutingHandler struct {
	store    *routing.Store
	engine   *conversation.Engine
	notifier *routing.ReloadNotifier
	logger   *logging.Logger
}

// NewAdminRoutingHandler wires the handler.
func NewAdminRoutingHandler(store *routing.Store, engine *conversation.Engine,
	notifier *routing.ReloadNotifier, logger *logging.Logger) *AdminRoutingHandler {
	if store == nil {
		panic("handlers: routing store required")
	}
	if engine == nil {
		panic("handlers: engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminRoutingHandler{store: store, engine: engine, notifier: notifier, logger: logger}
}

func (h *AdminRoutingHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, routing.ErrVersionNotFound), errors.Is(err, routing.ErrPatternNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, routing.ErrNotCandidate),
		errors.Is(err, routing.ErrVersionArchived),
		errors.Is(err, routing.ErrInvalidExpression):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("admin routing request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func versionIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version id")
		return uuid.Nil, false
	}
	return id, true
}

// ListVersions returns all config versions, newest first.
func (h *AdminRoutingHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.ListVersions(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

type createVersionBody struct {
	Name     string     `json:"name"`
	Notes    string     `json:"notes,omitempty"`
	CopyFrom *uuid.UUID `json:"copy_from,omitempty"`
}

// CreateVersion inserts a new candidate version, optionally copied from an
// existing one.
func (h *AdminRoutingHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var body createVersionBody
	if !readJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	version, err := h.store.CreateVersion(r.Context(), body.Name, body.Notes, body.CopyFrom)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

// PromoteVersion activates a candidate, archives the previous active version
// and reloads the cache everywhere.
func (h *AdminRoutingHandler) PromoteVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := versionIDParam(w, r)
	if !ok {
		return
	}

	if err := h.store.PromoteVersion(r.Context(), id); err != nil {
		h.writeStoreError(w, err)
		return
	}

	if err := h.engine.Reload(r.Context()); err != nil {
		// Promotion committed; a reload failure keeps the previous snapshot
		// serving until the next reload succeeds.
		h.logger.Error("reload after promote failed", "error", err, "version_id", id)
	}
	if err := h.notifier.Publish(r.Context()); err != nil {
		h.logger.Error("reload broadcast failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"promoted": id, "cache": h.engine.CacheStats()})
}

// ListPatterns returns a version's patterns in load order.
func (h *AdminRoutingHandler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	id, ok := versionIDParam(w, r)
	if !ok {
		return
	}
	patterns, err := h.store.ListPatterns(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

type patternBody struct {
	Handler    string              `json:"handler"`
	Intent     string              `json:"intent"`
	Kind       routing.PatternKind `json:"kind"`
	Expression string              `json:"expression"`
	Priority   int                 `json:"priority"`
	Enabled    *bool               `json:"enabled,omitempty"`
	SchoolID   string              `json:"school_id,omitempty"`
}

func (b *patternBody) validate(w http.ResponseWriter) bool {
	if strings.TrimSpace(b.Handler) == "" || strings.TrimSpace(b.Intent) == "" {
		writeError(w, http.StatusBadRequest, "handler and intent are required")
		return false
	}
	if strings.TrimSpace(b.Expression) == "" {
		writeError(w, http.StatusBadRequest, "expression is required")
		return false
	}
	return true
}

// CreatePattern adds a pattern to a version.
func (h *AdminRoutingHandler) CreatePattern(w http.ResponseWriter, r *http.Request) {
	id, ok := versionIDParam(w, r)
	if !ok {
		return
	}
	var body patternBody
	if !readJSON(w, r, &body) || !body.validate(w) {
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	pattern := &routing.Pattern{
		VersionID:  id,
		Handler:    body.Handler,
		Intent:     body.Intent,
		Kind:       body.Kind,
		Expression: body.Expression,
		Priority:   body.Priority,
		Enabled:    enabled,
		SchoolID:   body.SchoolID,
	}
	if err := h.store.CreatePattern(r.Context(), pattern); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pattern)
}

// UpdatePattern rewrites a pattern's mutable fields.
func (h *AdminRoutingHandler) UpdatePattern(w http.ResponseWriter, r *http.Request) {
	versionID, ok := versionIDParam(w, r)
	if !ok {
		return
	}
	patternID, err := uuid.Parse(chi.URLParam(r, "patternID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern id")
		return
	}
	var body patternBody
	if !readJSON(w, r, &body) || !body.validate(w) {
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	pattern := &routing.Pattern{
		ID:         patternID,
		VersionID:  versionID,
		Handler:    body.Handler,
		Intent:     body.Intent,
		Kind:       body.Kind,
		Expression: body.Expression,
		Priority:   body.Priority,
		Enabled:    enabled,
		SchoolID:   body.SchoolID,
	}
	if err := h.store.UpdatePattern(r.Context(), pattern); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pattern)
}

// DeletePattern removes a pattern from a version.
func (h *AdminRoutingHandler) DeletePattern(w http.ResponseWriter, r *http.Request) {
	versionID, ok := versionIDParam(w, r)
	if !ok {
		return
	}
	patternID, err := uuid.Parse(chi.URLParam(r, "patternID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pattern id")
		return
	}
	if err := h.store.DeletePattern(r.Context(), versionID, patternID); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type templateBody struct {
	Intent string `json:"intent"`
	Body   string `json:"body"`
}

// UpsertTemplate creates or replaces the response template for an intent.
func (h *AdminRoutingHandler) UpsertTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := versionIDParam(w, r)
	if !ok {
		return
	}
	var body templateBody
	if !readJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Intent) == "" || strings.TrimSpace(body.Body) == "" {
		writeError(w, http.StatusBadRequest, "intent and body are required")
		return
	}

	tmpl := &routing.ResponseTemplate{VersionID: id, Intent: body.Intent, Body: body.Body}
	if err := h.store.UpsertTemplate(r.Context(), tmpl); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

type validateBody struct {
	Expression string `json:"expression"`
}

// ValidateExpression checks a pattern expression without persisting anything.
func (h *AdminRoutingHandler) ValidateExpression(w http.ResponseWriter, r *http.Request) {
	var body validateBody
	if !readJSON(w, r, &body) {
		return
	}
	if err := routing.ValidateExpression(body.Expression); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// Reload forces a cache rebuild on this instance and broadcasts to the rest.
func (h *AdminRoutingHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reload(r.Context()); err != nil {
		h.logger.Error("manual reload failed", "error", err)
	}
	if err := h.notifier.Publish(r.Context()); err != nil {
		h.logger.Error("reload broadcast failed", "error", err)
	}
	writeJSON(w, http.StatusOK, h.engine.CacheStats())
}

// CacheStats reports cache health for monitoring.
func (h *AdminRoutingHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.CacheStats())
}
