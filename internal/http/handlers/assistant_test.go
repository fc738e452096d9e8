package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/schooldesk/assistant/internal/conversation"
	"github.com/schooldesk/assistant/internal/flow"
	"github.com/schooldesk/assistant/internal/handlers/general"
	"github.com/schooldesk/assistant/internal/routing"
	"github.com/schooldesk/assistant/internal/tenancy"
	"github.com/schooldesk/assistant/pkg/logging"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	version  *routing.ConfigVersion
	patterns []routing.Pattern
}

func (f *fakeSource) ActiveVersion(ctx context.Context) (*routing.ConfigVersion, error) {
	return f.version, nil
}

func (f *fakeSource) EnabledActivePatterns(ctx context.Context) ([]routing.Pattern, error) {
	return f.patterns, nil
}

func testEngine(t *testing.T) *conversation.Engine {
	t.Helper()
	source := &fakeSource{
		version: &routing.ConfigVersion{ID: uuid.New(), Name: "v1", Status: routing.VersionActive},
		patterns: []routing.Pattern{{
			ID:         uuid.New(),
			Handler:    general.HandlerName,
			Intent:     "greeting",
			Kind:       routing.KindPositive,
			Expression: `(?i)\bhello\b`,
			Priority:   10,
			Enabled:    true,
		}},
	}
	cache := routing.NewCache(source, logging.New("error"))
	require.NoError(t, cache.Reload(context.Background()))

	return conversation.NewEngine(conversation.EngineConfig{
		Cache:    cache,
		Fusion:   routing.NewFusion(0.6, 0.75, "unhandled"),
		Dispatch: routing.NewDispatchTable(general.HandlerName),
		Handlers: []conversation.Handler{general.New(nil, "unhandled", logging.New("error"))},
		Logger:   logging.New("error"),
	})
}

func withSchool(r *http.Request, schoolID string) *http.Request {
	return r.WithContext(tenancy.WithSchoolID(r.Context(), schoolID))
}

func TestProcessMessageEndpoint(t *testing.T) {
	h := NewAssistantHandler(testEngine(t), logging.New("error"))

	body := `{"user_id":"u1","message":"hello there"}`
	req := withSchool(httptest.NewRequest(http.MethodPost, "/assistant/messages",
		strings.NewReader(body)), "school-1")
	rec := httptest.NewRecorder()

	h.ProcessMessage(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp conversation.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "greeting", resp.Intent)
	require.Equal(t, general.HandlerName, resp.Handler)
	require.NotEmpty(t, resp.Text)
}

func TestProcessMessageEndpointCarriesFlowContext(t *testing.T) {
	h := NewAssistantHandler(testEngine(t), logging.New("error"))

	fc, err := flow.Encode(flow.Envelope{Handler: "ghosts", Flow: "f", Step: "s"}, nil)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{"message": "hello", "context": fc})
	require.NoError(t, err)

	req := withSchool(httptest.NewRequest(http.MethodPost, "/assistant/messages",
		strings.NewReader(string(payload))), "school-1")
	rec := httptest.NewRecorder()

	// Context naming an unregistered handler falls through to routing.
	h.ProcessMessage(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp conversation.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "greeting", resp.Intent)
}

func TestProcessMessageEndpointValidation(t *testing.T) {
	h := NewAssistantHandler(testEngine(t), logging.New("error"))

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{
			"missing school id",
			httptest.NewRequest(http.MethodPost, "/assistant/messages",
				strings.NewReader(`{"message":"hi"}`)),
			http.StatusBadRequest,
		},
		{
			"empty message",
			withSchool(httptest.NewRequest(http.MethodPost, "/assistant/messages",
				strings.NewReader(`{"message":"  "}`)), "school-1"),
			http.StatusBadRequest,
		},
		{
			"bad json",
			withSchool(httptest.NewRequest(http.MethodPost, "/assistant/messages",
				strings.NewReader(`{`)), "school-1"),
			http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ProcessMessage(rec, tc.req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRouteEndpoint(t *testing.T) {
	h := NewAssistantHandler(testEngine(t), logging.New("error"))

	req := withSchool(httptest.NewRequest(http.MethodGet,
		"/assistant/route?message=hello+there", nil), "school-1")
	rec := httptest.NewRecorder()
	h.Route(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Matched bool                  `json:"matched"`
		Result  *routing.RouterResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Matched)
	require.Equal(t, "greeting", body.Result.Intent)
}

func TestRouteEndpointNoMatch(t *testing.T) {
	h := NewAssistantHandler(testEngine(t), logging.New("error"))

	req := withSchool(httptest.NewRequest(http.MethodGet,
		"/assistant/route?message=xyzzy", nil), "school-1")
	rec := httptest.NewRecorder()
	h.Route(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Matched bool `json:"matched"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Matched)
}
