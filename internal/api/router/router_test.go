package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/schooldesk/assistant/internal/tenancy"
	"github.com/schooldesk/assistant/pkg/logging"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	h := New(&Config{Logger: logging.New("error")})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpointMountedWhenConfigured(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := New(&Config{Logger: logging.New("error"), MetricsHandler: metrics})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSchoolID(t *testing.T) {
	var gotSchool string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSchool, _ = tenancy.SchoolIDFromContext(r.Context())
	})
	h := requireSchoolID(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-School-Id", "school-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "school-7", gotSchool)
}

func TestRequireSchoolIDMissingHeader(t *testing.T) {
	h := requireSchoolID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a school id")
	}))

	for _, header := range []string{"", "   "} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("X-School-Id", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	// No admin secret configured: admin routes are not mounted at all.
	h := New(&Config{Logger: logging.New("error")})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/routing/versions", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
