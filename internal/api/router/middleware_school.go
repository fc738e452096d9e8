package router

import (
	"net/http"
	"strings"

	"github.com/schooldesk/assistant/internal/tenancy"
)

const schoolHeader = "X-School-Id"

// requireSchoolID middleware enforces multi-tenancy headers for API requests.
func requireSchoolID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		schoolID := strings.TrimSpace(r.Header.Get(schoolHeader))
		if schoolID == "" {
			http.Error(w, "missing X-School-Id", http.StatusBadRequest)
			return
		}
		ctx := tenancy.WithSchoolID(r.Context(), schoolID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
