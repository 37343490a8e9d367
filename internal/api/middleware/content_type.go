package middleware

import (
	"net/http"
	"strings"

	"github.com/nevisai/aiproxy/internal/api/models"
)

// ContentTypeJSON sets the Content-Type header to application/json unless a
// handler already chose one.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// RequireJSON rejects body-carrying requests whose Content-Type is not
// application/json with a 415 problem response.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			contentType := r.Header.Get("Content-Type")
			if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
				traceID := GetRequestID(r.Context())
				problem := models.NewProblem(
					"https://api.nevis.ai/problems/unsupported-media-type",
					"Unsupported media type",
					http.StatusUnsupportedMediaType,
					traceID,
				)
				problem.Detail = "Content-Type must be application/json"
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
