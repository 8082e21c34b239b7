package middleware

import (
	"net/http"
	"strings"

	"github.com/roadwatch/roadwatch/internal/api/models"
)

// ContentTypeJSON defaults the response Content-Type to application/json.
// Handlers that write another type (problem+json, event-stream, images)
// set theirs first and win.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// RequireJSON rejects body-carrying requests whose Content-Type is not
// JSON. Requests without a Content-Type pass; the API's mutating
// endpoints accept empty bodies.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				problem := models.NewUnsupportedMediaType(GetRequestID(r.Context()),
					"request bodies must be application/json")
				problem.Instance = r.URL.Path
				problem.Write(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
