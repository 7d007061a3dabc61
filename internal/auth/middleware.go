package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

const apiKeyQueryParam = "api-key"

// Middleware enforces a valid key unless the service is in open mode. The
// key is taken from an "Authorization: Bearer" header or the api-key query
// parameter.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsOpenMode() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.URL.Query().Get(apiKeyQueryParam)
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			key = strings.TrimPrefix(h, "Bearer ")
		}
		if name, ok := s.Verify(key); ok {
			slog.Debug("auth: accepted", "key", name, "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("WWW-Authenticate", `Bearer realm="peacock"`)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"UNAUTHORIZED","message":"missing or invalid access key"}` + "\n"))
	})
}
