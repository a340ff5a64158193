package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// AdminAuth guards operator endpoints with a static bearer token. An empty
// configured token disables the endpoints entirely rather than leaving them
// open.
func AdminAuth(token string, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				logger.WarnContext(r.Context(), "admin endpoint hit with no admin token configured",
					"path", r.URL.Path,
				)
				writeAuthError(w, http.StatusForbidden, "FORBIDDEN", "Admin endpoints are disabled")
				return
			}

			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				logger.WarnContext(r.Context(), "missing or malformed authorization header",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Use: Bearer <token>")
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
				logger.WarnContext(r.Context(), "admin authentication failed",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"status_code":` + strconv.Itoa(status) + `,"error_code":"` + code + `","message":"` + message + `"}`))
}
