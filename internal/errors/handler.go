package errors

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

// WriteError renders an APIError to the response. Non-API errors are masked
// as a generic 500 so internal details never leak to clients.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		apiErr = ErrInternalServer
	}

	if apiErr.StatusCode >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	render.Render(w, r, apiErr)
}
