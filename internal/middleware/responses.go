package middleware

import (
	"net/http"
	"strings"

	"github.com/minpaku-sim/web/internal/platform/httpx"
)

// WantsJSON reports whether the caller expects the JSON error envelope.
func WantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if WantsJSON(r) {
		httpx.WriteError(r.Context(), w, httpx.NewError(code, msg, status))
		return
	}
	http.Error(w, msg, status)
}
