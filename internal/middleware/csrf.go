package middleware

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"github.com/minpaku-sim/web/internal/platform/observability"
)

const (
	// CSRFHeader carries the token on htmx and fetch requests.
	CSRFHeader = "X-CSRF-Token"
	// CSRFFormField carries the token on plain form posts.
	CSRFFormField = "csrf_token"
)

// CSRF verifies that modifying requests echo the session-bound token in the
// X-CSRF-Token header or the csrf_token form field. Safe requests receive the
// token in the same header so API clients can pick it up. Must run after Session.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := SessionFromContext(r.Context())
		if s == nil {
			writeError(w, r, http.StatusForbidden, "csrf_invalid", "invalid CSRF token")
			return
		}
		token, err := s.EnsureCSRFToken()
		if err != nil {
			observability.FromContext(r.Context()).Error("csrf token generation failed", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "internal_server_error", "internal server error")
			return
		}

		if isSafeMethod(r.Method) {
			w.Header().Set(CSRFHeader, token)
		} else {
			submitted := r.Header.Get(CSRFHeader)
			if submitted == "" {
				submitted = r.PostFormValue(CSRFFormField)
			}
			if submitted == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(token)) != 1 {
				observability.FromContext(r.Context()).Warn("csrf token mismatch",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				writeError(w, r, http.StatusForbidden, "csrf_invalid", "invalid CSRF token")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// CSRFToken returns the token to embed in forms and meta tags.
func CSRFToken(r *http.Request) string {
	if s := SessionFromContext(r.Context()); s != nil {
		return s.CSRFToken()
	}
	return ""
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
