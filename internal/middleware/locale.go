package middleware

import (
	"net/http"

	"github.com/minpaku-sim/web/internal/i18n"
)

// LocaleCookie remembers an explicit language choice across sessions.
const LocaleCookie = "hl"

// Locale resolves the preferred language from the hl query, the session, the
// hl cookie and finally Accept-Language, and stores it in the request context.
func Locale(bundle *i18n.Bundle, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := SessionFromContext(r.Context())
			lang := ""

			// query override
			if q := r.URL.Query().Get("hl"); q != "" {
				if l, ok := bundle.Normalize(q); ok {
					lang = l
					if s != nil {
						s.SetLocale(l)
					}
					http.SetCookie(w, &http.Cookie{
						Name:     LocaleCookie,
						Value:    l,
						Path:     "/",
						MaxAge:   365 * 24 * 60 * 60,
						Secure:   secure,
						SameSite: http.SameSiteLaxMode,
					})
				}
			}
			if lang == "" && s != nil && bundle.IsSupported(s.Locale()) {
				lang = s.Locale()
			}
			if lang == "" {
				if c, err := r.Cookie(LocaleCookie); err == nil {
					if l, ok := bundle.Normalize(c.Value); ok {
						lang = l
					}
				}
			}
			if lang == "" {
				lang = bundle.Resolve(r.Header.Get("Accept-Language"))
			}

			w.Header().Set("Content-Language", lang)
			w.Header().Add("Vary", "Accept-Language")
			next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), lang)))
		})
	}
}
