package middleware

import (
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/minpaku-sim/web/internal/platform/observability"
	"github.com/minpaku-sim/web/internal/platform/requestctx"
	"github.com/minpaku-sim/web/internal/session"
)

// Session loads or initializes the visitor session, stores it in the request
// context and writes the cookie back just before the first response byte.
func Session(mgr *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess, err := mgr.Load(r)
			if err != nil && !errors.Is(err, session.ErrExpired) {
				observability.FromContext(ctx).Warn("session load failed", zap.Error(err))
			}

			logger := observability.FromContext(ctx).With(zap.String("session_id", observability.SanitizeSessionID(sess.ID())))
			if errors.Is(err, session.ErrExpired) {
				logger.Debug("session expired, started a new one")
			}
			ctx = WithSession(ctx, sess)
			ctx = requestctx.WithSessionID(ctx, sess.ID())
			ctx = observability.WithLogger(ctx, logger)

			sw := &sessionWriter{ResponseWriter: w}
			sw.save = func() {
				if err := mgr.Save(w, sess); err != nil {
					logger.Error("session save failed", zap.Error(err))
				}
			}
			next.ServeHTTP(sw, r.WithContext(ctx))
			// If nothing was written yet (e.g., HEAD), persist cookie now
			sw.commit()
		})
	}
}

// sessionWriter persists the session cookie before headers are flushed.
type sessionWriter struct {
	http.ResponseWriter
	once sync.Once
	save func()
}

func (w *sessionWriter) commit() { w.once.Do(w.save) }

func (w *sessionWriter) WriteHeader(status int) {
	w.commit()
	w.ResponseWriter.WriteHeader(status)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *sessionWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
