package main

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/minpaku-sim/web/internal/middleware"
	"github.com/minpaku-sim/web/internal/platform/httpx"
	"github.com/minpaku-sim/web/internal/platform/observability"
)

const (
	requestTimeout   = 30 * time.Second
	readinessTimeout = 2 * time.Second
)

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	// If deployed behind a trusted reverse proxy/load balancer, RealIP will use
	// X-Forwarded-For to determine the client IP. Ensure only trusted proxies
	// can set these headers in production environments.
	r.Use(chimw.RealIP)
	r.Use(observability.InjectLoggerMiddleware(a.logger.Named("http")))
	r.Use(observability.TraceMiddleware())
	r.Use(observability.RecoveryMiddleware(a.logger.Named("http")))
	r.Use(observability.RequestLoggerMiddleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)

	assets, err := fs.Sub(publicFS, "public/assets")
	if err != nil {
		panic(err)
	}
	r.Handle("/assets/*", http.StripPrefix("/assets", middleware.AssetsWithCache(assets)))

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		r.Use(middleware.Session(a.sessions))
		r.Use(middleware.HTMX)
		r.Use(middleware.Locale(a.bundle, a.cfg.Session.Secure))
		r.Use(middleware.CSRF)

		r.Get("/", a.handleIndex)
		r.Route("/wizard", func(r chi.Router) {
			r.Post("/next", a.handleNext)
			r.Post("/back", a.handleBack)
			r.Post("/fields", a.handleFields)
			r.With(a.limiter.Middleware).Post("/submit", a.handleSubmit)
			r.Post("/reset", a.handleReset)
			r.Post("/overlay/close", a.handleOverlayClose)
			r.Post("/overlay/{kind}", a.handleOverlayOpen)
		})

		r.Route("/api/v1/wizard", func(r chi.Router) {
			r.Get("/state", a.apiState)
			r.Post("/advance", a.apiAdvance)
			r.Post("/retreat", a.apiRetreat)
			r.Patch("/fields", a.apiFields)
			r.With(a.limiter.Middleware).Post("/submit", a.apiSubmit)
			r.Post("/reset", a.apiReset)
			r.Post("/overlay", a.apiOpenOverlay)
			r.Delete("/overlay", a.apiCloseOverlay)
			r.Get("/history", a.apiHistory)
			r.Get("/history/latest", a.apiLatest)
			r.Get("/reference", a.apiReference)
		})
	})

	return r
}

func (a *app) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if err := a.controller.Ping(ctx); err != nil {
		observability.FromContext(r.Context()).Warn("readiness check failed", zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError("not_ready", "dependencies unavailable", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
