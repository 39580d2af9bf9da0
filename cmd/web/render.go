package main

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/minpaku-sim/web/internal/format"
	"github.com/minpaku-sim/web/internal/i18n"
	"github.com/minpaku-sim/web/internal/platform/observability"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

//go:embed public
var publicFS embed.FS

// devTemplatesDir is re-read on every render in dev mode when present, so
// template edits show up without a rebuild.
const devTemplatesDir = "cmd/web/templates"

type renderer struct {
	bundle *i18n.Bundle
	dev    fs.FS
	cache  *template.Template
}

func newRenderer(bundle *i18n.Bundle, devMode bool) (*renderer, error) {
	rd := &renderer{bundle: bundle}
	if devMode {
		if info, err := os.Stat(devTemplatesDir); err == nil && info.IsDir() {
			rd.dev = os.DirFS(devTemplatesDir)
			return rd, nil
		}
	}
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	tc, err := rd.parse(sub)
	if err != nil {
		return nil, err
	}
	rd.cache = tc
	return rd, nil
}

func (rd *renderer) parse(fsys fs.FS) (*template.Template, error) {
	return template.New("_root").Funcs(rd.funcs()).ParseFS(fsys, "*.tmpl")
}

func (rd *renderer) funcs() template.FuncMap {
	return template.FuncMap{
		"t":  rd.bundle.T,
		"tf": rd.bundle.Tf,
		"yen": func(v int64, lang string) string {
			return format.Yen(v, lang)
		},
		"yenf": func(v float64, lang string) string {
			return format.YenFloat(v, lang)
		},
		"rate": func(v int64, lang string) string {
			return format.Percent(float64(v), lang)
		},
		"date": format.Date,
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
		"now": time.Now,
	}
}

func (rd *renderer) templates() (*template.Template, error) {
	if rd.dev != nil {
		return rd.parse(rd.dev)
	}
	if rd.cache == nil {
		return nil, fmt.Errorf("template not initialized")
	}
	return rd.cache, nil
}

// render executes the named template into a buffer so a failure never leaves
// a half-written page behind.
func (rd *renderer) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	t, err := rd.templates()
	if err != nil {
		observability.FromContext(r.Context()).Error("template parse error", zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		observability.FromContext(r.Context()).Error("template exec error", zap.String("template", name), zap.Error(err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
