// Package content serves the localized copy shown around the wizard: the
// landing hero, the feature cards and the results disclaimer. Documents are
// markdown with YAML front matter, rendered once at load time.
package content

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gopkg.in/yaml.v3"
)

//go:embed docs
var embedded embed.FS

// Well-known document slugs.
const (
	SlugLanding    = "landing"
	SlugFeatures   = "features"
	SlugDisclaimer = "disclaimer"
)

// ErrNotFound indicates no document exists for the slug in any locale.
var ErrNotFound = errors.New("content: not found")

// Item is one card declared in front matter.
type Item struct {
	Icon  string `yaml:"icon"`
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// Doc is a rendered document.
type Doc struct {
	Slug    string
	Lang    string
	Title   string
	Summary string
	Items   []Item
	HTML    template.HTML
}

type frontMatter struct {
	Title   string `yaml:"title"`
	Summary string `yaml:"summary"`
	Items   []Item `yaml:"items"`
}

// Library indexes documents by locale and slug.
type Library struct {
	docs     map[string]map[string]Doc
	fallback string
}

// Default loads the documents compiled into the binary.
func Default(fallback string) (*Library, error) {
	sub, err := fs.Sub(embedded, "docs")
	if err != nil {
		return nil, err
	}
	return Load(sub, fallback)
}

// Load reads <lang>/<slug>.md files from fsys.
func Load(fsys fs.FS, fallback string) (*Library, error) {
	lib := &Library{
		docs:     map[string]map[string]Doc{},
		fallback: fallback,
	}
	md := goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough))
	policy := newPolicy()

	files, err := fs.Glob(fsys, "*/*.md")
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("content: read %s: %w", file, err)
		}
		lang := path.Dir(file)
		slug := strings.TrimSuffix(path.Base(file), ".md")
		doc, err := parseDoc(md, policy, data)
		if err != nil {
			return nil, fmt.Errorf("content: %s: %w", file, err)
		}
		doc.Slug, doc.Lang = slug, lang
		if lib.docs[lang] == nil {
			lib.docs[lang] = map[string]Doc{}
		}
		lib.docs[lang][slug] = doc
	}
	return lib, nil
}

// Get returns the document for lang, falling back to the default locale.
func (l *Library) Get(lang, slug string) (Doc, error) {
	if doc, ok := l.docs[lang][slug]; ok {
		return doc, nil
	}
	if doc, ok := l.docs[l.fallback][slug]; ok {
		return doc, nil
	}
	return Doc{}, ErrNotFound
}

// Lookup is Get without the error, for templates.
func (l *Library) Lookup(lang, slug string) Doc {
	doc, _ := l.Get(lang, slug)
	return doc
}

func parseDoc(md goldmark.Markdown, policy *bluemonday.Policy, data []byte) (Doc, error) {
	fm, body := splitFrontMatter(string(data))
	var front frontMatter
	if strings.TrimSpace(fm) != "" {
		if err := yaml.Unmarshal([]byte(fm), &front); err != nil {
			return Doc{}, fmt.Errorf("parse front matter: %w", err)
		}
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(body), &buf); err != nil {
		return Doc{}, fmt.Errorf("render markdown: %w", err)
	}
	return Doc{
		Title:   strings.TrimSpace(front.Title),
		Summary: strings.TrimSpace(front.Summary),
		Items:   front.Items,
		HTML:    template.HTML(policy.SanitizeBytes(buf.Bytes())),
	}, nil
}

func newPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	return policy
}

func splitFrontMatter(input string) (string, string) {
	input = strings.TrimLeft(input, "\ufeff")
	lines := strings.Split(input, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return "", input
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			fm := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return fm, strings.TrimLeft(body, "\n\r")
		}
	}
	return "", input
}
