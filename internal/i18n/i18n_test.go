package i18n

import (
	"testing"
	"testing/fstest"
)

func TestResolveHonorsQValues(t *testing.T) {
	b, err := Default("ja", []string{"ja", "en"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := b.Resolve("ja;q=0.8, en;q=0.9"); got != "en" {
		t.Fatalf("expected en, got %s", got)
	}
	if got := b.Resolve("en-US,en;q=0.9"); got != "en" {
		t.Fatalf("expected en for regional tag, got %s", got)
	}
	if got := b.Resolve("fr-FR"); got != "ja" {
		t.Fatalf("expected fallback ja, got %s", got)
	}
	if got := b.Resolve(""); got != "ja" {
		t.Fatalf("expected fallback for empty header, got %s", got)
	}
}

func TestTranslateFallsBack(t *testing.T) {
	fsys := fstest.MapFS{
		"ja.json": {Data: []byte(`{"greeting":"こんにちは","only.ja":"日本語のみ","count":"%d件"}`)},
		"en.json": {Data: []byte(`{"greeting":"Hello","count":"%d items"}`)},
	}
	b, err := Load(fsys, "ja", []string{"ja", "en"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := b.T("en", "greeting"); got != "Hello" {
		t.Fatalf("unexpected translation %q", got)
	}
	if got := b.T("en", "only.ja"); got != "日本語のみ" {
		t.Fatalf("expected fallback translation, got %q", got)
	}
	if got := b.T("en", "missing.key"); got != "missing.key" {
		t.Fatalf("expected key echo, got %q", got)
	}
	if got := b.Tf("en", "count", 3); got != "3 items" {
		t.Fatalf("unexpected formatted translation %q", got)
	}
}

func TestLoadRequiresFallback(t *testing.T) {
	fsys := fstest.MapFS{"en.json": {Data: []byte(`{}`)}}
	if _, err := Load(fsys, "ja", []string{"ja", "en"}); err == nil {
		t.Fatalf("expected error when fallback bundle is missing")
	}
}

func TestLoadSkipsMissingOptionalLocale(t *testing.T) {
	fsys := fstest.MapFS{"ja.json": {Data: []byte(`{}`)}}
	b, err := Load(fsys, "ja", []string{"ja", "en"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.IsSupported("en") {
		t.Fatalf("en should not be supported without a bundle")
	}
	if got := b.Resolve("en"); got != "ja" {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestNormalize(t *testing.T) {
	b, err := Default("ja", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, ok := b.Normalize("EN-gb"); !ok || got != "en" {
		t.Fatalf("expected en, got %q %v", got, ok)
	}
	if _, ok := b.Normalize("de"); ok {
		t.Fatalf("de should not normalize")
	}
	if _, ok := b.Normalize("!!"); ok {
		t.Fatalf("garbage should not normalize")
	}
}

func TestBundlesShareKeys(t *testing.T) {
	b, err := Default("ja", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for key := range b.dict["ja"] {
		if _, ok := b.dict["en"][key]; !ok {
			t.Errorf("en bundle missing %q", key)
		}
	}
}
