package i18n_test

import (
	"reflect"
	"testing"

	"github.com/arcanadesk/tarot/internal/i18n"
)

func TestCatalog(t *testing.T) {
	c, err := i18n.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := c.Languages(), []string{"en", "es", "ru"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Languages() = %v, want %v", got, want)
	}

	tests := []struct {
		lang, key string
		args      []any
		want      string
	}{
		{"en", "phase.shuffle_animating", nil, "Shuffle"},
		{"ru", "phase.shuffle_animating", nil, "Тасование"},
		// es has no invalidDrawCount entry: falls back to English.
		{"es", "reading.invalidDrawCount", nil, "That many cards can't be drawn for this spread."},
		{"xx", "phase.reading", nil, "Reading"},
		{"en", "no.such.key", nil, "no.such.key"},
		{"en", "reading.insufficientCredits", []any{1, 3}, "Not enough credits for this reading. Balance: 1, required: 3."},
	}
	for _, tt := range tests {
		if got := c.T(tt.lang, tt.key, tt.args...); got != tt.want {
			t.Errorf("T(%q, %q) = %q, want %q", tt.lang, tt.key, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	c, err := i18n.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := map[string]string{
		"":                        "en",
		"ru":                      "ru",
		"ru-RU":                   "ru",
		"ES":                      "es",
		"de-DE,ru;q=0.8,en;q=0.5": "ru",
		"fr":                      "en",
	}
	for tag, want := range tests {
		if got := c.Resolve(tag); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", tag, got, want)
		}
	}
}
