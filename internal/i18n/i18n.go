// Package i18n looks up localized strings by key from embedded YAML
// catalogs, falling back to English and then to the key itself.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localesFS embed.FS

const DefaultLang = "en"

// Catalog holds flattened key -> text tables per language.
type Catalog struct {
	tables map[string]map[string]string
}

// Load parses every embedded locale file.
func Load() (*Catalog, error) {
	entries, err := localesFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("listing locales: %w", err)
	}
	c := &Catalog{tables: make(map[string]map[string]string, len(entries))}
	for _, e := range entries {
		lang := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		raw, err := localesFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading locale %s: %w", lang, err)
		}
		var tree map[string]any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("parsing locale %s: %w", lang, err)
		}
		table := make(map[string]string)
		flatten("", tree, table)
		c.tables[lang] = table
	}
	if _, ok := c.tables[DefaultLang]; !ok {
		return nil, fmt.Errorf("missing %s locale", DefaultLang)
	}
	return c, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// Languages lists the available language codes.
func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.tables))
	for l := range c.tables {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Resolve picks the best supported language for a tag such as "ru-RU" or
// an Accept-Language header value.
func (c *Catalog) Resolve(tag string) string {
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if part == "" {
			continue
		}
		base := strings.ToLower(strings.SplitN(part, "-", 2)[0])
		if _, ok := c.tables[base]; ok {
			return base
		}
	}
	return DefaultLang
}

// T returns the text for key in lang. Args are applied with fmt.Sprintf
// when present.
func (c *Catalog) T(lang, key string, args ...any) string {
	text, ok := c.tables[lang][key]
	if !ok {
		text, ok = c.tables[DefaultLang][key]
	}
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(text, args...)
	}
	return text
}
