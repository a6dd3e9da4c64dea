package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/otpdeck/otpdeck/pkg/response"
)

//go:embed locales/*.json
var localeFS embed.FS

// DefaultLanguage is Traditional Chinese, the catalog the UI shipped with
// first. English is bundled alongside; config can flip the default.
const DefaultLanguage = "zh-TW"

// Translator serves the embedded message catalogs: localized API error
// messages by code, whole catalogs for the web UI, and Accept-Language
// negotiation.
type Translator struct {
	bundle   *goi18n.Bundle
	catalogs map[string]map[string]string
	codes    []string
	matcher  language.Matcher
	fallback string
}

// Option customises the translator.
type Option func(*options)

type options struct {
	fallback string
}

// WithDefault overrides the fallback language. A catalog for it must be
// embedded or New fails.
func WithDefault(lang string) Option {
	return func(o *options) {
		if v := strings.TrimSpace(lang); v != "" {
			o.fallback = v
		}
	}
}

// New loads every embedded catalog into a bundle.
func New(opts ...Option) (*Translator, error) {
	o := options{fallback: DefaultLanguage}
	for _, opt := range opts {
		opt(&o)
	}

	fallbackTag, err := language.Parse(o.fallback)
	if err != nil {
		return nil, fmt.Errorf("i18n: default language %q: %w", o.fallback, err)
	}

	bundle := goi18n.NewBundle(fallbackTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("i18n: read locales: %w", err)
	}

	t := &Translator{
		bundle:   bundle,
		catalogs: make(map[string]map[string]string, len(files)),
	}

	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := localeFS.ReadFile(path.Join("locales", name))
		if err != nil {
			return nil, fmt.Errorf("i18n: read catalog %s: %w", name, err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, name); err != nil {
			return nil, fmt.Errorf("i18n: parse catalog %s: %w", name, err)
		}

		var catalog map[string]string
		if err := json.Unmarshal(data, &catalog); err != nil {
			return nil, fmt.Errorf("i18n: decode catalog %s: %w", name, err)
		}

		code := strings.TrimSuffix(name, ".json")
		t.catalogs[code] = catalog
		t.codes = append(t.codes, code)
	}

	if len(t.codes) == 0 {
		return nil, fmt.Errorf("i18n: no catalogs embedded")
	}

	fallback, ok := t.lookup(o.fallback)
	if !ok {
		return nil, fmt.Errorf("i18n: no catalog for default language %q", o.fallback)
	}
	t.fallback = fallback

	// the matcher's first tag is the fallback, so the default leads
	sort.Slice(t.codes, func(i, j int) bool {
		if t.codes[i] == t.fallback {
			return true
		}
		if t.codes[j] == t.fallback {
			return false
		}
		return t.codes[i] < t.codes[j]
	})

	tags := make([]language.Tag, 0, len(t.codes))
	for _, code := range t.codes {
		tag, err := language.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("i18n: catalog name %q is not a language tag: %w", code, err)
		}
		tags = append(tags, tag)
	}
	t.matcher = language.NewMatcher(tags)

	return t, nil
}

// Available lists the shipped catalog languages, default first.
func (t *Translator) Available() []string {
	out := make([]string, len(t.codes))
	copy(out, t.codes)
	return out
}

// Supported reports whether a catalog exists for the language.
func (t *Translator) Supported(lang string) bool {
	_, ok := t.lookup(lang)
	return ok
}

// Catalog returns the full message catalog for a language, for the web UI.
func (t *Translator) Catalog(lang string) (map[string]string, error) {
	code, ok := t.lookup(lang)
	if !ok {
		return nil, fmt.Errorf("i18n: no catalog for %q", lang)
	}

	catalog := t.catalogs[code]
	out := make(map[string]string, len(catalog))
	for key, value := range catalog {
		out[key] = value
	}
	return out, nil
}

// Match negotiates an Accept-Language header value against the shipped
// catalogs, falling back to the default language.
func (t *Translator) Match(acceptLanguage string) string {
	if strings.TrimSpace(acceptLanguage) == "" {
		return t.fallback
	}

	_, index := language.MatchStrings(t.matcher, acceptLanguage)
	if index < 0 || index >= len(t.codes) {
		return t.fallback
	}
	return t.codes[index]
}

// Message resolves a message ID in the given language. Missing messages
// fall back to the bundle default, then to the ID itself, the original's
// behaviour when a key has no translation.
func (t *Translator) Message(lang, messageID string) string {
	localizer := goi18n.NewLocalizer(t.bundle, lang)
	msg, err := localizer.Localize(&goi18n.LocalizeConfig{MessageID: messageID})
	if err != nil || msg == "" {
		return messageID
	}
	return msg
}

func (t *Translator) lookup(lang string) (string, bool) {
	for _, code := range t.codes {
		if strings.EqualFold(code, lang) {
			return code, true
		}
	}
	return "", false
}

// ResponseTranslator adapts the translator to the response envelope hook:
// error codes become localized messages per the request's Accept-Language.
func ResponseTranslator(t *Translator) response.Translator {
	return func(c *gin.Context, code, fallback string) string {
		lang := t.Match(c.GetHeader("Accept-Language"))
		if msg := t.Message(lang, code); msg != code {
			return msg
		}
		return fallback
	}
}
