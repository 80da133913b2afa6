package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"path"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"
)

//go:embed templates
var templateFS embed.FS

// Message is a rendered email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

var templateFuncs = map[string]interface{}{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("2 January 2006, 15:04 MST")
	},
	"money": func(d decimal.Decimal, currency string) string {
		return d.StringFixed(2) + " " + currency
	},
}

// Renderer holds the parsed templates keyed by "locale/kind".
type Renderer struct {
	text map[string]*texttemplate.Template
	html map[string]*htmltemplate.Template
}

// NewRenderer parses all embedded templates. Every locale must provide both
// a text and an HTML variant of a kind.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		text: make(map[string]*texttemplate.Template),
		html: make(map[string]*htmltemplate.Template),
	}

	files, err := fs.Glob(templateFS, "templates/*/*.txt")
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		locale := path.Base(path.Dir(file))
		kind := strings.TrimSuffix(path.Base(file), ".txt")
		key := locale + "/" + kind

		tt, err := texttemplate.New(path.Base(file)).Funcs(templateFuncs).ParseFS(templateFS, file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		htmlFile := strings.TrimSuffix(file, ".txt") + ".html"
		ht, err := htmltemplate.New(path.Base(htmlFile)).Funcs(templateFuncs).ParseFS(templateFS, htmlFile)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", htmlFile, err)
		}
		r.text[key] = tt
		r.html[key] = ht
	}

	for _, k := range Kinds {
		if _, ok := r.text[defaultLocale+"/"+string(k)]; !ok {
			return nil, fmt.Errorf("missing %s template for %q", defaultLocale, k)
		}
	}
	return r, nil
}

// Render produces the email for n, falling back to English when the
// booking's locale has no template.
func (r *Renderer) Render(n Notification) (*Message, error) {
	key := localeOf(n.Locale) + "/" + string(n.Kind)
	if _, ok := r.text[key]; !ok {
		key = defaultLocale + "/" + string(n.Kind)
	}
	tt, ok := r.text[key]
	if !ok {
		return nil, fmt.Errorf("unknown notification kind %q", n.Kind)
	}

	var subject, text, html bytes.Buffer
	if err := tt.ExecuteTemplate(&subject, "subject", n); err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	if err := tt.ExecuteTemplate(&text, "body", n); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}
	if err := r.html[key].ExecuteTemplate(&html, "body", n); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	return &Message{
		To:      n.To,
		ToName:  n.Name,
		Subject: strings.TrimSpace(subject.String()),
		Text:    strings.TrimSpace(text.String()),
		HTML:    html.String(),
	}, nil
}

// localeOf reduces "de-AT" or "de_AT" to "de".
func localeOf(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if locale == "" {
		return defaultLocale
	}
	return locale
}
