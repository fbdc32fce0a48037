package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/punchamoorthee/p2pconsole/internal/domain"
	"github.com/punchamoorthee/p2pconsole/internal/notice"
)

//go:embed templates static
var assets embed.FS

// page is the data every template receives.
type page struct {
	Title   string
	Nav     string
	Admin   *domain.Admin
	// Shell draws the sidebar and header before a session is known.
	Shell   bool
	Notices []notice.Notice
	Data    any
}

var funcs = template.FuncMap{
	"ago":     ago,
	"when":    when,
	"amount":  amount,
	"amountS": amountText,
	"count":   humanize.Comma,
	"pct":     func(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) + "%" },
	"label":   func(s domain.Status) string { return s.Label() },
	"yesno": func(v int) string {
		if v != 0 {
			return "Yes"
		}
		return "No"
	},
	"fallback": func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	},
}

func ago(t domain.Timestamp) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t.Time)
}

func when(t domain.Timestamp) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

func amount(f float64) string { return humanize.CommafWithDigits(f, 2) }

// amountText formats a decimal string sent by the backend.
func amountText(s string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return s
	}
	return amount(f)
}

type renderer struct {
	pages map[string]*template.Template
}

func newRenderer() (*renderer, error) {
	base, err := template.New("layout.html").Funcs(funcs).ParseFS(assets, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	files, err := fs.Glob(assets, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	rd := &renderer{pages: make(map[string]*template.Template, len(files))}
	for _, f := range files {
		t, err := template.Must(base.Clone()).ParseFS(assets, f)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f, err)
		}
		rd.pages[strings.TrimSuffix(path.Base(f), ".html")] = t
	}
	return rd, nil
}

// render executes the named page into a buffer so a template error never
// leaves a half-written response.
func (rd *renderer) render(w http.ResponseWriter, status int, name string, p page) error {
	t, ok := rd.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", p); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func staticFiles() http.Handler {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
