package views

import (
	"html/template"
	"net/url"
	"time"

	"github.com/eringen/privateblog/markdown"
)

var funcs = template.FuncMap{
	"markdown":   renderMarkdown,
	"pathEscape": PathEscape,
	"isoDate":    isoDate,
}

// renderMarkdown marks the renderer output as safe. The renderer escapes
// all text itself and filters link targets.
func renderMarkdown(md string) template.HTML {
	return template.HTML(markdown.Render(md))
}

// PathEscape wraps url.PathEscape for use in templates.
func PathEscape(s string) string {
	return url.PathEscape(s)
}

func isoDate(t time.Time) string {
	return t.Format("2006-01-02")
}
