// Package markdown renders post bodies to HTML fragments.
//
// It covers the subset posts actually use: headings (with anchor ids),
// paragraphs, ordered and unordered lists, block quotes, fenced code with an
// optional language, pipe tables, horizontal rules, and inline emphasis,
// code, links and images. All text is escaped before formatting, and link
// and image targets go through SafeURL.
package markdown

import (
	"bytes"
	"context"
	"html"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/a-h/templ"
)

var (
	reBold             = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBoldUnderscore   = regexp.MustCompile(`__(.+?)__`)
	reItalic           = regexp.MustCompile(`\*([^*]+)\*`)
	reItalicUnderscore = regexp.MustCompile(`_([^_]+)_`)
	reInlineCode       = regexp.MustCompile("`([^`]+)`")
	reLink             = regexp.MustCompile(`\[(.*?)\]\((.*?)\)(\^)?`)
	reImage            = regexp.MustCompile(`!\[(.*?)\]\((.*?)\)`)
	reOrderedItem      = regexp.MustCompile(`^(\d+)\.\s`)
	reHeading          = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
)

// Markdown returns a templ.Component that writes the rendered HTML of md.
func Markdown(md string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, Render(md))
		return err
	})
}

// Render returns the HTML fragment for md.
func Render(md string) string {
	r := &renderer{ids: make(map[string]int)}
	for _, raw := range strings.Split(md, "\n") {
		r.line(strings.TrimRight(raw, "\r"))
	}
	r.closeAll()
	r.closeCode()
	return r.buf.String()
}

type block int

const (
	blockNone block = iota
	blockPara
	blockList
	blockOrdered
	blockQuote
	blockTable
)

// renderer holds the open-block state while walking a document line by line.
type renderer struct {
	buf      bytes.Buffer
	open     block
	inCode   bool
	codeLang bool
	tableRow int
	ids      map[string]int
}

func (r *renderer) line(line string) {
	if strings.HasPrefix(line, "```") {
		if r.inCode {
			r.closeCode()
			return
		}
		r.closeAll()
		r.openCode(strings.TrimSpace(line[3:]))
		return
	}
	if r.inCode {
		r.buf.WriteString(html.EscapeString(line))
		r.buf.WriteByte('\n')
		return
	}

	if strings.TrimSpace(line) == "" {
		r.closeAll()
		return
	}

	switch {
	case strings.HasPrefix(line, "---"):
		r.closeAll()
		r.buf.WriteString("<hr/>")
	case reHeading.MatchString(line):
		r.closeAll()
		m := reHeading.FindStringSubmatch(line)
		r.heading(len(m[1]), strings.TrimSpace(m[2]))
	case strings.HasPrefix(line, "|"):
		r.tableLine(line)
	case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
		r.enter(blockList, "<ul>")
		r.item(line[2:])
	case reOrderedItem.MatchString(line):
		r.enter(blockOrdered, "<ol>")
		r.item(reOrderedItem.ReplaceAllString(line, ""))
	case strings.HasPrefix(line, "> ") || line == ">":
		if r.open != blockQuote {
			r.enter(blockQuote, "<blockquote>")
		} else {
			r.buf.WriteByte(' ')
		}
		r.buf.WriteString(r.inline(strings.TrimSpace(strings.TrimPrefix(line, ">"))))
	default:
		if r.open == blockPara {
			r.buf.WriteByte(' ')
		} else {
			r.enter(blockPara, "<p>")
		}
		r.buf.WriteString(r.inline(strings.TrimSpace(line)))
	}
}

// enter closes whatever block is open unless it is already b, then opens b.
func (r *renderer) enter(b block, tag string) {
	if r.open == b {
		return
	}
	r.closeAll()
	r.buf.WriteString(tag)
	r.open = b
}

func (r *renderer) closeAll() {
	switch r.open {
	case blockPara:
		r.buf.WriteString("</p>")
	case blockList:
		r.buf.WriteString("</ul>")
	case blockOrdered:
		r.buf.WriteString("</ol>")
	case blockQuote:
		r.buf.WriteString("</blockquote>")
	case blockTable:
		if r.tableRow > 0 {
			r.buf.WriteString("</tbody>")
		}
		r.buf.WriteString("</table>")
		r.tableRow = 0
	}
	r.open = blockNone
}

func (r *renderer) openCode(lang string) {
	if lang != "" {
		lang = html.EscapeString(lang)
		r.codeLang = true
		r.buf.WriteString(`<div class="code-block"><span class="code-lang">` + lang + `</span>`)
		r.buf.WriteString(`<pre><code class="language-` + lang + `">`)
	} else {
		r.buf.WriteString("<pre><code>")
	}
	r.inCode = true
}

func (r *renderer) closeCode() {
	if !r.inCode {
		return
	}
	r.buf.WriteString("</code></pre>")
	if r.codeLang {
		r.buf.WriteString("</div>")
		r.codeLang = false
	}
	r.inCode = false
}

func (r *renderer) heading(level int, text string) {
	tag := "h" + strconv.Itoa(level)
	r.buf.WriteString("<" + tag + ` id="` + r.anchor(text) + `">`)
	r.buf.WriteString(r.inline(text))
	r.buf.WriteString("</" + tag + ">")
}

func (r *renderer) item(text string) {
	r.buf.WriteString("<li>")
	r.buf.WriteString(r.inline(strings.TrimSpace(text)))
	r.buf.WriteString("</li>")
}

func (r *renderer) tableLine(line string) {
	if r.open != blockTable {
		r.closeAll()
		r.open = blockTable
		r.buf.WriteString("<table><thead><tr>")
		for _, cell := range tableCells(line) {
			r.buf.WriteString("<th>" + r.inline(cell) + "</th>")
		}
		r.buf.WriteString("</tr></thead>")
		return
	}
	if r.tableRow == 0 {
		r.buf.WriteString("<tbody>")
	}
	r.tableRow++
	if isTableSeparator(line) {
		return
	}
	r.buf.WriteString("<tr>")
	for _, cell := range tableCells(line) {
		r.buf.WriteString("<td>" + r.inline(cell) + "</td>")
	}
	r.buf.WriteString("</tr>")
}

// anchor derives a unique heading id from its text: "Intro", "Intro" gives
// "intro" then "intro-1".
func (r *renderer) anchor(text string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(text) {
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			b.WriteRune(c)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	id := strings.TrimRight(b.String(), "-")
	if id == "" {
		id = "section"
	}
	n := r.ids[id]
	r.ids[id] = n + 1
	if n > 0 {
		id += "-" + strconv.Itoa(n)
	}
	return html.EscapeString(id)
}

func (r *renderer) inline(s string) string {
	return FormatInline(s)
}

func tableCells(line string) []string {
	line = strings.Trim(strings.TrimSpace(line), "|")
	parts := strings.Split(line, "|")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func isTableSeparator(line string) bool {
	for _, cell := range tableCells(line) {
		if strings.Trim(cell, "-:") != "" {
			return false
		}
	}
	return true
}

// stash holds generated HTML fragments behind NUL-delimited placeholders so
// that later patterns only ever see escaped source text.
type stash []string

var rePlaceholder = regexp.MustCompile("\x00(\\d+)\x00")

func (s *stash) put(fragment string) string {
	*s = append(*s, fragment)
	return "\x00" + strconv.Itoa(len(*s)-1) + "\x00"
}

// restore expands placeholders newest first, since a fragment may contain
// placeholders stashed before it.
func (s stash) restore(out string) string {
	for i := len(s) - 1; i >= 0; i-- {
		out = strings.Replace(out, "\x00"+strconv.Itoa(i)+"\x00", s[i], 1)
	}
	return out
}

func emphasis(s string) string {
	s = reBold.ReplaceAllString(s, "<strong>$1</strong>")
	s = reBoldUnderscore.ReplaceAllString(s, "<strong>$1</strong>")
	s = reItalic.ReplaceAllString(s, "<em>$1</em>")
	s = reItalicUnderscore.ReplaceAllString(s, "<em>$1</em>")
	return s
}

// FormatInline escapes s and applies code spans, images, links, bold and
// italics. A link followed by "^" opens in a new tab. Each generated tag is
// stashed as soon as it is built, so no pattern can match across it.
func FormatInline(s string) string {
	out := html.EscapeString(strings.ReplaceAll(s, "\x00", ""))
	var st stash

	out = reInlineCode.ReplaceAllStringFunc(out, func(m string) string {
		inner := reInlineCode.FindStringSubmatch(m)[1]
		return st.put("<code>" + inner + "</code>")
	})

	out = reImage.ReplaceAllStringFunc(out, func(m string) string {
		match := reImage.FindStringSubmatch(m)
		alt := rePlaceholder.ReplaceAllString(match[1], "")
		src := SafeURL(match[2])
		if src == "" {
			return alt
		}
		return st.put(`<img src="` + src + `" alt="` + alt + `" loading="lazy"/>`)
	})
	out = reLink.ReplaceAllStringFunc(out, func(m string) string {
		match := reLink.FindStringSubmatch(m)
		href := SafeURL(match[2])
		if href == "" {
			return match[1]
		}
		attrs := ""
		if match[3] == "^" {
			attrs = ` target="_blank" rel="noopener noreferrer"`
		}
		return st.put(`<a href="` + href + `"` + attrs + `>` + emphasis(match[1]) + `</a>`)
	})
	return st.restore(emphasis(out))
}

// SafeURL returns raw escaped for an HTML attribute when it is a relative
// path, a fragment, or uses http, https, mailto or tel. Anything else, such
// as javascript: URLs, yields "".
func SafeURL(raw string) string {
	val := strings.TrimSpace(html.UnescapeString(raw))
	if val == "" {
		return ""
	}
	if strings.HasPrefix(val, "/") && !strings.HasPrefix(val, "//") || strings.HasPrefix(val, "#") {
		return html.EscapeString(val)
	}
	parsed, err := url.Parse(val)
	if err != nil || parsed.Scheme == "" {
		return ""
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https", "mailto", "tel":
		return html.EscapeString(val)
	default:
		return ""
	}
}
