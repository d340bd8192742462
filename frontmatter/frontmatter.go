// Package frontmatter reads and writes the small "key: value" header that
// sits between two "---" lines at the top of a post file.
package frontmatter

import "strings"

// Delimiter opens and closes a frontmatter block. It must sit on a line of
// its own.
const Delimiter = "---"

// Field is a single frontmatter entry. Format keeps fields in slice order.
type Field struct {
	Key   string
	Value string
}

// Parse splits raw into its frontmatter mapping and body.
//
// When raw does not start with a delimiter line, or the block is never
// closed, the mapping is empty and the body is raw unchanged. Parse never
// fails; a malformed header is treated as having no metadata at all.
func Parse(raw string) (map[string]string, string) {
	meta := make(map[string]string)

	first, rest, ok := strings.Cut(raw, "\n")
	if !ok || !isDelimiter(first) {
		return meta, raw
	}

	var lines []string
	for {
		line, tail, more := strings.Cut(rest, "\n")
		if isDelimiter(line) {
			for _, l := range lines {
				key, value, found := strings.Cut(l, ":")
				key = strings.TrimSpace(key)
				if !found || key == "" {
					continue
				}
				meta[key] = strings.TrimSpace(value)
			}
			return meta, strings.TrimSpace(tail)
		}
		if !more {
			return meta, raw
		}
		lines = append(lines, line)
		rest = tail
	}
}

// Format renders fields and body as a document Parse can read back.
// Line breaks inside values are folded into single spaces so a value can
// never close the block early.
func Format(fields []Field, body string) string {
	var b strings.Builder
	b.WriteString(Delimiter + "\n")
	for _, f := range fields {
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(strings.Join(strings.Fields(f.Value), " "))
		b.WriteByte('\n')
	}
	b.WriteString(Delimiter + "\n\n")
	body = strings.TrimSpace(body)
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	return b.String()
}

func isDelimiter(line string) bool {
	return strings.TrimRight(line, " \t\r") == Delimiter
}
