package privateblog

import "time"

// PostSummary is what the index page shows for each post.
type PostSummary struct {
	Slug    string
	Title   string
	Date    time.Time
	DateStr string // "January 02, 2006"
	Preview string // first paragraph, at most 200 runes plus "..."
}

// Post is a single post loaded from disk. Body is the raw markdown after
// the frontmatter block.
type Post struct {
	Slug    string
	Title   string
	Date    time.Time
	DateStr string
	Body    string
}

// PostForm carries the values of the new-post form back into the view when
// a submission is rejected.
type PostForm struct {
	Title   string
	Content string
}
