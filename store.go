package privateblog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eringen/privateblog/frontmatter"
)

const (
	postExt        = ".md"
	dateLayout     = "2006-01-02"
	displayLayout  = "January 02, 2006"
	previewRunes   = 200
	collisionStamp = "20060102150405"
	maxCollisions  = 100
)

// Store reads and writes posts as markdown files in a single directory.
// Every file access goes through an os.Root opened on that directory, so a
// name can never resolve outside it.
type Store struct {
	dir string
	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock sets the clock used for the date of newly created posts
// and for collision suffixes.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns a Store for dir. The directory does not have to exist
// yet; List reports it as empty and Create makes it.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the posts directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns a summary of every post, newest first. Posts with the same
// date keep filename order. A missing directory is an empty listing.
func (s *Store) List(ctx context.Context) ([]PostSummary, error) {
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open posts dir: %w", err)
	}
	defer root.Close()

	d, err := root.Open(".")
	if err != nil {
		return nil, fmt.Errorf("open posts dir: %w", err)
	}
	entries, err := d.ReadDir(-1)
	d.Close()
	if err != nil {
		return nil, fmt.Errorf("read posts dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var posts []PostSummary
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		slug := strings.TrimSuffix(name, postExt)
		if !entry.Type().IsRegular() || slug == name || !ValidSlug(slug) {
			continue
		}
		p, err := readPost(root, slug)
		if err != nil {
			// A file removed or unreadable between ReadDir and open is skipped.
			continue
		}
		posts = append(posts, PostSummary{
			Slug:    p.Slug,
			Title:   p.Title,
			Date:    p.Date,
			DateStr: p.DateStr,
			Preview: preview(p.Body),
		})
	}
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].Date.After(posts[j].Date)
	})
	return posts, nil
}

// Get loads the post stored as {slug}.md. Slugs that fail ValidSlug and
// slugs with no file both return ErrNotFound.
func (s *Store) Get(ctx context.Context, slug string) (Post, error) {
	if !ValidSlug(slug) {
		return Post{}, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return Post{}, err
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Post{}, ErrNotFound
		}
		return Post{}, fmt.Errorf("open posts dir: %w", err)
	}
	defer root.Close()

	p, err := readPost(root, slug)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Post{}, ErrNotFound
		}
		return Post{}, fmt.Errorf("read post %q: %w", slug, err)
	}
	return p, nil
}

// Create writes a new post with title and date frontmatter and returns its
// slug. The slug comes from Slugify(title); when that file already exists a
// timestamp suffix is added, then a counter.
func (s *Store) Create(ctx context.Context, title, content string) (string, error) {
	title = strings.Join(strings.Fields(title), " ")
	base := Slugify(title)
	if base == "" {
		base = "untitled"
	}
	now := s.now()
	doc := frontmatter.Format([]frontmatter.Field{
		{Key: "title", Value: title},
		{Key: "date", Value: now.Format(dateLayout)},
	}, strings.ReplaceAll(content, "\r\n", "\n"))

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create posts dir: %w", err)
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return "", fmt.Errorf("open posts dir: %w", err)
	}
	defer root.Close()

	stamped := base + "-" + now.Format(collisionStamp)
	for i := 0; i < maxCollisions; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		slug := base
		switch {
		case i == 1:
			slug = stamped
		case i > 1:
			slug = stamped + "-" + strconv.Itoa(i)
		}
		err := writeNew(root, slug+postExt, doc)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("write post %q: %w", slug, err)
		}
		return slug, nil
	}
	return "", fmt.Errorf("write post %q: no free slug after %d attempts", base, maxCollisions)
}

func writeNew(root *os.Root, name, doc string) error {
	f, err := root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, werr := io.WriteString(f, doc)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = root.Remove(name)
	}
	return werr
}

// readPost loads one post. Only regular files count: symlinks and
// directories named like a post are reported as missing.
func readPost(root *os.Root, slug string) (Post, error) {
	name := slug + postExt
	if info, err := root.Lstat(name); err != nil {
		return Post{}, err
	} else if !info.Mode().IsRegular() {
		return Post{}, fs.ErrNotExist
	}

	f, err := root.Open(name)
	if err != nil {
		return Post{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Post{}, err
	}
	raw, err := io.ReadAll(f)
	if err != nil {
		return Post{}, err
	}

	meta, body := frontmatter.Parse(strings.ReplaceAll(string(raw), "\r\n", "\n"))

	title := meta["title"]
	if title == "" {
		title = HumanizeSlug(slug)
	}
	date := info.ModTime()
	if v := meta["date"]; v != "" {
		if t, err := time.ParseInLocation(dateLayout, v, time.Local); err == nil {
			date = t
		}
	}
	return Post{
		Slug:    slug,
		Title:   title,
		Date:    date,
		DateStr: date.Format(displayLayout),
		Body:    body,
	}, nil
}

// preview returns the first paragraph of body, cut to previewRunes.
func preview(body string) string {
	first, _, _ := strings.Cut(body, "\n\n")
	return truncateRunes(strings.TrimSpace(first), previewRunes)
}
