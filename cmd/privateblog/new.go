package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/eringen/privateblog"
)

// runNewPost writes a post into the configured posts directory, with the
// body read from r.
func runNewPost(title string, r io.Reader) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}
	cfg, err := privateblog.LoadConfig()
	if err != nil {
		return err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	store := privateblog.NewStore(cfg.PostsDir)
	slug, err := store.Create(context.Background(), title, string(body))
	if err != nil {
		return err
	}
	fmt.Printf("created %s/%s.md\n", store.Dir(), slug)
	return nil
}
