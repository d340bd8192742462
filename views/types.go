package views

import "github.com/eringen/privateblog"

// page is the data every template receives. Only the fields a given page
// uses are set.
type page struct {
	Site      string
	Title     string
	Nav       bool
	Error     string
	CSRFToken string

	Posts []privateblog.PostSummary
	Post  privateblog.Post
	Form  privateblog.PostForm
}
