package privateblog

import "errors"

var (
	// ErrNotFound is returned when a slug does not name a post, including
	// slugs rejected by ValidSlug.
	ErrNotFound = errors.New("post not found")

	// ErrRateLimited means the client IP has too many recent failed logins.
	ErrRateLimited = errors.New("too many login attempts")

	// ErrCSRFInvalid means the submitted CSRF token was missing or did not
	// match the one stored in the session.
	ErrCSRFInvalid = errors.New("invalid csrf token")

	// ErrBadCredentials means the supplied password was wrong.
	ErrBadCredentials = errors.New("invalid password")

	// ErrValidation means a required form field was missing.
	ErrValidation = errors.New("validation failed")
)
