package privateblog

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
)

const (
	csrfSessionKey = "csrf_token"
	csrfTokenBytes = 32
)

// CSRFGuard issues and checks per-session form tokens. A token lives in the
// session until it is cleared after a successful submission or replaced.
type CSRFGuard struct {
	random func(int) []byte
}

// NewCSRFGuard returns a guard drawing 256-bit tokens from crypto/rand.
func NewCSRFGuard() *CSRFGuard {
	return &CSRFGuard{random: securecookie.GenerateRandomKey}
}

// Issue generates a fresh token, stores it in sess and returns it for the
// form. The caller saves the session.
func (g *CSRFGuard) Issue(sess *sessions.Session) (string, error) {
	b := g.random(csrfTokenBytes)
	if len(b) != csrfTokenBytes {
		return "", errors.New("csrf: random source failed")
	}
	token := base64.RawURLEncoding.EncodeToString(b)
	sess.Values[csrfSessionKey] = token
	return token, nil
}

// Token returns the token currently stored in sess, or "".
func (g *CSRFGuard) Token(sess *sessions.Session) string {
	token, _ := sess.Values[csrfSessionKey].(string)
	return token
}

// Validate reports whether submitted matches the token in sess. It is false
// when either side is empty, and it does not modify the session.
func (g *CSRFGuard) Validate(sess *sessions.Session, submitted string) bool {
	stored := g.Token(sess)
	if stored == "" || submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

// Verify is Validate plus rotation: on mismatch a fresh token replaces the
// old one and is returned together with ErrCSRFInvalid, so the next render
// carries a token the client has not seen before.
func (g *CSRFGuard) Verify(sess *sessions.Session, submitted string) (string, error) {
	if g.Validate(sess, submitted) {
		return "", nil
	}
	fresh, err := g.Issue(sess)
	if err != nil {
		return "", err
	}
	return fresh, ErrCSRFInvalid
}

// Clear removes the token so it cannot be submitted again.
func (g *CSRFGuard) Clear(sess *sessions.Session) {
	delete(sess.Values, csrfSessionKey)
}
