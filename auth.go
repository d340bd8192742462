package privateblog

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const authSessionKey = "authenticated"

// GateConfig holds the shared secret. When PasswordHash is set it is a
// bcrypt hash and Password is ignored.
type GateConfig struct {
	Password     string
	PasswordHash string
}

// Gate decides whether a session is logged in and runs the login steps.
type Gate struct {
	password []byte
	hash     []byte
	csrf     *CSRFGuard
	limiter  Limiter
}

// NewGate returns a Gate checking logins against cfg.
func NewGate(cfg GateConfig, csrf *CSRFGuard, limiter Limiter) (*Gate, error) {
	g := &Gate{csrf: csrf, limiter: limiter}
	switch {
	case cfg.PasswordHash != "":
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("password hash: %w", err)
		}
		g.hash = []byte(cfg.PasswordHash)
	case cfg.Password != "":
		g.password = []byte(cfg.Password)
	default:
		return nil, errors.New("a password or password hash is required")
	}
	return g, nil
}

// IsAuthenticated reports whether sess has completed a login.
func (g *Gate) IsAuthenticated(sess *sessions.Session) bool {
	if sess == nil {
		return false
	}
	auth, ok := sess.Values[authSessionKey].(bool)
	return ok && auth
}

// Login checks a login attempt from ip. The steps run in a fixed order:
// the rate limit, then the CSRF token, then the password.
//
//   - ErrRateLimited leaves the session untouched.
//   - ErrCSRFInvalid rotates the session token.
//   - ErrBadCredentials records a failure for ip and rotates the token.
//
// The limiter slot is reserved before the password is checked, so at most
// the threshold number of guesses per window are ever evaluated, however
// many requests arrive at once. The slot is handed back when the CSRF check
// fails or the password is right.
//
// On success the session is marked authenticated and its token cleared.
// The caller saves the session in every case.
func (g *Gate) Login(ctx context.Context, sess *sessions.Session, password, csrfToken, ip string) error {
	ticket, ok, err := g.limiter.Reserve(ctx, ip)
	if err != nil {
		return fmt.Errorf("check login limit: %w", err)
	}
	if !ok {
		return ErrRateLimited
	}

	if _, err := g.csrf.Verify(sess, csrfToken); err != nil {
		if rerr := g.limiter.Release(ctx, ip, ticket); rerr != nil {
			return fmt.Errorf("release login attempt: %w", rerr)
		}
		return err
	}

	if !g.checkPassword(password) {
		if _, err := g.csrf.Issue(sess); err != nil {
			return err
		}
		return ErrBadCredentials
	}

	if err := g.limiter.Release(ctx, ip, ticket); err != nil {
		return fmt.Errorf("release login attempt: %w", err)
	}
	sess.Values[authSessionKey] = true
	g.csrf.Clear(sess)
	return nil
}

func (g *Gate) checkPassword(password string) bool {
	if g.hash != nil {
		return bcrypt.CompareHashAndPassword(g.hash, []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), g.password) == 1
}

// Logout drops every value from sess. The caller expires the cookie.
func (g *Gate) Logout(sess *sessions.Session) {
	for k := range sess.Values {
		delete(sess.Values, k)
	}
}
