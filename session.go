package privateblog

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

const (
	sessionName   = "blog_session"
	sessionMaxAge = 60 * 60 * 12
)

// newSessionStore builds the configured gorilla store. The filesystem
// backend keeps values on disk and only a signed, encrypted id in the
// cookie. The cookie backend puts the values themselves in the cookie.
func (a *App) newSessionStore() (sessions.Store, error) {
	hashKey := []byte(a.Config.SecretKey)
	blockKey := sha256.Sum256(hashKey)
	opts := &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   sessionMaxAge,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.Config.CookieSecure,
	}

	switch a.Config.SessionBackend {
	case SessionBackendCookie:
		store := sessions.NewCookieStore(hashKey, blockKey[:])
		store.Options = opts
		store.MaxAge(sessionMaxAge)
		return store, nil
	case SessionBackendFilesystem:
		if err := os.MkdirAll(a.Config.SessionDir, 0o700); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
		store := sessions.NewFilesystemStore(a.Config.SessionDir, hashKey, blockKey[:])
		store.Options = opts
		store.MaxAge(sessionMaxAge)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", a.Config.SessionBackend)
	}
}

// getSession returns the blog session for the request. A cookie that no
// longer decodes, for example after SECRET_KEY changed, yields a fresh
// session rather than an error.
func getSession(c echo.Context) (*sessions.Session, error) {
	sess, err := session.Get(sessionName, c)
	if sess != nil {
		if err != nil {
			c.Logger().Debugf("discarding unreadable session: %v", err)
		}
		return sess, nil
	}
	return nil, fmt.Errorf("load session: %w", err)
}

// renewSessionID makes the next save issue sess under a new id. With the
// filesystem backend the file kept under the old id is removed.
func (a *App) renewSessionID(sess *sessions.Session) error {
	if a.Config.SessionBackend == SessionBackendFilesystem && sess.ID != "" {
		old := filepath.Join(a.Config.SessionDir, "session_"+sess.ID)
		if err := os.Remove(old); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove old session: %w", err)
		}
	}
	sess.ID = ""
	return nil
}

func saveSession(c echo.Context, sess *sessions.Session) error {
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// IsAuthenticated reports whether the request carries a logged-in session.
func (a *App) IsAuthenticated(c echo.Context) bool {
	sess, err := getSession(c)
	if err != nil {
		return false
	}
	return a.Gate.IsAuthenticated(sess)
}
