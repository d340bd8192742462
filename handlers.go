package privateblog

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/privateblog/markdown"
)

const (
	msgInvalidPassword = "Invalid password"
	msgRateLimited     = "Too many login attempts. Try again later."
	msgExpiredForm     = "The form expired. Please try again."
)

// formFields returns the submitted form, or ErrValidation when one of names
// was not sent at all. Empty values count as present.
func formFields(c echo.Context, names ...string) (url.Values, error) {
	form, err := c.FormParams()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "malformed form").SetInternal(err)
	}
	var missing []string
	for _, name := range names {
		if _, ok := form[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity,
			"missing field: "+strings.Join(missing, ", ")).SetInternal(ErrValidation)
	}
	return form, nil
}

func (a *App) handleLoginPage(c echo.Context) error {
	sess, err := getSession(c)
	if err != nil {
		return err
	}
	if a.Gate.IsAuthenticated(sess) {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	token, err := a.CSRF.Issue(sess)
	if err != nil {
		return err
	}
	if err := saveSession(c, sess); err != nil {
		return err
	}
	return Render(c, a.Views.Login("", token))
}

func (a *App) handleLogin(c echo.Context) error {
	form, err := formFields(c, "password", "csrf_token")
	if err != nil {
		return err
	}
	sess, err := getSession(c)
	if err != nil {
		return err
	}
	ip := c.RealIP()

	err = a.Gate.Login(c.Request().Context(), sess, form.Get("password"), form.Get("csrf_token"), ip)
	switch {
	case err == nil:
		c.Logger().Infof("login succeeded ip=%s", ip)
		// A fresh id on login so an id planted before authentication is
		// never promoted.
		if err := a.renewSessionID(sess); err != nil {
			return err
		}
		if err := saveSession(c, sess); err != nil {
			return err
		}
		return c.Redirect(http.StatusSeeOther, "/")

	case errors.Is(err, ErrRateLimited):
		c.Logger().Warnf("login rate limited ip=%s", ip)
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(a.Config.LoginWindow.Seconds())))
		return RenderStatus(c, http.StatusTooManyRequests, a.Views.Login(msgRateLimited, a.CSRF.Token(sess)))

	case errors.Is(err, ErrCSRFInvalid):
		c.Logger().Warnf("login csrf check failed ip=%s", ip)
		if err := saveSession(c, sess); err != nil {
			return err
		}
		return RenderStatus(c, http.StatusForbidden, a.Views.Login(msgExpiredForm, a.CSRF.Token(sess)))

	case errors.Is(err, ErrBadCredentials):
		c.Logger().Warnf("login failed ip=%s", ip)
		if err := saveSession(c, sess); err != nil {
			return err
		}
		return Render(c, a.Views.Login(msgInvalidPassword, a.CSRF.Token(sess)))

	default:
		return fmt.Errorf("login: %w", err)
	}
}

func (a *App) handleLogout(c echo.Context) error {
	sess, err := getSession(c)
	if err != nil {
		return err
	}
	a.Gate.Logout(sess)
	sess.Options.MaxAge = -1
	if err := saveSession(c, sess); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/login")
}

func (a *App) handleIndex(c echo.Context) error {
	posts, err := a.Cache.ListPosts(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("list posts: %v", err)
		posts = nil
	}
	return Render(c, a.Views.Index(posts))
}

func (a *App) handlePost(c echo.Context) error {
	post, err := a.Store.Get(c.Request().Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RenderStatus(c, http.StatusNotFound, a.Views.NotFound())
		}
		return err
	}
	return Render(c, a.Views.Post(post))
}

func (a *App) handleNewPage(c echo.Context) error {
	sess, err := getSession(c)
	if err != nil {
		return err
	}
	token, err := a.CSRF.Issue(sess)
	if err != nil {
		return err
	}
	if err := saveSession(c, sess); err != nil {
		return err
	}
	return Render(c, a.Views.NewPost(PostForm{}, "", token))
}

func (a *App) handleNewPost(c echo.Context) error {
	form, err := formFields(c, "title", "content", "csrf_token")
	if err != nil {
		return err
	}
	sess, err := getSession(c)
	if err != nil {
		return err
	}
	post := PostForm{Title: form.Get("title"), Content: form.Get("content")}

	fresh, err := a.CSRF.Verify(sess, form.Get("csrf_token"))
	if err != nil {
		if !errors.Is(err, ErrCSRFInvalid) {
			return err
		}
		c.Logger().Warnf("new post csrf check failed ip=%s", c.RealIP())
		if err := saveSession(c, sess); err != nil {
			return err
		}
		return RenderStatus(c, http.StatusForbidden, a.Views.NewPost(post, msgExpiredForm, fresh))
	}

	slug, err := a.Store.Create(c.Request().Context(), post.Title, post.Content)
	if err != nil {
		return err
	}
	a.CSRF.Clear(sess)
	if err := saveSession(c, sess); err != nil {
		return err
	}
	a.Cache.Invalidate()
	c.Logger().Infof("created post %s", slug)
	return c.Redirect(http.StatusSeeOther, "/post/"+url.PathEscape(slug))
}

type previewRequest struct {
	Content *string `json:"content"`
}

type previewResponse struct {
	HTML string `json:"html"`
}

func (a *App) handlePreview(c echo.Context) error {
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Content == nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "missing field: content").SetInternal(ErrValidation)
	}
	return c.JSON(http.StatusOK, previewResponse{HTML: markdown.Render(*req.Content)})
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	ok := errors.As(err, &he)
	api := strings.HasPrefix(c.Request().URL.Path, "/api/")
	if ok && he.Code == http.StatusNotFound && !api {
		_ = RenderStatus(c, http.StatusNotFound, a.Views.NotFound())
		return
	}
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 {
		c.Logger().Errorf("server error: %v", err)
		if api {
			_ = c.JSON(code, map[string]string{"error": http.StatusText(code)})
			return
		}
		_ = RenderStatus(c, code, a.Views.ServerError())
		return
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}
