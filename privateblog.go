// Package privateblog is a single-user, password-protected markdown blog
// built with Go, Echo, and templ.
//
// Posts are plain markdown files with a small frontmatter block. The package
// handles login, CSRF tokens, login throttling, and the post store, while
// the page templates are supplied through the ViewFuncs struct.
package privateblog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const shutdownTimeout = 10 * time.Second

// ViewFuncs holds the templ components the handlers render. The views
// package provides a default set; callers may supply their own.
type ViewFuncs struct {
	Index       func(posts []PostSummary) templ.Component
	Post        func(post Post) templ.Component
	Login       func(errMsg string, csrfToken string) templ.Component
	NewPost     func(form PostForm, errMsg string, csrfToken string) templ.Component
	NotFound    func() templ.Component
	ServerError func() templ.Component
}

func (v ViewFuncs) complete() bool {
	return v.Index != nil && v.Post != nil && v.Login != nil &&
		v.NewPost != nil && v.NotFound != nil && v.ServerError != nil
}

// App wires together the store, cache, security components, handlers,
// middleware, and views.
type App struct {
	Config SiteConfig
	Echo   *echo.Echo
	Store  *Store
	Cache  *PostCache
	Views  ViewFuncs
	Gate   *Gate
	CSRF   *CSRFGuard

	limiter      Limiter
	closers      []io.Closer
	customRoutes []func(*App)
	staticFS     fs.FS
	initialized  bool
}

// New creates an App with the given configuration and views. Nothing is
// opened until Init or Start.
func New(cfg SiteConfig, views ViewFuncs, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		Views:  views,
	}
	a.Echo.HideBanner = true
	a.Echo.Logger.SetLevel(log.INFO)

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Init validates the configuration and builds the store, limiter, session
// store, middleware, and routes. After Init the App can serve requests
// through a.Echo without listening on a socket.
func (a *App) Init(ctx context.Context) error {
	if a.initialized {
		return nil
	}
	if err := a.Config.Validate(); err != nil {
		return fmt.Errorf("privateblog: invalid config: %w", err)
	}
	if !a.Views.complete() {
		return errors.New("privateblog: every view func must be set")
	}

	a.Store = NewStore(a.Config.PostsDir)
	a.Cache = NewPostCache(a.Store, a.Config.PostCacheTTL)

	if a.limiter == nil {
		lim, err := a.newLimiter(ctx)
		if err != nil {
			return fmt.Errorf("privateblog: init limiter: %w", err)
		}
		a.limiter = lim
	}

	a.CSRF = NewCSRFGuard()
	gate, err := NewGate(GateConfig{
		Password:     a.Config.Password,
		PasswordHash: a.Config.PasswordHash,
	}, a.CSRF, a.limiter)
	if err != nil {
		return fmt.Errorf("privateblog: init gate: %w", err)
	}
	a.Gate = gate

	if a.staticFS == nil {
		sub, err := fs.Sub(StaticAssets, "static")
		if err != nil {
			return fmt.Errorf("privateblog: static assets: %w", err)
		}
		a.staticFS = sub
	}

	if err := a.setupMiddleware(); err != nil {
		return fmt.Errorf("privateblog: init middleware: %w", err)
	}
	a.setupRoutes()

	for _, fn := range a.customRoutes {
		fn(a)
	}

	a.initialized = true
	return nil
}

func (a *App) newLimiter(ctx context.Context) (Limiter, error) {
	if a.Config.RedisURL != "" {
		client, err := NewRedisClient(ctx, a.Config.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		a.Echo.Logger.Infof("login throttling shared through redis")
		return NewRedisLimiter(client, a.Config.LoginMaxAttempts, a.Config.LoginWindow), nil
	}
	lim := NewLoginLimiter(a.Config.LoginMaxAttempts, a.Config.LoginWindow)
	a.closers = append(a.closers, lim)
	return lim, nil
}

// Start initializes the App if needed and serves until ctx is cancelled,
// then shuts the server down gracefully.
func (a *App) Start(ctx context.Context) error {
	if err := a.Init(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Echo.Start(a.Config.Addr)
	}()

	select {
	case <-ctx.Done():
		a.Echo.Logger.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("privateblog: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.StaticFS("/static", a.staticFS)
	e.GET("/healthz", handleHealth)

	e.GET("/login", a.handleLoginPage)
	e.POST("/login", a.handleLogin)
	e.GET("/logout", a.handleLogout)

	e.GET("/", a.handleIndex, a.requireAuth)
	e.GET("/post/:slug", a.handlePost, a.requireAuth)
	e.GET("/new", a.handleNewPage, a.requireAuth)
	e.POST("/new", a.handleNewPost, a.requireAuth)

	e.POST("/api/preview", a.handlePreview, a.requireAuthJSON)
}

// Close releases the limiter and any redis connection. Call this when the
// app is shutting down.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
