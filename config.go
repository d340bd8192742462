package privateblog

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session backends accepted by SiteConfig.SessionBackend.
const (
	SessionBackendFilesystem = "filesystem"
	SessionBackendCookie     = "cookie"
)

const (
	defaultName       = "Private Blog"
	defaultAddr       = ":8000"
	defaultPostsDir   = "posts"
	defaultSessionDir = "data/sessions"
)

// SiteConfig holds all configuration for a blog instance.
type SiteConfig struct {
	Name string // Site name (default "Private Blog")
	Addr string // Listen address (default ":8000")

	PostsDir string // Directory of {slug}.md files (default "posts")

	Password     string // Shared login password
	PasswordHash string // bcrypt hash; takes precedence over Password
	SecretKey    string // Required: signs and encrypts session data
	CookieSecure bool   // Set true for HTTPS

	SessionBackend string // "filesystem" (default) or "cookie"
	SessionDir     string // Filesystem session directory (default "data/sessions")

	LoginMaxAttempts int           // Failures allowed per IP (default 5)
	LoginWindow      time.Duration // Window failures are counted in (default 5m)
	RedisURL         string        // Optional: share login throttling through redis

	// TrustedProxies lists the CIDRs or bare IPs of reverse proxies whose
	// X-Forwarded-For header is believed. Empty means the client IP is the
	// TCP peer address.
	TrustedProxies []string

	PostCacheTTL time.Duration // Index listing cache TTL (default 30s)
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.PostsDir == "" {
		c.PostsDir = defaultPostsDir
	}
	if c.SessionBackend == "" {
		c.SessionBackend = SessionBackendFilesystem
	}
	if c.SessionDir == "" {
		c.SessionDir = defaultSessionDir
	}
	if c.LoginMaxAttempts == 0 {
		c.LoginMaxAttempts = DefaultLoginMaxAttempts
	}
	if c.LoginWindow == 0 {
		c.LoginWindow = DefaultLoginWindow
	}
	if c.PostCacheTTL == 0 {
		c.PostCacheTTL = 30 * time.Second
	}
}

// Validate reports configuration that would leave the blog unusable or
// unprotected.
func (c *SiteConfig) Validate() error {
	var errs []error
	if c.Password == "" && c.PasswordHash == "" {
		errs = append(errs, errors.New("BLOG_PASSWORD or BLOG_PASSWORD_HASH is required"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("SECRET_KEY is required"))
	}
	switch c.SessionBackend {
	case SessionBackendFilesystem, SessionBackendCookie:
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.SessionBackend))
	}
	if c.LoginMaxAttempts < 1 {
		errs = append(errs, errors.New("LOGIN_MAX_ATTEMPTS must be at least 1"))
	}
	if c.LoginWindow <= 0 {
		errs = append(errs, errors.New("LOGIN_WINDOW must be positive"))
	}
	if _, err := parseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// parseTrustedProxies turns CIDRs and bare addresses into networks. A bare
// address becomes a single-host network.
func parseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		if _, n, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, n)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %q is not an IP or CIDR", entry)
		}
		bits := 128
		if v4 := ip.To4(); v4 != nil {
			ip, bits = v4, 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

// LoadConfig reads .env and .env.local from the working directory when
// present, then builds a SiteConfig from the environment. Variables already
// set in the environment win over both files.
func LoadConfig() (SiteConfig, error) {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return SiteConfig{}, fmt.Errorf("load %s: %w", name, err)
		}
	}

	cfg := SiteConfig{
		Name:           EnvOr("BLOG_NAME", defaultName),
		Addr:           EnvOr("ADDR", defaultAddr),
		PostsDir:       EnvOr("POSTS_DIR", defaultPostsDir),
		Password:       os.Getenv("BLOG_PASSWORD"),
		PasswordHash:   os.Getenv("BLOG_PASSWORD_HASH"),
		SecretKey:      os.Getenv("SECRET_KEY"),
		SessionBackend: strings.ToLower(EnvOr("SESSION_BACKEND", SessionBackendFilesystem)),
		SessionDir:     EnvOr("SESSION_DIR", defaultSessionDir),
		RedisURL:       os.Getenv("REDIS_URL"),
		TrustedProxies: envList("TRUSTED_PROXIES"),
	}

	var err error
	if cfg.CookieSecure, err = envBool("COOKIE_SECURE"); err != nil {
		return SiteConfig{}, err
	}
	if cfg.LoginMaxAttempts, err = envInt("LOGIN_MAX_ATTEMPTS"); err != nil {
		return SiteConfig{}, err
	}
	if cfg.LoginWindow, err = envDuration("LOGIN_WINDOW"); err != nil {
		return SiteConfig{}, err
	}
	if cfg.PostCacheTTL, err = envDuration("POST_CACHE_TTL"); err != nil {
		return SiteConfig{}, err
	}
	cfg.setDefaults()
	return cfg, nil
}

// envList splits a comma-separated variable, dropping blank items.
func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// envDuration accepts Go durations ("5m") and bare seconds ("300").
func envDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback runs after the built-in routes are registered.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithStaticFS serves fsys under /static/ instead of the built-in assets.
func WithStaticFS(fsys fs.FS) Option {
	return func(a *App) {
		a.staticFS = fsys
	}
}

// WithLimiter replaces the login limiter built from the config.
func WithLimiter(l Limiter) Option {
	return func(a *App) {
		a.limiter = l
	}
}
