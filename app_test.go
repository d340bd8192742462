package privateblog_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/privateblog"
	"github.com/eringen/privateblog/frontmatter"
	"github.com/eringen/privateblog/views"
)

const testPassword = "correct-password"

var reToken = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

type testClient struct {
	t      *testing.T
	base   string
	client *http.Client
	ip     string
}

type testApp struct {
	*privateblog.App
	postsDir   string
	sessionDir string
}

func newTestApp(t *testing.T, mutate func(*privateblog.SiteConfig), opts ...privateblog.Option) *testApp {
	t.Helper()
	dir := t.TempDir()
	cfg := privateblog.SiteConfig{
		Name:       "Test Blog",
		Password:   testPassword,
		SecretKey:  "test-secret-key",
		PostsDir:   filepath.Join(dir, "posts"),
		SessionDir: filepath.Join(dir, "sessions"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	app := privateblog.New(cfg, views.New(cfg.Name), opts...)
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() { app.Close() })
	return &testApp{App: app, postsDir: cfg.PostsDir, sessionDir: cfg.SessionDir}
}

func (a *testApp) client(t *testing.T) *testClient {
	t.Helper()
	srv := httptest.NewServer(a.Echo)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testClient{
		t:    t,
		base: srv.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		ip: "203.0.113.10",
	}
}

func (c *testClient) do(method, path, contentType string, body io.Reader) (*http.Response, string) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, body)
	require.NoError(c.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Forwarded-For", c.ip)
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, string(b)
}

func (c *testClient) get(path string) (*http.Response, string) {
	return c.do(http.MethodGet, path, "", nil)
}

func (c *testClient) postForm(path string, form url.Values) (*http.Response, string) {
	return c.do(http.MethodPost, path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (c *testClient) postJSON(path, body string) (*http.Response, string) {
	return c.do(http.MethodPost, path, "application/json", strings.NewReader(body))
}

func tokenFrom(t *testing.T, body string) string {
	t.Helper()
	m := reToken.FindStringSubmatch(body)
	require.NotNil(t, m, "no csrf token in page")
	return m[1]
}

// loginToken loads the login page and returns its token.
func (c *testClient) loginToken() string {
	c.t.Helper()
	resp, body := c.get("/login")
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	return tokenFrom(c.t, body)
}

func (c *testClient) login() {
	c.t.Helper()
	resp, _ := c.postForm("/login", url.Values{
		"password":   {testPassword},
		"csrf_token": {c.loginToken()},
	})
	require.Equal(c.t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(c.t, "/", resp.Header.Get("Location"))
}

func TestProtectedRoutesRedirectToLogin(t *testing.T) {
	c := newTestApp(t, nil).client(t)

	for _, path := range []string{"/", "/post/anything", "/new"} {
		resp, _ := c.get(path)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, path)
		assert.Equal(t, "/login", resp.Header.Get("Location"), path)
	}

	resp, _ := c.postForm("/new", url.Values{"title": {"x"}, "content": {"y"}, "csrf_token": {"z"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, body := c.postJSON("/api/preview", `{"content":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "not authenticated")
}

func TestLoginFlow(t *testing.T) {
	c := newTestApp(t, nil).client(t)

	resp, body := c.get("/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	token := tokenFrom(t, body)

	resp, _ = c.postForm("/login", url.Values{"password": {testPassword}, "csrf_token": {token}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp, body = c.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "No posts yet")

	// Already logged in: the login page sends you home.
	resp, _ = c.get("/login")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestLoginWithCookieBackend(t *testing.T) {
	app := newTestApp(t, func(cfg *privateblog.SiteConfig) {
		cfg.SessionBackend = privateblog.SessionBackendCookie
	})
	c := app.client(t)
	c.login()

	resp, _ := c.get("/new")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	c := newTestApp(t, nil).client(t)
	token := c.loginToken()

	resp, body := c.postForm("/login", url.Values{"password": {"nope"}, "csrf_token": {token}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Invalid password")
	assert.NotEqual(t, token, tokenFrom(t, body), "token should rotate after a failure")

	resp, _ = c.get("/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestLoginCSRF(t *testing.T) {
	app := newTestApp(t, nil)
	c := app.client(t)
	c.loginToken()

	resp, body := c.postForm("/login", url.Values{"password": {testPassword}, "csrf_token": {"invalid"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotEmpty(t, tokenFrom(t, body))

	resp, _ = c.postForm("/login", url.Values{"password": {testPassword}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = c.get("/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	// A token issued to one session is useless in another.
	other := app.client(t)
	stolen := c.loginToken()
	other.loginToken()
	resp, _ = other.postForm("/login", url.Values{"password": {testPassword}, "csrf_token": {stolen}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// trustLocalProxy makes the test server believe X-Forwarded-For, so each
// client can pose as its own IP.
func trustLocalProxy(cfg *privateblog.SiteConfig) {
	cfg.TrustedProxies = []string{"127.0.0.1"}
}

func TestLoginRateLimit(t *testing.T) {
	c := newTestApp(t, trustLocalProxy).client(t)

	token := c.loginToken()
	for i := 0; i < privateblog.DefaultLoginMaxAttempts; i++ {
		resp, body := c.postForm("/login", url.Values{"password": {"wrong"}, "csrf_token": {token}})
		require.Equal(t, http.StatusOK, resp.StatusCode, "attempt %d", i+1)
		token = tokenFrom(t, body)
	}

	resp, _ := c.postForm("/login", url.Values{"password": {testPassword}, "csrf_token": {token}})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "300", resp.Header.Get("Retry-After"))

	// Another client IP is unaffected.
	c.ip = "203.0.113.99"
	resp, _ = c.postForm("/login", url.Values{"password": {testPassword}, "csrf_token": {token}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestLoginRateLimitIgnoresUntrustedForwardedFor(t *testing.T) {
	tests := []struct {
		name    string
		proxies []string
	}{
		{"no proxies", nil},
		{"other proxy", []string{"10.0.0.0/8", "192.0.2.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestApp(t, func(cfg *privateblog.SiteConfig) {
				cfg.TrustedProxies = tt.proxies
			}).client(t)

			token := c.loginToken()
			limited := 0
			for i := 0; i < 20; i++ {
				c.ip = fmt.Sprintf("198.51.100.%d", i+1)
				resp, body := c.postForm("/login", url.Values{"password": {"wrong"}, "csrf_token": {token}})
				if resp.StatusCode == http.StatusTooManyRequests {
					limited++
					continue
				}
				require.Equal(t, http.StatusOK, resp.StatusCode, "attempt %d", i+1)
				token = tokenFrom(t, body)
			}
			assert.Equal(t, 20-privateblog.DefaultLoginMaxAttempts, limited)
		})
	}
}

func TestConcurrentLoginGuessesStopAtThreshold(t *testing.T) {
	app := newTestApp(t, nil)

	const workers = 20
	clients := make([]*testClient, workers)
	tokens := make([]string, workers)
	for i := range clients {
		clients[i] = app.client(t)
		tokens[i] = clients[i].loginToken()
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)
	for i, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, c.base+"/login",
				strings.NewReader(url.Values{"password": {"wrong"}, "csrf_token": {tokens[i]}}.Encode()))
			if err != nil {
				t.Error(err)
				return
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			resp, err := c.client.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			resp.Body.Close()
			mu.Lock()
			codes[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, privateblog.DefaultLoginMaxAttempts, codes[http.StatusOK], "password checks: %v", codes)
	assert.Equal(t, workers-privateblog.DefaultLoginMaxAttempts, codes[http.StatusTooManyRequests], "codes: %v", codes)
}

func TestWithLimiterOption(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	lim := privateblog.NewLoginLimiter(2, time.Minute, privateblog.WithClock(clock), privateblog.WithoutSweep())
	c := newTestApp(t, func(cfg *privateblog.SiteConfig) {
		cfg.LoginWindow = time.Minute
	}, privateblog.WithLimiter(lim)).client(t)

	token := c.loginToken()
	for i := 0; i < 2; i++ {
		resp, body := c.postForm("/login", url.Values{"password": {"wrong"}, "csrf_token": {token}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		token = tokenFrom(t, body)
	}
	resp, _ := c.postForm("/login", url.Values{"password": {testPassword}, "csrf_token": {token}})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()
	resp, _ = c.postForm("/login", url.Values{"password": {testPassword}, "csrf_token": {token}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestWithStaticFSOption(t *testing.T) {
	fsys := fstest.MapFS{"app.css": {Data: []byte("body{color:red}")}}
	c := newTestApp(t, nil, privateblog.WithStaticFS(fsys)).client(t)

	resp, body := c.get("/static/app.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{color:red}", body)

	resp, _ = c.get("/static/preview.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWithCustomRoutesOption(t *testing.T) {
	var gateSet bool
	app := newTestApp(t, nil, privateblog.WithCustomRoutes(func(a *privateblog.App) {
		gateSet = a.Gate != nil
		a.Echo.GET("/whoami", func(c echo.Context) error {
			if a.IsAuthenticated(c) {
				return c.String(http.StatusOK, "owner")
			}
			return c.String(http.StatusOK, "guest")
		})
	}))
	assert.True(t, gateSet, "custom routes run after the built-in setup")

	c := app.client(t)
	_, body := c.get("/whoami")
	assert.Equal(t, "guest", body)
	c.login()
	_, body = c.get("/whoami")
	assert.Equal(t, "owner", body)
}

func TestLoginReplacesSessionFile(t *testing.T) {
	app := newTestApp(t, nil)
	c := app.client(t)
	c.loginToken()

	before, err := os.ReadDir(app.sessionDir)
	require.NoError(t, err)
	require.Len(t, before, 1)

	c.login()
	after, err := os.ReadDir(app.sessionDir)
	require.NoError(t, err)
	require.Len(t, after, 1, "the pre-login session file should be gone")
	assert.NotEqual(t, before[0].Name(), after[0].Name())

	resp, _ := c.get("/new")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSuccessfulLoginKeepsFailureHistory(t *testing.T) {
	c := newTestApp(t, nil).client(t)

	token := c.loginToken()
	for i := 0; i < privateblog.DefaultLoginMaxAttempts-1; i++ {
		_, body := c.postForm("/login", url.Values{"password": {"wrong"}, "csrf_token": {token}})
		token = tokenFrom(t, body)
	}
	resp, _ := c.postForm("/login", url.Values{"password": {testPassword}, "csrf_token": {token}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	c.get("/logout")

	_, body := c.postForm("/login", url.Values{"password": {"wrong"}, "csrf_token": {c.loginToken()}})
	resp, _ = c.postForm("/login", url.Values{"password": {testPassword}, "csrf_token": {tokenFrom(t, body)}})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	c := newTestApp(t, nil).client(t)
	c.login()

	resp, _ := c.get("/logout")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, _ = c.get("/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestNewPostCreatesFile(t *testing.T) {
	app := newTestApp(t, nil)
	c := app.client(t)
	c.login()

	resp, body := c.get("/new")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := tokenFrom(t, body)

	resp, _ = c.postForm("/new", url.Values{
		"title":      {"Hello World"},
		"content":    {"First paragraph.\n\nSecond one."},
		"csrf_token": {token},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/post/hello-world", resp.Header.Get("Location"))

	raw, err := os.ReadFile(filepath.Join(app.postsDir, "hello-world.md"))
	require.NoError(t, err)
	meta, content := frontmatter.Parse(string(raw))
	assert.Equal(t, "Hello World", meta["title"])
	assert.Equal(t, time.Now().Format("2006-01-02"), meta["date"])
	assert.Equal(t, "First paragraph.\n\nSecond one.", content)

	resp, body = c.get("/post/hello-world")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<h1>Hello World</h1>")
	assert.Contains(t, body, "<p>Second one.</p>")

	resp, body = c.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="/post/hello-world"`)
	assert.Contains(t, body, "First paragraph.")

	// The token was used up by the successful submission.
	resp, _ = c.postForm("/new", url.Values{"title": {"Again"}, "content": {"x"}, "csrf_token": {token}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_, err = os.Stat(filepath.Join(app.postsDir, "again.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestNewPostRejected(t *testing.T) {
	app := newTestApp(t, nil)
	c := app.client(t)
	c.login()
	c.get("/new")

	resp, body := c.postForm("/new", url.Values{"title": {"Draft"}, "content": {"kept"}, "csrf_token": {"invalid"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, `value="Draft"`)
	fresh := tokenFrom(t, body)

	resp, _ = c.postForm("/new", url.Values{"content": {"no title"}, "csrf_token": {fresh}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	entries, _ := os.ReadDir(app.postsDir)
	assert.Empty(t, entries)

	resp, _ = c.postForm("/new", url.Values{"title": {"Draft"}, "content": {"kept"}, "csrf_token": {fresh}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/post/draft", resp.Header.Get("Location"))
}

func TestPostNotFoundAndTraversal(t *testing.T) {
	app := newTestApp(t, nil)
	require.NoError(t, os.MkdirAll(app.postsDir, 0o755))
	secret := filepath.Join(filepath.Dir(app.postsDir), "secret.md")
	require.NoError(t, os.WriteFile(secret, []byte("---\ntitle: Secret\n---\nhidden"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(app.postsDir, ".hidden.md"), []byte("hidden"), 0o600))

	c := app.client(t)
	c.login()

	for _, path := range []string{
		"/post/missing",
		"/post/..%2Fsecret",
		"/post/%2E%2E%2Fsecret",
		"/post/.hidden",
	} {
		resp, body := c.get(path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.NotContains(t, body, "hidden", path)
		assert.Contains(t, body, "Not found", path)
	}
}

func TestPreview(t *testing.T) {
	c := newTestApp(t, nil).client(t)
	c.login()

	resp, body := c.postJSON("/api/preview", `{"content":"Some **bold** <b>tag</b>"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		HTML string `json:"html"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Contains(t, out.HTML, "<strong>bold</strong>")
	assert.NotContains(t, out.HTML, "<b>tag</b>")

	resp, _ = c.postJSON("/api/preview", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHealthStaticAndUnknown(t *testing.T) {
	c := newTestApp(t, nil).client(t)

	resp, body := c.get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	resp, _ = c.get("/static/app.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "max-age")

	resp, body = c.get("/docs")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "Not found")
}

func TestInitRejectsIncompleteConfig(t *testing.T) {
	app := privateblog.New(privateblog.SiteConfig{SecretKey: "k"}, views.New("x"))
	assert.Error(t, app.Init(context.Background()))

	app = privateblog.New(privateblog.SiteConfig{Password: "p", SecretKey: "k"}, privateblog.ViewFuncs{})
	assert.Error(t, app.Init(context.Background()))
}
