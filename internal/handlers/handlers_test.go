package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdko-org/site-gateway/internal/auth"
	"github.com/sdko-org/site-gateway/internal/config"
	"github.com/sdko-org/site-gateway/internal/kv"
	"github.com/sdko-org/site-gateway/internal/sites"
	"github.com/sdko-org/site-gateway/internal/storage"
)

const (
	testDomain = "sites.example.com"
	superToken = "super-admin-token-for-tests"
)

type harness struct {
	handler http.Handler
	store   *kv.MemoryStore
	objects *storage.MemoryStorage
	admin   *AdminHandler
	public  *PublicHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		GatewayDomain:     testDomain,
		AdminToken:        superToken,
		SessionCookieName: "site_session",
		SessionTTL:        24 * time.Hour,
		LoginMaxAttempts:  10,
		LoginWindow:       5 * time.Minute,
		MaxFiles:          100,
		MaxFileBytes:      1 << 20,
		MaxTotalBytes:     4 << 20,
	}
	store := kv.NewMemoryStore()
	objects := storage.NewMemoryStorage()
	svc := sites.NewService(logger, store, objects, testDomain, sites.Limits{
		MaxFiles:      cfg.MaxFiles,
		MaxFileBytes:  cfg.MaxFileBytes,
		MaxTotalBytes: cfg.MaxTotalBytes,
	})
	admins := auth.NewAdminAuthenticator(superToken, store)
	limiter := auth.NewLoginLimiter(logger, store, cfg.LoginMaxAttempts, cfg.LoginWindow)

	ah := NewAdminHandler(logger, svc, admins, cfg.MaxRequestBytes())
	ph := NewPublicHandler(logger, cfg, svc, objects, limiter)

	r := mux.NewRouter()
	RegisterRoutes(r, testDomain, ah, ph)

	return &harness{
		handler: Chain(r,
			SecurityHeaders,
			RequestIDMiddleware,
			RecoverMiddleware(logger),
			LoggingMiddleware(logger, nil, ""),
		),
		store:   store,
		objects: objects,
		admin:   ah,
		public:  ph,
	}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) api(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, "http://admin.internal"+path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return h.do(req)
}

func (h *harness) publish(t *testing.T, brand, name string, files map[string]string) sites.PublishResult {
	t.Helper()
	rec := h.api(t, http.MethodPost, "/_api/sites/"+brand+"/"+name, superToken, map[string]any{
		"title": "Proposal " + name,
		"files": files,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res sites.PublishResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func siteRequest(method, brand, path, ip string, cookie *http.Cookie) *http.Request {
	req := httptest.NewRequest(method, "http://"+brand+"."+testDomain+path, nil)
	if ip != "" {
		req.RemoteAddr = ip + ":40000"
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func loginRequest(brand, name, password, ip string) *http.Request {
	form := url.Values{"password": {password}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "http://"+brand+"."+testDomain+"/"+name+"/_login", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = ip + ":40000"
	return req
}

func (h *harness) login(t *testing.T, brand, name, password, ip string) *http.Cookie {
	t.Helper()
	rec := h.do(loginRequest(brand, name, password, ip))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == "site_session" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

var sampleFiles = map[string]string{
	"index.html":   b64("<h1>Hello</h1>"),
	"css/site.css": b64("body{color:#003366}"),
}

func TestPublishLoginAndServe(t *testing.T) {
	h := newHarness(t)
	res := h.publish(t, "acme", "q1", sampleFiles)

	assert.Equal(t, "https://acme."+testDomain+"/q1/", res.URL)
	assert.Equal(t, 2, res.Files)
	require.NotEmpty(t, res.Password)

	rec := h.do(siteRequest(http.MethodGet, "acme", "/q1/", "198.51.100.1", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/q1/_login", rec.Header().Get("Location"))

	rec = h.do(siteRequest(http.MethodGet, "acme", "/q1/_login", "198.51.100.1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Proposal q1")
	assert.Contains(t, rec.Body.String(), `action="/q1/_login"`)

	loginRec := h.do(loginRequest("acme", "q1", res.Password, "198.51.100.1"))
	require.Equal(t, http.StatusFound, loginRec.Code)
	assert.Equal(t, "/q1/", loginRec.Header().Get("Location"))
	setCookie := loginRec.Header().Get("Set-Cookie")
	assert.Contains(t, setCookie, "Path=/q1")
	assert.Contains(t, setCookie, "HttpOnly")
	assert.Contains(t, setCookie, "Secure")
	assert.Contains(t, setCookie, "SameSite=Lax")

	cookie := h.login(t, "acme", "q1", res.Password, "198.51.100.1")

	rec = h.do(siteRequest(http.MethodGet, "acme", "/q1/", "198.51.100.1", cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>Hello</h1>", rec.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "14", rec.Header().Get("Content-Length"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := siteRequest(http.MethodGet, "acme", "/q1/index.html", "198.51.100.1", cookie)
	req.Header.Set("If-None-Match", etag)
	rec = h.do(req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = h.do(siteRequest(http.MethodGet, "acme", "/q1/css/site.css", "198.51.100.1", cookie))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/css; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = h.do(siteRequest(http.MethodHead, "acme", "/q1/css/site.css", "198.51.100.1", cookie))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "19", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())

	rec = h.do(siteRequest(http.MethodGet, "acme", "/q1/missing.html", "198.51.100.1", cookie))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestSiteRootRedirect(t *testing.T) {
	h := newHarness(t)
	rec := h.do(siteRequest(http.MethodGet, "acme", "/q1", "", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/q1/", rec.Header().Get("Location"))
}

func TestUnknownSiteAndBadNames(t *testing.T) {
	h := newHarness(t)

	rec := h.do(siteRequest(http.MethodGet, "acme", "/nope/", "", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(siteRequest(http.MethodGet, "acme", "/nope/_login", "", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(siteRequest(http.MethodGet, "acme", "/Bad_Site/", "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(siteRequest(http.MethodGet, "acme", "/Bad_Site/_login", "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidFilePath(t *testing.T) {
	h := newHarness(t)
	res := h.publish(t, "acme", "q1", sampleFiles)
	cookie := h.login(t, "acme", "q1", res.Password, "198.51.100.1")

	rec := h.do(siteRequest(http.MethodGet, "acme", "/q1/a%5Cb.html", "198.51.100.1", cookie))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetIsIdempotentAndOmitsSecrets(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "acme", "q1", sampleFiles)

	first := h.api(t, http.MethodGet, "/_api/sites/acme/q1", superToken, nil)
	second := h.api(t, http.MethodGet, "/_api/sites/acme/q1", superToken, nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	body := first.Body.String()
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "hmac")
	assert.Contains(t, body, `"url":"https://acme.`+testDomain+`/q1/"`)
}

func TestSessionCookieRejected(t *testing.T) {
	h := newHarness(t)
	q1 := h.publish(t, "acme", "q1", sampleFiles)
	h.publish(t, "acme", "q2", sampleFiles)
	cookie := h.login(t, "acme", "q1", q1.Password, "198.51.100.1")

	t.Run("tampered", func(t *testing.T) {
		bad := *cookie
		bad.Value = cookie.Value[:len(cookie.Value)-2] + "AA"
		rec := h.do(siteRequest(http.MethodGet, "acme", "/q1/", "198.51.100.1", &bad))
		assert.Equal(t, http.StatusFound, rec.Code)
	})

	t.Run("other site", func(t *testing.T) {
		rec := h.do(siteRequest(http.MethodGet, "acme", "/q2/", "198.51.100.1", cookie))
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/q2/_login", rec.Header().Get("Location"))
	})

	t.Run("other brand", func(t *testing.T) {
		h.publish(t, "globex", "q1", sampleFiles)
		rec := h.do(siteRequest(http.MethodGet, "globex", "/q1/", "198.51.100.1", cookie))
		assert.Equal(t, http.StatusFound, rec.Code)
	})

	t.Run("expired", func(t *testing.T) {
		h.public.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
		defer func() { h.public.now = time.Now }()
		rec := h.do(siteRequest(http.MethodGet, "acme", "/q1/", "198.51.100.1", cookie))
		assert.Equal(t, http.StatusFound, rec.Code)
	})

	t.Run("rotated password invalidates session", func(t *testing.T) {
		rec := h.api(t, http.MethodPost, "/_api/sites/acme/q1/password", superToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = h.do(siteRequest(http.MethodGet, "acme", "/q1/", "198.51.100.1", cookie))
		assert.Equal(t, http.StatusFound, rec.Code)
	})
}

func TestLoginRateLimit(t *testing.T) {
	h := newHarness(t)
	res := h.publish(t, "acme", "q1", sampleFiles)

	for i := 0; i < 10; i++ {
		rec := h.do(loginRequest("acme", "q1", "wrong", "203.0.113.7"))
		require.Equal(t, http.StatusForbidden, rec.Code, "attempt %d", i+1)
		assert.Contains(t, rec.Body.String(), "Incorrect password")
	}

	rec := h.do(loginRequest("acme", "q1", "wrong", "203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Too many attempts")

	rec = h.do(loginRequest("acme", "q1", res.Password, "203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "correct password is refused while locked out")

	h.login(t, "acme", "q1", res.Password, "203.0.113.8")
}

func TestLoginLockoutSpansSites(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "acme", "q1", sampleFiles)
	other := h.publish(t, "globex", "deck", sampleFiles)

	for i := 0; i < 10; i++ {
		rec := h.do(loginRequest("acme", "q1", "wrong", "203.0.113.20"))
		require.Equal(t, http.StatusForbidden, rec.Code, "attempt %d", i+1)
	}

	rec := h.do(loginRequest("globex", "deck", other.Password, "203.0.113.20"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "failures on one site lock the client out of every site")

	h.login(t, "globex", "deck", other.Password, "203.0.113.21")
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	h := newHarness(t)
	res := h.publish(t, "acme", "q1", sampleFiles)

	for i := 0; i < 5; i++ {
		rec := h.do(loginRequest("acme", "q1", "wrong", "203.0.113.9"))
		require.Equal(t, http.StatusForbidden, rec.Code)
	}
	h.login(t, "acme", "q1", res.Password, "203.0.113.9")

	for i := 0; i < 10; i++ {
		rec := h.do(loginRequest("acme", "q1", "wrong", "203.0.113.9"))
		require.Equal(t, http.StatusForbidden, rec.Code, "attempt %d after reset", i+1)
	}
	rec := h.do(loginRequest("acme", "q1", "wrong", "203.0.113.9"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestDuplicatePublish(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "acme", "q1", sampleFiles)

	rec := h.api(t, http.MethodPost, "/_api/sites/acme/q1", superToken, map[string]any{
		"title": "Again",
		"files": sampleFiles,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPublishRejectsInvalidBrandTokens(t *testing.T) {
	h := newHarness(t)
	rec := h.api(t, http.MethodPost, "/_api/sites/acme/q1", superToken, map[string]any{
		"title":        "Q1",
		"files":        sampleFiles,
		"brand_tokens": map[string]string{"primary": "red; background:url(x)"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "brand_tokens.primary")

	assert.Equal(t, 0, h.objects.Len())
	rec = h.api(t, http.MethodGet, "/_api/sites/acme/q1", superToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublishRejectsBadRequests(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "http://admin.internal/_api/sites/acme/q1", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+superToken)
	assert.Equal(t, http.StatusBadRequest, h.do(req).Code)

	h.admin.maxBody = 64
	rec := h.api(t, http.MethodPost, "/_api/sites/acme/q1", superToken, map[string]any{
		"title": strings.Repeat("x", 200),
		"files": sampleFiles,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds")

	h.admin.maxBody = 1 << 20
	rec = h.api(t, http.MethodPost, "/_api/sites/Acme/q1", superToken, map[string]any{
		"title": "Q1",
		"files": sampleFiles,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAndDownload(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "acme", "q1", sampleFiles)

	rec := h.api(t, http.MethodPut, "/_api/sites/acme/q1", superToken, map[string]any{
		"files": map[string]string{"index.html": b64("<h1>v2</h1>")},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.api(t, http.MethodGet, "/_api/sites/acme/q1/files", superToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dl sites.Download
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dl))
	assert.Equal(t, b64("<h1>v2</h1>"), dl.Files["index.html"])
	assert.Equal(t, sampleFiles["css/site.css"], dl.Files["css/site.css"])
	assert.Equal(t, "Proposal q1", dl.Metadata.Title)

	rec = h.api(t, http.MethodPut, "/_api/sites/acme/missing", superToken, map[string]any{
		"files": sampleFiles,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSites(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "acme", "q2", sampleFiles)
	h.publish(t, "acme", "q1", sampleFiles)
	h.publish(t, "globex", "deck", sampleFiles)

	rec := h.api(t, http.MethodGet, "/_api/sites", superToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 3, all.Count)

	rec = h.api(t, http.MethodGet, "/_api/sites?brand=acme", superToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var acme listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acme))
	require.Len(t, acme.Sites, 2)
	assert.Equal(t, "q1", acme.Sites[0].Name)
	assert.Equal(t, "q2", acme.Sites[1].Name)

	rec = h.api(t, http.MethodGet, "/_api/sites?brand=nobody", superToken, nil)
	assert.JSONEq(t, `{"sites":[],"count":0}`, rec.Body.String())
}

func TestDeleteSite(t *testing.T) {
	h := newHarness(t)
	res := h.publish(t, "acme", "q1", sampleFiles)
	cookie := h.login(t, "acme", "q1", res.Password, "198.51.100.1")

	rec := h.api(t, http.MethodDelete, "/_api/sites/acme/q1", superToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":"acme/q1","files":2}`, rec.Body.String())
	assert.Equal(t, 0, h.objects.Len())

	rec = h.do(siteRequest(http.MethodGet, "acme", "/q1/", "198.51.100.1", cookie))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.api(t, http.MethodGet, "/_api/sites/acme/q1", superToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.api(t, http.MethodDelete, "/_api/sites/acme/q1", superToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAuthentication(t *testing.T) {
	h := newHarness(t)

	rec := h.api(t, http.MethodGet, "/_api/sites", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.api(t, http.MethodGet, "/_api/sites", "wrong-token", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.api(t, http.MethodPost, "/_api/keys", superToken, map[string]string{"label": "ci"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var key createKeyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &key))
	assert.Equal(t, auth.KeyID(key.Token), key.ID)

	rec = h.api(t, http.MethodGet, "/_api/sites", key.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.api(t, http.MethodPost, "/_api/keys", key.Token, map[string]string{"label": "escalate"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.api(t, http.MethodDelete, "/_api/keys/"+key.ID, key.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.api(t, http.MethodDelete, "/_api/keys/"+key.ID, superToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.api(t, http.MethodGet, "/_api/sites", key.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	h := newHarness(t)
	res := h.publish(t, "acme", "q1", sampleFiles)
	cookie := h.login(t, "acme", "q1", res.Password, "198.51.100.1")

	requests := []*http.Request{
		httptest.NewRequest(http.MethodGet, "http://admin.internal/_health", nil),
		httptest.NewRequest(http.MethodGet, "http://admin.internal/nowhere", nil),
		httptest.NewRequest(http.MethodGet, "http://admin.internal/_api/sites", nil),
		siteRequest(http.MethodGet, "acme", "/q1/", "", nil),
		siteRequest(http.MethodGet, "acme", "/q1/_login", "", nil),
		siteRequest(http.MethodGet, "acme", "/q1/", "198.51.100.1", cookie),
	}
	for _, req := range requests {
		rec := h.do(req)
		hdr := rec.Header()
		assert.Equal(t, "nosniff", hdr.Get("X-Content-Type-Options"), req.URL.String())
		assert.Equal(t, "DENY", hdr.Get("X-Frame-Options"), req.URL.String())
		assert.NotEmpty(t, hdr.Get("Strict-Transport-Security"), req.URL.String())
		assert.Equal(t, "strict-origin-when-cross-origin", hdr.Get("Referrer-Policy"), req.URL.String())
		assert.Equal(t, "camera=(), microphone=(), geolocation=()", hdr.Get("Permissions-Policy"), req.URL.String())
		assert.NotEmpty(t, hdr.Get("X-Request-ID"), req.URL.String())
	}
}

func TestLoginPageCSP(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "acme", "q1", sampleFiles)

	rec := h.do(siteRequest(http.MethodGet, "acme", "/q1/_login", "", nil))
	assert.Equal(t, auth.LoginPageCSP, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(siteRequest(http.MethodGet, "acme", "/_health", "", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRecoverMiddleware(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("database password is hunter2")
	})
	handler := Chain(boom, SecurityHeaders, RequestIDMiddleware, RecoverMiddleware(logger))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Handler panicked", entry.Message)
	requestID := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, requestID)
	assert.Equal(t, requestID, entry.Data["request_id"])
}

func TestRequestThrottle(t *testing.T) {
	throttle := NewRequestThrottle(2, time.Minute, "")
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := throttle.Middleware(ok)

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("192.0.2.10"))
	assert.Equal(t, http.StatusNoContent, send("192.0.2.10"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.10"))
	assert.Equal(t, http.StatusNoContent, send("192.0.2.11"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"too many requests"}`, rec.Body.String())

	throttle.evictIdle(-time.Second)
	assert.Equal(t, http.StatusNoContent, send("192.0.2.10"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", ClientIP(req, ""))
	assert.Equal(t, "192.0.2.1", ClientIP(req, "CF-Connecting-IP"))

	req.Header.Set("CF-Connecting-IP", "203.0.113.50")
	assert.Equal(t, "203.0.113.50", ClientIP(req, "CF-Connecting-IP"))
	assert.Equal(t, "192.0.2.1", ClientIP(req, ""), "header ignored unless configured")

	req.Header.Set("X-Forwarded-For", " 203.0.113.60 , 10.0.0.1")
	assert.Equal(t, "203.0.113.60", ClientIP(req, "X-Forwarded-For"))
}

func TestConditionalGet(t *testing.T) {
	h := newHarness(t)
	res := h.publish(t, "acme", "q1", sampleFiles)
	cookie := h.login(t, "acme", "q1", res.Password, "198.51.100.30")

	rec := h.do(siteRequest(http.MethodGet, "acme", "/q1/css/site.css", "198.51.100.30", cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	for _, header := range []string{
		etag,
		`"stale", ` + etag,
		"W/" + etag,
		"*",
	} {
		req := siteRequest(http.MethodGet, "acme", "/q1/css/site.css", "198.51.100.30", cookie)
		req.Header.Set("If-None-Match", header)
		rec := h.do(req)
		assert.Equal(t, http.StatusNotModified, rec.Code, header)
		assert.Empty(t, rec.Body.String(), header)
	}

	req := siteRequest(http.MethodGet, "acme", "/q1/css/site.css", "198.51.100.30", cookie)
	req.Header.Set("If-None-Match", `"stale", W/"older"`)
	rec = h.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{color:#003366}", rec.Body.String())
}

func TestETagMatches(t *testing.T) {
	const etag = `"abc"`
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`"abc"`, true},
		{`W/"abc"`, true},
		{`"x", "abc"`, true},
		{` "x" ,W/"abc" `, true},
		{"*", true},
		{`"abcd"`, false},
		{`abc`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, etagMatches(tt.header, etag), tt.header)
	}
}
