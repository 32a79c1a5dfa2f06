package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-lending-backend/internal/config"
	"github.com/tbourn/go-lending-backend/internal/http/middleware"
	"github.com/tbourn/go-lending-backend/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:router_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Lending: config.LendingConfig{
			RequestsLimit:   3,
			MaxMessageRunes: 2000,
			SweepHours:      24,
		},
		IdempotencyTTL: time.Hour,
	}
}

func newEngine(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), cfg, Deps{})
	return r
}

func send(r http.Handler, method, path, user string, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r := newEngine(t, testConfig())

	// /health works
	w := send(r, http.MethodGet, "/health", "", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = send(r, http.MethodGet, "/metrics", "", "", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = send(r, http.MethodGet, "/nope", "", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = send(r, http.MethodPost, "/health", "", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r := newEngine(t, cfg)

	w := send(r, http.MethodGet, "/health", "", "", map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_APIRequiresUser(t *testing.T) {
	r := newEngine(t, testConfig())

	w := send(r, http.MethodGet, "/api/v1/requests", "", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous GET /requests = %d, want 401", w.Code)
	}
}

func TestRegisterRoutes_LendingFlow(t *testing.T) {
	r := newEngine(t, testConfig())

	w := send(r, http.MethodPost, "/api/v1/requests", "alice", `{"item":"power drill"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d body=%s", w.Code, w.Body.String())
	}
	var created struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.ID == "" {
		t.Fatalf("decode created: %v body=%s", err, w.Body.String())
	}

	// bob sees it in the open feed
	w = send(r, http.MethodGet, "/api/v1/requests", "bob", "", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(created.ID)) {
		t.Fatalf("open list = %d body=%s", w.Code, w.Body.String())
	}

	// bob offers the item, then both can message
	w = send(r, http.MethodPost, "/api/v1/requests/"+created.ID+"/respond", "bob", `{"hasItem":true}`, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("respond = %d body=%s", w.Code, w.Body.String())
	}
	w = send(r, http.MethodPost, "/api/v1/requests/"+created.ID+"/messages", "alice", `{"content":"tomorrow?"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("message = %d body=%s", w.Code, w.Body.String())
	}

	// an outsider cannot read the thread
	w = send(r, http.MethodGet, "/api/v1/requests/"+created.ID+"/messages", "carol", "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("outsider messages = %d, want 403", w.Code)
	}

	w = send(r, http.MethodPost, "/api/v1/requests/"+created.ID+"/close", "alice", `{"successful":true}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("close = %d body=%s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodGet, "/api/v1/items?q=drill", "bob", "", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("Power drill")) {
		t.Fatalf("items = %d body=%s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_MeIsNoStore(t *testing.T) {
	r := newEngine(t, testConfig())

	w := send(r, http.MethodGet, "/api/v1/me", "alice", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /me = %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", got)
	}
}

func TestRegisterRoutes_JobsDisabledWithoutToken(t *testing.T) {
	r := newEngine(t, testConfig())

	w := send(r, http.MethodPost, "/jobs/clear-requests", "", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("jobs without token configured = %d, want 404", w.Code)
	}
}

func TestRegisterRoutes_JobsGuardedByToken(t *testing.T) {
	cfg := testConfig()
	cfg.Lending.JobToken = "s3cret"
	r := newEngine(t, cfg)

	w := send(r, http.MethodPost, "/jobs/clear-requests", "", "", map[string]string{middleware.HeaderJobToken: "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", w.Code)
	}

	w = send(r, http.MethodPost, "/jobs/clear-requests?hours=1", "", "", map[string]string{middleware.HeaderJobToken: "s3cret"})
	if w.Code != http.StatusOK {
		t.Fatalf("good token = %d body=%s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"expired":0`)) {
		t.Fatalf("unexpected sweep body: %s", w.Body.String())
	}
}

func TestRegisterRoutes_RateLimitedPerUser(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r := newEngine(t, cfg)

	if w := send(r, http.MethodGet, "/api/v1/items", "alice", "", nil); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	w := send(r, http.MethodGet, "/api/v1/items", "alice", "", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	// other users have their own bucket
	if w := send(r, http.MethodGet, "/api/v1/items", "bob", "", nil); w.Code != http.StatusOK {
		t.Fatalf("bob = %d", w.Code)
	}
	// browsing does not use up alice's write budget
	if w := send(r, http.MethodPost, "/api/v1/requests", "alice", `{"item":"drill"}`, nil); w.Code != http.StatusCreated {
		t.Fatalf("alice write = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	r := newEngine(t, testConfig())

	w := send(r, http.MethodGet, "/health", "", "", map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
}

func TestRegisterRoutes_SwaggerToggle(t *testing.T) {
	r := newEngine(t, testConfig())
	if w := send(r, http.MethodGet, "/swagger/index.html", "", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger disabled = %d, want 404", w.Code)
	}

	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r = newEngine(t, cfg)
	if w := send(r, http.MethodGet, "/swagger/index.html", "", "", nil); w.Code != http.StatusOK {
		t.Fatalf("swagger enabled = %d, want 200", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func Test_joinPath(t *testing.T) {
	cases := []struct{ base, p, want string }{
		{"", "/me", "/me"},
		{"/", "/me", "/me"},
		{"/api/v1", "/me", "/api/v1/me"},
	}
	for _, tc := range cases {
		if got := joinPath(tc.base, tc.p); got != tc.want {
			t.Fatalf("joinPath(%q,%q)=%q want %q", tc.base, tc.p, got, tc.want)
		}
	}
}
