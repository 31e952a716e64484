package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ptoflow/materials-backend/internal/config"
	"github.com/ptoflow/materials-backend/internal/domain"
	"github.com/ptoflow/materials-backend/internal/repo"
	"github.com/ptoflow/materials-backend/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:routerdb?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// schema so handlers don't explode on list endpoints
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newTestService wires a MaterialsService over the real repo shims. Generator
// and Dispatch stay nil: the router tests never drive a confirm to completion.
func newTestService(db *gorm.DB) *services.MaterialsService {
	requests, counters, cooldowns, objects, settingsRepo := NewRepoShims()
	return &services.MaterialsService{
		DB:        db,
		Store:     requests,
		Counters:  counters,
		Cooldowns: cooldowns,
		Objects:   objects,
		Settings: &services.SettingsService{
			DB:                     db,
			Repo:                   settingsRepo,
			DefaultCooldownMinutes: 0,
			DefaultRecipientEmail:  "review@example.com",
		},
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
	db := newTestDB(t)

	RegisterRoutes(r, newTestService(db), cfg)

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := config.Config{
		APIBasePath: "/api/v2",
		RateRPS:     50,
		RateBurst:   5,
		CORS:        config.CORSConfig{AllowedOrigins: []string{"http://example.com"}},
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
	db := newTestDB(t)

	RegisterRoutes(r, newTestService(db), cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
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

	// Hit all three
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/one", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "one" {
		t.Fatalf("GET /one got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/two", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "two" {
		t.Fatalf("GET /two got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("GET /api/ping got %d %q", rec.Code, rec.Body.String())
	}
}

// Smoke test that a request traverses ratelimit + otel + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{},                                            // allow-all branch
		Security:    config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}, // enabled (but only set on https)
		OTEL:        config.OTELConfig{ServiceName: "svc"},
	}
	db := newTestDB(t)
	RegisterRoutes(r, newTestService(db), cfg)

	// Any request goes through the middleware stack
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	// simulate https so HSTS could be eligible if middleware checks scheme
	req.URL.Scheme = "https"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func Test_requestRepoShim_Proxies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)

	shim := requestRepoShim{}
	ctx := context.Background()

	scope := domain.Scope{Kind: domain.ScopeUser, ID: "u1"}
	nr := repo.NewRequest{
		DraftID:        "draft-shim-1",
		Scope:          scope,
		RequesterID:    "u1",
		RequesterName:  "Tester",
		PSLabel:        "PS-1",
		RequestDate:    time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC),
		RecipientEmail: "review@example.com",
		Items: []domain.MaterialItem{
			{LineNo: 1, Name: "арматура", TypeMark: "d8", Qty: decimal.NewFromInt(300), Unit: "кг"},
		},
	}

	// --- CreateRequest ---
	created, err := shim.CreateRequest(ctx, db, nr)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if created == nil || created.ID == "" || created.Status != domain.StatusDraft {
		t.Fatalf("CreateRequest returned bad row: %+v", created)
	}

	// --- GetByDraftID ---
	got, err := shim.GetByDraftID(ctx, db, "draft-shim-1")
	if err != nil {
		t.Fatalf("GetByDraftID: %v", err)
	}
	if got.DraftID != "draft-shim-1" || len(got.Items) != 1 {
		t.Fatalf("GetByDraftID mismatch: %+v", got)
	}

	// --- ClaimForSending / ReleaseClaim ---
	claimed, err := shim.ClaimForSending(ctx, db, "draft-shim-1", "u1")
	if err != nil || !claimed {
		t.Fatalf("ClaimForSending = (%v, %v), want (true, nil)", claimed, err)
	}
	released, err := shim.ReleaseClaim(ctx, db, "draft-shim-1")
	if err != nil || !released {
		t.Fatalf("ReleaseClaim = (%v, %v), want (true, nil)", released, err)
	}

	// --- AssignNumber while sending ---
	if _, err := shim.ClaimForSending(ctx, db, "draft-shim-1", "u1"); err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if err := shim.AssignNumber(ctx, db, "draft-shim-1", 1, "260221-PS-1-1"); err != nil {
		t.Fatalf("AssignNumber: %v", err)
	}

	// --- MarkSent ---
	sent, err := shim.MarkSent(ctx, db, "draft-shim-1")
	if err != nil || !sent {
		t.Fatalf("MarkSent = (%v, %v), want (true, nil)", sent, err)
	}

	// --- CountRequests / ListRequestsPage ---
	n, err := shim.CountRequests(ctx, db, scope)
	if err != nil {
		t.Fatalf("CountRequests: %v", err)
	}
	if n != 1 {
		t.Fatalf("CountRequests = %d, want 1", n)
	}
	page, err := shim.ListRequestsPage(ctx, db, scope, 0, 10)
	if err != nil {
		t.Fatalf("ListRequestsPage: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("ListRequestsPage len = %d, want 1", len(page))
	}

	// --- MarkFailed / CancelDraft on a second draft ---
	nr2 := nr
	nr2.DraftID = "draft-shim-2"
	if _, err := shim.CreateRequest(ctx, db, nr2); err != nil {
		t.Fatalf("CreateRequest #2: %v", err)
	}
	cancelled, err := shim.CancelDraft(ctx, db, "draft-shim-2", "u1")
	if err != nil || !cancelled {
		t.Fatalf("CancelDraft = (%v, %v), want (true, nil)", cancelled, err)
	}

	// --- ReclaimStale: nothing stuck, zero rows ---
	reclaimed, err := shim.ReclaimStale(ctx, db, time.Now().Add(time.Hour), "STALE_CLAIM", "swept")
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("ReclaimStale = %d, want 0", reclaimed)
	}
}

func Test_supportShims_Proxies(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Counter shim
	counters := counterRepoShim{}
	day := time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC)
	n1, err := counters.IncrementDailyCounter(ctx, db, day, "user:u9")
	if err != nil || n1 != 1 {
		t.Fatalf("IncrementDailyCounter #1 = (%d, %v), want (1, nil)", n1, err)
	}
	n2, err := counters.IncrementDailyCounter(ctx, db, day, "user:u9")
	if err != nil || n2 != 2 {
		t.Fatalf("IncrementDailyCounter #2 = (%d, %v), want (2, nil)", n2, err)
	}

	// Cooldown shim
	cooldowns := cooldownRepoShim{}
	scope := domain.Scope{Kind: domain.ScopeUser, ID: "u9"}
	if entry, err := cooldowns.GetCooldown(ctx, db, scope); err != nil || entry != nil {
		t.Fatalf("GetCooldown empty = (%+v, %v), want (nil, nil)", entry, err)
	}
	at := time.Now().UTC().Truncate(time.Second)
	if err := cooldowns.UpsertCooldown(ctx, db, scope, at); err != nil {
		t.Fatalf("UpsertCooldown: %v", err)
	}
	entry, err := cooldowns.GetCooldown(ctx, db, scope)
	if err != nil || entry == nil {
		t.Fatalf("GetCooldown after upsert = (%+v, %v)", entry, err)
	}

	// Object shim
	objects := objectRepoShim{}
	obj := domain.SiteObject{ID: "obj-1", PSLabel: "ПС 110", PSName: "ПС 110 Заря", LinkedScope: "chat-5"}
	if err := db.Create(&obj).Error; err != nil {
		t.Fatalf("seed object: %v", err)
	}
	found, err := objects.SearchObjects(ctx, db, "Заря", 5)
	if err != nil || len(found) != 1 {
		t.Fatalf("SearchObjects = (%d, %v), want 1 hit", len(found), err)
	}
	linked, err := objects.ListLinkedObjects(ctx, db, "chat-5")
	if err != nil || len(linked) != 1 {
		t.Fatalf("ListLinkedObjects = (%d, %v), want 1 hit", len(linked), err)
	}
	got, err := objects.GetObject(ctx, db, "obj-1")
	if err != nil || got == nil || got.PSLabel != "ПС 110" {
		t.Fatalf("GetObject = (%+v, %v)", got, err)
	}

	// Settings shim
	settings := settingsRepoShim{}
	if err := settings.SetSetting(ctx, db, "k1", "v1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	v, err := settings.GetSetting(ctx, db, "k1")
	if err != nil || v != "v1" {
		t.Fatalf("GetSetting = (%q, %v), want (v1, nil)", v, err)
	}
}
