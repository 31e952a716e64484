// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/ptoflow/materials-backend/internal/config"
	"github.com/ptoflow/materials-backend/internal/domain"
	"github.com/ptoflow/materials-backend/internal/http/handlers"
	"github.com/ptoflow/materials-backend/internal/http/middleware"
	"github.com/ptoflow/materials-backend/internal/repo"
	"github.com/ptoflow/materials-backend/internal/services"
)

// requestRepoShim adapts the repository free functions to the
// services.RequestStore interface expected by the MaterialsService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type requestRepoShim struct{}

// CreateRequest proxies repo.CreateRequest.
func (requestRepoShim) CreateRequest(ctx context.Context, db *gorm.DB, nr repo.NewRequest) (*domain.MaterialRequest, error) {
	return repo.CreateRequest(ctx, db, nr)
}

// GetByDraftID proxies repo.GetByDraftID.
func (requestRepoShim) GetByDraftID(ctx context.Context, db *gorm.DB, draftID string) (*domain.MaterialRequest, error) {
	return repo.GetByDraftID(ctx, db, draftID)
}

// ClaimForSending proxies repo.ClaimForSending.
func (requestRepoShim) ClaimForSending(ctx context.Context, db *gorm.DB, draftID, requesterID string) (bool, error) {
	return repo.ClaimForSending(ctx, db, draftID, requesterID)
}

// ReleaseClaim proxies repo.ReleaseClaim.
func (requestRepoShim) ReleaseClaim(ctx context.Context, db *gorm.DB, draftID string) (bool, error) {
	return repo.ReleaseClaim(ctx, db, draftID)
}

// AssignNumber proxies repo.AssignNumber.
func (requestRepoShim) AssignNumber(ctx context.Context, db *gorm.DB, draftID string, counter int, requestNumber string) error {
	return repo.AssignNumber(ctx, db, draftID, counter, requestNumber)
}

// MarkSent proxies repo.MarkSent.
func (requestRepoShim) MarkSent(ctx context.Context, db *gorm.DB, draftID string) (bool, error) {
	return repo.MarkSent(ctx, db, draftID)
}

// MarkFailed proxies repo.MarkFailed.
func (requestRepoShim) MarkFailed(ctx context.Context, db *gorm.DB, draftID, code, message string) (bool, error) {
	return repo.MarkFailed(ctx, db, draftID, code, message)
}

// CancelDraft proxies repo.CancelDraft.
func (requestRepoShim) CancelDraft(ctx context.Context, db *gorm.DB, draftID, requesterID string) (bool, error) {
	return repo.CancelDraft(ctx, db, draftID, requesterID)
}

// ReclaimStale proxies repo.ReclaimStale.
func (requestRepoShim) ReclaimStale(ctx context.Context, db *gorm.DB, cutoff time.Time, code, message string) (int64, error) {
	return repo.ReclaimStale(ctx, db, cutoff, code, message)
}

// CountRequests proxies repo.CountRequests (pagination support).
func (requestRepoShim) CountRequests(ctx context.Context, db *gorm.DB, scope domain.Scope) (int64, error) {
	return repo.CountRequests(ctx, db, scope)
}

// ListRequestsPage proxies repo.ListRequestsPage (pagination support).
func (requestRepoShim) ListRequestsPage(ctx context.Context, db *gorm.DB, scope domain.Scope, offset, limit int) ([]domain.MaterialRequest, error) {
	return repo.ListRequestsPage(ctx, db, scope, offset, limit)
}

// counterRepoShim adapts the counter free function to services.CounterStore.
type counterRepoShim struct{}

// IncrementDailyCounter proxies repo.IncrementDailyCounter.
func (counterRepoShim) IncrementDailyCounter(ctx context.Context, db *gorm.DB, d time.Time, scope string) (int, error) {
	return repo.IncrementDailyCounter(ctx, db, d, scope)
}

// cooldownRepoShim adapts the cooldown free functions to services.CooldownStore.
type cooldownRepoShim struct{}

// GetCooldown proxies repo.GetCooldown.
func (cooldownRepoShim) GetCooldown(ctx context.Context, db *gorm.DB, scope domain.Scope) (*domain.CooldownEntry, error) {
	return repo.GetCooldown(ctx, db, scope)
}

// UpsertCooldown proxies repo.UpsertCooldown.
func (cooldownRepoShim) UpsertCooldown(ctx context.Context, db *gorm.DB, scope domain.Scope, at time.Time) error {
	return repo.UpsertCooldown(ctx, db, scope, at)
}

// objectRepoShim adapts the object catalog free functions to
// services.ObjectStore.
type objectRepoShim struct{}

// SearchObjects proxies repo.SearchObjects.
func (objectRepoShim) SearchObjects(ctx context.Context, db *gorm.DB, query string, limit int) ([]domain.SiteObject, error) {
	return repo.SearchObjects(ctx, db, query, limit)
}

// ListLinkedObjects proxies repo.ListLinkedObjects.
func (objectRepoShim) ListLinkedObjects(ctx context.Context, db *gorm.DB, scopeID string) ([]domain.SiteObject, error) {
	return repo.ListLinkedObjects(ctx, db, scopeID)
}

// GetObject proxies repo.GetObject.
func (objectRepoShim) GetObject(ctx context.Context, db *gorm.DB, id string) (*domain.SiteObject, error) {
	return repo.GetObject(ctx, db, id)
}

// settingsRepoShim adapts the settings free functions to services.SettingsRepo.
type settingsRepoShim struct{}

// GetSetting proxies repo.GetSetting.
func (settingsRepoShim) GetSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	return repo.GetSetting(ctx, db, key)
}

// SetSetting proxies repo.SetSetting.
func (settingsRepoShim) SetSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	return repo.SetSetting(ctx, db, key, value)
}

// NewRepoShims returns the repo adapters wired into a MaterialsService.
// Exported for cmd/server, which also builds the service for the background
// sweep.
func NewRepoShims() (services.RequestStore, services.CounterStore, services.CooldownStore, services.ObjectStore, services.SettingsRepo) {
	return requestRepoShim{}, counterRepoShim{}, cooldownRepoShim{}, objectRepoShim{}, settingsRepoShim{}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting, CORS
// and security headers, health and metrics endpoints, and then mounts the
// versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per user/IP)
//  8. CORS and Security headers
func RegisterRoutes(r *gin.Engine, svc *services.MaterialsService, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction. Recipient addresses travel in
	// request metadata, so the e-mail scrubber matters here.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-Chat-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-Chat-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(svc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Requests
		api.POST("/requests/preview", h.Preview)
		api.GET("/requests", h.ListRequests)
		api.GET("/requests/:draft_id", h.GetRequest)
		api.POST("/requests/:draft_id/confirm", h.Confirm)
		api.POST("/requests/:draft_id/cancel", h.Cancel)

		// Cooldown
		api.GET("/cooldown", h.Cooldown)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
