// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, identity, idempotency, and rate
// limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Caller identity resolved once, before idempotency and rate limiting
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-lending-backend/docs"
	"github.com/tbourn/go-lending-backend/internal/config"
	"github.com/tbourn/go-lending-backend/internal/http/handlers"
	"github.com/tbourn/go-lending-backend/internal/http/middleware"
	"github.com/tbourn/go-lending-backend/internal/lock"
	"github.com/tbourn/go-lending-backend/internal/repo"
	"github.com/tbourn/go-lending-backend/internal/services"
)

// Deps carries the optional infrastructure the router cannot build from
// config alone. Zero values select in-process fallbacks.
type Deps struct {
	// Locker serializes transitions per request (nil → in-process lock).
	Locker services.Locker

	// Identity enriches first-seen users (nil → no enrichment).
	Identity services.ProfileFetcher

	// Redis backs the shared rate limiter when set.
	Redis redis.UniversalClient
}

// corsAllowHeaders lists request headers browsers may send cross-origin.
var corsAllowHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	middleware.HeaderUserID, middleware.HeaderIdentityToken,
	middleware.HeaderIdempotencyKey, "If-None-Match",
}

var corsExposeHeaders = []string{
	"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotency-Replayed",
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression, CORS
// and security headers, health, metrics and Swagger endpoints, and then
// mounts the lending API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. Compression
//  2. OpenTelemetry: trace everything
//  3. RequestID: generate/propagate correlation id
//  4. Access logging (redacting when LOG_REDACT is on)
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. CORS and Security headers
//
// The API group then adds, in order: Auth (identity + user provisioning),
// idempotency validation (before rate limiting to allow bypass on replay),
// and the rate limiter.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, deps Deps) {
	r.HandleMethodNotAllowed = true

	// 1) Compress JSON responses; metrics scrape is left alone
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 2) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 3) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 4) Structured access logs
	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key"},
		}))
	} else {
		r.Use(middleware.Logger())
	}

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) CORS posture and security headers
	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStorePaths: []string{joinPath(cfg.APIBasePath, "/me")},
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

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/locker/identity
	svcs, users := NewServices(db, cfg, deps)
	h := handlers.New(svcs)
	if cfg.IdempotencyTTL > 0 {
		h.IdempotencyTTL = cfg.IdempotencyTTL
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Auth(middleware.AuthOptions{
		Ensure: func(ctx context.Context, userID, token string) error {
			_, err := users.Ensure(ctx, userID, token)
			return err
		},
		OnError: handlers.WriteServiceError,
	}))
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))
	api.Use(rateLimiter(cfg, deps.Redis))
	{
		// Requests
		api.POST("/requests", h.CreateRequest)
		api.GET("/requests", h.ListOpenRequests)
		api.GET("/requests/:id", h.GetRequest)
		api.POST("/requests/:id/respond", h.RespondRequest)
		api.POST("/requests/:id/close", h.CloseRequest)
		api.POST("/requests/:id/cancel", h.CancelRequest)

		// Messages
		api.POST("/requests/:id/messages", h.PostMessage)
		api.GET("/requests/:id/messages", h.ListMessages)

		// Caller
		api.GET("/me", h.GetMe)
		api.PATCH("/me", h.UpdateMe)
		api.GET("/me/requests", h.ListMyRequests)
		api.GET("/me/dealing", h.ListDealingRequests)

		// Catalog
		api.GET("/items", h.ListItems)
	}

	// Scheduler hooks are disabled unless a job token is configured.
	if cfg.Lending.JobToken != "" {
		jobs := r.Group("/jobs", middleware.JobToken(cfg.Lending.JobToken))
		jobs.POST("/clear-requests", h.ClearRequests)
	}
}

// NewServices builds the service layer over db. The returned UserService is
// the provisioning hook used by the Auth middleware.
func NewServices(db *gorm.DB, cfg config.Config, deps Deps) (handlers.Services, *services.UserService) {
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewMemory()
	}
	items := services.NewItemService(db, repo.ItemStore{})
	users := &services.UserService{
		DB:            db,
		Identity:      deps.Identity,
		RequestsLimit: cfg.Lending.RequestsLimit,
	}
	reqs := services.NewRequestService(db, items, locker)
	reqs.LockWait = cfg.Lending.LockWait
	return handlers.Services{
		Requests: reqs,
		Messages: &services.MessageService{DB: db, MaxContentRunes: cfg.Lending.MaxMessageRunes},
		Items:    items,
		Users:    users,
		Expiry:   &services.ExpiryService{DB: db},
	}, users
}

// rateLimiter picks the shared Redis window limiter when a client is
// available, else the in-process token bucket.
func rateLimiter(cfg config.Config, rdb redis.UniversalClient) gin.HandlerFunc {
	if rdb != nil {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateRPS)
		}
		return middleware.NewRedisRateLimiter(rdb, burst, time.Second, middleware.KeyByCaller()).Handler()
	}
	return middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByCaller()).Handler()
}

// useCORS installs gin-contrib/cors. With no allowlist every origin is
// accepted without credentials; otherwise allowed origins are echoed.
func useCORS(r *gin.Engine, origins []string) {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     corsAllowHeaders,
		ExposeHeaders:    corsExposeHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		base.AllowAllOrigins = true
		r.Use(cors.New(base))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
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
	base.AllowOrigins = origins
	r.Use(cors.New(base))
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

// joinPath appends p to the API base, treating "/" (or empty) as root.
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
