// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts the handlers depend on, the
// Handlers aggregate, and helpers shared by every endpoint (caller identity,
// pagination, weak ETags and idempotent replays).
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-lending-backend/internal/domain"
	"github.com/tbourn/go-lending-backend/internal/http/middleware"
	"github.com/tbourn/go-lending-backend/internal/repo"
	"github.com/tbourn/go-lending-backend/internal/services"
	"github.com/tbourn/go-lending-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RequestService defines the request lifecycle consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RequestService interface {
	Create(ctx context.Context, actor services.Actor, itemName string) (*domain.Request, error)
	Get(ctx context.Context, requestID string) (*domain.Request, error)
	Respond(ctx context.Context, actor services.Actor, requestID string, hasItem *bool) error
	Close(ctx context.Context, actor services.Actor, requestID string, successful *bool) (*domain.Request, error)
	Cancel(ctx context.Context, actor services.Actor, requestID string) error
	ListOpen(ctx context.Context, actor services.Actor, page, pageSize int) ([]domain.Request, int64, error)
	ListMine(ctx context.Context, actor services.Actor, page, pageSize int) ([]domain.Request, int64, error)
	ListDealing(ctx context.Context, actor services.Actor, page, pageSize int) ([]domain.Request, int64, error)
}

// MessageService defines participant messaging on a request.
type MessageService interface {
	Send(ctx context.Context, actor services.Actor, requestID, content string) (*domain.Message, error)
	ListPage(ctx context.Context, actor services.Actor, requestID string, page, pageSize int) ([]domain.Message, int64, error)
}

// ItemService defines catalog lookups.
type ItemService interface {
	Search(ctx context.Context, q string, limit int) ([]domain.Item, error)
}

// UserService defines profile reads and edits.
type UserService interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	UpdateProfile(ctx context.Context, actor services.Actor, upd services.ProfileUpdate) (*domain.User, error)
}

// ExpiryService defines the maintenance sweep.
type ExpiryService interface {
	Sweep(ctx context.Context, hours int) (services.SweepResult, error)
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers.
type Services struct {
	Requests RequestService
	Messages MessageService
	Items    ItemService
	Users    UserService
	Expiry   ExpiryService
}

// Handlers groups HTTP endpoints for requests, messages, items, profiles and
// jobs. It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	reqSvc    RequestService
	msgSvc    MessageService
	itemSvc   ItemService
	userSvc   UserService
	expirySvc ExpiryService

	// IdempotencyTTL is how long stored POST results stay replayable.
	IdempotencyTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(s Services) *Handlers {
	return &Handlers{
		reqSvc:         s.Requests,
		msgSvc:         s.Messages,
		itemSvc:        s.Items,
		userSvc:        s.Users,
		expirySvc:      s.Expiry,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// actor returns the caller identity set by the auth middleware.
func actor(c *gin.Context) services.Actor {
	return services.UserActor(middleware.UserID(c))
}

//
// DTOs shared by list endpoints
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and limit query params to sane
// defaults and limits, returning (page, pageSize). page_size is accepted as an
// alias of limit.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 30
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = defaultPage
	}
	size := c.Query("limit")
	if size == "" {
		size = c.Query("page_size")
	}
	pageSize = utils.Clamp(utils.AtoiDefault(size, defaultPageSize), 1, maxPageSize)
	return
}

// storeOf returns the database behind a concrete service, or nil for fakes.
// It is used for best-effort ETag and idempotency bookkeeping.
func storeOf(svc any) *gorm.DB {
	switch s := svc.(type) {
	case *services.RequestService:
		return s.DB
	case *services.MessageService:
		return s.DB
	}
	return nil
}

// weakETag sets a weak ETag built from a collection's size and latest update
// and reports whether the client copy is current (a 304 was written).
func weakETag(c *gin.Context, kind, scope string, stats func() (int64, *time.Time, error)) bool {
	count, maxTS, err := stats()
	if err != nil {
		return false
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, scope, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// replayed looks up a stored result for the current Idempotency-Key and, when
// found, loads it with load. It reports the prior resource and status.
func replayed[T any](c *gin.Context, db *gorm.DB, load func(ctx context.Context, id string) (T, error)) (res T, status int, hit bool) {
	key, okKey := middleware.GetIdempotencyKey(c)
	if !okKey || db == nil {
		return res, 0, false
	}
	ctx := c.Request.Context()
	rec, err := repo.GetIdempotency(ctx, db, middleware.UserID(c), middleware.IdempotencyScope(c), key, time.Now().UTC())
	if err != nil || rec == nil {
		return res, 0, false
	}
	prev, err := load(ctx, rec.ResourceID)
	if err != nil {
		return res, 0, false
	}
	c.Header("Idempotency-Replayed", "true")
	return prev, rec.Status, true
}

// remember stores the created resource for the current Idempotency-Key.
// Failures only cost replayability and are logged.
func (h *Handlers) remember(c *gin.Context, db *gorm.DB, resourceID string, status int) {
	key, okKey := middleware.GetIdempotencyKey(c)
	if !okKey || db == nil {
		return
	}
	_, err := repo.CreateIdempotency(c.Request.Context(), db, middleware.UserID(c), middleware.IdempotencyScope(c), key, resourceID, status, h.IdempotencyTTL)
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency record")
	}
}
