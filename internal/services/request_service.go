// Package services – RequestService
//
// This file implements the lending request lifecycle:
//
//	open ──respond──▶ dealing ──close──▶ closed
//	  │  ◀──cancel───┘
//	  ├──close──▶ closed
//	  └──sweep──▶ expired
//
// Every state change for a request runs while holding that request's lock
// and commits with a compare-and-set on (state, version), so two racing
// writers can never both win. Quota accounting happens in the same
// transaction as the state change it belongs to.
//
// Observability: all public methods are OpenTelemetry-instrumented and state
// changes are logged through the request-scoped zerolog logger.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-lending-backend/internal/domain"
	"github.com/tbourn/go-lending-backend/internal/lock"
	"github.com/tbourn/go-lending-backend/internal/repo"
	"github.com/tbourn/go-lending-backend/internal/utils"
)

const (
	defaultListLimit = 30
	maxListLimit     = 100

	// DefaultLockWait bounds how long a transition waits for the request lock.
	DefaultLockWait = 5 * time.Second
)

// RequestService owns request creation, transitions and listings.
type RequestService struct {
	DB    *gorm.DB
	Items *ItemService
	Locks Locker

	// LockWait caps lock acquisition; a timeout surfaces as
	// lock.ErrNotAcquired. Zero means DefaultLockWait.
	LockWait time.Duration
}

// NewRequestService wires a RequestService. A nil locker falls back to an
// in-process lock.
func NewRequestService(db *gorm.DB, items *ItemService, locks Locker) *RequestService {
	if locks == nil {
		locks = lock.NewMemory()
	}
	return &RequestService{DB: db, Items: items, Locks: locks}
}

var requestTracer = otel.Tracer("services/RequestService")

// Create opens a request for itemName on behalf of actor, consuming one unit
// of the actor's quota.
func (s *RequestService) Create(ctx context.Context, actor Actor, itemName string) (*domain.Request, error) {
	ctx, span := requestTracer.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", actor.UserID)),
	)
	defer span.End()

	if normalizeItemName(itemName) == "" {
		return nil, ErrEmptyItemName
	}

	var created *domain.Request
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := repo.ConsumeQuota(ctx, tx, actor.UserID)
		if err != nil {
			return fmt.Errorf("consume quota: %w", err)
		}
		if !ok {
			return ErrQuotaExceeded
		}
		item, err := s.Items.resolve(ctx, tx, itemName)
		if err != nil {
			return err
		}
		created, err = repo.CreateRequest(ctx, tx, actor.UserID, item.ID)
		if err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	requestsCreated.Inc()
	span.SetAttributes(attribute.String("request.id", created.ID))
	zerolog.Ctx(ctx).Info().
		Str("request_id", created.ID).
		Str("item_id", created.ItemID).
		Msg("request created")

	return s.get(ctx, created.ID)
}

// Get returns a single request with author, item and helper.
func (s *RequestService) Get(ctx context.Context, requestID string) (*domain.Request, error) {
	ctx, span := requestTracer.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("request.id", requestID)),
	)
	defer span.End()
	return s.get(ctx, requestID)
}

func (s *RequestService) get(ctx context.Context, requestID string) (*domain.Request, error) {
	r, err := repo.GetRequest(ctx, s.DB, requestID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	return r, nil
}

// Respond records the actor's answer to an open request. hasItem defaults to
// true when nil. Offering moves the request to dealing with the actor as
// helper; declining only updates the actor's item sets.
func (s *RequestService) Respond(ctx context.Context, actor Actor, requestID string, hasItem *bool) error {
	has := hasItem == nil || *hasItem
	ctx, span := requestTracer.Start(ctx, "Respond",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("user.id", actor.UserID),
			attribute.Bool("has_item", has),
		),
	)
	defer span.End()

	unlock, err := s.lock(ctx, requestID)
	if err != nil {
		return err
	}
	defer unlock()

	r, err := s.get(ctx, requestID)
	if err != nil {
		return err
	}
	if r.State != domain.StateOpen || r.AuthorID == actor.UserID {
		return ErrRequestNotFound
	}
	item := r.Item
	if item == nil {
		if item, err = repo.GetItem(ctx, s.DB, r.ItemID); err != nil {
			return fmt.Errorf("load item: %w", err)
		}
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !has {
			if err := repo.RemoveItemFromSet(ctx, tx, actor.UserID, repo.SetHas, item); err != nil {
				return err
			}
			return repo.AddItemToSet(ctx, tx, actor.UserID, repo.SetHasNot, item)
		}

		if err := repo.RemoveItemFromSet(ctx, tx, actor.UserID, repo.SetHasNot, item); err != nil {
			return err
		}
		if err := repo.AddItemToSet(ctx, tx, actor.UserID, repo.SetHas, item); err != nil {
			return err
		}
		// The helper writes a request it does not author.
		return s.commit(ctx, tx, actor.Elevate(), r, domain.StateDealing, map[string]any{
			"helper_id": actor.UserID,
		})
	})
	if err != nil {
		return err
	}

	if has {
		s.transitioned(ctx, r, domain.StateDealing)
	}
	return nil
}

// Close finishes a request. successful defaults to true when nil. A
// successful close credits the helper one unit of quota; an unsuccessful one
// clears the helper.
func (s *RequestService) Close(ctx context.Context, actor Actor, requestID string, successful *bool) (*domain.Request, error) {
	ok := successful == nil || *successful
	ctx, span := requestTracer.Start(ctx, "Close",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("user.id", actor.UserID),
			attribute.Bool("successful", ok),
		),
	)
	defer span.End()

	unlock, err := s.lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.State.Terminal() {
		return nil, ErrAlreadyClosed
	}
	if r.AuthorID != actor.UserID && !actor.Elevated {
		return nil, ErrUnauthorized
	}

	fields := map[string]any{
		"successful": ok,
		"closed_at":  time.Now().UTC(),
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ok && r.HelperID != nil {
			if err := s.creditQuota(ctx, tx, actor.Elevate(), *r.HelperID); err != nil {
				return err
			}
		}
		if !ok {
			fields["helper_id"] = nil
		}
		return s.commit(ctx, tx, actor, r, domain.StateClosed, fields)
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, r, domain.StateClosed)
	return s.get(ctx, requestID)
}

// Cancel returns a dealing request to open and clears its helper. Either
// participant may cancel.
func (s *RequestService) Cancel(ctx context.Context, actor Actor, requestID string) error {
	ctx, span := requestTracer.Start(ctx, "Cancel",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("user.id", actor.UserID),
		),
	)
	defer span.End()

	unlock, err := s.lock(ctx, requestID)
	if err != nil {
		return err
	}
	defer unlock()

	r, err := s.get(ctx, requestID)
	if err != nil {
		return err
	}
	if !r.IsParticipant(actor.UserID) {
		return ErrUnauthorized
	}
	if r.State != domain.StateDealing {
		return ErrRequestNotFound
	}

	if err := s.commit(ctx, s.DB.WithContext(ctx), actor.Elevate(), r, domain.StateOpen, map[string]any{
		"helper_id": nil,
	}); err != nil {
		return err
	}
	s.transitioned(ctx, r, domain.StateOpen)
	return nil
}

// ListOpen returns open requests the actor could help with. When the actor
// has a location, nearer authors come first.
func (s *RequestService) ListOpen(ctx context.Context, actor Actor, page, pageSize int) ([]domain.Request, int64, error) {
	ctx, span := requestTracer.Start(ctx, "ListOpen",
		trace.WithAttributes(
			attribute.String("user.id", actor.UserID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	offset, limit := pageWindow(page, pageSize)

	var near *repo.GeoPoint
	if u, err := repo.GetUser(ctx, s.DB, actor.UserID); err == nil && u.HasLocation() {
		near = &repo.GeoPoint{Lat: *u.Lat, Lng: *u.Lng}
	} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, 0, fmt.Errorf("load actor: %w", err)
	}
	span.SetAttributes(attribute.Bool("proximity", near != nil))

	total, err := repo.CountOpenRequests(ctx, s.DB, actor.UserID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Request{}, 0, nil
	}
	items, err := repo.ListOpenRequestsPage(ctx, s.DB, actor.UserID, near, offset, limit)
	return items, total, err
}

// ListMine returns every request the actor authored, oldest first.
func (s *RequestService) ListMine(ctx context.Context, actor Actor, page, pageSize int) ([]domain.Request, int64, error) {
	ctx, span := requestTracer.Start(ctx, "ListMine",
		trace.WithAttributes(
			attribute.String("user.id", actor.UserID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	offset, limit := pageWindow(page, pageSize)
	total, err := repo.CountAuthoredRequests(ctx, s.DB, actor.UserID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Request{}, 0, nil
	}
	items, err := repo.ListAuthoredRequestsPage(ctx, s.DB, actor.UserID, offset, limit)
	return items, total, err
}

// ListDealing returns dealing requests where the actor is author or helper,
// least recently updated first.
func (s *RequestService) ListDealing(ctx context.Context, actor Actor, page, pageSize int) ([]domain.Request, int64, error) {
	ctx, span := requestTracer.Start(ctx, "ListDealing",
		trace.WithAttributes(
			attribute.String("user.id", actor.UserID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	offset, limit := pageWindow(page, pageSize)
	total, err := repo.CountDealingRequests(ctx, s.DB, actor.UserID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Request{}, 0, nil
	}
	items, err := repo.ListDealingRequestsPage(ctx, s.DB, actor.UserID, offset, limit)
	return items, total, err
}

// commit applies a state change observed at r.Version. Writes to a request
// the actor does not author require an elevated actor.
func (s *RequestService) commit(ctx context.Context, tx *gorm.DB, actor Actor, r *domain.Request, to domain.RequestState, fields map[string]any) error {
	if r.AuthorID != actor.UserID && !actor.Elevated {
		return ErrUnauthorized
	}
	if !r.State.CanTransition(to) {
		return ErrConflict
	}
	fields["state"] = to
	err := repo.TransitionRequest(ctx, tx, r.ID, r.State, r.Version, fields)
	if errors.Is(err, repo.ErrStale) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("transition request: %w", err)
	}
	return nil
}

// creditQuota gives userID one more request. Only elevated actors may touch
// another user's quota.
func (s *RequestService) creditQuota(ctx context.Context, tx *gorm.DB, actor Actor, userID string) error {
	if !actor.Elevated && actor.UserID != userID {
		return ErrUnauthorized
	}
	if err := repo.AddQuota(ctx, tx, userID, 1); err != nil {
		return fmt.Errorf("credit quota: %w", err)
	}
	return nil
}

func (s *RequestService) transitioned(ctx context.Context, r *domain.Request, to domain.RequestState) {
	requestTransitions.WithLabelValues(to.String()).Inc()
	zerolog.Ctx(ctx).Info().
		Str("request_id", r.ID).
		Str("from", r.State.String()).
		Str("to", to.String()).
		Msg("request transition")
}

func lockKey(requestID string) string { return "request:" + requestID }

// lock takes the request lock, waiting at most LockWait. The deadline only
// covers acquisition; ctx still governs the work done under the lock.
func (s *RequestService) lock(ctx context.Context, requestID string) (func(), error) {
	wait := s.LockWait
	if wait <= 0 {
		wait = DefaultLockWait
	}
	lctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	unlock, err := s.Locks.Lock(lctx, lockKey(requestID))
	if err != nil {
		return nil, fmt.Errorf("lock request: %w", err)
	}
	return unlock, nil
}

// pageWindow converts page/pageSize to offset/limit with defaults and caps.
func pageWindow(page, pageSize int) (offset, limit int) {
	return utils.PageWindow(page, pageSize, defaultListLimit, maxListLimit)
}
