// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Request
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Lifecycle rules live in
// services.RequestService.
//
// Error semantics:
//   - When a request is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Conditional state changes that match no row return ErrStale.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - CreateRequest(ctx, db, authorID, itemID) -> *domain.Request, error
//     Inserts an open request with version 1.
//
//   - GetRequest(ctx, db, id) -> *domain.Request, error
//     Fetches a request with Author, Item and Helper preloaded.
//
//   - GetRequestForParticipant(ctx, db, id, userID) -> *domain.Request, error
//     Fetches a request only if userID is its author or helper.
//
//   - TransitionRequest(ctx, db, id, from, version, fields) -> error
//     Compare-and-set update on (state, version); bumps version.
//
//   - ListOpenRequestsPage / ListAuthoredRequestsPage / ListDealingRequestsPage
//     Paginated listings, each paired with a Count* function.
//
//   - ExpireOpenRequests(ctx, db, cutoff) -> (int64, error)
//     Batch-expires open requests created at or before cutoff.
package repo

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-lending-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStale is returned when a conditional update finds the row in a different
// state or version than the caller observed.
var ErrStale = errors.New("stale request version")

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// CreateRequest inserts a new open Request authored by authorID for itemID.
func CreateRequest(ctx context.Context, db *gorm.DB, authorID, itemID string) (*domain.Request, error) {
	now := time.Now().UTC()
	r := &domain.Request{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		ItemID:    itemID,
		State:     domain.StateOpen,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

func withRequestAssociations(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Author").Preload("Item").Preload("Helper")
}

// GetRequest fetches a request by ID with its associations preloaded.
func GetRequest(ctx context.Context, db *gorm.DB, id string) (*domain.Request, error) {
	var r domain.Request
	err := withRequestAssociations(db.WithContext(ctx)).
		Where("id = ?", id).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRequestForParticipant fetches a request only when userID is its author
// or its assigned helper. Any other case, including a missing request,
// yields ErrNotFound.
func GetRequestForParticipant(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Request, error) {
	var r domain.Request
	err := db.WithContext(ctx).
		Where("id = ? AND (author_id = ? OR helper_id = ?)", id, userID, userID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// TransitionRequest applies fields to request id only when it is still in
// state from at the given version, and bumps the version. It returns
// ErrStale if no row matched.
func TransitionRequest(ctx context.Context, db *gorm.DB, id string, from domain.RequestState, version int64, fields map[string]any) error {
	upd := map[string]any{
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		upd[k] = v
	}
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id = ? AND state = ? AND version = ?", id, from, version).
		Updates(upd)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStale
	}
	return nil
}

// CountOpenRequests counts open requests not authored by excludeUserID.
func CountOpenRequests(ctx context.Context, db *gorm.DB, excludeUserID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("state = ? AND author_id <> ?", domain.StateOpen, excludeUserID).
		Count(&total).Error
	return total, err
}

// ListOpenRequestsPage returns open requests not authored by excludeUserID.
// When near is set, requests are ordered by the author's distance to near
// (authors without a location last), then by creation time descending.
// Without near the order is creation time descending.
//
// Distance uses an equirectangular approximation, which preserves ordering
// well at city scale.
func ListOpenRequestsPage(ctx context.Context, db *gorm.DB, excludeUserID string, near *GeoPoint, offset, limit int) ([]domain.Request, error) {
	var out []domain.Request
	tx := withRequestAssociations(db.WithContext(ctx)).
		Model(&domain.Request{}).
		Where("requests.state = ? AND requests.author_id <> ?", domain.StateOpen, excludeUserID)

	const byRecency = "requests.created_at DESC, requests.id ASC"
	if near != nil {
		k := math.Cos(near.Lat * math.Pi / 180)
		k *= k
		tx = tx.
			Joins("JOIN users AS authors ON authors.id = requests.author_id").
			Select("requests.*").
			Order(clause.OrderBy{Expression: clause.Expr{
				SQL: "CASE WHEN authors.lat IS NULL OR authors.lng IS NULL THEN 1 ELSE 0 END ASC, " +
					"(authors.lat - ?) * (authors.lat - ?) + (authors.lng - ?) * (authors.lng - ?) * ? ASC, " +
					byRecency,
				Vars:               []any{near.Lat, near.Lat, near.Lng, near.Lng, k},
				WithoutParentheses: true,
			}})
	} else {
		tx = tx.Order(byRecency)
	}

	err := tx.
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountAuthoredRequests counts every request authored by userID.
func CountAuthoredRequests(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("author_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListAuthoredRequestsPage returns requests authored by userID in any state,
// oldest first.
func ListAuthoredRequestsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Request, error) {
	var out []domain.Request
	err := withRequestAssociations(db.WithContext(ctx)).
		Where("author_id = ?", userID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func dealingScope(tx *gorm.DB, userID string) *gorm.DB {
	return tx.Where("state = ? AND (author_id = ? OR helper_id = ?)", domain.StateDealing, userID, userID)
}

// CountDealingRequests counts dealing requests userID takes part in.
func CountDealingRequests(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := dealingScope(db.WithContext(ctx).Model(&domain.Request{}), userID).
		Count(&total).Error
	return total, err
}

// ListDealingRequestsPage returns dealing requests where userID is author or
// helper, least recently updated first.
func ListDealingRequestsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Request, error) {
	var out []domain.Request
	err := dealingScope(withRequestAssociations(db.WithContext(ctx)), userID).
		Order("updated_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ExpireOpenRequests moves every open request created at or before cutoff to
// expired in a single statement and returns the number of rows changed.
func ExpireOpenRequests(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("state = ? AND created_at <= ?", domain.StateOpen, cutoff).
		Updates(map[string]any{
			"state":      domain.StateExpired,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
