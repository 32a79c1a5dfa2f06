// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model:
// lookup, creation, profile edits, quota accounting and the has/hasNot item
// sets.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-lending-backend/internal/domain"
)

// Item set associations on domain.User.
const (
	SetHas    = "Has"
	SetHasNot = "HasNot"
)

// GetUser fetches a user by ID. Returns ErrNotFound when missing.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserWithItems fetches a user with both item sets preloaded.
func GetUserWithItems(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Preload(SetHas).
		Preload(SetHasNot).
		Where("id = ?", id).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts u as-is.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit(SetHas, SetHasNot).Create(u).Error
}

// UpdateUserProfile applies a partial update of profile columns. Returns
// ErrNotFound when no row matched.
func UpdateUserProfile(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeQuota atomically decrements the user's request allowance when it is
// positive. ok is false when the user has no allowance left (or is missing).
func ConsumeQuota(ctx context.Context, db *gorm.DB, userID string) (ok bool, err error) {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND requests_limit > 0", userID).
		Update("requests_limit", gorm.Expr("requests_limit - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddQuota increments the user's request allowance by n. Returns ErrNotFound
// when no row matched.
func AddQuota(ctx context.Context, db *gorm.DB, userID string, n int) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Update("requests_limit", gorm.Expr("requests_limit + ?", n))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AddItemToSet adds item to the named set (SetHas or SetHasNot). Adding an
// item already present is a no-op.
func AddItemToSet(ctx context.Context, db *gorm.DB, userID, set string, item *domain.Item) error {
	return db.WithContext(ctx).
		Model(&domain.User{ID: userID}).
		Omit(set + ".*").
		Association(set).
		Append(item)
}

// RemoveItemFromSet removes item from the named set; absent items are ignored.
func RemoveItemFromSet(ctx context.Context, db *gorm.DB, userID, set string, item *domain.Item) error {
	return db.WithContext(ctx).
		Model(&domain.User{ID: userID}).
		Association(set).
		Delete(item)
}
