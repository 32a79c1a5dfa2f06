// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Item
// catalog.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-lending-backend/internal/domain"
)

// GetItem fetches an item by ID.
func GetItem(ctx context.Context, db *gorm.DB, id string) (*domain.Item, error) {
	var it domain.Item
	if err := db.WithContext(ctx).Where("id = ?", id).First(&it).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// FindItemByLowerName looks an item up by its case-folded name.
func FindItemByLowerName(ctx context.Context, db *gorm.DB, lower string) (*domain.Item, error) {
	var it domain.Item
	err := db.WithContext(ctx).
		Where("name_lowercase = ?", lower).
		First(&it).Error
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// CreateItemIfAbsent inserts an item unless one with the same case-folded
// name already exists, then returns the stored row. Concurrent callers with
// equal names all receive the same row.
func CreateItemIfAbsent(ctx context.Context, db *gorm.DB, name, lower string) (*domain.Item, error) {
	it := &domain.Item{
		ID:            uuid.NewString(),
		Name:          name,
		NameLowercase: lower,
		CreatedAt:     time.Now().UTC(),
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name_lowercase"}},
			DoNothing: true,
		}).
		Create(it).Error
	if err != nil {
		return nil, err
	}
	return FindItemByLowerName(ctx, db, lower)
}

// SearchItems returns items whose case-folded name contains q, ordered by
// name. An empty q lists the catalog.
func SearchItems(ctx context.Context, db *gorm.DB, q string, limit int) ([]domain.Item, error) {
	var out []domain.Item
	tx := db.WithContext(ctx).Model(&domain.Item{})
	if q = strings.TrimSpace(q); q != "" {
		tx = tx.Where(`name_lowercase LIKE ? ESCAPE '\'`, "%"+escapeLike(q)+"%")
	}
	err := tx.Order("name ASC, id ASC").Limit(limit).Find(&out).Error
	return out, err
}

// likeEscaper escapes LIKE wildcards and the escape character for use with
// ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// ItemStore exposes the item functions as a value satisfying
// services.ItemRepo.
type ItemStore struct{}

func (ItemStore) FindItemByLowerName(ctx context.Context, db *gorm.DB, lower string) (*domain.Item, error) {
	return FindItemByLowerName(ctx, db, lower)
}

func (ItemStore) CreateItemIfAbsent(ctx context.Context, db *gorm.DB, name, lower string) (*domain.Item, error) {
	return CreateItemIfAbsent(ctx, db, name, lower)
}

func (ItemStore) SearchItems(ctx context.Context, db *gorm.DB, q string, limit int) ([]domain.Item, error) {
	return SearchItems(ctx, db, q, limit)
}
