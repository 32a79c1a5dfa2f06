// Package services – ItemService
//
// This file implements the item catalog resolver. Free-text item names are
// normalized and mapped to a single canonical Item per case-folded name; the
// first spelling stored wins the display name. Concurrent resolvers of the
// same name converge on one row through the unique lowercase index.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-lending-backend/internal/domain"
)

// ItemRepo defines the repository contract required by ItemService.
type ItemRepo interface {
	// FindItemByLowerName looks an item up by its case-folded name.
	FindItemByLowerName(ctx context.Context, db *gorm.DB, lower string) (*domain.Item, error)

	// CreateItemIfAbsent inserts unless the case-folded name exists and
	// returns the stored row either way.
	CreateItemIfAbsent(ctx context.Context, db *gorm.DB, name, lower string) (*domain.Item, error)

	// SearchItems returns items whose case-folded name contains q.
	SearchItems(ctx context.Context, db *gorm.DB, q string, limit int) ([]domain.Item, error)
}

const (
	defaultItemSearchLimit = 10
	maxItemSearchLimit     = 100
	maxItemNameRunes       = 120
)

// ItemService resolves and searches catalog items.
type ItemService struct {
	DB   *gorm.DB
	Repo ItemRepo

	// Locale drives case folding of names.
	Locale language.Tag
}

// NewItemService constructs an ItemService with locale-neutral folding.
func NewItemService(db *gorm.DB, r ItemRepo) *ItemService {
	return &ItemService{DB: db, Repo: r, Locale: language.Und}
}

// Resolve returns the canonical Item for name, creating it when absent.
func (s *ItemService) Resolve(ctx context.Context, name string) (*domain.Item, error) {
	return s.resolve(ctx, s.DB, name)
}

// resolve runs on db, which may be a transaction.
func (s *ItemService) resolve(ctx context.Context, db *gorm.DB, name string) (*domain.Item, error) {
	name = normalizeItemName(name)
	if name == "" {
		return nil, ErrEmptyItemName
	}
	lower := s.fold(name)

	it, err := s.Repo.FindItemByLowerName(ctx, db, lower)
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find item: %w", err)
	}

	it, err = s.Repo.CreateItemIfAbsent(ctx, db, capitalizeFirst(name), lower)
	if err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return it, nil
}

// Search lists catalog items matching q. limit defaults to 10 and is capped
// at 100.
func (s *ItemService) Search(ctx context.Context, q string, limit int) ([]domain.Item, error) {
	if limit <= 0 {
		limit = defaultItemSearchLimit
	}
	if limit > maxItemSearchLimit {
		limit = maxItemSearchLimit
	}
	q = normalizeItemName(q)
	if q != "" {
		q = s.fold(q)
	}
	items, err := s.Repo.SearchItems(ctx, s.DB, q, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Item{}
	}
	return items, nil
}

func (s *ItemService) fold(name string) string {
	return cases.Lower(s.Locale).String(name)
}

// normalizeItemName trims, collapses inner whitespace and clips the name.
func normalizeItemName(s string) string {
	s = whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
	if utf8.RuneCountInString(s) > maxItemNameRunes {
		s = strings.TrimSpace(string([]rune(s)[:maxItemNameRunes]))
	}
	return s
}

// capitalizeFirst upper-cases the first rune and keeps the rest as typed.
func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
