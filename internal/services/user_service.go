// Package services – UserService
//
// This file implements the identity enrichment hook: the first time a caller
// is seen, a User row is created with the default request allowance and,
// when an identity provider is configured, a name and photo pulled from it.
// Later calls are no-ops. It also serves profile reads and edits.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-lending-backend/internal/domain"
	"github.com/tbourn/go-lending-backend/internal/identity"
	"github.com/tbourn/go-lending-backend/internal/repo"
)

// DefaultRequestsLimit is the allowance granted to new users.
const DefaultRequestsLimit = 3

// ProfileFetcher resolves an access token to a provider profile.
type ProfileFetcher interface {
	Profile(ctx context.Context, token string) (*identity.Profile, error)
}

// UserService creates and edits users.
type UserService struct {
	DB *gorm.DB

	// Identity is optional; nil disables enrichment.
	Identity ProfileFetcher

	// RequestsLimit seeds new users. Zero grants no requests; callers
	// normally pass config.LendingConfig.RequestsLimit.
	RequestsLimit int
}

// Location is a latitude/longitude pair in degrees.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ProfileUpdate carries optional profile edits; nil fields are left alone.
type ProfileUpdate struct {
	Genre    *string   `json:"genre,omitempty"`
	Course   *string   `json:"course,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Ensure returns the user for userID, creating it on first sight.
func (s *UserService) Ensure(ctx context.Context, userID, token string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Ensure",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}

	u = &domain.User{ID: userID, RequestsLimit: s.requestsLimit()}
	if s.Identity != nil && strings.TrimSpace(token) != "" {
		p, err := s.Identity.Profile(ctx, token)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("identity lookup failed")
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		u.ProviderID = p.ProviderID
		u.Name = p.Name
		u.Photo = p.Photo
	}

	if err := repo.CreateUser(ctx, s.DB, u); err != nil {
		// Lost a race with a concurrent first request for the same user.
		if existing, gerr := repo.GetUser(ctx, s.DB, userID); gerr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("user_id", userID).Bool("enriched", u.ProviderID != "").Msg("user created")
	return u, nil
}

// Get returns the user with both item sets.
func (s *UserService) Get(ctx context.Context, userID string) (*domain.User, error) {
	u, err := repo.GetUserWithItems(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// UpdateProfile applies upd to the actor's own profile.
func (s *UserService) UpdateProfile(ctx context.Context, actor Actor, upd ProfileUpdate) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "UpdateProfile",
		trace.WithAttributes(attribute.String("user.id", actor.UserID)),
	)
	defer span.End()

	fields := map[string]any{}
	if upd.Genre != nil {
		fields["genre"] = clipRunes(strings.TrimSpace(*upd.Genre), 32)
	}
	if upd.Course != nil {
		fields["course"] = clipRunes(strings.TrimSpace(*upd.Course), 128)
	}
	if loc := upd.Location; loc != nil {
		if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
			return nil, ErrInvalidProfile
		}
		fields["lat"] = loc.Lat
		fields["lng"] = loc.Lng
	}

	if err := repo.UpdateUserProfile(ctx, s.DB, actor.UserID, fields); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.Get(ctx, actor.UserID)
}

// requestsLimit is the quota granted to new users. Zero is a valid setting
// and provisions users who cannot open requests until topped up.
func (s *UserService) requestsLimit() int {
	if s.RequestsLimit < 0 {
		return 0
	}
	return s.RequestsLimit
}

func clipRunes(s string, max int) string {
	if r := []rune(s); len(r) > max {
		return string(r[:max])
	}
	return s
}
