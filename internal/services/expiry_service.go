// Package services – ExpiryService
//
// This file implements the periodic sweep that expires open requests nobody
// picked up in time. It is driven by the cron scheduler in cmd/server and by
// the POST /jobs/clear-requests endpoint.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-lending-backend/internal/repo"
)

// DefaultExpiryHours applies when Sweep is called with hours <= 0.
const DefaultExpiryHours = 24

// SweepResult summarizes a sweep.
type SweepResult struct {
	Expired int    `json:"expired"`
	Message string `json:"message"`
}

// ExpiryService expires stale open requests.
type ExpiryService struct {
	DB *gorm.DB

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Sweep expires every open request at least hours old. Requests in any other
// state are untouched, so running it twice in a row is a no-op the second
// time.
func (s *ExpiryService) Sweep(ctx context.Context, hours int) (SweepResult, error) {
	if hours <= 0 {
		hours = DefaultExpiryHours
	}
	tr := otel.Tracer("services/ExpiryService")
	ctx, span := tr.Start(ctx, "Sweep",
		trace.WithAttributes(attribute.Int("hours", hours)),
	)
	defer span.End()

	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)
	n, err := repo.ExpireOpenRequests(ctx, s.DB, cutoff)
	if err != nil {
		return SweepResult{}, fmt.Errorf("expire requests: %w", err)
	}
	span.SetAttributes(attribute.Int64("expired", n))

	if n == 0 {
		return SweepResult{Message: "nothing to expire"}, nil
	}
	requestsExpired.Add(float64(n))
	requestTransitions.WithLabelValues("expired").Add(float64(n))
	zerolog.Ctx(ctx).Info().Int64("expired", n).Time("cutoff", cutoff).Msg("requests expired")

	return SweepResult{Expired: int(n), Message: fmt.Sprintf("expired %d requests", n)}, nil
}

// PurgeIdempotency drops idempotency records whose retry window has passed.
func (s *ExpiryService) PurgeIdempotency(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredIdempotency(ctx, s.DB, s.now())
}

func (s *ExpiryService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
