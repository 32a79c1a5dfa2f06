// Package services – MessageService
//
// This file implements MessageService, the gate for notes exchanged between a
// request's author and its helper. Only those two participants may read or
// write, and only once a helper is assigned may anything be sent.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include request/user identifiers and pagination parameters where applicable.

package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-lending-backend/internal/domain"
	"github.com/tbourn/go-lending-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxContentRunes caps message length when MaxContentRunes is unset.
const DefaultMaxContentRunes = 2000

// MessageService coordinates participant-only messaging on requests.
type MessageService struct {
	DB *gorm.DB

	// MaxContentRunes caps message length (0 → DefaultMaxContentRunes).
	MaxContentRunes int
}

// Send stores content from actor on requestID.
func (s *MessageService) Send(ctx context.Context, actor Actor, requestID, content string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("user.id", actor.UserID),
		),
	)
	defer span.End()

	content = normalizeContent(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > s.maxRunes() {
		return nil, ErrContentTooLong
	}

	r, err := repo.GetRequestForParticipant(ctx, s.DB, requestID, actor.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	if r.HelperID == nil {
		return nil, ErrMissingHelper
	}

	m, err := repo.CreateMessage(ctx, s.DB, r.ID, actor.UserID, content)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	messagesSent.Inc()
	return m, nil
}

// ListPage returns paginated messages for a request, oldest first.
func (s *MessageService) ListPage(ctx context.Context, actor Actor, requestID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	offset, limit := pageWindow(page, pageSize)

	if _, err := repo.GetRequestForParticipant(ctx, s.DB, requestID, actor.UserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrUnauthorized
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(ctx, s.DB, requestID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(ctx, s.DB, requestID, offset, limit)
	return items, total, err
}

func (s *MessageService) maxRunes() int {
	if s.MaxContentRunes > 0 {
		return s.MaxContentRunes
	}
	return DefaultMaxContentRunes
}

// blankLinesRE matches runs of three or more newlines.
var blankLinesRE = regexp.MustCompile(`\n{3,}`)

// normalizeContent unifies line endings, collapses long blank runs and trims.
func normalizeContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = blankLinesRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
