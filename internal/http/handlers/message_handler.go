// Message HTTP handlers.
//
// This file exposes REST endpoints for notes between a request's participants:
//   - POST /requests/{id}/messages   (send a note)
//   - GET  /requests/{id}/messages   (list paginated notes, ETag support)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, request, key), the handler returns that recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lending-backend/internal/domain"
	"github.com/tbourn/go-lending-backend/internal/repo"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a note.
//
// Content is normalized by the service (line endings and excessive blank
// lines), which also enforces a maximum rune count.
type PostMessageRequest struct {
	// Content is the note text. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"I can drop it off at the library at 5pm."`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a note on a request
// @Description Only the author and the assigned helper may write, and only once a helper is assigned.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Caller identity"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Request ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     409  {object}  handlers.ErrorResponse  "No helper yet"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	db := storeOf(h.msgSvc)

	if prev, status, hit := replayed(c, db, func(ctx context.Context, id string) (*domain.Message, error) {
		return repo.GetMessage(ctx, db, id)
	}); hit {
		ok(c, status, prev)
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	m, err := h.msgSvc.Send(ctx, actor(c), c.Param("id"), req.Content)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	h.remember(c, db, m.ID, http.StatusCreated)
	created(c, "", m)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List notes on a request
// @Description Returns a paginated list of notes, oldest first. Participants only.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID      header  string  true  "Caller identity"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       id             path    string  true  "Request ID (UUID)"  format(uuid)
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       limit          query   int     false "Items per page"  minimum(1) maximum(100) default(30)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     403  {object} handlers.ErrorResponse "Not a participant"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := c.Param("id")
	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListPage(ctx, actor(c), requestID, page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	// The ETag is checked after the participant gate so outsiders never
	// learn whether a conversation changed.
	if db := storeOf(h.msgSvc); db != nil {
		scope := requestID + ":" + strconv.Itoa(page) + ":" + strconv.Itoa(pageSize)
		if weakETag(c, "messages", scope, func() (int64, *time.Time, error) {
			return repo.MessagesStats(ctx, db, requestID)
		}) {
			return
		}
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}
