// Request HTTP handlers.
//
// This file exposes REST endpoints for lending requests:
//   - POST /requests                (open a request, consumes quota)
//   - GET  /requests                (open requests the caller could help with)
//   - GET  /requests/{id}           (single request)
//   - POST /requests/{id}/respond   (offer or decline)
//   - POST /requests/{id}/close     (author finishes the request)
//   - POST /requests/{id}/cancel    (participant returns a deal to open)
//   - GET  /me/requests             (requests the caller authored, ETag support)
//   - GET  /me/dealing              (requests the caller is dealing on)
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lending-backend/internal/domain"
	"github.com/tbourn/go-lending-backend/internal/repo"
	"github.com/tbourn/go-lending-backend/internal/services"
)

//
// DTOs
//

// CreateRequestRequest is the JSON payload for opening a request.
type CreateRequestRequest struct {
	// Item is the free-text name of the wanted item.
	Item string `json:"item" binding:"required" example:"phone charger"`
}

// RespondRequest is the JSON payload for answering an open request.
type RespondRequest struct {
	// HasItem defaults to true. false records that the caller does not have it.
	HasItem *bool `json:"hasItem,omitempty" example:"true"`
}

// CloseRequestRequest is the JSON payload for closing a request.
type CloseRequestRequest struct {
	// Successful defaults to true.
	Successful *bool `json:"successful,omitempty" example:"true"`
}

// ListRequestsResponse wraps a page of requests and pagination information.
type ListRequestsResponse struct {
	Requests   []domain.Request `json:"requests"`
	Pagination Pagination       `json:"pagination"`
}

// bindOptionalJSON binds an optional body; an empty body leaves dst untouched.
// Chunked requests carry no length, so an empty one only shows up as io.EOF.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}

//
// Handlers
//

// CreateRequest godoc
// @ID          createRequest
// @Summary     Open a lending request
// @Description Resolves the item name against the catalog and opens a request, consuming one unit of quota.
// @Description Supports idempotency via the Idempotency-Key header (same key → same request).
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "Caller identity"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateRequestRequest  true  "Request payload"
//
// @Success     201  {object}  domain.Request
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	db := storeOf(h.reqSvc)
	if prev, status, hit := replayed(c, db, h.reqSvc.Get); hit {
		ok(c, status, prev)
		return
	}

	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item required")
		return
	}

	r, err := h.reqSvc.Create(c.Request.Context(), actor(c), req.Item)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	h.remember(c, db, r.ID, http.StatusCreated)
	created(c, c.Request.URL.Path+"/"+r.ID, r)
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Get a request
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       id         path    string  true  "Request ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Request
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Router      /requests/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	r, err := h.reqSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// ListOpenRequests godoc
// @ID          listOpenRequests
// @Summary     List open requests
// @Description Open requests by other users. Nearer authors come first when the caller has a location.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       page       query   int     false "Page number"     minimum(1) default(1)
// @Param       limit      query   int     false "Items per page"  minimum(1) maximum(100) default(30)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListOpenRequests(c *gin.Context) {
	h.listRequests(c, h.reqSvc.ListOpen)
}

// ListMyRequests godoc
// @ID          listMyRequests
// @Summary     List my requests
// @Description Every request the caller authored, in any state. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID      header  string  true  "Caller identity"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       limit          query   int     false "Items per page"  minimum(1) maximum(100) default(30)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /me/requests [get]
func (h *Handlers) ListMyRequests(c *gin.Context) {
	if db := storeOf(h.reqSvc); db != nil {
		uid := actor(c).UserID
		page, pageSize := clampPagination(c)
		scope := uid + ":" + strconv.Itoa(page) + ":" + strconv.Itoa(pageSize)
		if weakETag(c, "requests", scope, func() (int64, *time.Time, error) {
			return repo.AuthoredRequestsStats(c.Request.Context(), db, uid)
		}) {
			return
		}
	}
	h.listRequests(c, h.reqSvc.ListMine)
}

// ListDealingRequests godoc
// @ID          listDealingRequests
// @Summary     List my deals
// @Description Requests in dealing where the caller is author or helper, least recently updated first.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       page       query   int     false "Page number"     minimum(1) default(1)
// @Param       limit      query   int     false "Items per page"  minimum(1) maximum(100) default(30)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /me/dealing [get]
func (h *Handlers) ListDealingRequests(c *gin.Context) {
	h.listRequests(c, h.reqSvc.ListDealing)
}

type listFunc func(ctx context.Context, actor services.Actor, page, pageSize int) ([]domain.Request, int64, error)

func (h *Handlers) listRequests(c *gin.Context, list listFunc) {
	page, pageSize := clampPagination(c)
	items, total, err := list(c.Request.Context(), actor(c), page, pageSize)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, ListRequestsResponse{
		Requests:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// RespondRequest godoc
// @ID          respondRequest
// @Summary     Answer an open request
// @Description hasItem=true (default) makes the caller the helper and moves the request to dealing.
// @Description hasItem=false records that the caller does not have the item.
// @Tags        Requests
// @Accept      json
//
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       id         path    string  true  "Request ID (UUID)"  format(uuid)
// @Param       body       body    handlers.RespondRequest  false  "Answer"
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Request not open"
// @Failure     409  {object} handlers.ErrorResponse "Concurrent change"
// @Router      /requests/{id}/respond [post]
func (h *Handlers) RespondRequest(c *gin.Context) {
	var req RespondRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if err := h.reqSvc.Respond(c.Request.Context(), actor(c), c.Param("id"), req.HasItem); err != nil {
		writeServiceError(c, err)
		return
	}
	noContent(c)
}

// CloseRequest godoc
// @ID          closeRequest
// @Summary     Close a request
// @Description Only the author may close. A successful close credits the helper one request.
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       id         path    string  true  "Request ID (UUID)"  format(uuid)
// @Param       body       body    handlers.CloseRequestRequest  false  "Outcome"
//
// @Success     200  {object} domain.Request
// @Failure     403  {object} handlers.ErrorResponse "Not the author"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     409  {object} handlers.ErrorResponse "Already closed"
// @Router      /requests/{id}/close [post]
func (h *Handlers) CloseRequest(c *gin.Context) {
	var req CloseRequestRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	r, err := h.reqSvc.Close(c.Request.Context(), actor(c), c.Param("id"), req.Successful)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// CancelRequest godoc
// @ID          cancelRequest
// @Summary     Cancel a deal
// @Description Either participant returns a dealing request to open and clears the helper.
// @Tags        Requests
//
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       id         path    string  true  "Request ID (UUID)"  format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     403  {object} handlers.ErrorResponse "Not a participant"
// @Failure     404  {object} handlers.ErrorResponse "Request not dealing"
// @Router      /requests/{id}/cancel [post]
func (h *Handlers) CancelRequest(c *gin.Context) {
	if err := h.reqSvc.Cancel(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	noContent(c)
}
