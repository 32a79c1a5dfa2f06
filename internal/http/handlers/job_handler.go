package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lending-backend/internal/utils"
)

// ClearRequests godoc
// @ID          clearRequests
// @Summary     Expire stale open requests
// @Description Expires every open request at least `hours` old (default 24). Requests in other states are untouched.
// @Tags        Jobs
// @Produce     json
//
// @Param       X-Job-Token  header  string  true  "Maintenance token"
// @Param       hours        query   int     false "Age threshold in hours"  minimum(1) default(24)
//
// @Success     200  {object} services.SweepResult
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid token"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /jobs/clear-requests [post]
func (h *Handlers) ClearRequests(c *gin.Context) {
	hours := utils.AtoiDefault(c.Query("hours"), 0)
	if hours < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "hours must be positive")
		return
	}
	res, err := h.expirySvc.Sweep(c.Request.Context(), hours)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
