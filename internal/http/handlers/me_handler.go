package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lending-backend/internal/services"
)

// GetMe godoc
// @ID          getMe
// @Summary     Current user profile
// @Description Includes remaining quota and the items the user has or declined.
// @Tags        Profile
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"
//
// @Success     200  {object} domain.User
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /me [get]
func (h *Handlers) GetMe(c *gin.Context) {
	u, err := h.userSvc.Get(c.Request.Context(), actor(c).UserID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// UpdateMe godoc
// @ID          updateMe
// @Summary     Edit the current user profile
// @Description Omitted fields are left unchanged. The location drives proximity ordering of open requests.
// @Tags        Profile
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       body       body    services.ProfileUpdate  true  "Profile edits"
//
// @Success     200  {object} domain.User
// @Failure     400  {object} handlers.ErrorResponse "Invalid profile"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /me [patch]
func (h *Handlers) UpdateMe(c *gin.Context) {
	var upd services.ProfileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.userSvc.UpdateProfile(c.Request.Context(), actor(c), upd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}
