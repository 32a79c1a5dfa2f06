package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lending-backend/internal/domain"
	"github.com/tbourn/go-lending-backend/internal/utils"
)

// ListItemsResponse wraps catalog search results.
type ListItemsResponse struct {
	Items []domain.Item `json:"items"`
}

// ListItems godoc
// @ID          listItems
// @Summary     Search the item catalog
// @Description Case-insensitive substring match on item names. An empty q lists the catalog.
// @Tags        Items
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       q          query   string  false "Search text"  example(charger)
// @Param       limit      query   int     false "Max results"  minimum(1) maximum(100) default(10)
//
// @Success     200  {object} handlers.ListItemsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /items [get]
func (h *Handlers) ListItems(c *gin.Context) {
	items, err := h.itemSvc.Search(c.Request.Context(), c.Query("q"), utils.AtoiDefault(c.Query("limit"), 0))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	ok(c, http.StatusOK, ListItemsResponse{Items: items})
}
