package journey

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mbd888/mevguard/internal/pagination"
	"github.com/mbd888/mevguard/internal/validation"
)

// Handler serves archived journeys.
type Handler struct {
	store Store
}

// NewHandler creates a journey handler backed by store.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up journey routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/journeys", h.List)
	r.GET("/journeys/:id", validation.UUIDParamMiddleware("id"), h.Get)
}

// Get handles GET /v1/journeys/:id
func (h *Handler) Get(c *gin.Context) {
	id := uuid.MustParse(c.Param("id"))
	j, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Journey not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load journey",
		})
		return
	}
	c.JSON(http.StatusOK, j)
}

// List handles GET /v1/journeys?state=&limit=&cursor=
func (h *Handler) List(c *gin.Context) {
	var filter ListFilter
	if s := c.Query("state"); s != "" {
		filter.State = State(s)
		if !filter.State.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_state",
				"message": "Unknown journey state " + strconv.Quote(s),
			})
			return
		}
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		filter.Limit = n
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err == nil && cursor != nil {
		_, err = uuid.Parse(cursor.ID)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}
	filter.After = cursor

	pageSize := min(filter.limit(), MaxListLimit)
	filter.Limit = pageSize + 1

	journeys, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list journeys",
		})
		return
	}
	journeys, next := pagination.Page(journeys, pageSize, cursorKey)

	resp := gin.H{"journeys": journeys, "count": len(journeys)}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
