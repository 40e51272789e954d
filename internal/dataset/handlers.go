package dataset

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/wardflow/internal/metrics"
	"github.com/mbd888/wardflow/internal/tpr"
)

// Handler provides HTTP endpoints for dataset management.
type Handler struct {
	store Store
}

// NewHandler creates a new dataset handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up dataset routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/datasets", h.Upload)
	r.GET("/datasets", h.List)
	r.GET("/datasets/:handle", h.Get)
	r.DELETE("/datasets/:handle", h.Delete)
}

// UploadRequest is the POST /v1/datasets body.
type UploadRequest struct {
	Name    string               `json:"name"`
	Records []tpr.FacilityRecord `json:"records" binding:"required"`
}

// Upload handles POST /v1/datasets
func (h *Handler) Upload(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	d, err := New(req.Name, req.Records)
	if err != nil {
		status := http.StatusBadRequest
		code := "upload_failed"
		switch {
		case errors.Is(err, ErrNoRecords):
			code = "no_records"
		case errors.Is(err, ErrTooManyRecords):
			status = http.StatusRequestEntityTooLarge
			code = "too_many_records"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	if err := h.store.Create(c.Request.Context(), d); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	metrics.DatasetsUploadedTotal.Inc()
	c.JSON(http.StatusCreated, gin.H{"dataset": d})
}

// Get handles GET /v1/datasets/:handle
func (h *Handler) Get(c *gin.Context) {
	handle := c.Param("handle")

	d, err := h.store.Get(c.Request.Context(), handle)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Dataset not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dataset": d})
}

// List handles GET /v1/datasets
func (h *Handler) List(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50, 200)

	datasets, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"datasets": datasets,
		"count":    len(datasets),
	})
}

// Delete handles DELETE /v1/datasets/:handle
func (h *Handler) Delete(c *gin.Context) {
	handle := c.Param("handle")

	if err := h.store.Delete(c.Request.Context(), handle); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Dataset not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func parseLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}
