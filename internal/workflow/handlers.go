package workflow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for analysis sessions.
type Handler struct {
	service *Service
}

// NewHandler creates a new workflow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up session routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sessions", h.StartSession)
	r.GET("/sessions/:id", h.GetSession)
	r.POST("/sessions/:id/messages", h.PostMessage)
	r.POST("/sessions/:id/intents", h.PostIntent)
	r.DELETE("/sessions/:id", h.DeleteSession)
}

// StartSessionRequest is the POST /v1/sessions body.
type StartSessionRequest struct {
	DatasetHandle string `json:"datasetHandle" binding:"required"`
}

// PostMessageRequest is the POST /v1/sessions/:id/messages body.
type PostMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// StartSession handles POST /v1/sessions
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: datasetHandle is required",
		})
		return
	}

	resp, err := h.service.Start(c.Request.Context(), req.DatasetHandle)
	if err != nil {
		if errors.Is(err, ErrDatasetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "dataset_not_found",
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

	c.JSON(http.StatusCreated, gin.H{"response": resp})
}

// GetSession handles GET /v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	id := c.Param("id")

	sess, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Session not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// PostMessage handles POST /v1/sessions/:id/messages
func (h *Handler) PostMessage(c *gin.Context) {
	id := c.Param("id")

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: message is required",
		})
		return
	}

	resp, err := h.service.HandleMessage(c.Request.Context(), id, req.Message)
	if err != nil {
		h.writeHandleError(c, err, "message_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"response": resp})
}

// PostIntent handles POST /v1/sessions/:id/intents. It accepts a
// pre-classified intent, for callers that run their own classifier.
func (h *Handler) PostIntent(c *gin.Context) {
	id := c.Param("id")

	var intent IntentResult
	if err := c.ShouldBindJSON(&intent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	resp, err := h.service.HandleIntent(c.Request.Context(), id, intent)
	if err != nil {
		h.writeHandleError(c, err, "intent_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"response": resp})
}

// DeleteSession handles DELETE /v1/sessions/:id
func (h *Handler) DeleteSession(c *gin.Context) {
	id := c.Param("id")

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Session not found",
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

func (h *Handler) writeHandleError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	code := fallback
	switch {
	case errors.Is(err, ErrSessionNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrVersionConflict):
		status = http.StatusConflict
		code = "conflict"
	case errors.Is(err, ErrMalformedIntent):
		status = http.StatusBadRequest
		code = "malformed_intent"
	case errors.Is(err, ErrMissingPrerequisite):
		status = http.StatusConflict
		code = "missing_prerequisite"
	case errors.Is(err, ErrDatasetNotFound):
		status = http.StatusNotFound
		code = "dataset_not_found"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
