package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MindCtrl01/template-backend/models"
)

// ErrorAdminStore is the error-store surface the admin endpoints use.
type ErrorAdminStore interface {
	Statistics(ctx context.Context) (*models.ErrorStatistics, error)
	MarkResolved(ctx context.Context, id, resolution string) error
}

type ErrorHandler struct {
	store  ErrorAdminStore
	logger *zap.Logger
}

func NewErrorHandler(store ErrorAdminStore, logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{store: store, logger: logger}
}

// Statistics handles GET /api/payment-errors/statistics.
func (h *ErrorHandler) Statistics(c *gin.Context) {
	stats, err := h.store.Statistics(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load error statistics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Resolve handles POST /api/payment-errors/:id/resolve.
func (h *ErrorHandler) Resolve(c *gin.Context) {
	var body struct {
		Resolution string `json:"resolution" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolution is required"})
		return
	}

	id := c.Param("id")
	if err := h.store.MarkResolved(c.Request.Context(), id, body.Resolution); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "error record not found or already resolved"})
			return
		}
		h.logger.Error("Failed to resolve payment error", zap.String("error_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "error resolved", "id": id})
}
