package recon

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return n, nil
}

// Handler provides HTTP endpoints for reconciliation outcomes and trends.
type Handler struct {
	service *Service
}

// NewHandler creates a new reconciliation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up reconciliation read routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/outcomes", h.ListOutcomes)
	r.GET("/outcomes/:platform/:date", h.GetOutcome)
	r.GET("/platforms/:platform/trend", h.GetTrend)
	r.GET("/platforms/:platform/history", h.GetHistory)
}

// GetOutcome handles GET /v1/outcomes/:platform/:date
func (h *Handler) GetOutcome(c *gin.Context) {
	platform := c.Param("platform")
	date := c.Param("date")

	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_date",
			"message": "date must be YYYY-MM-DD",
		})
		return
	}

	outcome, err := h.service.Outcome(c.Request.Context(), platform, date)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No outcome recorded for this platform and date",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// ListOutcomes handles GET /v1/outcomes?date=YYYY-MM-DD
func (h *Handler) ListOutcomes(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = DateKey(time.Now().AddDate(0, 0, -1))
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_date",
			"message": "date must be YYYY-MM-DD",
		})
		return
	}

	outcomes, err := h.service.OutcomesByDate(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":     date,
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}

// GetTrend handles GET /v1/platforms/:platform/trend
func (h *Handler) GetTrend(c *gin.Context) {
	platform := c.Param("platform")

	trend, err := h.service.Trend(c.Request.Context(), platform)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trend": trend})
}

// GetHistory handles GET /v1/platforms/:platform/history
func (h *Handler) GetHistory(c *gin.Context) {
	platform := c.Param("platform")

	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := parsePositive(l); err == nil {
			limit = parsed
		}
	}

	history, err := h.service.History(c.Request.Context(), platform, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"platform": platform,
		"outcomes": history,
		"count":    len(history),
	})
}
