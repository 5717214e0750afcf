package scheduler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for execution control and queries.
type Handler struct {
	controller *Controller
}

// NewHandler creates a new scheduler handler.
func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// RegisterRoutes sets up execution routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/executions", h.SubmitManual)
	r.POST("/executions/emergency", h.SubmitEmergency)
	r.GET("/executions", h.ListExecutions)
	r.GET("/executions/running", h.ListRunning)
	r.GET("/executions/:id", h.GetExecution)
	r.GET("/scheduler/health", h.GetHealth)
}

type submitRequest struct {
	Date  string `json:"date" binding:"required"`
	Force bool   `json:"force"`
}

// SubmitManual handles POST /v1/executions
func (h *Handler) SubmitManual(c *gin.Context) {
	h.submit(c, TypeManual)
}

// SubmitEmergency handles POST /v1/executions/emergency
func (h *Handler) SubmitEmergency(c *gin.Context) {
	h.submit(c, TypeEmergency)
}

func (h *Handler) submit(c *gin.Context, execType ExecutionType) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_date",
			"message": "date must be YYYY-MM-DD",
		})
		return
	}

	exec, err := h.controller.Submit(c.Request.Context(), execType, date, req.Force)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"execution_id": exec.ID,
		"execution":    exec,
	})
}

// GetExecution handles GET /v1/executions/:id
func (h *Handler) GetExecution(c *gin.Context) {
	exec, err := h.controller.Execution(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrExecutionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No execution with this id",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"execution": exec})
}

// ListExecutions handles GET /v1/executions?days=
func (h *Handler) ListExecutions(c *gin.Context) {
	days := 7
	if d := c.Query("days"); d != "" {
		if parsed, err := strconv.Atoi(d); err == nil && parsed > 0 {
			days = parsed
		}
	}

	executions, err := h.controller.History(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": executions,
		"count":      len(executions),
	})
}

// ListRunning handles GET /v1/executions/running
func (h *Handler) ListRunning(c *gin.Context) {
	executions, err := h.controller.Running(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions": executions,
		"count":      len(executions),
	})
}

// GetHealth handles GET /v1/scheduler/health
func (h *Handler) GetHealth(c *gin.Context) {
	health, err := h.controller.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"health": health})
}
