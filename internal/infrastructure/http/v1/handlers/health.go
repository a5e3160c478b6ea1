package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	store  Pinger
	driver string
	depth  func() int
	info   func() map[string]any
}

// NewHealthHandler creates a new health handler. depth and info may be nil.
func NewHealthHandler(store Pinger, driver string, depth func() int, info func() map[string]any) *HealthHandler {
	return &HealthHandler{store: store, driver: driver, depth: depth, info: info}
}

// Live reports whether the process is up.
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready reports whether the store can be reached.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"checks": map[string]string{
				"store": "unhealthy: " + err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"checks": map[string]string{
			"store": "healthy",
		},
	})
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	resp := gin.H{
		"app":    "barcodeseq",
		"driver": h.driver,
	}
	if h.depth != nil {
		resp["queue_depth"] = h.depth()
	}
	if h.info != nil {
		resp["store"] = h.info()
	}
	c.JSON(http.StatusOK, resp)
}
