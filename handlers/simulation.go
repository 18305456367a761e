package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSimulation reports whether the reading generator is running
func (h *Handler) GetSimulation(c *gin.Context) {
	ok(c, http.StatusOK, h.generator.Status())
}

// StartSimulation starts the reading generator
func (h *Handler) StartSimulation(c *gin.Context) {
	if !h.generator.Start(h.ctx) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Sensor simulation already running",
			"data":    h.generator.Status(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Sensor simulation started",
		"data":    h.generator.Status(),
	})
}

// StopSimulation stops the reading generator; pending auto-off timers still fire
func (h *Handler) StopSimulation(c *gin.Context) {
	h.generator.Stop()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Sensor simulation stopped",
		"data":    h.generator.Status(),
	})
}
