package handlers

import (
	"net/http"
	"strconv"

	"agranova/services"

	"github.com/gin-gonic/gin"
)

// GetIrrigationConfig returns the irrigation configuration
func (h *Handler) GetIrrigationConfig(c *gin.Context) {
	cfg, err := h.controller.GetConfig(c.Request.Context())
	if err != nil {
		h.failWith(c, err, "")
		return
	}
	ok(c, http.StatusOK, cfg)
}

// UpdateIrrigationConfig applies a partial configuration update
func (h *Handler) UpdateIrrigationConfig(c *gin.Context) {
	var upd services.ConfigUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	cfg, err := h.controller.UpdateConfig(c.Request.Context(), upd, principalFrom(c))
	if err != nil {
		h.failWith(c, err, "")
		return
	}
	ok(c, http.StatusOK, cfg)
}

// ControlPump switches the pump on or off, optionally with an auto-off timer
func (h *Handler) ControlPump(c *gin.Context) {
	var cmd services.PumpCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	res, err := h.controller.ControlPump(c.Request.Context(), cmd, principalFrom(c))
	if err != nil {
		h.failWith(c, err, "No sensor data available")
		return
	}

	data := gin.H{
		"pumpStatus": res.Reading.PumpStatus,
		"message":    res.Message,
		"reading":    res.Reading,
	}
	if res.AutoOffAt != nil {
		data["autoOffAt"] = res.AutoOffAt
	}
	ok(c, http.StatusOK, data)
}

// GetIrrigationStats aggregates pump usage over a period
func (h *Handler) GetIrrigationStats(c *gin.Context) {
	stats, err := h.controller.Stats(c.Request.Context(), c.Query("deviceId"), c.DefaultQuery("period", services.DefaultStatsPeriod))
	if err != nil {
		h.failWith(c, err, "")
		return
	}
	ok(c, http.StatusOK, stats)
}

// GetSystemLogs returns the newest audit entries of a system
func (h *Handler) GetSystemLogs(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	logs, err := h.controller.Logs(c.Request.Context(), c.Query("systemId"), limit)
	if err != nil {
		h.failWith(c, err, "")
		return
	}
	okList(c, logs)
}
