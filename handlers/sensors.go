package handlers

import (
	"net/http"

	"agranova/models"
	"agranova/services"

	"github.com/gin-gonic/gin"
)

const defaultHistoryPeriod = "24h"

func (h *Handler) deviceFrom(c *gin.Context) string {
	return c.DefaultQuery("deviceId", h.defaultDevice)
}

// GetLatestSensorData returns the newest reading of a device
func (h *Handler) GetLatestSensorData(c *gin.Context) {
	reading, err := h.store.LatestReading(c.Request.Context(), h.deviceFrom(c))
	if err != nil {
		h.failWith(c, err, "No sensor data found")
		return
	}
	ok(c, http.StatusOK, reading)
}

// GetSensorHistory returns readings within the requested period, oldest first
func (h *Handler) GetSensorHistory(c *gin.Context) {
	window, err := services.ParsePeriod(c.DefaultQuery("period", defaultHistoryPeriod))
	if err != nil {
		h.failWith(c, err, "")
		return
	}

	readings, err := h.store.ReadingsSince(c.Request.Context(), h.deviceFrom(c), h.clock.Now().Add(-window))
	if err != nil {
		h.failWith(c, err, "")
		return
	}
	okList(c, readings)
}

// CreateSensorData ingests a reading pushed by a device
func (h *Handler) CreateSensorData(c *gin.Context) {
	var in models.ReadingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	reading, err := in.ToReading(h.defaultDevice, h.clock.Now())
	if err != nil {
		h.failWith(c, err, "")
		return
	}

	stored, _, err := h.pipeline.Ingest(c.Request.Context(), reading, services.SourceAPI)
	if err != nil {
		h.failWith(c, err, "")
		return
	}
	ok(c, http.StatusCreated, stored)
}
