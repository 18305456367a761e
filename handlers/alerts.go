package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const alertListLimit = 50

// GetAlerts returns the newest alerts
func (h *Handler) GetAlerts(c *gin.Context) {
	alerts, err := h.store.ListAlerts(c.Request.Context(), alertListLimit)
	if err != nil {
		h.failWith(c, err, "")
		return
	}
	okList(c, alerts)
}

// MarkAlertRead flags a single alert as read
func (h *Handler) MarkAlertRead(c *gin.Context) {
	alert, err := h.store.MarkAlertRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.failWith(c, err, "Alert not found")
		return
	}
	ok(c, http.StatusOK, alert)
}

// MarkAllAlertsRead flags every unread alert as read
func (h *Handler) MarkAllAlertsRead(c *gin.Context) {
	if _, err := h.store.MarkAllAlertsRead(c.Request.Context()); err != nil {
		h.failWith(c, err, "")
		return
	}
	okMessage(c, "All alerts marked as read")
}

// DeleteAlert removes an alert
func (h *Handler) DeleteAlert(c *gin.Context) {
	if err := h.store.DeleteAlert(c.Request.Context(), c.Param("id")); err != nil {
		h.failWith(c, err, "Alert not found")
		return
	}
	okMessage(c, "Alert deleted")
}
