package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"agranova/database"
	"agranova/models"
	"agranova/services"
	"agranova/websocket"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Handler contains all the dependencies needed for HTTP handlers
type Handler struct {
	ctx           context.Context
	store         *database.Gateway
	hub           *websocket.Hub
	pipeline      *services.Pipeline
	controller    *services.IrrigationController
	generator     *services.Generator
	clock         clockwork.Clock
	defaultDevice string
	startedAt     time.Time
	log           logrus.FieldLogger
}

// Deps groups the collaborators of the HTTP layer
type Deps struct {
	// Context bounds background work started over HTTP, such as the generator
	Context       context.Context
	Store         *database.Gateway
	Hub           *websocket.Hub
	Pipeline      *services.Pipeline
	Controller    *services.IrrigationController
	Generator     *services.Generator
	Clock         clockwork.Clock
	DefaultDevice string
	Log           logrus.FieldLogger
}

// New creates a new handler instance
func New(d Deps) *Handler {
	ctx := d.Context
	if ctx == nil {
		ctx = context.Background()
	}
	clock := d.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Handler{
		ctx:           ctx,
		store:         d.Store,
		hub:           d.Hub,
		pipeline:      d.Pipeline,
		controller:    d.Controller,
		generator:     d.Generator,
		clock:         clock,
		defaultDevice: d.DefaultDevice,
		startedAt:     clock.Now(),
		log:           d.Log.WithField("component", "http"),
	}
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func okList[T any](c *gin.Context, items []T) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(items),
		"data":    items,
	})
}

func okMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
	})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": message,
	})
}

// failWith maps domain errors onto HTTP statuses. notFound is the message
// used for models.ErrNotFound.
func (h *Handler) failWith(c *gin.Context, err error, notFound string) {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(c, http.StatusBadRequest, ve.Error())
	case errors.Is(err, models.ErrNotFound):
		fail(c, http.StatusNotFound, notFound)
	case errors.Is(err, models.ErrBackendUnavailable):
		fail(c, http.StatusServiceUnavailable, "Storage backend unavailable, try again later")
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

// Health is a liveness probe
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Agranova backend is running",
		"timestamp": h.clock.Now(),
	})
}

// GetSystemHealth returns overall system health information
func (h *Handler) GetSystemHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "connected"
	if err := h.store.Ping(ctx); err != nil {
		dbStatus = "unreachable"
	}

	status := "healthy"
	if h.store.Degraded() {
		status = "degraded"
	}
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	ok(c, http.StatusOK, gin.H{
		"status":    status,
		"timestamp": h.clock.Now(),
		"uptime":    h.clock.Since(h.startedAt).Round(time.Second).String(),
		"database": gin.H{
			"type":     h.store.Type(),
			"status":   dbStatus,
			"demoMode": h.store.Degraded(),
			"breaker":  h.store.BreakerState(),
		},
		"websocket": gin.H{
			"connectedClients": h.hub.ClientCount(),
		},
		"simulation": h.generator.Status(),
	})
}

// WebSocketEndpoint handles WebSocket connections
func (h *Handler) WebSocketEndpoint(c *gin.Context) {
	h.hub.HandleWebSocket(c.Writer, c.Request)
}
