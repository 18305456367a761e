package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// RouterOptions configures NewRouter
type RouterOptions struct {
	AllowOrigins []string
	Auth         Authenticator
	// Metrics is served on /metrics when set
	Metrics http.Handler
}

// NewRouter wires every route onto a gin engine
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(h.log))
	router.Use(gin.Recovery())

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	router.Use(func(ctx *gin.Context) {
		c.HandlerFunc(ctx.Writer, ctx.Request)
		if ctx.Request.Method == "OPTIONS" {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	})

	protect := RequireAuth(opts.Auth)

	api := router.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/system/health", h.GetSystemHealth)

		// Sensors; devices post without credentials
		api.GET("/sensors/latest", protect, h.GetLatestSensorData)
		api.GET("/sensors/history", protect, h.GetSensorHistory)
		api.POST("/sensors", h.CreateSensorData)

		// Irrigation
		irrigation := api.Group("/irrigation", protect)
		irrigation.GET("/config", h.GetIrrigationConfig)
		irrigation.PUT("/config", h.UpdateIrrigationConfig)
		irrigation.POST("/pump", h.ControlPump)
		irrigation.GET("/stats", h.GetIrrigationStats)
		irrigation.GET("/logs", h.GetSystemLogs)

		// Alerts
		alerts := api.Group("/alerts", protect)
		alerts.GET("", h.GetAlerts)
		alerts.PUT("/read/all", h.MarkAllAlertsRead)
		alerts.PUT("/:id/read", h.MarkAlertRead)
		alerts.DELETE("/:id", h.DeleteAlert)

		// Simulation
		simulation := api.Group("/simulation", protect)
		simulation.GET("", h.GetSimulation)
		simulation.POST("/start", h.StartSimulation)
		simulation.POST("/stop", h.StopSimulation)
	}

	router.GET("/ws", h.WebSocketEndpoint)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	return router
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Round(time.Microsecond),
			"client":  c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	}
}
