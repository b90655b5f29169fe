package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hearth-home/hearth-backend-go/internal/api/handlers"
	"github.com/hearth-home/hearth-backend-go/internal/api/middleware"
	"github.com/hearth-home/hearth-backend-go/internal/config"
	"github.com/hearth-home/hearth-backend-go/internal/core/metrics"
	"github.com/hearth-home/hearth-backend-go/internal/llmtools"
	"github.com/hearth-home/hearth-backend-go/internal/mcp"
	"github.com/hearth-home/hearth-backend-go/internal/websocket"
)

// Router wires middleware and routes around the handlers.
type Router struct {
	engine    *gin.Engine
	handlers  *handlers.Handlers
	cfg       *config.Config
	collector *metrics.Collector
	hub       *websocket.Hub
	tools     *llmtools.Handler
	mcpServer *mcp.Server
	log       *logrus.Logger
}

func NewRouter(cfg *config.Config, h *handlers.Handlers, collector *metrics.Collector, hub *websocket.Hub, registry *llmtools.Registry, log *logrus.Logger) *Router {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:    gin.New(),
		handlers:  h,
		cfg:       cfg,
		collector: collector,
		hub:       hub,
		tools:     llmtools.NewHandler(registry, log),
		mcpServer: mcp.NewServer(registry, log),
		log:       log,
	}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Engine exposes the underlying gin engine for the HTTP server.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.RecoveryMiddleware(r.log))
	r.engine.Use(middleware.LoggingMiddleware(r.log))
	r.engine.Use(middleware.CORSMiddleware())
	if r.collector != nil {
		r.engine.Use(middleware.MetricsMiddleware(r.collector))
	}
	limiter := middleware.NewRateLimiter(100, 200)
	r.engine.Use(limiter.Middleware())
}

func (r *Router) setupRoutes() {
	// Unauthenticated surface: probes, metrics, the websocket upgrade.
	r.engine.GET("/health", r.handlers.GetHealth)
	if r.collector != nil {
		r.engine.GET("/metrics", gin.WrapH(r.collector.Handler()))
	}
	r.engine.GET("/ws", websocket.HandleWebSocketGin(r.hub))

	apiGroup := r.engine.Group("/api")
	if r.cfg.Auth.Enabled && r.cfg.Auth.JWTSecret != "" {
		apiGroup.Use(middleware.AuthMiddleware(r.cfg.Auth.JWTSecret))
	}

	// Entity registry
	apiGroup.GET("/entities", r.handlers.GetEntities)
	apiGroup.GET("/entities/:id", r.handlers.GetEntity)
	apiGroup.POST("/entities/:id/action", r.handlers.ControlEntity)
	apiGroup.GET("/adapters", r.handlers.GetAdapters)

	// Zigbee network management
	apiGroup.GET("/zigbee/devices", r.handlers.GetZigbeeDevices)
	apiGroup.GET("/zigbee/devices/:ieee", r.handlers.GetZigbeeDevice)
	apiGroup.DELETE("/zigbee/devices/:ieee", r.handlers.RemoveZigbeeDevice)
	apiGroup.POST("/zigbee/permit_join", r.handlers.PermitJoin)
	apiGroup.GET("/zigbee/groups", r.handlers.GetZigbeeGroups)
	apiGroup.POST("/zigbee/groups", r.handlers.CreateZigbeeGroup)
	apiGroup.DELETE("/zigbee/groups/:id", r.handlers.DeleteZigbeeGroup)
	apiGroup.POST("/zigbee/groups/:id/members", r.handlers.UpdateZigbeeGroupMembers)
	apiGroup.POST("/zigbee/bind", r.handlers.BindZigbeeDevices)
	apiGroup.POST("/zigbee/unbind", r.handlers.UnbindZigbeeDevices)

	// System and operations
	apiGroup.GET("/system/info", r.handlers.GetSystemInfo)
	apiGroup.GET("/websocket/stats", r.handlers.GetWebSocketStats)
	apiGroup.GET("/backups", r.handlers.ListBackups)
	apiGroup.POST("/backups", r.handlers.CreateBackup)

	apiGroup.GET("/settings/:key", r.handlers.GetSetting)
	apiGroup.PUT("/settings/:key", r.handlers.SetSetting)
	apiGroup.DELETE("/settings/:key", r.handlers.DeleteSetting)

	// Tool surfaces for LLM clients
	r.tools.RegisterRoutes(apiGroup)
	r.mcpServer.RegisterRoutes(apiGroup)
}
