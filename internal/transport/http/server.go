package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
)

// NewServer builds an HTTP server with the websocket endpoint, health check
// and the read-only REST API.
func NewServer(hub *core.Hub, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, cfg, logger)))

	api := NewAPIHandlers(hub, cfg.HistoryLimit, logger)
	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/users", api.ListUsers)
		apiGroup.GET("/groups", api.ListGroups)
		apiGroup.GET("/groups/:name", api.GetGroup)
		apiGroup.GET("/groups/:name/messages", api.GroupMessages)
		apiGroup.GET("/messages/:id", api.GetMessage)
		apiGroup.GET("/conversations", api.Conversation)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
