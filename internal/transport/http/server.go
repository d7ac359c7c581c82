package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/atrium-space/atrium-server/internal/auth"
	"github.com/atrium-space/atrium-server/internal/config"
	"github.com/atrium-space/atrium-server/internal/core"
	"github.com/atrium-space/atrium-server/internal/store"
)

// NewServer builds the HTTP server: auth REST endpoints, catalog and query
// endpoints, and the websocket entry point.
func NewServer(engine *core.Engine, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	api := NewAPIHandlers(authService, logger)
	spaces := NewSpaceHandlers(engine, st, logger)

	router.GET("/health", healthHandler)
	router.POST("/api/register", api.Register)
	router.POST("/api/login", api.Login)
	router.POST("/api/guest", api.GuestLogin)

	authed := router.Group("/api", AuthMiddleware(authService, logger))
	{
		authed.GET("/spaces", spaces.ListSpaces)
		authed.POST("/spaces", spaces.CreateSpace)
		authed.DELETE("/spaces/:space", spaces.DeleteSpace)
		authed.GET("/spaces/:space/areas", spaces.ListAreas)
		authed.GET("/spaces/:space/occupants", spaces.SpaceOccupants)
		authed.GET("/spaces/:space/areas/:area/occupants", spaces.AreaOccupants)
		authed.GET("/spaces/:space/areas/:area/channels/:channel/history", spaces.History)
		authed.GET("/presence/:identity", spaces.Presence)
		authed.GET("/stats", spaces.Stats)
	}

	router.GET("/ws", gin.WrapH(NewWSHandler(engine, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	fmt.Fprint(c.Writer, "ok")
}
