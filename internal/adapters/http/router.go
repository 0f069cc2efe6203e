// Package http wires the gin router: record REST API, health check and
// the realtime websocket endpoint.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studyroom/studyroom/internal/adapters/ws"
	"github.com/studyroom/studyroom/internal/config"
	"github.com/studyroom/studyroom/internal/store"
)

// clientTokenKey is the gin context key the record handlers read the
// caller's durable token from.
const clientTokenKey = "client_token"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware assigns every browser a durable opaque token used
// to attribute records (pomodoros, coins, notes) without accounts.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, st *store.Store, wsCtl *ws.RoomWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("StudyroomSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")

	h := &recordHandlers{store: st}

	r.GET("/health", h.health)

	api := r.Group("/api")
	{
		api.GET("/rooms", h.listRooms)
		api.POST("/rooms", h.createRoom)
		api.GET("/rooms/:id", h.getRoom)
		api.DELETE("/rooms/:id", h.deleteRoom)

		api.POST("/rooms/:id/pomodoros", h.createPomodoro)
		api.GET("/rooms/:id/pomodoros", h.listPomodoros)
		api.GET("/rooms/:id/coins", h.getCoins)

		api.GET("/notes", h.listNotes)
		api.POST("/notes", h.createNote)
		api.PUT("/notes/:id", h.updateNote)
		api.DELETE("/notes/:id", h.deleteNote)
	}

	r.GET("/ws", func(c *gin.Context) {
		wsCtl.HandleWS(ctx, c)
	})

	return r
}
