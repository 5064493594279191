package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/mossy-p/roomcall/config"
	"github.com/mossy-p/roomcall/internal/middleware"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/mossy-p/roomcall/internal/relay"
)

// RoomStore persists room reservations.
type RoomStore interface {
	Reserve(ctx context.Context, name, creatorID string) (*models.RoomMetadata, error)
	Get(ctx context.Context, name string) (*models.RoomMetadata, error)
	Resolve(ctx context.Context, code string) (string, error)
	Delete(ctx context.Context, name string) error
}

type Options struct {
	Config        *config.Config
	Relay         *relay.Relay
	Rooms         RoomStore
	LoggerFactory logging.LoggerFactory
}

// Handler serves the HTTP API and the WebSocket signaling endpoint.
type Handler struct {
	cfg      *config.Config
	relay    *relay.Relay
	rooms    RoomStore
	lf       logging.LoggerFactory
	log      logging.LeveledLogger
	upgrader websocket.Upgrader
}

func New(opts Options) *Handler {
	lf := opts.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	rooms := opts.Rooms
	if rooms == nil {
		rooms = NewMemoryRoomStore()
	}
	return &Handler{
		cfg:   opts.Config,
		relay: opts.Relay,
		rooms: rooms,
		lf:    lf,
		log:   lf.NewLogger("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

// Routes registers every endpoint on router.
func (h *Handler) Routes(router gin.IRouter) {
	router.Use(OriginFilter(h.cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": len(h.relay.Rooms())})
	})

	auth := middleware.JWTAuth(h.cfg.JWTSecret)

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", h.Login)

		// ICE servers for clients (public)
		apiGroup.GET("/ice", h.ICEServers)

		apiGroup.GET("/rooms", h.ListRooms)
		apiGroup.POST("/rooms", auth, h.CreateRoom)
		apiGroup.GET("/rooms/:room", h.GetRoom)
		apiGroup.DELETE("/rooms/:room", auth, h.DeleteRoom)
	}

	wsAuth := middleware.OptionalJWTAuth(h.cfg.JWTSecret)
	if h.cfg.RequireAuth {
		wsAuth = auth
	}
	// WebSocket signaling; the :room variant joins immediately
	router.GET("/ws", wsAuth, h.HandleSignaling)
	router.GET("/ws/:room", wsAuth, h.HandleSignaling)
}
