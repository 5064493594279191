package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/roomcall/config"
	"github.com/mossy-p/roomcall/internal/handlers"
	"github.com/mossy-p/roomcall/internal/redis"
	"github.com/mossy-p/roomcall/internal/relay"
)

func main() {
	// Load configuration
	cfg := config.Load()

	loggerFactory, err := config.NewLoggerFactory(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := loggerFactory.NewLogger("signaling")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relayOpts := relay.Options{LoggerFactory: loggerFactory}
	handlerOpts := handlers.Options{Config: cfg, LoggerFactory: loggerFactory}

	// Redis is optional: without it presence is not mirrored and
	// reservations live in memory.
	if cfg.Redis.Enabled {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()

		relayOpts.Presence = redis.NewPresenceStore(client, cfg.Redis.Prefix)
		handlerOpts.Rooms = redis.NewRoomStore(client, cfg.Redis.Prefix)
		logger.Infof("Redis connection established (%s)", cfg.Redis.Addr())
	}

	handlerOpts.Relay = relay.New(relayOpts)
	h := handlers.New(handlerOpts)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	h.Routes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
	}()

	// Start server
	logger.Infof("Starting signaling server on port %s (ICE mode %s, auth required: %t)", cfg.Port, cfg.ICE.Mode, cfg.RequireAuth)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Failed to start server:", err)
	}
	logger.Info("server stopped")
}
