package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/immxrtalbeast/laika/internal/api/http"
	"github.com/immxrtalbeast/laika/internal/config"
	"github.com/immxrtalbeast/laika/internal/service"
	"github.com/immxrtalbeast/laika/lib/logger"
	"github.com/immxrtalbeast/laika/lib/logger/sl"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad(config.SignalingDefaults)
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signaling := service.NewSignalingService(cfg.WebRTC.ICEServers(), cfg.Signaling.RoomTTL, log)
	go signaling.RunSweeper(ctx, cfg.Signaling.SweepInterval)

	controller := httpapi.NewSignalingController(signaling, httpapi.WSOptions{
		MaxMessageBytes:   cfg.Signaling.MaxMessageBytes,
		MessagesPerSecond: cfg.Signaling.MessagesPerSecond,
		PingPeriod:        cfg.Signaling.PingPeriod,
		PongWait:          cfg.Signaling.PongWait,
	}, log)
	router := httpapi.SetupSignalingRouter(controller, cfg.HTTP.AllowedOrigins)

	// Upgraded connections are not tracked by Shutdown; deriving request
	// contexts from ctx closes them on SIGTERM.
	srv := &http.Server{
		Addr:        cfg.HTTP.Address,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	log.Info("starting signaling server",
		slog.String("addr", cfg.HTTP.Address),
		slog.Int("ice_servers", len(cfg.WebRTC.ICEServers())),
		slog.Duration("room_ttl", cfg.Signaling.RoomTTL),
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", sl.Err(err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server stopped", sl.Err(err))
		os.Exit(1)
	}

	log.Info("signaling server stopped")
}
