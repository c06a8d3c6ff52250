package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/immxrtalbeast/laika/internal/api/http"
	"github.com/immxrtalbeast/laika/internal/config"
	"github.com/immxrtalbeast/laika/internal/repository"
	"github.com/immxrtalbeast/laika/internal/repository/model"
	"github.com/immxrtalbeast/laika/internal/service"
	"github.com/immxrtalbeast/laika/lib/logger"
	"github.com/immxrtalbeast/laika/lib/logger/sl"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad(config.RegistryDefaults)
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var devices repository.DeviceRepository
	if cfg.Database.DSN == "" {
		log.Info("using in-memory device registry")
		devices = repository.NewInMemoryDeviceRepository()
	} else {
		db, err := connectDatabase(cfg.Database)
		if err != nil {
			log.Error("failed to connect database", sl.Err(err))
			os.Exit(1)
		}
		devices = repository.NewPostgresDeviceRepository(db)
	}

	registry := service.NewRegistryService(devices, cfg.Registry.MaxDevices, cfg.Registry.DeviceTimeout, log)
	go registry.RunSweeper(ctx, cfg.Registry.SweepInterval)

	router := httpapi.SetupRegistryRouter(httpapi.NewRegistryController(registry), cfg.HTTP.AllowedOrigins)

	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	log.Info("starting device registry",
		slog.String("addr", cfg.HTTP.Address),
		slog.Int("max_devices", cfg.Registry.MaxDevices),
		slog.Duration("device_timeout", cfg.Registry.DeviceTimeout),
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

	log.Info("device registry stopped")
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&model.Device{}); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
