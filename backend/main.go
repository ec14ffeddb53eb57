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

	"go.uber.org/zap"

	"savi/m/internal/api"
	"savi/m/internal/config"
	"savi/m/internal/database"
	"savi/m/internal/events"
	"savi/m/internal/logger"
	"savi/m/internal/migrations"
	"savi/m/internal/seed"
)

func main() {
	cfg := config.Load()

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logg.Sync()

	db, err := database.Connect(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		logg.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		logg.Fatal("migrations", zap.Error(err))
	}
	created, err := seed.EnsureAdmin(db, cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		logg.Fatal("bootstrap admin", zap.Error(err))
	}
	if created {
		logg.Info("created bootstrap admin", zap.String("username", cfg.AdminUsername))
	}
	seed.LoadProducts(db, cfg.CatalogCSV, logg)

	var bus events.Bus = events.NewMemoryBus()
	if cfg.RedisURL != "" {
		redisBus, err := events.NewRedisBus(cfg.RedisURL, "savi:events", logg)
		if err != nil {
			logg.Fatal("redis event bus", zap.Error(err))
		}
		defer redisBus.Close()
		bus = redisBus
	}

	taxRate := cfg.Tax()
	handler := api.New(db, cfg.Secret, api.Options{
		TaxRate:      &taxRate,
		ReturnWindow: time.Duration(cfg.ReturnWindowDays) * 24 * time.Hour,
		Bus:          bus,
		Logger:       logg,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logg.Info("SAVI POS server starting", zap.String("addr", srv.Addr), zap.String("driver", cfg.DBDriver))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Fatal("server error", zap.Error(err))
	}
}
