package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/courtside/pickleball-live/internal/config"
	"github.com/courtside/pickleball-live/internal/httpapi"
	"github.com/courtside/pickleball-live/internal/hub"
	"github.com/courtside/pickleball-live/internal/live"
	"github.com/courtside/pickleball-live/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("database open failed", zap.Error(err))
	}
	if cfg.AutoMigrate {
		if err := store.AutoMigrate(db); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
	}

	ctx := context.Background()
	repo := store.NewMatchRepository(db)
	broker := live.NewBroker()
	h := hub.NewHub(ctx, repo, broker, log)

	handler := httpapi.SetupRoutes(h, repo, broker, log)

	log.Info("listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
