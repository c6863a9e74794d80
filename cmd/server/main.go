// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/tamata3m3na-oss/game-sub000/internal/auth"
	"github.com/tamata3m3na-oss/game-sub000/internal/cache"
	"github.com/tamata3m3na-oss/game-sub000/internal/config"
	"github.com/tamata3m3na-oss/game-sub000/internal/database"
	"github.com/tamata3m3na-oss/game-sub000/internal/game"
	"github.com/tamata3m3na-oss/game-sub000/internal/handlers"
	"github.com/tamata3m3na-oss/game-sub000/internal/matchmaking"
	"github.com/tamata3m3na-oss/game-sub000/internal/session"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Env != "development" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	ttl, err := auth.ParseTokenExpireTime(cfg.TokenExpireTime)
	if err != nil {
		logger.Fatalf("invalid TOKEN_EXPIRE_TIME: %v", err)
	}
	if err := auth.Init(ttl); err != nil {
		logger.Fatalf("auth init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.PostgresURL())
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	repo := database.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatalf("postgres: %v", err)
	}

	rdb, err := cache.Connect(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	sessions := session.NewRegistry(logger)

	sim := game.NewEngine(rdb, repo, sessions, logger, game.Options{
		TimeLimit:    cfg.MatchTimeLimit,
		ResultsQueue: cfg.ResultsQueueName,
	})
	mm := matchmaking.NewEngine(rdb, repo, sim, sessions, logger, matchmaking.Options{
		PairingInterval: cfg.PairingInterval,
		RatingTolerance: cfg.RatingTolerance,
	})
	sim.SetOnMatchEnd(mm.ReleaseMatch)

	mm.Start(ctx)
	defer mm.Stop()
	defer sim.StopAll()

	srv := &handlers.ArenaServer{
		Logger:       logger,
		Sessions:     sessions,
		Matches:      mm,
		Inputs:       sim,
		Users:        repo,
		CookieMaxAge: int(ttl.Seconds()),
	}
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("http shutdown: %v", err)
		}
	}()

	logger.Infof("Running on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
	logger.Info("server stopped")
}
