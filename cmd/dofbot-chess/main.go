package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/huahua9185/dofbot-chess/internal/archive"
	"github.com/huahua9185/dofbot-chess/internal/config"
	"github.com/huahua9185/dofbot-chess/internal/eventbus"
	"github.com/huahua9185/dofbot-chess/internal/gateway/engine"
	"github.com/huahua9185/dofbot-chess/internal/gateway/robot"
	"github.com/huahua9185/dofbot-chess/internal/gateway/vision"
	"github.com/huahua9185/dofbot-chess/internal/httpapi"
	"github.com/huahua9185/dofbot-chess/internal/msgcat"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"github.com/huahua9185/dofbot-chess/internal/projection"
	"github.com/huahua9185/dofbot-chess/internal/session"
	"github.com/huahua9185/dofbot-chess/internal/turn"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis url invalid", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal("redis unreachable", zap.Error(err))
	}
	cancelPing()

	var repo archive.Repository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database open failed", zap.Error(err))
		}
		defer db.Close()
		schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 10*time.Second)
		if err := archive.EnsureSchema(schemaCtx, db); err != nil {
			cancelSchema()
			logger.Fatal("archive schema failed", zap.Error(err))
		}
		cancelSchema()
		repo = archive.NewRepository(db)
	} else {
		logger.Warn("no DATABASE_URL; archiving to memory only")
		repo = archive.NewMemRepository()
	}

	catalog, err := msgcat.New()
	if err != nil {
		logger.Fatal("message catalog failed", zap.Error(err))
	}

	bus := eventbus.New()
	pool := engine.NewPool(cfg.StockfishPath)
	decider := engine.NewDecider(pool, bus)
	detector := vision.NewDetector(cfg.VisionBaseURL, bus)
	executor := robot.NewExecutor(cfg.RobotBaseURL, bus)

	hub := projection.NewHub()
	sink := projection.Multi{projection.NewRedisSink(rdb), hub}

	registry := session.NewRegistry(session.Config{
		Bus:      bus,
		Store:    session.NewStore(rdb),
		Detector: detector,
		Decider:  decider,
		Executor: executor,
		Clock:    turn.RealClock(),
		Policy: turn.Policy{
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			DetectTimeout:       cfg.DetectTimeout,
			DetectMaxAttempts:   cfg.DetectMaxAttempts,
			ComputeMaxAttempts:  cfg.ComputeMaxAttempts,
			ExecTimeout:         cfg.ExecTimeout,
			ExecMaxAttempts:     cfg.ExecMaxAttempts,
			MinDifficulty:       cfg.MinDifficulty,
			StaleGameTimeout:    cfg.StaleGameTimeout,
		},
		Budget:   func(difficulty int) time.Duration { return engine.LevelFor(difficulty).MoveTime },
		Sink:     sink,
		Archiver: archive.NewService(repo),
	})

	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 30*time.Second)
	if err := registry.Recover(recoverCtx); err != nil {
		logger.Error("recovery failed", zap.Error(err))
	}
	cancelRecover()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go registry.RunSweeper(sweepCtx, cfg.SweepInterval)

	srv := httpapi.New(cfg.HTTPListenAddr, registry, hub, repo, catalog, cfg.DefaultDifficulty)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(context.Background()) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-srvErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	stopSweep()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	cancelShutdown()

	registry.Close()
	decider.Close()
	_ = rdb.Close()
	_ = logger.Sync()
}
