package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"power-dialer/internal/calls"
	"power-dialer/internal/config"
	"power-dialer/internal/disposition"
	"power-dialer/internal/events"
	"power-dialer/internal/leads"
	"power-dialer/internal/scheduler"
	"power-dialer/internal/texting"
	"power-dialer/pkg/logger"
	"power-dialer/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env).With("component", "worker")
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	leadRepo := leads.NewPostgresRepo(db)

	// The worker has no subscribers of its own; the relay fans CALLBACK_MISSED
	// out to the API nodes that hold the streams.
	relay := events.NewRedisRelay(rdb, nil, cfg.Events.Channel, cfg.App.NodeID+"-worker", log)

	// Sessions live on API nodes, so the worker engine never records stats.
	dispositions := disposition.NewEngine(disposition.Config{MissedGrace: cfg.Scheduler.MissedGrace},
		disposition.NewPostgresRepo(db), calls.NewPostgresRepo(db), leadRepo, nil, nil, relay, log)

	var texts scheduler.Texter
	if cfg.Texting.GatewayURL != "" {
		texts = texting.New(texting.Config{
			GatewayURL:     cfg.Texting.GatewayURL,
			APIKey:         cfg.Texting.APIKey,
			From:           cfg.Texting.From,
			PreviewBaseURL: cfg.Texting.PreviewBaseURL,
			Region:         cfg.App.DefaultRegion,
		})
	} else {
		log.Warn("texting gateway not configured; auto texts are dropped")
	}

	w, err := scheduler.NewWorker(cfg, scheduler.Deps{
		Callbacks: dispositions,
		Leads:     leadRepo,
		Texts:     texts,
	}, log)
	if err != nil {
		log.Error("worker init failed", "err", err)
		os.Exit(1)
	}

	log.Info("worker started", "queue", cfg.Scheduler.Queue, "sweep", cfg.Scheduler.SweepSchedule)
	if err := w.Run(rootCtx); err != nil {
		log.Error("worker stopped", "err", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
