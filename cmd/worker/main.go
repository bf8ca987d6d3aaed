package main

import (
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/wrkhub/authgate/internal/config"
	"github.com/wrkhub/authgate/internal/notify"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	worker := notify.NewWorker(cfg.Notifier)

	mux := asynq.NewServeMux()
	mux.Handle(notify.TypeMagicCode, asynq.HandlerFunc(worker.ProcessMagicCode))
	mux.Handle(notify.TypeInvitation, asynq.HandlerFunc(worker.ProcessInvitation))
	mux.Handle(notify.TypeActivation, asynq.HandlerFunc(worker.ProcessActivation))

	slog.Info("starting notification worker", "concurrency", 10)
	if err := srv.Run(mux); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
