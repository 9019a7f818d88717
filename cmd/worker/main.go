package main

import (
	"context"
	"os"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/vidyback/templatestore/internal/config"
	"github.com/vidyback/templatestore/internal/github"
	"github.com/vidyback/templatestore/internal/jobs"
	"github.com/vidyback/templatestore/internal/store"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}
	if !cfg.HasJobs() {
		logger.Fatal().Msg("REDIS_ADDR is required")
	}
	if !cfg.HasGitHub() {
		logger.Fatal().Msg("GITHUB_TOKEN is required")
	}

	backend, err := store.Open(context.Background(), cfg.StoreOptions())
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer backend.Close() //nolint:errcheck

	client, err := github.New(cfg.GitHub.Token, cfg.GitHub.Repo,
		github.WithBaseURL(cfg.GitHub.APIURL),
		github.WithBranch(cfg.GitHub.Branch),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("github client")
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.Jobs.RedisAddr}, asynq.Config{
		Concurrency: cfg.Jobs.Concurrency,
		Queues: map[string]int{
			jobs.QueueSync: 10, // higher priority
			"default":      5,
		},
	})
	mux := asynq.NewServeMux()
	mux.Handle(jobs.TaskPushDocument, &jobs.PushHandler{
		Docs:   backend,
		Remote: github.NewSyncer(client, cfg.GitHub.FilePath, cfg.GitHub.CommitMessage),
		Logger: logger,
	})

	logger.Info().Str("redis", cfg.Jobs.RedisAddr).Int("concurrency", cfg.Jobs.Concurrency).Msg("worker running")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}
