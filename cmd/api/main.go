// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/vidyback/templatestore/internal/config"
	"github.com/vidyback/templatestore/internal/github"
	"github.com/vidyback/templatestore/internal/http/middleware"
	"github.com/vidyback/templatestore/internal/http/routes"
	"github.com/vidyback/templatestore/internal/jobs"
	"github.com/vidyback/templatestore/internal/store"
	"github.com/vidyback/templatestore/internal/templates"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	backend, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("open store")
	}
	defer backend.Close() //nolint:errcheck
	logger.Info().Str("backend", cfg.Store.Backend).Msg("store ready")

	// Background pushes
	var queue *jobs.Queue
	if cfg.HasJobs() {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Jobs.RedisAddr})
		defer client.Close() //nolint:errcheck
		queue = jobs.NewQueue(client)
	}

	var svcOpts []templates.Option
	if queue != nil && cfg.Jobs.AutoPush {
		svcOpts = append(svcOpts, templates.WithChangeHook(func(ctx context.Context, reason string) {
			// the request context ends with the response
			info, err := queue.EnqueuePush(context.WithoutCancel(ctx))
			switch {
			case errors.Is(err, jobs.ErrAlreadyQueued):
				logger.Debug().Str("reason", reason).Msg("auto push already queued")
			case err != nil:
				logger.Warn().Err(err).Str("reason", reason).Msg("enqueue auto push")
			default:
				logger.Debug().Str("reason", reason).Str("task_id", info.ID).Msg("auto push queued")
			}
		}))
	}
	svc := templates.New(backend, svcOpts...)

	// GitHub
	var remote *github.Syncer
	if cfg.HasGitHub() {
		client, err := github.New(cfg.GitHub.Token, cfg.GitHub.Repo,
			github.WithBaseURL(cfg.GitHub.APIURL),
			github.WithBranch(cfg.GitHub.Branch),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("github client")
		}
		remote = github.NewSyncer(client, cfg.GitHub.FilePath, cfg.GitHub.CommitMessage)
		if cfg.GitHub.SeedOnStart {
			seed(ctx, logger, svc, remote)
		}
	} else {
		logger.Warn().Msg("GITHUB_TOKEN not set, push-to-github is disabled")
	}

	opts := routes.ServerOptions{
		Templates: svc,
		Cfg:       *cfg,
		Logger:    logger,
	}
	// typed nils would defeat the handlers' nil checks
	if remote != nil {
		opts.Remote = remote
	}
	if queue != nil {
		opts.Queue = queue
	}
	if cfg.HTTP.Metrics {
		opts.Metrics = middleware.NewMetrics("templatestore")
	}
	s := routes.New(opts)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server is running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("listen")
	}
	logger.Info().Msg("server stopped")
}

// seed fills an empty local store from the remote file
func seed(ctx context.Context, logger zerolog.Logger, svc *templates.Service, remote *github.Syncer) {
	doc, err := remote.Pull(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("path", remote.Path()).Msg("seed from GitHub skipped")
		return
	}
	seeded, err := svc.Seed(ctx, doc)
	if err != nil {
		logger.Error().Err(err).Msg("seed store")
		return
	}
	logger.Info().Bool("seeded", seeded).Int("categories", len(doc)).Msg("seed from GitHub")
}
