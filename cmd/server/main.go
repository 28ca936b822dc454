package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/awesync/internal/api"
	"github.com/jdholdren/awesync/internal/github"
	"github.com/jdholdren/awesync/internal/logger"
	"github.com/jdholdren/awesync/internal/markdown"
	"github.com/jdholdren/awesync/internal/migrations"
	awsqlite "github.com/jdholdren/awesync/internal/sqlite"
	"github.com/jdholdren/awesync/internal/syncer"
)

type config struct {
	Database string `env:"DATABASE, required"`

	Port         int    `env:"PORT, default=4444"`
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	CorsOrigin   string `env:"CORS_ORIGIN"`

	GithubToken  string `env:"GITHUB_TOKEN"`
	GithubAPIURL string `env:"GITHUB_API_URL, default=https://api.github.com"`

	QueuePollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL, default=10s"`
	StaleProcessingAfter time.Duration `env:"STALE_PROCESSING_AFTER, default=30m"`

	ListTitle       string `env:"LIST_TITLE, default=List"`
	ListDescription string `env:"LIST_DESCRIPTION"`
	ListWebsiteURL  string `env:"LIST_WEBSITE_URL"`
	ListRepoURL     string `env:"LIST_REPO_URL"`
}

func main() {
	ctx := context.Background()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	l, err := logger.New(os.Stdout, cfg.LoggerFormat, slog.LevelInfo)
	if err != nil {
		log.Fatalf("error creating logger: %s", err)
	}
	slog.SetDefault(l)

	// Connect to the sqlite db
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", cfg.Database))
	if err != nil {
		log.Fatalf("error opening database: %s", err)
	}
	defer dbx.Close()

	// The file may sit on a volume that is still being mounted.
	if err := retry.Do(ctx, retry.WithMaxRetries(5, retry.NewFibonacci(time.Second)), func(ctx context.Context) error {
		if err := dbx.PingContext(ctx); err != nil {
			slog.Warn("database not ready", "err", err)
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		log.Fatalf("error connecting to database: %s", err)
	}

	// Run all migrations
	if err := migrations.Run(dbx); err != nil {
		log.Fatalf("error running migrations: %s", err)
	}

	var (
		repo   = awsqlite.New(dbx)
		remote = github.New(ctx, cfg.GithubToken, github.WithBaseURL(cfg.GithubAPIURL))
		sync   = syncer.New(repo, remote, syncer.Config{
			Format: markdown.FormatConfig{
				Title:               cfg.ListTitle,
				Description:         cfg.ListDescription,
				IncludeContributing: true,
				IncludeLicense:      true,
				WebsiteURL:          cfg.ListWebsiteURL,
				RepoURL:             cfg.ListRepoURL,
			},
			PollInterval: cfg.QueuePollInterval,
			StaleAfter:   cfg.StaleProcessingAfter,
		})
		server = api.NewServer(api.ServerConfig{
			Port:       cfg.Port,
			CorsOrigin: cfg.CorsOrigin,
		}, sync, repo, remote)
	)
	if cfg.GithubToken == "" {
		slog.Warn("GITHUB_TOKEN is not set, remote calls are unauthenticated and exports will fail")
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	{
		// Queue processor
		qctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return sync.Run(qctx)
		}, func(error) {
			cancel()
		})
	}
	{
		// Admin API
		g.Add(func() error {
			slog.Info("starting admin server", "port", cfg.Port)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(sctx); err != nil {
				slog.Error("error shutting down admin server", "err", err)
			}
		})
	}

	err = g.Run()
	var sigErr run.SignalError
	if err != nil && !errors.As(err, &sigErr) && !errors.Is(err, context.Canceled) {
		slog.Error("exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("shut down")
}
