package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"weibo_feed/internal/auth"
	"weibo_feed/internal/config"
	"weibo_feed/internal/extract"
	"weibo_feed/internal/filter"
	"weibo_feed/internal/httpclient"
	"weibo_feed/internal/listing"
	"weibo_feed/internal/notify"
	"weibo_feed/internal/publish"
	"weibo_feed/internal/runner"
	"weibo_feed/internal/scheduler"
	"weibo_feed/internal/storage"
)

const (
	ExitFailure     = 1
	ExitConfigError = 2
)

func main() {
	app := &cli.App{
		Name:   "weibofeed",
		Usage:  "Publish the Weibo daily security bulletin as an Atom feed",
		Action: runCommand,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Check for new articles and publish them (default)",
				Action: runCommand,
			},
			{
				Name:   "check",
				Usage:  "Print the article listing and which articles are new, without logging in or writing",
				Action: checkCommand,
			},
			{
				Name:   "watch",
				Usage:  "Run now and then on the SCHEDULE cron expression until interrupted",
				Action: watchCommand,
			},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
}

func runCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}
	log := newLogger(cfg.LogLevel)

	r, err := newRunner(cfg, log)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}

	if _, err := r.Run(c.Context); err != nil {
		log.Error("run failed", "error", err)
		return cli.Exit(err.Error(), ExitFailure)
	}
	return nil
}

func watchCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}
	log := newLogger(cfg.LogLevel)

	r, err := newRunner(cfg, log)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}
	sched, err := scheduler.New(cfg.Schedule, r, log)
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}

	log.Info("starting scheduler", "schedule", cfg.Schedule)
	sched.Run(c.Context)
	log.Info("scheduler stopped")
	return nil
}

type checkedArticle struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Published time.Time `json:"published"`
	New       bool      `json:"new"`
}

type checkReport struct {
	Watermark     time.Time        `json:"watermark"`
	NextWatermark time.Time        `json:"next_watermark"`
	Articles      []checkedArticle `json:"articles"`
}

func checkCommand(c *cli.Context) error {
	cfg, err := config.LoadReadOnly()
	if err != nil {
		return cli.Exit(err.Error(), ExitConfigError)
	}
	log := newLogger(cfg.LogLevel)

	client, err := httpclient.New(httpConfig(cfg), log)
	if err != nil {
		return cli.Exit(err.Error(), ExitFailure)
	}
	store, err := storage.NewFiles(cfg.OutputDir)
	if err != nil {
		return cli.Exit(err.Error(), ExitFailure)
	}

	r := runner.New(runner.Deps{Lister: listing.New(client, log), Store: store}, cfg.Feed, cfg.FeedMaxEntries, log)
	d, err := r.Check(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), ExitFailure)
	}

	isNew := make(map[string]bool, len(d.New))
	for _, a := range d.New {
		isNew[a.URL] = true
	}
	report := checkReport{Watermark: d.Previous, NextWatermark: d.Watermark, Articles: []checkedArticle{}}
	for _, a := range d.Articles {
		report.Articles = append(report.Articles, checkedArticle{
			URL:       a.URL,
			Title:     a.Title,
			Published: a.Published,
			New:       isNew[a.URL],
		})
	}
	return outputJSON(report)
}

func newRunner(cfg *config.Config, log *slog.Logger) (*runner.Runner, error) {
	client, err := httpclient.New(httpConfig(cfg), log)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewFiles(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	engine, err := filter.New(cfg.Filters)
	if err != nil {
		return nil, err
	}

	deployer := publish.NewDeployer(client, cfg.Repository, cfg.GitHubToken, log)
	deployer.PollInterval = cfg.DeployPollInterval
	deployer.MaxPolls = cfg.DeployMaxPolls

	deps := runner.Deps{
		Session:   auth.New(client, auth.Credentials{Username: cfg.Username, Password: cfg.Password}, log),
		Lister:    listing.New(client, log),
		Extractor: extract.New(client, log),
		Store:     store,
		Filter:    engine,
		Committer: publish.NewCommitter(cfg.CommitCommand, ".", log),
		Deployer:  deployer,
		Hub:       notify.NewHub(client, cfg.HubURL, log),
	}
	if cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.Feed.Title, log)
		if err != nil {
			log.Error("telegram disabled", "error", err)
		} else {
			deps.Announcer = tg
		}
	}

	return runner.New(deps, cfg.Feed, cfg.FeedMaxEntries, log), nil
}

func httpConfig(cfg *config.Config) httpclient.Config {
	return httpclient.Config{
		Timeout:       cfg.HTTPTimeout,
		Retries:       cfg.HTTPRetry,
		RetryInterval: cfg.HTTPRetryInterval,
	}
}

func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(v)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
