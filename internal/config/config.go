// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"weibo_feed/internal/filter"
	"weibo_feed/internal/model"
)

// EnvFile is loaded into the environment before reading, when present.
var EnvFile = ".env"

// Config holds the application configuration.
type Config struct {
	Username    string
	Password    string
	Repository  string
	GitHubToken string

	FeedURL       string
	HubURL        string
	OutputDir     string
	CommitCommand string

	HTTPTimeout       time.Duration
	HTTPRetry         int
	HTTPRetryInterval time.Duration

	DeployPollInterval time.Duration
	DeployMaxPolls     int

	FeedMaxEntries int
	Feed           model.FeedMeta
	Filters        []model.Filter

	TelegramBotToken string
	TelegramChatID   int64

	Schedule string
	LogLevel string
}

// DefaultFeedMeta returns the feed identity used when no metadata file is
// configured.
func DefaultFeedMeta() model.FeedMeta {
	return model.FeedMeta{
		ID:         "18019db5-cd10-4a0a-b32c-bb060bf1b2fe",
		Title:      "每日安全动态推送",
		AuthorName: "腾讯安全玄武实验室",
		AuthorURI:  "https://xlab.tencent.com/",
		Logo:       "https://xlab.tencent.com/cn/wp-content/themes/twentysixteen/images/small_logo_144.png",
		Language:   "zh-CN",
	}
}

// Load reads the full configuration needed for a publishing run.
func Load() (*Config, error) {
	return load(true)
}

// LoadReadOnly reads the configuration without requiring credentials, for
// commands that never log in or publish.
func LoadReadOnly() (*Config, error) {
	return load(false)
}

func load(requireCredentials bool) (*Config, error) {
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", EnvFile, err)
	}

	cfg := &Config{
		Username:      os.Getenv("WEIBO_USERNAME"),
		Password:      os.Getenv("WEIBO_PASSWORD"),
		Repository:    os.Getenv("GITHUB_REPOSITORY"),
		GitHubToken:   os.Getenv("GITHUB_PERSONAL_ACCESS_TOKEN"),
		FeedURL:       os.Getenv("FEED_URL"),
		HubURL:        stringEnv("HUB_URL", "https://pubsubhubbub.appspot.com/"),
		OutputDir:     stringEnv("OUTPUT_DIR", "gh-pages"),
		CommitCommand: ".github/commit.sh",
		Schedule:      stringEnv("SCHEDULE", "*/30 * * * *"),
		LogLevel:      stringEnv("LOG_LEVEL", "info"),
	}
	if v, ok := os.LookupEnv("COMMIT_COMMAND"); ok {
		cfg.CommitCommand = v
	}

	if requireCredentials {
		for _, req := range []struct{ key, value string }{
			{"WEIBO_USERNAME", cfg.Username},
			{"WEIBO_PASSWORD", cfg.Password},
			{"GITHUB_REPOSITORY", cfg.Repository},
			{"GITHUB_PERSONAL_ACCESS_TOKEN", cfg.GitHubToken},
		} {
			if req.value == "" {
				return nil, fmt.Errorf("%s is required", req.key)
			}
		}
	}

	if cfg.FeedURL == "" && cfg.Repository != "" {
		feedURL, err := defaultFeedURL(cfg.Repository)
		if err != nil {
			return nil, err
		}
		cfg.FeedURL = feedURL
	}

	var err error
	if cfg.HTTPTimeout, err = durationEnv("HTTP_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPRetry, err = intEnv("HTTP_RETRY", 4); err != nil {
		return nil, err
	}
	if cfg.HTTPRetryInterval, err = durationEnv("HTTP_RETRY_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.DeployPollInterval, err = durationEnv("DEPLOY_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.DeployMaxPolls, err = intEnv("DEPLOY_MAX_POLLS", 360); err != nil {
		return nil, err
	}
	if cfg.FeedMaxEntries, err = intEnv("FEED_MAX_ENTRIES", 300); err != nil {
		return nil, err
	}

	if cfg.Feed, err = loadFeedMeta(os.Getenv("FEED_META_FILE")); err != nil {
		return nil, err
	}
	cfg.Feed.SelfURL = cfg.FeedURL
	cfg.Feed.HubURL = cfg.HubURL

	include, err := filter.Parse(os.Getenv("ENTRY_INCLUDE"), false)
	if err != nil {
		return nil, fmt.Errorf("invalid ENTRY_INCLUDE: %w", err)
	}
	exclude, err := filter.Parse(os.Getenv("ENTRY_EXCLUDE"), true)
	if err != nil {
		return nil, fmt.Errorf("invalid ENTRY_EXCLUDE: %w", err)
	}
	cfg.Filters = append(include, exclude...)

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", raw, err)
		}
		cfg.TelegramChatID = id
	}
	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == 0) {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE %q: %w", cfg.Schedule, err)
	}

	return cfg, nil
}

// TelegramEnabled reports whether announcements should be sent.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func defaultFeedURL(repository string) (string, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", fmt.Errorf("invalid GITHUB_REPOSITORY %q: expected owner/repo", repository)
	}
	return fmt.Sprintf("https://%s.github.io/%s/atom.xml", strings.ToLower(owner), repo), nil
}

func loadFeedMeta(path string) (model.FeedMeta, error) {
	meta := DefaultFeedMeta()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
		if err != nil {
			return meta, fmt.Errorf("read FEED_META_FILE: %w", err)
		}
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return meta, fmt.Errorf("parse FEED_META_FILE: %w", err)
		}
	}

	id, err := uuid.Parse(meta.ID)
	if err != nil {
		return meta, fmt.Errorf("invalid feed id %q: %w", meta.ID, err)
	}
	meta.ID = id.String()
	if meta.Title == "" {
		return meta, fmt.Errorf("feed title is required")
	}
	return meta, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, raw)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", key, raw)
	}
	return n, nil
}
