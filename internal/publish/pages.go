package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"weibo_feed/internal/httpclient"
)

// DefaultAPIURL is the GitHub REST API root.
const DefaultAPIURL = "https://api.github.com"

// Pages build states reported by the API.
const (
	StatusBuilt   = "built"
	StatusErrored = "errored"
)

var (
	// ErrBuildFailed is returned when the Pages build ends in the errored state.
	ErrBuildFailed = errors.New("pages build errored")
	// ErrPollLimit is returned when the build is still running after MaxPolls
	// status checks.
	ErrPollLimit = errors.New("pages build did not finish")
)

// HTTPClient is the subset of httpclient.Client used by the Deployer.
type HTTPClient interface {
	Get(ctx context.Context, rawURL string, opts ...httpclient.Option) (*httpclient.Response, error)
	Post(ctx context.Context, rawURL string, opts ...httpclient.Option) (*httpclient.Response, error)
}

type pagesStatus struct {
	Status string `json:"status"`
}

// Deployer requests a GitHub Pages build and waits for it to finish.
type Deployer struct {
	client       HTTPClient
	repository   string
	token        string
	log          *slog.Logger
	APIURL       string
	PollInterval time.Duration
	// MaxPolls bounds the number of status checks; 0 waits forever.
	MaxPolls int
}

// NewDeployer creates a Deployer for repository ("owner/repo").
func NewDeployer(client HTTPClient, repository, token string, log *slog.Logger) *Deployer {
	return &Deployer{
		client:       client,
		repository:   repository,
		token:        token,
		log:          log,
		APIURL:       DefaultAPIURL,
		PollInterval: 5 * time.Second,
		MaxPolls:     360,
	}
}

// Deploy triggers a build and blocks until it is built or errored.
func (d *Deployer) Deploy(ctx context.Context) error {
	base := fmt.Sprintf("%s/repos/%s/pages", strings.TrimSuffix(d.APIURL, "/"), d.repository)
	d.log.Info("deploy pages", "repository", d.repository)

	resp, err := d.client.Post(ctx, base+"/builds", d.headers(httpclient.WithStatus(http.StatusCreated))...)
	if err != nil {
		return fmt.Errorf("request pages build: %w", err)
	}
	var st pagesStatus
	if err := resp.JSON(&st); err != nil {
		return fmt.Errorf("request pages build: %w", err)
	}

	for polls := 0; ; polls++ {
		d.log.Info("pages build", "status", st.Status)
		switch st.Status {
		case StatusBuilt:
			return nil
		case StatusErrored:
			return fmt.Errorf("%w: %s", ErrBuildFailed, d.repository)
		}

		if d.MaxPolls > 0 && polls >= d.MaxPolls {
			return fmt.Errorf("%w after %d checks (last status %q)", ErrPollLimit, polls, st.Status)
		}
		if err := sleep(ctx, d.PollInterval); err != nil {
			return fmt.Errorf("wait for pages build: %w", err)
		}

		resp, err := d.client.Get(ctx, base, d.headers()...)
		if err != nil {
			return fmt.Errorf("check pages build: %w", err)
		}
		st = pagesStatus{}
		if err := resp.JSON(&st); err != nil {
			return fmt.Errorf("check pages build: %w", err)
		}
	}
}

func (d *Deployer) headers(opts ...httpclient.Option) []httpclient.Option {
	return append([]httpclient.Option{
		httpclient.WithHeader("Accept", "application/vnd.github.v3+json"),
		httpclient.WithHeader("Authorization", "Bearer "+d.token),
	}, opts...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
