// Package runner sequences one pass of the pipeline: novelty check, login,
// extraction, feed synthesis, commit, deploy and notification.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"weibo_feed/internal/atom"
	"weibo_feed/internal/filter"
	"weibo_feed/internal/listing"
	"weibo_feed/internal/model"
	"weibo_feed/internal/storage"
)

// Session establishes the authenticated session used for article pages.
type Session interface {
	Login(ctx context.Context) error
}

// Lister returns the current article index.
type Lister interface {
	List(ctx context.Context) ([]model.ArticleListing, error)
}

// Extractor turns one article into feed entries.
type Extractor interface {
	Extract(ctx context.Context, article model.ArticleListing) ([]model.FeedEntry, error)
}

// Committer persists the written files.
type Committer interface {
	Commit(ctx context.Context) error
}

// Deployer waits for the published site to be rebuilt.
type Deployer interface {
	Deploy(ctx context.Context) error
}

// Hub is told when the feed changes.
type Hub interface {
	Publish(ctx context.Context, feedURL string) error
}

// Announcer sends an optional human-readable notice.
type Announcer interface {
	Announce(ctx context.Context, entries []model.FeedEntry) error
}

// Deps are the collaborators of a Runner. Announcer and Filter may be nil.
type Deps struct {
	Session   Session
	Lister    Lister
	Extractor Extractor
	Store     storage.Storage
	Filter    *filter.Engine
	Committer Committer
	Deployer  Deployer
	Hub       Hub
	Announcer Announcer
}

// Runner executes runs. It is not safe for concurrent use.
type Runner struct {
	deps       Deps
	meta       model.FeedMeta
	maxEntries int
	log        *slog.Logger
}

// New creates a Runner publishing a feed described by meta, keeping at most
// maxEntries entries (0 keeps all).
func New(deps Deps, meta model.FeedMeta, maxEntries int, log *slog.Logger) *Runner {
	return &Runner{deps: deps, meta: meta, maxEntries: maxEntries, log: log}
}

// Result summarizes a completed run.
type Result struct {
	Previous  time.Time
	Watermark time.Time
	Articles  []model.ArticleListing
	Entries   []model.FeedEntry
	Published bool
}

// Check loads the watermark and compares the current listing against it.
// It never logs in and never writes.
func (r *Runner) Check(ctx context.Context) (*listing.Decision, error) {
	watermark, err := r.deps.Store.LoadWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	r.log.Debug("loaded watermark", "watermark", watermark)

	articles, err := r.deps.Lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return listing.Detect(articles, watermark), nil
}

// Run performs one pass. When nothing is newer than the watermark it returns
// without side effects. Any failure aborts the pass.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	d, err := r.Check(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Previous: d.Previous, Watermark: d.Previous, Articles: d.New}
	if !d.HasNew() {
		r.log.Info("new articles not found", "watermark", d.Previous)
		return res, nil
	}
	r.log.Info("new articles found", "count", len(d.New), "watermark", d.Watermark)

	if err := r.deps.Session.Login(ctx); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	var fresh []model.FeedEntry
	for _, article := range d.New {
		entries, err := r.deps.Extractor.Extract(ctx, article)
		if err != nil {
			return nil, err
		}
		fresh = append(fresh, entries...)
	}
	if r.deps.Filter != nil {
		kept := r.deps.Filter.Apply(fresh)
		if dropped := len(fresh) - len(kept); dropped > 0 {
			r.log.Info("filtered entries", "dropped", dropped)
		}
		fresh = kept
	}

	if err := r.writeFeed(ctx, fresh, d.Watermark); err != nil {
		return nil, err
	}
	res.Watermark = d.Watermark
	res.Entries = fresh

	if err := r.deps.Committer.Commit(ctx); err != nil {
		return nil, err
	}
	if err := r.deps.Deployer.Deploy(ctx); err != nil {
		return nil, err
	}
	if err := r.deps.Hub.Publish(ctx, r.meta.SelfURL); err != nil {
		return nil, err
	}
	res.Published = true

	if r.deps.Announcer != nil {
		if err := r.deps.Announcer.Announce(ctx, fresh); err != nil {
			r.log.Error("announce", "error", err)
		}
	}

	r.log.Info("run complete", "entries", len(fresh), "watermark", d.Watermark)
	return res, nil
}

// writeFeed merges fresh entries into the previous document and writes it,
// followed by the watermark.
func (r *Runner) writeFeed(ctx context.Context, fresh []model.FeedEntry, watermark time.Time) error {
	previous, err := r.previousEntries(ctx)
	if err != nil {
		return err
	}
	entries := atom.Merge(fresh, previous, r.maxEntries)

	data, err := atom.Build(r.meta, watermark, entries).Marshal()
	if err != nil {
		return err
	}
	if err := r.deps.Store.SaveFeed(ctx, data); err != nil {
		return fmt.Errorf("save feed: %w", err)
	}
	if err := r.deps.Store.SaveWatermark(ctx, watermark); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	r.log.Info("feed written", "entries", len(entries), "new", len(fresh))
	return nil
}

func (r *Runner) previousEntries(ctx context.Context) ([]model.FeedEntry, error) {
	data, err := r.deps.Store.LoadFeed(ctx)
	if err != nil {
		return nil, fmt.Errorf("load feed: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	entries, err := atom.Parse(data)
	if err != nil {
		r.log.Warn("previous feed unreadable, starting a new history", "error", err)
		return nil, nil
	}
	return entries, nil
}
