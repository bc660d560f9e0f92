// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"time"
)

// Epoch is the watermark used when no previous run has been recorded.
var Epoch = time.Unix(0, 0).UTC()

// CST is the fixed UTC+8 zone the source site publishes its dates in.
var CST = time.FixedZone("CST", 8*60*60)

// ArticleListing is one article found on the source index page.
type ArticleListing struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Published time.Time `json:"published"`
}

// FeedEntry is a single syndicated item extracted from an article.
type FeedEntry struct {
	ID      string
	Updated time.Time
	Title   string
	Link    string
	Content string
}

// EntryID derives the stable entry identity from the article URL and the
// item's 0-based position inside that article.
func EntryID(articleURL string, index int) string {
	return fmt.Sprintf("%s#%d", articleURL, index)
}

// FeedMeta is the static identity and presentation metadata of the feed.
type FeedMeta struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title"`
	AuthorName string `yaml:"author_name"`
	AuthorURI  string `yaml:"author_uri"`
	Logo       string `yaml:"logo"`
	Language   string `yaml:"language"`
	SelfURL    string `yaml:"-"`
	HubURL     string `yaml:"-"`
}

// FilterKind defines the type of filter rule.
type FilterKind string

// Supported filter kinds.
const (
	FilterInclude   FilterKind = "include"
	FilterExclude   FilterKind = "exclude"
	FilterIncludeRe FilterKind = "include_re"
	FilterExcludeRe FilterKind = "exclude_re"
)

// FilterScope selects which entry fields a filter inspects.
type FilterScope string

// Supported filter scopes.
const (
	ScopeAll     FilterScope = "all"
	ScopeTitle   FilterScope = "title"
	ScopeContent FilterScope = "content"
)

// Filter is a single include/exclude rule applied to extracted entries.
type Filter struct {
	Kind  FilterKind
	Scope FilterScope
	Value string
}
