// Package extract decomposes an article body into feed entries.
//
// Extraction runs in two stages. The finder locates the editor fragment
// between fixed delimiters and splits it on the item separator. The
// structural stage validates each item against the known shapes and returns
// a typed outcome, leaving the decision whether a mismatch is fatal to the
// caller.
package extract

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"weibo_feed/internal/httpclient"
	"weibo_feed/internal/model"
)

// Markers of the article body layout.
const (
	FragmentStart = `<div class="WB_editor_iframe_new" node-type="contentBody" style="visibility: hidden">`
	FragmentEnd   = `<p img-box="img-box" class="picbox">`
	ItemSeparator = "\n<ul><br></ul>\n"
	FooterMarker  = "查看或搜索历史推送内容请访问"
	ContentJoiner = "<br>"
)

var (
	// ErrNoFragment is returned when the article body lacks the delimiters.
	ErrNoFragment = errors.New("article fragment not found")
	// ErrItemShape is returned when an item line matches no known shape.
	ErrItemShape = errors.New("unexpected item shape")
)

var (
	titleLineRe  = regexp.MustCompile(`^<p align="justify">(.*?):<a href="([^"]*)"><br>.*?</a></p>$`)
	bulletLineRe = regexp.MustCompile(`^<p align="justify">・\x{a0}(.*?)\x{a0}–\x{a0}<a href="https://sec\.today/user/[-0-9a-f]+/pushes/">.*?</a></p>$`)
	italicRe     = regexp.MustCompile(`</?i>`)
)

// Fragment returns the editor content between FragmentStart and FragmentEnd.
// Whitespace directly after the opening marker and before the closing marker
// is dropped.
func Fragment(body string) (string, error) {
	start := strings.Index(body, FragmentStart)
	if start < 0 {
		return "", fmt.Errorf("%w: opening marker missing", ErrNoFragment)
	}
	rest := body[start+len(FragmentStart):]
	end := strings.Index(rest, FragmentEnd)
	if end < 0 {
		return "", fmt.Errorf("%w: closing marker missing", ErrNoFragment)
	}
	return strings.TrimSpace(rest[:end]), nil
}

// Split breaks a fragment into its items.
func Split(fragment string) []string {
	return strings.Split(fragment, ItemSeparator)
}

// Outcome classifies a parsed item.
type Outcome int

// Item outcomes.
const (
	Parsed Outcome = iota
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Parsed:
		return "parsed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Item is one bulletin decoded from the fragment.
type Item struct {
	Title   string
	Link    string
	Content string
}

// ParseItem decodes a single item. Footer items report Skipped. The first
// line must be the title line; every following line must be a bullet. Bullet
// contents are joined with ContentJoiner. A title-only item has empty
// content.
func ParseItem(raw string) (Item, Outcome, error) {
	if strings.Contains(raw, FooterMarker) {
		return Item{}, Skipped, nil
	}

	lines := strings.Split(strings.TrimSpace(raw), "\n")

	m := titleLineRe.FindStringSubmatch(lines[0])
	if m == nil {
		return Item{}, Parsed, fmt.Errorf("%w: line 1: %q", ErrItemShape, lines[0])
	}
	title, link := m[1], m[2]

	bullets := make([]string, 0, len(lines)-1)
	for i, line := range lines[1:] {
		bm := bulletLineRe.FindStringSubmatch(line)
		if bm == nil {
			return Item{}, Parsed, fmt.Errorf("%w: line %d: %q", ErrItemShape, i+2, line)
		}
		bullets = append(bullets, bm[1])
	}

	return Item{
		Title:   italicRe.ReplaceAllString(html.UnescapeString(title), ""),
		Link:    link,
		Content: html.UnescapeString(strings.Join(bullets, ContentJoiner)),
	}, Parsed, nil
}

// Entries turns an article body into feed entries. Entry ids use the item's
// position among all items, footers included, so ids stay stable.
func Entries(body string, article model.ArticleListing) ([]model.FeedEntry, error) {
	fragment, err := Fragment(body)
	if err != nil {
		return nil, err
	}

	var entries []model.FeedEntry
	for idx, raw := range Split(fragment) {
		item, outcome, err := ParseItem(raw)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", idx, err)
		}
		if outcome == Skipped {
			continue
		}
		entries = append(entries, model.FeedEntry{
			ID:      model.EntryID(article.URL, idx),
			Updated: article.Published,
			Title:   item.Title,
			Link:    item.Link,
			Content: item.Content,
		})
	}
	return entries, nil
}

// HTTPClient is the subset of httpclient.Client used by the Extractor.
type HTTPClient interface {
	Get(ctx context.Context, rawURL string, opts ...httpclient.Option) (*httpclient.Response, error)
}

// Extractor fetches articles and extracts their entries.
type Extractor struct {
	client HTTPClient
	log    *slog.Logger
}

// New creates an Extractor.
func New(client HTTPClient, log *slog.Logger) *Extractor {
	return &Extractor{client: client, log: log}
}

// Extract fetches one article and returns its entries in item order.
func (e *Extractor) Extract(ctx context.Context, article model.ArticleListing) ([]model.FeedEntry, error) {
	e.log.Info("fetching article", "title", article.Title, "url", article.URL)

	resp, err := e.client.Get(ctx, article.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch article %s: %w", article.URL, err)
	}

	entries, err := Entries(resp.Text(), article)
	if err != nil {
		return nil, fmt.Errorf("extract article %s: %w", article.URL, err)
	}
	for _, entry := range entries {
		e.log.Info("entry", "title", entry.Title, "id", entry.ID)
	}
	return entries, nil
}
