// Package listing scrapes the article index and decides which articles are
// newer than the persisted watermark.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"weibo_feed/internal/httpclient"
	"weibo_feed/internal/model"
)

// Source site locations.
const (
	DefaultIndexURL = "https://www.weibo.com/p/1006065582522936/wenzhang"
	DefaultOrigin   = "https://www.weibo.com"
)

const trackingSuffix = "&mod=zwenzhang"

// ErrListingShape is returned when a matched listing entry violates the
// expected structure.
var ErrListingShape = errors.New("unexpected listing shape")

var dateRe = regexp.MustCompile(`^(\d{4,}) 年 (\d{2}) 月 (\d{2}) 日 (\d{2}):(\d{2})$`)

// HTTPClient is the subset of httpclient.Client used by the Fetcher.
type HTTPClient interface {
	Get(ctx context.Context, rawURL string, opts ...httpclient.Option) (*httpclient.Response, error)
}

// Fetcher downloads and parses the article index page.
type Fetcher struct {
	client   HTTPClient
	log      *slog.Logger
	IndexURL string
	Origin   string
}

// New creates a Fetcher for the default index page.
func New(client HTTPClient, log *slog.Logger) *Fetcher {
	return &Fetcher{
		client:   client,
		log:      log,
		IndexURL: DefaultIndexURL,
		Origin:   DefaultOrigin,
	}
}

// List fetches the index page and returns its articles in page order.
func (f *Fetcher) List(ctx context.Context) ([]model.ArticleListing, error) {
	f.log.Info("fetching article list", "url", f.IndexURL)

	resp, err := f.client.Get(ctx, f.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	articles, err := Parse(resp.Text(), f.Origin)
	if err != nil {
		return nil, err
	}
	f.log.Debug("parsed article list", "count", len(articles))
	return articles, nil
}

// Parse extracts articles from the index HTML. Each article is an anchor
// with class "W_autocut S_txt1" whose enclosing block is followed by a
// "subinfo_box" carrying the publish date. Anchors without a recognizable
// date are ignored.
func Parse(body, origin string) ([]model.ArticleListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse index html: %w", err)
	}

	var (
		articles []model.ArticleListing
		shapeErr error
	)
	doc.Find("a.W_autocut.S_txt1").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		dateText := a.Parent().Parent().NextFiltered("div.subinfo_box").Find("span.subinfo.S_txt2").First().Text()
		published, ok := ParseDate(strings.TrimSpace(dateText))
		if !ok {
			return true
		}

		articleURL, err := absoluteURL(href, origin)
		if err != nil {
			shapeErr = err
			return false
		}

		articles = append(articles, model.ArticleListing{
			URL:       articleURL,
			Title:     strings.TrimSpace(a.Text()),
			Published: published,
		})
		return true
	})
	if shapeErr != nil {
		return nil, shapeErr
	}
	return articles, nil
}

// ParseDate parses "YYYY 年 MM 月 DD 日 HH:MM" in UTC+8.
func ParseDate(s string) (time.Time, bool) {
	m := dateRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	var n [5]int
	for i := range n {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return time.Time{}, false
		}
		n[i] = v
	}
	return time.Date(n[0], time.Month(n[1]), n[2], n[3], n[4], 0, 0, model.CST), true
}

func absoluteURL(href, origin string) (string, error) {
	href = strings.TrimSuffix(href, trackingSuffix)
	if !strings.HasPrefix(href, "/") {
		return "", fmt.Errorf("%w: article link %q is not site-relative", ErrListingShape, href)
	}
	return strings.TrimSuffix(origin, "/") + href, nil
}

// Decision is the outcome of comparing a listing against the watermark.
type Decision struct {
	Articles  []model.ArticleListing `json:"articles"`
	New       []model.ArticleListing `json:"new"`
	Previous  time.Time              `json:"previous_watermark"`
	Watermark time.Time              `json:"watermark"`
}

// HasNew reports whether any article is newer than the previous watermark.
func (d *Decision) HasNew() bool {
	return len(d.New) > 0
}

// Detect selects the articles published strictly after watermark, keeping
// listing order. The resulting watermark is the maximum publish time over
// every listed article and never falls below the input.
func Detect(articles []model.ArticleListing, watermark time.Time) *Decision {
	d := &Decision{
		Articles:  articles,
		Previous:  watermark,
		Watermark: watermark,
	}
	for _, a := range articles {
		if a.Published.After(watermark) {
			d.New = append(d.New, a)
		}
		if a.Published.After(d.Watermark) {
			d.Watermark = a.Published
		}
	}
	return d
}
