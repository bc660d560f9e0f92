// Package atom builds the Atom document published for the feed and reads a
// previously published document back into entries.
package atom

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"weibo_feed/internal/model"
)

// Feed is the root element of an Atom document.
type Feed struct {
	XMLName xml.Name `xml:"http://www.w3.org/2005/Atom feed"`
	Lang    string   `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	ID      string   `xml:"id"`
	Title   string   `xml:"title"`
	Updated string   `xml:"updated"`
	Links   []Link   `xml:"link"`
	Author  *Person  `xml:"author,omitempty"`
	Logo    string   `xml:"logo,omitempty"`
	Entries []Entry  `xml:"entry"`
}

// Link is an Atom link element.
type Link struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr,omitempty"`
}

// Person is an Atom person construct.
type Person struct {
	Name string `xml:"name"`
	URI  string `xml:"uri,omitempty"`
}

// Entry is one Atom entry.
type Entry struct {
	ID      string  `xml:"id"`
	Title   string  `xml:"title"`
	Updated string  `xml:"updated"`
	Link    Link    `xml:"link"`
	Content Content `xml:"content"`
}

// Content carries escaped HTML.
type Content struct {
	Type string `xml:"type,attr"`
	Body string `xml:",chardata"`
}

// Build assembles the document from the static metadata and the entries in
// the given order. updated becomes the feed-level updated time.
func Build(meta model.FeedMeta, updated time.Time, entries []model.FeedEntry) *Feed {
	f := &Feed{
		Lang:    meta.Language,
		ID:      "urn:uuid:" + meta.ID,
		Title:   meta.Title,
		Updated: formatTime(updated),
		Logo:    meta.Logo,
	}
	if meta.SelfURL != "" {
		f.Links = append(f.Links, Link{Href: meta.SelfURL, Rel: "self"})
	}
	if meta.HubURL != "" {
		f.Links = append(f.Links, Link{Href: meta.HubURL, Rel: "hub"})
	}
	if meta.AuthorName != "" {
		f.Author = &Person{Name: meta.AuthorName, URI: meta.AuthorURI}
	}

	f.Entries = make([]Entry, 0, len(entries))
	for _, e := range entries {
		f.Entries = append(f.Entries, Entry{
			ID:      e.ID,
			Title:   e.Title,
			Updated: formatTime(e.Updated),
			Link:    Link{Href: e.Link, Rel: "alternate"},
			Content: Content{Type: "html", Body: e.Content},
		})
	}
	return f
}

// Marshal renders the document with an XML declaration.
func (f *Feed) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode atom: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Parse reads entries back from a published document, preserving document
// order.
func Parse(data []byte) ([]model.FeedEntry, error) {
	feed, err := gofeed.NewParser().ParseString(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	if feed.FeedType != "atom" {
		return nil, fmt.Errorf("parse feed: expected atom, got %q", feed.FeedType)
	}

	entries := make([]model.FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.GUID == "" {
			continue
		}
		e := model.FeedEntry{
			ID:      item.GUID,
			Title:   item.Title,
			Link:    item.Link,
			Content: item.Content,
		}
		if item.UpdatedParsed != nil {
			e.Updated = *item.UpdatedParsed
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Merge places fresh entries first, followed by previous entries whose ids
// were not reproduced. A positive limit caps the result.
func Merge(fresh, previous []model.FeedEntry, limit int) []model.FeedEntry {
	seen := make(map[string]bool, len(fresh))
	merged := make([]model.FeedEntry, 0, len(fresh)+len(previous))
	for _, e := range fresh {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		merged = append(merged, e)
	}
	for _, e := range previous {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		merged = append(merged, e)
	}
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
