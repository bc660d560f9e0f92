// Package filter implements the include/exclude rules applied to extracted
// entries before they reach the feed.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"weibo_feed/internal/model"
)

type rule struct {
	filter model.Filter
	re     *regexp.Regexp
}

// Engine evaluates a fixed set of filters.
type Engine struct {
	rules []rule
}

// New compiles filters. Regexp filters are case-insensitive.
func New(filters []model.Filter) (*Engine, error) {
	e := &Engine{rules: make([]rule, 0, len(filters))}
	for _, f := range filters {
		r := rule{filter: f}
		if f.Kind == model.FilterIncludeRe || f.Kind == model.FilterExcludeRe {
			re, err := compile(f.Value)
			if err != nil {
				return nil, fmt.Errorf("filter %q: %w", f.Value, err)
			}
			r.re = re
		}
		e.rules = append(e.rules, r)
	}
	return e, nil
}

// Match checks whether an entry passes the filters.
// If no filters are configured, the entry always passes.
// Include filters use OR logic (at least one must match).
// Exclude filters use AND logic (none must match).
func (e *Engine) Match(entry model.FeedEntry) bool {
	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range e.rules {
		switch r.filter.Kind {
		case model.FilterInclude, model.FilterIncludeRe:
			hasIncludes = true
			if r.matches(entry) {
				anyIncludeMatched = true
			}
		case model.FilterExclude, model.FilterExcludeRe:
			if r.matches(entry) {
				return false
			}
		}
	}

	return !hasIncludes || anyIncludeMatched
}

// Apply returns the entries that pass, in order. Entries are not modified,
// so ids keep the item positions they were extracted with.
func (e *Engine) Apply(entries []model.FeedEntry) []model.FeedEntry {
	if len(e.rules) == 0 {
		return entries
	}
	kept := make([]model.FeedEntry, 0, len(entries))
	for _, entry := range entries {
		if e.Match(entry) {
			kept = append(kept, entry)
		}
	}
	return kept
}

func (r rule) matches(entry model.FeedEntry) bool {
	text := textForScope(entry, r.filter.Scope)
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, strings.ToLower(r.filter.Value))
}

func textForScope(entry model.FeedEntry, scope model.FilterScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(entry.Title)
	case model.ScopeContent:
		return strings.ToLower(entry.Content)
	default:
		return strings.ToLower(entry.Title + " " + entry.Content)
	}
}

func compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}

// Parse turns a comma separated rule list into filters of the include or
// exclude family. A rule may start with "title:" or "content:" to narrow its
// scope, followed by "re:" to mark a regular expression.
func Parse(raw string, exclude bool) ([]model.Filter, error) {
	var filters []model.Filter
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		f := model.Filter{Scope: model.ScopeAll}
		for _, scope := range []model.FilterScope{model.ScopeTitle, model.ScopeContent} {
			if v, ok := strings.CutPrefix(part, string(scope)+":"); ok {
				f.Scope, part = scope, v
				break
			}
		}

		v, isRe := strings.CutPrefix(part, "re:")
		switch {
		case isRe && exclude:
			f.Kind = model.FilterExcludeRe
		case isRe:
			f.Kind = model.FilterIncludeRe
		case exclude:
			f.Kind = model.FilterExclude
		default:
			f.Kind = model.FilterInclude
		}
		if isRe {
			if _, err := compile(v); err != nil {
				return nil, fmt.Errorf("rule %q: %w", part, err)
			}
		}
		if v == "" {
			return nil, fmt.Errorf("rule %q: empty value", part)
		}
		f.Value = v
		filters = append(filters, f)
	}
	return filters, nil
}
