package usecase

import (
	"cmp"
	"regexp"
	"slices"
	"sync"

	"github.com/kirillkom/papertrellis/internal/core/domain"
)

// Template patterns are evaluated case-insensitive and multi-line.
const patternFlags = "(?im)"

// maxCachedPatterns bounds the compiled pattern cache. Templates are edited
// at runtime, so patterns of deleted or changed templates must age out.
const maxCachedPatterns = 1024

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// patternCache drops everything once it reaches its limit. The live
// templates refill it within one decision.
type patternCache struct {
	mu      sync.Mutex
	limit   int
	entries map[string]compiledPattern
}

func newPatternCache(limit int) *patternCache {
	return &patternCache{limit: limit, entries: make(map[string]compiledPattern)}
}

func (c *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cp, ok := c.entries[pattern]; ok {
		return cp.re, cp.err
	}
	if len(c.entries) >= c.limit {
		clear(c.entries)
	}
	re, err := regexp.Compile(patternFlags + pattern)
	c.entries[pattern] = compiledPattern{re: re, err: err}
	return re, err
}

func (c *patternCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

var sharedPatterns = newPatternCache(maxCachedPatterns)

func compilePattern(pattern string) (*regexp.Regexp, error) {
	return sharedPatterns.compile(pattern)
}

// OrderTemplates returns a copy of snapshot in evaluation order: priority
// ascending, then creation time, then id.
func OrderTemplates(snapshot []domain.Template) []domain.Template {
	ordered := slices.Clone(snapshot)
	slices.SortStableFunc(ordered, func(a, b domain.Template) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ordered
}

// MatchTemplate returns the first enabled template in snapshot order whose
// match patterns accept text.
func MatchTemplate(text string, snapshot []domain.Template) (*domain.Template, bool) {
	for _, tpl := range OrderTemplates(snapshot) {
		if !tpl.Enabled {
			continue
		}
		if EvaluateTemplate(tpl, text).Matched {
			matched := tpl
			return &matched, true
		}
	}
	return nil, false
}

// MatchReport is the per-pattern outcome of one template.
type MatchReport struct {
	Matched bool
	Hits    []domain.PatternHit
}

// EvaluateTemplate ignores Enabled. A template without patterns never matches
// in either mode. An invalid pattern counts as a miss.
func EvaluateTemplate(tpl domain.Template, text string) MatchReport {
	report := MatchReport{Hits: make([]domain.PatternHit, 0, len(tpl.MatchPatterns))}
	if len(tpl.MatchPatterns) == 0 {
		return report
	}

	hits := 0
	for _, pattern := range tpl.MatchPatterns {
		hit := domain.PatternHit{Pattern: pattern}
		re, err := compilePattern(pattern)
		switch {
		case err != nil:
			hit.Invalid = true
		case re.MatchString(text):
			hit.Matched = true
			hits++
		}
		report.Hits = append(report.Hits, hit)
	}

	if tpl.MatchMode == domain.MatchAny {
		report.Matched = hits > 0
	} else {
		report.Matched = hits == len(tpl.MatchPatterns)
	}
	return report
}
