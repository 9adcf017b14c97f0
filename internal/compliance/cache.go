package compliance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/rezonia/erechnung/internal/model"
)

// Cache TTL bounds for CachedValidator
const (
	DefaultCacheTTL = 5 * time.Minute
	MaxCacheTTL     = time.Hour
)

// CachedValidator memoizes reports for aggregate queries such as dashboards.
// Entries expire after the TTL; a cached report is never authoritative beyond it.
type CachedValidator struct {
	validator *Validator
	reports   *cache.Cache
}

// NewCachedValidator wraps v. A ttl of zero uses DefaultCacheTTL; larger
// values are capped at MaxCacheTTL.
func NewCachedValidator(v *Validator, ttl time.Duration) *CachedValidator {
	switch {
	case ttl <= 0:
		ttl = DefaultCacheTTL
	case ttl > MaxCacheTTL:
		ttl = MaxCacheTTL
	}
	return &CachedValidator{
		validator: v,
		reports:   cache.New(ttl, 2*ttl),
	}
}

// Validate returns a copy of the cached report for an identical snapshot and
// standard, validating and caching on a miss
func (c *CachedValidator) Validate(ctx context.Context, inv *model.Invoice, standard Standard) *Report {
	key, ok := snapshotKey(inv, standard)
	if !ok {
		return c.validator.Validate(ctx, inv, standard)
	}
	if cached, found := c.reports.Get(key); found {
		return cached.(*Report).clone()
	}
	report := c.validator.Validate(ctx, inv, standard)
	c.reports.SetDefault(key, report.clone())
	return report
}

// Summary aggregates the reports of many invoices
type Summary struct {
	Standard     Standard       `json:"standard"`
	Invoices     int            `json:"invoices"`
	Valid        int            `json:"valid"`
	Invalid      int            `json:"invalid"`
	AverageScore float64        `json:"averageScore"`
	ErrorCount   int            `json:"errorCount"`
	WarningCount int            `json:"warningCount"`
	ByRule       map[string]int `json:"byRule"`
}

// Summarize validates every invoice, reusing cached reports, and counts the
// outcomes. Failing rules are counted once per invoice.
func (c *CachedValidator) Summarize(ctx context.Context, invoices []*model.Invoice, standard Standard) Summary {
	s := Summary{Standard: standard, ByRule: make(map[string]int)}
	total := 0
	for _, inv := range invoices {
		if ctx.Err() != nil {
			break
		}
		r := c.Validate(ctx, inv, standard)
		s.Invoices++
		if r.Valid() {
			s.Valid++
		} else {
			s.Invalid++
		}
		total += r.Score
		s.ErrorCount += r.ErrorCount
		s.WarningCount += r.WarningCount

		seen := make(map[string]bool)
		for _, is := range r.Issues {
			if !seen[is.RuleID] {
				seen[is.RuleID] = true
				s.ByRule[is.RuleID]++
			}
		}
	}
	if s.Invoices > 0 {
		s.AverageScore = float64(total) / float64(s.Invoices)
	}
	return s
}

// Flush drops all cached reports
func (c *CachedValidator) Flush() {
	c.reports.Flush()
}

// Len returns the number of cached reports
func (c *CachedValidator) Len() int {
	return c.reports.ItemCount()
}

func snapshotKey(inv *model.Invoice, standard Standard) (string, bool) {
	if inv == nil {
		return "", false
	}
	data, err := json.Marshal(inv)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return string(standard) + ":" + hex.EncodeToString(sum[:]), true
}
