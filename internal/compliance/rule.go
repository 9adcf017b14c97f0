// Package compliance checks invoice snapshots and externally produced XML
// against a flat registry of XRechnung and ZUGFeRD rules.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"

	"github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/signature"
	"github.com/rezonia/erechnung/internal/xrechnung"
)

// Category groups rules in reports
type Category string

const (
	CategoryStructure Category = "structure"
	CategoryContent   Category = "content"
	CategoryTax       Category = "tax"
	CategoryFormat    Category = "format"
	CategoryBusiness  Category = "business"
	// CategorySystem marks issues synthesized from a failing evaluator
	CategorySystem Category = "system"
)

// Severity of a failed rule
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Standard a rule applies to
type Standard string

const (
	StandardXRechnung Standard = "xrechnung"
	StandardZUGFeRD   Standard = "zugferd"
	StandardBoth      Standard = "both"
)

// ParseStandard parses a standard name; empty means both
func ParseStandard(s string) (Standard, error) {
	switch Standard(strings.ToLower(strings.TrimSpace(s))) {
	case "", StandardBoth:
		return StandardBoth, nil
	case StandardXRechnung:
		return StandardXRechnung, nil
	case StandardZUGFeRD:
		return StandardZUGFeRD, nil
	}
	return "", model.NewInputError("standard", fmt.Sprintf("unsupported standard %q", s))
}

// covers reports whether a rule tagged s runs when target is requested
func (s Standard) covers(target Standard) bool {
	return target == StandardBoth || s == StandardBoth || s == target
}

// Finding describes why a rule did not pass. A nil Finding means the rule passed.
type Finding struct {
	Message      string
	Location     string
	SuggestedFix string
}

// Fail is shorthand for building a Finding
func Fail(location, message, fix string) *Finding {
	return &Finding{Message: message, Location: location, SuggestedFix: fix}
}

// Rule is a single check. Rules are plain records so new jurisdictions are
// added by registering data, not by changing the evaluation loop.
type Rule struct {
	ID       string
	Name     string
	Category Category
	Severity Severity
	Standard Standard
	Evaluate func(in *Input) (*Finding, error)
}

// Input is what a rule evaluates: either a snapshot or a raw XML document.
// Derived views are computed lazily and shared across the rules of one run.
type Input struct {
	Invoice *model.Invoice
	Raw     []byte
	Now     time.Time

	ctx      context.Context
	verifier signature.Verifier
	xmlGen   *xrechnung.Generator

	docOnce sync.Once
	doc     *etree.Document
	docErr  error
}

// Context returns the context of the validation run
func (in *Input) Context() context.Context {
	if in.ctx == nil {
		return context.Background()
	}
	return in.ctx
}

// Verifier returns the configured signature verifier, or nil
func (in *Input) Verifier() signature.Verifier {
	return in.verifier
}

// Document returns the parsed XML. For snapshot inputs this is the generated
// XRechnung document; for raw inputs it is the supplied document.
func (in *Input) Document() (*etree.Document, error) {
	in.docOnce.Do(func() {
		raw := in.Raw
		if raw == nil && in.Invoice != nil {
			gen := in.xmlGen
			if gen == nil {
				gen = xrechnung.NewGenerator()
			}
			raw, in.docErr = gen.Generate(in.Invoice, xrechnung.Options{})
			if in.docErr != nil {
				return
			}
		}
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(raw); err != nil {
			in.docErr = fmt.Errorf("parse XML: %w", err)
			return
		}
		if doc.Root() == nil {
			in.docErr = fmt.Errorf("parse XML: no root element")
			return
		}
		in.doc = doc
	})
	return in.doc, in.docErr
}

// Registry is an ordered collection of rules
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRegistry creates a registry holding rules in the given order
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{}
	r.rules = append(r.rules, rules...)
	return r
}

// Register appends rules
func (r *Registry) Register(rules ...Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rules...)
}

// Rules returns the rules applicable to the standard, in registration order
func (r *Registry) Rules(standard Standard) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Rule
	for _, rule := range r.rules {
		if rule.Standard.covers(standard) {
			out = append(out, rule)
		}
	}
	return out
}

// Len returns the number of registered rules
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
