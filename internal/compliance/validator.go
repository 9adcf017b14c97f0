package compliance

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/rezonia/erechnung/internal/logger"
	"github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/signature"
	"github.com/rezonia/erechnung/internal/xrechnung"
)

// Issue is one failed rule
type Issue struct {
	RuleID       string   `json:"ruleId"`
	RuleName     string   `json:"ruleName"`
	Category     Category `json:"category"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
	Location     string   `json:"location,omitempty"`
	SuggestedFix string   `json:"suggestedFix,omitempty"`
}

// Certification tells whether a standard had no error-severity failures
type Certification struct {
	XRechnung bool `json:"xrechnung"`
	ZUGFeRD   bool `json:"zugferd"`
}

// Report is the outcome of one validation run. Issues follow rule order.
type Report struct {
	Standard       Standard      `json:"standard"`
	Score          int           `json:"score"`
	ErrorCount     int           `json:"errorCount"`
	WarningCount   int           `json:"warningCount"`
	InfoCount      int           `json:"infoCount"`
	Issues         []Issue       `json:"issues"`
	Certification  Certification `json:"certification"`
	RulesEvaluated int           `json:"rulesEvaluated"`
	RulesPassed    int           `json:"rulesPassed"`
	ValidatedAt    time.Time     `json:"validatedAt"`
}

func (r *Report) clone() *Report {
	out := *r
	out.Issues = make([]Issue, len(r.Issues))
	copy(out.Issues, r.Issues)
	return &out
}

// Valid reports whether no error-severity issue was found
func (r *Report) Valid() bool {
	return r.ErrorCount == 0
}

// Validator runs registered rules. It holds no per-call state and is safe for
// concurrent use.
type Validator struct {
	rules    *Registry
	xmlRules *Registry
	xmlGen   *xrechnung.Generator
	verifier signature.Verifier
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Validator
type Option func(*Validator)

// WithRules replaces the snapshot rule registry
func WithRules(r *Registry) Option {
	return func(v *Validator) { v.rules = r }
}

// WithXMLRules replaces the raw XML rule registry
func WithXMLRules(r *Registry) Option {
	return func(v *Validator) { v.xmlRules = r }
}

// WithVerifier enables signature checks in ValidateXML
func WithVerifier(sv signature.Verifier) Option {
	return func(v *Validator) { v.verifier = sv }
}

// WithClock sets the time source used for date rules and ValidatedAt
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(v *Validator) { v.log = l }
}

// NewValidator creates a validator with the default rule sets
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		rules:    NewRegistry(DefaultRules()...),
		xmlRules: NewRegistry(DefaultXMLRules()...),
		xmlGen:   xrechnung.NewGenerator(),
		now:      time.Now,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Registry returns the snapshot rule registry for registering more rules
func (v *Validator) Registry() *Registry {
	return v.rules
}

// Validate checks a snapshot against every rule of the standard
func (v *Validator) Validate(ctx context.Context, inv *model.Invoice, standard Standard) *Report {
	now := v.now()
	if inv == nil {
		return inputReport(standard, now, "CONT-00", "Invoice snapshot", "invoice", "Invoice snapshot is missing")
	}

	in := &Input{Invoice: inv, Now: now, ctx: ctx, xmlGen: v.xmlGen}
	report := v.run(in, v.rules.Rules(standard), standard, now)

	v.log.Debug().
		Str("invoice_number", inv.InvoiceNumber).
		Str("standard", string(standard)).
		Int("score", report.Score).
		Int("errors", report.ErrorCount).
		Msg("invoice validated")
	return report
}

// ValidateXML checks an externally produced XRechnung document
func (v *Validator) ValidateXML(ctx context.Context, raw []byte) *Report {
	now := v.now()
	in := &Input{Raw: raw, Now: now, ctx: ctx, verifier: v.verifier}
	if _, err := in.Document(); err != nil {
		return inputReport(StandardXRechnung, now, "XML-00", "Well-formed XML", "/", err.Error())
	}
	return v.run(in, v.xmlRules.Rules(StandardXRechnung), StandardXRechnung, now)
}

func (v *Validator) run(in *Input, rules []Rule, standard Standard, now time.Time) *Report {
	report := &Report{
		Standard:    standard,
		Issues:      make([]Issue, 0),
		ValidatedAt: now.UTC(),
	}

	failedErrors := map[Standard]bool{}
	for _, rule := range rules {
		report.RulesEvaluated++

		finding, err := evaluate(rule, in)
		if err != nil {
			v.log.Warn().Err(err).Str("rule_id", rule.ID).Msg("rule evaluation failed")
			report.add(Issue{
				RuleID:   "SYS-" + rule.ID,
				RuleName: rule.Name,
				Category: CategorySystem,
				Severity: SeverityError,
				Message:  fmt.Sprintf("Rule %s could not be evaluated: %v", rule.ID, err),
				Location: "system",
			})
			failedErrors[rule.Standard] = true
			continue
		}
		if finding == nil {
			report.RulesPassed++
			continue
		}

		report.add(Issue{
			RuleID:       rule.ID,
			RuleName:     rule.Name,
			Category:     rule.Category,
			Severity:     rule.Severity,
			Message:      finding.Message,
			Location:     finding.Location,
			SuggestedFix: finding.SuggestedFix,
		})
		if rule.Severity == SeverityError {
			failedErrors[rule.Standard] = true
		}
	}

	report.Score = score(report.RulesPassed, report.RulesEvaluated)
	report.Certification = certify(standard, failedErrors)
	return report
}

// evaluate runs one rule, turning a panic into an error
func evaluate(rule Rule, in *Input) (finding *Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			finding, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	if rule.Evaluate == nil {
		return nil, fmt.Errorf("rule has no evaluator")
	}
	return rule.Evaluate(in)
}

func (r *Report) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
	switch issue.Severity {
	case SeverityError:
		r.ErrorCount++
	case SeverityWarning:
		r.WarningCount++
	default:
		r.InfoCount++
	}
}

func score(passed, applicable int) int {
	if applicable == 0 {
		return 100
	}
	return int(math.Round(100 * float64(passed) / float64(applicable)))
}

// certify marks each requested standard certified when none of its rules
// (including "both" rules) failed with error severity. Standards that were
// not requested stay uncertified.
func certify(requested Standard, failed map[Standard]bool) Certification {
	var c Certification
	if StandardXRechnung.covers(requested) {
		c.XRechnung = !failed[StandardXRechnung] && !failed[StandardBoth]
	}
	if StandardZUGFeRD.covers(requested) {
		c.ZUGFeRD = !failed[StandardZUGFeRD] && !failed[StandardBoth]
	}
	return c
}

func inputReport(standard Standard, now time.Time, ruleID, name, location, message string) *Report {
	r := &Report{
		Standard:       standard,
		Issues:         make([]Issue, 0, 1),
		RulesEvaluated: 1,
		ValidatedAt:    now.UTC(),
	}
	r.add(Issue{
		RuleID:   ruleID,
		RuleName: name,
		Category: CategoryStructure,
		Severity: SeverityError,
		Message:  message,
		Location: location,
	})
	return r
}
