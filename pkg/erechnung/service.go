package erechnung

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/rezonia/erechnung/internal/advisor"
	"github.com/rezonia/erechnung/internal/compliance"
	"github.com/rezonia/erechnung/internal/delivery"
	"github.com/rezonia/erechnung/internal/document"
	"github.com/rezonia/erechnung/internal/export"
	"github.com/rezonia/erechnung/internal/logger"
	"github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/zugferd"
)

var (
	// ErrDeliveryDisabled is returned by delivery calls when no orchestrator is configured
	ErrDeliveryDisabled = errors.New("delivery is not configured")
	// ErrAdvisorDisabled is returned by Explain when no LLM key is configured
	ErrAdvisorDisabled = errors.New("remediation advisor is not configured")
)

// Service is the single entry point to generation, validation, export and delivery.
// It is safe for concurrent use.
type Service struct {
	generator   *document.Generator
	validator   *compliance.Validator
	cache       *compliance.CachedValidator
	exporter    *export.Exporter
	delivery    *delivery.Orchestrator
	advisor     *advisor.Advisor
	profile     zugferd.Profile
	concurrency int
	cacheTTL    time.Duration
	now         func() time.Time
	log         zerolog.Logger
	closers     []func()
}

// Option configures a Service
type Option func(*Service)

// WithDelivery enables delivery through o
func WithDelivery(o *delivery.Orchestrator) Option {
	return func(s *Service) { s.delivery = o }
}

// WithAdvisor enables remediation advice
func WithAdvisor(a *advisor.Advisor) Option {
	return func(s *Service) { s.advisor = a }
}

// WithValidator replaces the default compliance validator
func WithValidator(v *compliance.Validator) Option {
	return func(s *Service) { s.validator = v }
}

// WithCacheTTL sets how long validation reports are reused
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.cacheTTL = ttl }
}

// WithProfile sets the ZUGFeRD profile used when a call does not name one
func WithProfile(p zugferd.Profile) Option {
	return func(s *Service) { s.profile = p }
}

// WithExportConcurrency sets the batch export parallelism default
func WithExportConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// WithClock sets the time source for generation and validation
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a service. Without WithDelivery the delivery calls
// return ErrDeliveryDisabled.
func NewService(opts ...Option) *Service {
	s := &Service{
		profile:     zugferd.DefaultProfile,
		concurrency: export.DefaultConcurrency,
		cacheTTL:    compliance.DefaultCacheTTL,
		now:         time.Now,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.generator = document.NewGenerator().WithClock(s.now)
	if s.validator == nil {
		s.validator = compliance.NewValidator(
			compliance.WithClock(s.now),
			compliance.WithLogger(s.log.With().Str("component", "compliance").Logger()),
		)
	}
	s.cache = compliance.NewCachedValidator(s.validator, s.cacheTTL)
	s.exporter = export.NewExporter(s.generator,
		export.WithClock(s.now),
		export.WithLogger(s.log.With().Str("component", "export").Logger()),
	)
	return s
}

// Generate builds one artifact
func (s *Service) Generate(ctx context.Context, inv *Invoice, format Format, opts GenerateOptions) (*GeneratedArtifact, error) {
	if opts.Profile == "" {
		opts.Profile = s.profile
	}
	return s.generator.Generate(ctx, inv, format, opts)
}

// Validate checks an invoice against a standard
func (s *Service) Validate(ctx context.Context, inv *Invoice, standard Standard) *ComplianceReport {
	return s.validator.Validate(ctx, inv, standard)
}

// ComplianceSummary aggregates validation outcomes over many invoices. Reports
// of unchanged invoices come from a short-lived cache.
func (s *Service) ComplianceSummary(ctx context.Context, invoices []*Invoice, standard Standard) ComplianceSummary {
	return s.cache.Summarize(ctx, invoices, standard)
}

// ValidateXML checks a received XRechnung document
func (s *Service) ValidateXML(ctx context.Context, raw []byte) *ComplianceReport {
	return s.validator.ValidateXML(ctx, raw)
}

// Explain asks the advisor how to fix the issues of a report
func (s *Service) Explain(ctx context.Context, inv *Invoice, report *ComplianceReport) (*Remediation, error) {
	if s.advisor == nil {
		return nil, ErrAdvisorDisabled
	}
	number := ""
	if inv != nil {
		number = inv.InvoiceNumber
	}
	return s.advisor.Explain(ctx, number, report)
}

// ExportBatch generates every requested format for every invoice into one archive
func (s *Service) ExportBatch(ctx context.Context, invoices []*Invoice, opts ExportOptions) (*BatchJob, error) {
	return s.exporter.Export(ctx, invoices, s.exportDefaults(opts))
}

// ValidateBatch is the dry run of ExportBatch
func (s *Service) ValidateBatch(invoices []*Invoice, opts ExportOptions) *BatchValidation {
	return export.ValidateBatch(invoices, s.exportDefaults(opts))
}

func (s *Service) exportDefaults(opts ExportOptions) ExportOptions {
	if opts.Profile == "" {
		opts.Profile = s.profile
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = s.concurrency
	}
	return opts
}

// Deliver schedules and, unless async, sends the invoice to its channels
func (s *Service) Deliver(ctx context.Context, req DeliveryRequest) ([]*DeliveryAttempt, error) {
	if s.delivery == nil {
		return nil, ErrDeliveryDisabled
	}
	if req.Profile == "" {
		req.Profile = s.profile
	}
	return s.delivery.Deliver(ctx, req)
}

// DeliveryAttempt returns one attempt
func (s *Service) DeliveryAttempt(ctx context.Context, id string) (*DeliveryAttempt, error) {
	if s.delivery == nil {
		return nil, ErrDeliveryDisabled
	}
	return s.delivery.Get(ctx, id)
}

// DeliveryAttempts returns all attempts for an invoice
func (s *Service) DeliveryAttempts(ctx context.Context, invoiceID string) ([]*DeliveryAttempt, error) {
	if s.delivery == nil {
		return nil, ErrDeliveryDisabled
	}
	return s.delivery.ListByInvoice(ctx, invoiceID)
}

// DeliveryChannels lists the configured channels, highest priority first
func (s *Service) DeliveryChannels(ctx context.Context) ([]*DeliveryChannel, error) {
	if s.delivery == nil {
		return nil, ErrDeliveryDisabled
	}
	return s.delivery.Registry().List(), nil
}

// SaveDeliveryChannel creates or updates a channel
func (s *Service) SaveDeliveryChannel(ctx context.Context, ch *DeliveryChannel) error {
	if s.delivery == nil {
		return ErrDeliveryDisabled
	}
	if ch == nil || ch.ID == "" {
		return model.NewInputError("id", "channel id is required")
	}
	if _, ok := s.delivery.Registry().Adapter(ch.Type); !ok {
		return model.NewInputError("type", "unsupported channel type "+string(ch.Type))
	}
	return s.delivery.Registry().Upsert(ctx, ch)
}

// DeliveryRules lists the active rules of a tenant
func (s *Service) DeliveryRules(ctx context.Context, tenantID string) ([]*DeliveryRule, error) {
	if s.delivery == nil {
		return nil, ErrDeliveryDisabled
	}
	return s.delivery.Rules(ctx, tenantID)
}

// CreateDeliveryRule validates and stores a rule
func (s *Service) CreateDeliveryRule(ctx context.Context, rule *DeliveryRule) error {
	if s.delivery == nil {
		return ErrDeliveryDisabled
	}
	return s.delivery.CreateRule(ctx, rule)
}

// SetDeliveryRuleActive enables or disables a rule
func (s *Service) SetDeliveryRuleActive(ctx context.Context, id string, active bool) error {
	if s.delivery == nil {
		return ErrDeliveryDisabled
	}
	return s.delivery.SetRuleActive(ctx, id, active)
}

// CancelDelivery cancels a pending or scheduled attempt
func (s *Service) CancelDelivery(ctx context.Context, id string) (*DeliveryAttempt, error) {
	if s.delivery == nil {
		return nil, ErrDeliveryDisabled
	}
	return s.delivery.Cancel(ctx, id)
}

// ProcessDueDeliveries sends up to limit attempts whose time has come
func (s *Service) ProcessDueDeliveries(ctx context.Context, limit int) ([]*DeliveryAttempt, error) {
	if s.delivery == nil {
		return nil, ErrDeliveryDisabled
	}
	return s.delivery.ProcessDue(ctx, limit)
}

// Orchestrator exposes the delivery orchestrator, nil when delivery is disabled
func (s *Service) Orchestrator() *delivery.Orchestrator {
	return s.delivery
}

// Close releases the broker connection and database handle opened by NewFromConfig
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
