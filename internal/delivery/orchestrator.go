package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/erechnung/internal/document"
	"github.com/rezonia/erechnung/internal/logger"
	"github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/zugferd"
)

// Request asks for one invoice to be delivered
type Request struct {
	Invoice *model.Invoice `json:"invoice,omitempty"`
	// Artifact is sent as-is for its format instead of generating one
	Artifact    *model.Artifact `json:"-"`
	ChannelIDs  []string        `json:"channelIds,omitempty"`
	Format      model.Format    `json:"format,omitempty"`
	TenantID    string          `json:"tenantId,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
	RetryDelay  time.Duration   `json:"retryDelay,omitempty"`
	// UseRules routes through the tenant's rules; implied when ChannelIDs is empty
	UseRules bool `json:"useRules,omitempty"`
	// Async only schedules the attempts; the worker sends them
	Async     bool            `json:"async,omitempty"`
	Profile   zugferd.Profile `json:"profile,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
}

// Policy holds the fallback retry settings
type Policy struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Lease       time.Duration
}

// DefaultPolicy returns 3 attempts, 5 minutes between them and a 2 minute lease
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, RetryDelay: DefaultRetryDelay, Lease: DefaultLease}
}

// Orchestrator creates delivery attempts and drives them through their lifecycle
type Orchestrator struct {
	store     *Store
	registry  *ChannelRegistry
	generator *document.Generator
	publisher EventPublisher
	policy    Policy
	workers   int
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithPublisher sets the event publisher
func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithPolicy overrides the fallback retry policy; zero fields keep defaults
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) {
		if p.MaxAttempts > 0 {
			o.policy.MaxAttempts = p.MaxAttempts
		}
		if p.RetryDelay > 0 {
			o.policy.RetryDelay = p.RetryDelay
		}
		if p.Lease > 0 {
			o.policy.Lease = p.Lease
		}
	}
}

// WithGenerator sets the document generator used for on-demand artifacts
func WithGenerator(g *document.Generator) Option {
	return func(o *Orchestrator) { o.generator = g }
}

// WithWorkers bounds how many due attempts ProcessDue sends in parallel
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// NewOrchestrator wires the store and registry
func NewOrchestrator(store *Store, registry *ChannelRegistry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		registry:  registry,
		generator: document.NewGenerator(),
		policy:    DefaultPolicy(),
		workers:   1,
		now:       time.Now,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.publisher == nil {
		o.publisher = NewNopPublisher(o.log)
	}
	return o
}

// Registry returns the channel registry
func (o *Orchestrator) Registry() *ChannelRegistry { return o.registry }

// Store returns the attempt store
func (o *Orchestrator) Store() *Store { return o.store }

// target is one resolved (channel, format) pair
type target struct {
	channel     *Channel
	format      model.Format
	priority    int
	maxAttempts int
	retryDelay  time.Duration
}

// Deliver creates one attempt per resolved (channel, format) pair and, unless
// the request is async, sends each once right away. Send failures are recorded
// on the attempts and are not returned as errors.
func (o *Orchestrator) Deliver(ctx context.Context, req Request) ([]*Attempt, error) {
	if req.Invoice == nil && req.Artifact == nil {
		return nil, model.NewInputError("invoice", "invoice or artifact is required")
	}
	if req.MaxAttempts < 0 {
		return nil, model.NewInputError("maxAttempts", "must not be negative")
	}
	if req.RetryDelay < 0 {
		return nil, model.NewInputError("retryDelay", "must not be negative")
	}
	if req.Format != "" {
		f, err := model.ParseFormat(string(req.Format))
		if err != nil {
			return nil, err
		}
		req.Format = f
	}

	targets, err := o.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	invoiceID, invoiceNumber, recipient := req.identity()
	artifacts := make(map[model.Format]*model.Artifact)
	if req.Artifact != nil {
		artifacts[req.Artifact.Format] = req.Artifact
	}

	// every artifact exists before anything is stored
	for _, t := range targets {
		if _, ok := artifacts[t.format]; ok {
			continue
		}
		if req.Invoice == nil {
			return nil, model.NewInputError("format", fmt.Sprintf("no %s artifact supplied and no invoice to generate one", t.format))
		}
		art, err := o.generator.Generate(ctx, req.Invoice, t.format, document.Options{Profile: req.Profile})
		if err != nil {
			return nil, err
		}
		artifacts[t.format] = art
	}

	now := o.now().UTC()
	attempts := make([]*Attempt, 0, len(targets))
	for _, t := range targets {
		art := artifacts[t.format]
		attempts = append(attempts, &Attempt{
			ID:               uuid.NewString(),
			InvoiceID:        invoiceID,
			InvoiceNumber:    invoiceNumber,
			ChannelID:        t.channel.ID,
			ChannelType:      t.channel.Type,
			Format:           t.format,
			State:            StatePending,
			MaxAttempts:      t.maxAttempts,
			RetryDelay:       t.retryDelay,
			ScheduledAt:      now,
			NextAttemptAt:    &now,
			Priority:         t.priority,
			TenantID:         req.TenantID,
			Recipient:        recipient,
			ArtifactFilename: art.Filename,
			ArtifactMime:     art.MimeType,
			Artifact:         art.Content,
		})
	}
	if err := o.store.CreateAttempts(ctx, attempts); err != nil {
		return nil, err
	}
	for _, a := range attempts {
		o.publish(ctx, a)
		o.log.Info().
			Str("attempt_id", a.ID).
			Str("invoice_number", a.InvoiceNumber).
			Str("channel_id", a.ChannelID).
			Str("format", string(a.Format)).
			Msg("delivery scheduled")
	}

	if req.Async {
		return attempts, nil
	}

	for i, a := range attempts {
		claimed, err := o.store.ClaimAttempt(ctx, a.ID, o.now(), o.policy.Lease)
		if err != nil {
			return attempts, err
		}
		if claimed == nil {
			// a worker picked it up first
			continue
		}
		done, err := o.process(ctx, claimed)
		if err != nil {
			o.log.Error().Err(err).Str("attempt_id", a.ID).Msg("delivery processing failed")
			continue
		}
		attempts[i] = done
	}
	return attempts, nil
}

func (r Request) identity() (invoiceID, invoiceNumber, recipient string) {
	if r.Invoice != nil {
		invoiceID, invoiceNumber, recipient = r.Invoice.Reference(), r.Invoice.InvoiceNumber, r.Invoice.Customer.Email
	} else {
		invoiceID, invoiceNumber = r.Artifact.InvoiceID, r.Artifact.InvoiceNumber
	}
	if r.Recipient != "" {
		recipient = r.Recipient
	}
	return invoiceID, invoiceNumber, recipient
}

// resolve picks (channel, format) pairs: the explicit channel list, or the
// matching rules ordered by rule priority then channel priority
func (o *Orchestrator) resolve(ctx context.Context, req Request) ([]target, error) {
	defaultFormat := req.Format
	if defaultFormat == "" && req.Artifact != nil {
		defaultFormat = req.Artifact.Format
	}
	if defaultFormat == "" {
		defaultFormat = model.FormatXRechnung
	}

	var targets []target
	seen := make(map[string]bool)
	add := func(ch *Channel, format model.Format, rulePriority, maxAttempts int, retryDelay time.Duration) {
		key := ch.ID + "|" + string(format)
		if seen[key] {
			return
		}
		seen[key] = true
		targets = append(targets, target{
			channel:     ch,
			format:      format,
			priority:    rulePriority,
			maxAttempts: pick(req.MaxAttempts, maxAttempts, o.policy.MaxAttempts),
			retryDelay:  time.Duration(pick(int(req.RetryDelay), int(retryDelay), int(o.policy.RetryDelay))),
		})
	}

	if len(req.ChannelIDs) > 0 && !req.UseRules {
		for _, id := range req.ChannelIDs {
			ch, err := o.registry.Get(id)
			if err != nil {
				return nil, err
			}
			if !ch.Active {
				return nil, fmt.Errorf("%w: %s is inactive", ErrChannelNotFound, id)
			}
			add(ch, defaultFormat, ch.Priority, 0, 0)
		}
	} else {
		if req.Invoice == nil {
			return nil, model.NewInputError("invoice", "rule routing needs the invoice")
		}
		rules, err := o.store.ListRules(ctx, req.TenantID)
		if err != nil {
			return nil, err
		}
		matched := make([]*Rule, 0, len(rules))
		for _, r := range rules {
			if r.Matches(req.Invoice) {
				matched = append(matched, r)
			}
		}
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].Actions.Priority > matched[j].Actions.Priority
		})

		for _, r := range matched {
			format := defaultFormat
			if req.Format == "" && r.Actions.Format != "" {
				format = r.Actions.Format
			}
			channels := make([]*Channel, 0, len(r.Actions.ChannelIDs))
			for _, id := range r.Actions.ChannelIDs {
				ch, err := o.registry.Get(id)
				if err != nil || !ch.Active {
					o.log.Warn().Str("rule_id", r.ID).Str("channel_id", id).Msg("rule references unavailable channel")
					continue
				}
				channels = append(channels, ch)
			}
			sort.SliceStable(channels, func(i, j int) bool { return channels[i].Priority > channels[j].Priority })
			for _, ch := range channels {
				add(ch, format, r.Actions.Priority, r.Actions.MaxAttempts, r.Actions.RetryDelay)
			}
		}
	}

	if len(targets) == 0 {
		return nil, ErrNoChannels
	}
	return targets, nil
}

// pick returns the first positive value
func pick(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// process sends one claimed attempt and records the outcome
func (o *Orchestrator) process(ctx context.Context, a *Attempt) (*Attempt, error) {
	prev := a.State
	if err := transition(ctx, a, TriggerProcess); err != nil {
		return a, err
	}
	now := o.now().UTC()
	lease := now.Add(o.policy.Lease)
	a.AttemptCount++
	a.LeaseUntil = &lease
	a.NextAttemptAt = nil
	if err := o.store.SaveAttempt(ctx, a, prev); err != nil {
		return a, err
	}
	o.publish(ctx, a)

	res := o.send(ctx, a)

	// the outcome is recorded even when the caller has gone away
	ctx = context.WithoutCancel(ctx)
	if err := o.finish(ctx, a, res); err != nil {
		return a, err
	}
	return a, nil
}

func (o *Orchestrator) send(ctx context.Context, a *Attempt) (res Result) {
	ch, err := o.registry.Get(a.ChannelID)
	if err != nil {
		return Failed(Permanent(CodeChannelUnavailable, "channel %s no longer exists", a.ChannelID))
	}
	if !ch.Active {
		return Failed(Transient(CodeChannelUnavailable, "channel %s is inactive", a.ChannelID))
	}
	adapter, ok := o.registry.Adapter(ch.Type)
	if !ok {
		return Failed(Permanent(CodeChannelUnavailable, "no adapter for channel type %s", ch.Type))
	}

	defer func() {
		if r := recover(); r != nil {
			res = Failed(Permanent(CodeAdapterFailure, "adapter panicked: %v", r))
		}
	}()
	return adapter.Send(ctx, ch, a.envelope())
}

func (o *Orchestrator) finish(ctx context.Context, a *Attempt, res Result) error {
	now := o.now().UTC()
	log := o.log.With().
		Str("attempt_id", a.ID).
		Str("invoice_number", a.InvoiceNumber).
		Str("channel_id", a.ChannelID).
		Int("attempt", a.AttemptCount).
		Logger()

	a.LeaseUntil = nil
	if res.Success {
		if err := transition(ctx, a, TriggerSucceed); err != nil {
			return err
		}
		a.TrackingID = res.TrackingID
		a.Error = nil
		a.CompletedAt = &now
		log.Info().Str("tracking_id", a.TrackingID).Msg("delivery succeeded")
	} else {
		derr := res.Error
		if derr == nil {
			derr = Permanent(CodeAdapterFailure, "adapter reported neither success nor error")
		}
		a.Error = derr
		if derr.Retryable && a.AttemptCount < a.MaxAttempts {
			if err := transition(ctx, a, TriggerRetry); err != nil {
				return err
			}
			next := now.Add(a.RetryDelay)
			a.NextAttemptAt = &next
			log.Warn().Str("code", derr.Code).Time("next_attempt_at", next).Msg("delivery failed; retry scheduled")
		} else {
			if err := transition(ctx, a, TriggerFail); err != nil {
				return err
			}
			a.CompletedAt = &now
			log.Error().Str("code", derr.Code).Str("error", derr.Message).Msg("delivery failed")
		}
	}

	if err := o.store.SaveAttempt(ctx, a, StateProcessing); err != nil {
		return err
	}
	o.publish(ctx, a)
	return nil
}

// ProcessDue recovers expired leases, then claims and sends up to limit due
// attempts. It returns the attempts it processed.
func (o *Orchestrator) ProcessDue(ctx context.Context, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	if err := o.RecoverStale(ctx); err != nil {
		return nil, err
	}

	claimed, err := o.store.ClaimDue(ctx, o.now(), limit, o.policy.Lease)
	if err != nil {
		return nil, err
	}

	done := make([]*Attempt, len(claimed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, a := range claimed {
		g.Go(func() error {
			res, err := o.process(gctx, a)
			if err != nil {
				o.log.Error().Err(err).Str("attempt_id", a.ID).Msg("delivery processing failed")
			}
			done[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if len(done) > 0 {
		o.log.Info().Int("processed", len(done)).Msg("due deliveries processed")
	}
	return done, nil
}

// RecoverStale handles attempts left in processing by a worker that died:
// they are rescheduled, or failed when no attempts remain
func (o *Orchestrator) RecoverStale(ctx context.Context) error {
	now := o.now().UTC()
	stale, err := o.store.ExpiredLeases(ctx, now)
	if err != nil {
		return err
	}
	for _, a := range stale {
		a.LeaseUntil = nil
		if a.AttemptCount < a.MaxAttempts {
			a.Error = Transient(CodeLeaseExpired, "worker lease expired before the send finished")
			_ = transition(ctx, a, TriggerRetry)
			a.NextAttemptAt = &now
		} else {
			a.Error = Permanent(CodeLeaseExpired, "worker lease expired on the last attempt")
			_ = transition(ctx, a, TriggerFail)
			a.CompletedAt = &now
		}
		if err := o.store.SaveAttempt(ctx, a, StateProcessing); err != nil {
			if errors.Is(err, errStaleAttempt) {
				continue
			}
			return err
		}
		o.log.Warn().Str("attempt_id", a.ID).Str("state", string(a.State)).Msg("recovered expired lease")
		o.publish(ctx, a)
	}
	return nil
}

// Cancel stops a pending or scheduled attempt. In-flight and finished attempts
// return ErrNotCancellable.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*Attempt, error) {
	a, err := o.store.GetAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.State, TriggerCancel) {
		return a, fmt.Errorf("%w: attempt is %s", ErrNotCancellable, a.State)
	}
	ok, err := o.store.CancelAttempt(ctx, a, o.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return a, fmt.Errorf("%w: attempt is being processed", ErrNotCancellable)
	}

	a, err = o.store.GetAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	o.log.Info().Str("attempt_id", a.ID).Msg("delivery cancelled")
	o.publish(ctx, a)
	return a, nil
}

// Get returns one attempt
func (o *Orchestrator) Get(ctx context.Context, id string) (*Attempt, error) {
	return o.store.GetAttempt(ctx, id)
}

// ListByInvoice returns every attempt for an invoice
func (o *Orchestrator) ListByInvoice(ctx context.Context, invoiceID string) ([]*Attempt, error) {
	return o.store.ListAttempts(ctx, invoiceID)
}

// Rules returns the active rules of a tenant
func (o *Orchestrator) Rules(ctx context.Context, tenantID string) ([]*Rule, error) {
	return o.store.ListRules(ctx, tenantID)
}

// SetRuleActive enables or disables a rule for routing
func (o *Orchestrator) SetRuleActive(ctx context.Context, id string, active bool) error {
	if id == "" {
		return model.NewInputError("id", "rule id is required")
	}
	return o.store.SetRuleActive(ctx, id, active)
}

// CreateRule validates and stores a rule
func (o *Orchestrator) CreateRule(ctx context.Context, rule *Rule) error {
	if rule == nil {
		return model.NewInputError("rule", "rule is required")
	}
	if len(rule.Actions.ChannelIDs) == 0 {
		return model.NewInputError("actions.channelIds", "at least one channel is required")
	}
	if rule.Actions.Format != "" {
		if _, err := model.ParseFormat(string(rule.Actions.Format)); err != nil {
			return err
		}
	}
	c := rule.Conditions
	if c.MinAmount != nil && c.MaxAmount != nil && c.MinAmount.GreaterThan(*c.MaxAmount) {
		return model.NewInputError("conditions.minAmount", "must not exceed maxAmount")
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = o.now().UTC()
	}
	return o.store.CreateRule(ctx, rule)
}

func (o *Orchestrator) publish(ctx context.Context, a *Attempt) {
	if err := o.publisher.Publish(ctx, newEvent(a, o.now())); err != nil {
		o.log.Warn().Err(err).Str("attempt_id", a.ID).Msg("failed to publish delivery event")
	}
}
