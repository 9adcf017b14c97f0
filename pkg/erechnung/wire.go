package erechnung

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rezonia/erechnung/internal/advisor"
	"github.com/rezonia/erechnung/internal/compliance"
	"github.com/rezonia/erechnung/internal/config"
	"github.com/rezonia/erechnung/internal/delivery"
	"github.com/rezonia/erechnung/internal/document"
	"github.com/rezonia/erechnung/internal/export"
	"github.com/rezonia/erechnung/internal/signature/trust"
	xmlsig "github.com/rezonia/erechnung/internal/signature/xml"
	"github.com/rezonia/erechnung/internal/zugferd"
)

// NewFromConfig builds a fully wired service: validator with the configured
// trust store, delivery backed by the configured database and broker, and the
// advisor when an LLM key is present. Call Close when done.
func NewFromConfig(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Service, error) {
	opts, err := baseOptions(cfg, log)
	if err != nil {
		return nil, err
	}

	orch, closers, err := newOrchestrator(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithDelivery(orch))

	s := NewService(opts...)
	s.closers = closers
	log.Info().
		Str("database", cfg.DatabaseDriver).
		Str("profile", string(s.profile)).
		Bool("advisor", s.advisor != nil).
		Bool("events", cfg.AMQPURL != "").
		Msg("service initialised")
	return s, nil
}

// NewOfflineFromConfig builds a service for generation, validation and export
// only. It opens no database or broker connection.
func NewOfflineFromConfig(cfg *config.Config, log zerolog.Logger) (*Service, error) {
	opts, err := baseOptions(cfg, log)
	if err != nil {
		return nil, err
	}
	return NewService(opts...), nil
}

func baseOptions(cfg *config.Config, log zerolog.Logger) ([]Option, error) {
	profile, err := zugferd.ParseProfile(cfg.ZUGFeRDProfile)
	if err != nil {
		return nil, err
	}

	validatorOpts := []compliance.Option{
		compliance.WithLogger(log.With().Str("component", "compliance").Logger()),
	}
	if cfg.TrustStorePEM != "" {
		ts, err := trust.NewStore(trust.WithPEMFile(cfg.TrustStorePEM), trust.WithSoftFail())
		if err != nil {
			return nil, fmt.Errorf("failed to load trust store: %w", err)
		}
		validatorOpts = append(validatorOpts, compliance.WithVerifier(xmlsig.NewVerifier(ts)))
	}

	opts := []Option{
		WithLogger(log),
		WithProfile(profile),
		WithExportConcurrency(cfg.ExportConcurrency),
		WithCacheTTL(cfg.ValidationCacheTTL),
		WithValidator(compliance.NewValidator(validatorOpts...)),
	}

	if cfg.LLMAPIKey != "" {
		client := advisor.NewClient(advisor.ClientConfig{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
		})
		opts = append(opts, WithAdvisor(advisor.New(client)))
	}
	return opts, nil
}

func newOrchestrator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*delivery.Orchestrator, []func(), error) {
	db, err := delivery.OpenDatabase(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to access sql pool: %w", err)
	}
	closers := []func(){func() { sqlDB.Close() }}

	deliveryLog := log.With().Str("component", "delivery").Logger()
	store := delivery.NewStore(db)
	registry := delivery.NewChannelRegistry(store,
		delivery.NewEmailAdapter(delivery.EmailConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
			Host:      cfg.SendGridHost,
		}),
		delivery.NewHTTPAdapter(cfg.DeliveryHTTPTimeout),
		delivery.NewPortalAdapter(cfg.DeliveryHTTPTimeout),
		delivery.NewPeppolAdapter(),
		delivery.NewFileAdapter(),
	)
	if err := registry.Load(ctx); err != nil {
		sqlDB.Close()
		return nil, nil, err
	}

	publisher := delivery.NewEventPublisher(cfg.AMQPURL, deliveryLog)
	closers = append(closers, publisher.Close)

	orch := delivery.NewOrchestrator(store, registry,
		delivery.WithPolicy(delivery.Policy{
			MaxAttempts: cfg.DeliveryMaxAttempts,
			RetryDelay:  cfg.DeliveryRetryDelay,
			Lease:       cfg.DeliveryLease,
		}),
		delivery.WithPublisher(publisher),
		delivery.WithWorkers(cfg.DeliveryWorkers),
		delivery.WithGenerator(document.NewGenerator()),
		delivery.WithLogger(deliveryLog),
	)
	return orch, closers, nil
}

// NewScheduler creates the cron poller for due deliveries
func (s *Service) NewScheduler(schedule string, batchSize int) (*delivery.Scheduler, error) {
	if s.delivery == nil {
		return nil, ErrDeliveryDisabled
	}
	return delivery.NewScheduler(s.delivery, schedule, batchSize, s.log.With().Str("component", "scheduler").Logger()), nil
}

// DefaultExportOptions returns both formats, flat layout, no metadata
func DefaultExportOptions() ExportOptions {
	return export.Options{Formats: []Format{FormatXRechnung, FormatZUGFeRD}}
}
