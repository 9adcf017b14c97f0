package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rezonia/erechnung/internal/model"
)

// Database drivers accepted by OpenDatabase
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var errStaleAttempt = errors.New("delivery attempt was modified concurrently")

// OpenDatabase connects to the delivery database and migrates its tables
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		if dsn == "" {
			dsn = ":memory:"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver != DriverPostgres {
		// a single sqlite connection keeps :memory: databases alive and serialises writers
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Channel{}, &Rule{}, &attemptRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// attemptRecord is the persisted form of an Attempt
type attemptRecord struct {
	ID               string        `gorm:"primaryKey;size:36"`
	InvoiceID        string        `gorm:"size:64;index"`
	InvoiceNumber    string        `gorm:"size:128"`
	ChannelID        string        `gorm:"size:64"`
	ChannelType      string        `gorm:"size:32"`
	Format           string        `gorm:"size:32"`
	State            string        `gorm:"size:32;index:idx_attempt_due,priority:1"`
	AttemptCount     int
	MaxAttempts      int
	RetryDelay       time.Duration
	ScheduledAt      time.Time
	NextAttemptAt    *time.Time `gorm:"index:idx_attempt_due,priority:2"`
	LeaseUntil       *time.Time
	CompletedAt      *time.Time
	TrackingID       string
	ErrorCode        string
	ErrorMessage     string
	ErrorRetryable   bool
	Priority         int
	TenantID         string `gorm:"size:64"`
	Recipient        string
	ArtifactFilename string
	ArtifactMime     string
	Artifact         []byte
}

func (attemptRecord) TableName() string { return "delivery_attempts" }

func toRecord(a *Attempt) *attemptRecord {
	r := &attemptRecord{
		ID:               a.ID,
		InvoiceID:        a.InvoiceID,
		InvoiceNumber:    a.InvoiceNumber,
		ChannelID:        a.ChannelID,
		ChannelType:      string(a.ChannelType),
		Format:           string(a.Format),
		State:            string(a.State),
		AttemptCount:     a.AttemptCount,
		MaxAttempts:      a.MaxAttempts,
		RetryDelay:       a.RetryDelay,
		ScheduledAt:      a.ScheduledAt.UTC(),
		NextAttemptAt:    utcPtr(a.NextAttemptAt),
		LeaseUntil:       utcPtr(a.LeaseUntil),
		CompletedAt:      utcPtr(a.CompletedAt),
		TrackingID:       a.TrackingID,
		Priority:         a.Priority,
		TenantID:         a.TenantID,
		Recipient:        a.Recipient,
		ArtifactFilename: a.ArtifactFilename,
		ArtifactMime:     a.ArtifactMime,
		Artifact:         a.Artifact,
	}
	if a.Error != nil {
		r.ErrorCode = a.Error.Code
		r.ErrorMessage = a.Error.Message
		r.ErrorRetryable = a.Error.Retryable
	}
	return r
}

func (r *attemptRecord) toAttempt() *Attempt {
	a := &Attempt{
		ID:               r.ID,
		InvoiceID:        r.InvoiceID,
		InvoiceNumber:    r.InvoiceNumber,
		ChannelID:        r.ChannelID,
		ChannelType:      ChannelType(r.ChannelType),
		Format:           model.Format(r.Format),
		State:            State(r.State),
		AttemptCount:     r.AttemptCount,
		MaxAttempts:      r.MaxAttempts,
		RetryDelay:       r.RetryDelay,
		ScheduledAt:      r.ScheduledAt.UTC(),
		NextAttemptAt:    utcPtr(r.NextAttemptAt),
		LeaseUntil:       utcPtr(r.LeaseUntil),
		CompletedAt:      utcPtr(r.CompletedAt),
		TrackingID:       r.TrackingID,
		Priority:         r.Priority,
		TenantID:         r.TenantID,
		Recipient:        r.Recipient,
		ArtifactFilename: r.ArtifactFilename,
		ArtifactMime:     r.ArtifactMime,
		Artifact:         r.Artifact,
	}
	if r.ErrorCode != "" {
		a.Error = &DeliveryError{Code: r.ErrorCode, Message: r.ErrorMessage, Retryable: r.ErrorRetryable}
	}
	return a
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Store persists channels, rules and attempts
type Store struct {
	db *gorm.DB
}

// NewStore wraps an opened and migrated database
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateAttempt inserts a new attempt
func (s *Store) CreateAttempt(ctx context.Context, a *Attempt) error {
	return s.CreateAttempts(ctx, []*Attempt{a})
}

// CreateAttempts inserts all attempts in one transaction; none is stored when
// any insert fails
func (s *Store) CreateAttempts(ctx context.Context, attempts []*Attempt) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range attempts {
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			if err := tx.Create(toRecord(a)).Error; err != nil {
				return fmt.Errorf("failed to create attempt: %w", err)
			}
		}
		return nil
	})
}

// GetAttempt loads one attempt
func (s *Store) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	var rec attemptRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt: %w", err)
	}
	return rec.toAttempt(), nil
}

// ListAttempts returns all attempts of an invoice, oldest first
func (s *Store) ListAttempts(ctx context.Context, invoiceID string) ([]*Attempt, error) {
	var recs []attemptRecord
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("scheduled_at ASC").Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	out := make([]*Attempt, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toAttempt())
	}
	return out, nil
}

// SaveAttempt writes a only if its stored state still equals expected
func (s *Store) SaveAttempt(ctx context.Context, a *Attempt, expected State) error {
	res := s.db.WithContext(ctx).
		Model(&attemptRecord{}).
		Where("id = ? AND state = ?", a.ID, string(expected)).
		Select("*").
		Updates(toRecord(a))
	if res.Error != nil {
		return fmt.Errorf("failed to save attempt: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errStaleAttempt
	}
	return nil
}

// claimable matches attempts that may be processed at now
func claimable(db *gorm.DB, now time.Time) *gorm.DB {
	return db.
		Where("state IN ?", []string{string(StatePending), string(StateRetryScheduled)}).
		Where("lease_until IS NULL OR lease_until <= ?", now)
}

// ClaimDue leases up to limit due attempts. Only attempts whose lease update
// affected a row are returned, so concurrent workers never share an attempt.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*Attempt, error) {
	now = now.UTC()
	var ids []string
	err := claimable(s.db.WithContext(ctx).Model(&attemptRecord{}), now).
		Where("next_attempt_at <= ?", now).
		Order("priority DESC").Order("next_attempt_at ASC").Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select due attempts: %w", err)
	}

	claimed := make([]*Attempt, 0, len(ids))
	for _, id := range ids {
		a, err := s.claim(ctx, id, now, lease)
		if err != nil {
			return claimed, err
		}
		if a != nil {
			claimed = append(claimed, a)
		}
	}
	return claimed, nil
}

// ClaimAttempt leases one attempt regardless of its due time; nil means another
// worker holds it or it is no longer claimable
func (s *Store) ClaimAttempt(ctx context.Context, id string, now time.Time, lease time.Duration) (*Attempt, error) {
	return s.claim(ctx, id, now.UTC(), lease)
}

func (s *Store) claim(ctx context.Context, id string, now time.Time, lease time.Duration) (*Attempt, error) {
	until := now.Add(lease)
	res := claimable(s.db.WithContext(ctx).Model(&attemptRecord{}), now).
		Where("id = ?", id).
		Update("lease_until", until)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to claim attempt: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return nil, nil
	}
	return s.GetAttempt(ctx, id)
}

// CancelAttempt moves an unleased pending or scheduled attempt to cancelled
func (s *Store) CancelAttempt(ctx context.Context, a *Attempt, now time.Time) (bool, error) {
	now = now.UTC()
	res := claimable(s.db.WithContext(ctx).Model(&attemptRecord{}), now).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"state":           string(StateCancelled),
			"completed_at":    now,
			"next_attempt_at": nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to cancel attempt: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ExpiredLeases returns processing attempts whose worker stopped before finishing
func (s *Store) ExpiredLeases(ctx context.Context, now time.Time) ([]*Attempt, error) {
	var recs []attemptRecord
	err := s.db.WithContext(ctx).
		Where("state = ? AND lease_until <= ?", string(StateProcessing), now.UTC()).
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired leases: %w", err)
	}
	out := make([]*Attempt, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toAttempt())
	}
	return out, nil
}

// Channels returns every stored channel
func (s *Store) Channels(ctx context.Context) ([]*Channel, error) {
	var channels []*Channel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

// SaveChannel inserts or updates a channel
func (s *Store) SaveChannel(ctx context.Context, ch *Channel) error {
	if err := s.db.WithContext(ctx).Save(ch).Error; err != nil {
		return fmt.Errorf("failed to save channel: %w", err)
	}
	return nil
}

// ListRules returns the active rules of a tenant; an empty tenant lists all
func (s *Store) ListRules(ctx context.Context, tenantID string) ([]*Rule, error) {
	q := s.db.WithContext(ctx).Where("active = ?", true)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	var rules []*Rule
	if err := q.Order("created_at ASC").Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// SetRuleActive enables or disables a rule
func (s *Store) SetRuleActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&Rule{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return fmt.Errorf("failed to update rule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// CreateRule stores a new rule
func (s *Store) CreateRule(ctx context.Context, rule *Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}
