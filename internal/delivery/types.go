// Package delivery sends generated invoices through configured channels and
// tracks every send as a durable, retryable attempt.
package delivery

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/erechnung/internal/model"
)

// ChannelType identifies an adapter implementation
type ChannelType string

const (
	ChannelEmail        ChannelType = "email"
	ChannelPeppol       ChannelType = "peppol"
	ChannelHTTPAPI      ChannelType = "http_api"
	ChannelWebPortal    ChannelType = "web_portal"
	ChannelFileTransfer ChannelType = "file_transfer"
)

// State of a delivery attempt
type State string

const (
	StatePending        State = "pending"
	StateProcessing     State = "processing"
	StateSuccess        State = "success"
	StateFailed         State = "failed"
	StateRetryScheduled State = "retry_scheduled"
	StateCancelled      State = "cancelled"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateCancelled
}

// Defaults applied when neither the request nor a rule sets a policy
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 5 * time.Minute
	DefaultLease       = 2 * time.Minute
)

var (
	ErrAttemptNotFound = errors.New("delivery attempt not found")
	ErrNotCancellable  = errors.New("delivery attempt cannot be cancelled")
	ErrNoChannels      = errors.New("no delivery channel matched")
	ErrChannelNotFound = errors.New("delivery channel not found")
	ErrRuleNotFound    = errors.New("delivery rule not found")
)

// Error codes set by adapters and the orchestrator
const (
	CodeNetwork            = "NETWORK_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServerError        = "SERVER_ERROR"
	CodeRejected           = "REJECTED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeNoRecipient        = "NO_RECIPIENT"
	CodeFilesystem         = "FILESYSTEM_ERROR"
	CodeChannelUnavailable = "CHANNEL_UNAVAILABLE"
	CodeAdapterFailure     = "ADAPTER_FAILURE"
	CodeLeaseExpired       = "LEASE_EXPIRED"
)

// DeliveryError is a channel-level failure. Retryable is decided by the
// adapter that produced it.
type DeliveryError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Transient creates a retryable delivery error
func Transient(code, format string, args ...any) *DeliveryError {
	return &DeliveryError{Code: code, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Permanent creates a non-retryable delivery error
func Permanent(code, format string, args ...any) *DeliveryError {
	return &DeliveryError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Channel is a configured delivery destination
type Channel struct {
	ID        string            `json:"id" gorm:"primaryKey;size:64"`
	Type      ChannelType       `json:"type" gorm:"size:32;not null"`
	Name      string            `json:"name"`
	Config    map[string]string `json:"config" gorm:"serializer:json"`
	Active    bool              `json:"active"`
	Priority  int               `json:"priority"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// TableName maps Channel to its table
func (Channel) TableName() string { return "delivery_channels" }

func (c *Channel) clone() *Channel {
	cp := *c
	cp.Config = make(map[string]string, len(c.Config))
	for k, v := range c.Config {
		cp.Config[k] = v
	}
	return &cp
}

// RuleConditions are AND-ed; unset conditions always hold
type RuleConditions struct {
	CustomerIDs          []string         `json:"customerIds,omitempty"`
	MinAmount            *decimal.Decimal `json:"minAmount,omitempty"`
	MaxAmount            *decimal.Decimal `json:"maxAmount,omitempty"`
	RequireRoutingID     bool             `json:"requireRoutingId,omitempty"`
	RequireSupplierTaxID bool             `json:"requireSupplierTaxId,omitempty"`
}

// RuleActions say where and how matching invoices are delivered
type RuleActions struct {
	ChannelIDs  []string      `json:"channelIds"`
	Format      model.Format  `json:"format,omitempty"`
	Priority    int           `json:"priority"`
	MaxAttempts int           `json:"maxAttempts,omitempty"`
	RetryDelay  time.Duration `json:"retryDelay,omitempty"`
}

// Rule routes invoices to channels
type Rule struct {
	ID         string         `json:"id" gorm:"primaryKey;size:36"`
	TenantID   string         `json:"tenantId" gorm:"size:64;index"`
	Name       string         `json:"name"`
	Conditions RuleConditions `json:"conditions" gorm:"serializer:json"`
	Actions    RuleActions    `json:"actions" gorm:"serializer:json"`
	Active     bool           `json:"active"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// TableName maps Rule to its table
func (Rule) TableName() string { return "delivery_rules" }

// Matches reports whether every set condition holds for inv
func (r *Rule) Matches(inv *model.Invoice) bool {
	if inv == nil {
		return false
	}
	c := r.Conditions
	if len(c.CustomerIDs) > 0 && !containsString(c.CustomerIDs, inv.Customer.ID) {
		return false
	}
	if c.MinAmount != nil && inv.Total.LessThan(*c.MinAmount) {
		return false
	}
	if c.MaxAmount != nil && inv.Total.GreaterThan(*c.MaxAmount) {
		return false
	}
	if c.RequireRoutingID && inv.RoutingID == "" {
		return false
	}
	if c.RequireSupplierTaxID && inv.SupplierTaxIdentifier() == "" {
		return false
	}
	return true
}

// Attempt is one delivery of one artifact through one channel
type Attempt struct {
	ID               string         `json:"id"`
	InvoiceID        string         `json:"invoiceId"`
	InvoiceNumber    string         `json:"invoiceNumber"`
	ChannelID        string         `json:"channelId"`
	ChannelType      ChannelType    `json:"channelType"`
	Format           model.Format   `json:"format"`
	State            State          `json:"state"`
	AttemptCount     int            `json:"attemptCount"`
	MaxAttempts      int            `json:"maxAttempts"`
	RetryDelay       time.Duration  `json:"retryDelay"`
	ScheduledAt      time.Time      `json:"scheduledAt"`
	NextAttemptAt    *time.Time     `json:"nextAttemptAt,omitempty"`
	LeaseUntil       *time.Time     `json:"-"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	TrackingID       string         `json:"trackingId,omitempty"`
	Error            *DeliveryError `json:"error,omitempty"`
	Priority         int            `json:"priority"`
	TenantID         string         `json:"tenantId,omitempty"`
	Recipient        string         `json:"recipient,omitempty"`
	ArtifactFilename string         `json:"artifactFilename"`
	ArtifactMime     string         `json:"artifactMime"`
	Artifact         []byte         `json:"-"`
}

// Envelope is what an adapter sends
type Envelope struct {
	AttemptID     string
	InvoiceID     string
	InvoiceNumber string
	Format        model.Format
	Filename      string
	MimeType      string
	Content       []byte
	Recipient     string
}

func (a *Attempt) envelope() Envelope {
	return Envelope{
		AttemptID:     a.ID,
		InvoiceID:     a.InvoiceID,
		InvoiceNumber: a.InvoiceNumber,
		Format:        a.Format,
		Filename:      a.ArtifactFilename,
		MimeType:      a.ArtifactMime,
		Content:       a.Artifact,
		Recipient:     a.Recipient,
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
