package server

import (
	"time"

	"github.com/rezonia/erechnung/pkg/erechnung"
)

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the response for the health endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Time     string `json:"time"`
	Delivery bool   `json:"delivery"`
}

// ExplainRequest asks for remediation advice on an invoice
type ExplainRequest struct {
	Invoice  *erechnung.Invoice `json:"invoice"`
	Standard string             `json:"standard,omitempty"`
}

// ExplainResponse pairs a report with the advice for it
type ExplainResponse struct {
	Report      *erechnung.ComplianceReport `json:"report"`
	Remediation *erechnung.Remediation      `json:"remediation"`
}

// ExportRequest is the body of the export endpoints
type ExportRequest struct {
	Invoices []*erechnung.Invoice   `json:"invoices"`
	Options  erechnung.ExportOptions `json:"options"`
}

// DeliveryResponse lists the attempts created or found for a request
type DeliveryResponse struct {
	Attempts []*erechnung.DeliveryAttempt `json:"attempts"`
}

// ChannelResponse is a channel with its secrets masked
type ChannelResponse struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Config   map[string]string `json:"config"`
	Active   bool              `json:"active"`
	Priority int               `json:"priority"`
	Updated  time.Time         `json:"updatedAt"`
}

// RuleStateRequest switches a delivery rule on or off
type RuleStateRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SummaryRequest asks for compliance figures over many invoices
type SummaryRequest struct {
	Invoices []*erechnung.Invoice `json:"invoices"`
	Standard string               `json:"standard,omitempty"`
}

// secretKeys are channel config entries never returned by the API
var secretKeys = map[string]bool{"token": true, "apiKey": true, "password": true}

func toChannelResponse(ch *erechnung.DeliveryChannel) ChannelResponse {
	cfg := make(map[string]string, len(ch.Config))
	for k, v := range ch.Config {
		if secretKeys[k] {
			v = "***"
		}
		cfg[k] = v
	}
	return ChannelResponse{
		ID:       ch.ID,
		Type:     string(ch.Type),
		Name:     ch.Name,
		Config:   cfg,
		Active:   ch.Active,
		Priority: ch.Priority,
		Updated:  ch.UpdatedAt,
	}
}
