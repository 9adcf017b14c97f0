package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rezonia/erechnung/internal/compliance"
)

// Completer is the part of Client the advisor needs
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Advice explains one rule finding
type Advice struct {
	RuleID      string   `json:"ruleId"`
	Explanation string   `json:"explanation"`
	Steps       []string `json:"steps,omitempty"`
}

// Remediation is the advisor output for one report
type Remediation struct {
	Summary string   `json:"summary"`
	Advice  []Advice `json:"advice"`
}

// Advisor explains compliance reports
type Advisor struct {
	chat     Completer
	model    string
	language string
}

// Option configures an Advisor
type Option func(*Advisor)

// WithModel overrides the client default model
func WithModel(model string) Option {
	return func(a *Advisor) {
		a.model = model
	}
}

// WithLanguage sets the answer language (default German)
func WithLanguage(language string) Option {
	return func(a *Advisor) {
		a.language = language
	}
}

// New creates an advisor on top of a chat client
func New(chat Completer, opts ...Option) *Advisor {
	a := &Advisor{chat: chat, language: "German"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Explain asks the model for remediation text. Reports without issues are
// answered locally.
func (a *Advisor) Explain(ctx context.Context, invoiceNumber string, report *compliance.Report) (*Remediation, error) {
	if report == nil || len(report.Issues) == 0 {
		return &Remediation{Summary: "No findings.", Advice: []Advice{}}, nil
	}

	resp, err := a.chat.Complete(ctx, Prompt{
		Model:  a.model,
		System: fmt.Sprintf(SystemPromptRemediation, a.language),
		User:   fmt.Sprintf(UserPromptRemediation, invoiceNumber, report.Standard, report.Score, findings(report)),
	})
	if err != nil {
		return nil, fmt.Errorf("remediation request failed: %w", err)
	}

	var out Remediation
	if err := json.Unmarshal([]byte(JSONPayload(resp)), &out); err != nil {
		return nil, fmt.Errorf("failed to parse remediation response: %w", err)
	}
	return &out, nil
}

func findings(report *compliance.Report) string {
	var b strings.Builder
	for _, issue := range report.Issues {
		fmt.Fprintf(&b, "- [%s] %s (%s, %s): %s", issue.RuleID, issue.RuleName, issue.Category, issue.Severity, issue.Message)
		if issue.Location != "" {
			fmt.Fprintf(&b, " at %s", issue.Location)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
