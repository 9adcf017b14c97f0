// Package erechnung provides the public API for producing German electronic
// invoices (XRechnung and ZUGFeRD), checking their compliance, exporting them
// in batches and delivering them to recipients.
//
// Example usage:
//
//	svc := erechnung.NewService()
//	art, err := svc.Generate(ctx, invoice, erechnung.FormatXRechnung, erechnung.GenerateOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report := svc.Validate(ctx, invoice, erechnung.StandardBoth)
//	fmt.Println(report.Score)
package erechnung

import (
	"github.com/rezonia/erechnung/internal/advisor"
	"github.com/rezonia/erechnung/internal/compliance"
	"github.com/rezonia/erechnung/internal/delivery"
	"github.com/rezonia/erechnung/internal/document"
	"github.com/rezonia/erechnung/internal/export"
	"github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/zugferd"
)

// Re-export core types for public API
type (
	Invoice     = model.Invoice
	LineItem    = model.LineItem
	Supplier    = model.Supplier
	Customer    = model.Customer
	Address     = model.Address
	BankDetails = model.BankDetails
	Format      = model.Format

	GeneratedArtifact = model.Artifact
	GenerateOptions   = document.Options
	Profile           = zugferd.Profile

	ComplianceReport  = compliance.Report
	ComplianceIssue   = compliance.Issue
	ComplianceSummary = compliance.Summary
	Standard          = compliance.Standard

	ExportOptions   = export.Options
	BatchJob        = export.BatchJob
	BatchValidation = export.BatchValidation

	DeliveryRequest = delivery.Request
	DeliveryAttempt = delivery.Attempt
	DeliveryChannel = delivery.Channel
	DeliveryRule    = delivery.Rule
	DeliveryError   = delivery.DeliveryError

	Remediation = advisor.Remediation
)

// Re-export formats
const (
	FormatXRechnung = model.FormatXRechnung
	FormatZUGFeRD   = model.FormatZUGFeRD
)

// Re-export standards
const (
	StandardXRechnung = compliance.StandardXRechnung
	StandardZUGFeRD   = compliance.StandardZUGFeRD
	StandardBoth      = compliance.StandardBoth
)

// Re-export profiles
const (
	ProfileBasic    = zugferd.ProfileBasic
	ProfileComfort  = zugferd.ProfileComfort
	ProfileExtended = zugferd.ProfileExtended
)

// Re-export error types
type (
	InputError      = model.InputError
	GenerationError = model.GenerationError
)

// Re-export delivery sentinel errors
var (
	ErrAttemptNotFound = delivery.ErrAttemptNotFound
	ErrNotCancellable  = delivery.ErrNotCancellable
	ErrNoChannels      = delivery.ErrNoChannels
	ErrChannelNotFound = delivery.ErrChannelNotFound
	ErrRuleNotFound    = delivery.ErrRuleNotFound
)

// Re-export parsers for user supplied names
var (
	ParseFormat   = model.ParseFormat
	ParseStandard = compliance.ParseStandard
	ParseProfile  = zugferd.ParseProfile
)
