package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/rezonia/erechnung/internal/model"
)

// Rough per-document costs used for dry-run estimates
const (
	EstimatedXMLBytes = 12 * 1024
	EstimatedPDFBytes = 85 * 1024
	EstimatedXMLTime  = 150 * time.Millisecond
	EstimatedPDFTime  = 400 * time.Millisecond

	// LargeBatchThreshold triggers a warning suggesting smaller batches
	LargeBatchThreshold = 1000
)

// IssueSeverity of a dry-run finding
type IssueSeverity string

const (
	IssueError   IssueSeverity = "error"
	IssueWarning IssueSeverity = "warning"
)

// ValidationIssue is one dry-run finding
type ValidationIssue struct {
	InvoiceID     string        `json:"invoiceId,omitempty"`
	InvoiceNumber string        `json:"invoiceNumber,omitempty"`
	Severity      IssueSeverity `json:"severity"`
	Title         string        `json:"title"`
	Message       string        `json:"message"`
}

// BatchValidation is the dry-run result
type BatchValidation struct {
	CanExport     bool              `json:"canExport"`
	Issues        []ValidationIssue `json:"issues"`
	EstimatedSize int64             `json:"estimatedSize"`
	EstimatedTime time.Duration     `json:"estimatedTime"`
}

// ValidateBatch checks every invoice for the fields generation needs and
// estimates the export cost. It never generates documents.
func ValidateBatch(invoices []*model.Invoice, opts Options) *BatchValidation {
	v := &BatchValidation{Issues: make([]ValidationIssue, 0)}

	if len(invoices) == 0 {
		v.Issues = append(v.Issues, ValidationIssue{
			Severity: IssueError,
			Title:    "No Invoices Selected",
			Message:  "Select at least one invoice to export",
		})
		return v
	}

	formats := opts.formats()
	for _, f := range formats {
		if _, err := model.ParseFormat(string(f)); err != nil {
			v.Issues = append(v.Issues, ValidationIssue{Severity: IssueError, Title: "Unsupported Format", Message: err.Error()})
		}
	}

	for _, inv := range invoices {
		v.Issues = append(v.Issues, checkInvoice(inv)...)
	}

	if len(invoices) > LargeBatchThreshold {
		v.Issues = append(v.Issues, ValidationIssue{
			Severity: IssueWarning,
			Title:    "Large Batch",
			Message:  fmt.Sprintf("%d invoices will take a while; consider splitting the export", len(invoices)),
		})
	}

	v.CanExport = true
	for _, issue := range v.Issues {
		if issue.Severity == IssueError {
			v.CanExport = false
			break
		}
	}

	var perInvoiceSize int64
	var perInvoiceTime time.Duration
	for _, f := range formats {
		switch f {
		case model.FormatXRechnung:
			perInvoiceSize += EstimatedXMLBytes
			perInvoiceTime += EstimatedXMLTime
		case model.FormatZUGFeRD:
			perInvoiceSize += EstimatedPDFBytes
			perInvoiceTime += EstimatedPDFTime
		}
	}
	v.EstimatedSize = perInvoiceSize * int64(len(invoices))
	v.EstimatedTime = perInvoiceTime * time.Duration(len(invoices)) / time.Duration(opts.concurrency())
	return v
}

func checkInvoice(inv *model.Invoice) []ValidationIssue {
	if inv == nil {
		return []ValidationIssue{{Severity: IssueError, Title: "Missing Invoice", Message: "Invoice snapshot is empty"}}
	}

	var issues []ValidationIssue
	add := func(severity IssueSeverity, title, message string) {
		issues = append(issues, ValidationIssue{
			InvoiceID:     inv.Reference(),
			InvoiceNumber: inv.InvoiceNumber,
			Severity:      severity,
			Title:         title,
			Message:       message,
		})
	}

	label := inv.InvoiceNumber
	if label == "" {
		label = inv.Reference()
	}

	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		add(IssueError, "Invoice Number Required", fmt.Sprintf("Invoice %s has no invoice number", label))
	}
	if strings.TrimSpace(inv.SupplierTaxIdentifier()) == "" {
		add(IssueError, "Supplier Tax ID Required", fmt.Sprintf("Invoice %s: the supplier has neither a tax number nor a VAT ID", label))
	}
	if strings.TrimSpace(inv.Customer.Name) == "" {
		add(IssueError, "Customer Name Required", fmt.Sprintf("Invoice %s: the customer has no name", label))
	}
	if len(inv.LineItems) == 0 {
		add(IssueError, "Line Items Required", fmt.Sprintf("Invoice %s has no line items", label))
	}
	if strings.TrimSpace(inv.Supplier.Name) == "" {
		add(IssueError, "Supplier Name Required", fmt.Sprintf("Invoice %s: the supplier has no name", label))
	}
	if inv.RoutingID == "" && inv.BuyerReference == "" {
		add(IssueWarning, "Buyer Reference Missing", fmt.Sprintf("Invoice %s: the invoice number is used as buyer reference", label))
	}
	return issues
}
