// Package export generates documents for many invoices and packages them
// into a single zip archive with a manifest.
package export

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rezonia/erechnung/internal/model"
)

// ManifestName is the archive entry holding the batch summary
const ManifestName = "batch_summary.json"

// Item is the outcome of one (invoice, format) pair
type Item struct {
	InvoiceID     string       `json:"invoiceId"`
	InvoiceNumber string       `json:"invoiceNumber"`
	Format        model.Format `json:"format"`
	Filename      string       `json:"filename,omitempty"`
	Size          int          `json:"size"`
	Error         string       `json:"error,omitempty"`
}

// Failed reports whether the pair could not be generated
func (i Item) Failed() bool {
	return i.Error != ""
}

// BatchError aggregates the failures of one invoice
type BatchError struct {
	InvoiceID     string         `json:"invoiceId"`
	InvoiceNumber string         `json:"invoiceNumber"`
	Formats       []model.Format `json:"formats"`
	Error         string         `json:"error"`
}

func (e BatchError) asError() error {
	return fmt.Errorf("invoice %s (%s): %s", e.InvoiceNumber, e.InvoiceID, e.Error)
}

// FormatTotals counts files and bytes per format
type FormatTotals struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// Manifest is written to the archive root as batch_summary.json
type Manifest struct {
	BatchID           string                        `json:"batchId"`
	ExportDate        time.Time                     `json:"exportDate"`
	TotalInvoices     int                           `json:"totalInvoices"`
	ProcessedInvoices int                           `json:"processedInvoices"`
	FailedInvoices    int                           `json:"failedInvoices"`
	SuccessfulFiles   int                           `json:"successfulFiles"`
	Formats           []model.Format                `json:"formats"`
	PerFormat         map[model.Format]FormatTotals `json:"perFormat"`
	TotalSize         int64                         `json:"totalSize"`
	DurationMs        int64                         `json:"durationMs"`
	Errors            []BatchError                  `json:"errors"`
}

// BatchJob is the result of one export run
type BatchJob struct {
	ID                string         `json:"id"`
	InvoiceIDs        []string       `json:"invoiceIds"`
	Formats           []model.Format `json:"formats"`
	Items             []Item         `json:"items"`
	Archive           []byte         `json:"-"`
	ProcessedInvoices int            `json:"processedInvoices"`
	FailedInvoices    int            `json:"failedInvoices"`
	SuccessfulFiles   int            `json:"successfulFiles"`
	TotalSize         int64          `json:"totalSize"`
	Duration          time.Duration  `json:"duration"`
	Errors            []BatchError   `json:"errors"`
	Manifest          *Manifest      `json:"manifest"`
}

// Err returns all per-invoice failures as one error, or nil
func (j *BatchJob) Err() error {
	var result *multierror.Error
	for _, e := range j.Errors {
		result = multierror.Append(result, e.asError())
	}
	return result.ErrorOrNil()
}
