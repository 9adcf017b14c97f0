package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rezonia/erechnung/internal/document"
	"github.com/rezonia/erechnung/internal/logger"
	"github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/zugferd"
)

// DefaultConcurrency bounds parallel generation when Options.Concurrency is unset
const DefaultConcurrency = 4

// Options control what is generated and how the archive is laid out
type Options struct {
	Formats []model.Format `json:"formats"`
	// Folders puts files under xrechnung/, zugferd/ and metadata/
	Folders bool `json:"folders"`
	// Metadata adds one JSON sidecar per invoice
	Metadata    bool            `json:"metadata"`
	Profile     zugferd.Profile `json:"profile,omitempty"`
	Concurrency int             `json:"concurrency,omitempty"`
}

func (o Options) formats() []model.Format {
	if len(o.Formats) == 0 {
		return []model.Format{model.FormatXRechnung, model.FormatZUGFeRD}
	}
	seen := make(map[model.Format]bool)
	out := make([]model.Format, 0, len(o.Formats))
	for _, f := range o.Formats {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return o.Concurrency
}

// Exporter runs batch exports
type Exporter struct {
	generator *document.Generator
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures an Exporter
type Option func(*Exporter)

// WithClock sets the time source for export dates and zip entry times
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Exporter) { e.log = l }
}

// NewExporter creates an exporter using gen for all documents
func NewExporter(gen *document.Generator, opts ...Option) *Exporter {
	if gen == nil {
		gen = document.NewGenerator()
	}
	e := &Exporter{generator: gen, now: time.Now, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// result is the generated output of one (invoice, format) pair
type result struct {
	format   model.Format
	artifact *model.Artifact
	err      error
	name     string // archive entry
}

// Export generates every requested format for every invoice and packages the
// results. Per-item failures are recorded in the job and never abort the batch;
// the returned error is reserved for invalid options, cancellation and archive
// write failures.
func (e *Exporter) Export(ctx context.Context, invoices []*model.Invoice, opts Options) (*BatchJob, error) {
	if len(invoices) == 0 {
		return nil, model.NewInputError("invoices", "no invoices to export")
	}
	formats := opts.formats()
	for _, f := range formats {
		if _, err := model.ParseFormat(string(f)); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	exportDate := e.now().UTC()
	job := &BatchJob{
		ID:      uuid.NewString(),
		Formats: formats,
		Errors:  make([]BatchError, 0),
	}
	for _, inv := range invoices {
		job.InvoiceIDs = append(job.InvoiceIDs, reference(inv))
	}

	log := e.log.With().Str("batch_id", job.ID).Logger()
	log.Info().Int("invoices", len(invoices)).Interface("formats", formats).Msg("batch export started")

	results := make([]result, len(invoices)*len(formats))
	docOpts := document.Options{Profile: opts.Profile}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency())
	for i, inv := range invoices {
		for j, format := range formats {
			g.Go(func() error {
				r := result{format: format}
				r.artifact, r.err = e.generate(gctx, inv, format, docOpts)
				results[i*len(formats)+j] = r
				return nil
			})
		}
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch export cancelled: %w", err)
	}

	metaNames := assignNames(invoices, results, len(formats), opts)
	e.collect(job, invoices, results, len(formats))
	job.Duration = time.Since(start)

	manifest := e.manifest(job, exportDate)
	archive, err := writeArchive(invoices, results, len(formats), opts, metaNames, manifest, exportDate)
	if err != nil {
		return nil, fmt.Errorf("failed to write archive: %w", err)
	}

	job.Archive = archive
	job.Manifest = manifest

	log.Info().
		Int("processed", job.ProcessedInvoices).
		Int("failed", job.FailedInvoices).
		Int("files", job.SuccessfulFiles).
		Int64("bytes", job.TotalSize).
		Dur("duration", job.Duration).
		Msg("batch export finished")
	return job, nil
}

// generate never panics into the errgroup: a failing generator becomes an item error
func (e *Exporter) generate(ctx context.Context, inv *model.Invoice, format model.Format, opts document.Options) (art *model.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			art, err = nil, model.NewGenerationError(format, number(inv), "generator panicked", fmt.Errorf("%v", r))
		}
	}()
	return e.generator.Generate(ctx, inv, format, opts)
}

// collect fills items, counts and one BatchError per failed invoice, in input order
func (e *Exporter) collect(job *BatchJob, invoices []*model.Invoice, results []result, perInvoice int) {
	for i, inv := range invoices {
		var failed []model.Format
		var messages []string

		for _, r := range results[i*perInvoice : (i+1)*perInvoice] {
			item := Item{InvoiceID: reference(inv), InvoiceNumber: number(inv), Format: r.format}
			if r.err != nil {
				item.Error = r.err.Error()
				failed = append(failed, r.format)
				if !contains(messages, item.Error) {
					messages = append(messages, item.Error)
				}
				e.log.Warn().Err(r.err).Str("invoice_number", number(inv)).Str("format", string(r.format)).Msg("generation failed")
			} else {
				item.Filename = r.name
				item.Size = r.artifact.Size
				job.SuccessfulFiles++
				job.TotalSize += int64(r.artifact.Size)
			}
			job.Items = append(job.Items, item)
		}

		job.ProcessedInvoices++
		if len(failed) > 0 {
			job.FailedInvoices++
			job.Errors = append(job.Errors, BatchError{
				InvoiceID:     reference(inv),
				InvoiceNumber: number(inv),
				Formats:       failed,
				Error:         strings.Join(messages, "; "),
			})
		}
	}
}

func (e *Exporter) manifest(job *BatchJob, exportDate time.Time) *Manifest {
	m := &Manifest{
		BatchID:           job.ID,
		ExportDate:        exportDate,
		TotalInvoices:     len(job.InvoiceIDs),
		ProcessedInvoices: job.ProcessedInvoices,
		FailedInvoices:    job.FailedInvoices,
		SuccessfulFiles:   job.SuccessfulFiles,
		Formats:           job.Formats,
		PerFormat:         make(map[model.Format]FormatTotals),
		TotalSize:         job.TotalSize,
		DurationMs:        job.Duration.Milliseconds(),
		Errors:            job.Errors,
	}
	for _, f := range job.Formats {
		m.PerFormat[f] = FormatTotals{}
	}
	for _, item := range job.Items {
		if item.Failed() {
			continue
		}
		t := m.PerFormat[item.Format]
		t.Files++
		t.Bytes += int64(item.Size)
		m.PerFormat[item.Format] = t
	}
	return m
}

// metadata is the per-invoice JSON sidecar
type metadata struct {
	InvoiceID     string          `json:"invoiceId"`
	InvoiceNumber string          `json:"invoiceNumber"`
	IssueDate     string          `json:"issueDate,omitempty"`
	DueDate       string          `json:"dueDate,omitempty"`
	Customer      string          `json:"customer"`
	Currency      string          `json:"currency"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Total         decimal.Decimal `json:"total"`
	Files         []Item          `json:"files"`
	ExportedAt    time.Time       `json:"exportedAt"`
}

// writeArchive is the single writer: entries follow input order, then format order
func writeArchive(invoices []*model.Invoice, results []result, perInvoice int, opts Options, metaNames []string, manifest *Manifest, at time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i, inv := range invoices {
		var files []Item
		for _, r := range results[i*perInvoice : (i+1)*perInvoice] {
			if r.err != nil {
				files = append(files, Item{InvoiceID: reference(inv), InvoiceNumber: number(inv), Format: r.format, Error: r.err.Error()})
				continue
			}
			if err := writeEntry(zw, r.name, r.artifact.Content, at); err != nil {
				return nil, err
			}
			files = append(files, Item{InvoiceID: reference(inv), InvoiceNumber: number(inv), Format: r.format, Filename: r.name, Size: r.artifact.Size})
		}

		if opts.Metadata && inv != nil {
			meta := metadata{
				InvoiceID:     reference(inv),
				InvoiceNumber: number(inv),
				Customer:      inv.Customer.Name,
				Currency:      inv.Currency,
				Subtotal:      inv.Subtotal,
				Total:         inv.Total,
				Files:         files,
				ExportedAt:    at,
			}
			if !inv.IssueDate.IsZero() {
				meta.IssueDate = inv.IssueDate.Format("2006-01-02")
			}
			if !inv.DueDate.IsZero() {
				meta.DueDate = inv.DueDate.Format("2006-01-02")
			}
			data, err := json.MarshalIndent(meta, "", "  ")
			if err != nil {
				return nil, err
			}
			if err := writeEntry(zw, metaNames[i], data, at); err != nil {
				return nil, err
			}
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeEntry(zw, ManifestName, data, at); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MetadataName returns the sidecar entry name for an invoice number
func MetadataName(invoiceNumber string, folders bool) string {
	safe := model.SafeFileName(invoiceNumber)
	if folders {
		return "metadata/" + safe + ".json"
	}
	return safe + "_metadata.json"
}

// assignNames picks the archive entry of every generated file and metadata
// sidecar. Invoice numbers that collide, also after sanitizing, get the
// invoice's 1-based batch position appended.
func assignNames(invoices []*model.Invoice, results []result, perInvoice int, opts Options) []string {
	used := map[string]bool{strings.ToLower(ManifestName): true}
	unique := func(name string, pos int) string {
		if !used[strings.ToLower(name)] {
			used[strings.ToLower(name)] = true
			return name
		}
		ext := path.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		candidate := fmt.Sprintf("%s_%d%s", stem, pos, ext)
		for n := 2; used[strings.ToLower(candidate)]; n++ {
			candidate = fmt.Sprintf("%s_%d-%d%s", stem, pos, n, ext)
		}
		used[strings.ToLower(candidate)] = true
		return candidate
	}

	metaNames := make([]string, len(invoices))
	for i, inv := range invoices {
		for k := i * perInvoice; k < (i+1)*perInvoice; k++ {
			r := &results[k]
			if r.err != nil {
				continue
			}
			name := r.artifact.Filename
			if opts.Folders {
				name = path.Join(string(r.format), name)
			}
			r.name = unique(name, i+1)
		}
		if opts.Metadata && inv != nil {
			metaNames[i] = unique(MetadataName(number(inv), opts.Folders), i+1)
		}
	}
	return metaNames
}

func writeEntry(zw *zip.Writer, name string, data []byte, at time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: at})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func reference(inv *model.Invoice) string {
	if inv == nil {
		return ""
	}
	return inv.Reference()
}

func number(inv *model.Invoice) string {
	if inv == nil {
		return ""
	}
	return inv.InvoiceNumber
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
