package model

import (
	"fmt"
	"strings"
	"time"
)

// Format identifies an output representation
type Format string

const (
	FormatXRechnung Format = "xrechnung"
	FormatZUGFeRD   Format = "zugferd"
)

// MIME types of generated artifacts
const (
	MimeXML = "application/xml"
	MimePDF = "application/pdf"
)

// ParseFormat parses a format name (case-insensitive)
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatXRechnung:
		return FormatXRechnung, nil
	case FormatZUGFeRD:
		return FormatZUGFeRD, nil
	}
	return "", NewInputError("format", fmt.Sprintf("unsupported format %q", s))
}

// Extension returns the file extension without dot
func (f Format) Extension() string {
	if f == FormatZUGFeRD {
		return "pdf"
	}
	return "xml"
}

// MimeType returns the artifact MIME type
func (f Format) MimeType() string {
	if f == FormatZUGFeRD {
		return MimePDF
	}
	return MimeXML
}

// Filename returns {invoiceNumber}_{format}.{ext}
func (f Format) Filename(invoiceNumber string) string {
	return fmt.Sprintf("%s_%s.%s", SafeFileName(invoiceNumber), f, f.Extension())
}

// Artifact is a generated document. It is created per call and not persisted here.
type Artifact struct {
	Format        Format    `json:"format"`
	Content       []byte    `json:"-"`
	Filename      string    `json:"filename"`
	MimeType      string    `json:"mimeType"`
	InvoiceID     string    `json:"invoiceId"`
	InvoiceNumber string    `json:"invoiceNumber"`
	GeneratedAt   time.Time `json:"generatedAt"`
	Size          int       `json:"size"`
}

// NewArtifact wraps generated bytes with the file conventions of the format
func NewArtifact(inv *Invoice, format Format, content []byte, at time.Time) *Artifact {
	return &Artifact{
		Format:        format,
		Content:       content,
		Filename:      format.Filename(inv.InvoiceNumber),
		MimeType:      format.MimeType(),
		InvoiceID:     inv.Reference(),
		InvoiceNumber: inv.InvoiceNumber,
		GeneratedAt:   at.UTC(),
		Size:          len(content),
	}
}

// SafeFileName replaces characters that are unsafe in archive and file paths
func SafeFileName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, s)
}
