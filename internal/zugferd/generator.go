package zugferd

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	domain "github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/xrechnung"
)

// Creator is written to the PDF info dictionary and XMP packet
const Creator = "erechnung"

// Options tune the generated document
type Options struct {
	Profile   Profile
	XRechnung xrechnung.Options
}

// Generator produces hybrid PDFs. It holds no mutable state and is safe for concurrent use.
type Generator struct {
	xml *xrechnung.Generator
}

// NewGenerator creates a ZUGFeRD generator that uses xml for the embedded twin
func NewGenerator(xml *xrechnung.Generator) *Generator {
	if xml == nil {
		xml = xrechnung.NewGenerator()
	}
	return &Generator{xml: xml}
}

var disableConfigDir sync.Once

// pdfConfig returns a relaxed pdfcpu configuration that never touches the user config dir
func pdfConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	return conf
}

// Generate renders inv and embeds its XRechnung XML as zugferd-invoice.xml
func (g *Generator) Generate(inv *domain.Invoice, opts Options) ([]byte, error) {
	if err := inv.CheckRequired(); err != nil {
		return nil, err
	}
	if err := inv.CheckParties(); err != nil {
		return nil, err
	}

	profile := opts.Profile
	if profile == "" {
		profile = DefaultProfile
	}

	twin, err := g.xml.Generate(inv, opts.XRechnung)
	if err != nil {
		return nil, err
	}

	layout := BuildLayout(inv, profile)
	if err := layout.check(); err != nil {
		return nil, domain.NewGenerationError(domain.FormatZUGFeRD, inv.InvoiceNumber, "layout overflow", err)
	}
	info := DocInfo{
		Title:    layout.Title,
		Author:   inv.Supplier.Name,
		Subject:  fmt.Sprintf("Rechnung an %s", inv.Customer.Name),
		Keywords: profile.Keywords(),
		Creator:  Creator,
		Created:  inv.IssueDate,
	}

	xmp, err := buildXMP(info, profile)
	if err != nil {
		return nil, domain.NewGenerationError(domain.FormatZUGFeRD, inv.InvoiceNumber, "failed to build XMP metadata", err)
	}

	base, err := renderPDF(layout, info, xmp)
	if err != nil {
		return nil, domain.NewGenerationError(domain.FormatZUGFeRD, inv.InvoiceNumber, "unsupported characters in visual invoice", err)
	}

	out, err := embed(base, twin, attachmentTime(inv))
	if err != nil {
		return nil, domain.NewGenerationError(domain.FormatZUGFeRD, inv.InvoiceNumber, "failed to embed XML", err)
	}
	return out, nil
}

func attachmentTime(inv *domain.Invoice) time.Time {
	if inv.IssueDate.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return inv.IssueDate.UTC()
}

// embed reads the rendered PDF with pdfcpu, validates it and adds the XML twin as attachment
func embed(pdf, xml []byte, modTime time.Time) ([]byte, error) {
	conf := pdfConfig()
	conf.Cmd = model.ADDATTACHMENTS

	ctx, err := api.ReadContext(bytes.NewReader(pdf), conf)
	if err != nil {
		return nil, fmt.Errorf("read rendered pdf: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("validate rendered pdf: %w", err)
	}

	a := model.Attachment{
		Reader:  bytes.NewReader(xml),
		ID:      AttachmentName,
		Desc:    "XRechnung invoice data (EN 16931)",
		ModTime: &modTime,
	}
	if err := ctx.AddAttachment(a, false); err != nil {
		return nil, fmt.Errorf("add attachment: %w", err)
	}

	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// ExtractXML returns the embedded XML twin of a generated PDF
func ExtractXML(pdf []byte) ([]byte, error) {
	conf := pdfConfig()
	conf.Cmd = model.EXTRACTATTACHMENTS

	attachments, err := api.ExtractAttachmentsRaw(bytes.NewReader(pdf), "", []string{AttachmentName}, conf)
	if err != nil {
		return nil, err
	}
	for _, a := range attachments {
		if a.ID == AttachmentName {
			var buf bytes.Buffer
			if _, err := buf.ReadFrom(a.Reader); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		}
	}
	return nil, fmt.Errorf("attachment %s not found", AttachmentName)
}
