// Package document dispatches artifact generation to the format generators.
package document

import (
	"context"
	"time"

	"github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/xrechnung"
	"github.com/rezonia/erechnung/internal/zugferd"
)

// Options are the per-call generation options shared by all formats
type Options struct {
	Profile        zugferd.Profile
	RoutingID      string
	BuyerReference string
}

// Generator builds artifacts in any supported format. Safe for concurrent use.
type Generator struct {
	xml *xrechnung.Generator
	pdf *zugferd.Generator
	now func() time.Time
}

// NewGenerator creates a generator with the default format generators
func NewGenerator() *Generator {
	xml := xrechnung.NewGenerator()
	return &Generator{
		xml: xml,
		pdf: zugferd.NewGenerator(xml),
		now: time.Now,
	}
}

// WithClock returns a copy that stamps artifacts using now
func (g *Generator) WithClock(now func() time.Time) *Generator {
	c := *g
	c.now = now
	return &c
}

// Generate builds one artifact. The context is checked before work starts;
// generation itself is not interruptible.
func (g *Generator) Generate(ctx context.Context, inv *model.Invoice, format model.Format, opts Options) (*model.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, model.NewInputError("invoice", "invoice snapshot is nil")
	}

	xmlOpts := xrechnung.Options{RoutingID: opts.RoutingID, BuyerReference: opts.BuyerReference}

	var (
		content []byte
		err     error
	)
	switch format {
	case model.FormatXRechnung:
		content, err = g.xml.Generate(inv, xmlOpts)
	case model.FormatZUGFeRD:
		content, err = g.pdf.Generate(inv, zugferd.Options{Profile: opts.Profile, XRechnung: xmlOpts})
	default:
		_, err = model.ParseFormat(string(format))
	}
	if err != nil {
		return nil, err
	}
	return model.NewArtifact(inv, format, content, g.now()), nil
}
