package zugferd_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	money "github.com/rezonia/erechnung/internal/decimal"
	"github.com/rezonia/erechnung/internal/fixture"
	"github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/xrechnung"
	"github.com/rezonia/erechnung/internal/zugferd"
)

func TestGenerate_EmbedsXMLTwin(t *testing.T) {
	inv := fixture.Invoice()
	gen := zugferd.NewGenerator(nil)

	out, err := gen.Generate(inv, zugferd.Options{})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	embedded, err := zugferd.ExtractXML(out)
	require.NoError(t, err)

	expected, err := xrechnung.NewGenerator().Generate(inv, xrechnung.Options{})
	require.NoError(t, err)
	assert.Equal(t, expected, embedded)
}

func TestGenerate_Keywords(t *testing.T) {
	out, err := zugferd.NewGenerator(nil).Generate(fixture.Invoice(), zugferd.Options{Profile: zugferd.ProfileExtended})
	require.NoError(t, err)

	assert.Contains(t, string(out), "Invoice, ZUGFeRD, Factur-X, EN 16931, EXTENDED")
}

func TestGenerate_InputErrors(t *testing.T) {
	gen := zugferd.NewGenerator(nil)

	inv := fixture.Invoice()
	inv.Customer.Name = ""
	_, err := gen.Generate(inv, zugferd.Options{})

	var inputErr *model.InputError
	require.True(t, errors.As(err, &inputErr))
	assert.Equal(t, "customer.name", inputErr.Field)

	inv = fixture.Invoice()
	inv.LineItems = nil
	_, err = gen.Generate(inv, zugferd.Options{})
	require.True(t, errors.As(err, &inputErr))
}

func TestGenerate_RejectsTextOutsideWinAnsi(t *testing.T) {
	inv := fixture.Invoice()
	inv.LineItems[0].Description = "Ω 中文 Service"

	out, err := zugferd.NewGenerator(nil).Generate(inv, zugferd.Options{})
	assert.Nil(t, out)

	var genErr *model.GenerationError
	require.True(t, errors.As(err, &genErr), "got %v", err)
	assert.Equal(t, model.FormatZUGFeRD, genErr.Format)
	assert.Contains(t, err.Error(), "WinAnsi")

	// umlauts, sharp s, euro sign and middle dot are all WinAnsi
	inv.LineItems[0].Description = "Prüfung der Maßnahmen · 5 €"
	_, err = zugferd.NewGenerator(nil).Generate(inv, zugferd.Options{})
	require.NoError(t, err)
}

func TestLayout_SplitsOverlongRow(t *testing.T) {
	inv := fixture.ManyItems(3)
	inv.LineItems[1].Description = strings.Repeat("Leistungsbeschreibung ", 1200)

	layout := zugferd.BuildLayout(inv, zugferd.DefaultProfile)
	require.Greater(t, len(layout.Pages), 2)

	rows := 0
	for _, p := range layout.Pages {
		rows += p.TableRows
		for _, txt := range p.Texts {
			if txt.Size >= 9 {
				assert.GreaterOrEqual(t, txt.Y, 95.0, "page %d: %q below content area", p.Number, txt.Text)
			}
		}
		if p.Number > 1 {
			assert.True(t, p.Contains("(Fortsetzung)"), "page %d continuation header", p.Number)
		}
		if p.Number > 1 && p.Number < len(layout.Pages) {
			assert.True(t, p.Contains("Beschreibung"), "page %d table header", p.Number)
		}
	}
	assert.Equal(t, 3, rows)
	assert.True(t, layout.Pages[len(layout.Pages)-1].Contains("Gesamtbetrag"))

	out, err := zugferd.NewGenerator(nil).Generate(inv, zugferd.Options{})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestLayout_TotalsMatchXML(t *testing.T) {
	inv := fixture.Invoice()
	layout := zugferd.BuildLayout(inv, zugferd.DefaultProfile)

	out, err := xrechnung.NewGenerator().Generate(inv, xrechnung.Options{})
	require.NoError(t, err)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	root := doc.Root()

	assert.Equal(t, root.FindElement("cac:LegalMonetaryTotal/cbc:TaxExclusiveAmount").Text(), money.Format(layout.Totals.Net))
	assert.Equal(t, root.FindElement("cac:LegalMonetaryTotal/cbc:PayableAmount").Text(), money.Format(layout.Totals.Gross))
	assert.Equal(t, root.FindElement("cac:TaxTotal/cbc:TaxAmount").Text(), money.Format(layout.Totals.Tax))

	subtotals := root.FindElement("cac:TaxTotal").SelectElements("TaxSubtotal")
	require.Len(t, layout.Totals.Taxes, len(subtotals))
	for i, sub := range subtotals {
		assert.Equal(t, sub.FindElement("cbc:TaxAmount").Text(), money.Format(layout.Totals.Taxes[i].Amount))
		assert.Equal(t, sub.FindElement("cbc:TaxableAmount").Text(), money.Format(layout.Totals.Taxes[i].Base))
	}
}

func TestLayout_SinglePage(t *testing.T) {
	layout := zugferd.BuildLayout(fixture.Invoice(), zugferd.DefaultProfile)

	require.Len(t, layout.Pages, 1)
	page := layout.Pages[0]
	assert.Equal(t, 2, page.TableRows)
	assert.True(t, page.Contains("RECHNUNG"))
	assert.True(t, page.Contains("Beispiel AG"))
	assert.True(t, page.Contains("RE-2026-0001"))
	assert.True(t, page.Contains("226,00 EUR"))
	assert.True(t, page.Contains("USt-IdNr.: DE123456789"))
	assert.True(t, page.Contains("IBAN: DE89370400440532013000"))
	assert.True(t, page.Contains("Seite 1 von 1"))
}

func TestLayout_Paginates(t *testing.T) {
	inv := fixture.ManyItems(60)
	layout := zugferd.BuildLayout(inv, zugferd.DefaultProfile)

	require.Greater(t, len(layout.Pages), 1)

	rows := 0
	for _, p := range layout.Pages {
		rows += p.TableRows
		assert.True(t, p.Contains(fmt.Sprintf("Seite %d von %d", p.Number, len(layout.Pages))), "page %d footer", p.Number)
		assert.True(t, p.Contains("USt-IdNr.: DE123456789"), "page %d legal identifiers", p.Number)
		if p.TableRows > 0 {
			assert.True(t, p.Contains("Beschreibung"), "page %d table header", p.Number)
		}
		for _, txt := range p.Texts {
			if txt.Size >= 9 && txt.Text != "" {
				assert.GreaterOrEqual(t, txt.Y, 95.0, "page %d: %q overlaps footer", p.Number, txt.Text)
			}
		}
	}
	assert.Equal(t, 60, rows)

	last := layout.Pages[len(layout.Pages)-1]
	assert.True(t, last.Contains("Gesamtbetrag"))
	assert.True(t, last.Contains("Nettobetrag"))
}

func TestLayout_WrapsLongDescriptions(t *testing.T) {
	inv := fixture.ManyItems(1)
	layout := zugferd.BuildLayout(inv, zugferd.DefaultProfile)

	var descLines int
	for _, txt := range layout.Pages[0].Texts {
		if txt.X == 78 && txt.Size == 9 && txt.Font == "Helvetica" {
			descLines++
			assert.LessOrEqual(t, len(txt.Text), len(inv.LineItems[0].Description))
		}
	}
	assert.Greater(t, descLines, 1)
}

func TestLayout_Deterministic(t *testing.T) {
	inv := fixture.ManyItems(40)

	first := zugferd.BuildLayout(inv, zugferd.DefaultProfile)
	second := zugferd.BuildLayout(inv, zugferd.DefaultProfile)
	assert.Equal(t, first, second)
}

func TestParseProfile(t *testing.T) {
	p, err := zugferd.ParseProfile("")
	require.NoError(t, err)
	assert.Equal(t, zugferd.ProfileComfort, p)

	p, err = zugferd.ParseProfile("basic")
	require.NoError(t, err)
	assert.Equal(t, zugferd.ProfileBasic, p)

	p, err = zugferd.ParseProfile("EN16931")
	require.NoError(t, err)
	assert.Equal(t, zugferd.ProfileComfort, p)

	_, err = zugferd.ParseProfile("minimum")
	require.Error(t, err)
}
