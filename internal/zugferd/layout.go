package zugferd

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rezonia/erechnung/internal/model"
)

// A4 in PDF points
const (
	PageWidth  = 595.28
	PageHeight = 841.89
)

const (
	marginLeft    = 50.0
	marginRight   = 50.0
	marginTop     = 50.0
	contentRight  = PageWidth - marginRight
	contentBottom = 95.0 // footer area starts below
	footerRule    = 85.0

	bodySize   = 9
	lineHeight = 12.0
)

// TextOp places a single line of text; (X, Y) is the baseline origin
type TextOp struct {
	X    float64
	Y    float64
	Font string
	Size int
	Text string
}

// LineOp draws a horizontal or vertical rule
type LineOp struct {
	X1, Y1, X2, Y2 float64
	Width          float64
}

// Page holds the draw operations of one page
type Page struct {
	Number    int
	Texts     []TextOp
	Lines     []LineOp
	TableRows int
}

// Contains reports whether any text on the page contains s
func (p *Page) Contains(s string) bool {
	for _, t := range p.Texts {
		if strings.Contains(t.Text, s) {
			return true
		}
	}
	return false
}

// TaxLine is one tax group row in the totals block
type TaxLine struct {
	Rate   decimal.Decimal
	Base   decimal.Decimal
	Amount decimal.Decimal
}

// Totals are the amounts printed in the totals block. They are taken from the
// same snapshot helpers as the XML twin.
type Totals struct {
	Net   decimal.Decimal
	Taxes []TaxLine
	Tax   decimal.Decimal
	Gross decimal.Decimal
}

// Layout is the positioned content of the visual invoice
type Layout struct {
	Title   string
	Pages   []*Page
	Totals  Totals
	Profile Profile
}

type column struct {
	title string
	x     float64
	width float64
	right bool
}

var columns = []column{
	{"Pos.", marginLeft, 26, false},
	{"Beschreibung", 78, 208, false},
	{"Menge", 286, 48, true},
	{"Einheit", 340, 40, false},
	{"Einzelpreis", 380, 66, true},
	{"USt.", 446, 36, true},
	{"Gesamt", 482, contentRight - 482, true},
}

const descColumn = 1

// BuildLayout positions the invoice content on A4 pages. It is a pure function of
// the snapshot: the table continues on new pages with a repeated header, the
// totals block is never split and every page carries the footer.
func BuildLayout(inv *model.Invoice, profile Profile) *Layout {
	b := &layoutBuilder{inv: inv, currency: currencyOf(inv)}
	b.layout = &Layout{
		Title:   fmt.Sprintf("Rechnung %s", inv.InvoiceNumber),
		Profile: profile,
		Totals:  totalsOf(inv),
	}

	b.newPage()
	b.header()
	b.tableHeader()
	for i, li := range inv.LineItems {
		b.row(i+1, li)
	}
	b.totals()
	b.remarks()
	b.footers()

	return b.layout
}

func totalsOf(inv *model.Invoice) Totals {
	t := Totals{
		Net:   inv.Subtotal,
		Tax:   inv.TaxTotal(),
		Gross: inv.Total,
	}
	for _, g := range inv.TaxGroups() {
		t.Taxes = append(t.Taxes, TaxLine{Rate: g.Rate, Base: g.TaxableBase, Amount: g.TaxAmount})
	}
	return t
}

func currencyOf(inv *model.Invoice) string {
	if inv.Currency == "" {
		return "EUR"
	}
	return strings.ToUpper(inv.Currency)
}

type layoutBuilder struct {
	inv      *model.Invoice
	currency string
	layout   *Layout
	page     *Page
	y        float64
}

func (b *layoutBuilder) newPage() {
	b.page = &Page{Number: len(b.layout.Pages) + 1}
	b.layout.Pages = append(b.layout.Pages, b.page)
	b.y = PageHeight - marginTop
}

// fits reports whether a block of height h still fits above the footer
func (b *layoutBuilder) fits(h float64) bool {
	return b.y-h >= contentBottom
}

func (b *layoutBuilder) text(x, y float64, fontName string, size int, s string) {
	if s == "" {
		return
	}
	b.page.Texts = append(b.page.Texts, TextOp{X: x, Y: y, Font: fontName, Size: size, Text: s})
}

func (b *layoutBuilder) textRight(right, y float64, fontName string, size int, s string) {
	b.text(right-textWidth(s, fontName, size), y, fontName, size, s)
}

func (b *layoutBuilder) rule(y float64, width float64) {
	b.page.Lines = append(b.page.Lines, LineOp{X1: marginLeft, Y1: y, X2: contentRight, Y2: y, Width: width})
}

func (b *layoutBuilder) header() {
	inv := b.inv
	s := inv.Supplier

	b.text(marginLeft, b.y-14, fontBold, 14, s.Name)
	b.textRight(contentRight, b.y-18, fontBold, 18, "RECHNUNG")
	b.y -= 30

	if sender := addressLine(s.Address); sender != "" {
		b.text(marginLeft, b.y, fontRegular, 7, s.Name+" · "+sender)
	}
	b.y -= 20

	// Recipient on the left, document data on the right
	left := b.y
	c := inv.Customer
	b.text(marginLeft, left, fontBold, 10, c.Name)
	left -= lineHeight
	for _, l := range addressLines(c.Address) {
		b.text(marginLeft, left, fontRegular, 10, l)
		left -= lineHeight
	}

	right := b.y
	for _, kv := range b.documentData() {
		b.text(360, right, fontRegular, bodySize, kv[0])
		b.textRight(contentRight, right, fontRegular, bodySize, kv[1])
		right -= lineHeight
	}

	b.y = min(left, right) - 24
}

func (b *layoutBuilder) documentData() [][2]string {
	inv := b.inv
	data := [][2]string{
		{"Rechnungsnummer", inv.InvoiceNumber},
		{"Rechnungsdatum", formatDate(inv.IssueDate)},
		{"Fällig am", formatDate(inv.DueDate)},
	}
	if inv.Customer.ID != "" {
		data = append(data, [2]string{"Kundennummer", inv.Customer.ID})
	}
	if inv.RoutingID != "" {
		data = append(data, [2]string{"Leitweg-ID", inv.RoutingID})
	} else if inv.BuyerReference != "" {
		data = append(data, [2]string{"Ihre Referenz", inv.BuyerReference})
	}
	return data
}

func (b *layoutBuilder) tableHeader() {
	for _, col := range columns {
		if col.right {
			b.textRight(col.x+col.width, b.y, fontBold, bodySize, col.title)
		} else {
			b.text(col.x, b.y, fontBold, bodySize, col.title)
		}
	}
	b.rule(b.y-4, 0.5)
	b.y -= lineHeight + 4
}

func (b *layoutBuilder) continuationHeader() {
	b.text(marginLeft, b.y, fontBold, 10, fmt.Sprintf("Rechnung %s (Fortsetzung)", b.inv.InvoiceNumber))
	b.y -= 2 * lineHeight
}

// tableTop is the first row baseline on a continuation page
const tableTop = PageHeight - marginTop - 3*lineHeight - 4

func (b *layoutBuilder) tablePage() {
	b.newPage()
	b.continuationHeader()
	b.tableHeader()
}

// row keeps a line item on one page when it fits on a fresh one; longer
// descriptions continue below the repeated table header.
func (b *layoutBuilder) row(pos int, li model.LineItem) {
	desc := wrapText(li.Description, fontRegular, bodySize, columns[descColumn].width)
	height := float64(len(desc))*lineHeight + 2

	if !b.fits(height) && (tableTop-height >= contentBottom || !b.fits(lineHeight)) {
		b.tablePage()
	}

	cells := []string{
		fmt.Sprintf("%d", pos),
		"",
		formatQuantity(li.Quantity),
		li.Unit,
		formatAmount(li.UnitPrice),
		formatRate(li.TaxRate),
		formatAmount(li.LineTotal),
	}
	for i, col := range columns {
		if i == descColumn {
			continue
		}
		if col.right {
			b.textRight(col.x+col.width, b.y, fontRegular, bodySize, cells[i])
		} else {
			b.text(col.x, b.y, fontRegular, bodySize, cells[i])
		}
	}
	b.page.TableRows++

	for i, l := range desc {
		if i > 0 && !b.fits(lineHeight) {
			b.tablePage()
		}
		b.text(columns[descColumn].x, b.y, fontRegular, bodySize, l)
		b.y -= lineHeight
	}
	b.y -= 2
}

func (b *layoutBuilder) totals() {
	t := b.layout.Totals
	height := float64(len(t.Taxes)+2)*lineHeight + 16
	if !b.fits(height) {
		b.newPage()
		b.continuationHeader()
	}

	b.rule(b.y+lineHeight-4, 0.5)
	b.y -= 4
	labelX := 330.0

	b.text(labelX, b.y, fontRegular, bodySize, "Nettobetrag")
	b.textRight(contentRight, b.y, fontRegular, bodySize, b.money(t.Net))
	b.y -= lineHeight

	for _, tl := range t.Taxes {
		label := fmt.Sprintf("USt. %s auf %s", formatRate(tl.Rate), formatAmount(tl.Base))
		b.text(labelX, b.y, fontRegular, bodySize, label)
		b.textRight(contentRight, b.y, fontRegular, bodySize, b.money(tl.Amount))
		b.y -= lineHeight
	}

	b.page.Lines = append(b.page.Lines, LineOp{X1: labelX, Y1: b.y + lineHeight - 3, X2: contentRight, Y2: b.y + lineHeight - 3, Width: 0.5})
	b.text(labelX, b.y, fontBold, 10, "Gesamtbetrag")
	b.textRight(contentRight, b.y, fontBold, 10, b.money(t.Gross))
	b.y -= 2 * lineHeight
}

func (b *layoutBuilder) money(d decimal.Decimal) string {
	return formatAmount(d) + " " + b.currency
}

func (b *layoutBuilder) remarks() {
	inv := b.inv
	var paragraphs []string

	if inv.PaymentTerms != "" {
		paragraphs = append(paragraphs, "Zahlungsbedingungen: "+inv.PaymentTerms)
	}
	if bank := inv.Supplier.Bank; !bank.IsEmpty() && (inv.PaymentMethod == "" || inv.PaymentMethod == model.PaymentBankTransfer) {
		paragraphs = append(paragraphs, fmt.Sprintf("Bitte überweisen Sie den Betrag von %s unter Angabe der Rechnungsnummer %s auf das Konto IBAN %s.",
			b.money(inv.Total), inv.InvoiceNumber, bank.IBAN))
	}
	if inv.Notes != "" {
		paragraphs = append(paragraphs, inv.Notes)
	}

	width := contentRight - marginLeft
	for _, p := range paragraphs {
		for _, l := range wrapText(p, fontRegular, bodySize, width) {
			if !b.fits(lineHeight) {
				b.newPage()
				b.continuationHeader()
			}
			b.text(marginLeft, b.y, fontRegular, bodySize, l)
			b.y -= lineHeight
		}
		b.y -= lineHeight / 2
	}
}

// check reports body text placed outside the printable area. Footer text is
// set in smaller sizes below contentBottom.
func (l *Layout) check() error {
	for _, p := range l.Pages {
		for _, t := range p.Texts {
			if t.Size < bodySize {
				continue
			}
			if t.Y < contentBottom || t.Y > PageHeight {
				return fmt.Errorf("page %d: text %q overflows the content area", p.Number, t.Text)
			}
		}
	}
	return nil
}

// footers runs after all pages exist so every page can show "Seite n von m"
func (b *layoutBuilder) footers() {
	lines := b.footerLines()
	total := len(b.layout.Pages)

	for _, p := range b.layout.Pages {
		b.page = p
		b.rule(footerRule, 0.3)
		y := footerRule - 10
		for _, l := range lines {
			b.text(marginLeft, y, fontRegular, 7, l)
			y -= 9
		}
		b.textRight(contentRight, 30, fontRegular, 8, fmt.Sprintf("Seite %d von %d", p.Number, total))
	}
}

func (b *layoutBuilder) footerLines() []string {
	s := b.inv.Supplier
	var lines []string

	first := s.Name
	if addr := addressLine(s.Address); addr != "" {
		first += " · " + addr
	}
	lines = append(lines, first)

	var ids []string
	if s.VATID != "" {
		ids = append(ids, "USt-IdNr.: "+s.VATID)
	}
	if s.TaxID != "" {
		ids = append(ids, "Steuernummer: "+s.TaxID)
	}
	if s.Email != "" {
		ids = append(ids, s.Email)
	}
	if len(ids) > 0 {
		lines = append(lines, strings.Join(ids, " · "))
	}

	if bank := s.Bank; !bank.IsEmpty() {
		parts := []string{"IBAN: " + bank.IBAN}
		if bank.BIC != "" {
			parts = append(parts, "BIC: "+bank.BIC)
		}
		if bank.BankName != "" {
			parts = append(parts, bank.BankName)
		}
		lines = append(lines, strings.Join(parts, " · "))
	}
	return lines
}

func addressLines(a model.Address) []string {
	var lines []string
	if a.Street != "" {
		lines = append(lines, a.Street)
	}
	if a.Additional != "" {
		lines = append(lines, a.Additional)
	}
	if city := strings.TrimSpace(a.PostalCode + " " + a.City); city != "" {
		lines = append(lines, city)
	}
	if a.Country != "" && a.CountryCode() != "DE" {
		lines = append(lines, a.CountryCode())
	}
	return lines
}

func addressLine(a model.Address) string {
	return strings.Join(addressLines(a), ", ")
}
