// Package xrechnung builds XRechnung (UBL 2.1 Invoice, CIUS XRechnung 3.0)
// documents from invoice snapshots.
package xrechnung

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	money "github.com/rezonia/erechnung/internal/decimal"
	"github.com/rezonia/erechnung/internal/model"
)

// Fixed document identifiers
const (
	NamespaceInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NamespaceCAC     = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NamespaceCBC     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"

	CustomizationID = "urn:cen.eu:en16931:2017#compliant#urn:xeinkauf.de:kosit:xrechnung_3.0"
	ProfileID       = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"

	InvoiceTypeCommercial = "380"
)

// Tax category codes (UNTDID 5305)
const (
	TaxCategoryStandard   = "S"
	TaxCategoryZeroRated  = "Z"
	taxSchemeVAT          = "VAT"
	taxSchemeFiscalNumber = "FC"
)

// paymentMeansCodes maps payment methods to UNTDID 4461 codes
var paymentMeansCodes = map[model.PaymentMethod]string{
	model.PaymentBankTransfer: "58",
	model.PaymentDirectDebit:  "59",
	model.PaymentCreditCard:   "54",
	model.PaymentCash:         "10",
	model.PaymentCheque:       "20",
	model.PaymentOther:        "1",
}

// unitCodes maps free-text units to UN/ECE Recommendation 20 codes
var unitCodes = map[string]string{
	"piece":  "H87",
	"pcs":    "H87",
	"stück":  "H87",
	"stk":    "H87",
	"hour":   "HUR",
	"hours":  "HUR",
	"h":      "HUR",
	"std":    "HUR",
	"day":    "DAY",
	"days":   "DAY",
	"tag":    "DAY",
	"month":  "MON",
	"monat":  "MON",
	"kg":     "KGM",
	"m":      "MTR",
	"l":      "LTR",
	"km":     "KMT",
	"flat":   "LS",
	"lump":   "LS",
	"pausch": "LS",
}

// defaultUnitCode is "one" (C62)
const defaultUnitCode = "C62"

// PaymentMeansCode returns the UNTDID 4461 code for a payment method, defaulting to credit transfer
func PaymentMeansCode(m model.PaymentMethod) string {
	if code, ok := paymentMeansCodes[m]; ok {
		return code
	}
	return paymentMeansCodes[model.PaymentBankTransfer]
}

// UnitCode maps a free-text unit to a UN/ECE code
func UnitCode(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	if u == "" {
		return defaultUnitCode
	}
	if code, ok := unitCodes[u]; ok {
		return code
	}
	// Already a code
	if trimmed := strings.TrimSpace(unit); len(trimmed) == 3 && strings.ToUpper(trimmed) == trimmed {
		return trimmed
	}
	return defaultUnitCode
}

// TaxCategory maps a tax rate to its category code: 0% is zero-rated, everything else standard
func TaxCategory(rate decimal.Decimal) string {
	if rate.IsZero() {
		return TaxCategoryZeroRated
	}
	return TaxCategoryStandard
}

// Options tune the generated document
type Options struct {
	// RoutingID is the Leitweg-ID; overrides the snapshot's value
	RoutingID string
	// BuyerReference is used when no routing id is present
	BuyerReference string
	// PaymentMeansCode overrides the code derived from the payment method
	PaymentMeansCode string
}

// Generator builds XRechnung documents. It holds no state and is safe for concurrent use.
type Generator struct{}

// NewGenerator creates a new XRechnung generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate builds the UTF-8 XML document for inv.
// It fails with an InputError when mandatory fields are missing and with a
// GenerationError when content cannot be represented.
func (g *Generator) Generate(inv *model.Invoice, opts Options) ([]byte, error) {
	if err := inv.CheckRequired(); err != nil {
		return nil, err
	}
	if err := inv.CheckParties(); err != nil {
		return nil, err
	}

	b := &builder{inv: inv}
	doc := b.build(opts)
	if b.err != nil {
		return nil, b.err
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, model.NewGenerationError(model.FormatXRechnung, inv.InvoiceNumber, "failed to serialize XML", err)
	}
	return out, nil
}

// builder accumulates the first content error while the tree is built
type builder struct {
	inv *model.Invoice
	err error
}

func (b *builder) build(opts Options) *etree.Document {
	inv := b.inv

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("ubl:Invoice")
	root.CreateAttr("xmlns:ubl", NamespaceInvoice)
	root.CreateAttr("xmlns:cac", NamespaceCAC)
	root.CreateAttr("xmlns:cbc", NamespaceCBC)

	b.text(root, "cbc:CustomizationID", CustomizationID)
	b.text(root, "cbc:ProfileID", ProfileID)
	b.text(root, "cbc:ID", inv.InvoiceNumber)
	b.date(root, "cbc:IssueDate", inv.IssueDate)
	b.date(root, "cbc:DueDate", inv.DueDate)
	b.text(root, "cbc:InvoiceTypeCode", InvoiceTypeCommercial)
	if inv.Notes != "" {
		b.text(root, "cbc:Note", inv.Notes)
	}
	b.text(root, "cbc:DocumentCurrencyCode", b.currency())
	b.text(root, "cbc:BuyerReference", buyerReference(inv, opts))

	b.supplierParty(root)
	b.customerParty(root)
	b.paymentMeans(root, opts)
	if inv.PaymentTerms != "" {
		terms := root.CreateElement("cac:PaymentTerms")
		b.text(terms, "cbc:Note", inv.PaymentTerms)
	}
	b.taxTotal(root)
	b.monetaryTotal(root)

	for i, li := range inv.LineItems {
		b.invoiceLine(root, i+1, li)
	}

	return doc
}

func buyerReference(inv *model.Invoice, opts Options) string {
	switch {
	case opts.RoutingID != "":
		return opts.RoutingID
	case inv.RoutingID != "":
		return inv.RoutingID
	case opts.BuyerReference != "":
		return opts.BuyerReference
	case inv.BuyerReference != "":
		return inv.BuyerReference
	}
	return inv.InvoiceNumber
}

func (b *builder) currency() string {
	if b.inv.Currency == "" {
		return "EUR"
	}
	return strings.ToUpper(b.inv.Currency)
}

func (b *builder) supplierParty(root *etree.Element) {
	s := b.inv.Supplier
	party := root.CreateElement("cac:AccountingSupplierParty").CreateElement("cac:Party")

	if s.Email != "" {
		b.text(party, "cbc:EndpointID", s.Email).CreateAttr("schemeID", "EM")
	}
	b.text(party.CreateElement("cac:PartyName"), "cbc:Name", s.Name)
	b.postalAddress(party, s.Address)

	if s.VATID != "" {
		b.partyTaxScheme(party, s.VATID, taxSchemeVAT)
	}
	if s.TaxID != "" {
		b.partyTaxScheme(party, s.TaxID, taxSchemeFiscalNumber)
	}

	legal := party.CreateElement("cac:PartyLegalEntity")
	b.text(legal, "cbc:RegistrationName", s.Name)

	if s.Email != "" || s.Phone != "" {
		contact := party.CreateElement("cac:Contact")
		if s.Phone != "" {
			b.text(contact, "cbc:Telephone", s.Phone)
		}
		if s.Email != "" {
			b.text(contact, "cbc:ElectronicMail", s.Email)
		}
	}
}

func (b *builder) customerParty(root *etree.Element) {
	c := b.inv.Customer
	party := root.CreateElement("cac:AccountingCustomerParty").CreateElement("cac:Party")

	if c.Email != "" {
		b.text(party, "cbc:EndpointID", c.Email).CreateAttr("schemeID", "EM")
	}
	b.text(party.CreateElement("cac:PartyName"), "cbc:Name", c.Name)
	b.postalAddress(party, c.Address)

	if vat := firstNonEmpty(c.VATID, c.TaxID); vat != "" {
		b.partyTaxScheme(party, vat, taxSchemeVAT)
	}

	legal := party.CreateElement("cac:PartyLegalEntity")
	b.text(legal, "cbc:RegistrationName", c.Name)
}

// postalAddress omits the whole block when the address is empty and skips empty lines
func (b *builder) postalAddress(party *etree.Element, a model.Address) {
	if a.IsEmpty() {
		return
	}
	addr := party.CreateElement("cac:PostalAddress")
	if a.Street != "" {
		b.text(addr, "cbc:StreetName", a.Street)
	}
	if a.Additional != "" {
		b.text(addr, "cbc:AdditionalStreetName", a.Additional)
	}
	if a.City != "" {
		b.text(addr, "cbc:CityName", a.City)
	}
	if a.PostalCode != "" {
		b.text(addr, "cbc:PostalZone", a.PostalCode)
	}
	b.text(addr.CreateElement("cac:Country"), "cbc:IdentificationCode", a.CountryCode())
}

func (b *builder) partyTaxScheme(party *etree.Element, companyID, scheme string) {
	pts := party.CreateElement("cac:PartyTaxScheme")
	b.text(pts, "cbc:CompanyID", companyID)
	b.text(pts.CreateElement("cac:TaxScheme"), "cbc:ID", scheme)
}

func (b *builder) paymentMeans(root *etree.Element, opts Options) {
	pm := root.CreateElement("cac:PaymentMeans")
	code := opts.PaymentMeansCode
	if code == "" {
		code = PaymentMeansCode(b.inv.PaymentMethod)
	}
	b.text(pm, "cbc:PaymentMeansCode", code)

	bank := b.inv.Supplier.Bank
	if bank.IsEmpty() {
		return
	}
	acct := pm.CreateElement("cac:PayeeFinancialAccount")
	b.text(acct, "cbc:ID", strings.ReplaceAll(bank.IBAN, " ", ""))
	if name := firstNonEmpty(bank.AccountHolder, b.inv.Supplier.Name); name != "" {
		b.text(acct, "cbc:Name", name)
	}
	if bank.BIC != "" {
		b.text(acct.CreateElement("cac:FinancialInstitutionBranch"), "cbc:ID", bank.BIC)
	}
}

func (b *builder) taxTotal(root *etree.Element) {
	tt := root.CreateElement("cac:TaxTotal")
	b.amount(tt, "cbc:TaxAmount", b.inv.TaxTotal())

	for _, g := range b.inv.TaxGroups() {
		sub := tt.CreateElement("cac:TaxSubtotal")
		b.amount(sub, "cbc:TaxableAmount", g.TaxableBase)
		b.amount(sub, "cbc:TaxAmount", g.TaxAmount)
		b.taxCategory(sub, "cac:TaxCategory", g.Rate)
	}
}

func (b *builder) taxCategory(parent *etree.Element, tag string, rate decimal.Decimal) {
	cat := parent.CreateElement(tag)
	b.text(cat, "cbc:ID", TaxCategory(rate))
	b.text(cat, "cbc:Percent", money.Format(rate))
	b.text(cat.CreateElement("cac:TaxScheme"), "cbc:ID", taxSchemeVAT)
}

func (b *builder) monetaryTotal(root *etree.Element) {
	lmt := root.CreateElement("cac:LegalMonetaryTotal")
	b.amount(lmt, "cbc:LineExtensionAmount", b.inv.ComputedSubtotal())
	b.amount(lmt, "cbc:TaxExclusiveAmount", b.inv.Subtotal)
	b.amount(lmt, "cbc:TaxInclusiveAmount", b.inv.Total)
	b.amount(lmt, "cbc:PayableAmount", b.inv.Total)
}

func (b *builder) invoiceLine(root *etree.Element, id int, li model.LineItem) {
	line := root.CreateElement("cac:InvoiceLine")
	b.text(line, "cbc:ID", fmt.Sprintf("%d", id))
	b.text(line, "cbc:InvoicedQuantity", money.Format(li.Quantity)).CreateAttr("unitCode", UnitCode(li.Unit))
	b.amount(line, "cbc:LineExtensionAmount", li.LineTotal)

	// UBL Item sequence: Description before Name
	item := line.CreateElement("cac:Item")
	name := itemName(li.Description)
	if len(li.Description) > len(name) {
		b.text(item, "cbc:Description", li.Description)
	}
	b.text(item, "cbc:Name", name)
	b.taxCategory(item, "cac:ClassifiedTaxCategory", li.TaxRate)

	price := line.CreateElement("cac:Price")
	b.amount(price, "cbc:PriceAmount", li.UnitPrice)
}

// itemName shortens long descriptions to their first line
func itemName(desc string) string {
	if i := strings.IndexAny(desc, "\r\n"); i >= 0 {
		return strings.TrimSpace(desc[:i])
	}
	return desc
}

func (b *builder) amount(parent *etree.Element, tag string, d decimal.Decimal) {
	b.text(parent, tag, money.Format(d)).CreateAttr("currencyID", b.currency())
}

func (b *builder) date(parent *etree.Element, tag string, t time.Time) {
	if t.IsZero() {
		return
	}
	b.text(parent, tag, t.Format("2006-01-02"))
}

func (b *builder) text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	if b.err == nil {
		if err := checkXMLText(value); err != nil {
			b.err = model.NewGenerationError(model.FormatXRechnung, b.inv.InvoiceNumber,
				fmt.Sprintf("%s cannot be represented in XML", tag), err)
		}
	}
	el.SetText(value)
	return el
}

// checkXMLText rejects invalid UTF-8 and characters outside the XML 1.0 Char production
func checkXMLText(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("invalid UTF-8")
	}
	for i, r := range s {
		if !isXMLChar(r) {
			return fmt.Errorf("character %U at offset %d", r, i)
		}
	}
	return nil
}

func isXMLChar(r rune) bool {
	return r == 0x09 || r == 0x0A || r == 0x0D ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
