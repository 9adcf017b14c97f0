package model

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/erechnung/internal/decimal"
)

// PaymentMethod identifies how the customer is expected to pay
type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentDirectDebit  PaymentMethod = "sepa_direct_debit"
	PaymentCreditCard   PaymentMethod = "credit_card"
	PaymentCash         PaymentMethod = "cash"
	PaymentCheque       PaymentMethod = "cheque"
	PaymentOther        PaymentMethod = "other"
)

// Address is a postal address. Empty lines are omitted from generated documents.
type Address struct {
	Street     string `json:"street,omitempty"`
	Additional string `json:"additional,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"` // ISO 3166-1 alpha-2
}

// IsEmpty reports whether no address line is set
func (a Address) IsEmpty() bool {
	return a.Street == "" && a.Additional == "" && a.PostalCode == "" && a.City == "" && a.Country == ""
}

// CountryCode returns the country, defaulting to DE
func (a Address) CountryCode() string {
	if a.Country == "" {
		return "DE"
	}
	return strings.ToUpper(a.Country)
}

// BankDetails holds the payee account
type BankDetails struct {
	AccountHolder string `json:"accountHolder,omitempty"`
	IBAN          string `json:"iban,omitempty"`
	BIC           string `json:"bic,omitempty"`
	BankName      string `json:"bankName,omitempty"`
}

// IsEmpty reports whether no usable account is present
func (b *BankDetails) IsEmpty() bool {
	return b == nil || b.IBAN == ""
}

// Supplier is the invoicing party
type Supplier struct {
	Name    string       `json:"name"`
	Address Address      `json:"address"`
	TaxID   string       `json:"taxId,omitempty"` // Steuernummer
	VATID   string       `json:"vatId,omitempty"` // USt-IdNr.
	Bank    *BankDetails `json:"bank,omitempty"`
	Email   string       `json:"email,omitempty"`
	Phone   string       `json:"phone,omitempty"`
}

// Customer is the invoiced party
type Customer struct {
	ID      string  `json:"id,omitempty"`
	Name    string  `json:"name"`
	Address Address `json:"address"`
	TaxID   string  `json:"taxId,omitempty"`
	VATID   string  `json:"vatId,omitempty"`
	Email   string  `json:"email,omitempty"`
}

// LineItem is one invoice position
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

// ComputedTotal is quantity * unitPrice rounded to cents
func (li LineItem) ComputedTotal() decimal.Decimal {
	return money.LineNet(li.Quantity, li.UnitPrice)
}

// Invoice is the immutable snapshot assembled by collaborators from stored
// invoice, customer and supplier records. Nothing in this module mutates it.
type Invoice struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenantId,omitempty"`
	InvoiceNumber  string          `json:"invoiceNumber"`
	IssueDate      time.Time       `json:"issueDate"`
	DueDate        time.Time       `json:"dueDate"`
	Currency       string          `json:"currency"`
	Supplier       Supplier        `json:"supplier"`
	Customer       Customer        `json:"customer"`
	LineItems      []LineItem      `json:"lineItems"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Total          decimal.Decimal `json:"total"`
	PaymentTerms   string          `json:"paymentTerms,omitempty"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	RoutingID      string          `json:"routingId,omitempty"` // Leitweg-ID
	BuyerReference string          `json:"buyerReference,omitempty"`
}

// TaxGroup aggregates line items sharing a tax rate
type TaxGroup struct {
	Rate        decimal.Decimal
	TaxableBase decimal.Decimal
	TaxAmount   decimal.Decimal
}

// TaxGroups groups line items by distinct tax rate, ordered by descending rate.
// Tax is computed per group on the summed base.
func (inv *Invoice) TaxGroups() []TaxGroup {
	byRate := make(map[string]*TaxGroup)
	var keys []string

	for _, li := range inv.LineItems {
		key := li.TaxRate.String()
		g, ok := byRate[key]
		if !ok {
			g = &TaxGroup{Rate: li.TaxRate, TaxableBase: money.Zero}
			byRate[key] = g
			keys = append(keys, key)
		}
		g.TaxableBase = g.TaxableBase.Add(li.LineTotal)
	}

	groups := make([]TaxGroup, 0, len(keys))
	for _, k := range keys {
		g := byRate[k]
		g.TaxableBase = money.Round2(g.TaxableBase)
		g.TaxAmount = money.Tax(g.TaxableBase, g.Rate)
		groups = append(groups, *g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Rate.GreaterThan(groups[j].Rate)
	})
	return groups
}

// TaxTotal is the stated overall tax: total - subtotal
func (inv *Invoice) TaxTotal() decimal.Decimal {
	return money.Round2(inv.Total.Sub(inv.Subtotal))
}

// ComputedSubtotal sums the line totals
func (inv *Invoice) ComputedSubtotal() decimal.Decimal {
	sum := money.Zero
	for _, li := range inv.LineItems {
		sum = sum.Add(li.LineTotal)
	}
	return money.Round2(sum)
}

// ComputedTax sums lineTotal * taxRate/100 over all items
func (inv *Invoice) ComputedTax() decimal.Decimal {
	sum := money.Zero
	for _, li := range inv.LineItems {
		sum = sum.Add(li.LineTotal.Mul(li.TaxRate).Div(decimal.NewFromInt(100)))
	}
	return money.Round2(sum)
}

// ComputedTotal is subtotal + computed tax
func (inv *Invoice) ComputedTotal() decimal.Decimal {
	return money.Round2(inv.Subtotal.Add(inv.ComputedTax()))
}

// SupplierTaxIdentifier returns the VAT id, falling back to the tax number
func (inv *Invoice) SupplierTaxIdentifier() string {
	if inv.Supplier.VATID != "" {
		return inv.Supplier.VATID
	}
	return inv.Supplier.TaxID
}

// Reference returns the id used to tie errors and deliveries back to the invoice
func (inv *Invoice) Reference() string {
	if inv.ID != "" {
		return inv.ID
	}
	return inv.InvoiceNumber
}

// CheckRequired fails fast on fields without which no document can be built
func (inv *Invoice) CheckRequired() error {
	if inv == nil {
		return NewInputError("invoice", "invoice snapshot is nil")
	}
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return NewInputError("invoiceNumber", "invoice number is required")
	}
	if len(inv.LineItems) == 0 {
		return NewInputError("lineItems", "at least one line item is required")
	}
	return nil
}

// CheckParties fails fast when a party name needed on every document is missing
func (inv *Invoice) CheckParties() error {
	if strings.TrimSpace(inv.Supplier.Name) == "" {
		return NewInputError("supplier.name", "supplier name is required")
	}
	if strings.TrimSpace(inv.Customer.Name) == "" {
		return NewInputError("customer.name", "customer name is required")
	}
	return nil
}
