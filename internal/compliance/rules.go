package compliance

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/beevik/etree"

	money "github.com/rezonia/erechnung/internal/decimal"
	"github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/xrechnung"
)

// MaxPaymentTermDays is the due date gap above which a warning is raised
const MaxPaymentTermDays = 90

var (
	germanVATID     = regexp.MustCompile(`^DE[0-9]{9}$`)
	germanTaxNumber = regexp.MustCompile(`^([0-9]{2,3}/[0-9]{3,4}/[0-9]{4,5}|[0-9]{10,13})$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// knownCurrencies is the ISO 4217 subset accepted for invoicing
var knownCurrencies = map[string]bool{
	"EUR": true, "USD": true, "GBP": true, "CHF": true, "JPY": true, "CNY": true,
	"SEK": true, "NOK": true, "DKK": true, "PLN": true, "CZK": true, "HUF": true,
	"RON": true, "BGN": true, "CAD": true, "AUD": true, "NZD": true, "SGD": true,
	"HKD": true, "INR": true, "TRY": true, "ZAR": true, "BRL": true, "MXN": true,
}

// DefaultRules returns the built-in rule set for German e-invoices
func DefaultRules() []Rule {
	return []Rule{
		// structure
		{
			ID: "XR-STRUCT-01", Name: "Customization ID", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: expectElement("CustomizationID", xrechnung.CustomizationID),
		},
		{
			ID: "XR-STRUCT-02", Name: "Profile ID", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: expectElement("ProfileID", xrechnung.ProfileID),
		},
		{
			ID: "ZF-STRUCT-01", Name: "Embeddable XML twin", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardZUGFeRD,
			Evaluate: checkXMLTwin,
		},

		// content
		{
			ID: "CONT-01", Name: "Invoice number", Category: CategoryContent,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: requireText("invoiceNumber", func(inv *model.Invoice) string { return inv.InvoiceNumber },
				"Invoice number is required", "Assign a unique invoice number"),
		},
		{
			ID: "CONT-02", Name: "Issue date", Category: CategoryContent,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				if in.Invoice.IssueDate.IsZero() {
					return Fail("issueDate", "Issue date is required", "Set the invoice date"), nil
				}
				return nil, nil
			},
		},
		{
			ID: "CONT-03", Name: "Due date", Category: CategoryContent,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				if in.Invoice.DueDate.IsZero() {
					return Fail("dueDate", "Due date is required", "Set the payment due date"), nil
				}
				return nil, nil
			},
		},
		{
			ID: "CONT-04", Name: "Supplier name", Category: CategoryContent,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: requireText("supplier.name", func(inv *model.Invoice) string { return inv.Supplier.Name },
				"Supplier name is required", "Complete the company profile"),
		},
		{
			ID: "CONT-05", Name: "Customer name", Category: CategoryContent,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: requireText("customer.name", func(inv *model.Invoice) string { return inv.Customer.Name },
				"Customer name is required", "Add a name to the customer record"),
		},
		{
			ID: "CONT-06", Name: "Line items", Category: CategoryContent,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				if len(in.Invoice.LineItems) == 0 {
					return Fail("lineItems", "Invoice must contain at least one line item", "Add a line item"), nil
				}
				return nil, nil
			},
		},
		{
			ID: "CONT-07", Name: "Line item description", Category: CategoryContent,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: eachLine(func(i int, li model.LineItem) *Finding {
				if strings.TrimSpace(li.Description) == "" {
					return Fail(fmt.Sprintf("lineItems[%d].description", i),
						fmt.Sprintf("Line item %d has no description", i+1), "Describe the goods or service")
				}
				return nil
			}),
		},
		{
			ID: "CONT-08", Name: "Supplier address", Category: CategoryContent,
			Severity: SeverityWarning, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				a := in.Invoice.Supplier.Address
				if a.Street == "" || a.PostalCode == "" || a.City == "" {
					return Fail("supplier.address", "Supplier address is incomplete",
						"Provide street, postal code and city"), nil
				}
				return nil, nil
			},
		},
		{
			ID: "CONT-09", Name: "Leitweg-ID", Category: CategoryContent,
			Severity: SeverityInfo, Standard: StandardXRechnung,
			Evaluate: func(in *Input) (*Finding, error) {
				if strings.TrimSpace(in.Invoice.RoutingID) == "" {
					return Fail("routingId", "No Leitweg-ID set; public-sector buyers require one",
						"Ask the buyer for their Leitweg-ID"), nil
				}
				return nil, nil
			},
		},

		// tax
		{
			ID: "TAX-01", Name: "Supplier tax identifier", Category: CategoryTax,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				if strings.TrimSpace(in.Invoice.SupplierTaxIdentifier()) == "" {
					return Fail("supplier.taxId", "Supplier tax number or VAT ID is required",
						"Add the Steuernummer or USt-IdNr. to the company profile"), nil
				}
				return nil, nil
			},
		},
		{
			ID: "TAX-02", Name: "German VAT ID format", Category: CategoryTax,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				id := strings.ReplaceAll(strings.ToUpper(in.Invoice.Supplier.VATID), " ", "")
				if id == "" || !strings.HasPrefix(id, "DE") {
					return nil, nil
				}
				if !germanVATID.MatchString(id) {
					return Fail("supplier.vatId", fmt.Sprintf("VAT ID %q is not in the format DE + 9 digits", in.Invoice.Supplier.VATID),
						"Use the format DE123456789"), nil
				}
				return nil, nil
			},
		},
		{
			ID: "TAX-03", Name: "German tax number format", Category: CategoryTax,
			Severity: SeverityWarning, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				tn := strings.ReplaceAll(in.Invoice.Supplier.TaxID, " ", "")
				if tn == "" || germanTaxNumber.MatchString(tn) {
					return nil, nil
				}
				return Fail("supplier.taxId", fmt.Sprintf("Tax number %q has an unexpected format", in.Invoice.Supplier.TaxID),
					"Use the format 12/345/67890 or the 13-digit ELSTER form"), nil
			},
		},
		{
			ID: "TAX-04", Name: "Tax rate", Category: CategoryTax,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: eachLine(func(i int, li model.LineItem) *Finding {
				if money.IsGermanRate(li.TaxRate) {
					return nil
				}
				return Fail(fmt.Sprintf("lineItems[%d].taxRate", i),
					fmt.Sprintf("Tax rate %s%% on line %d is not a German VAT rate", money.FormatRate(li.TaxRate), i+1),
					"Use 19%, 7% or 0%")
			}),
		},
		{
			ID: "TAX-05", Name: "Line total", Category: CategoryTax,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: eachLine(func(i int, li model.LineItem) *Finding {
				if money.WithinTolerance(li.LineTotal, li.ComputedTotal()) {
					return nil
				}
				return Fail(fmt.Sprintf("lineItems[%d].lineTotal", i),
					fmt.Sprintf("Line %d total %s does not equal quantity x unit price (%s)", i+1,
						money.Format(li.LineTotal), money.Format(li.ComputedTotal())),
					"Recalculate the line total")
			}),
		},
		{
			ID: "TAX-06", Name: "Subtotal", Category: CategoryTax,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				inv := in.Invoice
				if money.WithinTolerance(inv.Subtotal, inv.ComputedSubtotal()) {
					return nil, nil
				}
				return Fail("subtotal", fmt.Sprintf("Subtotal %s does not match the sum of line totals %s",
					money.Format(inv.Subtotal), money.Format(inv.ComputedSubtotal())), "Recalculate the invoice"), nil
			},
		},
		{
			ID: "TAX-07", Name: "Total", Category: CategoryTax,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				inv := in.Invoice
				if money.WithinTolerance(inv.Total, inv.ComputedTotal()) {
					return nil, nil
				}
				return Fail("total", fmt.Sprintf("Total %s does not match subtotal plus tax %s",
					money.Format(inv.Total), money.Format(inv.ComputedTotal())), "Recalculate the invoice"), nil
			},
		},

		// format
		{
			ID: "FMT-01", Name: "Currency code", Category: CategoryFormat,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				c := in.Invoice.Currency
				if currencyPattern.MatchString(c) && knownCurrencies[c] {
					return nil, nil
				}
				return Fail("currency", fmt.Sprintf("Currency %q is not a known ISO 4217 code", c), "Use EUR"), nil
			},
		},
		{
			ID: "FMT-02", Name: "Euro currency", Category: CategoryFormat,
			Severity: SeverityWarning, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				if in.Invoice.Currency == "EUR" {
					return nil, nil
				}
				return Fail("currency", "German e-invoices are expected in EUR", "Invoice in EUR"), nil
			},
		},
		{
			ID: "FMT-03", Name: "IBAN checksum", Category: CategoryFormat,
			Severity: SeverityWarning, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				bank := in.Invoice.Supplier.Bank
				if bank.IsEmpty() || ValidIBAN(bank.IBAN) {
					return nil, nil
				}
				return Fail("supplier.bank.iban", fmt.Sprintf("IBAN %q fails the checksum", bank.IBAN),
					"Check the bank details"), nil
			},
		},

		// business
		{
			ID: "BUS-01", Name: "Due date after issue date", Category: CategoryBusiness,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				inv := in.Invoice
				if inv.IssueDate.IsZero() || inv.DueDate.IsZero() || calendarDays(inv.IssueDate, inv.DueDate) > 0 {
					return nil, nil
				}
				return Fail("dueDate", "Due date must be after the issue date", "Move the due date"), nil
			},
		},
		{
			ID: "BUS-02", Name: "Payment term length", Category: CategoryBusiness,
			Severity: SeverityWarning, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				inv := in.Invoice
				if inv.IssueDate.IsZero() || inv.DueDate.IsZero() {
					return nil, nil
				}
				days := calendarDays(inv.IssueDate, inv.DueDate)
				if days > MaxPaymentTermDays {
					return Fail("dueDate", fmt.Sprintf("Payment term of %d days exceeds %d days", days, MaxPaymentTermDays),
						"Check the agreed payment terms"), nil
				}
				return nil, nil
			},
		},
		{
			ID: "BUS-03", Name: "Issue date not in future", Category: CategoryBusiness,
			Severity: SeverityWarning, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				if in.Invoice.IssueDate.After(in.Now) {
					return Fail("issueDate", "Issue date lies in the future", "Use today's date or earlier"), nil
				}
				return nil, nil
			},
		},
		{
			ID: "BUS-04", Name: "Positive total", Category: CategoryBusiness,
			Severity: SeverityError, Standard: StandardBoth,
			Evaluate: func(in *Input) (*Finding, error) {
				if in.Invoice.Total.IsPositive() {
					return nil, nil
				}
				return Fail("total", "Invoice total must be positive", "Issue a credit note for negative amounts"), nil
			},
		},
	}
}

func requireText(location string, get func(*model.Invoice) string, message, fix string) func(*Input) (*Finding, error) {
	return func(in *Input) (*Finding, error) {
		if strings.TrimSpace(get(in.Invoice)) == "" {
			return Fail(location, message, fix), nil
		}
		return nil, nil
	}
}

// eachLine reports the first failing line item; the message counts all of them
func eachLine(check func(int, model.LineItem) *Finding) func(*Input) (*Finding, error) {
	return func(in *Input) (*Finding, error) {
		var first *Finding
		failed := 0
		for i, li := range in.Invoice.LineItems {
			if f := check(i, li); f != nil {
				failed++
				if first == nil {
					first = f
				}
			}
		}
		if first != nil && failed > 1 {
			first.Message = fmt.Sprintf("%s (and %d more)", first.Message, failed-1)
		}
		return first, nil
	}
}

// expectElement checks a fixed identifier on the generated document
func expectElement(tag, want string) func(*Input) (*Finding, error) {
	return func(in *Input) (*Finding, error) {
		doc, err := in.Document()
		if err != nil {
			return Fail(tag, fmt.Sprintf("XML document could not be built: %v", err), "Fix the errors above"), nil
		}
		got := childText(doc.Root(), tag)
		if got != want {
			return Fail(tag, fmt.Sprintf("%s is %q, expected %q", tag, got, want), ""), nil
		}
		return nil, nil
	}
}

func checkXMLTwin(in *Input) (*Finding, error) {
	doc, err := in.Document()
	if err != nil {
		return Fail("document", fmt.Sprintf("XML twin could not be built: %v", err), "Fix the errors above"), nil
	}
	if doc.Root().Tag != "Invoice" {
		return Fail("document", fmt.Sprintf("XML twin root is %q, expected Invoice", doc.Root().Tag), ""), nil
	}
	return nil, nil
}

// childText returns the text of the first direct child with the local name tag
func childText(parent *etree.Element, tag string) string {
	if c := child(parent, tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func child(parent *etree.Element, tag string) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, c := range parent.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// ValidIBAN checks the ISO 13616 mod-97 checksum
func ValidIBAN(iban string) bool {
	s := strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	if len(s) < 15 || len(s) > 34 {
		return false
	}
	s = s[4:] + s[:4]
	rem := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			rem = (rem*100 + int(r-'A'+10)) % 97
		default:
			return false
		}
	}
	return rem == 1
}

// calendarDays counts the dates between from and to, ignoring the time of day
func calendarDays(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
