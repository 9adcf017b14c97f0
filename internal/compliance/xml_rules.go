package compliance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rezonia/erechnung/internal/signature"
	"github.com/rezonia/erechnung/internal/xrechnung"
)

// DefaultXMLRules returns the structural subset applied to externally produced XML
func DefaultXMLRules() []Rule {
	return []Rule{
		{
			ID: "XML-01", Name: "Invoice root", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: func(in *Input) (*Finding, error) {
				doc, _ := in.Document()
				if doc.Root().Tag != "Invoice" {
					return Fail("/", fmt.Sprintf("Root element is %q, expected Invoice", doc.Root().Tag), ""), nil
				}
				return nil, nil
			},
		},
		{
			ID: "XML-02", Name: "UBL namespace", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: func(in *Input) (*Finding, error) {
				doc, _ := in.Document()
				if ns := doc.Root().NamespaceURI(); ns != xrechnung.NamespaceInvoice {
					return Fail("/Invoice", fmt.Sprintf("Namespace %q is not the UBL 2.1 invoice namespace", ns),
						"Declare "+xrechnung.NamespaceInvoice), nil
				}
				return nil, nil
			},
		},
		{
			ID: "XML-03", Name: "Customization ID", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: func(in *Input) (*Finding, error) {
				doc, _ := in.Document()
				id := childText(doc.Root(), "CustomizationID")
				if !strings.Contains(id, "xrechnung") {
					return Fail("/Invoice/CustomizationID", fmt.Sprintf("CustomizationID %q does not declare XRechnung", id),
						"Use "+xrechnung.CustomizationID), nil
				}
				return nil, nil
			},
		},
		{
			ID: "XML-04", Name: "Specification identifier", Category: CategoryStructure,
			Severity: SeverityWarning, Standard: StandardXRechnung,
			Evaluate: presentXML("ProfileID", "Set the business process identifier"),
		},
		{
			ID: "XML-05", Name: "Invoice number", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: presentXML("ID", "Add cbc:ID"),
		},
		{
			ID: "XML-06", Name: "Issue date", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: presentXML("IssueDate", "Add cbc:IssueDate"),
		},
		{
			ID: "XML-07", Name: "Currency", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: presentXML("DocumentCurrencyCode", "Add cbc:DocumentCurrencyCode"),
		},
		{
			ID: "XML-08", Name: "Invoice lines", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: presentXML("InvoiceLine", "Add at least one cac:InvoiceLine"),
		},
		{
			ID: "XML-09", Name: "Tax total", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: presentXML("TaxTotal", "Add cac:TaxTotal"),
		},
		{
			ID: "XML-10", Name: "Monetary total", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: presentXML("LegalMonetaryTotal", "Add cac:LegalMonetaryTotal"),
		},
		{
			ID: "SIG-01", Name: "XML signature", Category: CategoryStructure,
			Severity: SeverityError, Standard: StandardXRechnung,
			Evaluate: checkSignature,
		},
	}
}

func presentXML(tag, fix string) func(*Input) (*Finding, error) {
	return func(in *Input) (*Finding, error) {
		doc, _ := in.Document()
		c := child(doc.Root(), tag)
		if c == nil || (len(c.ChildElements()) == 0 && strings.TrimSpace(c.Text()) == "") {
			return Fail("/Invoice/"+tag, tag+" is missing", fix), nil
		}
		return nil, nil
	}
}

// checkSignature verifies an embedded XMLDSig signature when one is present.
// Unsigned documents pass; signed documents without a verifier pass with nothing checked.
func checkSignature(in *Input) (*Finding, error) {
	if !signature.HasXMLSignature(in.Raw) || in.Verifier() == nil {
		return nil, nil
	}

	report, err := in.Verifier().Verify(in.Context(), in.Raw)
	if errors.Is(err, signature.ErrNoSignature) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !report.Valid {
		return Fail("/Invoice/UBLExtensions/Signature", "Signature verification failed: "+strings.Join(report.Errors(), "; "),
			"Re-sign the document with a trusted certificate"), nil
	}
	return nil, nil
}
