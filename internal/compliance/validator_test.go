package compliance_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/erechnung/internal/compliance"
	"github.com/rezonia/erechnung/internal/fixture"
	"github.com/rezonia/erechnung/internal/model"
	"github.com/rezonia/erechnung/internal/signature"
	"github.com/rezonia/erechnung/internal/xrechnung"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newValidator(opts ...compliance.Option) *compliance.Validator {
	opts = append([]compliance.Option{compliance.WithClock(func() time.Time { return fixedNow })}, opts...)
	return compliance.NewValidator(opts...)
}

func ruleIDs(r *compliance.Report) []string {
	ids := make([]string, 0, len(r.Issues))
	for _, i := range r.Issues {
		ids = append(ids, i.RuleID)
	}
	return ids
}

func TestValidate_ValidInvoice(t *testing.T) {
	report := newValidator().Validate(context.Background(), fixture.Invoice(), compliance.StandardBoth)

	assert.Empty(t, report.Issues)
	assert.Equal(t, 100, report.Score)
	assert.Equal(t, len(compliance.DefaultRules()), report.RulesEvaluated)
	assert.Equal(t, report.RulesEvaluated, report.RulesPassed)
	assert.True(t, report.Certification.XRechnung)
	assert.True(t, report.Certification.ZUGFeRD)
	assert.True(t, report.Valid())
	assert.Equal(t, fixedNow, report.ValidatedAt)
}

func TestValidate_StandardSelectsRules(t *testing.T) {
	v := newValidator()

	xr := v.Validate(context.Background(), fixture.Invoice(), compliance.StandardXRechnung)
	zf := v.Validate(context.Background(), fixture.Invoice(), compliance.StandardZUGFeRD)

	// XR-STRUCT-01/02 and CONT-09 are XRechnung only, ZF-STRUCT-01 is ZUGFeRD only
	total := len(compliance.DefaultRules())
	assert.Equal(t, total-1, xr.RulesEvaluated)
	assert.Equal(t, total-3, zf.RulesEvaluated)

	assert.True(t, xr.Certification.XRechnung)
	assert.False(t, xr.Certification.ZUGFeRD)
	assert.True(t, zf.Certification.ZUGFeRD)
	assert.False(t, zf.Certification.XRechnung)
}

func TestValidate_Findings(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(inv *model.Invoice)
		ruleID   string
		severity compliance.Severity
		location string
	}{
		{
			name:     "missing supplier tax identifiers",
			mutate:   func(inv *model.Invoice) { inv.Supplier.TaxID, inv.Supplier.VATID = "", "" },
			ruleID:   "TAX-01",
			severity: compliance.SeverityError,
			location: "supplier.taxId",
		},
		{
			name:     "malformed German VAT ID",
			mutate:   func(inv *model.Invoice) { inv.Supplier.VATID = "DE12345" },
			ruleID:   "TAX-02",
			severity: compliance.SeverityError,
			location: "supplier.vatId",
		},
		{
			name:     "odd tax number",
			mutate:   func(inv *model.Invoice) { inv.Supplier.TaxID = "ABC-1" },
			ruleID:   "TAX-03",
			severity: compliance.SeverityWarning,
		},
		{
			name: "unsupported tax rate",
			mutate: func(inv *model.Invoice) {
				inv.LineItems[1].TaxRate = decimal.NewFromInt(16)
				inv.Total = decimal.NewFromInt(235)
			},
			ruleID:   "TAX-04",
			severity: compliance.SeverityError,
			location: "lineItems[1].taxRate",
		},
		{
			name:     "line total mismatch",
			mutate:   func(inv *model.Invoice) { inv.LineItems[0].Quantity = decimal.NewFromInt(3) },
			ruleID:   "TAX-05",
			severity: compliance.SeverityError,
			location: "lineItems[0].lineTotal",
		},
		{
			name:     "subtotal mismatch",
			mutate:   func(inv *model.Invoice) { inv.Subtotal = decimal.NewFromInt(210) },
			ruleID:   "TAX-06",
			severity: compliance.SeverityError,
		},
		{
			name:     "total off by more than a cent",
			mutate:   func(inv *model.Invoice) { inv.Total = decimal.RequireFromString("226.02") },
			ruleID:   "TAX-07",
			severity: compliance.SeverityError,
		},
		{
			name:     "unknown currency",
			mutate:   func(inv *model.Invoice) { inv.Currency = "EURO" },
			ruleID:   "FMT-01",
			severity: compliance.SeverityError,
		},
		{
			name:     "non-euro currency",
			mutate:   func(inv *model.Invoice) { inv.Currency = "USD" },
			ruleID:   "FMT-02",
			severity: compliance.SeverityWarning,
		},
		{
			name:     "bad IBAN",
			mutate:   func(inv *model.Invoice) { inv.Supplier.Bank.IBAN = "DE89370400440532013001" },
			ruleID:   "FMT-03",
			severity: compliance.SeverityWarning,
		},
		{
			name:     "due date before issue date",
			mutate:   func(inv *model.Invoice) { inv.DueDate = inv.IssueDate.AddDate(0, 0, -1) },
			ruleID:   "BUS-01",
			severity: compliance.SeverityError,
		},
		{
			name: "due later on the issue date",
			mutate: func(inv *model.Invoice) {
				inv.IssueDate = inv.IssueDate.Add(9 * time.Hour)
				inv.DueDate = inv.IssueDate.Add(5 * time.Hour)
			},
			ruleID:   "BUS-01",
			severity: compliance.SeverityError,
		},
		{
			name: "payment term counted in calendar days",
			mutate: func(inv *model.Invoice) {
				inv.IssueDate = inv.IssueDate.Add(10 * time.Hour)
				inv.DueDate = inv.IssueDate.AddDate(0, 0, 91).Add(-time.Hour)
			},
			ruleID:   "BUS-02",
			severity: compliance.SeverityWarning,
		},
		{
			name:     "due date equal to issue date",
			mutate:   func(inv *model.Invoice) { inv.DueDate = inv.IssueDate },
			ruleID:   "BUS-01",
			severity: compliance.SeverityError,
		},
		{
			name:     "long payment term",
			mutate:   func(inv *model.Invoice) { inv.DueDate = inv.IssueDate.AddDate(0, 0, 91) },
			ruleID:   "BUS-02",
			severity: compliance.SeverityWarning,
		},
		{
			name:     "issue date in the future",
			mutate:   func(inv *model.Invoice) { inv.IssueDate = fixedNow.AddDate(0, 0, 1); inv.DueDate = inv.IssueDate.AddDate(0, 0, 30) },
			ruleID:   "BUS-03",
			severity: compliance.SeverityWarning,
		},
		{
			name:     "missing routing id",
			mutate:   func(inv *model.Invoice) { inv.RoutingID = "" },
			ruleID:   "CONT-09",
			severity: compliance.SeverityInfo,
		},
		{
			name:     "incomplete supplier address",
			mutate:   func(inv *model.Invoice) { inv.Supplier.Address.City = "" },
			ruleID:   "CONT-08",
			severity: compliance.SeverityWarning,
		},
		{
			name:     "empty line description",
			mutate:   func(inv *model.Invoice) { inv.LineItems[1].Description = " " },
			ruleID:   "CONT-07",
			severity: compliance.SeverityError,
			location: "lineItems[1].description",
		},
	}

	v := newValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := fixture.Invoice()
			tt.mutate(inv)

			report := v.Validate(context.Background(), inv, compliance.StandardBoth)

			var found *compliance.Issue
			for i := range report.Issues {
				if report.Issues[i].RuleID == tt.ruleID {
					found = &report.Issues[i]
				}
			}
			require.NotNil(t, found, "issues: %v", ruleIDs(report))
			assert.Equal(t, tt.severity, found.Severity)
			assert.NotEmpty(t, found.Message)
			if tt.location != "" {
				assert.Equal(t, tt.location, found.Location)
			}
			assert.Less(t, report.Score, 100)
			if tt.severity == compliance.SeverityError {
				assert.False(t, report.Certification.XRechnung)
				assert.False(t, report.Certification.ZUGFeRD)
			} else {
				assert.True(t, report.Certification.XRechnung)
			}
		})
	}
}

func TestValidate_CountsAllFailingLines(t *testing.T) {
	inv := fixture.Invoice()
	inv.LineItems[0].TaxRate = decimal.NewFromInt(5)
	inv.LineItems[1].TaxRate = decimal.NewFromInt(16)

	report := newValidator().Validate(context.Background(), inv, compliance.StandardBoth)

	var taxRate []compliance.Issue
	for _, i := range report.Issues {
		if i.RuleID == "TAX-04" {
			taxRate = append(taxRate, i)
		}
	}
	require.Len(t, taxRate, 1)
	assert.Contains(t, taxRate[0].Message, "and 1 more")
}

func TestValidate_MissingCustomerBreaksStructure(t *testing.T) {
	inv := fixture.Invoice()
	inv.Customer.Name = ""

	report := newValidator().Validate(context.Background(), inv, compliance.StandardXRechnung)

	ids := ruleIDs(report)
	assert.Contains(t, ids, "CONT-05")
	assert.Contains(t, ids, "XR-STRUCT-01")
	assert.Contains(t, ids, "XR-STRUCT-02")
}

func TestValidate_Deterministic(t *testing.T) {
	inv := fixture.Invoice()
	inv.Currency = "USD"
	inv.Supplier.VATID = "DE1"
	v := newValidator()

	first := v.Validate(context.Background(), inv, compliance.StandardBoth)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, v.Validate(context.Background(), inv, compliance.StandardBoth))
	}
}

func TestValidate_PanickingRuleIsIsolated(t *testing.T) {
	rules := compliance.DefaultRules()
	rules = append(rules[:5:5], append([]compliance.Rule{{
		ID: "X-BOOM", Name: "Broken", Category: compliance.CategoryContent,
		Severity: compliance.SeverityWarning, Standard: compliance.StandardBoth,
		Evaluate: func(in *compliance.Input) (*compliance.Finding, error) {
			var m map[string]int
			m["x"] = 1
			return nil, nil
		},
	}, {
		ID: "X-ERR", Name: "Erroring", Category: compliance.CategoryContent,
		Severity: compliance.SeverityInfo, Standard: compliance.StandardBoth,
		Evaluate: func(in *compliance.Input) (*compliance.Finding, error) {
			return nil, errors.New("lookup unavailable")
		},
	}}, rules[5:]...)...)

	inv := fixture.Invoice()
	inv.Currency = "USD"

	report := newValidator(compliance.WithRules(compliance.NewRegistry(rules...))).
		Validate(context.Background(), inv, compliance.StandardBoth)

	var system []compliance.Issue
	for _, i := range report.Issues {
		if i.Category == compliance.CategorySystem {
			system = append(system, i)
		}
	}
	require.Len(t, system, 2)
	assert.Equal(t, "SYS-X-BOOM", system[0].RuleID)
	assert.Equal(t, compliance.SeverityError, system[0].Severity)
	assert.Contains(t, system[0].Message, "panic")
	assert.Equal(t, "SYS-X-ERR", system[1].RuleID)

	// the rest of the report is intact
	assert.Contains(t, ruleIDs(report), "FMT-02")
	assert.Equal(t, len(rules), report.RulesEvaluated)
	assert.Equal(t, len(rules)-3, report.RulesPassed)
	assert.False(t, report.Certification.XRechnung)
}

func TestValidate_Score(t *testing.T) {
	pass := func(*compliance.Input) (*compliance.Finding, error) { return nil, nil }
	fail := func(*compliance.Input) (*compliance.Finding, error) {
		return compliance.Fail("x", "failed", ""), nil
	}
	registry := compliance.NewRegistry(
		compliance.Rule{ID: "A", Severity: compliance.SeverityWarning, Standard: compliance.StandardBoth, Evaluate: pass},
		compliance.Rule{ID: "B", Severity: compliance.SeverityWarning, Standard: compliance.StandardBoth, Evaluate: pass},
		compliance.Rule{ID: "C", Severity: compliance.SeverityWarning, Standard: compliance.StandardBoth, Evaluate: fail},
		compliance.Rule{ID: "D", Severity: compliance.SeverityError, Standard: compliance.StandardZUGFeRD, Evaluate: fail},
	)
	v := newValidator(compliance.WithRules(registry))

	report := v.Validate(context.Background(), fixture.Invoice(), compliance.StandardXRechnung)
	assert.Equal(t, 67, report.Score)
	assert.Equal(t, 1, report.WarningCount)
	assert.True(t, report.Certification.XRechnung)

	report = v.Validate(context.Background(), fixture.Invoice(), compliance.StandardBoth)
	assert.Equal(t, 50, report.Score)
	assert.True(t, report.Certification.XRechnung)
	assert.False(t, report.Certification.ZUGFeRD)

	empty := newValidator(compliance.WithRules(compliance.NewRegistry()))
	assert.Equal(t, 100, empty.Validate(context.Background(), fixture.Invoice(), compliance.StandardBoth).Score)
}

func TestRegistry_Register(t *testing.T) {
	v := newValidator()
	before := v.Registry().Len()

	v.Registry().Register(compliance.Rule{
		ID: "AT-01", Name: "Austrian UID", Category: compliance.CategoryTax,
		Severity: compliance.SeverityError, Standard: compliance.StandardBoth,
		Evaluate: func(in *compliance.Input) (*compliance.Finding, error) {
			if !strings.HasPrefix(in.Invoice.Supplier.VATID, "ATU") {
				return compliance.Fail("supplier.vatId", "Austrian UID required", ""), nil
			}
			return nil, nil
		},
	})

	assert.Equal(t, before+1, v.Registry().Len())
	report := v.Validate(context.Background(), fixture.Invoice(), compliance.StandardBoth)
	assert.Equal(t, []string{"AT-01"}, ruleIDs(report))
}

func TestValidate_NilInvoice(t *testing.T) {
	report := newValidator().Validate(context.Background(), nil, compliance.StandardBoth)
	assert.Equal(t, 1, report.ErrorCount)
	assert.Equal(t, 0, report.Score)
}

func TestParseStandard(t *testing.T) {
	s, err := compliance.ParseStandard("")
	require.NoError(t, err)
	assert.Equal(t, compliance.StandardBoth, s)

	s, err = compliance.ParseStandard("ZUGFeRD")
	require.NoError(t, err)
	assert.Equal(t, compliance.StandardZUGFeRD, s)

	_, err = compliance.ParseStandard("peppol")
	require.Error(t, err)
}

func TestValidIBAN(t *testing.T) {
	assert.True(t, compliance.ValidIBAN("DE89 3704 0044 0532 0130 00"))
	assert.True(t, compliance.ValidIBAN("GB82WEST12345698765432"))
	assert.False(t, compliance.ValidIBAN("DE89370400440532013001"))
	assert.False(t, compliance.ValidIBAN("DE89"))
	assert.False(t, compliance.ValidIBAN("DE89-3704-0044-0532-0130-00"))
}

func generatedXML(t *testing.T) []byte {
	t.Helper()
	out, err := xrechnung.NewGenerator().Generate(fixture.Invoice(), xrechnung.Options{})
	require.NoError(t, err)
	return out
}

func TestValidateXML_GeneratedDocument(t *testing.T) {
	report := newValidator().ValidateXML(context.Background(), generatedXML(t))

	assert.Empty(t, report.Issues)
	assert.Equal(t, 100, report.Score)
	assert.Equal(t, compliance.StandardXRechnung, report.Standard)
	assert.True(t, report.Certification.XRechnung)
}

func TestValidateXML_NotWellFormed(t *testing.T) {
	report := newValidator().ValidateXML(context.Background(), []byte("<Invoice><ID>1</Invoice>"))

	require.Len(t, report.Issues, 1)
	assert.Equal(t, "XML-00", report.Issues[0].RuleID)
	assert.Equal(t, 0, report.Score)
	assert.False(t, report.Certification.XRechnung)
}

func TestValidateXML_MissingElements(t *testing.T) {
	raw := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2">
  <ID>X-1</ID>
  <DocumentCurrencyCode>EUR</DocumentCurrencyCode>
</Invoice>`)

	report := newValidator().ValidateXML(context.Background(), raw)

	ids := ruleIDs(report)
	for _, id := range []string{"XML-03", "XML-04", "XML-06", "XML-08", "XML-09", "XML-10"} {
		assert.Contains(t, ids, id)
	}
	assert.NotContains(t, ids, "XML-01")
	assert.NotContains(t, ids, "XML-02")
	assert.NotContains(t, ids, "XML-05")
	assert.Equal(t, 1, report.WarningCount)
}

type stubVerifier struct {
	result *signature.Report
	err    error
	calls  int
}

func (s *stubVerifier) Verify(ctx context.Context, data []byte) (*signature.Report, error) {
	s.calls++
	return s.result, s.err
}

func signedXML(t *testing.T) []byte {
	raw := generatedXML(t)
	sig := `<ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><ds:SignedInfo/></ds:Signature></ubl:Invoice>`
	return []byte(strings.Replace(string(raw), "</ubl:Invoice>", sig, 1))
}

func TestValidateXML_Signature(t *testing.T) {
	valid := signature.NewReport()
	valid.Valid = true
	invalid := signature.NewReport()
	invalid.Fail(signature.CodeMismatch, "signature does not match document")

	t.Run("valid signature", func(t *testing.T) {
		sv := &stubVerifier{result: valid}
		report := newValidator(compliance.WithVerifier(sv)).ValidateXML(context.Background(), signedXML(t))
		assert.Equal(t, 1, sv.calls)
		assert.NotContains(t, ruleIDs(report), "SIG-01")
	})

	t.Run("invalid signature", func(t *testing.T) {
		sv := &stubVerifier{result: invalid}
		report := newValidator(compliance.WithVerifier(sv)).ValidateXML(context.Background(), signedXML(t))
		require.Contains(t, ruleIDs(report), "SIG-01")
		assert.False(t, report.Certification.XRechnung)
	})

	t.Run("verifier failure becomes a system issue", func(t *testing.T) {
		sv := &stubVerifier{err: signature.ErrNoTrustedRoots}
		report := newValidator(compliance.WithVerifier(sv)).ValidateXML(context.Background(), signedXML(t))
		assert.Contains(t, ruleIDs(report), "SYS-SIG-01")
	})

	t.Run("unsigned document skips verification", func(t *testing.T) {
		sv := &stubVerifier{result: invalid}
		report := newValidator(compliance.WithVerifier(sv)).ValidateXML(context.Background(), generatedXML(t))
		assert.Equal(t, 0, sv.calls)
		assert.Empty(t, report.Issues)
	})

	t.Run("no verifier configured", func(t *testing.T) {
		report := newValidator().ValidateXML(context.Background(), signedXML(t))
		assert.NotContains(t, ruleIDs(report), "SIG-01")
	})
}

func TestCachedValidator(t *testing.T) {
	cached := compliance.NewCachedValidator(newValidator(), 0)

	inv := fixture.Invoice()
	first := cached.Validate(context.Background(), inv, compliance.StandardBoth)
	second := cached.Validate(context.Background(), fixture.Invoice(), compliance.StandardBoth)
	assert.Equal(t, first, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, cached.Len())

	// callers own their copy
	second.Issues = append(second.Issues, compliance.Issue{RuleID: "LOCAL"})
	second.Score = 0
	third := cached.Validate(context.Background(), inv, compliance.StandardBoth)
	assert.Equal(t, first, third)
	assert.NotContains(t, ruleIDs(third), "LOCAL")

	other := cached.Validate(context.Background(), inv, compliance.StandardXRechnung)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, cached.Len())

	changed := fixture.Invoice()
	changed.Currency = "USD"
	assert.NotSame(t, first, cached.Validate(context.Background(), changed, compliance.StandardBoth))

	cached.Flush()
	assert.Equal(t, 0, cached.Len())
	assert.NotSame(t, first, cached.Validate(context.Background(), inv, compliance.StandardBoth))
}

func TestCachedValidator_Summarize(t *testing.T) {
	cached := compliance.NewCachedValidator(newValidator(), 0)

	broken := fixture.Invoice()
	broken.Customer.Name = ""

	sum := cached.Summarize(context.Background(), []*model.Invoice{fixture.Invoice(), fixture.Invoice(), broken}, compliance.StandardBoth)
	assert.Equal(t, 3, sum.Invoices)
	assert.Equal(t, 2, sum.Valid)
	assert.Equal(t, 1, sum.Invalid)
	assert.Greater(t, sum.ErrorCount, 0)
	assert.Less(t, sum.AverageScore, 100.0)
	assert.Greater(t, sum.AverageScore, 0.0)
	assert.NotEmpty(t, sum.ByRule)
	assert.Equal(t, 2, cached.Len())

	empty := cached.Summarize(context.Background(), nil, compliance.StandardXRechnung)
	assert.Zero(t, empty.Invoices)
	assert.Zero(t, empty.AverageScore)
}
