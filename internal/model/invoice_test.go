package model_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/erechnung/internal/fixture"
	"github.com/rezonia/erechnung/internal/model"
)

func TestLineItem_ComputedTotal(t *testing.T) {
	item := model.LineItem{
		Quantity:  decimal.RequireFromString("2.5"),
		UnitPrice: decimal.RequireFromString("19.99"),
	}

	// 2.5 * 19.99 = 49.975 -> 49.98
	assert.Equal(t, "49.98", item.ComputedTotal().StringFixed(2))
}

func TestInvoice_TaxGroups(t *testing.T) {
	inv := fixture.Invoice()

	groups := inv.TaxGroups()
	require.Len(t, groups, 2)

	assert.Equal(t, "19", groups[0].Rate.String())
	assert.Equal(t, "100.00", groups[0].TaxableBase.StringFixed(2))
	assert.Equal(t, "19.00", groups[0].TaxAmount.StringFixed(2))

	assert.Equal(t, "7", groups[1].Rate.String())
	assert.Equal(t, "100.00", groups[1].TaxableBase.StringFixed(2))
	assert.Equal(t, "7.00", groups[1].TaxAmount.StringFixed(2))
}

func TestInvoice_TaxGroups_MergesSameRate(t *testing.T) {
	inv := fixture.Invoice()
	inv.LineItems[1].TaxRate = decimal.RequireFromString("19.00")

	groups := inv.TaxGroups()
	require.Len(t, groups, 1)
	assert.Equal(t, "200.00", groups[0].TaxableBase.StringFixed(2))
	assert.Equal(t, "38.00", groups[0].TaxAmount.StringFixed(2))
}

func TestInvoice_Totals(t *testing.T) {
	inv := fixture.Invoice()

	assert.Equal(t, "200.00", inv.ComputedSubtotal().StringFixed(2))
	assert.Equal(t, "26.00", inv.ComputedTax().StringFixed(2))
	assert.Equal(t, "226.00", inv.ComputedTotal().StringFixed(2))
	assert.Equal(t, "26.00", inv.TaxTotal().StringFixed(2))

	var groupSum decimal.Decimal
	for _, g := range inv.TaxGroups() {
		groupSum = groupSum.Add(g.TaxAmount)
	}
	assert.True(t, groupSum.Equal(inv.Total.Sub(inv.Subtotal)))
}

func TestInvoice_SupplierTaxIdentifier(t *testing.T) {
	inv := fixture.Invoice()
	assert.Equal(t, "DE123456789", inv.SupplierTaxIdentifier())

	inv.Supplier.VATID = ""
	assert.Equal(t, "30/123/45678", inv.SupplierTaxIdentifier())
}

func TestInvoice_CheckRequired(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(inv *model.Invoice)
		field  string
	}{
		{"missing number", func(inv *model.Invoice) { inv.InvoiceNumber = "  " }, "invoiceNumber"},
		{"no line items", func(inv *model.Invoice) { inv.LineItems = nil }, "lineItems"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := fixture.Invoice()
			tt.mutate(inv)

			err := inv.CheckRequired()
			require.Error(t, err)

			var inputErr *model.InputError
			require.True(t, errors.As(err, &inputErr))
			assert.Equal(t, tt.field, inputErr.Field)
		})
	}

	require.NoError(t, fixture.Invoice().CheckRequired())
}

func TestInvoice_CheckParties(t *testing.T) {
	inv := fixture.Invoice()
	inv.Customer.Name = ""

	err := inv.CheckParties()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customer.name")
}

func TestFormat_Conventions(t *testing.T) {
	assert.Equal(t, "RE-1_xrechnung.xml", model.FormatXRechnung.Filename("RE-1"))
	assert.Equal(t, "RE-1_zugferd.pdf", model.FormatZUGFeRD.Filename("RE-1"))
	assert.Equal(t, "application/xml", model.FormatXRechnung.MimeType())
	assert.Equal(t, "application/pdf", model.FormatZUGFeRD.MimeType())
	assert.Equal(t, "RE_2026_1_xrechnung.xml", model.FormatXRechnung.Filename("RE/2026 1"))

	f, err := model.ParseFormat(" ZUGFeRD ")
	require.NoError(t, err)
	assert.Equal(t, model.FormatZUGFeRD, f)

	_, err = model.ParseFormat("ubl")
	require.Error(t, err)
}

func TestGenerationError(t *testing.T) {
	cause := assert.AnError
	err := model.NewGenerationError(model.FormatZUGFeRD, "RE-1", "embed failed", cause)

	require.Contains(t, err.Error(), "zugferd")
	require.Contains(t, err.Error(), "RE-1")
	require.ErrorIs(t, err, cause)
}

func TestInputError(t *testing.T) {
	err := model.NewInputError("customer.name", "customer name is required")

	require.Contains(t, err.Error(), "customer.name")
	require.Contains(t, err.Error(), "required")
}
