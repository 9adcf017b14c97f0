// Package fixture builds sample snapshots shared by package tests.
package fixture

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/erechnung/internal/model"
)

// Invoice returns a valid two-rate invoice:
// A (2 x 50.00 @ 19%) + B (1 x 100.00 @ 7%) => subtotal 200.00, tax 26.00, total 226.00
func Invoice() *model.Invoice {
	return &model.Invoice{
		ID:            "inv-0001",
		TenantID:      "tenant-1",
		InvoiceNumber: "RE-2026-0001",
		IssueDate:     time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Currency:      "EUR",
		Supplier: model.Supplier{
			Name: "Muster Software GmbH",
			Address: model.Address{
				Street:     "Hauptstraße 1",
				PostalCode: "10115",
				City:       "Berlin",
				Country:    "DE",
			},
			TaxID: "30/123/45678",
			VATID: "DE123456789",
			Bank: &model.BankDetails{
				AccountHolder: "Muster Software GmbH",
				IBAN:          "DE89370400440532013000",
				BIC:           "COBADEFFXXX",
				BankName:      "Commerzbank",
			},
			Email: "rechnung@muster-software.de",
		},
		Customer: model.Customer{
			ID:   "cust-42",
			Name: "Beispiel AG",
			Address: model.Address{
				Street:     "Marktplatz 5",
				PostalCode: "80331",
				City:       "München",
				Country:    "DE",
			},
			VATID: "DE987654321",
			Email: "buchhaltung@beispiel.de",
		},
		LineItems: []model.LineItem{
			{
				Description: "Beratung",
				Quantity:    decimal.NewFromInt(2),
				Unit:        "hour",
				UnitPrice:   decimal.NewFromInt(50),
				TaxRate:     decimal.NewFromInt(19),
				LineTotal:   decimal.NewFromInt(100),
			},
			{
				Description: "Fachbuch",
				Quantity:    decimal.NewFromInt(1),
				Unit:        "piece",
				UnitPrice:   decimal.NewFromInt(100),
				TaxRate:     decimal.NewFromInt(7),
				LineTotal:   decimal.NewFromInt(100),
			},
		},
		Subtotal:      decimal.NewFromInt(200),
		Total:         decimal.NewFromInt(226),
		PaymentTerms:  "Zahlbar innerhalb von 30 Tagen ohne Abzug.",
		PaymentMethod: model.PaymentBankTransfer,
		Notes:         "Vielen Dank für Ihren Auftrag.",
		RoutingID:     "991-12345-67",
	}
}

// Numbered returns n distinct copies of Invoice with sequential numbers
func Numbered(n int) []*model.Invoice {
	out := make([]*model.Invoice, n)
	for i := 0; i < n; i++ {
		inv := Invoice()
		inv.ID = fmt.Sprintf("inv-%04d", i+1)
		inv.InvoiceNumber = fmt.Sprintf("RE-2026-%04d", i+1)
		out[i] = inv
	}
	return out
}

// ManyItems returns an invoice with n identical 19% positions, used for pagination
func ManyItems(n int) *model.Invoice {
	inv := Invoice()
	inv.LineItems = nil
	for i := 0; i < n; i++ {
		inv.LineItems = append(inv.LineItems, model.LineItem{
			Description: fmt.Sprintf("Position %d: Wartung und Pflege der Serverinfrastruktur einschließlich Monitoring, Updates und Rufbereitschaft", i+1),
			Quantity:    decimal.NewFromInt(1),
			Unit:        "piece",
			UnitPrice:   decimal.NewFromInt(10),
			TaxRate:     decimal.NewFromInt(19),
			LineTotal:   decimal.NewFromInt(10),
		})
	}
	inv.Subtotal = decimal.NewFromInt(int64(10 * n))
	inv.Total = inv.Subtotal.Add(decimal.NewFromInt(int64(10 * n)).Mul(decimal.NewFromInt(19)).Div(decimal.NewFromInt(100))).Round(2)
	return inv
}
