package decimal_test

import (
	"testing"

	dec "github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rezonia/erechnung/internal/decimal"
)

func TestLineNet(t *testing.T) {
	assert.Equal(t, "100.00", decimal.LineNet(dec.NewFromInt(3), dec.RequireFromString("33.333")).StringFixed(2))
	assert.Equal(t, "0.01", decimal.LineNet(dec.RequireFromString("0.5"), dec.RequireFromString("0.025")).StringFixed(2))
}

func TestTax(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		rate     string
		expected string
	}{
		{"19% of 100", "100", "19", "19.00"},
		{"7% of 100", "100", "7", "7.00"},
		{"0% of 100", "100", "0", "0.00"},
		{"19% of 10.99 rounds half up", "10.99", "19", "2.09"},
		{"7% of 0.50", "0.50", "7", "0.04"},
		{"credit note", "-100", "19", "-19.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decimal.Tax(dec.RequireFromString(tt.base), dec.RequireFromString(tt.rate))
			assert.Equal(t, tt.expected, got.StringFixed(2))
		})
	}
}

func TestIsGermanRate(t *testing.T) {
	for _, r := range []string{"0", "7", "19", "19.00", "7.0"} {
		assert.True(t, decimal.IsGermanRate(dec.RequireFromString(r)), r)
	}
	for _, r := range []string{"16", "5", "20", "-19"} {
		assert.False(t, decimal.IsGermanRate(dec.RequireFromString(r)), r)
	}
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, decimal.WithinTolerance(dec.RequireFromString("226.00"), dec.RequireFromString("226.01")))
	assert.True(t, decimal.WithinTolerance(dec.RequireFromString("226.01"), dec.RequireFromString("226.00")))
	assert.False(t, decimal.WithinTolerance(dec.RequireFromString("226.00"), dec.RequireFromString("226.02")))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1234.50", decimal.Format(dec.RequireFromString("1234.5")))
	assert.Equal(t, "0.00", decimal.Format(decimal.Zero))
	assert.Equal(t, "5.5", decimal.FormatRate(dec.RequireFromString("5.50")))
	assert.Equal(t, "19", decimal.FormatRate(decimal.RateStandard))
}
