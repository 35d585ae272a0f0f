package decimal_test

import (
	"testing"

	dec "github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rezonia/einvoice-engine/internal/decimal"
)

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"100.555", "100.56"},
		{"100.554", "100.55"},
		{"-0.005", "-0.01"},
		{"12", "12"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := decimal.Round2(dec.RequireFromString(tt.in))
			assert.True(t, got.Equal(dec.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestCalculateTax(t *testing.T) {
	tests := []struct {
		name     string
		basis    string
		rate     string
		expected string
	}{
		{"standard DE", "1000", "19", "190"},
		{"reduced DE", "200", "7", "14"},
		{"rounds half up", "10.05", "10", "1.01"},
		{"zero rate", "1000", "0", "0"},
		{"credit note", "-250", "21", "-52.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := decimal.CalculateTax(dec.RequireFromString(tt.basis), dec.RequireFromString(tt.rate))
			assert.True(t, result.Equal(dec.RequireFromString(tt.expected)), "got %s", result)
		})
	}
}

func TestCalculatePercentage(t *testing.T) {
	result := decimal.CalculatePercentage(dec.NewFromInt(500), dec.NewFromInt(15))
	assert.True(t, result.Equal(dec.NewFromInt(75)))

	result = decimal.CalculatePercentage(dec.RequireFromString("33.33"), dec.RequireFromString("2.5"))
	assert.Equal(t, "0.83", result.StringFixed(2))
}

func TestWithinTolerance(t *testing.T) {
	a := dec.RequireFromString("1404.00")
	assert.True(t, decimal.WithinTolerance(a, dec.RequireFromString("1404.01")))
	assert.True(t, decimal.WithinTolerance(a, dec.RequireFromString("1403.99")))
	assert.False(t, decimal.WithinTolerance(a, dec.RequireFromString("1404.02")))
}

func TestIsPositive(t *testing.T) {
	assert.True(t, decimal.IsPositive(dec.RequireFromString("0.01")))
	assert.False(t, decimal.IsPositive(decimal.Zero))
	assert.False(t, decimal.IsPositive(dec.NewFromInt(-1)))
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1404.00", decimal.Amount(dec.NewFromInt(1404)))
	assert.Equal(t, "-0.50", decimal.Amount(dec.RequireFromString("-0.5")))
	assert.Equal(t, "1.5", decimal.Quantity(dec.RequireFromString("1.500")))
	assert.Equal(t, "19.00", decimal.Percent(dec.NewFromInt(19)))
}

func BenchmarkCalculateTax(b *testing.B) {
	basis := dec.RequireFromString("12345.67")
	rate := dec.NewFromInt(19)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decimal.CalculateTax(basis, rate)
	}
}
