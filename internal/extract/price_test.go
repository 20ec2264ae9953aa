package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
)

func TestReconstructPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		whole    string
		fraction string
		want     string
	}{
		{name: "padded fraction", whole: "29", fraction: "9", want: "R$ 29,90"},
		{name: "thousands", whole: "1.234,", fraction: "56", want: "R$ 1.234,56"},
		{name: "millions", whole: "1234567", fraction: "00", want: "R$ 1.234.567,00"},
		{name: "missing fraction", whole: "15", want: "R$ 15,00"},
		{name: "long fraction truncated", whole: "7", fraction: "999", want: "R$ 7,99"},
		{name: "zero value", whole: "0", fraction: "00", want: "0,00"},
		{name: "no whole digits", whole: "--", fraction: "50", want: "--,50"},
		{name: "fraction only", fraction: "50", want: ",50"},
		{name: "overflow", whole: "99999999999999999999", fraction: "1", want: "99999999999999999999,1"},
		{name: "nothing", want: scraper.PriceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, reconstructPrice(tt.whole, tt.fraction, BRL))
		})
	}
}

func TestCurrencyFormat(t *testing.T) {
	t.Parallel()

	usd := Currency{Symbol: "$", Thousands: ",", Decimal: "."}
	assert.Equal(t, "$ 1,000.05", usd.Format(100005))
	assert.Equal(t, "$ 0.99", usd.Format(99))
	assert.Equal(t, "R$ 999,10", BRL.Format(99910))
}
