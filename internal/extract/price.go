package extract

import (
	"math"
	"strconv"
	"strings"

	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
)

// Currency describes how reconstructed prices are rendered.
type Currency struct {
	Symbol    string
	Thousands string
	Decimal   string
}

// BRL renders "R$ 1.234,56".
var BRL = Currency{Symbol: "R$", Thousands: ".", Decimal: ","}

// Format renders an amount expressed in cents.
func (c Currency) Format(cents int64) string {
	whole := strconv.FormatInt(cents/100, 10)
	frac := cents % 100

	var b strings.Builder
	if c.Symbol != "" {
		b.WriteString(c.Symbol)
		b.WriteByte(' ')
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(c.Thousands)
		}
		b.WriteRune(r)
	}
	b.WriteString(c.Decimal)
	if frac < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(frac, 10))
	return b.String()
}

// reconstructPrice rebuilds a price from the split whole/fraction nodes.
func reconstructPrice(wholeText, fractionText string, currency Currency) string {
	if wholeText == "" && fractionText == "" {
		return scraper.PriceUnavailable
	}

	whole := digitsOnly(wholeText)
	fraction := digitsOnly(fractionText)
	switch {
	case len(fraction) > 2:
		fraction = fraction[:2]
	default:
		fraction += strings.Repeat("0", 2-len(fraction))
	}

	if whole != "" {
		units, err := strconv.ParseInt(whole, 10, 64)
		cents, _ := strconv.ParseInt(fraction, 10, 64)
		if err == nil && units <= (math.MaxInt64-cents)/100 {
			if total := units*100 + cents; total > 0 {
				return currency.Format(total)
			}
		}
	}

	raw := strings.TrimRight(wholeText, ".,")
	if fractionText != "" {
		raw += "," + fractionText
	}
	return raw
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
