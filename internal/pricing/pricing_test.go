package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbilling/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestCalculate(t *testing.T) {
	base := decimal.NewFromInt(800)
	seat := decimal.NewFromInt(200)

	cases := []struct {
		seats int
		want  int64
	}{
		{seats: 0, want: 800},
		{seats: 1, want: 800},
		{seats: 2, want: 1000},
		{seats: 4, want: 1400},
		{seats: 10, want: 2600},
	}
	for _, tc := range cases {
		got := Calculate(base, seat, tc.seats)
		assert.Truef(t, got.Equal(decimal.NewFromInt(tc.want)), "seats=%d: want %d, got %s", tc.seats, tc.want, got)
	}
}

func TestQuoteForUsesConfig(t *testing.T) {
	cfg := config.DefaultBillingConfig().Pricing
	cfg.BasePrice = "99.90"
	cfg.SeatPrice = "10.05"
	cfg.Currency = "CLP"

	quote := QuoteFor(cfg, 3)
	assert.Equal(t, 3, quote.Seats)
	assert.Equal(t, 2, quote.ExtraSeats)
	assert.Equal(t, "CLP", quote.Currency)
	assert.Equal(t, "120", quote.Total.String())
}

func TestQuoteForClampsSeats(t *testing.T) {
	quote := QuoteFor(config.DefaultBillingConfig().Pricing, -3)
	assert.Equal(t, 1, quote.Seats)
	assert.Equal(t, 0, quote.ExtraSeats)
	assert.True(t, quote.Total.Equal(decimal.NewFromInt(800)))
}
