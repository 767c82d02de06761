// Package pricing computes the monthly subscription charge for a clinic.
package pricing

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/clinicbilling/internal/config"
)

// Quote is the price breakdown for one billing period.
type Quote struct {
	Seats      int
	ExtraSeats int
	BasePrice  decimal.Decimal
	SeatPrice  decimal.Decimal
	Total      decimal.Decimal
	Currency   string
}

// Calculate returns base + max(0, seats-1) * seatPrice. Seat counts below
// one are billed as a single seat.
func Calculate(base, seatPrice decimal.Decimal, seats int) decimal.Decimal {
	extra := seats - 1
	if extra < 0 {
		extra = 0
	}
	return base.Add(seatPrice.Mul(decimal.NewFromInt(int64(extra)))).Round(2)
}

// QuoteFor prices seats using the configured pricing.
func QuoteFor(cfg config.PricingConfig, seats int) Quote {
	if seats < 1 {
		seats = 1
	}
	base := cfg.BaseAmount()
	seatPrice := cfg.SeatAmount()
	return Quote{
		Seats:      seats,
		ExtraSeats: seats - 1,
		BasePrice:  base,
		SeatPrice:  seatPrice,
		Total:      Calculate(base, seatPrice, seats),
		Currency:   cfg.Currency,
	}
}
