package economy

import (
	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/numeric"
)

// Currency is an exchange-rate node. ExchangeRate is units per reference unit;
// a rising rate means depreciation.
type Currency struct {
	ID              string          `json:"id"`
	ExchangeRate    float64         `json:"exchange_rate"`
	BaseRate        float64         `json:"base_rate"`
	Reserves        decimal.Decimal `json:"reserves"`
	InitialReserves decimal.Decimal `json:"initial_reserves"`
	Confidence      float64         `json:"confidence"`
	Pressure        float64         `json:"pressure"`
	CapitalFlight   float64         `json:"capital_flight"`
	Counterparties  []string        `json:"counterparties"`
}

// ReserveRatio is reserves relative to the starting stock.
func (c *Currency) ReserveRatio() float64 {
	if !c.InitialReserves.IsPositive() {
		return 0
	}
	return numeric.Ratio(c.Reserves, c.InitialReserves)
}

// Depreciation is how far the rate sits above its base, clamped to [0,1].
func (c *Currency) Depreciation() float64 {
	if c.BaseRate <= 0 {
		return 0
	}
	return numeric.Clamp01(c.ExchangeRate/c.BaseRate - 1)
}

// Repair clamps the currency's levels.
func (c *Currency) Repair() bool {
	changed := false
	for _, v := range []*float64{&c.Confidence, &c.Pressure, &c.CapitalFlight} {
		if x := numeric.Clamp01(*v); x != *v {
			*v = x
			changed = true
		}
	}
	if c.Reserves.IsNegative() {
		c.Reserves = decimal.Zero
		changed = true
	}
	if c.ExchangeRate <= 0 || c.ExchangeRate != c.ExchangeRate {
		c.ExchangeRate = c.BaseRate
		changed = true
	}
	return changed
}
