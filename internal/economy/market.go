// Package economy provides the market, banking, currency, debt and supply
// chain records the crisis engines operate on.
package economy

import (
	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/numeric"
)

// HistorySize is the number of ticks of price history a market keeps.
const HistorySize = 200

const (
	minPrice  = 0.01
	minDemand = 0.01
)

// MarketKind types a market for bubble parameters.
type MarketKind string

const (
	KindAsset     MarketKind = "asset"
	KindCommodity MarketKind = "commodity"
	KindTech      MarketKind = "tech"
	KindCurrency  MarketKind = "currency"
)

// Market represents the supply/demand state of one tradable good or asset class.
type Market struct {
	ID         string          `json:"id"`
	Kind       MarketKind      `json:"kind"`
	BasePrice  decimal.Decimal `json:"base_price"`
	Price      decimal.Decimal `json:"price"`
	BaseSupply float64         `json:"base_supply"`
	Supply     float64         `json:"supply"` // >= 0
	Demand     float64         `json:"demand"` // > 0
	Scarcity   float64         `json:"scarcity"`
	Volatility float64         `json:"volatility"`
	Liquidity  float64         `json:"liquidity"`
	Volume     float64         `json:"volume"`
	Utility    float64         `json:"utility"`

	History *numeric.Ring `json:"history"`
}

// NewMarket creates a market in equilibrium at basePrice.
func NewMarket(id string, kind MarketKind, basePrice, supply float64) *Market {
	m := &Market{
		ID:         id,
		Kind:       kind,
		BasePrice:  numeric.Money(basePrice),
		Price:      numeric.Money(basePrice),
		BaseSupply: supply,
		Supply:     supply,
		Demand:     supply,
		Volatility: 0.1,
		Liquidity:  0.7,
		Volume:     supply,
		Utility:    1,
		History:    numeric.NewRing(HistorySize),
	}
	m.History.Push(basePrice)
	return m
}

// PriceF returns the current price as a float.
func (m *Market) PriceF() float64 { return numeric.Float(m.Price) }

// BasePriceF returns the base price as a float.
func (m *Market) BasePriceF() float64 { return numeric.Float(m.BasePrice) }

// SetPrice sets the price, flooring at the minimum.
func (m *Market) SetPrice(p float64) {
	if p < minPrice || p != p {
		p = minPrice
	}
	m.Price = numeric.Money(p)
}

// ScalePrice multiplies the price by f.
func (m *Market) ScalePrice(f float64) {
	m.SetPrice(m.PriceF() * f)
}

// ScaleDemand multiplies demand by f, flooring at the minimum.
func (m *Market) ScaleDemand(f float64) {
	m.Demand *= f
	if m.Demand < minDemand {
		m.Demand = minDemand
	}
}

// ScaleSupply multiplies supply by f, flooring at zero.
func (m *Market) ScaleSupply(f float64) {
	m.Supply *= f
	if m.Supply < 0 {
		m.Supply = 0
	}
}

// SupplyRatio is supply/demand.
func (m *Market) SupplyRatio() float64 {
	return m.Supply / m.Demand
}

// RecordPrice appends the current price to the history ring.
func (m *Market) RecordPrice() {
	m.History.Push(m.PriceF())
}

// Repair restores the market invariants and reports whether anything changed.
func (m *Market) Repair() bool {
	changed := false
	if m.Supply < 0 || m.Supply != m.Supply {
		m.Supply = 0
		changed = true
	}
	if m.Demand < minDemand || m.Demand != m.Demand {
		m.Demand = minDemand
		changed = true
	}
	if m.Price.LessThan(numeric.Money(minPrice)) {
		m.Price = numeric.Money(minPrice)
		changed = true
	}
	for _, v := range []*float64{&m.Scarcity, &m.Volatility, &m.Liquidity} {
		if c := numeric.Clamp01(*v); c != *v {
			*v = c
			changed = true
		}
	}
	if m.Volume < 0 {
		m.Volume = 0
		changed = true
	}
	return changed
}
