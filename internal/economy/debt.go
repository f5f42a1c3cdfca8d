package economy

import (
	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/numeric"
)

// Sector classifies a debt profile.
type Sector string

const (
	SectorSovereign Sector = "sovereign"
	SectorCorporate Sector = "corporate"
	SectorHousehold Sector = "household"
	SectorFinancial Sector = "financial"
)

// DebtProfile aggregates the borrowing of one sector or sovereign.
type DebtProfile struct {
	ID                 string          `json:"id"`
	Sector             Sector          `json:"sector"`
	TotalDebt          decimal.Decimal `json:"total_debt"`
	Income             decimal.Decimal `json:"income"`
	DefaultProbability float64         `json:"default_probability"`
	CreditAvailability float64         `json:"credit_availability"`
	Health             float64         `json:"health"`
	Counterparties     []string        `json:"counterparties"`
	Defaulted          bool            `json:"defaulted"`
}

// DebtRatio is total debt over income.
func (d *DebtProfile) DebtRatio() float64 {
	if !d.Income.IsPositive() {
		return 3
	}
	return numeric.Ratio(d.TotalDebt, d.Income)
}

// Repair clamps the profile's levels.
func (d *DebtProfile) Repair() bool {
	changed := false
	for _, v := range []*float64{&d.DefaultProbability, &d.CreditAvailability, &d.Health} {
		if x := numeric.Clamp01(*v); x != *v {
			*v = x
			changed = true
		}
	}
	if d.TotalDebt.IsNegative() {
		d.TotalDebt = decimal.Zero
		changed = true
	}
	return changed
}
