package economy

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/agents"
	"github.com/talgya/crisis-world/internal/numeric"
)

// Bank is a deposit-taking institution. Deposits always equals the sum of
// the per-depositor map.
type Bank struct {
	ID                string          `json:"id"`
	SystemicImportant bool            `json:"systemic_important"`
	Liquidity         float64         `json:"liquidity"`
	Reserves          float64         `json:"reserves"`
	Confidence        float64         `json:"confidence"`
	Deposits          decimal.Decimal `json:"deposits"`
	Loans             decimal.Decimal `json:"loans"`
	Assets            decimal.Decimal `json:"assets"`
	WithdrawalRate    float64         `json:"withdrawal_rate"`
	QueueLength       int             `json:"queue_length"`
	RunRisk           float64         `json:"run_risk"`
	Neighbors         []string        `json:"neighbors"`
	Failed            bool            `json:"failed"`

	deposits map[agents.AgentID]decimal.Decimal
}

// NewBank creates an empty bank.
func NewBank(id string, systemic bool, liquidity, reserves, confidence float64) *Bank {
	return &Bank{
		ID:                id,
		SystemicImportant: systemic,
		Liquidity:         numeric.Clamp01(liquidity),
		Reserves:          numeric.Clamp01(reserves),
		Confidence:        numeric.Clamp01(confidence),
		deposits:          make(map[agents.AgentID]decimal.Decimal),
	}
}

// Deposit credits amount to the agent's account.
func (b *Bank) Deposit(agent agents.AgentID, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	b.deposits[agent] = b.deposits[agent].Add(amount)
	b.recompute()
}

// Withdraw removes up to amount from the agent's account and returns what was paid.
func (b *Bank) Withdraw(agent agents.AgentID, amount decimal.Decimal) decimal.Decimal {
	held, ok := b.deposits[agent]
	if !ok || !amount.IsPositive() {
		return decimal.Zero
	}
	paid := numeric.MinMoney(amount, held)
	rest := held.Sub(paid)
	if rest.IsZero() {
		delete(b.deposits, agent)
	} else {
		b.deposits[agent] = rest
	}
	b.recompute()
	return paid
}

// DepositOf returns the agent's balance at this bank.
func (b *Bank) DepositOf(agent agents.AgentID) decimal.Decimal {
	return b.deposits[agent]
}

// Depositors returns the depositor ids in ascending order.
func (b *Bank) Depositors() []agents.AgentID {
	ids := make([]agents.AgentID, 0, len(b.deposits))
	for id := range b.deposits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ClearDeposits wipes every account, as on failure.
func (b *Bank) ClearDeposits() {
	b.deposits = make(map[agents.AgentID]decimal.Decimal)
	b.recompute()
}

// DepositSum is the sum over the depositor map.
func (b *Bank) DepositSum() decimal.Decimal {
	sum := decimal.Zero
	for _, id := range b.Depositors() {
		sum = sum.Add(b.deposits[id])
	}
	return sum
}

func (b *Bank) recompute() {
	b.Deposits = b.DepositSum()
}

// LoanRatio is min(1, loans/deposits).
func (b *Bank) LoanRatio() float64 {
	if !b.Deposits.IsPositive() {
		return 1
	}
	return numeric.Clamp01(numeric.Ratio(b.Loans, b.Deposits))
}

// Repair restores bank invariants and reports whether anything changed.
func (b *Bank) Repair() bool {
	changed := false
	for _, v := range []*float64{&b.Liquidity, &b.Reserves, &b.Confidence, &b.RunRisk, &b.WithdrawalRate} {
		if c := numeric.Clamp01(*v); c != *v {
			*v = c
			changed = true
		}
	}
	if sum := b.DepositSum(); !sum.Equal(b.Deposits) {
		b.Deposits = sum
		changed = true
	}
	if b.QueueLength < 0 {
		b.QueueLength = 0
		changed = true
	}
	return changed
}
