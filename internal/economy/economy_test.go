package economy

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/agents"
)

func TestMarketPriceFloor(t *testing.T) {
	m := NewMarket("energy", KindCommodity, 80, 1000)
	m.ScalePrice(0)
	if m.PriceF() != minPrice {
		t.Errorf("price = %v, want floor %v", m.PriceF(), minPrice)
	}
	m.ScaleDemand(0)
	if m.Demand != minDemand {
		t.Errorf("demand = %v, want floor %v", m.Demand, minDemand)
	}
}

func TestMarketRepair(t *testing.T) {
	m := NewMarket("equities", KindAsset, 100, 500)
	if m.Repair() {
		t.Fatal("fresh market needed repair")
	}
	m.Volatility = 1.7
	m.Supply = -3
	if !m.Repair() {
		t.Fatal("Repair reported no change")
	}
	if m.Volatility != 1 || m.Supply != 0 {
		t.Errorf("repaired market: vol=%v supply=%v", m.Volatility, m.Supply)
	}
}

func TestMarketHistory(t *testing.T) {
	m := NewMarket("technology", KindTech, 100, 100)
	for i := 0; i < HistorySize+20; i++ {
		m.SetPrice(float64(100 + i))
		m.RecordPrice()
	}
	if m.History.Len() != HistorySize {
		t.Errorf("history len = %d, want %d", m.History.Len(), HistorySize)
	}
	if got := m.History.Last(0); got != float64(100+HistorySize+19) {
		t.Errorf("last price = %v", got)
	}
}

func TestBankDepositsMatchMap(t *testing.T) {
	b := NewBank("commercial_bank_1", false, 0.5, 0.2, 0.6)
	b.Deposit(1, decimal.NewFromInt(100))
	b.Deposit(2, decimal.NewFromInt(50))
	b.Deposit(1, decimal.NewFromInt(25))

	if !b.Deposits.Equal(decimal.NewFromInt(175)) {
		t.Fatalf("deposits = %s, want 175", b.Deposits)
	}

	paid := b.Withdraw(1, decimal.NewFromInt(500))
	if !paid.Equal(decimal.NewFromInt(125)) {
		t.Errorf("paid = %s, want 125", paid)
	}
	if !b.Deposits.Equal(b.DepositSum()) || !b.Deposits.Equal(decimal.NewFromInt(50)) {
		t.Errorf("deposits = %s after withdrawal", b.Deposits)
	}
	if got := b.Depositors(); len(got) != 1 || got[0] != agents.AgentID(2) {
		t.Errorf("depositors = %v", got)
	}

	if paid := b.Withdraw(99, decimal.NewFromInt(10)); !paid.IsZero() {
		t.Errorf("unknown depositor paid %s", paid)
	}

	b.ClearDeposits()
	if !b.Deposits.IsZero() || len(b.Depositors()) != 0 {
		t.Error("ClearDeposits left balances")
	}
}

func TestBankRepairResyncsDeposits(t *testing.T) {
	b := NewBank("b", true, 0.5, 0.2, 0.6)
	b.Deposit(3, decimal.NewFromInt(10))
	b.Deposits = decimal.NewFromInt(999)
	b.Confidence = -0.2
	if !b.Repair() {
		t.Fatal("Repair reported no change")
	}
	if !b.Deposits.Equal(decimal.NewFromInt(10)) || b.Confidence != 0 {
		t.Errorf("repaired bank: deposits=%s confidence=%v", b.Deposits, b.Confidence)
	}
}

func TestLoanRatio(t *testing.T) {
	b := NewBank("b", false, 0.5, 0.2, 0.6)
	if b.LoanRatio() != 1 {
		t.Errorf("empty bank loan ratio = %v, want 1", b.LoanRatio())
	}
	b.Deposit(1, decimal.NewFromInt(100))
	b.Loans = decimal.NewFromInt(80)
	if got := b.LoanRatio(); got != 0.8 {
		t.Errorf("loan ratio = %v, want 0.8", got)
	}
}

func TestCurrencyRatios(t *testing.T) {
	c := &Currency{
		ExchangeRate:    1.2,
		BaseRate:        1,
		Reserves:        decimal.NewFromInt(50),
		InitialReserves: decimal.NewFromInt(200),
	}
	if got := c.ReserveRatio(); got != 0.25 {
		t.Errorf("ReserveRatio = %v", got)
	}
	if got := c.Depreciation(); got < 0.199 || got > 0.201 {
		t.Errorf("Depreciation = %v", got)
	}
}

func TestChainMembership(t *testing.T) {
	c := &SupplyChain{Inputs: []string{"energy", "raw_materials"}, Outputs: []string{"manufacturing"}}
	if !c.Consumes("energy") || c.Consumes("manufacturing") {
		t.Error("Consumes wrong")
	}
	if !c.Produces("manufacturing") || c.Produces("energy") {
		t.Error("Produces wrong")
	}
}

func TestDebtRatio(t *testing.T) {
	d := &DebtProfile{TotalDebt: decimal.NewFromInt(300), Income: decimal.NewFromInt(100)}
	if d.DebtRatio() != 3 {
		t.Errorf("DebtRatio = %v", d.DebtRatio())
	}
}
