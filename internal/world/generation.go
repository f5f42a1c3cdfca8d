// World generation from a declarative config: markets, banks and their
// depositors, currencies, debt profiles, chains, factions and governments.
package world

import (
	"math/rand"
	"sort"

	"github.com/talgya/crisis-world/internal/agents"
	"github.com/talgya/crisis-world/internal/economy"
	"github.com/talgya/crisis-world/internal/numeric"
	"github.com/talgya/crisis-world/internal/social"
)

// GenConfig holds world generation parameters.
type GenConfig struct {
	Seed   int64
	Agents int

	// DepositShare is the fraction of an agent's wealth placed at its bank.
	DepositShare float64
	// ConditionsAmplitude bounds the economic-conditions field around 1.0.
	ConditionsAmplitude float64

	Markets     []MarketSpec
	Banks       []BankSpec
	Chains      []ChainSpec
	Currencies  []CurrencySpec
	Debts       []DebtSpec
	Factions    []FactionSpec
	Relations   []RelationSpec
	Governments []GovernmentSpec
}

// MarketSpec describes one market.
type MarketSpec struct {
	ID         string
	Kind       economy.MarketKind
	BasePrice  float64
	Supply     float64
	Volatility float64
	Liquidity  float64
}

// BankSpec describes one bank. Depositors > 0 assigns exactly that many
// agents; banks with zero share the remaining agents round-robin.
type BankSpec struct {
	ID         string
	Systemic   bool
	Liquidity  float64
	Reserves   float64
	Confidence float64
	Depositors int
	Neighbors  []string
}

// ChainSpec describes one supply chain.
type ChainSpec struct {
	ID          string
	Inputs      []string
	InputChains []string
	Outputs     []string
	Efficiency  float64
}

// CurrencySpec describes one currency.
type CurrencySpec struct {
	ID             string
	Rate           float64
	Reserves       float64
	Confidence     float64
	Counterparties []string
}

// DebtSpec describes one debt profile.
type DebtSpec struct {
	ID             string
	Sector         economy.Sector
	Debt           float64
	Income         float64
	Credit         float64
	Counterparties []string
}

// FactionSpec describes one faction.
type FactionSpec struct {
	ID        string
	Name      string
	Resources float64
	Strength  float64
}

// RelationSpec seeds the relationship between two factions.
type RelationSpec struct {
	A, B  string
	Trust float64
	Trade float64
}

// GovernmentSpec describes one government.
type GovernmentSpec struct {
	ID            string
	Name          string
	Type          social.GovernmentType
	Capacity      float64
	PoliticalWill float64
	Credibility   float64
	Speed         float64
	Tools         map[string]float64
}

// DefaultGenConfig returns the standard crisis world.
func DefaultGenConfig(seed int64, agentCount int) GenConfig {
	return GenConfig{
		Seed:                seed,
		Agents:              agentCount,
		DepositShare:        0.4,
		ConditionsAmplitude: 0.05,
		Markets: []MarketSpec{
			{ID: "agriculture", Kind: economy.KindCommodity, BasePrice: 40, Supply: 1000, Volatility: 0.1, Liquidity: 0.7},
			{ID: "consumer_goods", Kind: economy.KindCommodity, BasePrice: 60, Supply: 1000, Volatility: 0.08, Liquidity: 0.75},
			{ID: "energy", Kind: economy.KindCommodity, BasePrice: 80, Supply: 1000, Volatility: 0.15, Liquidity: 0.7},
			{ID: "equities", Kind: economy.KindAsset, BasePrice: 100, Supply: 1000, Volatility: 0.15, Liquidity: 0.8},
			{ID: "forex", Kind: economy.KindCurrency, BasePrice: 1, Supply: 1000, Volatility: 0.05, Liquidity: 0.9},
			{ID: "manufacturing", Kind: economy.KindCommodity, BasePrice: 120, Supply: 1000, Volatility: 0.1, Liquidity: 0.65},
			{ID: "raw_materials", Kind: economy.KindCommodity, BasePrice: 50, Supply: 1000, Volatility: 0.12, Liquidity: 0.65},
			{ID: "real_estate", Kind: economy.KindAsset, BasePrice: 300, Supply: 1000, Volatility: 0.05, Liquidity: 0.4},
			{ID: "technology", Kind: economy.KindTech, BasePrice: 100, Supply: 1000, Volatility: 0.2, Liquidity: 0.75},
		},
		Banks: []BankSpec{
			{ID: "commercial_bank_1", Systemic: true, Liquidity: 0.6, Reserves: 0.2, Confidence: 0.75, Neighbors: []string{"commercial_bank_2", "commercial_bank_4", "investment_bank_1"}},
			{ID: "commercial_bank_2", Liquidity: 0.55, Reserves: 0.18, Confidence: 0.7, Neighbors: []string{"commercial_bank_1", "commercial_bank_3", "investment_bank_1"}},
			{ID: "commercial_bank_3", Liquidity: 0.6, Reserves: 0.2, Confidence: 0.72, Neighbors: []string{"commercial_bank_2", "commercial_bank_4", "investment_bank_1"}},
			{ID: "commercial_bank_4", Liquidity: 0.5, Reserves: 0.15, Confidence: 0.7, Neighbors: []string{"commercial_bank_1", "commercial_bank_3", "investment_bank_1"}},
			{ID: "investment_bank_1", Systemic: true, Liquidity: 0.45, Reserves: 0.12, Confidence: 0.68, Neighbors: []string{"commercial_bank_1", "commercial_bank_2", "commercial_bank_3", "commercial_bank_4"}},
		},
		Chains: []ChainSpec{
			{ID: "agriculture_chain", Inputs: []string{"energy"}, Outputs: []string{"agriculture"}, Efficiency: 0.9},
			{ID: "consumer_chain", Inputs: []string{"manufacturing", "agriculture"}, InputChains: []string{"agriculture_chain", "manufacturing_chain"}, Outputs: []string{"consumer_goods"}, Efficiency: 0.85},
			{ID: "extraction_chain", Inputs: []string{"energy"}, Outputs: []string{"raw_materials"}, Efficiency: 0.9},
			{ID: "manufacturing_chain", Inputs: []string{"energy", "raw_materials"}, InputChains: []string{"extraction_chain"}, Outputs: []string{"manufacturing"}, Efficiency: 0.85},
			{ID: "technology_chain", Inputs: []string{"energy", "raw_materials"}, InputChains: []string{"extraction_chain"}, Outputs: []string{"technology"}, Efficiency: 0.8},
		},
		Currencies: []CurrencySpec{
			{ID: "dollar", Rate: 1, Reserves: 4e11, Confidence: 0.8, Counterparties: []string{"euro", "yen", "yuan"}},
			{ID: "euro", Rate: 0.92, Reserves: 3e11, Confidence: 0.75, Counterparties: []string{"dollar", "pound"}},
			{ID: "pound", Rate: 0.79, Reserves: 1e11, Confidence: 0.7, Counterparties: []string{"dollar", "euro"}},
			{ID: "yen", Rate: 150, Reserves: 2e11, Confidence: 0.72, Counterparties: []string{"dollar", "yuan"}},
			{ID: "yuan", Rate: 7.2, Reserves: 3e11, Confidence: 0.68, Counterparties: []string{"dollar", "yen"}},
		},
		Debts: []DebtSpec{
			{ID: "corporate_sector", Sector: economy.SectorCorporate, Debt: 1.2e12, Income: 1e12, Credit: 0.75, Counterparties: []string{"financial_sector", "household_sector"}},
			{ID: "financial_sector", Sector: economy.SectorFinancial, Debt: 1.8e12, Income: 1e12, Credit: 0.7, Counterparties: []string{"corporate_sector", "sovereign_a", "sovereign_b"}},
			{ID: "household_sector", Sector: economy.SectorHousehold, Debt: 1e12, Income: 1e12, Credit: 0.7, Counterparties: []string{"financial_sector"}},
			{ID: "sovereign_a", Sector: economy.SectorSovereign, Debt: 2.4e12, Income: 1.2e12, Credit: 0.8, Counterparties: []string{"financial_sector", "sovereign_b"}},
			{ID: "sovereign_b", Sector: economy.SectorSovereign, Debt: 1.5e12, Income: 1e12, Credit: 0.75, Counterparties: []string{"financial_sector", "sovereign_a"}},
		},
		Factions: []FactionSpec{
			{ID: "atlantic_union", Name: "Atlantic Union", Resources: 0.8, Strength: 0.8},
			{ID: "eastern_bloc", Name: "Eastern Bloc", Resources: 0.7, Strength: 0.65},
			{ID: "northern_federation", Name: "Northern Federation", Resources: 0.75, Strength: 0.6},
			{ID: "pacific_alliance", Name: "Pacific Alliance", Resources: 0.7, Strength: 0.75},
			{ID: "southern_coalition", Name: "Southern Coalition", Resources: 0.6, Strength: 0.5},
		},
		Relations: []RelationSpec{
			{A: "atlantic_union", B: "eastern_bloc", Trust: 0.45, Trade: 80},
			{A: "atlantic_union", B: "northern_federation", Trust: 0.75, Trade: 120},
			{A: "atlantic_union", B: "pacific_alliance", Trust: 0.7, Trade: 150},
			{A: "atlantic_union", B: "southern_coalition", Trust: 0.6, Trade: 90},
			{A: "eastern_bloc", B: "northern_federation", Trust: 0.5, Trade: 70},
			{A: "eastern_bloc", B: "pacific_alliance", Trust: 0.5, Trade: 110},
			{A: "eastern_bloc", B: "southern_coalition", Trust: 0.6, Trade: 60},
			{A: "northern_federation", B: "pacific_alliance", Trust: 0.65, Trade: 80},
			{A: "northern_federation", B: "southern_coalition", Trust: 0.55, Trade: 50},
			{A: "pacific_alliance", B: "southern_coalition", Trust: 0.6, Trade: 100},
		},
		Governments: []GovernmentSpec{
			{ID: "central_bank", Name: "Central Bank", Type: social.GovCentralBank, Capacity: 8e9, PoliticalWill: 0.7, Credibility: 0.8, Speed: 0.85,
				Tools: map[string]float64{"open_market_operations": 0.9, "policy_rate": 0.85, "fx_reserves": 0.7}},
			{ID: "financial_regulator", Name: "Financial Regulator", Type: social.GovRegulator, Capacity: 1e9, PoliticalWill: 0.6, Credibility: 0.75, Speed: 0.7,
				Tools: map[string]float64{"circuit_breaker": 0.9, "regulation": 0.7}},
			{ID: "international_fund", Name: "International Monetary Fund", Type: social.GovInternational, Capacity: 6e9, PoliticalWill: 0.5, Credibility: 0.75, Speed: 0.4,
				Tools: map[string]float64{"fx_reserves": 0.8, "debt_facility": 0.85}},
			{ID: "treasury", Name: "Treasury", Type: social.GovTreasury, Capacity: 5e9, PoliticalWill: 0.6, Credibility: 0.7, Speed: 0.5,
				Tools: map[string]float64{"budget": 0.8, "bailout_fund": 0.75, "debt_facility": 0.6}},
		},
	}
}

// Bank returns a pointer to the named bank spec, or nil.
func (c *GenConfig) Bank(id string) *BankSpec {
	for i := range c.Banks {
		if c.Banks[i].ID == id {
			return &c.Banks[i]
		}
	}
	return nil
}

// Market returns a pointer to the named market spec, or nil.
func (c *GenConfig) Market(id string) *MarketSpec {
	for i := range c.Markets {
		if c.Markets[i].ID == id {
			return &c.Markets[i]
		}
	}
	return nil
}

// Generate builds a complete world from cfg. The same config always
// produces the same world.
func Generate(cfg GenConfig) *World {
	w := &World{
		PublicSupport: 0.6,
		Uncertainty:   0.2,
		Conditions:    NewConditions(cfg.Seed+3, cfg.ConditionsAmplitude),
	}

	marketIDs := make([]string, 0, len(cfg.Markets))
	for _, s := range cfg.Markets {
		m := economy.NewMarket(s.ID, s.Kind, s.BasePrice, s.Supply)
		if s.Volatility > 0 {
			m.Volatility = s.Volatility
		}
		if s.Liquidity > 0 {
			m.Liquidity = s.Liquidity
		}
		w.Markets = append(w.Markets, m)
		marketIDs = append(marketIDs, s.ID)
	}
	w.Agents = agents.NewSpawner(cfg.Seed).SpawnPopulation(cfg.Agents, sortedCopy(marketIDs))

	for _, s := range cfg.Banks {
		b := economy.NewBank(s.ID, s.Systemic, s.Liquidity, s.Reserves, s.Confidence)
		b.Neighbors = append([]string(nil), s.Neighbors...)
		w.Banks = append(w.Banks, b)
	}
	assignDepositors(w, cfg)
	for _, b := range w.Banks {
		b.Loans = numeric.Scale(b.Deposits, 0.8)
		b.Assets = numeric.Scale(b.Deposits, 1.1)
	}

	for _, s := range cfg.Chains {
		w.Chains = append(w.Chains, &economy.SupplyChain{
			ID:             s.ID,
			Inputs:         append([]string(nil), s.Inputs...),
			InputChains:    append([]string(nil), s.InputChains...),
			Outputs:        append([]string(nil), s.Outputs...),
			BaseEfficiency: s.Efficiency,
			Efficiency:     s.Efficiency,
		})
	}

	for _, s := range cfg.Currencies {
		reserves := numeric.Money(s.Reserves)
		w.Currencies = append(w.Currencies, &economy.Currency{
			ID:              s.ID,
			ExchangeRate:    s.Rate,
			BaseRate:        s.Rate,
			Reserves:        reserves,
			InitialReserves: reserves,
			Confidence:      s.Confidence,
			Pressure:        0.1,
			Counterparties:  append([]string(nil), s.Counterparties...),
		})
	}

	for _, s := range cfg.Debts {
		w.Debts = append(w.Debts, &economy.DebtProfile{
			ID:                 s.ID,
			Sector:             s.Sector,
			TotalDebt:          numeric.Money(s.Debt),
			Income:             numeric.Money(s.Income),
			DefaultProbability: 0.05,
			CreditAvailability: s.Credit,
			Health:             0.8,
			Counterparties:     append([]string(nil), s.Counterparties...),
		})
	}

	for _, s := range cfg.Factions {
		w.Factions = append(w.Factions, social.NewFaction(s.ID, s.Name, s.Resources, s.Strength))
	}
	w.Index()
	for _, r := range cfg.Relations {
		a, b := w.Faction(r.A), w.Faction(r.B)
		if a == nil || b == nil {
			continue
		}
		social.Relate(a, b, r.Trust, r.Trade)
	}

	for _, s := range cfg.Governments {
		capacity := numeric.Money(s.Capacity)
		tools := make(map[string]float64, len(s.Tools))
		for k, v := range s.Tools {
			tools[k] = v
		}
		w.Governments = append(w.Governments, &social.Government{
			ID:                s.ID,
			Name:              s.Name,
			Type:              s.Type,
			Capacity:          capacity,
			AvailableCapacity: capacity,
			PoliticalWill:     s.PoliticalWill,
			Credibility:       s.Credibility,
			Speed:             s.Speed,
			Tools:             tools,
		})
	}

	w.Index()
	return w
}

// assignDepositors places each agent's deposit at one bank. Fixed-count
// banks draw their depositors from a seeded shuffle first; the rest are
// dealt round-robin to the remaining banks in spec order.
func assignDepositors(w *World, cfg GenConfig) {
	if len(w.Banks) == 0 || len(w.Agents) == 0 {
		return
	}
	rng := rand.New(rand.NewSource(cfg.Seed + 7))
	order := rng.Perm(len(w.Agents))

	next := 0
	var shared []*economy.Bank
	for i, s := range cfg.Banks {
		b := w.Banks[i]
		if s.Depositors <= 0 {
			shared = append(shared, b)
			continue
		}
		for n := 0; n < s.Depositors && next < len(order); n++ {
			placeDeposit(w.Agents[order[next]], b, cfg.DepositShare)
			next++
		}
	}
	for i := 0; next < len(order) && len(shared) > 0; i++ {
		placeDeposit(w.Agents[order[next]], shared[i%len(shared)], cfg.DepositShare)
		next++
	}
}

func placeDeposit(a *agents.Agent, b *economy.Bank, share float64) {
	amount := numeric.Scale(a.Wealth, share)
	a.Wealth = a.Wealth.Sub(amount)
	a.PreferredBank = b.ID
	b.Deposit(a.ID, amount)
}

func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
