package engine

// Subsystem names, used for Params.Disabled and event categories.
const (
	SubsystemBankRun      = "bank_run"
	SubsystemBubble       = "bubble"
	SubsystemSupplyShock  = "supply_shock"
	SubsystemCurrency     = "currency"
	SubsystemDebt         = "debt"
	SubsystemWarfare      = "warfare"
	SubsystemIntervention = "intervention"
	SubsystemIndicators   = "indicators"
)

var subsystems = []string{
	SubsystemBankRun, SubsystemBubble, SubsystemSupplyShock, SubsystemCurrency,
	SubsystemDebt, SubsystemWarfare, SubsystemIntervention, SubsystemIndicators,
}

// IsSubsystem reports whether name is a known engine subsystem.
func IsSubsystem(name string) bool {
	for _, s := range subsystems {
		if s == name {
			return true
		}
	}
	return false
}

// Params holds every tunable constant of the crisis engines.
type Params struct {
	Psychology   PsychologyParams
	BankRun      BankRunParams
	Bubble       BubbleParams
	Supply       SupplyParams
	Currency     CurrencyParams
	Debt         DebtParams
	Warfare      WarfareParams
	Intervention InterventionParams
	Indicators   IndicatorParams
	Cascade      CascadeParams

	// Disabled lists subsystems that do not run and register no commands.
	Disabled []string
}

// PsychologyParams tunes the psychology bus.
type PsychologyParams struct {
	DecayRate float64
	// DriftRate scales how fast agents follow the global mood.
	DriftRate float64
}

// BankRunParams tunes the bank-run engine.
type BankRunParams struct {
	PanicThreshold     float64
	PanicDecay         float64
	WithdrawalLimit    float64
	NeighborhoodRadius int
	TriggerThreshold   float64
	MaxRunDuration     int
	ForcedIntensity    float64
	ForcedPanic        float64
}

// BubbleParams tunes the bubble engine.
type BubbleParams struct {
	ScoreThreshold  float64
	FormationChance float64
	FundamentalRate float64
	ReversionRate   float64
	MaxBurstChance  float64
	// HerdPush is the per-tick greed push on every trader of a bubbling market.
	HerdPush float64
}

// SupplyParams tunes the supply-shock engine.
type SupplyParams struct {
	ScarcityRate      float64
	StressThreshold   float64
	DisruptionRecover float64
	HoardFearLevel    float64
	CascadeIntensity  float64
	CascadeDuration   float64
	MaxCascadeLevel   int
	DefaultRecovery   float64
}

// CurrencyParams tunes the currency-crisis engine.
type CurrencyParams struct {
	StressThreshold float64
	MinDuration     int
	MaxDuration     int
	CollapseReserve float64
}

// DebtParams tunes the debt-cascade engine.
type DebtParams struct {
	StressThreshold float64
	MinDuration     int
	MaxDuration     int
	DefaultRate     float64
}

// WarfareParams tunes the economic-warfare engine.
type WarfareParams struct {
	TensionThreshold float64
	MinDuration      int
	MaxDuration      int
	MaxExhaustion    float64
	ForcedIntensity  float64
	SanctionDuration int
}

// InterventionParams tunes the intervention engine.
type InterventionParams struct {
	Threshold        float64
	MinCapacity      float64
	GlobalMultiplier float64
	MoralHazardRate  float64
	EffectDecay      float64
}

// IndicatorParams tunes the indicators engine.
type IndicatorParams struct {
	UpdateEvery       int
	HistorySize       int
	VolatilityWindow  int
	PinTicks          int
	AlertTTL          int
	AckTTL            int
	PredictionHorizon int
	WarningLevel      float64
	AlertLevel        float64
	CompositeAlert    float64
	SystemicCoupling  float64
}

// CascadeParams tunes the cascade bus.
type CascadeParams struct {
	// Follow-ups are due 1 + uniform{0..MaxExtraDelay} ticks after emission.
	MaxExtraDelay int
	Capacity      int
	FollowUpScale float64
}

// DefaultParams returns the standard engine constants.
func DefaultParams() Params {
	return Params{
		Psychology: PsychologyParams{DecayRate: 0.02, DriftRate: 0.02},
		BankRun: BankRunParams{
			PanicThreshold:     0.7,
			PanicDecay:         0.05,
			WithdrawalLimit:    0.5,
			NeighborhoodRadius: 3,
			TriggerThreshold:   0.5,
			MaxRunDuration:     30,
			ForcedIntensity:    0.8,
			ForcedPanic:        0.85,
		},
		Bubble: BubbleParams{
			ScoreThreshold:  0.7,
			FormationChance: 0.05,
			FundamentalRate: 0.02,
			ReversionRate:   0.02,
			MaxBurstChance:  0.1,
			HerdPush:        0.02,
		},
		Supply: SupplyParams{
			ScarcityRate:      0.05,
			StressThreshold:   0.5,
			DisruptionRecover: 0.05,
			HoardFearLevel:    0.6,
			CascadeIntensity:  0.6,
			CascadeDuration:   0.7,
			MaxCascadeLevel:   3,
			DefaultRecovery:   0.02,
		},
		Currency: CurrencyParams{StressThreshold: 0.6, MinDuration: 20, MaxDuration: 50, CollapseReserve: 0.05},
		Debt:     DebtParams{StressThreshold: 0.6, MinDuration: 25, MaxDuration: 60, DefaultRate: 0.05},
		Warfare: WarfareParams{
			TensionThreshold: 0.7,
			MinDuration:      30,
			MaxDuration:      80,
			MaxExhaustion:    0.8,
			ForcedIntensity:  0.7,
			SanctionDuration: 60,
		},
		Intervention: InterventionParams{
			Threshold:        0.7,
			MinCapacity:      1e6,
			GlobalMultiplier: 1.0,
			MoralHazardRate:  0.02,
			EffectDecay:      0.98,
		},
		Indicators: IndicatorParams{
			UpdateEvery:       5,
			HistorySize:       100,
			VolatilityWindow:  10,
			PinTicks:          10,
			AlertTTL:          50,
			AckTTL:            5,
			PredictionHorizon: 20,
			WarningLevel:      0.6,
			AlertLevel:        0.75,
			CompositeAlert:    0.7,
			SystemicCoupling:  0.85,
		},
		Cascade: CascadeParams{MaxExtraDelay: 4, Capacity: 128, FollowUpScale: 0.8},
	}
}

func (p Params) disabled(name string) bool {
	for _, d := range p.Disabled {
		if d == name {
			return true
		}
	}
	return false
}
