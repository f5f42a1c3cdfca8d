package engine

import (
	"github.com/talgya/crisis-world/internal/numeric"
)

// Psychology triggers.
const (
	TriggerEuphoria    = "euphoria"
	TriggerBubbleBurst = "bubble_burst"
	TriggerMarketCrash = "market_crash"
	TriggerUncertainty = "uncertainty"
	TriggerBankPanic   = "bank_panic"
)

// PsychologyState is the aggregate market mood. All fields are in [0,1].
type PsychologyState struct {
	Sentiment float64 `json:"global_sentiment"`
	Fear      float64 `json:"fear_index"`
	Greed     float64 `json:"greed_index"`
	Herding   float64 `json:"herding_factor"`
}

var neutralPsychology = PsychologyState{Sentiment: 0.5, Fear: 0.2, Greed: 0.3, Herding: 0.3}

// triggerDeltas maps each trigger to its per-unit change in
// (sentiment, fear, greed, herding).
var triggerDeltas = map[string]PsychologyState{
	TriggerEuphoria:    {Sentiment: 0.20, Fear: -0.10, Greed: 0.25, Herding: 0.15},
	TriggerBubbleBurst: {Sentiment: -0.30, Fear: 0.35, Greed: -0.30, Herding: 0.20},
	TriggerMarketCrash: {Sentiment: -0.35, Fear: 0.40, Greed: -0.20, Herding: 0.25},
	TriggerUncertainty: {Sentiment: -0.10, Fear: 0.15, Greed: -0.05, Herding: 0.05},
	TriggerBankPanic:   {Sentiment: -0.25, Fear: 0.30, Greed: -0.10, Herding: 0.30},
}

// psychologyBus holds the aggregate mood shared by every engine.
type psychologyBus struct {
	state    PsychologyState
	decay    float64
	triggers map[string]int
}

func newPsychologyBus(decay float64) *psychologyBus {
	return &psychologyBus{
		state:    neutralPsychology,
		decay:    decay,
		triggers: make(map[string]int),
	}
}

// State returns the current mood.
func (b *psychologyBus) State() PsychologyState { return b.state }

// Trigger applies kind's linear map scaled by magnitude. Unknown kinds are ignored.
func (b *psychologyBus) Trigger(kind string, magnitude float64) {
	d, ok := triggerDeltas[kind]
	if !ok || magnitude <= 0 {
		return
	}
	m := numeric.Clamp01(magnitude)
	b.state.Sentiment = numeric.Clamp01(b.state.Sentiment + d.Sentiment*m)
	b.state.Fear = numeric.Clamp01(b.state.Fear + d.Fear*m)
	b.state.Greed = numeric.Clamp01(b.state.Greed + d.Greed*m)
	b.state.Herding = numeric.Clamp01(b.state.Herding + d.Herding*m)
	b.triggers[kind]++
}

// Decay moves every scalar toward neutral.
func (b *psychologyBus) Decay() {
	r := b.decay
	b.state.Sentiment = numeric.Clamp01(b.state.Sentiment + (neutralPsychology.Sentiment-b.state.Sentiment)*r)
	b.state.Fear = numeric.Clamp01(b.state.Fear + (neutralPsychology.Fear-b.state.Fear)*r)
	b.state.Greed = numeric.Clamp01(b.state.Greed + (neutralPsychology.Greed-b.state.Greed)*r)
	b.state.Herding = numeric.Clamp01(b.state.Herding + (neutralPsychology.Herding-b.state.Herding)*r)
}

// driftAgents pulls each active agent's fear, greed and sentiment toward
// the global mood, scaled by its herding sensitivity.
func (s *Simulation) driftAgents() {
	g := s.psych.State()
	base := s.params.Psychology.DriftRate * g.Herding
	for _, a := range s.world.Agents {
		if !a.Active {
			continue
		}
		k := base * a.Psychology.HerdingSensitivity
		p := &a.Psychology
		p.Fear = numeric.Clamp01(p.Fear + (g.Fear-p.Fear)*k)
		p.Greed = numeric.Clamp01(p.Greed + (g.Greed-p.Greed)*k)
		p.Sentiment = numeric.Clamp01(p.Sentiment + (g.Sentiment-p.Sentiment)*k)
	}
}
