// Agent spawning: the initial population with wealth, leverage,
// psychology and market participation.
package agents

import (
	"math"
	"math/rand"

	"github.com/talgya/crisis-world/internal/numeric"
)

// Spawner creates agents deterministically from a seed.
type Spawner struct {
	rng    *rand.Rand
	nextID AgentID
}

// NewSpawner creates a spawner seeded for reproducible populations.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed)),
		nextID: 1,
	}
}

// SpawnPopulation creates n agents trading in a subset of markets.
// Market participation is 1–3 markets per agent, drawn in id order.
func (s *Spawner) SpawnPopulation(n int, marketIDs []string) []*Agent {
	out := make([]*Agent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.spawn(marketIDs))
	}
	return out
}

func (s *Spawner) spawn(marketIDs []string) *Agent {
	id := s.nextID
	s.nextID++

	// Log-normal wealth, median ~10k.
	wealth := math.Exp(9.2 + s.rng.NormFloat64()*0.8)

	psych := Psychology{
		Fear:                numeric.Clamp01(0.15 + s.rng.Float64()*0.2),
		Greed:               numeric.Clamp01(0.2 + s.rng.Float64()*0.6),
		Confidence:          numeric.Clamp01(0.5 + s.rng.Float64()*0.3),
		RiskTolerance:       numeric.Clamp(20+s.rng.Float64()*60, 0, 100),
		PanicSusceptibility: s.rng.Float64(),
		MemoryRetention:     0.3 + s.rng.Float64()*0.6,
		Experience:          s.rng.Float64(),
		HerdingSensitivity:  0.2 + s.rng.Float64()*0.6,
		Sentiment:           numeric.Clamp01(0.4 + s.rng.Float64()*0.2),
	}

	var actions []string
	if len(marketIDs) > 0 {
		count := 1 + s.rng.Intn(3)
		if count > len(marketIDs) {
			count = len(marketIDs)
		}
		perm := s.rng.Perm(len(marketIDs))[:count]
		chosen := make(map[int]bool, count)
		for _, p := range perm {
			chosen[p] = true
		}
		for i, m := range marketIDs {
			if chosen[i] {
				actions = append(actions, m)
			}
		}
	}

	return &Agent{
		ID:             id,
		Active:         true,
		Wealth:         numeric.Money(math.Round(wealth*100) / 100),
		Leverage:       1 + s.rng.Float64()*s.rng.Float64()*3,
		PendingActions: actions,
		Psychology:     psych,
	}
}
