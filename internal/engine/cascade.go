package engine

import (
	"fmt"
	"sort"

	"github.com/talgya/crisis-world/internal/numeric"
)

// Cascade sources and targets.
const (
	CascadeBankRun     = "bank_run"
	CascadeBubbleBurst = "bubble_burst"
	CascadeSupplyShock = "supply_shock"
	CascadeCurrency    = "currency_crisis"
	CascadeDebt        = "debt_cascade"
	CascadeWar         = "economic_war"
)

type cascadeRule struct {
	target    string
	threshold float64
}

// cascadeRules maps a source crisis to the follow-ups it may schedule.
var cascadeRules = map[string][]cascadeRule{
	CascadeBankRun:     {{CascadeCurrency, 0.6}, {CascadeDebt, 0.7}},
	CascadeBubbleBurst: {{CascadeBankRun, 0.6}, {CascadeDebt, 0.7}},
	CascadeSupplyShock: {{CascadeCurrency, 0.7}, {CascadeWar, 0.8}},
	CascadeCurrency:    {{CascadeBankRun, 0.6}, {CascadeSupplyShock, 0.7}},
	CascadeDebt:        {{CascadeBankRun, 0.6}, {CascadeCurrency, 0.7}},
}

// PendingCascade is a follow-up crisis waiting for its due tick.
type PendingCascade struct {
	Seq       uint64  `json:"seq"`
	Due       uint64  `json:"due"`
	Scheduled uint64  `json:"scheduled"`
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Intensity float64 `json:"intensity"`
	Origin    string  `json:"origin"`
}

// CascadeSummary is the cascade bus's snapshot summary.
type CascadeSummary struct {
	Pending   []PendingCascade `json:"pending"`
	Scheduled int              `json:"scheduled"`
	Fired     int              `json:"fired"`
	Dropped   int              `json:"dropped"`
}

// cascadeBus is an ordered queue keyed by (due tick, sequence).
type cascadeBus struct {
	queue     []PendingCascade
	seq       uint64
	scheduled int
	fired     int
	dropped   int
}

func (b *cascadeBus) push(p PendingCascade) {
	b.seq++
	p.Seq = b.seq
	i := sort.Search(len(b.queue), func(i int) bool {
		q := b.queue[i]
		return q.Due > p.Due || (q.Due == p.Due && q.Seq > p.Seq)
	})
	b.queue = append(b.queue, PendingCascade{})
	copy(b.queue[i+1:], b.queue[i:])
	b.queue[i] = p
	b.scheduled++
}

// popDue removes and returns every entry due at or before tick, in order.
func (b *cascadeBus) popDue(tick uint64) []PendingCascade {
	n := 0
	for n < len(b.queue) && b.queue[n].Due <= tick {
		n++
	}
	due := append([]PendingCascade(nil), b.queue[:n]...)
	b.queue = b.queue[n:]
	return due
}

func (b *cascadeBus) summary() CascadeSummary {
	return CascadeSummary{
		Pending:   append([]PendingCascade{}, b.queue...),
		Scheduled: b.scheduled,
		Fired:     b.fired,
		Dropped:   b.dropped,
	}
}

// scheduleCascades enqueues the follow-ups of a major event whose intensity
// exceeds each rule's threshold. Follow-ups are always due after the
// current tick.
func (s *Simulation) scheduleCascades(source string, intensity float64, origin Event) {
	p := s.params.Cascade
	for _, rule := range cascadeRules[source] {
		if intensity <= rule.threshold {
			continue
		}
		delay := 1 + s.rng.Intn(p.MaxExtraDelay+1)
		pc := PendingCascade{
			Due:       s.tick + uint64(delay),
			Scheduled: s.tick,
			Source:    source,
			Target:    rule.target,
			Intensity: numeric.Clamp01(intensity * p.FollowUpScale),
			Origin:    origin.ID,
		}
		if len(s.cascade.queue) >= p.Capacity {
			s.cascade.dropped++
			s.emit(Event{
				Kind:        EventCascadeDropped,
				Category:    "cascade",
				Target:      rule.target,
				Description: fmt.Sprintf("cascade queue full, dropped %s follow-up of %s", rule.target, source),
				Meta:        map[string]any{"source": source, "reason": "capacity"},
			})
			continue
		}
		s.cascade.push(pc)
		s.emit(Event{
			Kind:        EventCascadeScheduled,
			Category:    "cascade",
			Target:      rule.target,
			Description: fmt.Sprintf("%s scheduled after %s in %d ticks", rule.target, source, delay),
			Meta: map[string]any{
				"source":    source,
				"due":       pc.Due,
				"intensity": pc.Intensity,
				"origin":    origin.ID,
			},
		})
	}
}

// drainCascades fires every follow-up due at or before the current tick.
func (s *Simulation) drainCascades() {
	for _, pc := range s.cascade.popDue(s.tick) {
		fire, ok := s.cascadeHandlers[pc.Target]
		var target string
		if ok {
			target, ok = fire(pc.Intensity)
		}
		if !ok {
			s.cascade.dropped++
			s.emit(Event{
				Kind:        EventCascadeDropped,
				Category:    "cascade",
				Target:      pc.Target,
				Description: fmt.Sprintf("no eligible target for %s follow-up", pc.Target),
				Meta:        map[string]any{"source": pc.Source, "reason": "no_target"},
			})
			continue
		}
		s.cascade.fired++
		s.emit(Event{
			Kind:        EventCascadeFired,
			Category:    "cascade",
			Target:      target,
			Description: fmt.Sprintf("%s follow-up of %s hit %s", pc.Target, pc.Source, target),
			Meta: map[string]any{
				"source":    pc.Source,
				"cascade":   pc.Target,
				"intensity": pc.Intensity,
				"origin":    pc.Origin,
			},
		})
	}
}
