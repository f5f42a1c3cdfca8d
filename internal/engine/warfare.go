package engine

import (
	"fmt"
	"sort"

	"github.com/talgya/crisis-world/internal/economy"
	"github.com/talgya/crisis-world/internal/numeric"
	"github.com/talgya/crisis-world/internal/social"
)

// Economic-war kinds and their weapons.
const (
	WarTrade     = "trade_war"
	WarSanctions = "sanctions_war"
	WarCurrency  = "currency_war"
	WarResource  = "resource_war"
)

var warKinds = []string{WarCurrency, WarResource, WarSanctions, WarTrade}

var warWeapons = map[string]string{
	WarTrade:     "tariffs",
	WarSanctions: "sanctions",
	WarCurrency:  "manipulation",
	WarResource:  "embargo",
}

type war struct {
	Crisis
	attacker string
	defender string
}

// Sanction is an active sanction of one faction on another.
type Sanction struct {
	ID        string  `json:"id"`
	Imposer   string  `json:"imposer"`
	Target    string  `json:"target"`
	Intensity float64 `json:"intensity"`
	Duration  int     `json:"duration"`
}

// Manipulation is an active market manipulation.
type Manipulation struct {
	ID        string  `json:"id"`
	Market    string  `json:"market"`
	Faction   string  `json:"faction"`
	War       string  `json:"war,omitempty"`
	Intensity float64 `json:"intensity"`
}

// WarStatus describes one active economic war.
type WarStatus struct {
	Attacker  string  `json:"attacker"`
	Defender  string  `json:"defender"`
	Kind      string  `json:"kind"`
	Weapon    string  `json:"weapon"`
	Phase     string  `json:"phase"`
	Intensity float64 `json:"intensity"`
}

// WarfareSummary is the warfare engine's snapshot summary.
type WarfareSummary struct {
	Wars          []WarStatus        `json:"wars"`
	Sanctions     []Sanction         `json:"sanctions"`
	Manipulations []Manipulation     `json:"manipulations"`
	Tension       map[string]float64 `json:"tension"`
	Ended         int                `json:"ended"`
}

type warfareEngine struct {
	s             *Simulation
	p             WarfareParams
	wars          map[string]*war
	sanctions     map[string]*Sanction
	manipulations []*Manipulation
	tension       map[string]float64
	ended         int
}

func newWarfareEngine(s *Simulation) *warfareEngine {
	e := &warfareEngine{
		s:         s,
		p:         s.params.Warfare,
		wars:      make(map[string]*war),
		sanctions: make(map[string]*Sanction),
		tension:   make(map[string]float64),
	}
	s.register(CommandForceEconomicWar, e.forceWar)
	s.register(CommandForceSanction, e.forceSanction)
	s.cascadeHandlers[CascadeWar] = e.cascade
	return e
}

// pairKey orders two faction ids lexicographically.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

type factionPair struct {
	a, b   *social.Faction
	ab, ba *social.Relationship
}

// pairs lists every related faction pair with a < b.
func (e *warfareEngine) pairs() []factionPair {
	var out []factionPair
	for _, a := range e.s.world.Factions {
		for _, id := range a.Partners() {
			if id <= a.ID {
				continue
			}
			b := e.s.world.Faction(id)
			if b == nil {
				e.s.lookupMiss(SubsystemWarfare, "faction", id)
				continue
			}
			ba := b.Relation(a.ID)
			if ba == nil {
				continue
			}
			out = append(out, factionPair{a: a, b: b, ab: a.Relation(id), ba: ba})
		}
	}
	return out
}

func (e *warfareEngine) atWar(id string) bool {
	for _, w := range e.wars {
		if w.attacker == id || w.defender == id {
			return true
		}
	}
	return false
}

func (e *warfareEngine) step() {
	systemic := e.s.systemicRisk()
	scarcity := e.s.world.MeanScarcity()
	for _, fp := range e.pairs() {
		key := pairKey(fp.a.ID, fp.b.ID)
		trust := (fp.ab.Trust + fp.ba.Trust) / 2
		tension := numeric.Clamp01(0.5*(1-trust) + 0.3*systemic + 0.2*scarcity)
		fp.ab.Tension, fp.ba.Tension = tension, tension
		e.tension[key] = tension
		if e.wars[key] != nil {
			continue
		}
		for _, r := range []*social.Relationship{fp.ab, fp.ba} {
			r.Trust = numeric.EMA(r.Trust, 0.5, 0.01)
			r.TradeVolume += (r.BaseTradeVolume - r.TradeVolume) * 0.02
		}
		if tension > e.p.TensionThreshold && e.s.rng.Bernoulli(0.05*tension) {
			kind := warKinds[e.s.rng.Intn(len(warKinds))]
			e.declare(fp.a, fp.b, kind, tension, false)
		}
	}
	for _, f := range e.s.world.Factions {
		if e.atWar(f.ID) {
			continue
		}
		f.Reputation = numeric.EMA(f.Reputation, 0.5, 0.01)
		f.WarExhaustion = max(0, f.WarExhaustion-0.01)
	}
	for _, key := range sortedKeys(e.wars) {
		e.wage(key)
	}
	for _, key := range sortedKeys(e.sanctions) {
		e.applySanction(key)
	}
	e.manipulate()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *warfareEngine) declare(a, b *social.Faction, kind string, intensity float64, forced bool) Event {
	attacker, defender := a, b
	if b.EconomicStrength > a.EconomicStrength {
		attacker, defender = b, a
	}
	key := pairKey(a.ID, b.ID)
	duration := e.s.rng.IntRange(e.p.MinDuration, e.p.MaxDuration)
	w := &war{
		Crisis:   newCrisis(e.s.ids.Next("crisis"), CrisisWarfare, kind, key, intensity, duration, e.s.tick),
		attacker: attacker.ID,
		defender: defender.ID,
	}
	e.wars[key] = w
	e.s.psych.Trigger(TriggerUncertainty, w.Intensity*0.3)
	e.s.world.Uncertainty = numeric.Compose(e.s.world.Uncertainty, 0.05*w.Intensity)

	switch kind {
	case WarSanctions:
		sk := attacker.ID + ">" + defender.ID
		if e.sanctions[sk] == nil {
			e.impose(attacker.ID, defender.ID, w.Intensity)
		}
	case WarCurrency:
		if m := e.manipulationTarget(); m != nil {
			e.manipulations = append(e.manipulations, &Manipulation{
				ID:        e.s.ids.Next("crisis"),
				Market:    m.ID,
				Faction:   attacker.ID,
				War:       w.ID,
				Intensity: w.Intensity,
			})
			e.s.emit(Event{
				Kind:        EventManipulation,
				Category:    SubsystemWarfare,
				Target:      m.ID,
				Description: fmt.Sprintf("%s manipulating %s", attacker.ID, m.ID),
				Meta:        map[string]any{"faction": attacker.ID, "intensity": w.Intensity, "war": w.ID},
			})
		}
	}

	e.s.log.Info("economic war declared", "attacker", attacker.ID, "defender", defender.ID, "kind", kind)
	return e.s.emit(Event{
		Kind:        EventWarDeclared,
		Category:    SubsystemWarfare,
		Target:      key,
		Description: fmt.Sprintf("%s declared %s on %s", attacker.ID, kind, defender.ID),
		Meta: map[string]any{
			"crisis_id": w.ID,
			"attacker":  attacker.ID,
			"defender":  defender.ID,
			"kind":      kind,
			"weapon":    warWeapons[kind],
			"intensity": w.Intensity,
			"duration":  duration,
			"forced":    forced,
		},
	})
}

// manipulationTarget picks the first currency market, else the first asset market.
func (e *warfareEngine) manipulationTarget() *economy.Market {
	if ms := e.s.world.MarketsOfKind(economy.KindCurrency); len(ms) > 0 {
		return ms[0]
	}
	if ms := e.s.world.MarketsOfKind(economy.KindAsset); len(ms) > 0 {
		return ms[0]
	}
	return nil
}

func (e *warfareEngine) wage(key string) {
	w := e.wars[key]
	att, def := e.s.world.Faction(w.attacker), e.s.world.Faction(w.defender)
	if att == nil || def == nil {
		delete(e.wars, key)
		e.s.lookupMiss(SubsystemWarfare, "faction", key)
		return
	}
	w.Duration++
	w.advance(fractionPhase(CrisisWarfare, w.Duration, w.PlannedDuration))
	i := w.Intensity
	k := i * phaseMultipliers[w.Phase]

	def.Resources = numeric.Clamp01(def.Resources - 0.01*k)
	att.Resources = numeric.Clamp01(att.Resources - 0.005*i)
	att.WarExhaustion = numeric.Clamp01(att.WarExhaustion + 0.01*i)
	def.WarExhaustion = numeric.Clamp01(def.WarExhaustion + 0.01*i)
	for _, r := range []*social.Relationship{att.Relation(def.ID), def.Relation(att.ID)} {
		if r == nil {
			continue
		}
		r.Trust = numeric.Clamp01(r.Trust - 0.01)
		r.TradeVolume = max(0, r.TradeVolume*(1-0.02*i))
	}
	if w.Subtype == WarResource {
		for _, m := range e.s.world.MarketsOfKind(economy.KindCommodity) {
			m.ScaleSupply(1 - 0.005*k)
		}
	}

	if w.Duration >= w.PlannedDuration || max(att.WarExhaustion, def.WarExhaustion) >= e.p.MaxExhaustion {
		e.endWar(key, w)
	}
}

func (e *warfareEngine) endWar(key string, w *war) {
	delete(e.wars, key)
	e.ended++
	kept := e.manipulations[:0]
	for _, m := range e.manipulations {
		if m.War != w.ID {
			kept = append(kept, m)
		}
	}
	e.manipulations = kept
	e.s.emit(Event{
		Kind:        EventWarEnded,
		Category:    SubsystemWarfare,
		Target:      key,
		Description: fmt.Sprintf("%s between %s and %s ended", w.Subtype, w.attacker, w.defender),
		Meta:        map[string]any{"crisis_id": w.ID, "duration": w.Duration},
	})
}

func (e *warfareEngine) impose(imposer, target string, intensity float64) Event {
	sk := imposer + ">" + target
	sc := &Sanction{ID: e.s.ids.Next("crisis"), Imposer: imposer, Target: target, Intensity: numeric.Clamp01(intensity)}
	e.sanctions[sk] = sc
	return e.s.emit(Event{
		Kind:        EventSanction,
		Category:    SubsystemWarfare,
		Target:      target,
		Description: fmt.Sprintf("%s sanctioned %s (intensity %.2f)", imposer, target, sc.Intensity),
		Meta:        map[string]any{"imposer": imposer, "intensity": sc.Intensity, "sanction_id": sc.ID},
	})
}

func (e *warfareEngine) applySanction(key string) {
	sc := e.sanctions[key]
	tgt := e.s.world.Faction(sc.Target)
	if tgt == nil {
		delete(e.sanctions, key)
		e.s.lookupMiss(SubsystemWarfare, "faction", sc.Target)
		return
	}
	sc.Duration++
	tgt.Resources = numeric.Clamp01(tgt.Resources - 0.005*sc.Intensity)
	if imp := e.s.world.Faction(sc.Imposer); imp != nil {
		for _, r := range []*social.Relationship{imp.Relation(tgt.ID), tgt.Relation(imp.ID)} {
			if r != nil {
				r.TradeVolume = max(0, r.TradeVolume*(1-0.03*sc.Intensity))
			}
		}
	}
	sc.Intensity *= 0.98
	if sc.Intensity < 0.05 || sc.Duration >= e.p.SanctionDuration {
		delete(e.sanctions, key)
		e.s.emit(Event{
			Kind:        EventSanctionLifted,
			Category:    SubsystemWarfare,
			Target:      sc.Target,
			Description: fmt.Sprintf("%s lifted sanctions on %s", sc.Imposer, sc.Target),
			Meta:        map[string]any{"imposer": sc.Imposer, "duration": sc.Duration, "sanction_id": sc.ID},
		})
	}
}

func (e *warfareEngine) manipulate() {
	kept := e.manipulations[:0]
	for _, mp := range e.manipulations {
		if mp.Intensity < 0.05 {
			continue
		}
		if m := e.s.world.Market(mp.Market); m != nil {
			m.Volatility = numeric.Compose(m.Volatility, 0.02*mp.Intensity)
		}
		kept = append(kept, mp)
	}
	e.manipulations = kept
}

// dampManipulations scales every manipulation's intensity by f.
func (e *warfareEngine) dampManipulations(f float64) int {
	for _, mp := range e.manipulations {
		mp.Intensity = numeric.Clamp01(mp.Intensity * f)
	}
	return len(e.manipulations)
}

func (e *warfareEngine) forceWar(cmd Command) (AdminResult, error) {
	c := cmd.(ForceEconomicWar)
	if c.FactionA == c.FactionB {
		return AdminResult{}, fmt.Errorf("%w: a faction cannot war with itself", ErrInvalidArgument)
	}
	a, b := e.s.world.Faction(c.FactionA), e.s.world.Faction(c.FactionB)
	if a == nil || b == nil {
		return AdminResult{}, fmt.Errorf("%w: factions %q, %q", ErrUnknownTarget, c.FactionA, c.FactionB)
	}
	kind := c.WarKind
	if kind == "" {
		kind = WarTrade
	}
	if _, ok := warWeapons[kind]; !ok {
		return AdminResult{}, fmt.Errorf("%w: war kind %q", ErrInvalidArgument, c.WarKind)
	}
	if e.wars[pairKey(a.ID, b.ID)] != nil {
		return AdminResult{}, fmt.Errorf("%w: war between %q and %q", ErrAlreadyActive, a.ID, b.ID)
	}
	if a.ID > b.ID {
		a, b = b, a
	}
	ev := e.declare(a, b, kind, e.p.ForcedIntensity, true)
	return AdminResult{EventID: ev.ID, Message: fmt.Sprintf("%s forced between %s and %s", kind, a.ID, b.ID)}, nil
}

func (e *warfareEngine) forceSanction(cmd Command) (AdminResult, error) {
	c := cmd.(ForceSanction)
	if c.Imposer == c.Target {
		return AdminResult{}, fmt.Errorf("%w: a faction cannot sanction itself", ErrInvalidArgument)
	}
	if e.s.world.Faction(c.Imposer) == nil || e.s.world.Faction(c.Target) == nil {
		return AdminResult{}, fmt.Errorf("%w: factions %q, %q", ErrUnknownTarget, c.Imposer, c.Target)
	}
	if err := checkUnit("intensity", c.Intensity); err != nil {
		return AdminResult{}, err
	}
	if e.sanctions[c.Imposer+">"+c.Target] != nil {
		return AdminResult{}, fmt.Errorf("%w: %q already sanctions %q", ErrAlreadyActive, c.Imposer, c.Target)
	}
	ev := e.impose(c.Imposer, c.Target, c.Intensity)
	return AdminResult{EventID: ev.ID, Message: fmt.Sprintf("%s sanctioned %s", c.Imposer, c.Target)}, nil
}

// cascade starts a trade war between the least trusting pair at peace.
func (e *warfareEngine) cascade(intensity float64) (string, bool) {
	pairs := e.pairs()
	best := -1
	bestTrust := 2.0
	for i, fp := range pairs {
		if e.wars[pairKey(fp.a.ID, fp.b.ID)] != nil {
			continue
		}
		if t := (fp.ab.Trust + fp.ba.Trust) / 2; t < bestTrust {
			best, bestTrust = i, t
		}
	}
	if best < 0 {
		return "", false
	}
	fp := pairs[best]
	e.declare(fp.a, fp.b, WarTrade, intensity, false)
	return pairKey(fp.a.ID, fp.b.ID), true
}

func (e *warfareEngine) active() []Crisis {
	out := make([]Crisis, 0, len(e.wars))
	for _, key := range sortedKeys(e.wars) {
		out = append(out, e.wars[key].Crisis)
	}
	return out
}

func (e *warfareEngine) summary() WarfareSummary {
	sum := WarfareSummary{
		Wars:          []WarStatus{},
		Sanctions:     []Sanction{},
		Manipulations: []Manipulation{},
		Tension:       make(map[string]float64, len(e.tension)),
		Ended:         e.ended,
	}
	for _, key := range sortedKeys(e.wars) {
		w := e.wars[key]
		sum.Wars = append(sum.Wars, WarStatus{
			Attacker:  w.attacker,
			Defender:  w.defender,
			Kind:      w.Subtype,
			Weapon:    warWeapons[w.Subtype],
			Phase:     w.Phase,
			Intensity: w.Intensity,
		})
	}
	for _, key := range sortedKeys(e.sanctions) {
		sum.Sanctions = append(sum.Sanctions, *e.sanctions[key])
	}
	for _, mp := range e.manipulations {
		sum.Manipulations = append(sum.Manipulations, *mp)
	}
	for k, v := range e.tension {
		sum.Tension[k] = v
	}
	return sum
}
