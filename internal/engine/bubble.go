package engine

import (
	"fmt"
	"sort"

	"github.com/talgya/crisis-world/internal/agents"
	"github.com/talgya/crisis-world/internal/economy"
	"github.com/talgya/crisis-world/internal/numeric"
)

// bubbleType holds the per-kind bubble constants.
type bubbleType struct {
	formationSpeed float64
	burstIntensity float64
	recoveryTicks  int
	maxSize        float64
	maxDuration    int
}

var bubbleTypes = map[economy.MarketKind]bubbleType{
	economy.KindAsset:     {0.02, 0.7, 60, 3.0, 80},
	economy.KindCommodity: {0.025, 0.6, 40, 2.5, 60},
	economy.KindTech:      {0.03, 0.8, 80, 4.0, 100},
	economy.KindCurrency:  {0.02, 0.5, 30, 2.0, 50},
}

var bubblePhaseMultipliers = map[string]float64{
	"formation":   0.5,
	"expansion":   1.0,
	"euphoria":    1.5,
	"instability": 0.2,
}

// momentum is the per-market momentum vector.
type momentum struct {
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	Volatility float64 `json:"volatility"`
	Social     float64 `json:"social"`
}

type marketWatch struct {
	fundamental    float64
	momentum       momentum
	prevVolume     float64
	prevVolatility float64
	cooldown       int
}

type bubble struct {
	Crisis
	typ          bubbleType
	peakPrice    float64
	participants map[agents.AgentID]bool
	burstChance  float64
}

// BubbleStatus describes one active bubble.
type BubbleStatus struct {
	Market       string  `json:"market"`
	Phase        string  `json:"phase"`
	Intensity    float64 `json:"intensity"`
	PeakPrice    float64 `json:"peak_price"`
	Participants int     `json:"participants"`
	BurstChance  float64 `json:"burst_chance"`
}

// BubbleSummary is the bubble engine's snapshot summary.
type BubbleSummary struct {
	Active       []BubbleStatus     `json:"active"`
	Bursts       int                `json:"bursts"`
	Fundamentals map[string]float64 `json:"fundamentals"`
	Cooldowns    map[string]int     `json:"cooldowns"`
}

type bubbleEngine struct {
	s       *Simulation
	p       BubbleParams
	watch   map[string]*marketWatch
	bubbles map[string]*bubble
	bursts  int
}

func newBubbleEngine(s *Simulation) *bubbleEngine {
	e := &bubbleEngine{
		s:       s,
		p:       s.params.Bubble,
		watch:   make(map[string]*marketWatch),
		bubbles: make(map[string]*bubble),
	}
	for _, m := range s.world.Markets {
		e.watch[m.ID] = &marketWatch{
			fundamental:    m.BasePriceF(),
			prevVolume:     m.Volume,
			prevVolatility: m.Volatility,
		}
	}
	s.register(CommandForceBubble, e.forceBubble)
	s.register(CommandForceBubbleBurst, e.forceBurst)
	return e
}

func (e *bubbleEngine) step() {
	g := e.s.psych.State()
	for i, m := range e.s.world.Markets {
		mw := e.watch[m.ID]
		if mw == nil {
			mw = &marketWatch{fundamental: m.BasePriceF(), prevVolume: m.Volume, prevVolatility: m.Volatility}
			e.watch[m.ID] = mw
		}
		e.observe(i, m, mw, g)

		if b := e.bubbles[m.ID]; b != nil {
			e.evolve(m, mw, b, g)
			continue
		}
		if mw.cooldown > 0 {
			mw.cooldown--
		} else if score := e.score(m, mw, g); score > e.p.ScoreThreshold && e.s.rng.Bernoulli(e.p.FormationChance) {
			e.start(m, 0.5*score, false)
			continue
		}
		m.SetPrice(m.PriceF() + (mw.fundamental-m.PriceF())*e.p.ReversionRate)
	}
}

// observe updates the fundamental value and momentum vector.
func (e *bubbleEngine) observe(track int, m *economy.Market, mw *marketWatch, g PsychologyState) {
	cond := e.s.world.Conditions.At(track, e.s.tick)
	value := m.BasePriceF() * m.SupplyRatio() * m.Utility * cond
	mw.fundamental = numeric.EMA(mw.fundamental, value, e.p.FundamentalRate)

	past := m.History.Back(4, m.PriceF())
	if past > 0 {
		mw.momentum.Price = (m.PriceF() - past) / past
	}
	if mw.prevVolume > 0 {
		mw.momentum.Volume = (m.Volume - mw.prevVolume) / mw.prevVolume
	}
	mw.momentum.Volatility = m.Volatility - mw.prevVolatility
	_, meanGreed, _ := e.traderStats(m)
	mw.momentum.Social = g.Herding * meanGreed
	mw.prevVolume = m.Volume
	mw.prevVolatility = m.Volatility
}

// traderStats returns the speculator ratio, mean greed and mean leverage of
// the active agents trading in m.
func (e *bubbleEngine) traderStats(m *economy.Market) (speculators, greed, leverage float64) {
	n := 0
	for _, a := range e.s.world.Agents {
		if !a.Active || !a.TradesIn(m.ID) {
			continue
		}
		n++
		if a.Psychology.Greed > 0.7 {
			speculators++
		}
		greed += a.Psychology.Greed
		leverage += a.Leverage
	}
	if n == 0 {
		return 0, 0, 1
	}
	return speculators / float64(n), greed / float64(n), leverage / float64(n)
}

func (e *bubbleEngine) deviation(m *economy.Market, mw *marketWatch) float64 {
	if mw.fundamental <= 0 {
		return 1
	}
	return m.PriceF() / mw.fundamental
}

func (e *bubbleEngine) score(m *economy.Market, mw *marketWatch, g PsychologyState) float64 {
	spec, greed, _ := e.traderStats(m)
	dev := e.deviation(m, mw)
	return 0.3*numeric.Clamp01(dev-1.5) +
		0.2*numeric.Clamp01(10*mw.momentum.Price) +
		0.15*spec +
		0.15*greed +
		0.1*numeric.Clamp01(mw.momentum.Social) +
		0.1*numeric.Clamp01((g.Greed-0.7)/0.3)
}

func (e *bubbleEngine) start(m *economy.Market, intensity float64, forced bool) Event {
	typ, ok := bubbleTypes[m.Kind]
	if !ok {
		typ = bubbleTypes[economy.KindAsset]
	}
	b := &bubble{
		Crisis:       newCrisis(e.s.ids.Next("crisis"), CrisisBubble, string(m.Kind), m.ID, intensity, typ.maxDuration, e.s.tick),
		typ:          typ,
		peakPrice:    m.PriceF(),
		participants: make(map[agents.AgentID]bool),
	}
	e.bubbles[m.ID] = b
	return e.s.emit(Event{
		Kind:        EventBubbleFormed,
		Category:    SubsystemBubble,
		Target:      m.ID,
		Description: fmt.Sprintf("%s bubble forming in %s (intensity %.2f)", m.Kind, m.ID, b.Intensity),
		Meta: map[string]any{
			"crisis_id": b.ID,
			"intensity": b.Intensity,
			"price":     m.PriceF(),
			"forced":    forced,
		},
	})
}

// burstTerms returns the size, duration and leverage excess terms.
func (e *bubbleEngine) burstTerms(m *economy.Market, mw *marketWatch, b *bubble) (size, duration, leverage float64) {
	_, _, lev := e.traderStats(m)
	size = max(0, e.deviation(m, mw)/b.typ.maxSize-0.5)
	duration = max(0, float64(b.Duration)/float64(b.typ.maxDuration)-0.5)
	leverage = 0.2 * numeric.Clamp01((lev-1)/4)
	return size, duration, leverage
}

func (e *bubbleEngine) rawBurstChance(m *economy.Market, mw *marketWatch, b *bubble, g PsychologyState) float64 {
	size, duration, leverage := e.burstTerms(m, mw, b)
	return 0.2*size + 0.2*duration + 0.05*b.Intensity + 0.05*m.Volatility +
		0.25*leverage + 0.02*(1-m.Liquidity) + 0.1*max(0, g.Fear-0.5)
}

func (e *bubbleEngine) evolve(m *economy.Market, mw *marketWatch, b *bubble, g PsychologyState) {
	b.Duration++
	raw := e.rawBurstChance(m, mw, b, g)
	b.burstChance = min(e.p.MaxBurstChance, raw)

	dev := e.deviation(m, mw)
	var phase string
	switch {
	case raw > 0.1 || b.Duration > 50 || dev > b.typ.maxSize:
		phase = "instability"
	case b.Duration < 10:
		phase = "formation"
	case dev < 2 && b.Duration < 30:
		phase = "expansion"
	default:
		phase = "euphoria"
	}
	if b.advance(phase) {
		e.s.emit(Event{
			Kind:        EventBubblePhase,
			Category:    SubsystemBubble,
			Target:      m.ID,
			Description: fmt.Sprintf("%s bubble entered %s", m.ID, b.Phase),
			Meta:        map[string]any{"crisis_id": b.ID, "phase": b.Phase, "deviation": dev},
		})
	}

	i := b.Intensity
	mult := bubblePhaseMultipliers[b.Phase]
	m.ScalePrice(1 + i*mult*b.typ.formationSpeed)
	m.Volatility = numeric.Compose(m.Volatility, 0.01*i)
	m.Volume *= 1 + 0.05*i

	push := e.p.HerdPush * i * mult
	for _, a := range e.s.world.Agents {
		if !a.Active || !a.TradesIn(m.ID) {
			continue
		}
		p := &a.Psychology
		p.Greed = numeric.Clamp01(p.Greed + push*p.HerdingSensitivity)
		if p.Greed > 0.7 {
			b.participants[a.ID] = true
		}
		if b.participants[a.ID] {
			p.Greed = numeric.Clamp01(p.Greed + 0.01*i)
			p.Confidence = numeric.Clamp01(p.Confidence + 0.005*i)
			p.Fear = numeric.Clamp01(p.Fear - 0.01*i)
		}
	}

	if b.Phase == "instability" {
		b.setIntensity(b.Intensity - 0.01)
	} else {
		b.setIntensity(b.Intensity + 0.005)
	}
	if b.Phase == "euphoria" {
		e.s.psych.Trigger(TriggerEuphoria, 0.05*b.Intensity)
	}
	b.peakPrice = max(b.peakPrice, m.PriceF())

	switch {
	case b.Duration > b.typ.maxDuration:
		e.burst(m, mw, b, false)
	case b.Phase == "instability" && e.s.rng.Bernoulli(b.burstChance):
		e.burst(m, mw, b, false)
	}
}

func (e *bubbleEngine) traders(m *economy.Market) int {
	n := 0
	for _, a := range e.s.world.Agents {
		if a.Active && a.TradesIn(m.ID) {
			n++
		}
	}
	return n
}

func (e *bubbleEngine) burst(m *economy.Market, mw *marketWatch, b *bubble, forced bool) Event {
	size, duration, leverage := e.burstTerms(m, mw, b)
	ratio := 0.0
	if n := e.traders(m); n > 0 {
		ratio = float64(len(b.participants)) / float64(n)
	}
	severity := numeric.Clamp01(0.3 + size + duration + leverage + ratio)

	m.ScalePrice(max(0.1, 1-severity*b.typ.burstIntensity))
	m.Volatility = numeric.Compose(m.Volatility, 0.5*severity)
	m.Liquidity = numeric.Clamp01(m.Liquidity * (1 - 0.4*severity))
	loss := 1 - 0.5*severity*b.typ.burstIntensity
	for _, id := range e.participantIDs(b) {
		if a := e.s.world.Agent(id); a != nil {
			a.ScaleWealth(loss)
		}
	}

	delete(e.bubbles, m.ID)
	mw.cooldown = b.typ.recoveryTicks
	e.bursts++
	e.s.psych.Trigger(TriggerBubbleBurst, severity)

	ev := e.s.emit(Event{
		Kind:        EventBubbleBurst,
		Category:    SubsystemBubble,
		Target:      m.ID,
		Description: fmt.Sprintf("%s bubble burst (severity %.2f)", m.ID, severity),
		Meta: map[string]any{
			"crisis_id":      b.ID,
			"burst_severity": severity,
			"peak_price":     b.peakPrice,
			"price":          m.PriceF(),
			"participants":   len(b.participants),
			"duration":       b.Duration,
			"forced":         forced,
		},
	})
	e.s.log.Info("bubble burst", "market", m.ID, "severity", severity, "peak", b.peakPrice, "tick", e.s.tick)
	if severity > 0.7 {
		e.s.scheduleCascades(CascadeBubbleBurst, severity, ev)
	}
	return ev
}

func (e *bubbleEngine) participantIDs(b *bubble) []agents.AgentID {
	ids := make([]agents.AgentID, 0, len(b.participants))
	for id := range b.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *bubbleEngine) forceBubble(cmd Command) (AdminResult, error) {
	c := cmd.(ForceBubble)
	m := e.s.world.Market(c.MarketID)
	if m == nil {
		return AdminResult{}, fmt.Errorf("%w: market %q", ErrUnknownTarget, c.MarketID)
	}
	if err := checkUnit("intensity", c.Intensity); err != nil {
		return AdminResult{}, err
	}
	if e.bubbles[m.ID] != nil {
		return AdminResult{}, fmt.Errorf("%w: bubble in %q", ErrAlreadyActive, m.ID)
	}
	ev := e.start(m, c.Intensity, true)
	return AdminResult{EventID: ev.ID, Message: "bubble forced in " + m.ID}, nil
}

func (e *bubbleEngine) forceBurst(cmd Command) (AdminResult, error) {
	c := cmd.(ForceBubbleBurst)
	m := e.s.world.Market(c.MarketID)
	if m == nil {
		return AdminResult{}, fmt.Errorf("%w: market %q", ErrUnknownTarget, c.MarketID)
	}
	b := e.bubbles[m.ID]
	if b == nil {
		return AdminResult{}, fmt.Errorf("%w: no bubble in %q", ErrNotActive, m.ID)
	}
	ev := e.burst(m, e.watch[m.ID], b, true)
	return AdminResult{EventID: ev.ID, Message: "bubble burst in " + m.ID}, nil
}

func (e *bubbleEngine) marketIDs() []string {
	ids := make([]string, 0, len(e.bubbles))
	for id := range e.bubbles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *bubbleEngine) active() []Crisis {
	out := make([]Crisis, 0, len(e.bubbles))
	for _, id := range e.marketIDs() {
		out = append(out, e.bubbles[id].Crisis)
	}
	return out
}

func (e *bubbleEngine) summary() BubbleSummary {
	sum := BubbleSummary{
		Active:       []BubbleStatus{},
		Bursts:       e.bursts,
		Fundamentals: make(map[string]float64, len(e.watch)),
		Cooldowns:    make(map[string]int),
	}
	for _, id := range e.marketIDs() {
		b := e.bubbles[id]
		sum.Active = append(sum.Active, BubbleStatus{
			Market:       id,
			Phase:        b.Phase,
			Intensity:    b.Intensity,
			PeakPrice:    b.peakPrice,
			Participants: len(b.participants),
			BurstChance:  b.burstChance,
		})
	}
	for _, m := range e.s.world.Markets {
		if mw := e.watch[m.ID]; mw != nil {
			sum.Fundamentals[m.ID] = mw.fundamental
			if mw.cooldown > 0 {
				sum.Cooldowns[m.ID] = mw.cooldown
			}
		}
	}
	return sum
}
