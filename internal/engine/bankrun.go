package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/agents"
	"github.com/talgya/crisis-world/internal/economy"
	"github.com/talgya/crisis-world/internal/numeric"
)

// Bank-run resolutions.
const (
	RunContained  = "contained"
	RunStabilized = "stabilized"
	RunFailure    = "bank_failure"
)

// withdrawal is one queued request against a bank.
type withdrawal struct {
	agent   agents.AgentID
	amount  decimal.Decimal
	urgency float64
	arrival uint64
}

type pendingKey struct {
	agent agents.AgentID
	bank  string
}

// BankRunSummary is the bank-run engine's snapshot summary.
type BankRunSummary struct {
	ActiveRuns  int      `json:"active_runs"`
	Queued      int      `json:"queued_withdrawals"`
	SystemPanic float64  `json:"system_panic"`
	Failed      []string `json:"failed_banks"`
	Resolved    int      `json:"resolved_runs"`
}

type bankRunEngine struct {
	s *Simulation
	p BankRunParams

	panics   map[agents.AgentID]float64
	queues   map[string][]withdrawal
	pending  map[pendingKey]bool
	runs     map[string]*Crisis
	arrivals uint64
	resolved int
}

func newBankRunEngine(s *Simulation) *bankRunEngine {
	e := &bankRunEngine{
		s:       s,
		p:       s.params.BankRun,
		panics:  make(map[agents.AgentID]float64),
		queues:  make(map[string][]withdrawal),
		pending: make(map[pendingKey]bool),
		runs:    make(map[string]*Crisis),
	}
	s.register(CommandForceBankRun, e.forceRun)
	s.cascadeHandlers[CascadeBankRun] = e.cascade
	return e
}

func (e *bankRunEngine) step() {
	w := e.s.world
	g := e.s.psych.State()

	startDeposits := make(map[string]decimal.Decimal, len(w.Banks))
	for _, b := range w.Banks {
		if b.Failed {
			continue
		}
		startDeposits[b.ID] = b.Deposits
		e.assess(b, g)
	}
	for _, b := range w.Banks {
		if !b.Failed {
			e.processQueue(b, startDeposits[b.ID])
		}
	}
	e.updatePanic(g)
	e.spreadInterbank()
	e.detect()
	e.advanceRuns()
}

// assess recomputes a bank's confidence and run risk.
func (e *bankRunEngine) assess(b *economy.Bank, g PsychologyState) {
	target := 0.3*b.Liquidity + 0.2*b.Reserves + 0.2*(1-b.LoanRatio()) +
		0.3*numeric.Clamp01(0.5+(g.Sentiment-g.Fear)/2)
	b.Confidence = numeric.Clamp01(0.9*b.Confidence + 0.1*target)
	b.RunRisk = numeric.Clamp01(0.35*(1-b.Confidence) + 0.3*(1-b.Liquidity) +
		0.2*min(1, 10*b.WithdrawalRate) + 0.15*min(1, float64(len(e.queues[b.ID]))/100))
}

// processQueue serves up to ⌊liquidity·100⌋ withdrawals in queue order.
func (e *bankRunEngine) processQueue(b *economy.Bank, deposits decimal.Decimal) {
	queue := e.queues[b.ID]
	limit := int(b.Liquidity * 100)
	paid := decimal.Zero
	served := 0
	var rest []withdrawal
	for _, wd := range queue {
		a := e.s.world.Agent(wd.agent)
		if a == nil || !a.Active {
			delete(e.pending, pendingKey{wd.agent, b.ID})
			continue
		}
		if served >= limit {
			rest = append(rest, wd)
			continue
		}
		served++
		delete(e.pending, pendingKey{wd.agent, b.ID})
		want := numeric.Scale(wd.amount, min(1, 2*b.Liquidity))
		got := b.Withdraw(wd.agent, want)
		a.Credit(got)
		paid = paid.Add(got)
	}
	e.queues[b.ID] = rest
	b.QueueLength = len(rest)

	frac := numeric.Ratio(paid, deposits)
	b.Liquidity = numeric.Clamp01(b.Liquidity - frac)
	b.WithdrawalRate = numeric.Clamp01(frac)
}

// updatePanic recomputes every agent's panic from the previous tick's
// values and enqueues withdrawals above the threshold.
func (e *bankRunEngine) updatePanic(g PsychologyState) {
	w := e.s.world
	n := len(w.Agents)
	prev := make([]float64, n)
	for i, a := range w.Agents {
		prev[i] = e.panics[a.ID]
	}
	r := e.p.NeighborhoodRadius
	for i, a := range w.Agents {
		if !a.Active {
			continue
		}
		var hood float64
		cnt := 0
		for d := 1; d <= r && d < n; d++ {
			hood += prev[(i+d)%n] + prev[(i-d+n)%n]
			cnt += 2
		}
		if cnt > 0 {
			hood /= float64(cnt)
		}
		risk := 0.0
		bank := w.Bank(a.PreferredBank)
		if bank == nil && a.PreferredBank != "" {
			e.s.lookupMiss(SubsystemBankRun, "bank", a.PreferredBank)
		}
		if bank != nil && !bank.Failed {
			risk = bank.RunRisk
		}
		p := a.Psychology
		target := 0.25*p.Fear + 0.15*(1-p.Confidence) + 0.25*risk +
			0.15*g.Fear + 0.05*(1-g.Sentiment) + 0.15*hood
		alpha := 0.2 * (0.5 + p.PanicSusceptibility)
		level := numeric.Clamp01(((1-alpha)*prev[i] + alpha*target) * (1 - e.p.PanicDecay))
		e.panics[a.ID] = level
		if level > e.p.PanicThreshold && bank != nil && !bank.Failed {
			e.enqueue(bank, a.ID, level)
		}
	}
}

// enqueue adds a withdrawal request unless the agent already has one
// pending at the bank. It reports whether a request was queued.
func (e *bankRunEngine) enqueue(b *economy.Bank, id agents.AgentID, level float64) bool {
	key := pendingKey{id, b.ID}
	if e.pending[key] {
		return false
	}
	deposit := b.DepositOf(id)
	if !deposit.IsPositive() {
		return false
	}
	e.arrivals++
	wd := withdrawal{
		agent:   id,
		amount:  numeric.Scale(deposit, min(1, e.p.WithdrawalLimit*(1+level/2))),
		urgency: level,
		arrival: e.arrivals,
	}
	q := e.queues[b.ID]
	i := sort.Search(len(q), func(i int) bool {
		return q[i].urgency < wd.urgency || (q[i].urgency == wd.urgency && q[i].arrival > wd.arrival)
	})
	q = append(q, withdrawal{})
	copy(q[i+1:], q[i:])
	q[i] = wd
	e.queues[b.ID] = q
	e.pending[key] = true
	b.QueueLength = len(q)
	return true
}

// spreadInterbank lowers neighbor confidence from banks at high run risk.
// Deltas are computed from this tick's risks before any is applied.
func (e *bankRunEngine) spreadInterbank() {
	w := e.s.world
	hits := make(map[string]float64)
	for _, b := range w.Banks {
		if b.Failed || b.RunRisk <= 0.6 {
			continue
		}
		d := 0.2 * b.RunRisk
		if b.SystemicImportant {
			d *= 1.5
		}
		for _, id := range b.Neighbors {
			hits[id] += d
		}
	}
	for _, b := range w.Banks {
		if d, ok := hits[b.ID]; ok && !b.Failed {
			b.Confidence = numeric.Clamp01(b.Confidence - d)
		}
	}
}

func (e *bankRunEngine) systemPanic() float64 {
	var xs []float64
	for _, a := range e.s.world.Agents {
		if a.Active {
			xs = append(xs, e.panics[a.ID])
		}
	}
	return numeric.Mean(xs)
}

func (e *bankRunEngine) detect() {
	sp := e.systemPanic()
	for _, b := range e.s.world.Banks {
		if b.Failed || e.runs[b.ID] != nil {
			continue
		}
		p := 0.3*b.RunRisk + 0.2*(1-b.Confidence) + 0.2*(1-b.Liquidity) +
			0.1*min(1, float64(len(e.queues[b.ID]))/50) + 0.2*sp
		if p > e.p.TriggerThreshold && e.s.rng.Bernoulli(p*0.2) {
			e.startRun(b, p, false)
		}
	}
}

func (e *bankRunEngine) startRun(b *economy.Bank, intensity float64, forced bool) Event {
	c := newCrisis(e.s.ids.Next("crisis"), CrisisBankRun, "", b.ID, intensity, e.p.MaxRunDuration, e.s.tick)
	e.runs[b.ID] = &c
	e.s.psych.Trigger(TriggerBankPanic, c.Intensity*0.5)
	return e.s.emit(Event{
		Kind:        EventBankRunTriggered,
		Category:    SubsystemBankRun,
		Target:      b.ID,
		Description: fmt.Sprintf("bank run on %s (intensity %.2f)", b.ID, c.Intensity),
		Meta: map[string]any{
			"crisis_id":  c.ID,
			"intensity":  c.Intensity,
			"liquidity":  b.Liquidity,
			"confidence": b.Confidence,
			"forced":     forced,
		},
	})
}

func runPhase(duration int) string {
	switch {
	case duration < 3:
		return "initial"
	case duration < 8:
		return "acceleration"
	case duration < 15:
		return "peak"
	default:
		return "resolution"
	}
}

func (e *bankRunEngine) advanceRuns() {
	for _, id := range e.runIDs() {
		c := e.runs[id]
		b := e.s.world.Bank(id)
		if b == nil {
			delete(e.runs, id)
			e.s.lookupMiss(SubsystemBankRun, "bank", id)
			continue
		}
		c.Duration++
		if c.advance(runPhase(c.Duration)) {
			e.s.emit(Event{
				Kind:        EventBankRunPhase,
				Category:    SubsystemBankRun,
				Target:      id,
				Description: fmt.Sprintf("bank run on %s entered %s", id, c.Phase),
				Meta:        map[string]any{"crisis_id": c.ID, "phase": c.Phase, "duration": c.Duration},
			})
		}
		switch {
		case b.Liquidity < 0.1:
			e.fail(b, c)
		case c.Duration >= 3 && len(e.queues[id]) < 5:
			e.resolve(b, c, RunStabilized)
		case c.Duration >= e.p.MaxRunDuration:
			e.resolve(b, c, RunContained)
		}
	}
}

func (e *bankRunEngine) runIDs() []string {
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *bankRunEngine) resolve(b *economy.Bank, c *Crisis, resolution string) Event {
	delete(e.runs, b.ID)
	e.resolved++
	return e.s.emit(Event{
		Kind:        EventBankRunResolved,
		Category:    SubsystemBankRun,
		Target:      b.ID,
		Description: fmt.Sprintf("bank run on %s resolved: %s", b.ID, resolution),
		Meta: map[string]any{
			"crisis_id":  c.ID,
			"resolution": resolution,
			"duration":   c.Duration,
			"intensity":  c.Intensity,
		},
	})
}

// fail collapses a bank and shocks its interbank neighbors.
func (e *bankRunEngine) fail(b *economy.Bank, c *Crisis) {
	b.Liquidity = 0
	b.Confidence = 0
	b.ClearDeposits()
	b.Failed = true
	b.QueueLength = 0
	for _, wd := range e.queues[b.ID] {
		delete(e.pending, pendingKey{wd.agent, b.ID})
	}
	delete(e.queues, b.ID)

	mult := 1.0
	if b.SystemicImportant {
		mult = 1.5
	}
	for _, id := range b.Neighbors {
		n := e.s.world.Bank(id)
		if n == nil {
			e.s.lookupMiss(SubsystemBankRun, "bank", id)
			continue
		}
		if n.Failed {
			continue
		}
		n.Confidence = numeric.Clamp01(n.Confidence - 0.3*mult)
		n.Liquidity = numeric.Clamp01(n.Liquidity - 0.1*mult)
	}
	e.s.psych.Trigger(TriggerMarketCrash, c.Intensity)

	failure := e.s.emit(Event{
		Kind:        EventBankFailure,
		Category:    SubsystemBankRun,
		Target:      b.ID,
		Description: fmt.Sprintf("%s failed after %d ticks of run", b.ID, c.Duration),
		Meta: map[string]any{
			"crisis_id": c.ID,
			"systemic":  b.SystemicImportant,
			"intensity": c.Intensity,
			"neighbors": append([]string(nil), b.Neighbors...),
		},
	})
	e.s.log.Warn("bank failure", "bank", b.ID, "tick", e.s.tick, "systemic", b.SystemicImportant)
	e.resolve(b, c, RunFailure)
	e.s.scheduleCascades(CascadeBankRun, c.Intensity, failure)
}

func (e *bankRunEngine) forceRun(cmd Command) (AdminResult, error) {
	c := cmd.(ForceBankRun)
	b := e.s.world.Bank(c.BankID)
	if b == nil {
		return AdminResult{}, fmt.Errorf("%w: bank %q", ErrUnknownTarget, c.BankID)
	}
	if b.Failed {
		return AdminResult{}, fmt.Errorf("%w: bank %q has failed", ErrInvalidArgument, c.BankID)
	}
	if e.runs[b.ID] != nil {
		return AdminResult{}, fmt.Errorf("%w: run on %q", ErrAlreadyActive, c.BankID)
	}
	ev := e.startRun(b, e.p.ForcedIntensity, true)
	queued := 0
	for _, id := range b.Depositors() {
		a := e.s.world.Agent(id)
		if a == nil || !a.Active {
			continue
		}
		level := max(e.panics[id], e.p.ForcedPanic)
		e.panics[id] = level
		if e.enqueue(b, id, level) {
			queued++
		}
	}
	return AdminResult{
		EventID: ev.ID,
		Message: fmt.Sprintf("run forced on %s, %d withdrawals queued", b.ID, queued),
	}, nil
}

// cascade starts a run on the riskiest bank without one.
func (e *bankRunEngine) cascade(intensity float64) (string, bool) {
	var best *economy.Bank
	for _, b := range e.s.world.Banks {
		if b.Failed || e.runs[b.ID] != nil {
			continue
		}
		if best == nil || b.RunRisk > best.RunRisk {
			best = b
		}
	}
	if best == nil {
		return "", false
	}
	best.Confidence = numeric.Damp(best.Confidence, 0.2*intensity)
	e.startRun(best, intensity, false)
	return best.ID, true
}

func (e *bankRunEngine) active() []Crisis {
	out := make([]Crisis, 0, len(e.runs))
	for _, id := range e.runIDs() {
		out = append(out, *e.runs[id])
	}
	return out
}

func (e *bankRunEngine) summary() BankRunSummary {
	sum := BankRunSummary{
		ActiveRuns:  len(e.runs),
		SystemPanic: e.systemPanic(),
		Failed:      []string{},
		Resolved:    e.resolved,
	}
	for _, b := range e.s.world.Banks {
		sum.Queued += len(e.queues[b.ID])
		if b.Failed {
			sum.Failed = append(sum.Failed, b.ID)
		}
	}
	return sum
}
