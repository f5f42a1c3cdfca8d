// Package scenario runs scripted, seeded crisis scenarios against a fresh
// simulation and checks their expected outcomes.
package scenario

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/talgya/crisis-world/internal/engine"
	"github.com/talgya/crisis-world/internal/world"
)

// DefaultSeed is the seed the scenarios are calibrated against.
const DefaultSeed = 42

// Options configures a scenario run.
type Options struct {
	Seed   int64
	Params engine.Params // zero value uses engine.DefaultParams
	Logger *slog.Logger  // nil discards
	Clock  func() time.Time
}

// Check is one expected outcome.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Seed        int64           `json:"seed"`
	Ticks       int             `json:"ticks"`
	Checks      []Check         `json:"checks"`
	Events      []engine.Event  `json:"events"`
	Final       engine.Snapshot `json:"final"`
}

// Passed reports whether every check held.
func (r Result) Passed() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func (r *Result) check(name string, ok bool, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, OK: ok, Detail: fmt.Sprintf(format, args...)})
}

// Scenario is a named scripted run.
type Scenario struct {
	Name        string
	Description string
	run         func(Options) (Result, error)
}

var registry = []Scenario{
	{"bank_run_cascade", "forced run on a weak bank; failure schedules a currency crisis", bankRunCascade},
	{"bubble_burst", "forced technology bubble traverses every phase and bursts", bubbleBurst},
	{"intervention", "pinned systemic risk launches a costed intervention", intervention},
	{"supply_cascade", "energy shortage propagates to consuming markets", supplyCascade},
	{"alert_pipeline", "pinned systemic risk raises one composite alert and early warning", alertPipeline},
	{"determinism", "two runs with the same seed produce identical logs and snapshots", determinism},
}

// All lists the scenarios in run order.
func All() []Scenario { return slices.Clone(registry) }

// Names lists the scenario names.
func Names() []string {
	out := make([]string, len(registry))
	for i, s := range registry {
		out[i] = s.Name
	}
	return out
}

// Run executes the named scenario.
func Run(name string, opts Options) (Result, error) {
	for _, s := range registry {
		if s.Name == name {
			return s.Run(opts)
		}
	}
	return Result{}, fmt.Errorf("unknown scenario %q", name)
}

// Run executes the scenario.
func (s Scenario) Run(opts Options) (Result, error) {
	res, err := s.run(opts)
	if err != nil {
		return res, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	res.Name = s.Name
	res.Description = s.Description
	res.Seed = opts.Seed
	return res, nil
}

func newSim(opts Options, agentCount int, mutate func(*world.GenConfig)) (*engine.Simulation, error) {
	cfg := world.DefaultGenConfig(opts.Seed, agentCount)
	if mutate != nil {
		mutate(&cfg)
	}
	params := opts.Params
	if params.Cascade.Capacity == 0 {
		params = engine.DefaultParams()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return engine.New(engine.Options{
		Seed:   opts.Seed,
		Agents: agentCount,
		Params: params,
		World:  &cfg,
		Logger: logger,
		Clock:  opts.Clock,
	})
}

// drive ticks sim n times and fills the result's log and final snapshot.
func drive(sim *engine.Simulation, n int, res *Result) {
	for i := 0; i < n; i++ {
		res.Final = sim.Tick(1)
	}
	res.Ticks += n
	res.Events = sim.Events()
}

func weakBank(c *world.GenConfig) {
	b := c.Bank("commercial_bank_1")
	b.Depositors = 60
	b.Liquidity = 0.3
	b.Confidence = 0.4
}

func bankRunCascade(opts Options) (Result, error) {
	var res Result
	sim, err := newSim(opts, 500, weakBank)
	if err != nil {
		return res, err
	}
	if _, err := sim.Admin(engine.ForceBankRun{BankID: "commercial_bank_1"}); err != nil {
		return res, err
	}
	drive(sim, 50, &res)

	var triggered, resolved *engine.Event
	for i, e := range res.Events {
		if e.Target != "commercial_bank_1" {
			continue
		}
		switch {
		case e.Kind == engine.EventBankRunTriggered && triggered == nil:
			triggered = &res.Events[i]
		case e.Kind == engine.EventBankRunResolved && resolved == nil:
			resolved = &res.Events[i]
		}
	}
	res.check("run triggered within 10 ticks", triggered != nil && triggered.Tick <= 10, "%s", tickOf(triggered))
	res.check("run resolved within 40 ticks", resolved != nil && resolved.Tick <= 40, "%s", tickOf(resolved))
	if resolved == nil {
		return res, nil
	}

	resolution, _ := resolved.Meta["resolution"].(string)
	if resolution != engine.RunFailure {
		res.check("failure schedules currency crisis", true, "resolved as %s, no failure", resolution)
		return res, nil
	}
	scheduled := false
	for _, e := range res.Events {
		if e.Kind == engine.EventCascadeScheduled && e.Target == engine.CascadeCurrency &&
			e.Tick >= resolved.Tick && e.Tick <= resolved.Tick+5 {
			scheduled = true
			break
		}
	}
	res.check("failure schedules currency crisis", scheduled, "bank failed at tick %d", resolved.Tick)
	return res, nil
}

func bubbleBurst(opts Options) (Result, error) {
	var res Result
	sim, err := newSim(opts, 300, nil)
	if err != nil {
		return res, err
	}
	if _, err := sim.Admin(engine.ForceBubble{MarketID: "technology", Intensity: 0.9}); err != nil {
		return res, err
	}
	drive(sim, 120, &res)

	var phases []string
	var burst *engine.Event
	for i, e := range res.Events {
		if e.Target != "technology" || burst != nil {
			continue
		}
		switch e.Kind {
		case engine.EventBubblePhase:
			if p, ok := e.Meta["phase"].(string); ok {
				phases = append(phases, p)
			}
		case engine.EventBubbleBurst:
			burst = &res.Events[i]
		}
	}
	want := []string{"expansion", "euphoria", "instability"}
	res.check("phases traversed in order", slices.Equal(phases, want), "formation -> %v", phases)
	if burst == nil {
		res.check("bubble burst", false, "no burst in %d ticks", res.Ticks)
		return res, nil
	}
	severity, _ := burst.Meta["burst_severity"].(float64)
	res.check("burst severity above 0.6", severity > 0.6, "severity %.3f at tick %d", severity, burst.Tick)
	peak, _ := burst.Meta["peak_price"].(float64)
	final := sim.World().Market("technology").PriceF()
	res.check("final price below half of peak", final < 0.5*peak, "final %.2f, peak %.2f", final, peak)
	return res, nil
}

func intervention(opts Options) (Result, error) {
	var res Result
	sim, err := newSim(opts, 300, nil)
	if err != nil {
		return res, err
	}
	if _, err := sim.Admin(engine.SetIndicator{Indicator: engine.IndicatorSystemicRisk, Value: 0.95}); err != nil {
		return res, err
	}
	capacity := make(map[string]decimal.Decimal)
	for _, g := range sim.World().Governments {
		capacity[g.ID] = g.AvailableCapacity
	}
	support := sim.World().PublicSupport
	expected := engine.ResponseFor(sim.Snapshot().ActiveCrises)
	drive(sim, 1, &res)
	after := engine.ResponseFor(res.Final.ActiveCrises)

	var launched []engine.Event
	for _, e := range res.Events {
		if e.Kind == engine.EventInterventionStart {
			launched = append(launched, e)
		}
	}
	res.check("one intervention launched", len(launched) == 1, "%d launched", len(launched))
	if len(launched) != 1 {
		return res, nil
	}
	ev := launched[0]
	kind, _ := ev.Meta["kind"].(string)
	res.check("kind answers the dominant crisis", kind == expected || kind == after, "launched %s", kind)

	intensity, _ := ev.Meta["intensity"].(float64)
	before := capacity[ev.Target]
	cost, political, err := engine.LaunchCost(kind, before, intensity)
	if err != nil {
		return res, err
	}
	gov := sim.World().Government(ev.Target)
	if gov == nil {
		return res, fmt.Errorf("launching government %q not found", ev.Target)
	}
	res.check("capacity reduced by exact cost", gov.AvailableCapacity.Equal(before.Sub(cost)),
		"%s spent %s of %s", gov.ID, cost.StringFixed(2), before.StringFixed(2))
	drop := support - sim.World().PublicSupport
	res.check("public support reduced by political cost", abs(drop-political) < 1e-9,
		"support fell %.4f, cost %.4f", drop, political)
	return res, nil
}

func supplyCascade(opts Options) (Result, error) {
	var res Result
	sim, err := newSim(opts, 300, nil)
	if err != nil {
		return res, err
	}
	cmd := engine.ForceSupplyShock{MarketID: "energy", Kind: engine.ShockResourceShortage, Intensity: 0.9}
	if _, err := sim.Admin(cmd); err != nil {
		return res, err
	}
	drive(sim, 30, &res)

	consumers := make(map[string]bool)
	for _, c := range sim.World().ChainsConsuming("energy") {
		for _, out := range c.Outputs {
			consumers[out] = true
		}
	}
	secondaries, onConsumers, inBand := 0, 0, 0
	for _, e := range res.Events {
		if e.Kind != engine.EventSupplyShock || e.Meta["cascade_level"] != 1 {
			continue
		}
		secondaries++
		if consumers[e.Target] {
			onConsumers++
		}
		if x, _ := e.Meta["intensity"].(float64); x >= 0.54*0.9 && x <= 0.54*1.1 {
			inBand++
		}
	}
	res.check("secondary shock on a consuming market", onConsumers > 0, "%d secondary shocks", secondaries)
	res.check("secondary intensity about 0.54", secondaries > 0 && inBand == secondaries,
		"%d of %d within 10%%", inBand, secondaries)
	return res, nil
}

func alertPipeline(opts Options) (Result, error) {
	var res Result
	sim, err := newSim(opts, 300, nil)
	if err != nil {
		return res, err
	}
	if _, err := sim.Admin(engine.SetIndicator{Indicator: engine.IndicatorSystemicRisk, Value: 0.95}); err != nil {
		return res, err
	}
	drive(sim, 5, &res)

	composites, maxSeverity := 0, 0
	for _, a := range res.Final.ActiveAlerts {
		if a.Type == engine.AlertComposite {
			composites++
			maxSeverity = max(maxSeverity, a.Severity)
		}
	}
	res.check("one composite alert", composites == 1, "%d composite alerts", composites)
	res.check("composite severity at least 4", maxSeverity >= 4, "severity %d", maxSeverity)

	want := engine.RecommendedActions(engine.AlertComposite)
	warnings, matching := 0, 0
	for _, w := range res.Final.EarlyWarnings {
		if w.Type != engine.AlertComposite {
			continue
		}
		warnings++
		if slices.Equal(w.Actions, want) {
			matching++
		}
	}
	res.check("one early warning with composite actions", warnings == 1 && matching == 1,
		"%d warnings, %d matching %v", warnings, matching, want)
	return res, nil
}

func determinism(opts Options) (Result, error) {
	var res Result
	var logs, snaps [2][]byte
	for i := range logs {
		sim, err := newSim(opts, 300, weakBank)
		if err != nil {
			return res, err
		}
		if _, err := sim.Admin(engine.ForceBankRun{BankID: "commercial_bank_1"}); err != nil {
			return res, err
		}
		if _, err := sim.Admin(engine.ForceSupplyShock{MarketID: "energy", Kind: engine.ShockTradeEmbargo, Intensity: 0.8}); err != nil {
			return res, err
		}
		var run Result
		drive(sim, 60, &run)
		run.Final.Timestamp = time.Time{}
		if logs[i], err = json.Marshal(run.Events); err != nil {
			return res, err
		}
		if snaps[i], err = json.Marshal(run.Final); err != nil {
			return res, err
		}
		res.Events, res.Final, res.Ticks = run.Events, run.Final, run.Ticks
	}
	res.check("identical event logs", string(logs[0]) == string(logs[1]), "%d events", len(res.Events))
	res.check("identical final snapshots", string(snaps[0]) == string(snaps[1]), "tick %d", res.Final.Tick)
	return res, nil
}

func tickOf(e *engine.Event) string {
	if e == nil {
		return "never"
	}
	return fmt.Sprintf("tick %d", e.Tick)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Summary counts events by kind, most frequent first.
func (r Result) Summary() []KindCount {
	counts := make(map[string]int)
	for _, e := range r.Events {
		counts[e.Kind]++
	}
	out := make([]KindCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, KindCount{Kind: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// KindCount is an event kind and how often it occurred.
type KindCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}
