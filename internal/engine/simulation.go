// Package engine provides the crisis simulation core: the tick orchestrator,
// the psychology and cascade buses, the crisis, intervention and indicator
// engines, the admin surface and the real-time driver.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/crisis-world/internal/entropy"
	"github.com/talgya/crisis-world/internal/world"
)

// Options configures a Simulation.
type Options struct {
	Seed   int64
	Agents int
	Params Params

	// World overrides the generated world; nil uses world.DefaultGenConfig.
	// Its Seed and Agents fields are taken from Options.
	World *world.GenConfig

	Logger *slog.Logger
	// Clock stamps snapshots; nil uses time.Now.
	Clock func() time.Time
}

// crisisEngine is one of the six crisis sub-engines.
type crisisEngine interface {
	step()
	active() []Crisis
}

type cascadeHandler func(intensity float64) (target string, ok bool)

// Simulation owns the world and every engine. It is not safe for
// concurrent use; Engine serialises access for real-time runs.
type Simulation struct {
	opts   Options
	params Params
	log    *slog.Logger
	clock  func() time.Time

	world   *world.World
	rng     *entropy.Source
	ids     *entropy.IDMinter
	psych   *psychologyBus
	cascade *cascadeBus

	bankRun      *bankRunEngine
	bubble       *bubbleEngine
	supply       *supplyEngine
	currency     *currencyEngine
	debt         *debtEngine
	warfare      *warfareEngine
	intervention *interventionEngine
	indicators   *indicatorsEngine
	engines      []crisisEngine

	handlers        map[string]commandHandler
	cascadeHandlers map[string]cascadeHandler

	tick    uint64
	dt      float64
	seq     uint64
	events  []Event
	outbox  []Event
	subs    []subscription
	nextSub int
	stopped bool
	last    Snapshot
}

// New builds a simulation from opts.
func New(opts Options) (*Simulation, error) {
	if opts.Agents < 1 && opts.World == nil {
		return nil, fmt.Errorf("agents must be positive, got %d", opts.Agents)
	}
	if opts.Params.Cascade.Capacity == 0 {
		opts.Params = DefaultParams()
	}
	for _, name := range opts.Params.Disabled {
		if !IsSubsystem(name) {
			return nil, fmt.Errorf("unknown subsystem %q", name)
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Simulation{
		opts:   opts,
		params: opts.Params,
		log:    opts.Logger,
		clock:  opts.Clock,
	}
	s.build()
	s.log.Info("simulation created",
		"seed", opts.Seed,
		"agents", len(s.world.Agents),
		"markets", len(s.world.Markets),
		"banks", len(s.world.Banks),
		"disabled", opts.Params.Disabled,
	)
	return s, nil
}

// build creates the world, random sequence and engines from the options.
func (s *Simulation) build() {
	cfg := world.DefaultGenConfig(s.opts.Seed, s.opts.Agents)
	if s.opts.World != nil {
		cfg = *s.opts.World
		cfg.Seed = s.opts.Seed
		if s.opts.Agents > 0 {
			cfg.Agents = s.opts.Agents
		}
	}
	s.world = world.Generate(cfg)
	s.rng = entropy.NewSource(s.opts.Seed)
	s.ids = entropy.NewIDMinter(s.opts.Seed)
	s.psych = newPsychologyBus(s.params.Psychology.DecayRate)
	s.cascade = &cascadeBus{}
	s.tick = 0
	s.dt = 0
	s.seq = 0
	s.events = nil
	s.outbox = nil
	s.stopped = false

	s.handlers = make(map[string]commandHandler)
	s.cascadeHandlers = make(map[string]cascadeHandler)
	s.engines = nil
	s.bankRun, s.bubble, s.supply, s.currency, s.debt, s.warfare = nil, nil, nil, nil, nil, nil
	s.intervention, s.indicators = nil, nil

	if !s.params.disabled(SubsystemBankRun) {
		s.bankRun = newBankRunEngine(s)
		s.engines = append(s.engines, s.bankRun)
	}
	if !s.params.disabled(SubsystemBubble) {
		s.bubble = newBubbleEngine(s)
		s.engines = append(s.engines, s.bubble)
	}
	if !s.params.disabled(SubsystemSupplyShock) {
		s.supply = newSupplyEngine(s)
		s.engines = append(s.engines, s.supply)
	}
	if !s.params.disabled(SubsystemCurrency) {
		s.currency = newCurrencyEngine(s)
		s.engines = append(s.engines, s.currency)
	}
	if !s.params.disabled(SubsystemDebt) {
		s.debt = newDebtEngine(s)
		s.engines = append(s.engines, s.debt)
	}
	if !s.params.disabled(SubsystemWarfare) {
		s.warfare = newWarfareEngine(s)
		s.engines = append(s.engines, s.warfare)
	}
	if !s.params.disabled(SubsystemIntervention) {
		s.intervention = newInterventionEngine(s)
	}
	if !s.params.disabled(SubsystemIndicators) {
		s.indicators = newIndicatorsEngine(s)
		s.indicators.refresh()
	}
	s.register(CommandReset, s.handleReset)

	s.last = s.buildSnapshot()
}

// Tick advances the simulation one step and returns the new snapshot.
// A stopped simulation returns its last snapshot unchanged.
func (s *Simulation) Tick(dt float64) Snapshot {
	if s.stopped {
		return s.last
	}
	s.tick++
	s.dt = dt

	if s.indicators != nil {
		s.indicators.step()
	}
	for _, e := range s.engines {
		e.step()
	}
	if s.intervention != nil {
		s.intervention.step()
	}
	s.drainCascades()
	s.settle()

	snap := s.buildSnapshot()
	s.last = snap
	s.deliver(&snap)
	return snap
}

// settle runs the end-of-tick bookkeeping: mood decay, agent drift, price
// history, alert expiry and invariant repair.
func (s *Simulation) settle() {
	s.psych.Decay()
	s.driftAgents()
	for _, m := range s.world.Markets {
		m.RecordPrice()
	}
	if s.indicators != nil {
		s.indicators.expireAlerts()
	}
	s.repairInvariants()
}

// Stop marks the simulation inactive; later ticks are no-ops.
func (s *Simulation) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	s.emit(Event{Kind: EventStopped, Category: "core", Description: "simulation stopped"})
	s.deliver(nil)
	s.log.Info("simulation stopped", "tick", s.tick)
}

// Stopped reports whether Stop has been called.
func (s *Simulation) Stopped() bool { return s.stopped }

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 { return s.tick }

// Seed returns the seed the simulation was built from.
func (s *Simulation) Seed() int64 { return s.opts.Seed }

// Snapshot returns the most recent snapshot.
func (s *Simulation) Snapshot() Snapshot { return s.last }

// World exposes the live world for read-only inspection between ticks.
func (s *Simulation) World() *world.World { return s.world }

// Psychology returns the current aggregate mood.
func (s *Simulation) Psychology() PsychologyState { return s.psych.State() }

// reset rebuilds every piece of state from the construction options.
// Subscriptions survive.
func (s *Simulation) reset() Event {
	s.build()
	e := s.emit(Event{Kind: EventReset, Category: "core", Description: "simulation reset to initial state"})
	s.log.Info("simulation reset", "seed", s.opts.Seed)
	return e
}

// Status is a health summary of the simulation.
type Status struct {
	Tick            uint64   `json:"tick"`
	Seed            int64    `json:"seed"`
	Running         bool     `json:"running"`
	Agents          int      `json:"agents"`
	ActiveAgents    int      `json:"active_agents"`
	ActiveCrises    int      `json:"active_crises"`
	Interventions   int      `json:"active_interventions"`
	Alerts          int      `json:"active_alerts"`
	PendingCascades int      `json:"pending_cascades"`
	Events          int      `json:"events"`
	Subscribers     int      `json:"subscribers"`
	CompositeRisk   float64  `json:"composite_risk"`
	RiskLevel       string   `json:"risk_level"`
	Disabled        []string `json:"disabled,omitempty"`
	RandomDraws     uint64   `json:"random_draws"`
}

// Status reports the simulation's health.
func (s *Simulation) Status() Status {
	st := Status{
		Tick:            s.tick,
		Seed:            s.opts.Seed,
		Running:         !s.stopped,
		Agents:          len(s.world.Agents),
		ActiveAgents:    s.world.ActiveAgents(),
		ActiveCrises:    len(s.activeCrises()),
		PendingCascades: len(s.cascade.queue),
		Events:          len(s.events),
		Subscribers:     len(s.subs),
		CompositeRisk:   s.last.CompositeRisk,
		RiskLevel:       s.last.RiskLevel,
		Disabled:        append([]string(nil), s.params.Disabled...),
		RandomDraws:     s.rng.Draws(),
	}
	if s.intervention != nil {
		st.Interventions = len(s.intervention.active)
	}
	if s.indicators != nil {
		st.Alerts = len(s.indicators.alerts)
	}
	return st
}

// activeCrises lists every live crisis in engine order.
func (s *Simulation) activeCrises() []Crisis {
	var out []Crisis
	for _, e := range s.engines {
		out = append(out, e.active()...)
	}
	return out
}

// systemicRisk is the systemic_risk indicator value, or 0 without indicators.
func (s *Simulation) systemicRisk() float64 {
	if s.indicators == nil {
		return 0
	}
	return s.indicators.value(IndicatorSystemicRisk)
}
