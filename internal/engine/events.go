package engine

import (
	"log/slog"
	"sort"
	"sync/atomic"
)

// Event kinds emitted by the engines.
const (
	EventBankRunTriggered  = "bank_run_triggered"
	EventBankRunPhase      = "bank_run_phase"
	EventBankRunResolved   = "bank_run_resolved"
	EventBankFailure       = "bank_failure"
	EventBubbleFormed      = "bubble_formed"
	EventBubblePhase       = "bubble_phase"
	EventBubbleBurst       = "bubble_burst"
	EventSupplyShock       = "supply_shock_triggered"
	EventSupplyShockPhase  = "supply_shock_phase"
	EventSupplyShockEnded  = "supply_shock_resolved"
	EventHoarding          = "hoarding_started"
	EventCurrencyCrisis    = "currency_crisis_triggered"
	EventCurrencyResolved  = "currency_crisis_resolved"
	EventDebtCascade       = "debt_cascade_triggered"
	EventDebtDefault       = "debt_default"
	EventDebtResolved      = "debt_cascade_resolved"
	EventWarDeclared       = "economic_war_declared"
	EventWarEnded          = "economic_war_ended"
	EventSanction          = "sanction_imposed"
	EventSanctionLifted    = "sanction_lifted"
	EventManipulation      = "market_manipulation"
	EventInterventionStart = "intervention_launched"
	EventInterventionPhase = "intervention_phase"
	EventInterventionEnd   = "intervention_completed"
	EventInterventionNoop  = "intervention_rejected"
	EventAlert             = "alert_raised"
	EventEarlyWarning      = "early_warning"
	EventAlertAcknowledged = "alert_acknowledged"
	EventAlertExpired      = "alert_expired"
	EventIndicatorSet      = "indicator_set"
	EventCascadeScheduled  = "cascade_scheduled"
	EventCascadeFired      = "cascade_fired"
	EventCascadeDropped    = "cascade_dropped"
	EventLookupMiss        = "lookup_miss"
	EventInvariantClamped  = "invariant_clamped"
	EventReset             = "simulation_reset"
	EventStopped           = "simulation_stopped"
)

// maxEventLog bounds the in-memory event log.
const maxEventLog = 5000

// Event is a notable state transition. Events are values: Meta is built
// fresh for each event and never mutated after emission.
type Event struct {
	ID          string         `json:"id"`
	Seq         uint64         `json:"seq"`
	Tick        uint64         `json:"tick"`
	Kind        string         `json:"kind"`
	Category    string         `json:"category"` // emitting subsystem
	Target      string         `json:"target,omitempty"`
	Description string         `json:"description"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Sink observes events and snapshots. Sinks are called between ticks only.
type Sink interface {
	OnEvent(Event)
	OnSnapshot(Snapshot)
}

// AllEvents subscribes a sink to every event kind.
const AllEvents = "*"

type subscription struct {
	id   int
	kind string
	sink Sink
}

// emit appends an event to the log and buffers it for delivery after the
// current tick.
func (s *Simulation) emit(e Event) Event {
	s.seq++
	e.Seq = s.seq
	e.ID = s.ids.Next("evt")
	e.Tick = s.tick
	s.events = append(s.events, e)
	if len(s.events) > maxEventLog {
		s.events = s.events[len(s.events)-maxEventLog:]
	}
	s.outbox = append(s.outbox, e)
	s.log.Debug("event", "kind", e.Kind, "tick", e.Tick, "target", e.Target)
	return e
}

// lookupMiss records an unknown id encountered inside a tick.
func (s *Simulation) lookupMiss(category, kind, id string) {
	s.log.Warn("lookup miss", "category", category, "kind", kind, "id", id)
	s.emit(Event{
		Kind:        EventLookupMiss,
		Category:    category,
		Target:      id,
		Description: "unknown " + kind + " " + id,
		Meta:        map[string]any{"kind": kind},
	})
}

// Subscribe attaches a sink for events of kind (AllEvents for every kind).
// Every sink receives snapshots. It returns a handle for Unsubscribe.
func (s *Simulation) Subscribe(kind string, sink Sink) int {
	if kind == "" {
		kind = AllEvents
	}
	s.nextSub++
	s.subs = append(s.subs, subscription{id: s.nextSub, kind: kind, sink: sink})
	return s.nextSub
}

// Unsubscribe detaches a sink. Unknown handles are ignored.
func (s *Simulation) Unsubscribe(id int) {
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// deliver flushes buffered events and, if snap is non-nil, the snapshot
// to every sink. A panicking sink is logged and skipped.
func (s *Simulation) deliver(snap *Snapshot) {
	pending := s.outbox
	s.outbox = nil
	subs := append([]subscription(nil), s.subs...)
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, e := range pending {
		for _, sub := range subs {
			if sub.kind == AllEvents || sub.kind == e.Kind {
				s.safeCall(sub.id, func() { sub.sink.OnEvent(e) })
			}
		}
	}
	if snap == nil {
		return
	}
	for _, sub := range subs {
		s.safeCall(sub.id, func() { sub.sink.OnSnapshot(*snap) })
	}
}

func (s *Simulation) safeCall(id int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sink panicked", "subscription", id, "panic", r)
		}
	}()
	fn()
}

// Events returns a copy of the event log, oldest first.
func (s *Simulation) Events() []Event {
	return append([]Event(nil), s.events...)
}

// EventsSince returns logged events with Seq greater than seq.
func (s *Simulation) EventsSince(seq uint64) []Event {
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Seq > seq })
	return append([]Event(nil), s.events[i:]...)
}

// ChannelSink forwards events and snapshots to a buffered channel without
// blocking; messages are dropped when the buffer is full.
type ChannelSink struct {
	C       chan Message
	dropped atomic.Int64
}

// Message is one item delivered through a ChannelSink.
type Message struct {
	Event    *Event    `json:"event,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan Message, buffer)}
}

// OnEvent implements Sink.
func (c *ChannelSink) OnEvent(e Event) {
	select {
	case c.C <- Message{Event: &e}:
	default:
		c.dropped.Add(1)
	}
}

// OnSnapshot implements Sink.
func (c *ChannelSink) OnSnapshot(snap Snapshot) {
	select {
	case c.C <- Message{Snapshot: &snap}:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns how many messages were discarded.
func (c *ChannelSink) Dropped() int64 { return c.dropped.Load() }

// LogSink writes every event it receives to a logger at info level.
type LogSink struct{ Log *slog.Logger }

// OnEvent implements Sink.
func (l LogSink) OnEvent(e Event) {
	l.Log.Info(e.Description, "kind", e.Kind, "tick", e.Tick, "target", e.Target)
}

// OnSnapshot implements Sink.
func (l LogSink) OnSnapshot(Snapshot) {}
