package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSaveEvery is how often, in ticks, OnSave fires.
const DefaultSaveEvery = 50

// Engine drives a Simulation in real time. Every access to the simulation
// goes through the engine's mutex, so Do may be called from any goroutine.
type Engine struct {
	Interval  time.Duration // base tick interval (default 1 second)
	DT        float64       // dt passed to every tick
	SaveEvery uint64        // ticks between OnSave calls; 0 disables

	// Callbacks run on the driving goroutine after each tick, outside the lock.
	OnTick func(Snapshot)
	OnSave func(Snapshot)

	mu      sync.Mutex
	sim     *Simulation
	speed   float64 // 1.0 = real time, 0 = paused
	running bool
	cancel  context.CancelFunc
}

// NewEngine wraps sim with default settings.
func NewEngine(sim *Simulation) *Engine {
	return &Engine{
		Interval:  time.Second,
		DT:        1,
		SaveEvery: DefaultSaveEvery,
		sim:       sim,
		speed:     1.0,
	}
}

// Run ticks until ctx is cancelled, Stop is called or the simulation stops.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.cancel = cancel
	tick := e.sim.CurrentTick()
	e.mu.Unlock()

	slog.Info("simulation engine started", "tick", tick, "speed", e.Speed())
	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		tick = e.sim.CurrentTick()
		e.mu.Unlock()
		cancel()
		slog.Info("simulation engine stopped", "tick", tick)
	}()

	for {
		speed := e.Speed()
		if speed <= 0 {
			// Paused.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		start := time.Now()
		snap, stopped := e.Step()
		if stopped {
			return nil
		}
		if e.SaveEvery > 0 && snap.Tick%e.SaveEvery == 0 && e.OnSave != nil {
			e.OnSave(snap)
		}

		target := time.Duration(float64(e.Interval) / speed)
		wait := target - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Step advances one tick and reports whether the simulation is stopped.
func (e *Engine) Step() (Snapshot, bool) {
	e.mu.Lock()
	if e.sim.Stopped() {
		snap := e.sim.Snapshot()
		e.mu.Unlock()
		return snap, true
	}
	snap := e.sim.Tick(e.DT)
	e.mu.Unlock()

	if e.OnTick != nil {
		e.OnTick(snap)
	}
	return snap, false
}

// Do runs fn with exclusive access to the simulation, between ticks.
func (e *Engine) Do(fn func(*Simulation)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.sim)
}

// Admin applies a command between ticks.
func (e *Engine) Admin(cmd Command) (AdminResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim.Admin(cmd)
}

// SetSpeed sets the speed multiplier; 0 pauses.
func (e *Engine) SetSpeed(speed float64) error {
	if speed < 0 || speed > 100 {
		return fmt.Errorf("%w: speed %v outside [0,100]", ErrInvalidArgument, speed)
	}
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
	return nil
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stop ends Run without stopping the simulation itself.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}
