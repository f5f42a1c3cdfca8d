package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/talgya/crisis-world/internal/numeric"
)

// Admin failure kinds. Errors returned by Admin wrap one of these.
var (
	ErrStopped         = errors.New("simulation stopped")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrUnknownTarget   = errors.New("unknown target")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAlreadyActive   = errors.New("already active")
	ErrNotActive       = errors.New("not active")
	ErrNoCapacity      = errors.New("no government capacity")
)

// AdminError is the typed failure returned by Admin.
type AdminError struct {
	Command string
	Err     error
}

func (e *AdminError) Error() string { return e.Command + ": " + e.Err.Error() }

func (e *AdminError) Unwrap() error { return e.Err }

// Command names.
const (
	CommandForceBankRun        = "force_bank_run"
	CommandForceBubble         = "force_bubble"
	CommandForceBubbleBurst    = "force_bubble_burst"
	CommandForceSupplyShock    = "force_supply_shock"
	CommandForceCurrencyCrisis = "force_currency_crisis"
	CommandForceDebtCascade    = "force_debt_cascade"
	CommandForceEconomicWar    = "force_economic_war"
	CommandForceIntervention   = "force_intervention"
	CommandForceSanction       = "force_sanction"
	CommandSetIndicator        = "set_indicator"
	CommandAcknowledgeAlert    = "acknowledge_alert"
	CommandReset               = "reset"
)

// Command is a scripted trigger understood by Admin.
type Command interface {
	CommandName() string
}

// ForceBankRun starts a run on a bank.
type ForceBankRun struct {
	BankID string `json:"bank_id"`
}

// ForceBubble starts a bubble on a market.
type ForceBubble struct {
	MarketID  string  `json:"market_id"`
	Intensity float64 `json:"intensity"`
}

// ForceBubbleBurst bursts a market's active bubble.
type ForceBubbleBurst struct {
	MarketID string `json:"market_id"`
}

// ForceSupplyShock starts a supply shock on a market.
type ForceSupplyShock struct {
	MarketID  string  `json:"market_id"`
	Kind      string  `json:"kind"`
	Intensity float64 `json:"intensity"`
}

// ForceCurrencyCrisis starts a currency crisis.
type ForceCurrencyCrisis struct {
	CurrencyID string  `json:"currency_id"`
	Kind       string  `json:"kind"`
	Intensity  float64 `json:"intensity"`
}

// ForceDebtCascade starts a debt cascade of the given kind.
type ForceDebtCascade struct {
	Kind      string  `json:"kind"`
	Intensity float64 `json:"intensity"`
}

// ForceEconomicWar starts a war between two factions.
type ForceEconomicWar struct {
	FactionA string `json:"faction_a"`
	FactionB string `json:"faction_b"`
	WarKind  string `json:"war_kind"`
}

// ForceIntervention launches an intervention, optionally by a named government.
type ForceIntervention struct {
	Kind         string `json:"kind"`
	GovernmentID string `json:"government_id,omitempty"`
}

// ForceSanction imposes a sanction of imposer on target.
type ForceSanction struct {
	Imposer   string  `json:"imposer"`
	Target    string  `json:"target"`
	Intensity float64 `json:"intensity"`
}

// SetIndicator pins an indicator value.
type SetIndicator struct {
	Indicator string  `json:"indicator"`
	Value     float64 `json:"value"`
}

// AcknowledgeAlert marks an alert acknowledged.
type AcknowledgeAlert struct {
	AlertID string `json:"alert_id"`
}

// Reset rebuilds the simulation from its construction options.
type Reset struct{}

func (ForceBankRun) CommandName() string        { return CommandForceBankRun }
func (ForceBubble) CommandName() string         { return CommandForceBubble }
func (ForceBubbleBurst) CommandName() string    { return CommandForceBubbleBurst }
func (ForceSupplyShock) CommandName() string    { return CommandForceSupplyShock }
func (ForceCurrencyCrisis) CommandName() string { return CommandForceCurrencyCrisis }
func (ForceDebtCascade) CommandName() string    { return CommandForceDebtCascade }
func (ForceEconomicWar) CommandName() string    { return CommandForceEconomicWar }
func (ForceIntervention) CommandName() string   { return CommandForceIntervention }
func (ForceSanction) CommandName() string       { return CommandForceSanction }
func (SetIndicator) CommandName() string        { return CommandSetIndicator }
func (AcknowledgeAlert) CommandName() string    { return CommandAcknowledgeAlert }
func (Reset) CommandName() string               { return CommandReset }

// AdminResult reports a successful admin command.
type AdminResult struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	EventID string `json:"event_id,omitempty"`
	Message string `json:"message,omitempty"`
}

type commandHandler func(Command) (AdminResult, error)

func (s *Simulation) register(name string, h commandHandler) {
	s.handlers[name] = h
}

// Admin executes a scripted trigger. Events it causes are delivered to
// sinks before Admin returns. Commands owned by a disabled subsystem are
// unknown.
func (s *Simulation) Admin(cmd Command) (AdminResult, error) {
	if cmd == nil {
		return AdminResult{}, &AdminError{Command: "", Err: ErrInvalidArgument}
	}
	cmd = deref(cmd)
	name := cmd.CommandName()
	if s.stopped && name != CommandReset {
		return AdminResult{Command: name}, &AdminError{Command: name, Err: ErrStopped}
	}
	h, ok := s.handlers[name]
	if !ok {
		return AdminResult{Command: name}, &AdminError{Command: name, Err: ErrUnknownCommand}
	}
	res, err := h(cmd)
	if err != nil {
		s.log.Warn("admin command rejected", "command", name, "error", err)
		s.deliver(nil)
		return AdminResult{Command: name}, &AdminError{Command: name, Err: err}
	}
	res.Command = name
	res.OK = true
	s.deliver(nil)
	s.log.Info("admin command", "command", name, "event", res.EventID, "tick", s.tick)
	return res, nil
}

func (s *Simulation) handleReset(Command) (AdminResult, error) {
	e := s.reset()
	return AdminResult{EventID: e.ID, Message: "simulation reset"}, nil
}

// checkUnit validates a [0,1] admin argument.
func checkUnit(name string, x float64) error {
	if !numeric.InUnit(x) {
		return fmt.Errorf("%w: %s %v outside [0,1]", ErrInvalidArgument, name, x)
	}
	return nil
}

// DecodeCommand decodes a JSON command of the form
// {"type":"force_bank_run","bank_id":"commercial_bank_1"}.
func DecodeCommand(data []byte) (Command, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}

	var cmd Command
	switch envelope.Type {
	case CommandForceBankRun:
		cmd = &ForceBankRun{}
	case CommandForceBubble:
		cmd = &ForceBubble{}
	case CommandForceBubbleBurst:
		cmd = &ForceBubbleBurst{}
	case CommandForceSupplyShock:
		cmd = &ForceSupplyShock{}
	case CommandForceCurrencyCrisis:
		cmd = &ForceCurrencyCrisis{}
	case CommandForceDebtCascade:
		cmd = &ForceDebtCascade{}
	case CommandForceEconomicWar:
		cmd = &ForceEconomicWar{}
	case CommandForceIntervention:
		cmd = &ForceIntervention{}
	case CommandForceSanction:
		cmd = &ForceSanction{}
	case CommandSetIndicator:
		cmd = &SetIndicator{}
	case CommandAcknowledgeAlert:
		cmd = &AcknowledgeAlert{}
	case CommandReset:
		return Reset{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCommand, envelope.Type)
	}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", envelope.Type, err)
	}
	return deref(cmd), nil
}

// deref turns the decoded pointer back into the value type handlers expect.
func deref(cmd Command) Command {
	switch c := cmd.(type) {
	case *ForceBankRun:
		return *c
	case *ForceBubble:
		return *c
	case *ForceBubbleBurst:
		return *c
	case *ForceSupplyShock:
		return *c
	case *ForceCurrencyCrisis:
		return *c
	case *ForceDebtCascade:
		return *c
	case *ForceEconomicWar:
		return *c
	case *ForceIntervention:
		return *c
	case *ForceSanction:
		return *c
	case *SetIndicator:
		return *c
	case *AcknowledgeAlert:
		return *c
	}
	return cmd
}
