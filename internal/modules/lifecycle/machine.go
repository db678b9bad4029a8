package lifecycle

import (
	"time"

	"github.com/rs/zerolog"
)

// Machine applies transitions against the table and appends history.
type Machine struct {
	log zerolog.Logger
	now func() time.Time
}

// NewMachine creates a transition machine.
func NewMachine(log zerolog.Logger) *Machine {
	return &Machine{
		log: log.With().Str("component", "lifecycle").Logger(),
		now: time.Now,
	}
}

// Transition mutates the position to the target state and appends a
// history record. A forbidden pair returns InvalidTransitionError and
// leaves the position untouched.
func (m *Machine) Transition(p *Position, action Action, reason, source, correlationID string) error {
	next, ok := transitions[p.State][action]
	if !ok {
		err := &InvalidTransitionError{From: p.State, Action: action, CorrelationID: correlationID}
		m.log.Error().
			Str("position_id", p.ID).
			Str("from", string(p.State)).
			Str("action", string(action)).
			Str("correlation_id", correlationID).
			Msg("invalid lifecycle transition")
		return err
	}

	record := HistoryRecord{
		From:      p.State,
		To:        next,
		Action:    action,
		Reason:    reason,
		Source:    source,
		Timestamp: m.now().UTC(),
	}
	p.State = next
	p.History = append(p.History, record)

	m.log.Info().
		Str("position_id", p.ID).
		Str("from", string(record.From)).
		Str("to", string(record.To)).
		Str("reason", reason).
		Msg("position transitioned")

	return nil
}

// CanTransition reports whether the pair is allowed without applying it.
func CanTransition(from State, action Action) bool {
	_, ok := transitions[from][action]
	return ok
}

// NormalizeLegacyState maps unknown legacy states to OPEN. Applied exactly
// once, on load.
func NormalizeLegacyState(s State) (State, bool) {
	switch s {
	case StateNew, StateAssigned, StateOpen, StateRolling, StateClosing, StateClosed:
		return s, false
	default:
		return StateOpen, true
	}
}
