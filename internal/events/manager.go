package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	RunStarted         EventType = "RUN_STARTED"
	RunCompleted       EventType = "RUN_COMPLETED"
	RunSkipped         EventType = "RUN_SKIPPED"
	ArtifactWritten    EventType = "ARTIFACT_WRITTEN"
	PositionTransition EventType = "POSITION_TRANSITION"
	FreezeBlocked      EventType = "FREEZE_BLOCKED"
	DriftDetected      EventType = "DRIFT_DETECTED"
	ExitSignal         EventType = "EXIT_SIGNAL"
	ErrorOccurred      EventType = "ERROR_OCCURRED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Manager handles event emission and keeps a bounded in-memory tail for
// the events endpoint.
type Manager struct {
	log zerolog.Logger

	mu   sync.Mutex
	tail []Event
	cap  int
}

// NewManager creates a new event manager keeping at most capacity recent
// events.
func NewManager(log zerolog.Logger, capacity int) *Manager {
	if capacity <= 0 {
		capacity = 200
	}
	return &Manager{
		log: log.With().Str("service", "events").Logger(),
		cap: capacity,
	}
}

// Emit emits an event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Module:    module,
	}

	m.mu.Lock()
	m.tail = append(m.tail, event)
	if len(m.tail) > m.cap {
		m.tail = m.tail[len(m.tail)-m.cap:]
	}
	m.mu.Unlock()

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}

// Recent returns up to n most recent events, newest first.
func (m *Manager) Recent(n int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > len(m.tail) {
		n = len(m.tail)
	}

	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = m.tail[len(m.tail)-1-i]
	}
	return out
}
