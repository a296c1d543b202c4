// Package breakpoint tracks the agent's current lifecycle phase and the
// audit trail of how it got there.
package breakpoint

import (
	"context"
	"sync"
	"time"

	"github.com/relaykit/conductor/pkg/models"
)

// ChangeFunc is invoked whenever the breakpoint transitions to a new
// state (not called when Set is a no-op into the same state).
type ChangeFunc func(ctx context.Context, t models.BreakpointTransition)

// Manager tracks the current breakpoint state, grounded on the
// teacher's CompactionState enum-plus-transition-struct pattern
// (internal/agent/compaction.go), generalized to the full lifecycle
// enum in spec §4.2.
type Manager struct {
	mu      sync.Mutex
	current models.BreakpointState
	history []models.BreakpointTransition
	onChange ChangeFunc
}

// New creates a manager starting in BreakpointReady.
func New(onChange ChangeFunc) *Manager {
	return &Manager{current: models.BreakpointReady, onChange: onChange}
}

// Current returns the current breakpoint state.
func (m *Manager) Current() models.BreakpointState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set transitions to state, recording an audit entry and firing
// onChange, unless current == previous in which case it is a no-op per
// spec §4.2 ("emits ... unless current == previous").
func (m *Manager) Set(ctx context.Context, state models.BreakpointState, note string) {
	m.mu.Lock()
	previous := m.current
	if previous == state {
		m.mu.Unlock()
		return
	}
	transition := models.BreakpointTransition{
		Previous:  previous,
		Current:   state,
		Timestamp: time.Now(),
		Note:      note,
	}
	m.current = state
	m.history = append(m.history, transition)
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(ctx, transition)
	}
}

// History returns a copy of every recorded transition.
func (m *Manager) History() []models.BreakpointTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.BreakpointTransition(nil), m.history...)
}
