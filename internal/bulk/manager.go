package bulk

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Manager owns all in-flight Transfers, keyed by id, per spec.md §9's
// id-based ownership rule (sessions and the scheduler never hold a
// Transfer directly).
type Manager struct {
	mu        sync.Mutex
	transfers map[uuid.UUID]*Transfer
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{transfers: make(map[uuid.UUID]*Transfer)}
}

// Add registers a new transfer.
func (m *Manager) Add(t *Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transfers[t.ID] = t
}

// Get returns the transfer for id, if any.
func (m *Manager) Get(id uuid.UUID) (*Transfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[id]

	return t, ok
}

// List returns a snapshot slice of all transfers.
func (m *Manager) List() []*Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		out = append(out, t)
	}

	return out
}

// Remove drops a transfer from the manager, e.g. after pruning completed
// ones.
func (m *Manager) Remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.transfers, id)
}

// BeginSending transitions a transfer from awaitingAcceptance to sending on
// receipt of an ACK for its fileMeta, per spec.md §4.7.
func (m *Manager) BeginSending(id uuid.UUID) error {
	return m.transition(id, StatusAwaitingAcceptance, StatusSending)
}

// Pause transitions sending -> paused.
func (m *Manager) Pause(id uuid.UUID) error {
	return m.transition(id, StatusSending, StatusPaused)
}

// Resume transitions paused -> sending.
func (m *Manager) Resume(id uuid.UUID) error {
	return m.transition(id, StatusPaused, StatusSending)
}

// CompleteDataPhase transitions sending -> awaitingCompletion once the last
// chunk has been acked.
func (m *Manager) CompleteDataPhase(id uuid.UUID) error {
	return m.transition(id, StatusSending, StatusAwaitingCompletion)
}

func (m *Manager) transition(id uuid.UUID, from, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[id]
	if !ok {
		return fmt.Errorf("bulk: unknown transfer %s", id)
	}

	if t.Status != from {
		return fmt.Errorf("bulk: transfer %s is %s, cannot move to %s", id, t.Status, to)
	}

	t.Status = to

	return nil
}

// Cancel cancels a transfer in any non-terminal state.
func (m *Manager) Cancel(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[id]
	if !ok {
		return fmt.Errorf("bulk: unknown transfer %s", id)
	}

	t.Cancel()

	return nil
}
