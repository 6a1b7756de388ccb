package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/zsiec/vehiclecount/internal/detect"
	"github.com/zsiec/vehiclecount/internal/logger"
	"github.com/zsiec/vehiclecount/internal/metrics"
	"github.com/zsiec/vehiclecount/internal/relay"
)

// ModelCatalog lists the installed detection models.
type ModelCatalog interface {
	IsAvailable(file string) bool
	List() ([]detect.Model, error)
}

// Manager owns a fixed array of sessions addressed by slots 1..N.
type Manager struct {
	sessions []*Session
	catalog  ModelCatalog
	logger   logger.Logger

	mu     sync.Mutex
	active map[int]bool
}

func NewManager(maxSessions int, deps Deps, opts Options, catalog ModelCatalog) *Manager {
	if maxSessions < 1 {
		maxSessions = 1
	}

	m := &Manager{
		sessions: make([]*Session, maxSessions),
		catalog:  catalog,
		logger:   logger.NewNullLogger(),
		active:   make(map[int]bool),
	}
	if deps.Logger != nil {
		m.logger = logger.ForComponent(deps.Logger, "session_manager")
	}

	deps.Listeners = append([]Listener{ListenerFunc(m.track)}, deps.Listeners...)
	for i := range m.sessions {
		m.sessions[i] = New(i+1, deps, opts)
	}
	metrics.SetSessionsActive(0)

	return m
}

// track keeps the active-sessions gauge in step with status changes.
func (m *Manager) track(st Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.Status.Active() {
		m.active[st.Slot] = true
	} else {
		delete(m.active, st.Slot)
	}
	metrics.SetSessionsActive(len(m.active))
}

func (m *Manager) MaxSessions() int {
	return len(m.sessions)
}

// Session returns the session for slot.
func (m *Manager) Session(slot int) (*Session, error) {
	if slot < 1 || slot > len(m.sessions) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return m.sessions[slot-1], nil
}

// Start validates the request and launches a run in slot. The model is
// checked before anything is spawned.
func (m *Manager) Start(slot int, p Params) error {
	s, err := m.Session(slot)
	if err != nil {
		metrics.RecordSessionStart("invalid_slot")
		return err
	}

	if m.catalog != nil && !m.catalog.IsAvailable(p.ModelFile) {
		metrics.RecordSessionStart("model_unavailable")
		return fmt.Errorf("%w: %q", ErrModelUnavailable, p.ModelFile)
	}

	if err := s.Start(p); err != nil {
		metrics.RecordSessionStart("already_running")
		return err
	}

	metrics.RecordSessionStart("success")
	m.logger.WithFields(map[string]interface{}{
		"slot":     slot,
		"model":    p.ModelFile,
		"source":   p.Source,
		"interval": p.Interval,
	}).Info("Session started")
	return nil
}

// Stop cancels the run in slot. Stopping an idle slot is a no-op.
func (m *Manager) Stop(ctx context.Context, slot int) error {
	s, err := m.Session(slot)
	if err != nil {
		return err
	}
	s.Stop(ctx)
	return nil
}

func (m *Manager) Stats(slot int) (Stats, error) {
	s, err := m.Session(slot)
	if err != nil {
		return Stats{}, err
	}
	return s.Stats(), nil
}

// AllStats returns every slot's stats in slot order.
func (m *Manager) AllStats() []Stats {
	out := make([]Stats, len(m.sessions))
	for i, s := range m.sessions {
		out[i] = s.Stats()
	}
	return out
}

func (m *Manager) IsActive(slot int) (bool, error) {
	s, err := m.Session(slot)
	if err != nil {
		return false, err
	}
	return s.Active(), nil
}

// Frames returns the live-feed relay of slot.
func (m *Manager) Frames(slot int) (*relay.Relay, error) {
	s, err := m.Session(slot)
	if err != nil {
		return nil, err
	}
	return s.Frames(), nil
}

// AvailableModels lists installed models with their display labels.
func (m *Manager) AvailableModels() ([]detect.Model, error) {
	if m.catalog == nil {
		return []detect.Model{}, nil
	}
	return m.catalog.List()
}

// Shutdown stops every slot concurrently and waits for all of them.
func (m *Manager) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range m.sessions {
		if !s.Active() {
			continue
		}
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop(ctx)
		}(s)
	}
	wg.Wait()

	m.logger.WithField("slots", len(m.sessions)).Info("All sessions stopped")
}
