// Package session manages the lifetime of the adapters a diagnostic
// session acquires: the CAN bus, the ISO-TP transport, and the UDS client
// built on top of it (component C8). It provides a small named registry so
// a flash orchestrator can register whatever it opens and be sure
// everything is torn down, in order, even if one adapter's close fails.
package session

import (
	"fmt"
	"log/slog"
	"sync"
)

// Adapter is anything a Manager can close on teardown. Real adapters
// (buses, transports, UDS clients) are expected to implement one of
// Close, Disconnect, or Shutdown; Manager tries them in that order so it
// can manage whatever convention the concrete type happens to use.
type Adapter interface{}

type closer interface{ Close() error }
type voidCloser interface{ Close() }
type disconnecter interface{ Disconnect() error }
type shutdowner interface{ Shutdown() error }

// Manager tracks named adapters acquired over the life of a session and
// closes them in registration order on CloseAll.
type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	order    []string
	adapters map[string]Adapter
}

// NewManager builds an empty Manager. A nil logger falls back to
// slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger.With("service", "[SESSION]"),
		adapters: make(map[string]Adapter),
	}
}

// Register records adapter under name, replacing and NOT closing any
// previous adapter registered under the same name.
func (m *Manager) Register(name string, adapter Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.adapters[name]; !exists {
		m.order = append(m.order, name)
	} else {
		m.logger.Warn("replacing adapter registered under existing name", "name", name)
	}
	m.adapters[name] = adapter
}

// Get returns the adapter registered under name, if any.
func (m *Manager) Get(name string) (Adapter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.adapters[name]
	return a, ok
}

// Names returns the currently registered adapter names in registration
// order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// CloseFailure records one adapter that failed to close during CloseAll.
type CloseFailure struct {
	Name string
	Err  error
}

// CloseAll closes every registered adapter in registration order, trying
// Close() then Disconnect() then Shutdown(), whichever the adapter
// implements first. A failure on one adapter is logged and recorded but
// does not stop the sweep over the rest. The registry is cleared
// regardless of outcome.
func (m *Manager) CloseAll() []CloseFailure {
	m.mu.Lock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	adapters := make(map[string]Adapter, len(m.adapters))
	for k, v := range m.adapters {
		adapters[k] = v
	}
	m.order = nil
	m.adapters = make(map[string]Adapter)
	m.mu.Unlock()

	if len(names) == 0 {
		m.logger.Debug("no adapters registered, nothing to close")
		return nil
	}

	m.logger.Info("closing registered adapters", "count", len(names))
	var failures []CloseFailure
	for _, name := range names {
		adapter := adapters[name]
		if err := closeOne(adapter); err != nil {
			m.logger.Error("failed to close adapter", "name", name, "err", err)
			failures = append(failures, CloseFailure{Name: name, Err: err})
			continue
		}
		m.logger.Debug("closed adapter", "name", name)
	}

	if len(failures) > 0 {
		m.logger.Warn("some adapters failed to close", "count", len(failures))
	} else {
		m.logger.Info("all adapters closed successfully")
	}
	return failures
}

func closeOne(adapter Adapter) error {
	switch a := adapter.(type) {
	case closer:
		return a.Close()
	case voidCloser:
		a.Close()
		return nil
	case disconnecter:
		return a.Disconnect()
	case shutdowner:
		return a.Shutdown()
	default:
		return fmt.Errorf("adapter has no Close/Disconnect/Shutdown method")
	}
}

// WithManager acquires a Manager, runs fn, and closes everything fn
// registered regardless of fn's outcome, returning fn's error or, if fn
// succeeded, the first close failure encountered.
func WithManager(logger *slog.Logger, fn func(*Manager) error) error {
	m := NewManager(logger)
	fnErr := fn(m)
	failures := m.CloseAll()
	if fnErr != nil {
		return fnErr
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d adapter(s) failed to close: %s", len(failures), failures[0].Err)
	}
	return nil
}
