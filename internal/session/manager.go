package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/54b3r/hamdam-go/internal/langdetect"
	"github.com/54b3r/hamdam-go/internal/logging"
)

// Manager holds the single active session for one conversation.
// It is safe for concurrent use.
type Manager struct {
	registry *Registry
	loader   Loader

	mu     sync.RWMutex
	active Session
}

// NewManager returns a Manager with nothing loaded. Call Start before use.
func NewManager(registry *Registry, loader Loader) *Manager {
	return &Manager{registry: registry, loader: loader}
}

// Registry returns the models this manager can switch between.
func (m *Manager) Registry() *Registry { return m.registry }

// Names returns the registered model names in order.
func (m *Manager) Names() []string { return m.registry.Names() }

// Start loads name, or the first registered model when name is empty.
func (m *Manager) Start(ctx context.Context, name string) error {
	if name == "" {
		names := m.registry.Names()
		if len(names) == 0 {
			return fmt.Errorf("%w: no models registered", ErrConfiguration)
		}
		name = names[0]
	}
	d, err := m.registry.Lookup(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return fmt.Errorf("session: already started with %s", m.active.Descriptor().Name)
	}
	s, err := m.loader.Load(ctx, d)
	if err != nil {
		return err
	}
	m.active = s
	logging.FromContext(ctx).Info("session: model loaded", "model", d.Name, "language", d.Language)
	return nil
}

// Switch replaces the active session with name. An unknown name returns an
// *UnknownModelError and leaves the current session untouched. The current
// model is fully unloaded before the new one is loaded; if the new one then
// fails to load, the previous model is reloaded.
func (m *Manager) Switch(ctx context.Context, name string) error {
	d, err := m.registry.Lookup(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	log := logging.FromContext(ctx)

	prev := m.active
	if prev != nil {
		if err := m.loader.Unload(ctx, prev); err != nil {
			return err
		}
		m.active = nil
	}

	s, err := m.loader.Load(ctx, d)
	if err != nil {
		if prev != nil {
			restored, rerr := m.loader.Load(ctx, prev.Descriptor())
			if rerr != nil {
				log.Error("session: could not restore previous model", "model", prev.Descriptor().Name, "error", rerr)
				return errors.Join(err, rerr)
			}
			m.active = restored
		}
		return err
	}

	m.active = s
	from := ""
	if prev != nil {
		from = prev.Descriptor().Name
	}
	log.Info("session: model switched", "from", from, "to", d.Name, "language", d.Language)
	return nil
}

// Active returns the loaded session, or nil before Start.
func (m *Manager) Active() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Descriptor returns the active model's descriptor.
func (m *Manager) Descriptor() Descriptor {
	if s := m.Active(); s != nil {
		return s.Descriptor()
	}
	return Descriptor{}
}

// Language returns the persona language of the active model.
func (m *Manager) Language() langdetect.Language {
	if s := m.Active(); s != nil {
		return s.Descriptor().Language
	}
	return langdetect.Unknown
}

// Close unloads the active session.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	err := m.loader.Unload(ctx, m.active)
	m.active = nil
	return err
}
