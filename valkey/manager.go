package valkey

import (
	"sync"

	"github.com/dvasquez01/pyomron-fins/config"
)

// Manager manages multiple Valkey publishers.
type Manager struct {
	publishers []*Publisher
	mu         sync.RWMutex

	// Shared callbacks applied to every publisher
	writeHandler   WriteHandler
	writeValidator func(plcName, tagName string) bool
}

// NewManager creates a Valkey manager.
func NewManager() *Manager {
	return &Manager{
		publishers: make([]*Publisher, 0),
	}
}

// LoadFromConfig loads publishers from configuration.
func (m *Manager) LoadFromConfig(configs []config.ValkeyConfig, namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range configs {
		pub := NewPublisher(&configs[i], namespace)
		pub.SetWriteHandler(m.writeHandler)
		pub.SetWriteValidator(m.writeValidator)
		m.publishers = append(m.publishers, pub)
	}
}

// Add adds a new publisher.
func (m *Manager) Add(cfg *config.ValkeyConfig, namespace string) *Publisher {
	m.mu.Lock()
	defer m.mu.Unlock()

	pub := NewPublisher(cfg, namespace)
	pub.SetWriteHandler(m.writeHandler)
	pub.SetWriteValidator(m.writeValidator)
	m.publishers = append(m.publishers, pub)
	return pub
}

// Remove removes a publisher by name, stopping it if running.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	var removed *Publisher
	for i, pub := range m.publishers {
		if pub.Name() == name {
			removed = pub
			m.publishers = append(m.publishers[:i], m.publishers[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if removed == nil {
		return false
	}
	removed.Stop()
	return true
}

// Get returns a publisher by name.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pub := range m.publishers {
		if pub.Name() == name {
			return pub
		}
	}
	return nil
}

// List returns all publishers.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Publisher(nil), m.publishers...)
}

// StartAll starts all publishers configured as enabled. Returns the number
// started.
func (m *Manager) StartAll() int {
	started := 0
	for _, pub := range m.List() {
		if pub.config.Enabled && !pub.IsRunning() {
			if err := pub.Start(); err != nil {
				logValkey("Failed to start %s: %v", pub.Name(), err)
			} else {
				logValkey("Started %s (%s)", pub.Name(), pub.Address())
				started++
			}
		}
	}
	return started
}

// StopAll stops all publishers.
func (m *Manager) StopAll() {
	for _, pub := range m.List() {
		pub.Stop()
	}
}

// Publish stores a value in all running publishers.
func (m *Manager) Publish(plcName, tagName, address string, value interface{}) {
	m.mu.RLock()
	validator := m.writeValidator
	m.mu.RUnlock()

	writable := false
	if validator != nil {
		writable = validator(plcName, tagName)
	}

	for _, pub := range m.List() {
		if pub.IsRunning() {
			if err := pub.Publish(plcName, tagName, address, value, writable); err != nil {
				logValkey("Publish to %s failed: %v", pub.Name(), err)
			}
		}
	}
}

// PublishHealth stores controller health in all running publishers.
func (m *Manager) PublishHealth(plcName string, online bool, status, errMsg string) {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			pub.PublishHealth(plcName, online, status, errMsg)
		}
	}
}

// AnyRunning returns true if any publisher is running.
func (m *Manager) AnyRunning() bool {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			return true
		}
	}
	return false
}

// SetWriteHandler sets the write handler for all publishers.
func (m *Manager) SetWriteHandler(handler WriteHandler) {
	m.mu.Lock()
	m.writeHandler = handler
	m.mu.Unlock()

	for _, pub := range m.List() {
		pub.SetWriteHandler(handler)
	}
}

// SetWriteValidator sets the write validator for all publishers.
func (m *Manager) SetWriteValidator(validator func(plcName, tagName string) bool) {
	m.mu.Lock()
	m.writeValidator = validator
	m.mu.Unlock()

	for _, pub := range m.List() {
		pub.SetWriteValidator(validator)
	}
}
