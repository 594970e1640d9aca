package channel

import (
	"sync"

	"github.com/ocx/agentchat-relay/internal/relayerr"
)

// Manager owns the set of live channels, keyed by name including the
// leading '#'. Grounded on the session Registry's map+mutex shape.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	ringSize int
}

// NewManager builds an empty channel manager.
func NewManager(ringSize int) *Manager {
	return &Manager{channels: make(map[string]*Channel), ringSize: ringSize}
}

// GetOrCreate returns the named channel, creating it (public, unless
// inviteOnly is requested by the creator) if it does not exist yet.
func (m *Manager) GetOrCreate(name string, inviteOnly bool) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok {
		ch = NewChannel(name, inviteOnly, m.ringSize)
		m.channels[name] = ch
	}
	return ch
}

// Get returns an existing channel or a CHANNEL_NOT_FOUND error.
func (m *Manager) Get(name string) (*Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	if !ok {
		return nil, relayerr.NotFoundf(relayerr.CodeChannelNotFound, "channel %s not found", name)
	}
	return ch, nil
}

// AllChannels returns a snapshot of the channel map, satisfying
// channel.Registry for the idle prompter.
func (m *Manager) AllChannels() map[string]*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Channel, len(m.channels))
	for k, v := range m.channels {
		out[k] = v
	}
	return out
}

// Names lists every known channel name.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.channels))
	for k := range m.channels {
		out = append(out, k)
	}
	return out
}

// LeaveAll removes agentID from every channel it belongs to, used on
// disconnect/ban.
func (m *Manager) LeaveAll(agentID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		ch.Leave(agentID)
	}
}
