package mocks

import (
	"sync"

	"github.com/teilomillet/promptscore/config"
)

// MockConfigWatcher is an in-memory config.Watcher. Each subscriber holds at
// most one pending config and always sees the latest one pushed.
type MockConfigWatcher struct {
	mu          sync.Mutex
	current     *config.Config
	subscribers []chan *config.Config
	closed      bool
}

var _ config.Watcher = (*MockConfigWatcher)(nil)

func NewMockConfigWatcher(cfg *config.Config) *MockConfigWatcher {
	return &MockConfigWatcher{current: cfg}
}

func (m *MockConfigWatcher) GetCurrentConfig() *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe returns a channel primed with the current config.
func (m *MockConfigWatcher) Subscribe() <-chan *config.Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *config.Config, 1)
	if m.closed {
		close(ch)
		return ch
	}
	ch <- m.current
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Subscribers reports how many channels are open.
func (m *MockConfigWatcher) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

func (m *MockConfigWatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
	return nil
}

// UpdateConfig publishes cfg, replacing any config a subscriber has not
// consumed yet.
func (m *MockConfigWatcher) UpdateConfig(cfg *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = cfg
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}

// Reload publishes a copy of the current config after applying mutate,
// the way an edited promptscore.yaml would arrive, and returns it.
func (m *MockConfigWatcher) Reload(mutate func(*config.Config)) *config.Config {
	next := *m.GetCurrentConfig()
	mutate(&next)
	m.UpdateConfig(&next)
	return &next
}
