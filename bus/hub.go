package bus

import "sync"

// Hub connects the buses of every tab in a profile. A storage mutation
// published by one tab reaches every other attached tab.
type Hub struct {
	mu    sync.RWMutex
	buses map[string]*Bus
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{buses: make(map[string]*Bus)}
}

// Attach registers b under tabID. The returned func detaches it.
func (h *Hub) Attach(tabID string, b *Bus) (detach func()) {
	h.mu.Lock()
	h.buses[tabID] = b
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		if h.buses[tabID] == b {
			delete(h.buses, tabID)
		}
		h.mu.Unlock()
	}
}

// Publish reports a change of key made by originTabID. An empty originTabID
// means the change came from outside this process and reaches every tab.
func (h *Hub) Publish(originTabID, key string) {
	h.mu.RLock()
	targets := make([]*Bus, 0, len(h.buses))
	for id, b := range h.buses {
		if id == originTabID {
			continue
		}
		targets = append(targets, b)
	}
	h.mu.RUnlock()

	for _, b := range targets {
		b.DeliverExternalChange(key)
	}
}

// Tabs returns the number of attached tabs.
func (h *Hub) Tabs() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buses)
}
