package conversation

import "sync"

// Hub owns one Store per active chat in this process.
type Hub struct {
	mu     sync.Mutex
	stores map[string]*Store
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{stores: make(map[string]*Store)}
}

// Get returns the store for chatID, creating it on first use.
func (h *Hub) Get(chatID string) *Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.stores[chatID]
	if !ok {
		s = NewStore(chatID)
		h.stores[chatID] = s
	}
	return s
}

// Subscribe registers fn on chatID's store, creating the store if needed.
// Lookup and registration happen under the hub lock, so a concurrent Release
// can never drop the store between the two.
func (h *Hub) Subscribe(chatID, event string, fn Callback) (*Store, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.stores[chatID]
	if !ok {
		s = NewStore(chatID)
		h.stores[chatID] = s
	}
	return s, s.Subscribe(event, fn)
}

// Lookup returns the store for chatID without creating one.
func (h *Hub) Lookup(chatID string) (*Store, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.stores[chatID]
	return s, ok
}

// Release drops the store for chatID when nothing observes it and no message
// is mid-stream. It reports whether the store was dropped.
func (h *Hub) Release(chatID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.stores[chatID]
	if !ok {
		return false
	}
	s.mu.Lock()
	idle := len(s.subs) == 0 && len(s.streaming) == 0
	s.mu.Unlock()
	if !idle {
		return false
	}
	delete(h.stores, chatID)
	return true
}

// Len reports how many chats have a store.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stores)
}
