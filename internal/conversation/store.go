// Package conversation holds the process-resident view of a chat's messages.
//
// A Store is the canonical in-memory state for one chat. Streaming turns
// write to it on every delta without touching the database; durable results
// replace the in-memory record when they land. Observers subscribe to named
// events and are invoked synchronously after each mutation.
package conversation

import (
	"sort"
	"sync"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// Event names passed to subscribers.
const (
	EventDelta     = "delta"
	EventCommitted = "committed"
	EventLoaded    = "loaded"
	// EventAll subscribes to every event.
	EventAll = "*"
)

// State is a snapshot of the store handed to subscribers.
type State struct {
	ChatID    string
	Messages  []domain.Message
	Streaming map[string]bool
	// Changed is the message the event is about; nil for EventLoaded.
	Changed *domain.Message
}

// Callback observes store mutations. It must not call back into the store
// synchronously with a mutation of the same chat.
type Callback func(event string, st State)

type subscription struct {
	id    uint64
	event string
	fn    Callback
}

// Store is safe for concurrent use.
type Store struct {
	chatID string

	mu        sync.Mutex
	loaded    bool
	messages  []domain.Message
	index     map[string]int
	streaming map[string]bool
	subs      []subscription
	nextSubID uint64
}

// NewStore returns an empty store for chatID.
func NewStore(chatID string) *Store {
	return &Store{
		chatID:    chatID,
		index:     make(map[string]int),
		streaming: make(map[string]bool),
	}
}

// ChatID returns the chat this store mirrors.
func (s *Store) ChatID() string { return s.chatID }

// Load replaces the in-memory history with msgs, which are sorted
// chronologically. Messages currently streaming keep their in-memory content.
func (s *Store) Load(msgs []domain.Message) {
	s.mu.Lock()
	live := make(map[string]domain.Message, len(s.streaming))
	for id := range s.streaming {
		if i, ok := s.index[id]; ok {
			live[id] = s.messages[i]
		}
	}
	s.messages = append(s.messages[:0:0], msgs...)
	for i := range s.messages {
		if m, ok := live[s.messages[i].ID]; ok {
			s.messages[i].Content = m.Content
		}
	}
	s.sortLocked()
	s.loaded = true
	st, subs := s.snapshotLocked(nil, EventLoaded)
	s.mu.Unlock()

	notify(subs, EventLoaded, st)
}

// Loaded reports whether Load has been called.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// ApplyStreamingDelta sets the content of message id to text, the full
// accumulated output so far. It performs no I/O. Unknown ids are created as
// assistant messages at the tail.
func (s *Store) ApplyStreamingDelta(id, text string) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.messages = append(s.messages, domain.Message{ID: id, ChatID: s.chatID, Role: domain.RoleAssistant})
		i = len(s.messages) - 1
		s.index[id] = i
	}
	s.messages[i].Content = text
	s.streaming[id] = true
	changed := s.messages[i]
	st, subs := s.snapshotLocked(&changed, EventDelta)
	s.mu.Unlock()

	notify(subs, EventDelta, st)
}

// ApplyCommitted replaces the in-memory record with the durable message m and
// clears its streaming flag.
func (s *Store) ApplyCommitted(m domain.Message) {
	s.mu.Lock()
	if i, ok := s.index[m.ID]; ok {
		s.messages[i] = m
	} else {
		s.messages = append(s.messages, m)
	}
	delete(s.streaming, m.ID)
	s.sortLocked()
	changed := m
	st, subs := s.snapshotLocked(&changed, EventCommitted)
	s.mu.Unlock()

	notify(subs, EventCommitted, st)
}

// Messages returns a copy of the current history in chronological order.
func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// Message returns the in-memory record for id.
func (s *Store) Message(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return s.messages[i], true
}

// Streaming reports whether id has received a delta that is not yet committed.
func (s *Store) Streaming(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming[id]
}

// Subscribe registers fn for event (or EventAll) and returns a function that
// removes the subscription. Late subscribers receive no replay.
func (s *Store) Subscribe(event string, fn Callback) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscription{id: id, event: event, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribers returns how many subscriptions are registered.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) sortLocked() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		a, b := s.messages[i], s.messages[j]
		// placeholders without a timestamp stay at the tail
		if a.CreatedAt.IsZero() != b.CreatedAt.IsZero() {
			return b.CreatedAt.IsZero()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	clear(s.index)
	for i, m := range s.messages {
		s.index[m.ID] = i
	}
}

func (s *Store) snapshotLocked(changed *domain.Message, event string) (State, []Callback) {
	var subs []Callback
	for _, sub := range s.subs {
		if sub.event == event || sub.event == EventAll {
			subs = append(subs, sub.fn)
		}
	}
	if len(subs) == 0 {
		return State{}, nil
	}
	streaming := make(map[string]bool, len(s.streaming))
	for k, v := range s.streaming {
		streaming[k] = v
	}
	return State{
		ChatID:    s.chatID,
		Messages:  append([]domain.Message(nil), s.messages...),
		Streaming: streaming,
		Changed:   changed,
	}, subs
}

func notify(subs []Callback, event string, st State) {
	for _, fn := range subs {
		fn(event, st)
	}
}
