// Package llm defines the token-stream source boundary used by turns and the
// providers that implement it.
//
// A Source turns a conversation into a lazy sequence of Events delivered on a
// channel: zero or more chunks followed by exactly one terminal event (Done or
// Error), after which the channel is closed. Cancelling the context passed to
// Stream stops delivery; the channel is still closed.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// EventKind discriminates Event.
type EventKind int

const (
	// EventChunk carries the next piece of generated text.
	EventChunk EventKind = iota
	// EventDone terminates the stream successfully.
	EventDone
	// EventError terminates the stream with a failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is carried by the Done event.
type Result struct {
	Stats  domain.GenerationStats
	Images []domain.ImageRef
}

// Event is one item of a token stream.
type Event struct {
	Kind   EventKind
	Text   string
	Result *Result
	Err    error
}

// Chunk builds a chunk event.
func Chunk(text string) Event { return Event{Kind: EventChunk, Text: text} }

// Done builds a successful terminal event.
func Done(r Result) Event { return Event{Kind: EventDone, Result: &r} }

// Fail builds a failed terminal event.
func Fail(err error) Event { return Event{Kind: EventError, Err: err} }

// Request is the input to a stream: the model to use, the history to condition
// on (chronological, ending with the prompt) and any attachments of the
// prompting user message.
type Request struct {
	Model       string
	History     []domain.Message
	Attachments []domain.Attachment
}

// Prompt returns the content of the last user message in History.
func (r Request) Prompt() string {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Role == domain.RoleUser {
			return r.History[i].Content
		}
	}
	return ""
}

// Source produces token streams.
type Source interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

// ErrEmptyHistory is returned when a request has nothing to respond to.
var ErrEmptyHistory = errors.New("llm: empty history")

// emit sends ev unless ctx is done. It reports whether the send happened.
func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// meter measures time to first token and throughput for providers that do
// not report them.
type meter struct {
	start time.Time
	first time.Time
	now   func() time.Time
}

func newMeter() *meter {
	return &meter{start: time.Now(), now: time.Now}
}

func (m *meter) chunk() {
	if m.first.IsZero() {
		m.first = m.now()
	}
}

// stats fills the timing fields. Tokens per second is computed over the
// generation phase (after the first token) when there is one.
func (m *meter) stats(promptTokens, completionTokens int) domain.GenerationStats {
	end := m.now()
	st := domain.GenerationStats{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
	if !m.first.IsZero() {
		st.TimeToFirstToken = m.first.Sub(m.start).Milliseconds()
	}
	from := m.first
	if from.IsZero() {
		from = m.start
	}
	if secs := end.Sub(from).Seconds(); secs > 0 && completionTokens > 0 {
		st.TokensPerSecond = float64(completionTokens) / secs
	}
	return st
}
