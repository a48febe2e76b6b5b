package llm

import (
	"context"
	"strings"
	"time"

	"github.com/tbourn/go-chat-stream/internal/sysutil"
)

// Scripted replays a fixed list of chunks. It is used by the echo provider
// and by tests that need a deterministic stream.
type Scripted struct {
	Chunks []string
	// Delay is slept before each chunk.
	Delay time.Duration
	// Err, when set, terminates the stream after the chunks instead of Done.
	Err error
	// Hang, when true, stops after the chunks without a terminal event and
	// keeps the channel open until the context is cancelled.
	Hang   bool
	Result *Result
	// Gate, when set, is received from before each chunk after the first.
	Gate <-chan struct{}
}

// Stream implements Source.
func (s *Scripted) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		m := newMeter()
		for i, c := range s.Chunks {
			if i > 0 && s.Gate != nil {
				select {
				case <-s.Gate:
				case <-ctx.Done():
					return
				}
			}
			if s.Delay > 0 {
				t := time.NewTimer(s.Delay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
			m.chunk()
			if !emit(ctx, out, Chunk(c)) {
				return
			}
		}
		if s.Hang {
			<-ctx.Done()
			return
		}
		if s.Err != nil {
			emit(ctx, out, Fail(s.Err))
			return
		}
		res := Result{Stats: m.stats(countTokens(req.Prompt()), len(s.Chunks))}
		if s.Result != nil {
			res = *s.Result
		}
		emit(ctx, out, Done(res))
	}()
	return out, nil
}

// Echo answers with the prompt itself, one word per chunk. It needs no
// credentials and is the default provider for local runs.
type Echo struct {
	Delay time.Duration
}

// Stream implements Source.
func (e Echo) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	prompt := req.Prompt()
	if prompt == "" {
		return nil, ErrEmptyHistory
	}
	words := strings.SplitAfter(prompt, " ")
	names := make([]string, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		names = append(names, sysutil.FirstNonEmpty(a.Name, a.URL))
	}
	if len(names) > 0 {
		words = append(words, " (attachments: "+strings.Join(names, ", ")+")")
	}
	return (&Scripted{Chunks: words, Delay: e.Delay}).Stream(ctx, req)
}

// countTokens approximates a token count by whitespace-separated words.
func countTokens(s string) int {
	return len(strings.Fields(s))
}

var _ Source = (*Scripted)(nil)
var _ Source = Echo{}
