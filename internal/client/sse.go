package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxEventSize bounds a single event-stream line. Delta events carry
// the whole accumulated reply, so the bound tracks the largest reply a
// client expects rather than the size of one chunk.
const DefaultMaxEventSize = 64 << 20

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// readEvents decodes an event stream from r and calls fn for every complete
// event. It stops at EOF or at the first error returned by fn. A line longer
// than maxSize fails with bufio.ErrTooLong.
func readEvents(r io.Reader, maxSize int, fn func(Event) error) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxEventSize
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(64*1024, maxSize)), maxSize)

	var (
		cur  Event
		data []string
	)
	flush := func() error {
		if cur.Name == "" && len(data) == 0 {
			return nil
		}
		cur.Data = strings.Join(data, "\n")
		ev := cur
		cur, data = Event{}, nil
		if ev.Name == "" {
			ev.Name = "message"
		}
		return fn(ev)
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				cur.Name = value
			case "data":
				data = append(data, value)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("event stream (limit %d bytes): %w", maxSize, err)
	}
	return flush()
}
