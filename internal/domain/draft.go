package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MessageDraft is the input for appending a message. ID and CreatedAt are
// optional; when absent the gateway generates a UUID and uses the server
// clock.
type MessageDraft struct {
	ID          string           `json:"id,omitempty"`
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Model       *string          `json:"model,omitempty"`
	CreatedAt   *ClientTimestamp `json:"created_at,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
}

// Optional carries a value together with whether it was supplied at all.
// A patch field that is not Set leaves the stored column untouched.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Set: true} }

// UnmarshalJSON marks the field as present whenever the key appears in the
// payload, including an explicit null.
func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		var zero T
		o.Value = zero
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

// MarshalJSON writes the held value.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// MessagePatch is a partial update of a message. Only fields that are Set
// are written; UpdatedAt is always refreshed.
type MessagePatch struct {
	Content         Optional[string]           `json:"content"`
	Model           Optional[*string]          `json:"model"`
	Stats           Optional[*GenerationStats] `json:"stats"`
	GeneratedImages Optional[[]ImageRef]       `json:"generated_images"`
}

// Empty reports whether the patch carries no fields.
func (p MessagePatch) Empty() bool {
	return !p.Content.Set && !p.Model.Set && !p.Stats.Set && !p.GeneratedImages.Set
}

// ClientTimestamp is a creation time supplied by a client. It accepts epoch
// milliseconds or an RFC 3339 string.
type ClientTimestamp struct {
	t time.Time
}

// NewClientTimestamp wraps t.
func NewClientTimestamp(t time.Time) *ClientTimestamp { return &ClientTimestamp{t: t} }

// Time returns the wrapped instant in UTC.
func (c ClientTimestamp) Time() time.Time { return c.t.UTC() }

func (c *ClientTimestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			c.t = time.UnixMilli(ms)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("created_at: %w", err)
		}
		c.t = t
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("created_at: %w", err)
	}
	c.t = time.UnixMilli(ms)
	return nil
}

func (c ClientTimestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.t.UTC().Format(time.RFC3339Nano))
}
