// Package services holds the application logic for chats, message
// persistence and streaming turns. This file centralizes the error values
// returned by service methods; handlers translate them into HTTP results.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-chat-stream/internal/ratelimit"
)

var (
	// ErrInvalidArgument marks malformed identifiers, timestamps or payloads.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound covers both absence and lack of ownership; the two are
	// deliberately indistinguishable.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited is the cause of a denied admission.
	ErrRateLimited = ratelimit.ErrRateLimited

	// ErrPersistence is a storage fault. The underlying cause is logged and
	// never returned to callers.
	ErrPersistence = errors.New("persistence failure")

	// ErrDuplicateID is a uniqueness violation on a client-chosen message id.
	// It is a PersistenceFailure: errors.Is(ErrDuplicateID, ErrPersistence).
	ErrDuplicateID = fmt.Errorf("%w: duplicate message id", ErrPersistence)

	// ErrStreamFailure is a token source error or an idle stream.
	ErrStreamFailure = errors.New("stream failure")

	// ErrTurnInProgress rejects a send or regenerate while the chat already
	// has an active turn.
	ErrTurnInProgress = errors.New("turn in progress")

	// ErrShuttingDown rejects new turns once the orchestrator is draining.
	ErrShuttingDown = errors.New("shutting down")
)

// Chat-level errors.
var (
	ErrChatNotFound = fmt.Errorf("chat %w", ErrNotFound)
	ErrEmptyPrompt  = fmt.Errorf("%w: prompt is empty", ErrInvalidArgument)
	ErrTooLong      = fmt.Errorf("%w: prompt too long", ErrInvalidArgument)
)
