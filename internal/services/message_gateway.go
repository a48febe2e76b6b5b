// Package services – MessageGateway
//
// MessageGateway is the single durability boundary for messages. Every write
// is scoped by an ownership predicate evaluated in the same statement (or
// transaction) as the mutation, and every successful write bumps the parent
// chat's updated_at. Storage errors are logged here and surfaced only as
// ErrPersistence.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/observability"
	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/utils"
)

// List paging bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// MessagePage is the result of List.
type MessagePage struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// MessageGateway persists messages with ownership checks.
type MessageGateway struct {
	DB  *gorm.DB
	Now func() time.Time
}

// NewMessageGateway returns a gateway over db.
func NewMessageGateway(db *gorm.DB) *MessageGateway {
	return &MessageGateway{DB: db, Now: time.Now}
}

func (g *MessageGateway) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

// Append inserts a message built from d into chatID.
//
// The id and created_at are taken from the draft when supplied (offline
// authored content) and generated otherwise. A reused id fails with
// ErrDuplicateID and never overwrites the stored row.
func (g *MessageGateway) Append(ctx context.Context, userID, chatID string, d domain.MessageDraft) (*domain.Message, error) {
	ctx, span := observability.Tracer("services/MessageGateway").Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	cid, err := parseID("chat id", chatID)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	if strings.TrimSpace(d.ID) != "" {
		if id, err = parseID("message id", d.ID); err != nil {
			return nil, err
		}
	}
	role := d.Role
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleUser && role != domain.RoleAssistant {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidArgument, d.Role)
	}

	now := g.now()
	createdAt := now
	if d.CreatedAt != nil && !d.CreatedAt.Time().IsZero() {
		createdAt = d.CreatedAt.Time()
	}

	m := &domain.Message{
		ID:          id,
		ChatID:      cid,
		Role:        role,
		Content:     d.Content,
		Model:       d.Model,
		Attachments: d.Attachments,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}
	span.SetAttributes(attribute.String("message.id", id))

	err = g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.TouchOwnedChat(ctx, tx, cid, userID, now); err != nil {
			return err
		}
		return repo.InsertMessage(ctx, tx, m)
	})
	if err != nil {
		return nil, g.fail(ctx, span, "append", err)
	}
	return m, nil
}

// Update applies the fields set in p to message id. Omitted fields keep their
// stored values; explicitly set ones (including nil) replace them.
func (g *MessageGateway) Update(ctx context.Context, userID, chatID, id string, p domain.MessagePatch) (*domain.Message, error) {
	ctx, span := observability.Tracer("services/MessageGateway").Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	cid, err := parseID("chat id", chatID)
	if err != nil {
		return nil, err
	}
	mid, err := parseID("message id", id)
	if err != nil {
		return nil, err
	}

	cols, err := patchColumns(p)
	if err != nil {
		return nil, err
	}

	now := g.now()
	cols["updated_at"] = now

	var out *domain.Message
	err = g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateOwnedMessage(ctx, tx, userID, cid, mid, cols); err != nil {
			return err
		}
		if err := repo.TouchOwnedChat(ctx, tx, cid, userID, now); err != nil {
			return err
		}
		m, err := repo.GetOwnedMessage(ctx, tx, userID, cid, mid)
		out = m
		return err
	})
	if err != nil {
		return nil, g.fail(ctx, span, "update", err)
	}
	return out, nil
}

// List returns a chronological page of chatID's history. offset counts back
// from the newest message; limit is clamped to [1, MaxListLimit] with
// DefaultListLimit for non-positive values.
func (g *MessageGateway) List(ctx context.Context, userID, chatID string, limit, offset int) (*MessagePage, error) {
	limit, offset = ClampPage(limit, offset)

	ctx, span := observability.Tracer("services/MessageGateway").Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("limit", limit),
			attribute.Int("offset", offset),
		),
	)
	defer span.End()

	cid, err := parseID("chat id", chatID)
	if err != nil {
		return nil, err
	}

	db := g.DB.WithContext(ctx)
	if _, err := repo.GetChat(ctx, db, cid, userID); err != nil {
		return nil, g.fail(ctx, span, "list", err)
	}
	total, err := repo.CountMessages(ctx, db, cid)
	if err != nil {
		return nil, g.fail(ctx, span, "list", err)
	}
	page := &MessagePage{Messages: []domain.Message{}, Total: total, Limit: limit, Offset: offset}
	if total == 0 {
		return page, nil
	}

	items, err := repo.ListMessagesPage(ctx, db, cid, offset, limit)
	if err != nil {
		return nil, g.fail(ctx, span, "list", err)
	}
	// fetched newest first; callers get chronological order
	slices.Reverse(items)
	page.Messages = items
	page.HasMore = utils.HasMore(offset, len(items), total)
	return page, nil
}

// History returns the whole of chatID's history in chronological order. It
// is the context a turn is built from, so unlike List it is never paged.
func (g *MessageGateway) History(ctx context.Context, userID, chatID string) ([]domain.Message, error) {
	ctx, span := observability.Tracer("services/MessageGateway").Start(ctx, "History",
		trace.WithAttributes(attribute.String("chat.id", chatID)),
	)
	defer span.End()

	cid, err := parseID("chat id", chatID)
	if err != nil {
		return nil, err
	}
	db := g.DB.WithContext(ctx)
	if _, err := repo.GetChat(ctx, db, cid, userID); err != nil {
		return nil, g.fail(ctx, span, "history", err)
	}
	items, err := repo.ListMessages(ctx, db, cid)
	if err != nil {
		return nil, g.fail(ctx, span, "history", err)
	}
	if items == nil {
		items = []domain.Message{}
	}
	span.SetAttributes(attribute.Int("messages", len(items)))
	return items, nil
}

// ClampPage normalises list paging parameters.
func ClampPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// fail maps repository errors onto the service taxonomy. Anything unexpected
// is logged with its cause and replaced by ErrPersistence.
func (g *MessageGateway) fail(ctx context.Context, span trace.Span, op string, err error) error {
	var out error
	switch {
	case errors.Is(err, repo.ErrNotFound):
		out = ErrNotFound
	case errors.Is(err, repo.ErrDuplicate):
		out = ErrDuplicateID
	default:
		logFrom(ctx).Error().Err(err).Str("op", op).Msg("message persistence failed")
		out = ErrPersistence
	}
	span.RecordError(out)
	span.SetStatus(codes.Error, out.Error())
	return out
}

// patchColumns turns a patch into a column map. Structured fields are
// serialized to JSON text here; a nil value clears the column.
func patchColumns(p domain.MessagePatch) (map[string]any, error) {
	cols := map[string]any{}
	if p.Content.Set {
		cols["content"] = p.Content.Value
	}
	if p.Model.Set {
		cols["model"] = p.Model.Value
	}
	if p.Stats.Set {
		v, err := jsonColumn(p.Stats.Value, p.Stats.Value == nil)
		if err != nil {
			return nil, err
		}
		cols["stats"] = v
	}
	if p.GeneratedImages.Set {
		v, err := jsonColumn(p.GeneratedImages.Value, p.GeneratedImages.Value == nil)
		if err != nil {
			return nil, err
		}
		cols["generated_images"] = v
	}
	return cols, nil
}

func jsonColumn(v any, null bool) (any, error) {
	if null {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return string(b), nil
}

func parseID(what, s string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: malformed %s", ErrInvalidArgument, what)
	}
	return u.String(), nil
}

// logFrom returns the request-scoped logger carried by ctx, or the global one.
func logFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
