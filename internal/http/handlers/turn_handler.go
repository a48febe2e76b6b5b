// Turn HTTP handlers.
//
//   - POST   /chats/{id}/turns                       (send a message, stream the reply)
//   - POST   /chats/{id}/messages/{mid}/regenerate   (redo an assistant message)
//   - GET    /chats/{id}/turns/current               (active turn state)
//   - DELETE /chats/{id}/turns/current               (stop the active turn)
//
// Streaming endpoints answer with text/event-stream. Events carry a JSON
// services.TurnEvent and are named after its type: user_message,
// placeholder, delta (full accumulated text), then committed or failed. A
// request-level error after the stream opened arrives as an "error" event
// holding an ErrorResponse.
//
// A client disconnect cancels the turn; the partial text is still committed.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/services"
)

// PostTurnRequest starts a turn with a new user message.
type PostTurnRequest struct {
	// ID optionally fixes the user message id (UUID).
	ID      string `json:"id,omitempty" format:"uuid"`
	Content string `json:"content" example:"Plan a three day trip to Lisbon"`
	// CreatedAt is epoch milliseconds or RFC 3339.
	CreatedAt   *domain.ClientTimestamp `json:"created_at,omitempty" swaggertype:"string"`
	Attachments []domain.Attachment     `json:"attachments,omitempty"`
	// Model overrides the server default.
	Model string `json:"model,omitempty" example:"gemini-2.5-flash"`
}

// RegenerateRequest optionally overrides the model of a regeneration.
type RegenerateRequest struct {
	Model string `json:"model,omitempty"`
}

// TurnStatusResponse describes a chat's active turn.
type TurnStatusResponse struct {
	InProgress bool   `json:"in_progress"`
	State      string `json:"state" example:"streaming"`
	MessageID  string `json:"message_id,omitempty"`
	Stopped    bool   `json:"stopped,omitempty"`
}

// streamObserver forwards turn events to the event stream.
func streamObserver(s *eventStream) func(services.TurnEvent) {
	return func(ev services.TurnEvent) { s.send(string(ev.Type), ev) }
}

// PostTurn godoc
// @ID          postTurn
// @Summary     Send a message and stream the reply
// @Description Appends the user message, then streams the assistant reply as server-sent
// @Description events. With an Idempotency-Key that already produced a reply, the stored
// @Description reply is replayed as a single committed event and no new turn starts.
// @Tags        Turns
// @Accept      json
// @Produce     text/event-stream
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       id               path    string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostTurnRequest  true  "User message"
// @Success     200  {object}  services.TurnEvent      "Event stream"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Turn in progress"
// @Failure     429  {object}  middleware.RateLimitedResponse "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats/{id}/turns [post]
func (h *Handlers) PostTurn(c *gin.Context) {
	chatID, valid := chatParam(c)
	if !valid {
		return
	}
	uid := userID(c)
	ctx := c.Request.Context()

	if h.replay(c, uid, chatID) {
		return
	}

	var req PostTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	stream := newEventStream(c)
	res, err := h.turns.Send(ctx, services.TurnRequest{
		UserID: uid,
		ChatID: chatID,
		UserMessage: &domain.MessageDraft{
			ID:          req.ID,
			Role:        domain.RoleUser,
			Content:     sanitizeContent(req.Content),
			CreatedAt:   req.CreatedAt,
			Attachments: req.Attachments,
		},
		Model:    req.Model,
		Observer: streamObserver(stream),
	})
	if err != nil {
		stream.fail("turn", err)
		return
	}
	h.remember(c, uid, chatID, res)
}

// replay serves a stored result for the request's Idempotency-Key. It
// reports whether the request was answered.
func (h *Handlers) replay(c *gin.Context, uid, chatID string) bool {
	msgID, hit := middleware.ReplayMessageID(c)
	if !hit || h.db == nil {
		return false
	}
	m, err := repo.GetOwnedMessage(c.Request.Context(), h.db, uid, chatID, msgID)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("message_id", msgID).Msg("idempotent replay target missing")
		return false
	}
	c.Header("Idempotency-Replayed", "true")
	newEventStream(c).send(string(services.TurnCommitted), services.TurnEvent{
		Type:      services.TurnCommitted,
		MessageID: m.ID,
		Content:   m.Content,
		Message:   m,
	})
	return true
}

// remember records a committed turn under the request's Idempotency-Key.
func (h *Handlers) remember(c *gin.Context, uid, chatID string, res *services.TurnResult) {
	key, has := middleware.GetIdempotencyKey(c)
	if !has || h.db == nil || res == nil || res.Message == nil || res.State != services.StateCommitted {
		return
	}
	// the client may be gone; the record must still land
	ctx := context.WithoutCancel(c.Request.Context())
	if _, err := repo.CreateIdempotency(ctx, h.db, uid, chatID, key, res.Message.ID, http.StatusOK, h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		middleware.LoggerFrom(c).Warn().Err(err).Str("key", key).Msg("idempotency record not stored")
	}
}

// IdempotencyLookup resolves Idempotency-Key replays against stored records.
func IdempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, chatID, key string, now time.Time) (string, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, chatID, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return rec.MessageID, nil
	}
}

// RegenerateMessage godoc
// @ID          regenerateMessage
// @Summary     Regenerate an assistant message
// @Description Streams a new reply into an existing assistant message. The model sees
// @Description only the history before that message.
// @Tags        Turns
// @Accept      json
// @Produce     text/event-stream
// @Param       id    path  string  true  "Chat ID (UUID)"     format(uuid)
// @Param       mid   path  string  true  "Message ID (UUID)"  format(uuid)
// @Param       body  body  handlers.RegenerateRequest  false  "Options"
// @Success     200  {object}  services.TurnEvent      "Event stream"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Turn in progress"
// @Failure     429  {object}  middleware.RateLimitedResponse "Rate limited"
// @Router      /chats/{id}/messages/{mid}/regenerate [post]
func (h *Handlers) RegenerateMessage(c *gin.Context) {
	chatID, valid := chatParam(c)
	if !valid {
		return
	}
	var req RegenerateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	stream := newEventStream(c)
	_, err := h.turns.Regenerate(c.Request.Context(), userID(c), chatID, c.Param("mid"), req.Model, streamObserver(stream))
	if err != nil {
		stream.fail("turn", err)
	}
}

// TurnStatus godoc
// @ID          turnStatus
// @Summary     Active turn state
// @Tags        Turns
// @Produce     json
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.TurnStatusResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Router      /chats/{id}/turns/current [get]
func (h *Handlers) TurnStatus(c *gin.Context) {
	chatID, valid := h.ownedChat(c)
	if !valid {
		return
	}
	ok(c, http.StatusOK, h.status(chatID))
}

// StopTurn godoc
// @ID          stopTurn
// @Summary     Stop the active turn
// @Description Cancels generation. The text produced so far is committed.
// @Tags        Turns
// @Produce     json
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.TurnStatusResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Router      /chats/{id}/turns/current [delete]
func (h *Handlers) StopTurn(c *gin.Context) {
	chatID, valid := h.ownedChat(c)
	if !valid {
		return
	}
	st := h.status(chatID)
	st.Stopped = h.turns.Stop(chatID)
	ok(c, http.StatusOK, st)
}

func (h *Handlers) status(chatID string) TurnStatusResponse {
	state, msgID := h.turns.State(chatID)
	return TurnStatusResponse{
		InProgress: state != services.StateIdle,
		State:      state.String(),
		MessageID:  msgID,
	}
}

// ownedChat validates :id and checks that the caller owns the chat.
func (h *Handlers) ownedChat(c *gin.Context) (string, bool) {
	chatID, valid := chatParam(c)
	if !valid {
		return "", false
	}
	if _, err := h.chats.Get(c.Request.Context(), userID(c), chatID); err != nil {
		failService(c, "get", err)
		return "", false
	}
	return chatID, true
}
