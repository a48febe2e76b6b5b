// Message HTTP handlers.
//
// This file exposes direct message CRUD, used by clients syncing content
// authored offline and by tools that edit history:
//   - POST  /chats/{id}/messages         (append, client-chosen id/created_at allowed)
//   - PATCH /chats/{id}/messages/{mid}   (partial update)
//   - GET   /chats/{id}/messages         (history window, ETag support)
//
// Every durable result is applied to the chat's in-memory conversation state
// when one is live, so websocket observers see CRUD writes like turn writes.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/services"
	"github.com/tbourn/go-chat-stream/internal/utils"
)

// MessageResponse wraps a single message.
type MessageResponse struct {
	Message *domain.Message `json:"message"`
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes line endings, collapses blank-line runs and
// trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// applyCommitted forwards a durable message to the live store of its chat.
func (h *Handlers) applyCommitted(m *domain.Message) {
	if m == nil {
		return
	}
	if st, live := h.hub.Lookup(m.ChatID); live {
		st.ApplyCommitted(*m)
	}
}

// AppendMessage godoc
// @ID          appendMessage
// @Summary     Append a message
// @Description Stores a message without generating a reply. id and created_at
// @Description may be chosen by the client; created_at accepts epoch millis or RFC 3339.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       id    path  string               true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  domain.MessageDraft  true  "Message"
// @Success     201  {object}  handlers.MessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Message id already exists"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) AppendMessage(c *gin.Context) {
	chatID, valid := chatParam(c)
	if !valid {
		return
	}
	var draft domain.MessageDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid message payload")
		return
	}
	if draft.Role == "" || draft.Role == domain.RoleUser {
		draft.Content = sanitizeContent(draft.Content)
	}

	m, err := h.msgs.Append(c.Request.Context(), userID(c), chatID, draft)
	if err != nil {
		failService(c, "create", err)
		return
	}
	h.applyCommitted(m)
	ok(c, http.StatusCreated, MessageResponse{Message: m})
}

// PatchMessage godoc
// @ID          patchMessage
// @Summary     Update a message
// @Description Writes only the fields present in the body. An explicit null clears
// @Description model, stats or generated_images.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       id    path  string               true  "Chat ID (UUID)"     format(uuid)
// @Param       mid   path  string               true  "Message ID (UUID)"  format(uuid)
// @Param       body  body  domain.MessagePatch  true  "Fields to change"
// @Success     200  {object}  handlers.MessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats/{id}/messages/{mid} [patch]
func (h *Handlers) PatchMessage(c *gin.Context) {
	chatID, valid := chatParam(c)
	if !valid {
		return
	}
	var patch domain.MessagePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid patch payload")
		return
	}
	if patch.Empty() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "patch has no fields")
		return
	}

	m, err := h.msgs.Update(c.Request.Context(), userID(c), chatID, c.Param("mid"), patch)
	if err != nil {
		failService(c, "update", err)
		return
	}
	h.applyCommitted(m)
	ok(c, http.StatusOK, MessageResponse{Message: m})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns a chronological window of history. offset counts back from the
// @Description newest message, so offset=0 is the latest page.
// @Tags        Messages
// @Produce     json
// @Param       id      path   string  true  "Chat ID (UUID)"  format(uuid)
// @Param       limit   query  int     false "Window size"     minimum(1) maximum(200) default(50)
// @Param       offset  query  int     false "Messages to skip from the newest"  minimum(0) default(0)
// @Success     200  {object} services.MessagePage
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID, valid := chatParam(c)
	if !valid {
		return
	}
	uid := userID(c)
	limit, offset := services.ClampPage(
		utils.AtoiDefault(c.Query("limit"), services.DefaultListLimit),
		utils.AtoiDefault(c.Query("offset"), 0),
	)

	if h.db != nil {
		if _, err := h.chats.Get(ctx, uid, chatID); err != nil {
			failService(c, "list", err)
			return
		}
		if count, newest, err := repo.MessagesStats(ctx, h.db, chatID); err == nil {
			if weakETag(c, "messages", fmt.Sprintf("%s:%d:%d", chatID, limit, offset), count, newest) {
				return
			}
		}
	}

	page, err := h.msgs.List(ctx, uid, chatID, limit, offset)
	if err != nil {
		failService(c, "list", err)
		return
	}
	ok(c, http.StatusOK, page)
}
