// Chat HTTP handlers.
//
// This file exposes REST endpoints for chat resources:
//   - POST   /chats               (create)
//   - GET    /chats               (list, paginated, ETag support)
//   - GET    /chats/{id}          (fetch)
//   - PUT    /chats/{id}/title    (rename)
//
// It also declares the service contracts and the Handlers value shared by
// the message, turn and observer endpoints.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/conversation"
	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/services"
	"github.com/tbourn/go-chat-stream/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChatService defines chat lifecycle operations consumed by HTTP handlers.
type ChatService interface {
	Create(ctx context.Context, userID, title string) (*domain.Chat, error)
	Get(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Chat, int64, error)
	UpdateTitle(ctx context.Context, userID, chatID, title string) error
}

// MessageGateway is the durable message store with ownership checks.
type MessageGateway interface {
	Append(ctx context.Context, userID, chatID string, d domain.MessageDraft) (*domain.Message, error)
	Update(ctx context.Context, userID, chatID, id string, p domain.MessagePatch) (*domain.Message, error)
	List(ctx context.Context, userID, chatID string, limit, offset int) (*services.MessagePage, error)
	History(ctx context.Context, userID, chatID string) ([]domain.Message, error)
}

// TurnRunner starts, inspects and stops generation turns.
type TurnRunner interface {
	Send(ctx context.Context, req services.TurnRequest) (*services.TurnResult, error)
	Regenerate(ctx context.Context, userID, chatID, messageID, model string, obs func(services.TurnEvent)) (*services.TurnResult, error)
	Stop(chatID string) bool
	State(chatID string) (services.TurnState, string)
}

//
// Handler wiring
//

// Deps are the collaborators of Handlers. DB is optional and only used for
// ETags and idempotency records.
type Deps struct {
	Chats    ChatService
	Messages MessageGateway
	Turns    TurnRunner
	Hub      *conversation.Hub
	DB       *gorm.DB

	// IdempotencyTTL bounds how long a committed turn can be replayed.
	IdempotencyTTL time.Duration
	// CheckOrigin validates websocket upgrades. nil accepts same-origin only.
	CheckOrigin func(r *http.Request) bool
}

// Handlers groups HTTP endpoints for chats, messages, turns and observers.
type Handlers struct {
	chats    ChatService
	msgs     MessageGateway
	turns    TurnRunner
	hub      *conversation.Hub
	db       *gorm.DB
	idemTTL  time.Duration
	upgrader websocket.Upgrader
}

// New constructs Handlers from d.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	hub := d.Hub
	if hub == nil {
		hub = conversation.NewHub()
	}
	return &Handlers{
		chats:   d.Chats,
		msgs:    d.Messages,
		turns:   d.Turns,
		hub:     hub,
		db:      d.DB,
		idemTTL: ttl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     d.CheckOrigin,
		},
	}
}

func userID(c *gin.Context) string { return middleware.UserID(c) }

// chatParam returns the :id path parameter, writing 400 when it is not a UUID.
func chatParam(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return "", false
	}
	return id.String(), true
}

//
// DTOs
//

// CreateChatRequest is the JSON payload for creating a chat.
type CreateChatRequest struct {
	// Title optionally sets the chat title; a default is used when empty.
	Title string `json:"title" example:"Trip to Lisbon"`
}

// UpdateChatTitleRequest is the JSON payload for updating a chat title.
type UpdateChatTitleRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255" example:"Lisbon itinerary"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListChatsResponse wraps a page of chats and pagination information.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = max(utils.AtoiDefault(c.Query("page"), 1), 1)
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

//
// Handlers
//

// CreateChat godoc
// @ID          createChat
// @Summary     Create a new chat
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateChatRequest  false  "Create chat payload"
// @Success     201  {object}  domain.Chat
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	ch, err := h.chats.Create(c.Request.Context(), userID(c), strings.TrimSpace(req.Title))
	if err != nil {
		failService(c, "create", err)
		return
	}
	ok(c, http.StatusCreated, ch)
}

// ListChats godoc
// @ID          listChats
// @Summary     List chats (paginated)
// @Description Most recently active first. Supports weak ETag via If-None-Match.
// @Tags        Chats
// @Produce     json
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	if h.db != nil {
		if count, newest, err := repo.ChatsStats(ctx, h.db, uid); err == nil {
			if weakETag(c, "chats", fmt.Sprintf("%s:%d:%d", uid, page, pageSize), count, newest) {
				return
			}
		}
	}

	items, total, err := h.chats.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		failService(c, "list", err)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListChatsResponse{
		Chats: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetChat godoc
// @ID          getChat
// @Summary     Fetch a chat
// @Tags        Chats
// @Produce     json
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	chatID, valid := chatParam(c)
	if !valid {
		return
	}
	ch, err := h.chats.Get(c.Request.Context(), userID(c), chatID)
	if err != nil {
		failService(c, "get", err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// UpdateChatTitle godoc
// @ID          updateChatTitle
// @Summary     Rename a chat
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Param       id    path  string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateChatTitleRequest  true  "New title"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id}/title [put]
func (h *Handlers) UpdateChatTitle(c *gin.Context) {
	chatID, valid := chatParam(c)
	if !valid {
		return
	}

	var req UpdateChatTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1-255 chars)")
		return
	}

	if err := h.chats.UpdateTitle(c.Request.Context(), userID(c), chatID, req.Title); err != nil {
		failService(c, "update", err)
		return
	}
	noContent(c)
}
