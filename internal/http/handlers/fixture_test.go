package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-stream/internal/conversation"
	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/llm"
	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/services"
)

// ---------- test DB + repo shim ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:handlers_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&domain.Chat{}, &domain.Message{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testChatRepo struct{}

func (testChatRepo) CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error) {
	return repo.CreateChat(ctx, db, userID, title)
}

func (testChatRepo) GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id, userID)
}

func (testChatRepo) UpdateChatTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateChatTitle(ctx, db, id, userID, title)
}

func (testChatRepo) CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountChats(ctx, db, userID)
}

func (testChatRepo) ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, userID, offset, limit)
}

// ---------- fixture ----------

type fixture struct {
	t      *testing.T
	db     *gorm.DB
	chats  *services.ChatService
	gw     *services.MessageGateway
	orch   *services.Orchestrator
	hub    *conversation.Hub
	source *llm.Scripted
	h      *Handlers
	r      *gin.Engine
}

// newFixture wires real services over an in-memory database. The token
// source replays f.source.Chunks.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	hub := conversation.NewHub()
	chats := services.NewChatService(db, testChatRepo{})
	gw := services.NewMessageGateway(db)
	src := &llm.Scripted{Chunks: []string{"Hel", "lo"}}
	orch := services.NewOrchestrator(gw, src, hub)
	orch.Titler = chats
	orch.DefaultModel = "test-model"

	h := New(Deps{Chats: chats, Messages: gw, Turns: orch, Hub: hub, DB: db})

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Auth(middleware.AuthOptions{}))
	r.Use(middleware.Idempotency(middleware.IdempotencyOptions{}, IdempotencyLookup(db)))
	r.POST("/chats", h.CreateChat)
	r.GET("/chats", h.ListChats)
	r.GET("/chats/:id", h.GetChat)
	r.PUT("/chats/:id/title", h.UpdateChatTitle)
	r.POST("/chats/:id/messages", h.AppendMessage)
	r.GET("/chats/:id/messages", h.ListMessages)
	r.PATCH("/chats/:id/messages/:mid", h.PatchMessage)
	r.POST("/chats/:id/messages/:mid/regenerate", h.RegenerateMessage)
	r.POST("/chats/:id/turns", h.PostTurn)
	r.GET("/chats/:id/turns/current", h.TurnStatus)
	r.DELETE("/chats/:id/turns/current", h.StopTurn)
	r.GET("/chats/:id/ws", h.WatchChat)

	return &fixture{t: t, db: db, chats: chats, gw: gw, orch: orch, hub: hub, source: src, h: h, r: r}
}

// do serves one request as user. body is JSON-encoded unless it is a string.
func (f *fixture) do(method, path, user string, body any, hdr ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			f.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func (f *fixture) newChat(user string) *domain.Chat {
	f.t.Helper()
	ch, err := f.chats.Create(context.Background(), user, "")
	if err != nil {
		f.t.Fatalf("create chat: %v", err)
	}
	return ch
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body %s)", v, err, w.Body.String())
	}
	return v
}

type sseEvent struct {
	Name string
	Data string
}

// parseSSE splits an event-stream body into events.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		out []sseEvent
		cur sseEvent
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.Name != "" || cur.Data != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "event:"):
			cur.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			cur.Data += strings.TrimPrefix(line, "data:")
		}
	}
	if cur.Name != "" || cur.Data != "" {
		out = append(out, cur)
	}
	return out
}

func turnEvent(t *testing.T, e sseEvent) services.TurnEvent {
	t.Helper()
	var ev services.TurnEvent
	if err := json.Unmarshal([]byte(e.Data), &ev); err != nil {
		t.Fatalf("event %s: %v (%q)", e.Name, err, e.Data)
	}
	return ev
}

func eventNames(evs []sseEvent) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Name
	}
	return out
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}
