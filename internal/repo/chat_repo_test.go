package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

func TestCreateChat_Error_NoTable(t *testing.T) {
	db := newRepoDB(t)
	chat, err := CreateChat(context.Background(), db, "u1", "t")
	if err == nil || chat != nil {
		t.Fatalf("expected error creating without table, got chat=%v err=%v", chat, err)
	}
}

func TestCreateChat_PersistsFields(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})

	chat, err := CreateChat(context.Background(), db, "u1", "My Chat")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.ID == "" || chat.UserID != "u1" || chat.Title != "My Chat" {
		t.Fatalf("unexpected chat: %+v", chat)
	}
	if chat.CreatedAt.IsZero() || !chat.UpdatedAt.Equal(chat.CreatedAt) {
		t.Fatalf("timestamps not set: %+v", chat)
	}

	got, err := GetChat(context.Background(), db, chat.ID, "u1")
	if err != nil || got.Title != "My Chat" {
		t.Fatalf("GetChat: %+v %v", got, err)
	}
	if _, err := GetChat(context.Background(), db, chat.ID, "intruder"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetChat by non-owner: want ErrNotFound, got %v", err)
	}
}

func TestListChatsPage_OrderByActivityAndFilter(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	seed := []domain.Chat{
		{ID: "a", UserID: "u1", Title: "A", CreatedAt: base, UpdatedAt: base.Add(3 * time.Hour)},
		{ID: "b", UserID: "u1", Title: "B", CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour)},
		{ID: "c", UserID: "u1", Title: "C", CreatedAt: base.Add(2 * time.Hour), UpdatedAt: base.Add(2 * time.Hour)},
		{ID: "x", UserID: "u2", Title: "X", CreatedAt: base, UpdatedAt: base},
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := ListChatsPage(ctx, db, "u1", 0, 10)
	if err != nil {
		t.Fatalf("ListChatsPage: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "c" || got[2].ID != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}

	page, err := ListChatsPage(ctx, db, "u1", 1, 1)
	if err != nil || len(page) != 1 || page[0].ID != "c" {
		t.Fatalf("page: %+v %v", page, err)
	}

	n, err := CountChats(ctx, db, "u1")
	if err != nil || n != 3 {
		t.Fatalf("CountChats = %d, %v", n, err)
	}
}

func TestUpdateChatTitle_OwnershipEnforced(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})
	ctx := context.Background()
	c, _ := CreateChat(ctx, db, "u1", "old")

	if err := UpdateChatTitle(ctx, db, c.ID, "u2", "hijack"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-owner rename: want ErrNotFound, got %v", err)
	}
	if err := UpdateChatTitle(ctx, db, c.ID, "u1", "new"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, _ := GetChat(ctx, db, c.ID, "u1")
	if got.Title != "new" {
		t.Fatalf("title = %q", got.Title)
	}
}

func TestTouchOwnedChat(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})
	ctx := context.Background()
	c, _ := CreateChat(ctx, db, "u1", "t")

	later := c.UpdatedAt.Add(time.Hour)
	if err := TouchOwnedChat(ctx, db, c.ID, "u1", later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := GetChat(ctx, db, c.ID, "u1")
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("updated_at = %v; want %v", got.UpdatedAt, later)
	}

	if err := TouchOwnedChat(ctx, db, c.ID, "u2", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-owner touch: want ErrNotFound, got %v", err)
	}
	if err := TouchOwnedChat(ctx, db, "missing", "u1", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing chat touch: want ErrNotFound, got %v", err)
	}
}
