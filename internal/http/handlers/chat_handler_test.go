package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// ---------- CreateChat ----------

func TestCreateChat_DefaultTitleAndTrim(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/chats", "u1", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create without body -> %d body=%s", w.Code, w.Body.String())
	}
	ch := decode[domain.Chat](t, w)
	if ch.Title != "New chat" || ch.UserID != "u1" {
		t.Fatalf("unexpected chat: %+v", ch)
	}
	if _, err := uuid.Parse(ch.ID); err != nil {
		t.Fatalf("id not a uuid: %q", ch.ID)
	}

	w = f.do(http.MethodPost, "/chats", "u1", CreateChatRequest{Title: "  Trip to Lisbon  "})
	if w.Code != http.StatusCreated {
		t.Fatalf("create with title -> %d", w.Code)
	}
	if got := decode[domain.Chat](t, w).Title; got != "Trip to Lisbon" {
		t.Fatalf("title = %q", got)
	}
}

func TestCreateChat_BadJSON(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/chats", "u1", "{bad")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json -> %d", w.Code)
	}
	if e := decode[ErrorResponse](t, w); e.Code != ErrCodeBadRequest || e.RequestID == "" {
		t.Fatalf("envelope = %+v", e)
	}
}

// ---------- GetChat ----------

func TestGetChat_UUIDOwnershipAndSuccess(t *testing.T) {
	f := newFixture(t)
	ch := f.newChat("u1")

	if w := f.do(http.MethodGet, "/chats/not-a-uuid", "u1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid -> %d", w.Code)
	}

	w := f.do(http.MethodGet, "/chats/"+ch.ID, "u2", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign chat -> %d", w.Code)
	}
	if e := decode[ErrorResponse](t, w); e.Code != ErrCodeNotFound {
		t.Fatalf("code = %q", e.Code)
	}

	w = f.do(http.MethodGet, "/chats/"+ch.ID, "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("own chat -> %d", w.Code)
	}
	if got := decode[domain.Chat](t, w); got.ID != ch.ID {
		t.Fatalf("got chat %q want %q", got.ID, ch.ID)
	}
}

// ---------- ListChats ----------

func TestListChats_PaginationAndETag(t *testing.T) {
	f := newFixture(t)
	for range 3 {
		f.newChat("u1")
	}
	f.newChat("u2")

	w := f.do(http.MethodGet, "/chats?page=1&page_size=2", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d body=%s", w.Code, w.Body.String())
	}
	out := decode[ListChatsResponse](t, w)
	p := out.Pagination
	if p.Page != 1 || p.PageSize != 2 || p.Total != 3 || p.TotalPages != 2 || !p.HasNext {
		t.Fatalf("pagination = %+v", p)
	}
	if len(out.Chats) != 2 {
		t.Fatalf("chats on page 1 = %d", len(out.Chats))
	}
	for _, c := range out.Chats {
		if c.UserID != "u1" {
			t.Fatalf("foreign chat leaked: %+v", c)
		}
	}

	etag := w.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"chats:`) {
		t.Fatalf("etag = %q", etag)
	}
	if w := f.do(http.MethodGet, "/chats?page=1&page_size=2", "u1", nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("matching etag -> %d", w.Code)
	}

	// another page is a different representation
	w = f.do(http.MethodGet, "/chats?page=2&page_size=2", "u1", nil, "If-None-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("page 2 with page 1 etag -> %d", w.Code)
	}
	if got := decode[ListChatsResponse](t, w); len(got.Chats) != 1 || got.Pagination.HasNext {
		t.Fatalf("page 2 = %+v", got.Pagination)
	}

	// a new chat invalidates the validator
	f.newChat("u1")
	if w := f.do(http.MethodGet, "/chats?page=1&page_size=2", "u1", nil, "If-None-Match", etag); w.Code != http.StatusOK {
		t.Fatalf("stale etag -> %d", w.Code)
	}
}

func TestListChats_ClampsPaging(t *testing.T) {
	f := newFixture(t)
	f.newChat("u1")

	w := f.do(http.MethodGet, "/chats?page=-4&page_size=1000", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d", w.Code)
	}
	if p := decode[ListChatsResponse](t, w).Pagination; p.Page != 1 || p.PageSize != 100 {
		t.Fatalf("pagination = %+v", p)
	}
}

// ---------- UpdateChatTitle ----------

func TestUpdateChatTitle(t *testing.T) {
	f := newFixture(t)
	ch := f.newChat("u1")
	path := "/chats/" + ch.ID + "/title"

	if w := f.do(http.MethodPut, "/chats/nope/title", "u1", UpdateChatTitleRequest{Title: "x"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid -> %d", w.Code)
	}
	if w := f.do(http.MethodPut, path, "u1", `{"title":"   "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("blank title -> %d", w.Code)
	}
	if w := f.do(http.MethodPut, path, "u2", UpdateChatTitleRequest{Title: "mine now"}); w.Code != http.StatusNotFound {
		t.Fatalf("foreign rename -> %d", w.Code)
	}

	if w := f.do(http.MethodPut, path, "u1", UpdateChatTitleRequest{Title: "Lisbon itinerary"}); w.Code != http.StatusNoContent {
		t.Fatalf("rename -> %d body=%s", w.Code, w.Body.String())
	}
	if got := decode[domain.Chat](t, f.do(http.MethodGet, "/chats/"+ch.ID, "u1", nil)); got.Title != "Lisbon itinerary" {
		t.Fatalf("title = %q", got.Title)
	}
}
