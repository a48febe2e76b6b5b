package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/services"
)

func (f *fixture) dialWatch(srv *httptest.Server, chatID, user string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chats/" + chatID + "/ws"
	hdr := http.Header{}
	hdr.Set(middleware.HeaderUserID, user)
	return websocket.DefaultDialer.Dial(url, hdr)
}

func readFrame(t *testing.T, conn *websocket.Conn) WatchFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var fr WatchFrame
	if err := conn.ReadJSON(&fr); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return fr
}

func TestWatchChat_SnapshotThenTurnFrames(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.r)
	defer srv.Close()

	ch := f.newChat("u1")
	if w := f.do(http.MethodPost, "/chats/"+ch.ID+"/messages", "u1", domain.MessageDraft{Content: "earlier"}); w.Code != http.StatusCreated {
		t.Fatalf("seed -> %d", w.Code)
	}

	conn, _, err := f.dialWatch(srv, ch.ID, "u1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	snap := readFrame(t, conn)
	if snap.Event != "snapshot" || len(snap.Messages) != 1 || snap.Messages[0].Content != "earlier" {
		t.Fatalf("snapshot = %+v", snap)
	}

	if w := f.do(http.MethodPost, "/chats/"+ch.ID+"/turns", "u1", PostTurnRequest{Content: "hi"}); w.Code != http.StatusOK {
		t.Fatalf("turn -> %d", w.Code)
	}

	var (
		sawUser, sawDelta bool
		final             *domain.Message
	)
	for final == nil {
		fr := readFrame(t, conn)
		if fr.Message == nil {
			t.Fatalf("frame without message: %+v", fr)
		}
		switch {
		case fr.Event == "committed" && fr.Message.Role == domain.RoleUser:
			sawUser = true
		case fr.Event == "delta":
			if !fr.Streaming {
				t.Fatalf("delta frame not marked streaming: %+v", fr)
			}
			sawDelta = true
		case fr.Event == "committed" && fr.Message.Content == "Hello":
			if fr.Streaming {
				t.Fatalf("committed frame still streaming")
			}
			final = fr.Message
		}
	}
	if !sawUser || !sawDelta {
		t.Fatalf("user=%v delta=%v", sawUser, sawDelta)
	}

	// observed stores survive the turn
	if _, live := f.hub.Lookup(ch.ID); !live {
		t.Fatalf("store released while observed")
	}

	// direct CRUD writes reach observers as well
	w := f.do(http.MethodPatch, "/chats/"+ch.ID+"/messages/"+final.ID, "u1", `{"content":"edited"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch -> %d", w.Code)
	}
	if fr := readFrame(t, conn); fr.Event != "committed" || fr.Message.Content != "edited" {
		t.Fatalf("patch frame = %+v", fr)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("store not released after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatchChat_SnapshotCarriesWholeHistory(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.r)
	defer srv.Close()

	ch := f.newChat("u1")
	n := services.MaxListLimit + 5
	for i := range n {
		if _, err := f.gw.Append(context.Background(), "u1", ch.ID, domain.MessageDraft{Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	conn, _, err := f.dialWatch(srv, ch.ID, "u1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	snap := readFrame(t, conn)
	if snap.Event != "snapshot" || len(snap.Messages) != n {
		t.Fatalf("snapshot event=%q messages=%d, want %d", snap.Event, len(snap.Messages), n)
	}
}

func TestWatchChat_RejectsBeforeUpgrade(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.r)
	defer srv.Close()
	ch := f.newChat("u1")

	_, resp, err := f.dialWatch(srv, ch.ID, "u2")
	if err == nil {
		t.Fatalf("foreign observer connected")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign observer response = %+v", resp)
	}

	_, resp, err = f.dialWatch(srv, "nope", "u1")
	if err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: err=%v resp=%+v", err, resp)
	}
	if f.hub.Len() != 0 {
		t.Fatalf("rejected observer left a store")
	}
}

func TestAllowOrigins(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://api.example.com/chats/x/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	check := AllowOrigins([]string{"https://app.example.com"})
	cases := map[string]bool{
		"":                         true,
		"https://app.example.com":  true,
		"http://api.example.com":   true,
		"https://api.example.com":  true,
		"https://evil.example.com": false,
	}
	for origin, want := range cases {
		if got := check(req(origin)); got != want {
			t.Fatalf("origin %q: got %v want %v", origin, got, want)
		}
	}

	if !AllowOrigins([]string{"https://a", "*"})(req("https://anything")) {
		t.Fatalf("wildcard should accept any origin")
	}
}
