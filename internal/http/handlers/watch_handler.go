package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-chat-stream/internal/conversation"
	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
)

// Observer connection tuning.
const (
	watchBuffer     = 64
	watchPingPeriod = 30 * time.Second
	watchWriteWait  = 10 * time.Second
)

// WatchFrame is one websocket message sent to chat observers. The first
// frame is a "snapshot" carrying the whole loaded history; later frames
// carry the message a store event was about.
type WatchFrame struct {
	Event     string           `json:"event" example:"delta"`
	Message   *domain.Message  `json:"message,omitempty"`
	Streaming bool             `json:"streaming,omitempty"`
	Messages  []domain.Message `json:"messages,omitempty"`
}

// WatchChat godoc
// @ID          watchChat
// @Summary     Observe a chat over websocket
// @Description Upgrades to a websocket that receives a snapshot frame, then one frame per
// @Description conversation event (delta, committed). Observers that fall behind
// @Description are disconnected and should reconnect for a fresh snapshot.
// @Tags        Turns
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
// @Success     101  {object}  handlers.WatchFrame
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Router      /chats/{id}/ws [get]
func (h *Handlers) WatchChat(c *gin.Context) {
	chatID, valid := chatParam(c)
	if !valid {
		return
	}
	history, err := h.msgs.History(c.Request.Context(), userID(c), chatID)
	if err != nil {
		failService(c, "watch", err)
		return
	}

	lg := middleware.LoggerFrom(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		lg.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	frames := make(chan WatchFrame, watchBuffer)
	slow := make(chan struct{})
	var slowOnce sync.Once
	store, unsubscribe := h.hub.Subscribe(chatID, conversation.EventAll, func(event string, st conversation.State) {
		// the snapshot frame carries loaded history
		if st.Changed == nil {
			return
		}
		f := WatchFrame{Event: event, Message: st.Changed, Streaming: st.Streaming[st.Changed.ID]}
		select {
		case frames <- f:
		default:
			slowOnce.Do(func() { close(slow) })
		}
	})
	defer func() {
		unsubscribe()
		h.hub.Release(chatID)
	}()
	if !store.Loaded() {
		store.Load(history)
	}

	// reader: observers send nothing, but control frames and close need a reader
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(f WatchFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
		return conn.WriteJSON(f) == nil
	}
	if !write(WatchFrame{Event: "snapshot", Messages: store.Messages()}) {
		return
	}

	ping := time.NewTicker(watchPingPeriod)
	defer ping.Stop()
	for {
		select {
		case f := <-frames:
			if !write(f) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		case <-slow:
			lg.Warn().Str("chat_id", chatID).Msg("observer too slow, disconnecting")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "observer too slow"),
				time.Now().Add(watchWriteWait))
			return
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

// AllowOrigins returns a websocket origin check accepting the listed
// origins, same-host requests and clients that send no Origin. A "*" entry
// accepts everything.
func AllowOrigins(origins []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || set[o] || o == "http://"+r.Host || o == "https://"+r.Host
	}
}
