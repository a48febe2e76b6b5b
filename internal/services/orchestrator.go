// Package services – Orchestrator
//
// Orchestrator drives generation turns. A turn moves through
// Idle → Placing → Streaming → Finalizing → Committed | Failed:
//
//   - Placing appends an empty assistant placeholder.
//   - Streaming accumulates chunks in memory and mirrors each one into the
//     chat's conversation.Store. No persistence happens per chunk.
//   - Finalizing issues exactly one gateway Update with the full content,
//     generation stats and generated images.
//   - Failed replaces the content with an error description in one Update,
//     so the durable record never stays an empty placeholder.
//
// Cancellation (Stop, or the caller's context ending) is not a failure: the
// turn is finalized with whatever content has accumulated. At most one turn
// per chat is active; InProgress exposes that flag.
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chat-stream/internal/conversation"
	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/llm"
	"github.com/tbourn/go-chat-stream/internal/observability"
	"github.com/tbourn/go-chat-stream/internal/sysutil"
)

// TurnState is the position of a chat's turn in the state machine.
type TurnState int

const (
	StateIdle TurnState = iota
	StatePlacing
	StateStreaming
	StateFinalizing
	StateCommitted
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlacing:
		return "placing"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Defaults for Orchestrator timeouts.
const (
	DefaultIdleTimeout     = 60 * time.Second
	DefaultFinalizeTimeout = 10 * time.Second
)

// Gateway is the persistence contract the orchestrator depends on.
type Gateway interface {
	Append(ctx context.Context, userID, chatID string, d domain.MessageDraft) (*domain.Message, error)
	Update(ctx context.Context, userID, chatID, id string, p domain.MessagePatch) (*domain.Message, error)
	List(ctx context.Context, userID, chatID string, limit, offset int) (*MessagePage, error)
	History(ctx context.Context, userID, chatID string) ([]domain.Message, error)
}

// Titler derives a chat title from the first prompt.
type Titler interface {
	AutoTitle(ctx context.Context, userID, chatID, prompt string) (string, bool, error)
}

// TurnEventType names the progress notifications of a turn.
type TurnEventType string

const (
	TurnUserMessage TurnEventType = "user_message"
	TurnPlaceholder TurnEventType = "placeholder"
	TurnDelta       TurnEventType = "delta"
	TurnCommitted   TurnEventType = "committed"
	TurnFailed      TurnEventType = "failed"
)

// TurnEvent is delivered to TurnRequest.Observer in order.
type TurnEvent struct {
	Type      TurnEventType   `json:"type"`
	MessageID string          `json:"message_id"`
	Content   string          `json:"content,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// TurnRequest starts a turn. UserMessage is optional: when nil the turn
// answers the existing history.
type TurnRequest struct {
	UserID      string
	ChatID      string
	UserMessage *domain.MessageDraft
	Model       string
	// Observer, when set, is called synchronously for every turn event.
	Observer func(TurnEvent)
}

// TurnResult reports how a started turn ended.
type TurnResult struct {
	UserMessage *domain.Message
	Message     *domain.Message
	State       TurnState
	Cancelled   bool
	// Err is set when State is StateFailed.
	Err error
}

type activeTurn struct {
	messageID string
	state     TurnState
	cancel    context.CancelFunc
}

// Orchestrator runs turns. It is safe for concurrent use across chats.
type Orchestrator struct {
	Gateway Gateway
	Source  llm.Source
	Hub     *conversation.Hub
	Titler  Titler

	DefaultModel    string
	IdleTimeout     time.Duration
	FinalizeTimeout time.Duration
	MaxPromptRunes  int

	mu      sync.Mutex
	turns   map[string]*activeTurn
	closing bool
	running sync.WaitGroup
}

// NewOrchestrator wires an orchestrator with default timeouts.
func NewOrchestrator(gw Gateway, src llm.Source, hub *conversation.Hub) *Orchestrator {
	if hub == nil {
		hub = conversation.NewHub()
	}
	return &Orchestrator{
		Gateway:         gw,
		Source:          src,
		Hub:             hub,
		IdleTimeout:     DefaultIdleTimeout,
		FinalizeTimeout: DefaultFinalizeTimeout,
		MaxPromptRunes:  8000,
		turns:           make(map[string]*activeTurn),
	}
}

// InProgress reports whether chatID has an active turn.
func (o *Orchestrator) InProgress(chatID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.turns[chatID]
	return ok
}

// State returns the state of chatID's active turn, or StateIdle.
func (o *Orchestrator) State(chatID string) (TurnState, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.turns[chatID]; ok {
		return t.state, t.messageID
	}
	return StateIdle, ""
}

// Stop cancels chatID's active turn. The turn still finalizes with the
// content accumulated so far. It reports whether a turn was running.
func (o *Orchestrator) Stop(chatID string) bool {
	o.mu.Lock()
	t, ok := o.turns[chatID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	return true
}

// Shutdown refuses new turns, stops every active one and waits until they
// have written their final content. It returns ctx.Err() if the deadline
// passes first.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	for _, t := range o.turns {
		t.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin claims chatID's single turn slot.
func (o *Orchestrator) begin(ctx context.Context, chatID string) (context.Context, *activeTurn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turns == nil {
		o.turns = make(map[string]*activeTurn)
	}
	if o.closing {
		return nil, nil, ErrShuttingDown
	}
	if _, busy := o.turns[chatID]; busy {
		return nil, nil, ErrTurnInProgress
	}
	tctx, cancel := context.WithCancel(ctx)
	t := &activeTurn{state: StatePlacing, cancel: cancel}
	o.turns[chatID] = t
	o.running.Add(1)
	turnsActive.Inc()
	return tctx, t, nil
}

func (o *Orchestrator) end(chatID string, t *activeTurn) {
	o.mu.Lock()
	if o.turns[chatID] == t {
		delete(o.turns, chatID)
	}
	o.mu.Unlock()
	t.cancel()
	turnsActive.Dec()
	// unobserved chats keep no state between turns
	o.Hub.Release(chatID)
	o.running.Done()
}

func (o *Orchestrator) setState(t *activeTurn, s TurnState, messageID string) {
	o.mu.Lock()
	t.state = s
	if messageID != "" {
		t.messageID = messageID
	}
	o.mu.Unlock()
}

// Send runs one turn for req.ChatID: it appends the user message (if any),
// places an assistant placeholder and streams into it. The returned error is
// non-nil only when the turn could not start; a started turn that fails is
// reported through TurnResult.State and TurnResult.Err.
func (o *Orchestrator) Send(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	cid, err := parseID("chat id", req.ChatID)
	if err != nil {
		return nil, err
	}
	req.ChatID = cid
	if req.UserMessage != nil {
		um := *req.UserMessage
		req.UserMessage = &um
		req.UserMessage.Content = strings.TrimSpace(req.UserMessage.Content)
		if req.UserMessage.Content == "" {
			return nil, ErrEmptyPrompt
		}
		if o.MaxPromptRunes > 0 && utf8.RuneCountInString(req.UserMessage.Content) > o.MaxPromptRunes {
			return nil, ErrTooLong
		}
		req.UserMessage.Role = domain.RoleUser
	}

	tctx, t, err := o.begin(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	defer o.end(req.ChatID, t)

	ctx, span := observability.Tracer("services/Orchestrator").Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("chat.id", req.ChatID),
			attribute.String("user.id", req.UserID),
		),
	)
	defer span.End()

	store := o.Hub.Get(req.ChatID)
	emit := observer(req.Observer)
	res := &TurnResult{}

	if req.UserMessage != nil {
		um, err := o.Gateway.Append(ctx, req.UserID, req.ChatID, *req.UserMessage)
		if err != nil {
			return nil, err
		}
		res.UserMessage = um
		store.ApplyCommitted(*um)
		emit(TurnEvent{Type: TurnUserMessage, MessageID: um.ID, Message: um})
		o.autoTitle(ctx, req.UserID, req.ChatID, um.Content)
	}

	history, err := o.Gateway.History(ctx, req.UserID, req.ChatID)
	if err != nil {
		return nil, err
	}
	if !store.Loaded() {
		store.Load(history)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: nothing to respond to", ErrInvalidArgument)
	}

	model := sysutil.FirstNonEmpty(req.Model, o.DefaultModel)

	// Placing
	draft := domain.MessageDraft{Role: domain.RoleAssistant, Content: ""}
	if model != "" {
		draft.Model = &model
	}
	ph, err := o.Gateway.Append(ctx, req.UserID, req.ChatID, draft)
	if err != nil {
		logFrom(ctx).Error().Err(err).Str("chat_id", req.ChatID).Msg("turn placeholder failed")
		return nil, err
	}
	o.setState(t, StateStreaming, ph.ID)
	store.ApplyCommitted(*ph)
	emit(TurnEvent{Type: TurnPlaceholder, MessageID: ph.ID, Message: ph})
	span.SetAttributes(attribute.String("message.id", ph.ID))

	sreq := llm.Request{
		Model:       model,
		History:     history,
		Attachments: latestUserAttachments(history),
	}
	o.run(ctx, tctx, t, req.UserID, req.ChatID, ph.ID, model, sreq, emit, res)
	recordSpan(span, res)
	return res, nil
}

// Regenerate redoes assistant message messageID. The model sees only the
// history strictly before it, attachments come from the nearest preceding
// user message, and the result overwrites messageID in place.
func (o *Orchestrator) Regenerate(ctx context.Context, userID, chatID, messageID, model string, obs func(TurnEvent)) (*TurnResult, error) {
	cid, err := parseID("chat id", chatID)
	if err != nil {
		return nil, err
	}
	chatID = cid
	mid, err := parseID("message id", messageID)
	if err != nil {
		return nil, err
	}

	tctx, t, err := o.begin(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer o.end(chatID, t)

	ctx, span := observability.Tracer("services/Orchestrator").Start(ctx, "Regenerate",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("message.id", mid),
		),
	)
	defer span.End()

	history, err := o.Gateway.History(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, m := range history {
		if m.ID == mid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNotFound
	}
	target := history[idx]
	if target.Role != domain.RoleAssistant {
		return nil, fmt.Errorf("%w: only assistant messages can be regenerated", ErrInvalidArgument)
	}
	prior := history[:idx]
	if len(prior) == 0 {
		return nil, fmt.Errorf("%w: nothing to respond to", ErrInvalidArgument)
	}

	store := o.Hub.Get(chatID)
	if !store.Loaded() {
		store.Load(history)
	}

	var prevModel string
	if target.Model != nil {
		prevModel = *target.Model
	}
	model = sysutil.FirstNonEmpty(model, prevModel, o.DefaultModel)

	o.setState(t, StateStreaming, mid)
	emit := observer(obs)
	emit(TurnEvent{Type: TurnPlaceholder, MessageID: mid, Message: &target})

	res := &TurnResult{}
	sreq := llm.Request{
		Model:       model,
		History:     prior,
		Attachments: latestUserAttachments(prior),
	}
	o.run(ctx, tctx, t, userID, chatID, mid, model, sreq, emit, res)
	recordSpan(span, res)
	return res, nil
}

// run is the Streaming → Finalizing part shared by Send and Regenerate.
func (o *Orchestrator) run(ctx, tctx context.Context, t *activeTurn, userID, chatID, msgID, model string, sreq llm.Request, emit func(TurnEvent), res *TurnResult) {
	start := time.Now()
	store := o.Hub.Get(chatID)
	lg := logFrom(ctx).With().Str("chat_id", chatID).Str("message_id", msgID).Logger()

	var (
		acc       strings.Builder
		chunks    int
		firstAt   time.Time
		result    *llm.Result
		streamErr error
		cancelled bool
	)

	idle := o.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	// armed before the source is opened: opening may itself hang on a
	// provider that accepts the connection and never answers
	timer := time.NewTimer(idle)
	defer timer.Stop()

	type opened struct {
		events <-chan llm.Event
		err    error
	}
	openc := make(chan opened, 1)
	go func() {
		ch, err := o.Source.Stream(tctx, sreq)
		openc <- opened{ch, err}
	}()

	var events <-chan llm.Event
loop:
	for {
		select {
		case op := <-openc:
			openc = nil
			switch {
			case op.err != nil && tctx.Err() != nil:
				cancelled = true
				break loop
			case op.err != nil:
				streamErr = fmt.Errorf("%w: %v", ErrStreamFailure, op.err)
				break loop
			}
			events = op.events
		case ev, ok := <-events:
			if !ok {
				if tctx.Err() != nil {
					cancelled = true
				} else {
					streamErr = fmt.Errorf("%w: stream ended without a result", ErrStreamFailure)
				}
				break loop
			}
			switch ev.Kind {
			case llm.EventChunk:
				if tctx.Err() != nil {
					cancelled = true
					break loop
				}
				if firstAt.IsZero() {
					firstAt = time.Now()
				}
				chunks++
				acc.WriteString(ev.Text)
				store.ApplyStreamingDelta(msgID, acc.String())
				emit(TurnEvent{Type: TurnDelta, MessageID: msgID, Content: acc.String()})
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(idle)
			case llm.EventDone:
				result = ev.Result
				break loop
			case llm.EventError:
				streamErr = fmt.Errorf("%w: %v", ErrStreamFailure, ev.Err)
				break loop
			}
		case <-tctx.Done():
			cancelled = true
			break loop
		case <-timer.C:
			streamErr = fmt.Errorf("%w: no progress for %s", ErrStreamFailure, idle)
			break loop
		}
	}
	// stop the source in every exit path
	t.cancel()

	o.setState(t, StateFinalizing, "")
	wctx, cancelWrite := o.writeContext(ctx)
	defer cancelWrite()

	if streamErr != nil {
		o.failTurn(wctx, lg, userID, chatID, msgID, streamErr, acc.String(), store, emit, res)
		o.observe("failed", start)
		return
	}

	stats := domain.GenerationStats{CompletionTokens: chunks}
	var images []domain.ImageRef
	if result != nil {
		stats = result.Stats
		images = result.Images
	} else if !firstAt.IsZero() {
		stats.TimeToFirstToken = firstAt.Sub(start).Milliseconds()
		if secs := time.Since(firstAt).Seconds(); secs > 0 {
			stats.TokensPerSecond = float64(chunks) / secs
		}
	}

	patch := domain.MessagePatch{
		Content: domain.Some(acc.String()),
		Stats:   domain.Some(&stats),
	}
	if model != "" {
		patch.Model = domain.Some(&model)
	}
	if len(images) > 0 {
		patch.GeneratedImages = domain.Some(images)
	}

	msg, err := o.Gateway.Update(wctx, userID, chatID, msgID, patch)
	if err != nil {
		lg.Error().Err(err).Msg("turn finalize write failed")
		o.failTurn(wctx, lg, userID, chatID, msgID, err, acc.String(), store, emit, res)
		o.observe("failed", start)
		return
	}

	store.ApplyCommitted(*msg)
	o.setState(t, StateCommitted, "")
	res.Message, res.State, res.Cancelled = msg, StateCommitted, cancelled
	emit(TurnEvent{Type: TurnCommitted, MessageID: msgID, Message: msg, Content: msg.Content})

	outcome := "committed"
	if cancelled {
		outcome = "cancelled"
	}
	lg.Info().Str("outcome", outcome).Int("chunks", chunks).Msg("turn finished")
	o.observe(outcome, start)
}

// failTurn writes an error description over the turn's message. If that
// write also fails the store is still settled so nothing stays streaming.
func (o *Orchestrator) failTurn(ctx context.Context, lg zerolog.Logger, userID, chatID, msgID string, cause error, partial string, store *conversation.Store, emit func(TurnEvent), res *TurnResult) {
	text := "Error: " + cause.Error()
	res.State, res.Err = StateFailed, cause

	msg, err := o.Gateway.Update(ctx, userID, chatID, msgID, domain.MessagePatch{Content: domain.Some(text)})
	if err != nil {
		lg.Error().Err(err).AnErr("cause", cause).Msg("turn failure write failed")
		local, _ := store.Message(msgID)
		local.ID, local.ChatID, local.Role = msgID, chatID, domain.RoleAssistant
		local.Content = text
		msg = &local
	} else {
		lg.Warn().Err(cause).Msg("turn failed")
	}
	store.ApplyCommitted(*msg)
	res.Message = msg
	emit(TurnEvent{Type: TurnFailed, MessageID: msgID, Message: msg, Content: msg.Content, Error: cause.Error()})
}

// writeContext detaches the final write from the turn's cancellation so a
// stopped or disconnected turn still persists its content.
func (o *Orchestrator) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	d := o.FinalizeTimeout
	if d <= 0 {
		d = DefaultFinalizeTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

func (o *Orchestrator) autoTitle(ctx context.Context, userID, chatID, prompt string) {
	if o.Titler == nil {
		return
	}
	if _, _, err := o.Titler.AutoTitle(ctx, userID, chatID, prompt); err != nil {
		logFrom(ctx).Warn().Err(err).Str("chat_id", chatID).Msg("auto title failed")
	}
}

func (o *Orchestrator) observe(outcome string, start time.Time) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(time.Since(start).Seconds())
}

func recordSpan(span trace.Span, res *TurnResult) {
	span.SetAttributes(attribute.String("turn.state", res.State.String()), attribute.Bool("turn.cancelled", res.Cancelled))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
}

func observer(fn func(TurnEvent)) func(TurnEvent) {
	if fn == nil {
		return func(TurnEvent) {}
	}
	return fn
}

// latestUserAttachments returns the attachments of the last user message.
func latestUserAttachments(history []domain.Message) []domain.Attachment {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == domain.RoleUser {
			return history[i].Attachments
		}
	}
	return nil
}
