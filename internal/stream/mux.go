package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/libris-ai/libris/internal/agent"
	"github.com/libris-ai/libris/internal/conversation"
	"github.com/libris-ai/libris/internal/ingest"
	"github.com/libris-ai/libris/internal/log"
)

// DefaultAttachmentMessage stands in for the user message when a turn
// carries attachments but no text.
const DefaultAttachmentMessage = "Please read and summarize this file."

// errorAckResponse closes a failed turn so the stream never ends
// without a response event.
const errorAckResponse = "I ran into a problem and couldn't finish this response. Please try again."

// attachmentInlineMax caps how many runes of one attachment are
// inlined into the message; the rest stays readable through the
// read_document tool.
const attachmentInlineMax = 16000

// persistTimeout bounds the post-stream persistence work, which must
// survive cancellation of the turn itself.
const persistTimeout = 10 * time.Second

// ErrStreamConsumed reports a second consumption attempt on a turn
// stream. A stream represents a single execution and cannot be
// replayed.
var ErrStreamConsumed = errors.New("stream already consumed")

// ErrEmptyMessage reports a request with neither text nor attachments.
var ErrEmptyMessage = errors.New("empty message")

// ErrAttachmentsUnsupported reports attachments sent to a mux built
// without a resolver.
var ErrAttachmentsUnsupported = errors.New("attachments are not supported")

// AttachmentResolver resolves uploaded file IDs to their extracted
// text. Implemented by the ingest store.
type AttachmentResolver interface {
	Resolve(ctx context.Context, ids []uuid.UUID) ([]ingest.Attachment, error)
}

// Request is one user turn to stream.
type Request struct {
	ChatID        uuid.UUID
	Message       string
	AttachmentIDs []uuid.UUID
}

// Config contains all parameters for the Mux.
type Config struct {
	Router *agent.Router
	Store  *conversation.Store
	Logger log.Logger

	// Attachments resolves uploaded file IDs to text. Nil rejects
	// requests that carry attachments.
	Attachments AttachmentResolver

	// PostProcess is applied to the final text before the last
	// response event and persistence, so both always agree.
	PostProcess func(string) string

	// HistoryLimit caps how many prior turns fold into model context.
	// Zero means unlimited.
	HistoryLimit int32
}

// Mux turns user requests into event sequences. One Mux serves the
// whole process; per-turn state lives in the TurnStream.
type Mux struct {
	router       *agent.Router
	store        *conversation.Store
	attachments  AttachmentResolver
	post         func(string) string
	logger       log.Logger
	historyLimit int32
}

// New creates a Mux.
func New(cfg Config) (*Mux, error) {
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Mux{
		router:       cfg.Router,
		store:        cfg.Store,
		attachments:  cfg.Attachments,
		post:         cfg.PostProcess,
		logger:       cfg.Logger,
		historyLimit: cfg.HistoryLimit,
	}, nil
}

// Stream prepares one turn: it verifies the chat, resolves
// attachments, loads history and persists the user turn. Failures here
// surface as ordinary errors so transports can map them to statuses
// before any event is written. The returned TurnStream carries the
// lazy event sequence; nothing model-related runs until it is
// consumed.
func (m *Mux) Stream(ctx context.Context, req Request) (*TurnStream, error) {
	userText := strings.TrimSpace(req.Message)
	if userText == "" && len(req.AttachmentIDs) == 0 {
		return nil, ErrEmptyMessage
	}

	if _, err := m.store.GetChat(ctx, req.ChatID); err != nil {
		return nil, err
	}

	var atts []ingest.Attachment
	if len(req.AttachmentIDs) > 0 {
		if m.attachments == nil {
			return nil, ErrAttachmentsUnsupported
		}
		resolved, err := m.attachments.Resolve(ctx, req.AttachmentIDs)
		if err != nil {
			return nil, err
		}
		atts = resolved
	}

	// History is loaded before the user turn is persisted so the model
	// never sees the current message twice.
	history, err := m.store.Messages(ctx, req.ChatID, m.historyLimit)
	if err != nil {
		return nil, err
	}

	userTurn := &conversation.Turn{
		ChatID: req.ChatID,
		Role:   conversation.RoleUser,
		Text:   userText,
	}
	if err := m.store.PersistTurn(ctx, userTurn); err != nil {
		return nil, fmt.Errorf("persisting user turn: %w", err)
	}

	return &TurnStream{
		mux:         m,
		ctx:         ctx,
		chatID:      req.ChatID,
		userText:    userText,
		message:     buildMessage(userText, atts),
		history:     history,
		attachments: atts,
		first:       len(history) == 0,
	}, nil
}

// buildMessage composes the router message: one instruction block per
// attachment, then the user text. Oversized attachments are truncated
// inline with a pointer to read_document.
func buildMessage(userText string, atts []ingest.Attachment) string {
	if len(atts) == 0 {
		return userText
	}

	var b strings.Builder
	for _, att := range atts {
		fmt.Fprintf(&b, "User uploaded a %s file: %s (file id %s)\n", att.MediaType, att.Name, att.ID)
		b.WriteString("File content:\n")
		text := strings.TrimSpace(att.Text)
		if runes := []rune(text); len(runes) > attachmentInlineMax {
			text = string(runes[:attachmentInlineMax]) +
				fmt.Sprintf("\n[truncated; call read_document with file id %s for the full text]", att.ID)
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	if userText == "" {
		userText = DefaultAttachmentMessage
	}
	b.WriteString(userText)
	return b.String()
}

// TurnStream is one prepared turn. Not safe for concurrent use; the
// event sequence is consumed exactly once by a single goroutine.
type TurnStream struct {
	mux         *Mux
	ctx         context.Context
	chatID      uuid.UUID
	userText    string
	message     string
	history     []*ai.Message
	attachments []ingest.Attachment
	first       bool

	consumed bool
	turn     *conversation.Turn
}

// Turn returns the persisted assistant turn. Nil until the event
// sequence has ended.
func (ts *TurnStream) Turn() *conversation.Turn {
	return ts.turn
}

// Events returns the turn's event sequence: exactly one tool event per
// completed invocation and cumulative response events, ending with the
// complete (post-processed) response text. Iteration drives the model
// loop directly; breaking out cancels the turn, and the partial turn
// is persisted marked incomplete. After any failure the sequence still
// ends with a response event acknowledging the error.
func (ts *TurnStream) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if ts.consumed {
			yield(Event{}, ErrStreamConsumed)
			return
		}
		ts.consumed = true

		sink := &yieldSink{yield: yield}
		res, err := ts.mux.router.Run(ts.ctx, agent.Request{
			History: ts.history,
			Message: ts.message,
		}, sink)

		switch {
		case err == nil:
			ts.finish(sink, res)
		case errors.Is(err, agent.ErrSinkClosed),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			ts.abort(res, err)
		default:
			ts.fail(sink, res, err)
		}
	}
}

// finish closes a successful turn: final response event, persistence,
// title.
func (ts *TurnStream) finish(sink *yieldSink, res *agent.Result) {
	text := ts.postProcess(res.Text)
	sink.emitFinal(text)

	turn, err := ts.persist(text, res.Invocations, false)
	if err != nil {
		ts.mux.logger.Error("persisting assistant turn", "chat_id", ts.chatID, "error", err)
		sink.emitError(fmt.Errorf("persisting turn: %w", err))
		return
	}
	ts.updateTitle(true)

	ts.mux.logger.Debug("turn streamed",
		"chat_id", ts.chatID,
		"turn_id", turn.ID,
		"invocations", len(turn.Invocations))
}

// fail closes a failed turn. The consumer still gets a terminal
// response event acknowledging the error; the turn persists as
// complete, the acknowledgment being its final text.
func (ts *TurnStream) fail(sink *yieldSink, res *agent.Result, runErr error) {
	ts.mux.logger.Warn("turn failed", "chat_id", ts.chatID, "error", runErr)

	text := res.Text
	var execErr *agent.ToolExecutionError
	if !errors.As(runErr, &execErr) {
		// The router composes its own acknowledgment for tool
		// failures; everything else gets the generic one.
		if strings.TrimSpace(text) == "" {
			text = errorAckResponse
		} else {
			text += "\n\n" + errorAckResponse
		}
	}
	text = ts.postProcess(text)
	sink.emitFinal(text)

	if _, err := ts.persist(text, res.Invocations, false); err != nil {
		ts.mux.logger.Error("persisting failed turn", "chat_id", ts.chatID, "error", err)
		sink.emitError(fmt.Errorf("persisting turn: %w", err))
		return
	}
	ts.updateTitle(true)
}

// abort closes a canceled turn: no further events, partial text
// persisted as-is and marked incomplete.
func (ts *TurnStream) abort(res *agent.Result, runErr error) {
	ts.mux.logger.Debug("turn canceled",
		"chat_id", ts.chatID,
		"invocations", len(res.Invocations),
		"reason", runErr)

	if _, err := ts.persist(res.Text, res.Invocations, true); err != nil {
		ts.mux.logger.Error("persisting incomplete turn", "chat_id", ts.chatID, "error", err)
		return
	}
	ts.updateTitle(false)
}

func (ts *TurnStream) postProcess(text string) string {
	if ts.mux.post == nil {
		return text
	}
	return ts.mux.post(text)
}

// persist writes the assistant turn. It must survive cancellation of
// the turn context, otherwise canceled turns would never be recorded.
func (ts *TurnStream) persist(text string, invs []conversation.ToolInvocation, incomplete bool) (*conversation.Turn, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ts.ctx), persistTimeout)
	defer cancel()

	turn := &conversation.Turn{
		ChatID:      ts.chatID,
		Role:        conversation.RoleModel,
		Text:        text,
		Invocations: invs,
		Incomplete:  incomplete,
	}
	if err := ts.mux.store.PersistTurn(ctx, turn); err != nil {
		return nil, err
	}
	ts.turn = turn
	return turn, nil
}

// updateTitle names the chat after its first turn. generate controls
// whether the model is asked; canceled turns fall straight back to
// truncation.
func (ts *TurnStream) updateTitle(generate bool) {
	if !ts.first {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ts.ctx), persistTimeout)
	defer cancel()

	var title string
	if generate {
		title = ts.mux.router.GenerateTitle(ctx, ts.message)
	}
	if title == "" {
		title = conversation.FallbackTitle(ts.userText)
	}
	if title == "" && len(ts.attachments) > 0 {
		title = conversation.FallbackTitle(ts.attachments[0].Name)
	}
	if title == "" {
		return
	}
	if err := ts.mux.store.RenameChat(ctx, ts.chatID, title); err != nil {
		ts.mux.logger.Warn("updating chat title", "chat_id", ts.chatID, "error", err)
	}
}

// yieldSink adapts the iterator's yield to the router's sink. No
// goroutine sits between them: the router runs inside the iterator,
// and a consumer that stops ranging stops the router.
type yieldSink struct {
	yield       func(Event, error) bool
	last        string
	sawResponse bool
	stopped     bool
}

// errConsumerStopped propagates through the router as the sink error;
// the router wraps it in ErrSinkClosed.
var errConsumerStopped = errors.New("consumer stopped")

func (s *yieldSink) ToolCompleted(_ context.Context, inv conversation.ToolInvocation) error {
	return s.emit(Event{Kind: KindTool, Payload: Trace(inv)})
}

func (s *yieldSink) ResponseText(_ context.Context, cumulative string) error {
	err := s.emit(Event{Kind: KindResponse, Payload: cumulative})
	if err == nil {
		s.last = cumulative
		s.sawResponse = true
	}
	return err
}

func (s *yieldSink) emit(ev Event) error {
	if s.stopped {
		return errConsumerStopped
	}
	if !s.yield(ev, nil) {
		s.stopped = true
		return errConsumerStopped
	}
	return nil
}

// emitFinal sends the terminal response event carrying the complete
// text, unless the last cumulative event already delivered exactly it.
func (s *yieldSink) emitFinal(text string) {
	if s.sawResponse && s.last == text {
		return
	}
	_ = s.emit(Event{Kind: KindResponse, Payload: text})
}

// emitError surfaces a post-stream failure through the iterator's
// error slot.
func (s *yieldSink) emitError(err error) {
	if s.stopped {
		return
	}
	if !s.yield(Event{}, err) {
		s.stopped = true
	}
}
