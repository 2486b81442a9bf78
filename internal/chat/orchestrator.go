package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pantry/internal/metrics"
)

// FallbackReply replaces the assistant message when a turn fails.
const FallbackReply = "Sorry, I ran into a problem while working on that. Please try again."

// ErrInvalidMessage is returned for a message frame without a thread or text.
var ErrInvalidMessage = errors.New("threadId and content are required")

type OrchestratorConfig struct {
	HistoryLimit int
	TurnTimeout  time.Duration
}

// Orchestrator runs one chat turn: persist the user message, echo it to the
// household, stream the assistant reply and persist the result.
type Orchestrator struct {
	store      MessageStore
	agent      Agent
	classifier Classifier
	homes      HomeContextLoader
	hub        Broadcaster
	log        *zap.Logger
	metrics    *metrics.Metrics
	cfg        OrchestratorConfig
}

// NewOrchestrator wires a turn runner. classifier and homes may be nil.
func NewOrchestrator(store MessageStore, agent Agent, classifier Classifier, homes HomeContextLoader,
	hub Broadcaster, log *zap.Logger, m *metrics.Metrics, cfg OrchestratorConfig) *Orchestrator {
	if m == nil {
		m = metrics.NewNop()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 60 * time.Second
	}
	return &Orchestrator{
		store:      store,
		agent:      agent,
		classifier: classifier,
		homes:      homes,
		hub:        hub,
		log:        log.Named("orchestrator"),
		metrics:    m,
		cfg:        cfg,
	}
}

// HandleMessage runs a full turn. Agent failures never surface as errors: the
// household always receives a final frame. Returned errors are validation
// or persistence failures.
func (o *Orchestrator) HandleMessage(ctx context.Context, s Session, in MessageIn) error {
	in.ThreadID = strings.TrimSpace(in.ThreadID)
	content := strings.TrimSpace(in.Content)
	if in.ThreadID == "" || content == "" {
		return ErrInvalidMessage
	}
	if _, err := o.store.GetThread(ctx, s.HomeID, in.ThreadID); err != nil {
		return err
	}

	userMsg := &Message{
		ID:       uuid.NewString(),
		ThreadID: in.ThreadID,
		Role:     RoleUser,
		Content:  content,
		Intent:   o.classify(ctx, content),
		UserID:   s.UserID,
	}
	if err := o.store.InsertMessage(ctx, userMsg); err != nil {
		return err
	}
	o.broadcast(ctx, s.HomeID, messageFrame(userMsg), s.ConnID)

	history, err := o.store.FindRecentMessages(ctx, in.ThreadID, o.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	// The placeholder exists before any streamed frame references its id.
	assistant := &Message{ID: uuid.NewString(), ThreadID: in.ThreadID, Role: RoleAssistant}
	if err := o.store.InsertMessage(ctx, assistant); err != nil {
		return err
	}
	if err := o.store.TouchThread(ctx, in.ThreadID); err != nil {
		o.log.Warn("touch thread", zap.String("thread", in.ThreadID), zap.Error(err))
	}

	turn := &Turn{
		ThreadID:    in.ThreadID,
		HomeID:      s.HomeID,
		UserID:      s.UserID,
		Content:     content,
		AssistantID: assistant.ID,
		State:       TurnPending,
		StartedAt:   time.Now(),
	}
	req := ReplyRequest{
		HomeID:   s.HomeID,
		UserID:   s.UserID,
		ThreadID: in.ThreadID,
		ListID:   in.ListID,
		History:  history,
		Home:     o.homeContext(ctx, s.HomeID, in.ListID),
	}

	var intent string
	if err := o.stream(ctx, turn, req); err != nil {
		o.log.Error("assistant turn failed",
			zap.String("thread", turn.ThreadID), zap.String("message", turn.AssistantID), zap.Error(err))
		turn.State = TurnFailed
		turn.Text = FallbackReply
		turn.UI = nil
		intent = "error"
	} else {
		turn.State = TurnComplete
		if strings.TrimSpace(turn.Text) == "" {
			turn.Text = emptyReply(turn)
		}
		intent = o.classify(ctx, turn.Text)
	}

	o.metrics.Turns.WithLabelValues(string(turn.State)).Inc()
	o.metrics.TurnDuration.Observe(time.Since(turn.StartedAt).Seconds())

	updateErr := o.store.UpdateMessage(ctx, turn.AssistantID, turn.Text, intent)
	o.broadcast(ctx, s.HomeID, uiMessageFrame(turn, false), "")
	return updateErr
}

type streamItem struct {
	chunk ReplyChunk
	err   error
}

// stream consumes the agent under the turn timeout. The iterator runs on its
// own goroutine so an agent that stops yielding cannot outlive the deadline.
func (o *Orchestrator) stream(ctx context.Context, turn *Turn, req ReplyRequest) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	items := make(chan streamItem)
	go func() {
		defer close(items)
		o.pull(ctx, o.agent.Reply(ctx, req), items)
	}()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("assistant reply: %w", ctx.Err())
		case it, ok := <-items:
			if !ok {
				return nil
			}
			if it.err != nil {
				return it.err
			}
			o.apply(ctx, turn, it.chunk)
		}
	}
}

func (o *Orchestrator) pull(ctx context.Context, seq iter.Seq2[ReplyChunk, error], out chan<- streamItem) {
	defer func() {
		if r := recover(); r != nil {
			select {
			case out <- streamItem{err: fmt.Errorf("agent panic: %v", r)}:
			case <-ctx.Done():
			}
		}
	}()
	for chunk, err := range seq {
		select {
		case out <- streamItem{chunk: chunk, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// apply folds one chunk into the turn. Only the first tool result that
// carries UI is kept.
func (o *Orchestrator) apply(ctx context.Context, turn *Turn, c ReplyChunk) {
	if c.Tool != nil {
		turn.Tools = append(turn.Tools, *c.Tool)
		if turn.UI == nil && c.Tool.UI != nil {
			turn.UI = c.Tool.UI
		}
	}
	if c.Text == "" {
		return
	}
	turn.Text += c.Text
	turn.State = TurnStreaming
	o.broadcast(ctx, turn.HomeID, uiMessageFrame(turn, true), "")
}

func (o *Orchestrator) classify(ctx context.Context, text string) string {
	if o.classifier == nil {
		return IntentUnknown
	}
	intent, err := o.classifier.Classify(ctx, text)
	if err != nil || intent == "" {
		if err != nil {
			o.log.Warn("classify failed", zap.Error(err))
		}
		return IntentUnknown
	}
	return intent
}

func (o *Orchestrator) homeContext(ctx context.Context, homeID, listID string) *HomeContext {
	if o.homes == nil {
		return nil
	}
	hc, err := o.homes.Load(ctx, homeID, listID)
	if err != nil {
		o.log.Warn("load home context", zap.String("home", homeID), zap.Error(err))
		return nil
	}
	return hc
}

func (o *Orchestrator) broadcast(ctx context.Context, homeID string, f Frame, excludeID string) {
	if err := o.hub.Broadcast(ctx, homeID, f, excludeID); err != nil {
		o.log.Warn("broadcast", zap.String("type", f.Type), zap.String("home", homeID), zap.Error(err))
	}
}

func emptyReply(t *Turn) string {
	if len(t.Tools) > 0 {
		return "Done."
	}
	return FallbackReply
}
