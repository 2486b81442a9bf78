package chat

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"pantry/internal/inventory"
)

var alice = Session{ConnID: "conn-a", UserID: "alice", HomeID: "h1"}

func newTestOrchestrator(t *testing.T, agent Agent, timeout time.Duration) (*Orchestrator, *memStore, *recorder) {
	t.Helper()
	rec := &recorder{}
	store := newMemStore(rec)
	store.addThread("t1", "h1")
	o := NewOrchestrator(store, agent, staticClassifier{intent: "show_list"}, nil, rec, zap.NewNop(), nil,
		OrchestratorConfig{HistoryLimit: 20, TurnTimeout: timeout})
	return o, store, rec
}

func finalFrames(rec *recorder) []UIMessagePayload {
	var out []UIMessagePayload
	for _, f := range rec.Frames(FrameUIMessage) {
		p := f.Frame.Payload.(UIMessagePayload)
		if !p.IsStreaming {
			out = append(out, p)
		}
	}
	return out
}

func TestHandleMessage_StreamsAndPersistsReply(t *testing.T) {
	o, store, rec := newTestOrchestrator(t, scripted(nil, TextChunk("You have "), TextChunk("3 items.")), time.Second)

	err := o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "  what's on my list?  "})
	require.NoError(t, err)

	echoes := rec.Frames(FrameMessage)
	require.Len(t, echoes, 1)
	assert.Equal(t, "conn-a", echoes[0].ExcludeID)
	echo := echoes[0].Frame.Payload.(*Message)
	assert.Equal(t, "what's on my list?", echo.Content)
	assert.Equal(t, RoleUser, echo.Role)
	assert.Equal(t, "show_list", echo.Intent)

	ui := rec.Frames(FrameUIMessage)
	require.Len(t, ui, 3)
	first := ui[0].Frame.Payload.(UIMessagePayload)
	second := ui[1].Frame.Payload.(UIMessagePayload)
	assert.True(t, first.IsStreaming)
	assert.Equal(t, "You have ", first.Content)
	assert.Equal(t, "You have 3 items.", second.Content, "streamed content is cumulative")

	final := finalFrames(rec)
	require.Len(t, final, 1)
	assert.Equal(t, "You have 3 items.", final[0].Content)
	assert.Equal(t, first.MessageID, final[0].MessageID)
	for _, f := range ui {
		assert.Empty(t, f.ExcludeID, "assistant frames go to the whole household")
	}

	stored, ok := store.message(final[0].MessageID)
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, stored.Role)
	assert.Equal(t, "You have 3 items.", stored.Content)
	assert.Equal(t, 1, store.touched["t1"])
}

func TestHandleMessage_PlaceholderExistsBeforeStreaming(t *testing.T) {
	o, _, rec := newTestOrchestrator(t, scripted(nil, TextChunk("hi")), time.Second)
	require.NoError(t, o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "hello"}))

	assert.Equal(t, []string{
		"insert:user",
		"broadcast:message",
		"insert:assistant",
		"broadcast:ui_message",
		"update",
		"broadcast:ui_message",
	}, rec.Events())
}

func TestHandleMessage_AgentErrorMidStream(t *testing.T) {
	o, store, rec := newTestOrchestrator(t, scripted(errors.New("model overloaded"), TextChunk("Let me check")), time.Second)

	err := o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "add milk"})
	require.NoError(t, err, "agent failures are not reported to the caller")

	final := finalFrames(rec)
	require.Len(t, final, 1)
	assert.Equal(t, FallbackReply, final[0].Content)
	assert.Nil(t, final[0].UI)

	stored, _ := store.message(final[0].MessageID)
	assert.Equal(t, FallbackReply, stored.Content)
	assert.Equal(t, "error", stored.Intent)
}

func TestHandleMessage_TimeoutUsesFallback(t *testing.T) {
	defer goleak.VerifyNone(t)

	slow := agentFunc(func(ctx context.Context, _ ReplyRequest) iter.Seq2[ReplyChunk, error] {
		return func(yield func(ReplyChunk, error) bool) {
			if !yield(TextChunk("thinking"), nil) {
				return
			}
			<-ctx.Done()
			yield(ReplyChunk{}, ctx.Err())
		}
	})
	o, _, rec := newTestOrchestrator(t, slow, 50*time.Millisecond)

	start := time.Now()
	require.NoError(t, o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "hi"}))
	assert.Less(t, time.Since(start), 2*time.Second)

	final := finalFrames(rec)
	require.Len(t, final, 1)
	assert.Equal(t, FallbackReply, final[0].Content)
}

func TestHandleMessage_AgentPanicUsesFallback(t *testing.T) {
	boom := agentFunc(func(context.Context, ReplyRequest) iter.Seq2[ReplyChunk, error] {
		return func(func(ReplyChunk, error) bool) { panic("nil map") }
	})
	o, _, rec := newTestOrchestrator(t, boom, time.Second)

	require.NoError(t, o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "hi"}))
	final := finalFrames(rec)
	require.Len(t, final, 1)
	assert.Equal(t, FallbackReply, final[0].Content)
}

func TestHandleMessage_FirstUIWins(t *testing.T) {
	groceries := inventory.List{ID: "l1", Name: "Groceries", Items: []inventory.ListItem{{ID: "i1", Name: "Milk"}}}
	agent := scripted(nil,
		ToolChunk("lookup", nil, nil),
		ToolChunk("show_list", groceries, GroceryListFrom(groceries)),
		ToolChunk("overview", nil, OverviewFrom([]inventory.List{groceries})),
		TextChunk("Here is your list."),
	)
	o, _, rec := newTestOrchestrator(t, agent, time.Second)
	require.NoError(t, o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "show my list"}))

	for _, f := range rec.Frames(FrameUIMessage) {
		p := f.Frame.Payload.(UIMessagePayload)
		if p.IsStreaming {
			assert.Nil(t, p.UI, "ui is attached to the final frame only")
		}
	}
	final := finalFrames(rec)
	require.Len(t, final, 1)
	require.NotNil(t, final[0].UI)
	assert.Equal(t, UIGroceryList, final[0].UI.Type)
	assert.Equal(t, "l1", final[0].UI.Data.(GroceryListUI).ListID)
}

func TestHandleMessage_EmptyReply(t *testing.T) {
	t.Run("tools only", func(t *testing.T) {
		o, _, rec := newTestOrchestrator(t, scripted(nil, ToolChunk("add_item", nil, nil)), time.Second)
		require.NoError(t, o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "add eggs"}))
		assert.Equal(t, "Done.", finalFrames(rec)[0].Content)
	})
	t.Run("nothing", func(t *testing.T) {
		o, _, rec := newTestOrchestrator(t, scripted(nil), time.Second)
		require.NoError(t, o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "hmm"}))
		assert.Equal(t, FallbackReply, finalFrames(rec)[0].Content)
	})
}

func TestHandleMessage_Validation(t *testing.T) {
	o, _, rec := newTestOrchestrator(t, scripted(nil, TextChunk("x")), time.Second)

	err := o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	err = o.HandleMessage(t.Context(), alice, MessageIn{Content: "hi"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	bob := Session{ConnID: "conn-b", UserID: "bob", HomeID: "h2"}
	err = o.HandleMessage(t.Context(), bob, MessageIn{ThreadID: "t1", Content: "hi"})
	assert.ErrorIs(t, err, ErrThreadNotFound, "threads of another household are invisible")

	assert.Empty(t, rec.Events())
}

func TestHandleMessage_ClassifierFailureIsTolerated(t *testing.T) {
	o, store, _ := newTestOrchestrator(t, scripted(nil, TextChunk("ok")), time.Second)
	o.classifier = staticClassifier{err: errors.New("classifier down")}

	require.NoError(t, o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "hi"}))
	msgs, _ := store.FindRecentMessages(t.Context(), "t1", 10)
	require.Len(t, msgs, 2)
	assert.Equal(t, IntentUnknown, msgs[0].Intent)
}

func TestHandleMessage_PersistenceFailurePropagates(t *testing.T) {
	o, store, rec := newTestOrchestrator(t, scripted(nil, TextChunk("ok")), time.Second)
	store.failOn = "insert:user"

	err := o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: "hi"})
	assert.ErrorIs(t, err, errStore)
	assert.Empty(t, rec.Frames(""))
}

func TestHandleMessage_HistoryIsBoundedAndOrdered(t *testing.T) {
	var got []Message
	capture := agentFunc(func(_ context.Context, req ReplyRequest) iter.Seq2[ReplyChunk, error] {
		got = req.History
		return scripted(nil, TextChunk("ok"))(nil, req)
	})
	o, _, _ := newTestOrchestrator(t, capture, time.Second)
	o.cfg.HistoryLimit = 3

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, o.HandleMessage(t.Context(), alice, MessageIn{ThreadID: "t1", Content: msg}))
	}

	require.Len(t, got, 3)
	assert.Equal(t, "two", got[0].Content)
	assert.Equal(t, "ok", got[1].Content)
	assert.Equal(t, "three", got[2].Content)
}
