package offline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pantry/internal/inventory"
)

// fakeServer applies mutations at most once per idempotency key.
type fakeServer struct {
	mu       sync.Mutex
	applied  map[string]int // mutation id -> times applied
	attempts map[string]int
	items    map[string]inventory.Item

	// dropAcks makes the next n successful calls apply the change but
	// report a transport error, as if the reply was lost.
	dropAcks int
	// failAll rejects every call.
	failAll error
	// reject refuses mutations on these entities.
	reject map[string]error
	// gate, when set, blocks each call until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{applied: map[string]int{}, attempts: map[string]int{}, items: map[string]inventory.Item{}}
}

func (s *fakeServer) Apply(ctx context.Context, m Mutation) (json.RawMessage, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[m.ID]++
	if s.failAll != nil {
		return nil, s.failAll
	}
	if err := s.reject[m.EntityID]; err != nil {
		return nil, err
	}

	if s.applied[m.ID] == 0 {
		switch m.Kind {
		case AddItem:
			var in inventory.ItemInput
			json.Unmarshal(m.Payload, &in)
			s.items[m.EntityID] = inventory.Item{ID: m.EntityID, HomeID: m.HomeID, Name: in.Name, Quantity: 1, InStock: true}
		case ToggleItem:
			var p togglePayload
			json.Unmarshal(m.Payload, &p)
			it := s.items[m.EntityID]
			it.InStock = *p.InStock
			s.items[m.EntityID] = it
		}
	}
	s.applied[m.ID] = 1

	if s.dropAcks > 0 {
		s.dropAcks--
		return nil, errors.New("connection reset by peer")
	}
	data, _ := json.Marshal(s.items[m.EntityID])
	return data, nil
}

func (s *fakeServer) attemptsFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

func newTestQueue(t *testing.T, remote Remote, online *atomic.Bool, opts Options) *Queue {
	t.Helper()
	opts.Store = openTestStore(t)
	opts.Remote = remote
	if online != nil {
		opts.Online = online.Load
	}
	opts.Logger = zap.NewNop()
	return NewQueue(opts)
}

func pending(t *testing.T, q *Queue) []Mutation {
	t.Helper()
	ms, err := q.Pending(t.Context())
	require.NoError(t, err)
	return ms
}

func TestSubmit_OfflineQueuesAndAppliesOptimistically(t *testing.T) {
	srv := newFakeServer()
	var online atomic.Bool
	q := newTestQueue(t, srv, &online, Options{})

	add := NewAddItem("h1", inventory.ItemInput{Name: "Milk"})
	require.NoError(t, q.Submit(t.Context(), add))

	e, ok := q.Mirror().Item(add.EntityID)
	require.True(t, ok, "mirror updated without any network call")
	assert.Equal(t, Pending, e.State)
	assert.Equal(t, 0, srv.attemptsFor(add.ID))
	require.Len(t, pending(t, q), 1)
}

func TestSubmit_OnlineSuccessIsNotQueued(t *testing.T) {
	srv := newFakeServer()
	q := newTestQueue(t, srv, nil, Options{})

	add := NewAddItem("h1", inventory.ItemInput{Name: "Milk"})
	require.NoError(t, q.Submit(t.Context(), add))

	assert.Empty(t, pending(t, q))
	e, _ := q.Mirror().Item(add.EntityID)
	assert.Equal(t, Synced, e.State)
}

func TestSubmit_OnlineFailureIsQueued(t *testing.T) {
	srv := newFakeServer()
	srv.failAll = &StatusError{Code: 503, Message: "unavailable"}
	q := newTestQueue(t, srv, nil, Options{})

	add := NewAddItem("h1", inventory.ItemInput{Name: "Milk"})
	require.NoError(t, q.Submit(t.Context(), add))

	got := pending(t, q)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].LastError, "503")
	assert.Equal(t, 0, got[0].RetryCount)
}

func TestSubmit_OnlineWithBacklogKeepsOrder(t *testing.T) {
	srv := newFakeServer()
	var online atomic.Bool
	q := newTestQueue(t, srv, &online, Options{})

	add := NewAddItem("h1", inventory.ItemInput{Name: "Milk"})
	require.NoError(t, q.Submit(t.Context(), add))

	online.Store(true)
	toggle := NewToggleItem("h1", add.EntityID, false)
	require.NoError(t, q.Submit(t.Context(), toggle))

	assert.Empty(t, pending(t, q))
	assert.False(t, srv.items[add.EntityID].InStock, "toggle applied after the add")
}

// A reply lost after the server applied the write is replayed under the
// same idempotency key and not applied twice.
func TestProcess_ReplayAfterLostAck(t *testing.T) {
	srv := newFakeServer()
	var online atomic.Bool
	q := newTestQueue(t, srv, &online, Options{})

	add := NewAddItem("h1", inventory.ItemInput{Name: "Milk"})
	require.NoError(t, q.Submit(t.Context(), add))
	online.Store(true)

	srv.dropAcks = 1
	res, err := q.Process(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Retried: 1}, res)
	require.Len(t, pending(t, q), 1)

	res, err = q.Process(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Sent: 1}, res)
	assert.Empty(t, pending(t, q))

	assert.Equal(t, 2, srv.attemptsFor(add.ID))
	assert.Equal(t, 1, srv.applied[add.ID])
	assert.Len(t, srv.items, 1)
	e, _ := q.Mirror().Item(add.EntityID)
	assert.Equal(t, Synced, e.State)
}

func TestProcess_DropsAfterMaxRetries(t *testing.T) {
	srv := newFakeServer()
	srv.failAll = errors.New("dial tcp: connection refused")

	var failures, invalidations atomic.Int32
	q := newTestQueue(t, srv, nil, Options{
		MaxRetries: 3,
		OnFailure:  func(Mutation, error) { failures.Add(1) },
		Invalidate: func(_ context.Context, homeID string) {
			assert.Equal(t, "h1", homeID)
			invalidations.Add(1)
		},
	})

	add := NewAddItem("h1", inventory.ItemInput{Name: "Milk"})
	require.NoError(t, q.ApplyOptimistic(add))
	require.NoError(t, q.Enqueue(t.Context(), add))

	for i := 1; i <= 2; i++ {
		res, err := q.Process(t.Context())
		require.NoError(t, err)
		assert.Equal(t, ProcessResult{Retried: 1}, res)
		assert.Equal(t, i, pending(t, q)[0].RetryCount)
	}

	res, err := q.Process(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Dropped: 1}, res)
	assert.Empty(t, pending(t, q))

	res, err = q.Process(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{}, res)

	assert.Equal(t, 3, srv.attemptsFor(add.ID), "never retried after the drop")
	assert.Equal(t, int32(1), failures.Load())
	assert.Equal(t, int32(1), invalidations.Load())
	e, _ := q.Mirror().Item(add.EntityID)
	assert.Equal(t, Failed, e.State)
}

func TestProcess_DropAndAckInOneDrainSettleMirror(t *testing.T) {
	srv := newFakeServer()
	srv.items["a"] = inventory.Item{ID: "a", HomeID: "h1", Name: "Rice", Quantity: 1, InStock: true}
	srv.items["b"] = inventory.Item{ID: "b", HomeID: "h1", Name: "Eggs", Quantity: 1, InStock: true}
	srv.reject = map[string]error{"a": &StatusError{Code: 422, Message: "rejected"}}

	snapshot := func() []inventory.Item {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return []inventory.Item{srv.items["a"], srv.items["b"]}
	}

	var online atomic.Bool
	var q *Queue
	q = newTestQueue(t, srv, &online, Options{
		MaxRetries: 2,
		Invalidate: func(ctx context.Context, _ string) {
			require.NoError(t, q.Reload(ctx, snapshot(), nil))
		},
	})
	require.NoError(t, q.Reload(t.Context(), snapshot(), nil))

	toggleA := NewToggleItem("h1", "a", false)
	toggleA.RetryCount = 1
	toggleB := NewToggleItem("h1", "b", false)
	require.NoError(t, q.Submit(t.Context(), toggleA))
	require.NoError(t, q.Submit(t.Context(), toggleB))

	online.Store(true)
	res, err := q.Process(t.Context())
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Sent: 1, Dropped: 1}, res)

	a, ok := q.Mirror().Item("a")
	require.True(t, ok)
	assert.Equal(t, Synced, a.State)
	assert.True(t, a.Value.InStock, "rejected write is rolled back to server state")

	b, ok := q.Mirror().Item("b")
	require.True(t, ok)
	assert.Equal(t, Synced, b.State, "acked write settles even after a rebuild mid-drain")
	assert.False(t, b.Value.InStock)
	assert.Empty(t, pending(t, q))
}

func TestProcess_ConcurrentCallsDrainOnce(t *testing.T) {
	srv := newFakeServer()
	var online atomic.Bool
	q := newTestQueue(t, srv, &online, Options{})

	var ids []string
	for _, name := range []string{"Milk", "Eggs", "Bread"} {
		m := NewAddItem("h1", inventory.ItemInput{Name: name})
		require.NoError(t, q.Submit(t.Context(), m))
		ids = append(ids, m.ID)
	}
	require.Len(t, pending(t, q), 3)

	online.Store(true)
	srv.gate = make(chan struct{})
	srv.entered = make(chan struct{}, 3)

	done := make(chan ProcessResult)
	go func() {
		res, err := q.Process(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case <-srv.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first drain never reached the server")
	}

	res, err := q.Process(t.Context())
	assert.ErrorIs(t, err, ErrQueueBusy)
	assert.Equal(t, ProcessResult{}, res)

	close(srv.gate)
	assert.Equal(t, ProcessResult{Sent: 3}, <-done)

	for _, id := range ids {
		assert.Equal(t, 1, srv.attemptsFor(id))
	}
	assert.Empty(t, pending(t, q))
}

func TestProcess_StopsOnCancelledContext(t *testing.T) {
	srv := newFakeServer()
	var online atomic.Bool
	q := newTestQueue(t, srv, &online, Options{})
	require.NoError(t, q.Submit(t.Context(), NewAddItem("h1", inventory.ItemInput{Name: "Milk"})))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := q.Process(ctx)
	assert.Error(t, err)
}

func TestMonitor_DrainsWhenServerReturns(t *testing.T) {
	srv := newFakeServer()
	var reachable atomic.Bool
	probe := func(context.Context) error {
		if reachable.Load() {
			return nil
		}
		return errors.New("no route to host")
	}

	var mon *Monitor
	q := newTestQueue(t, srv, nil, Options{Online: func() bool { return mon.Online() }})
	mon = NewMonitor(probe, q, 10*time.Millisecond, zap.NewNop())

	assert.False(t, mon.Check(t.Context()))
	require.NoError(t, q.Submit(t.Context(), NewAddItem("h1", inventory.ItemInput{Name: "Milk"})))
	require.Len(t, pending(t, q), 1)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go mon.Run(ctx)

	reachable.Store(true)
	assert.Eventually(t, func() bool {
		ms, err := q.Pending(t.Context())
		return err == nil && len(ms) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, mon.Online())
}
