package offline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pantry/internal/inventory"
)

// DefaultMaxRetries is how many failed replays a mutation gets before it is
// dropped. The drop happens on the failure that brings RetryCount up to the
// limit, so a queued mutation is attempted at most DefaultMaxRetries times
// by Process and never retried once RetryCount reaches it.
const DefaultMaxRetries = 5

// ErrQueueBusy is returned by Process while another drain is running.
var ErrQueueBusy = errors.New("offline queue is already processing")

type Options struct {
	Store  Store
	Mirror *Mirror
	Remote Remote
	// Online reports current reachability. Nil means always online.
	Online     func() bool
	MaxRetries int
	// OnFailure is called once for every mutation that is dropped.
	OnFailure func(m Mutation, err error)
	// Invalidate refetches server state for a household after a drop so
	// the mirror cannot keep showing a write that never happened.
	Invalidate func(ctx context.Context, homeID string)
	Logger     *zap.Logger
}

// ProcessResult summarizes one drain.
type ProcessResult struct {
	Sent    int
	Retried int
	Dropped int
}

type Queue struct {
	store      Store
	mirror     *Mirror
	remote     Remote
	online     func() bool
	maxRetries int
	onFailure  func(Mutation, error)
	invalidate func(context.Context, string)
	log        *zap.Logger

	processing atomic.Bool
}

func NewQueue(opts Options) *Queue {
	q := &Queue{
		store:      opts.Store,
		mirror:     opts.Mirror,
		remote:     opts.Remote,
		online:     opts.Online,
		maxRetries: opts.MaxRetries,
		onFailure:  opts.OnFailure,
		invalidate: opts.Invalidate,
		log:        opts.Logger,
	}
	if q.mirror == nil {
		q.mirror = NewMirror()
	}
	if q.online == nil {
		q.online = func() bool { return true }
	}
	if q.maxRetries <= 0 {
		q.maxRetries = DefaultMaxRetries
	}
	if q.log == nil {
		q.log = zap.NewNop()
	}
	q.log = q.log.Named("offline")
	return q
}

func (q *Queue) Mirror() *Mirror { return q.mirror }

// ApplyOptimistic updates the mirror. It never touches the network.
func (q *Queue) ApplyOptimistic(m Mutation) error {
	return q.mirror.Apply(m)
}

// Reload rebuilds the mirror from a server snapshot plus whatever is still
// queued. Use it from Invalidate instead of Load followed by ApplyOptimistic.
func (q *Queue) Reload(ctx context.Context, items []inventory.Item, lists []inventory.List) error {
	pending, err := q.store.Pending(ctx)
	if err != nil {
		return err
	}
	return q.mirror.Reset(items, lists, pending)
}

// Enqueue stores m for a later Process.
func (q *Queue) Enqueue(ctx context.Context, m Mutation) error {
	if err := q.store.Add(ctx, m); err != nil {
		return err
	}
	q.log.Debug("mutation queued", zap.String("id", m.ID), zap.String("kind", string(m.Kind)))
	return nil
}

// Submit applies m optimistically, then sends it when online or queues it
// otherwise. A failed send while online is queued like an offline write.
// When older mutations are still queued, m goes behind them to keep order.
func (q *Queue) Submit(ctx context.Context, m Mutation) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := q.ApplyOptimistic(m); err != nil {
		return err
	}

	if !q.online() {
		return q.Enqueue(ctx, m)
	}

	backlog, err := q.store.Pending(ctx)
	if err != nil {
		return err
	}
	if len(backlog) > 0 {
		if err := q.Enqueue(ctx, m); err != nil {
			return err
		}
		if _, err := q.Process(ctx); err != nil && !errors.Is(err, ErrQueueBusy) {
			return err
		}
		return nil
	}

	reply, err := q.remote.Apply(ctx, m)
	if err != nil {
		q.log.Info("send failed, queueing", zap.String("id", m.ID), zap.Error(err))
		m.LastError = err.Error()
		return q.Enqueue(ctx, m)
	}
	q.mirror.Ack(m, reply)
	return nil
}

// Process drains the queue oldest first. Only one drain runs at a time; a
// concurrent call returns ErrQueueBusy without touching the queue.
func (q *Queue) Process(ctx context.Context) (ProcessResult, error) {
	var res ProcessResult
	if !q.processing.CompareAndSwap(false, true) {
		return res, ErrQueueBusy
	}
	defer q.processing.Store(false)

	pending, err := q.store.Pending(ctx)
	if err != nil {
		return res, err
	}

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		reply, err := q.remote.Apply(ctx, m)
		if err == nil {
			if err := q.store.Remove(ctx, m.ID); err != nil {
				return res, err
			}
			q.mirror.Ack(m, reply)
			res.Sent++
			continue
		}

		m.RetryCount++
		m.LastError = err.Error()
		if m.RetryCount >= q.maxRetries {
			if err := q.drop(ctx, m, err); err != nil {
				return res, err
			}
			res.Dropped++
			continue
		}
		if err := q.store.Update(ctx, m); err != nil {
			return res, err
		}
		q.log.Info("mutation failed, will retry",
			zap.String("id", m.ID), zap.Int("retry", m.RetryCount), zap.Error(err))
		res.Retried++
	}

	if res.Sent+res.Retried+res.Dropped > 0 {
		q.log.Info("queue processed",
			zap.Int("sent", res.Sent), zap.Int("retried", res.Retried), zap.Int("dropped", res.Dropped))
	}
	return res, nil
}

func (q *Queue) drop(ctx context.Context, m Mutation, cause error) error {
	if err := q.store.Remove(ctx, m.ID); err != nil {
		return err
	}
	q.log.Warn("dropping mutation after repeated failures",
		zap.String("id", m.ID), zap.String("kind", string(m.Kind)), zap.Int("attempts", m.RetryCount), zap.Error(cause))

	q.mirror.Fail(m)
	if q.onFailure != nil {
		q.onFailure(m, cause)
	}
	if q.invalidate != nil {
		q.invalidate(ctx, m.HomeID)
	}
	return nil
}

// Pending lists queued mutations, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]Mutation, error) {
	return q.store.Pending(ctx)
}
