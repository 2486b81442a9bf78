package offline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Monitor tracks server reachability by probing it and drains the queue
// when the server comes back and on every tick while online.
type Monitor struct {
	probe    func(ctx context.Context) error
	queue    *Queue
	interval time.Duration
	log      *zap.Logger
	online   atomic.Bool
}

func NewMonitor(probe func(ctx context.Context) error, q *Queue, interval time.Duration, log *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{probe: probe, queue: q, interval: interval, log: log.Named("connectivity")}
}

func (m *Monitor) Online() bool { return m.online.Load() }

// Check probes once and reports whether the server just became reachable.
func (m *Monitor) Check(ctx context.Context) (cameOnline bool) {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	up := m.probe(pctx) == nil
	was := m.online.Swap(up)
	switch {
	case up && !was:
		m.log.Info("server reachable")
		return true
	case !up && was:
		m.log.Warn("server unreachable, writes will be queued")
	}
	return false
}

// Run probes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Check(ctx)
		if m.Online() {
			m.sync(ctx)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) sync(ctx context.Context) {
	if m.queue == nil {
		return
	}
	if _, err := m.queue.Process(ctx); err != nil && !errors.Is(err, ErrQueueBusy) && ctx.Err() == nil {
		m.log.Warn("sync failed", zap.Error(err))
	}
}
