package events

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pantry/internal/metrics"
)

func TestBus_OrderAndIsolation(t *testing.T) {
	m := metrics.NewNop()
	bus := NewBus(zap.NewNop(), m)
	var calls []string

	bus.Subscribe(InventoryUpdated, func(ctx context.Context, data any) error {
		calls = append(calls, "first:"+data.(string))
		return nil
	})
	bus.Subscribe(InventoryUpdated, func(ctx context.Context, data any) error {
		calls = append(calls, "second")
		return errors.New("boom")
	})
	bus.Subscribe(InventoryUpdated, func(ctx context.Context, data any) error {
		calls = append(calls, "third")
		panic("handler exploded")
	})
	bus.Subscribe(InventoryUpdated, func(ctx context.Context, data any) error {
		calls = append(calls, "fourth")
		return nil
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), InventoryUpdated, "milk")
	})

	assert.Equal(t, []string{"first:milk", "second", "third", "fourth"}, calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HandlerFailures.WithLabelValues(InventoryUpdated)))
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop(), nil)
	count := 0

	unsubscribe := bus.Subscribe(ListUpdated, func(ctx context.Context, data any) error {
		count++
		return nil
	})
	bus.Publish(context.Background(), ListUpdated, nil)
	unsubscribe()
	unsubscribe()
	bus.Publish(context.Background(), ListUpdated, nil)

	assert.Equal(t, 1, count)
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop(), nil)
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), "unknown:event", struct{}{})
	})
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	bus := NewBus(zap.NewNop(), nil)
	var unsubscribe func()
	second := 0

	unsubscribe = bus.Subscribe(ListUpdated, func(ctx context.Context, data any) error {
		unsubscribe()
		return nil
	})
	bus.Subscribe(ListUpdated, func(ctx context.Context, data any) error {
		second++
		return nil
	})

	bus.Publish(context.Background(), ListUpdated, nil)
	bus.Publish(context.Background(), ListUpdated, nil)
	assert.Equal(t, 2, second)
}
