package chat

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"pantry/internal/events"
	"pantry/internal/inventory"
)

// HomeContext is the household snapshot handed to the agent.
type HomeContext struct {
	HomeID       string
	InStock      []string
	OutOfStock   []string
	Lists        []ListSummary
	ActiveListID string
}

// HomeContextLoader resolves the snapshot for a turn.
type HomeContextLoader interface {
	Load(ctx context.Context, homeID, listID string) (*HomeContext, error)
}

// InventorySource is the part of inventory.Service the snapshot reads.
type InventorySource interface {
	Items(ctx context.Context, homeID string) ([]inventory.Item, error)
	Lists(ctx context.Context, homeID string) ([]inventory.List, error)
}

// HomeContextCache memoizes snapshots per household and drops them whenever
// the household's inventory or lists change.
type HomeContextCache struct {
	src   InventorySource
	cache *cache.Cache
}

func NewHomeContextCache(src InventorySource, ttl time.Duration) *HomeContextCache {
	return &HomeContextCache{src: src, cache: cache.New(ttl, 2*ttl)}
}

func (c *HomeContextCache) Load(ctx context.Context, homeID, listID string) (*HomeContext, error) {
	if v, ok := c.cache.Get(homeID); ok {
		hc := *v.(*HomeContext)
		hc.ActiveListID = activeList(hc.Lists, listID)
		return &hc, nil
	}

	items, err := c.src.Items(ctx, homeID)
	if err != nil {
		return nil, err
	}
	lists, err := c.src.Lists(ctx, homeID)
	if err != nil {
		return nil, err
	}

	hc := &HomeContext{HomeID: homeID}
	for _, it := range items {
		if it.InStock {
			hc.InStock = append(hc.InStock, it.Name)
		} else {
			hc.OutOfStock = append(hc.OutOfStock, it.Name)
		}
	}
	for i := range lists {
		hc.Lists = append(hc.Lists, Summarize(lists[i]))
	}
	c.cache.SetDefault(homeID, hc)

	out := *hc
	out.ActiveListID = activeList(hc.Lists, listID)
	return &out, nil
}

func (c *HomeContextCache) Invalidate(homeID string) {
	c.cache.Delete(homeID)
}

// Subscribe drops cached snapshots on inventory and list events.
func (c *HomeContextCache) Subscribe(bus EventSubscriber) func() {
	offItems := bus.Subscribe(events.InventoryUpdated, func(_ context.Context, data any) error {
		if ev, ok := data.(inventory.ItemEvent); ok {
			c.Invalidate(ev.HomeID)
		}
		return nil
	})
	offLists := bus.Subscribe(events.ListUpdated, func(_ context.Context, data any) error {
		if ev, ok := data.(inventory.ListEvent); ok {
			c.Invalidate(ev.HomeID)
		}
		return nil
	})
	return func() {
		offItems()
		offLists()
	}
}

func activeList(lists []ListSummary, requested string) string {
	for _, l := range lists {
		if l.ID == requested {
			return requested
		}
	}
	if len(lists) > 0 {
		return lists[0].ID
	}
	return ""
}
