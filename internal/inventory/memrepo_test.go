package inventory

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memRepo struct {
	mu        sync.Mutex
	items     map[string]Item
	lists     map[string]List
	listItems map[string]ListItem
	responses map[string]StoredResponse
}

func newMemRepo() *memRepo {
	return &memRepo{
		items:     map[string]Item{},
		lists:     map[string]List{},
		listItems: map[string]ListItem{},
		responses: map[string]StoredResponse{},
	}
}

func (m *memRepo) ListItems(ctx context.Context, homeID string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, it := range m.items {
		if it.HomeID == homeID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) GetItem(ctx context.Context, homeID, id string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.HomeID != homeID {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (m *memRepo) CreateItem(ctx context.Context, it *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.UpdatedAt = time.Now()
	m.items[it.ID] = *it
	return nil
}

func (m *memRepo) UpdateItem(ctx context.Context, it *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[it.ID]; !ok {
		return ErrNotFound
	}
	it.UpdatedAt = time.Now()
	m.items[it.ID] = *it
	return nil
}

func (m *memRepo) DeleteItem(ctx context.Context, homeID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[id]; !ok || it.HomeID != homeID {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memRepo) ListLists(ctx context.Context, homeID string) ([]List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []List
	for _, l := range m.lists {
		if l.HomeID == homeID {
			l.Items = m.itemsOf(l.ID)
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memRepo) GetList(ctx context.Context, homeID, id string) (*List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[id]
	if !ok || l.HomeID != homeID {
		return nil, ErrNotFound
	}
	l.Items = m.itemsOf(id)
	return &l, nil
}

func (m *memRepo) itemsOf(listID string) []ListItem {
	out := []ListItem{}
	for _, it := range m.listItems {
		if it.ListID == listID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memRepo) CreateList(ctx context.Context, l *List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.CreatedAt = time.Now()
	m.lists[l.ID] = *l
	return nil
}

func (m *memRepo) GetListItem(ctx context.Context, listID, id string) (*ListItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.listItems[id]
	if !ok || it.ListID != listID {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (m *memRepo) CreateListItem(ctx context.Context, it *ListItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.CreatedAt = time.Now()
	m.listItems[it.ID] = *it
	return nil
}

func (m *memRepo) UpdateListItem(ctx context.Context, it *ListItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listItems[it.ID]; !ok {
		return ErrNotFound
	}
	m.listItems[it.ID] = *it
	return nil
}

func (m *memRepo) DeleteListItem(ctx context.Context, listID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.listItems[id]; !ok || it.ListID != listID {
		return ErrNotFound
	}
	delete(m.listItems, id)
	return nil
}

func (m *memRepo) GetResponse(ctx context.Context, homeID, key string) (*StoredResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.responses[homeID+":"+key]
	if !ok {
		return nil, nil
	}
	return &resp, nil
}

func (m *memRepo) SaveResponse(ctx context.Context, homeID, key string, resp StoredResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.responses[homeID+":"+key]; !ok {
		m.responses[homeID+":"+key] = resp
	}
	return nil
}

type published struct {
	name string
	data any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(ctx context.Context, name string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{name: name, data: data})
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}
