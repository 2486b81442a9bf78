package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pantry/internal/events"
	"pantry/internal/metrics"
)

// DefaultListName is used when a household has no list yet.
const DefaultListName = "Groceries"

// Publisher is satisfied by *events.Bus.
type Publisher interface {
	Publish(ctx context.Context, name string, data any)
}

type Service struct {
	repo    Repository
	events  Publisher
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewService wires the service. m may be nil.
func NewService(repo Repository, pub Publisher, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{repo: repo, events: pub, log: log.Named("inventory"), metrics: m}
}

func (s *Service) Items(ctx context.Context, homeID string) ([]Item, error) {
	items, err := s.repo.ListItems(ctx, homeID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

func (s *Service) AddItem(ctx context.Context, homeID string, in ItemInput) (*Item, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrInvalidInput)
	}
	it := &Item{
		ID:       idOrNew(in.ID),
		HomeID:   homeID,
		Name:     name,
		Quantity: quantityOrOne(in.Quantity),
		Unit:     in.Unit,
		Category: in.Category,
		InStock:  true,
	}
	if err := s.repo.CreateItem(ctx, it); err != nil {
		return nil, err
	}
	s.publishItem(ctx, ActionAdd, it)
	return it, nil
}

func (s *Service) UpdateItem(ctx context.Context, homeID, id string, p ItemPatch) (*Item, error) {
	it, err := s.repo.GetItem(ctx, homeID, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: item name is required", ErrInvalidInput)
		}
		it.Name = name
	}
	if p.Quantity != nil {
		it.Quantity = *p.Quantity
	}
	if p.Unit != nil {
		it.Unit = *p.Unit
	}
	if p.Category != nil {
		it.Category = *p.Category
	}
	if p.InStock != nil {
		it.InStock = *p.InStock
	}
	if err := s.repo.UpdateItem(ctx, it); err != nil {
		return nil, err
	}
	s.publishItem(ctx, ActionUpdate, it)
	return it, nil
}

// ToggleItem sets in-stock to inStock, or flips it when inStock is nil.
func (s *Service) ToggleItem(ctx context.Context, homeID, id string, inStock *bool) (*Item, error) {
	it, err := s.repo.GetItem(ctx, homeID, id)
	if err != nil {
		return nil, err
	}
	if inStock != nil {
		it.InStock = *inStock
	} else {
		it.InStock = !it.InStock
	}
	if err := s.repo.UpdateItem(ctx, it); err != nil {
		return nil, err
	}
	s.publishItem(ctx, ActionToggle, it)
	return it, nil
}

func (s *Service) DeleteItem(ctx context.Context, homeID, id string) (*Item, error) {
	it, err := s.repo.GetItem(ctx, homeID, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteItem(ctx, homeID, id); err != nil {
		return nil, err
	}
	s.publishItem(ctx, ActionDelete, it)
	return it, nil
}

// FindItem returns the first item whose name matches, case-insensitively.
func (s *Service) FindItem(ctx context.Context, homeID, name string) (*Item, error) {
	items, err := s.repo.ListItems(ctx, homeID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if strings.EqualFold(items[i].Name, strings.TrimSpace(name)) {
			return &items[i], nil
		}
	}
	return nil, ErrNotFound
}

func (s *Service) Lists(ctx context.Context, homeID string) ([]List, error) {
	lists, err := s.repo.ListLists(ctx, homeID)
	if err != nil {
		return nil, err
	}
	if lists == nil {
		lists = []List{}
	}
	return lists, nil
}

func (s *Service) List(ctx context.Context, homeID, id string) (*List, error) {
	return s.repo.GetList(ctx, homeID, id)
}

func (s *Service) CreateList(ctx context.Context, homeID string, in ListInput) (*List, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: list name is required", ErrInvalidInput)
	}
	l := &List{ID: idOrNew(in.ID), HomeID: homeID, Name: name, Items: []ListItem{}}
	if err := s.repo.CreateList(ctx, l); err != nil {
		return nil, err
	}
	s.publishList(ctx, ActionAdd, l, nil)
	return l, nil
}

// DefaultList returns listID when it belongs to the household, otherwise the
// oldest list, creating one when the household has none.
func (s *Service) DefaultList(ctx context.Context, homeID, listID string) (*List, error) {
	if listID != "" {
		l, err := s.repo.GetList(ctx, homeID, listID)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	lists, err := s.repo.ListLists(ctx, homeID)
	if err != nil {
		return nil, err
	}
	if len(lists) > 0 {
		return &lists[0], nil
	}
	return s.CreateList(ctx, homeID, ListInput{Name: DefaultListName})
}

func (s *Service) AddListItem(ctx context.Context, homeID, listID string, in ListItemInput) (*List, *ListItem, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: item name is required", ErrInvalidInput)
	}
	l, err := s.repo.GetList(ctx, homeID, listID)
	if err != nil {
		return nil, nil, err
	}
	it := &ListItem{
		ID:       idOrNew(in.ID),
		ListID:   l.ID,
		Name:     name,
		Quantity: quantityOrOne(in.Quantity),
	}
	if err := s.repo.CreateListItem(ctx, it); err != nil {
		return nil, nil, err
	}
	l.Items = append(l.Items, *it)
	s.publishList(ctx, ActionAdd, l, it)
	return l, it, nil
}

// ToggleListItem sets completed, or flips it when completed is nil.
func (s *Service) ToggleListItem(ctx context.Context, homeID, listID, itemID string, completed *bool) (*List, *ListItem, error) {
	l, err := s.repo.GetList(ctx, homeID, listID)
	if err != nil {
		return nil, nil, err
	}
	it, err := s.repo.GetListItem(ctx, l.ID, itemID)
	if err != nil {
		return nil, nil, err
	}
	if completed != nil {
		it.Completed = *completed
	} else {
		it.Completed = !it.Completed
	}
	if err := s.repo.UpdateListItem(ctx, it); err != nil {
		return nil, nil, err
	}
	for i := range l.Items {
		if l.Items[i].ID == it.ID {
			l.Items[i] = *it
		}
	}
	s.publishList(ctx, ActionToggle, l, it)
	return l, it, nil
}

func (s *Service) DeleteListItem(ctx context.Context, homeID, listID, itemID string) (*List, *ListItem, error) {
	l, err := s.repo.GetList(ctx, homeID, listID)
	if err != nil {
		return nil, nil, err
	}
	it, err := s.repo.GetListItem(ctx, l.ID, itemID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.repo.DeleteListItem(ctx, l.ID, itemID); err != nil {
		return nil, nil, err
	}
	kept := l.Items[:0]
	for _, existing := range l.Items {
		if existing.ID != itemID {
			kept = append(kept, existing)
		}
	}
	l.Items = kept
	s.publishList(ctx, ActionDelete, l, it)
	return l, it, nil
}

func (s *Service) publishItem(ctx context.Context, action string, it *Item) {
	if s.metrics != nil {
		s.metrics.Mutations.WithLabelValues("item", action).Inc()
	}
	s.events.Publish(ctx, events.InventoryUpdated, ItemEvent{Action: action, Item: *it, HomeID: it.HomeID})
}

func (s *Service) publishList(ctx context.Context, action string, l *List, it *ListItem) {
	if s.metrics != nil {
		s.metrics.Mutations.WithLabelValues("list", action).Inc()
	}
	ev := ListEvent{Action: action, List: *l, HomeID: l.HomeID}
	if it != nil {
		copied := *it
		ev.ListItem = &copied
	}
	s.events.Publish(ctx, events.ListUpdated, ev)
}

func idOrNew(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewString()
}

func quantityOrOne(q float64) float64 {
	if q <= 0 {
		return 1
	}
	return q
}
