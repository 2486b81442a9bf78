package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"pantry/internal/inventory"
)

// SyncState says whether a mirrored entity matches the server.
type SyncState string

const (
	Synced  SyncState = "synced"
	Pending SyncState = "pending"
	Failed  SyncState = "failed"
)

var ErrUnknownKind = errors.New("unknown mutation kind")

// Entry is one mirrored entity. Revision is the mirror revision of the last
// local change.
type Entry[T any] struct {
	Value    T
	State    SyncState
	Revision uint64
	Deleted  bool
}

type listItemReply struct {
	List     *inventory.List     `json:"list"`
	ListItem *inventory.ListItem `json:"listItem"`
}

// Mirror is the local copy of the household's items and lists that the UI
// reads from. Optimistic changes land here before any network call.
type Mirror struct {
	mu        sync.RWMutex
	rev       uint64
	items     map[string]*Entry[inventory.Item]
	lists     map[string]*Entry[inventory.List]
	listItems map[string]*Entry[inventory.ListItem]
	// Outstanding mutations per entity id.
	inflight map[string]int
}

func NewMirror() *Mirror {
	return &Mirror{
		items:     map[string]*Entry[inventory.Item]{},
		lists:     map[string]*Entry[inventory.List]{},
		listItems: map[string]*Entry[inventory.ListItem]{},
		inflight:  map[string]int{},
	}
}

// Apply records the intended end state of m. Mutations that reference an
// entity the mirror has never seen only bump the revision.
func (mr *Mirror) Apply(m Mutation) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	mr.rev++
	now := time.Now().UTC()

	switch m.Kind {
	case AddItem:
		var in inventory.ItemInput
		if err := decodePayload(m, &in); err != nil {
			return err
		}
		qty := in.Quantity
		if qty <= 0 {
			qty = 1
		}
		mr.items[m.EntityID] = &Entry[inventory.Item]{Value: inventory.Item{
			ID: m.EntityID, HomeID: m.HomeID, Name: strings.TrimSpace(in.Name), Quantity: qty,
			Unit: in.Unit, Category: in.Category, InStock: true, UpdatedAt: now,
		}}
	case UpdateItem:
		var p inventory.ItemPatch
		if err := decodePayload(m, &p); err != nil {
			return err
		}
		if e, ok := mr.items[m.EntityID]; ok {
			patchItem(&e.Value, p)
			e.Value.UpdatedAt = now
		}
	case ToggleItem:
		var p togglePayload
		if err := decodePayload(m, &p); err != nil {
			return err
		}
		if e, ok := mr.items[m.EntityID]; ok {
			if p.InStock != nil {
				e.Value.InStock = *p.InStock
			} else {
				e.Value.InStock = !e.Value.InStock
			}
			e.Value.UpdatedAt = now
		}
	case DeleteItem:
		if e, ok := mr.items[m.EntityID]; ok {
			e.Deleted = true
		}
	case AddList:
		var in inventory.ListInput
		if err := decodePayload(m, &in); err != nil {
			return err
		}
		mr.lists[m.EntityID] = &Entry[inventory.List]{Value: inventory.List{
			ID: m.EntityID, HomeID: m.HomeID, Name: strings.TrimSpace(in.Name), CreatedAt: now,
		}}
	case AddListItem:
		var in inventory.ListItemInput
		if err := decodePayload(m, &in); err != nil {
			return err
		}
		qty := in.Quantity
		if qty <= 0 {
			qty = 1
		}
		mr.listItems[m.EntityID] = &Entry[inventory.ListItem]{Value: inventory.ListItem{
			ID: m.EntityID, ListID: m.ParentID, Name: strings.TrimSpace(in.Name), Quantity: qty, CreatedAt: now,
		}}
	case ToggleListItem:
		var p completePayload
		if err := decodePayload(m, &p); err != nil {
			return err
		}
		if e, ok := mr.listItems[m.EntityID]; ok {
			if p.Completed != nil {
				e.Value.Completed = *p.Completed
			} else {
				e.Value.Completed = !e.Value.Completed
			}
		}
	case DeleteListItem:
		if e, ok := mr.listItems[m.EntityID]; ok {
			e.Deleted = true
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, m.Kind)
	}

	mr.inflight[m.EntityID]++
	mr.markLocked(m.EntityID, Pending)
	return nil
}

// Ack reconciles the mirror with the server's reply to m. While newer local
// changes to the same entity are still outstanding the local value wins.
func (mr *Mirror) Ack(m Mutation, reply json.RawMessage) {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	settled := mr.settleLocked(m.EntityID)

	switch m.Kind {
	case DeleteItem:
		if settled {
			delete(mr.items, m.EntityID)
		}
		return
	case DeleteListItem:
		if settled {
			delete(mr.listItems, m.EntityID)
		}
		return
	}
	if !settled {
		return
	}

	switch m.Kind {
	case AddItem, UpdateItem, ToggleItem:
		var it inventory.Item
		if json.Unmarshal(reply, &it) == nil && it.ID != "" {
			mr.items[m.EntityID] = &Entry[inventory.Item]{Value: it, State: Synced, Revision: mr.rev}
		}
	case AddList:
		var l inventory.List
		if json.Unmarshal(reply, &l) == nil && l.ID != "" {
			l.Items = nil
			mr.lists[m.EntityID] = &Entry[inventory.List]{Value: l, State: Synced, Revision: mr.rev}
		}
	case AddListItem, ToggleListItem:
		var r listItemReply
		if json.Unmarshal(reply, &r) == nil && r.ListItem != nil {
			mr.listItems[m.EntityID] = &Entry[inventory.ListItem]{Value: *r.ListItem, State: Synced, Revision: mr.rev}
		}
	}
	mr.markLocked(m.EntityID, Synced)
}

// Fail marks the entity of a permanently failed mutation. The caller is
// expected to refetch and Reset to the server state.
func (mr *Mirror) Fail(m Mutation) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.settleLocked(m.EntityID)
	mr.markLocked(m.EntityID, Failed)
}

// Reset replaces the whole mirror with server state and replays pending on
// top. Outstanding counts are rebuilt from pending alone, so mutations that
// were already applied locally are not counted twice.
func (mr *Mirror) Reset(items []inventory.Item, lists []inventory.List, pending []Mutation) error {
	mr.mu.Lock()
	mr.rev++
	mr.items = make(map[string]*Entry[inventory.Item], len(items))
	mr.lists = make(map[string]*Entry[inventory.List], len(lists))
	mr.listItems = map[string]*Entry[inventory.ListItem]{}
	mr.inflight = map[string]int{}
	for _, it := range items {
		mr.items[it.ID] = &Entry[inventory.Item]{Value: it, State: Synced, Revision: mr.rev}
	}
	for _, l := range lists {
		for _, li := range l.Items {
			mr.listItems[li.ID] = &Entry[inventory.ListItem]{Value: li, State: Synced, Revision: mr.rev}
		}
		l.Items = nil
		mr.lists[l.ID] = &Entry[inventory.List]{Value: l, State: Synced, Revision: mr.rev}
	}
	mr.mu.Unlock()

	var errs []error
	for _, m := range pending {
		if err := mr.Apply(m); err != nil {
			errs = append(errs, fmt.Errorf("replay %s: %w", m.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (mr *Mirror) Revision() uint64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.rev
}

func (mr *Mirror) Item(id string) (Entry[inventory.Item], bool) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	e, ok := mr.items[id]
	if !ok {
		return Entry[inventory.Item]{}, false
	}
	return *e, true
}

func (mr *Mirror) ListItem(id string) (Entry[inventory.ListItem], bool) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	e, ok := mr.listItems[id]
	if !ok {
		return Entry[inventory.ListItem]{}, false
	}
	return *e, true
}

// Items returns live (not deleted) items sorted by name.
func (mr *Mirror) Items() []Entry[inventory.Item] {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make([]Entry[inventory.Item], 0, len(mr.items))
	for _, e := range mr.items {
		if !e.Deleted {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b Entry[inventory.Item]) int {
		return strings.Compare(strings.ToLower(a.Value.Name), strings.ToLower(b.Value.Name))
	})
	return out
}

func (mr *Mirror) Lists() []Entry[inventory.List] {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make([]Entry[inventory.List], 0, len(mr.lists))
	for _, e := range mr.lists {
		if !e.Deleted {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b Entry[inventory.List]) int {
		return a.Value.CreatedAt.Compare(b.Value.CreatedAt)
	})
	return out
}

// ListItems returns the live entries of one list in insertion order.
func (mr *Mirror) ListItems(listID string) []Entry[inventory.ListItem] {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	var out []Entry[inventory.ListItem]
	for _, e := range mr.listItems {
		if e.Value.ListID == listID && !e.Deleted {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b Entry[inventory.ListItem]) int {
		if c := a.Value.CreatedAt.Compare(b.Value.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Value.ID, b.Value.ID)
	})
	return out
}

// settleLocked drops one outstanding mutation for id and reports whether
// none remain.
func (mr *Mirror) settleLocked(id string) bool {
	if n := mr.inflight[id]; n > 1 {
		mr.inflight[id] = n - 1
		return false
	}
	delete(mr.inflight, id)
	return true
}

func (mr *Mirror) markLocked(id string, s SyncState) {
	if e, ok := mr.items[id]; ok {
		e.State, e.Revision = s, mr.rev
	}
	if e, ok := mr.lists[id]; ok {
		e.State, e.Revision = s, mr.rev
	}
	if e, ok := mr.listItems[id]; ok {
		e.State, e.Revision = s, mr.rev
	}
}

func patchItem(it *inventory.Item, p inventory.ItemPatch) {
	if p.Name != nil {
		it.Name = strings.TrimSpace(*p.Name)
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
}

func decodePayload(m Mutation, v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return nil
}
