package chat

import (
	"encoding/json"
	"fmt"

	"pantry/internal/inventory"
)

// UIType tags the structured payload attached to an assistant reply.
type UIType string

const (
	UIGroceryList   UIType = "grocery-list"
	UIListsOverview UIType = "grocery-lists-overview"
	UIListEditor    UIType = "list-editor"
)

// UI is a closed sum type: only the variants in this file implement it.
type UI interface {
	Type() UIType
	isUI()
}

type UIListItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	Completed bool    `json:"completed"`
}

// GroceryListUI is a flat item list with completion stats.
type GroceryListUI struct {
	ListID    string       `json:"listId"`
	Title     string       `json:"title"`
	Items     []UIListItem `json:"items"`
	Completed int          `json:"completed"`
	Total     int          `json:"total"`
}

type ListSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// ListsOverviewUI shows summary cards for several lists.
type ListsOverviewUI struct {
	Lists []ListSummary `json:"lists"`
}

// ListEditorUI is a full editable view of one list.
type ListEditorUI struct {
	List inventory.List `json:"list"`
}

func (GroceryListUI) Type() UIType   { return UIGroceryList }
func (ListsOverviewUI) Type() UIType { return UIListsOverview }
func (ListEditorUI) Type() UIType    { return UIListEditor }

func (GroceryListUI) isUI()   {}
func (ListsOverviewUI) isUI() {}
func (ListEditorUI) isUI()    {}

// UIEnvelope is the wire form: {"type": "...", "data": {...}}.
type UIEnvelope struct {
	Type UIType `json:"type"`
	Data UI     `json:"data"`
}

func Envelope(ui UI) *UIEnvelope {
	if ui == nil {
		return nil
	}
	return &UIEnvelope{Type: ui.Type(), Data: ui}
}

func (e *UIEnvelope) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type UIType          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var ui UI
	switch raw.Type {
	case UIGroceryList:
		var v GroceryListUI
		if err := json.Unmarshal(raw.Data, &v); err != nil {
			return err
		}
		ui = v
	case UIListsOverview:
		var v ListsOverviewUI
		if err := json.Unmarshal(raw.Data, &v); err != nil {
			return err
		}
		ui = v
	case UIListEditor:
		var v ListEditorUI
		if err := json.Unmarshal(raw.Data, &v); err != nil {
			return err
		}
		ui = v
	default:
		return fmt.Errorf("unknown ui type %q", raw.Type)
	}

	e.Type = raw.Type
	e.Data = ui
	return nil
}

// GroceryListFrom renders a list as a grocery-list payload.
func GroceryListFrom(l inventory.List) GroceryListUI {
	items := make([]UIListItem, 0, len(l.Items))
	for _, it := range l.Items {
		items = append(items, UIListItem{ID: it.ID, Name: it.Name, Quantity: it.Quantity, Completed: it.Completed})
	}
	completed, total := l.Stats()
	return GroceryListUI{ListID: l.ID, Title: l.Name, Items: items, Completed: completed, Total: total}
}

// OverviewFrom renders several lists as summary cards.
func OverviewFrom(lists []inventory.List) ListsOverviewUI {
	out := ListsOverviewUI{Lists: make([]ListSummary, 0, len(lists))}
	for i := range lists {
		out.Lists = append(out.Lists, Summarize(lists[i]))
	}
	return out
}

func Summarize(l inventory.List) ListSummary {
	completed, total := l.Stats()
	return ListSummary{ID: l.ID, Name: l.Name, Completed: completed, Total: total}
}
