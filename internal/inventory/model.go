// Package inventory owns household items and shopping lists. Every mutation
// publishes a domain event; the package knows nothing about websockets.
package inventory

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Actions carried by domain events.
const (
	ActionAdd    = "add"
	ActionUpdate = "update"
	ActionToggle = "toggle"
	ActionDelete = "delete"
)

type Item struct {
	ID        string    `json:"id"`
	HomeID    string    `json:"homeId"`
	Name      string    `json:"name"`
	Quantity  float64   `json:"quantity"`
	Unit      string    `json:"unit,omitempty"`
	Category  string    `json:"category,omitempty"`
	InStock   bool      `json:"inStock"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type List struct {
	ID        string     `json:"id"`
	HomeID    string     `json:"homeId"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	Items     []ListItem `json:"items"`
}

// Stats counts completed entries.
func (l *List) Stats() (completed, total int) {
	for _, it := range l.Items {
		if it.Completed {
			completed++
		}
	}
	return completed, len(l.Items)
}

type ListItem struct {
	ID        string    `json:"id"`
	ListID    string    `json:"listId"`
	Name      string    `json:"name"`
	Quantity  float64   `json:"quantity"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

// ItemInput creates an item. ID may be supplied by an offline client so the
// entity keeps the id it was given optimistically.
type ItemInput struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Category string  `json:"category,omitempty"`
}

// ItemPatch updates the non-nil fields of an item.
type ItemPatch struct {
	Name     *string  `json:"name,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
	Unit     *string  `json:"unit,omitempty"`
	Category *string  `json:"category,omitempty"`
	InStock  *bool    `json:"inStock,omitempty"`
}

type ListInput struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type ListItemInput struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
}

// ItemEvent is published as events.InventoryUpdated.
type ItemEvent struct {
	Action string `json:"action"`
	Item   Item   `json:"item"`
	HomeID string `json:"homeId"`
}

// ListEvent is published as events.ListUpdated. ListItem is set for
// item-level changes.
type ListEvent struct {
	Action   string    `json:"action"`
	List     List      `json:"list"`
	ListItem *ListItem `json:"listItem,omitempty"`
	HomeID   string    `json:"homeId"`
}

// StoredResponse is a recorded reply to an idempotent request.
type StoredResponse struct {
	Status int
	Body   []byte
}
