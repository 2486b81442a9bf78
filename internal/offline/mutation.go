// Package offline queues inventory writes made while the server is
// unreachable and replays them once it is back. A local mirror shows the
// intended state immediately and is reconciled with the server's answers.
package offline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"pantry/internal/inventory"
)

// Kind tags a mutation with its entity and action.
type Kind string

const (
	AddItem        Kind = "item.add"
	UpdateItem     Kind = "item.update"
	ToggleItem     Kind = "item.toggle"
	DeleteItem     Kind = "item.delete"
	AddList        Kind = "list.add"
	AddListItem    Kind = "list_item.add"
	ToggleListItem Kind = "list_item.toggle"
	DeleteListItem Kind = "list_item.delete"
)

// Mutation is one write that must eventually reach the server. Payload is
// the request body the server expects; ParentID is the list id for list
// item kinds. ID doubles as the idempotency key.
type Mutation struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	EntityID   string          `json:"entityId"`
	ParentID   string          `json:"parentId,omitempty"`
	HomeID     string          `json:"homeId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
}

type togglePayload struct {
	InStock *bool `json:"inStock,omitempty"`
}

type completePayload struct {
	Completed *bool `json:"completed,omitempty"`
}

func newMutation(kind Kind, homeID, entityID, parentID string, payload any) Mutation {
	var raw json.RawMessage
	if payload != nil {
		// Payloads are plain structs of strings, numbers and bools.
		raw, _ = json.Marshal(payload)
	}
	return Mutation{
		ID:        uuid.NewString(),
		Kind:      kind,
		EntityID:  entityID,
		ParentID:  parentID,
		HomeID:    homeID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
}

func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// NewAddItem assigns the item id on the client so later mutations can
// reference it before the server has seen it.
func NewAddItem(homeID string, in inventory.ItemInput) Mutation {
	in.ID = orNewID(in.ID)
	return newMutation(AddItem, homeID, in.ID, "", in)
}

func NewUpdateItem(homeID, itemID string, p inventory.ItemPatch) Mutation {
	return newMutation(UpdateItem, homeID, itemID, "", p)
}

func NewToggleItem(homeID, itemID string, inStock bool) Mutation {
	return newMutation(ToggleItem, homeID, itemID, "", togglePayload{InStock: &inStock})
}

func NewDeleteItem(homeID, itemID string) Mutation {
	return newMutation(DeleteItem, homeID, itemID, "", nil)
}

func NewAddList(homeID string, in inventory.ListInput) Mutation {
	in.ID = orNewID(in.ID)
	return newMutation(AddList, homeID, in.ID, "", in)
}

func NewAddListItem(homeID, listID string, in inventory.ListItemInput) Mutation {
	in.ID = orNewID(in.ID)
	return newMutation(AddListItem, homeID, in.ID, listID, in)
}

func NewToggleListItem(homeID, listID, itemID string, completed bool) Mutation {
	return newMutation(ToggleListItem, homeID, itemID, listID, completePayload{Completed: &completed})
}

func NewDeleteListItem(homeID, listID, itemID string) Mutation {
	return newMutation(DeleteListItem, homeID, itemID, listID, nil)
}
