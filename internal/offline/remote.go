package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pantry/internal/inventory"
)

// Remote performs the server call for a mutation and returns the response
// body. The mutation id must be sent as the idempotency key so a replay of
// an applied-but-unacknowledged call is not applied twice.
type Remote interface {
	Apply(ctx context.Context, m Mutation) (json.RawMessage, error)
}

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// HTTPRemote talks to the inventory REST API.
type HTTPRemote struct {
	base   string
	token  string
	client *http.Client
}

func NewHTTPRemote(baseURL, token string, client *http.Client) *HTTPRemote {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPRemote{base: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

func route(m Mutation) (method, path string, err error) {
	id := url.PathEscape(m.EntityID)
	list := url.PathEscape(m.ParentID)
	switch m.Kind {
	case AddItem:
		return http.MethodPost, "/api/items", nil
	case UpdateItem:
		return http.MethodPatch, "/api/items/" + id, nil
	case ToggleItem:
		return http.MethodPost, "/api/items/" + id + "/toggle", nil
	case DeleteItem:
		return http.MethodDelete, "/api/items/" + id, nil
	case AddList:
		return http.MethodPost, "/api/lists", nil
	case AddListItem:
		return http.MethodPost, "/api/lists/" + list + "/items", nil
	case ToggleListItem:
		return http.MethodPost, "/api/lists/" + list + "/items/" + id + "/toggle", nil
	case DeleteListItem:
		return http.MethodDelete, "/api/lists/" + list + "/items/" + id, nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnknownKind, m.Kind)
	}
}

func (r *HTTPRemote) Apply(ctx context.Context, m Mutation) (json.RawMessage, error) {
	method, path, err := route(m)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(m.Payload) > 0 {
		body = bytes.NewReader(m.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(inventory.IdempotencyHeader, m.ID)
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

// Snapshot fetches the household's items and lists for Queue.Reload.
func (r *HTTPRemote) Snapshot(ctx context.Context) ([]inventory.Item, []inventory.List, error) {
	var items []inventory.Item
	if err := r.getJSON(ctx, "/api/items", &items); err != nil {
		return nil, nil, err
	}
	var lists []inventory.List
	if err := r.getJSON(ctx, "/api/lists", &lists); err != nil {
		return nil, nil, err
	}
	// The list index omits entries; fetch each list in full.
	for i := range lists {
		if err := r.getJSON(ctx, "/api/lists/"+url.PathEscape(lists[i].ID), &lists[i]); err != nil {
			return nil, nil, err
		}
	}
	return items, lists, nil
}

// Ping probes the health endpoint.
func (r *HTTPRemote) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

func (r *HTTPRemote) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+path, nil)
	if err != nil {
		return err
	}
	r.authorize(req)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (r *HTTPRemote) authorize(req *http.Request) {
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
