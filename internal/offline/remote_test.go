package offline

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry/internal/inventory"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		m      Mutation
		method string
		path   string
	}{
		{NewAddItem("h", inventory.ItemInput{ID: "i1", Name: "x"}), http.MethodPost, "/api/items"},
		{NewUpdateItem("h", "i1", inventory.ItemPatch{}), http.MethodPatch, "/api/items/i1"},
		{NewToggleItem("h", "i1", true), http.MethodPost, "/api/items/i1/toggle"},
		{NewDeleteItem("h", "i1"), http.MethodDelete, "/api/items/i1"},
		{NewAddList("h", inventory.ListInput{Name: "x"}), http.MethodPost, "/api/lists"},
		{NewAddListItem("h", "l1", inventory.ListItemInput{Name: "x"}), http.MethodPost, "/api/lists/l1/items"},
		{NewToggleListItem("h", "l1", "li1", true), http.MethodPost, "/api/lists/l1/items/li1/toggle"},
		{NewDeleteListItem("h", "l1", "li1"), http.MethodDelete, "/api/lists/l1/items/li1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.m.Kind), func(t *testing.T) {
			method, path, err := route(tt.m)
			require.NoError(t, err)
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.path, path)
		})
	}

	_, _, err := route(Mutation{Kind: "nope"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestHTTPRemote_Apply(t *testing.T) {
	var gotKey, gotAuth, gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/items", func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(inventory.IdempotencyHeader)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(inventory.Item{ID: "i1", Name: "Milk", InStock: true})
	})
	mux.HandleFunc("DELETE /api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL+"/", "secret", nil)

	m := NewAddItem("h1", inventory.ItemInput{ID: "i1", Name: "Milk"})
	reply, err := remote.Apply(t.Context(), m)
	require.NoError(t, err)
	assert.Equal(t, m.ID, gotKey)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.JSONEq(t, `{"id":"i1","name":"Milk"}`, gotBody)

	var it inventory.Item
	require.NoError(t, json.Unmarshal(reply, &it))
	assert.Equal(t, "Milk", it.Name)

	_, err = remote.Apply(t.Context(), NewDeleteItem("h1", "gone"))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "not found", se.Message)
}

func TestHTTPRemote_PingAndSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/items", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]inventory.Item{{ID: "i1", Name: "Rice"}})
	})
	mux.HandleFunc("GET /api/lists", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]inventory.List{{ID: "l1", Name: "Groceries"}})
	})
	mux.HandleFunc("GET /api/lists/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(inventory.List{ID: "l1", Name: "Groceries", Items: []inventory.ListItem{{ID: "li1", Name: "Tea"}}})
	})
	srv := httptest.NewServer(mux)

	remote := NewHTTPRemote(srv.URL, "", nil)
	require.NoError(t, remote.Ping(t.Context()))

	items, lists, err := remote.Snapshot(t.Context())
	require.NoError(t, err)
	assert.Len(t, items, 1)
	require.Len(t, lists, 1)
	assert.Len(t, lists[0].Items, 1)

	srv.Close()
	assert.Error(t, remote.Ping(t.Context()))
}
