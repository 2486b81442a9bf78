package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	myMiddleware "pantry/internal/middleware"
)

func newTestRouter(svc *Service, repo Repository) http.Handler {
	h := NewHandler(svc, NewIdempotency(repo, zap.NewNop()), zap.NewNop())
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := myMiddleware.WithClaims(r.Context(), &myMiddleware.Claims{UserID: "u1", HomeID: "h1"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	r.Route("/api", h.Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	if key != "" {
		r.Header.Set(IdempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandler_IdempotentReplay(t *testing.T) {
	svc, repo, pub := newTestService()
	router := newTestRouter(svc, repo)

	first := do(t, router, http.MethodPost, "/api/items", `{"name":"milk"}`, "mut-1")
	require.Equal(t, http.StatusCreated, first.Code)

	// The client never saw the first response and retries with the same key.
	second := do(t, router, http.MethodPost, "/api/items", `{"name":"milk"}`, "mut-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	items, err := svc.Items(t.Context(), "h1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Len(t, pub.all(), 1, "replay must not publish a second event")
}

// stallingRepo parks the first idempotency lookup after it has read, so a
// second request with the same key can finish in between.
type stallingRepo struct {
	*memRepo
	calls   atomic.Int32
	reached chan struct{}
	release chan struct{}
}

func (r *stallingRepo) GetResponse(ctx context.Context, homeID, key string) (*StoredResponse, error) {
	resp, err := r.memRepo.GetResponse(ctx, homeID, key)
	if r.calls.Add(1) == 1 {
		close(r.reached)
		<-r.release
	}
	return resp, err
}

func TestHandler_IdempotentReplayRacingFirstAttempt(t *testing.T) {
	svc, repo, pub := newTestService()
	stalled := &stallingRepo{memRepo: repo, reached: make(chan struct{}), release: make(chan struct{})}
	router := newTestRouter(svc, stalled)

	late := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		late <- do(t, router, http.MethodPost, "/api/items", `{"name":"milk"}`, "mut-1")
	}()
	<-stalled.reached

	// The other attempt runs to completion while the first lookup is parked.
	first := do(t, router, http.MethodPost, "/api/items", `{"name":"milk"}`, "mut-1")
	require.Equal(t, http.StatusCreated, first.Code)
	close(stalled.release)

	second := <-late
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	items, err := svc.Items(t.Context(), "h1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Len(t, pub.all(), 1)
}

func TestHandler_ToggleWithAndWithoutBody(t *testing.T) {
	svc, repo, _ := newTestService()
	router := newTestRouter(svc, repo)

	created := do(t, router, http.MethodPost, "/api/items", `{"name":"rice"}`, "")
	require.Equal(t, http.StatusCreated, created.Code)
	var it Item
	require.NoError(t, json.NewDecoder(created.Body).Decode(&it))

	w := do(t, router, http.MethodPost, "/api/items/"+it.ID+"/toggle", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&it))
	assert.False(t, it.InStock)

	w = do(t, router, http.MethodPost, "/api/items/"+it.ID+"/toggle", `{"inStock":true}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&it))
	assert.True(t, it.InStock)
}

func TestHandler_Errors(t *testing.T) {
	svc, repo, _ := newTestService()
	router := newTestRouter(svc, repo)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/items/nope", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/items", `{bad`, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/lists", `{"name":""}`, "").Code)

	// Failed requests are not recorded, so a corrected retry with the same key applies.
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/items", `{"name":""}`, "k").Code)
	assert.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/items", `{"name":"tea"}`, "k").Code)
}

func TestHandler_ListItems(t *testing.T) {
	svc, repo, _ := newTestService()
	router := newTestRouter(svc, repo)

	w := do(t, router, http.MethodPost, "/api/lists", `{"name":"Weekly"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var l List
	require.NoError(t, json.NewDecoder(w.Body).Decode(&l))

	w = do(t, router, http.MethodPost, "/api/lists/"+l.ID+"/items", `{"name":"apples"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	var resp listItemResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.ListItem)

	w = do(t, router, http.MethodPost, "/api/lists/"+l.ID+"/items/"+resp.ListItem.ID+"/toggle", `{"completed":true}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/api/lists/"+l.ID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&l))
	require.Len(t, l.Items, 1)
	assert.True(t, l.Items[0].Completed)
}
