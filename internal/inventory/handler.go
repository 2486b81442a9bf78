package inventory

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	myMiddleware "pantry/internal/middleware"
)

type Handler struct {
	svc         *Service
	idempotency *Idempotency
	log         *zap.Logger
}

func NewHandler(svc *Service, idem *Idempotency, log *zap.Logger) *Handler {
	return &Handler{svc: svc, idempotency: idem, log: log.Named("inventory.http")}
}

// Routes mounts the item and list endpoints. The caller must have applied
// the auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/items", h.listItems)
	r.Get("/lists", h.listLists)
	r.Get("/lists/{listID}", h.getList)

	r.Group(func(r chi.Router) {
		r.Use(h.idempotency.Handle)
		r.Post("/items", h.addItem)
		r.Patch("/items/{itemID}", h.updateItem)
		r.Post("/items/{itemID}/toggle", h.toggleItem)
		r.Delete("/items/{itemID}", h.deleteItem)
		r.Post("/lists", h.createList)
		r.Post("/lists/{listID}/items", h.addListItem)
		r.Post("/lists/{listID}/items/{itemID}/toggle", h.toggleListItem)
		r.Delete("/lists/{listID}/items/{itemID}", h.deleteListItem)
	})
}

type listItemResponse struct {
	List     *List     `json:"list"`
	ListItem *ListItem `json:"listItem"`
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	items, err := h.svc.Items(r.Context(), claims.HomeID)
	h.respond(w, http.StatusOK, items, err)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	var in ItemInput
	if !decode(w, r, &in) {
		return
	}
	it, err := h.svc.AddItem(r.Context(), claims.HomeID, in)
	h.respond(w, http.StatusCreated, it, err)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	var p ItemPatch
	if !decode(w, r, &p) {
		return
	}
	it, err := h.svc.UpdateItem(r.Context(), claims.HomeID, chi.URLParam(r, "itemID"), p)
	h.respond(w, http.StatusOK, it, err)
}

func (h *Handler) toggleItem(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	var body struct {
		InStock *bool `json:"inStock"`
	}
	if !decode(w, r, &body) {
		return
	}
	it, err := h.svc.ToggleItem(r.Context(), claims.HomeID, chi.URLParam(r, "itemID"), body.InStock)
	h.respond(w, http.StatusOK, it, err)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	it, err := h.svc.DeleteItem(r.Context(), claims.HomeID, chi.URLParam(r, "itemID"))
	h.respond(w, http.StatusOK, it, err)
}

func (h *Handler) listLists(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	lists, err := h.svc.Lists(r.Context(), claims.HomeID)
	h.respond(w, http.StatusOK, lists, err)
}

func (h *Handler) getList(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	l, err := h.svc.List(r.Context(), claims.HomeID, chi.URLParam(r, "listID"))
	h.respond(w, http.StatusOK, l, err)
}

func (h *Handler) createList(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	var in ListInput
	if !decode(w, r, &in) {
		return
	}
	l, err := h.svc.CreateList(r.Context(), claims.HomeID, in)
	h.respond(w, http.StatusCreated, l, err)
}

func (h *Handler) addListItem(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	var in ListItemInput
	if !decode(w, r, &in) {
		return
	}
	l, it, err := h.svc.AddListItem(r.Context(), claims.HomeID, chi.URLParam(r, "listID"), in)
	h.respond(w, http.StatusCreated, listItemResponse{List: l, ListItem: it}, err)
}

func (h *Handler) toggleListItem(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	var body struct {
		Completed *bool `json:"completed"`
	}
	if !decode(w, r, &body) {
		return
	}
	l, it, err := h.svc.ToggleListItem(r.Context(), claims.HomeID, chi.URLParam(r, "listID"), chi.URLParam(r, "itemID"), body.Completed)
	h.respond(w, http.StatusOK, listItemResponse{List: l, ListItem: it}, err)
}

func (h *Handler) deleteListItem(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	l, it, err := h.svc.DeleteListItem(r.Context(), claims.HomeID, chi.URLParam(r, "listID"), chi.URLParam(r, "itemID"))
	h.respond(w, http.StatusOK, listItemResponse{List: l, ListItem: it}, err)
}

func (h *Handler) respond(w http.ResponseWriter, status int, v any, err error) {
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("inventory request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "something went wrong")
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
