package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pantry/internal/events"
	"pantry/internal/inventory"
	"pantry/internal/metrics"
	myMiddleware "pantry/internal/middleware"
)

const (
	genericFailure = "Something went wrong processing your message."
	rateLimited    = "You're sending messages too quickly. Please wait a moment."
	badFrame       = "Invalid message format."
	busy           = "Still working on your earlier messages. Please try again shortly."
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	Subprotocols:    []string{myMiddleware.BearerSubprotocol},
	CheckOrigin: func(r *http.Request) bool {
		return true // Browser clients are authenticated by token, not cookies.
	},
}

// TurnRunner is satisfied by *Orchestrator.
type TurnRunner interface {
	HandleMessage(ctx context.Context, s Session, in MessageIn) error
}

// EventSubscriber is satisfied by *events.Bus.
type EventSubscriber interface {
	Subscribe(name string, h events.Handler) func()
}

type Handler struct {
	hub       *Hub
	broadcast Broadcaster
	turns     TurnRunner
	store     MessageStore
	log       *zap.Logger
	metrics   *metrics.Metrics
	rateLimit int
}

// NewHandler wires the websocket endpoint. broadcast is the local hub or a
// RedisHub wrapping it.
func NewHandler(hub *Hub, broadcast Broadcaster, turns TurnRunner, store MessageStore,
	log *zap.Logger, m *metrics.Metrics, rateLimit int) *Handler {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Handler{
		hub:       hub,
		broadcast: broadcast,
		turns:     turns,
		store:     store,
		log:       log.Named("chat"),
		metrics:   m,
		rateLimit: rateLimit,
	}
}

// SubscribeEvents turns inventory and list events into household broadcasts.
func (h *Handler) SubscribeEvents(bus EventSubscriber) func() {
	offItems := bus.Subscribe(events.InventoryUpdated, func(ctx context.Context, data any) error {
		ev, ok := data.(inventory.ItemEvent)
		if !ok {
			return errors.New("unexpected inventory event payload")
		}
		return h.broadcast.Broadcast(ctx, ev.HomeID, inventoryFrame(ev), "")
	})
	offLists := bus.Subscribe(events.ListUpdated, func(ctx context.Context, data any) error {
		ev, ok := data.(inventory.ListEvent)
		if !ok {
			return errors.New("unexpected list event payload")
		}
		return h.broadcast.Broadcast(ctx, ev.HomeID, listFrame(ev), "")
	})
	return func() {
		offItems()
		offLists()
	}
}

// ServeWs upgrades an authenticated request. The auth middleware has
// already rejected requests without a valid token.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	claims, ok := myMiddleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	client := NewClient(conn, claims.UserID, claims.Username, claims.HomeID, h.rateLimit)
	h.hub.Register(client)
	h.hub.Send(client, statusFrame(StatusPayload{
		Status:       StatusConnected,
		UserID:       client.UserID,
		ConnectionID: client.ID,
	}))
	h.log.Info("client connected",
		zap.String("conn", client.ID), zap.String("user", client.UserID), zap.String("home", client.HomeID))

	// Turns keep running after the socket drops so the rest of the
	// household still gets the reply.
	ctx := context.WithoutCancel(r.Context())

	go client.writePump()
	go h.dispatchLoop(ctx, client)
	go client.readPump(h)
}

func (h *Handler) dispatchLoop(ctx context.Context, c *Client) {
	for raw := range c.inbound {
		h.dispatch(ctx, c, raw)
	}
	h.log.Info("client disconnected", zap.String("conn", c.ID), zap.String("home", c.HomeID))
}

// dispatch handles one inbound frame. It never lets a failure escape: the
// sender gets an error frame and the connection stays open.
func (h *Handler) dispatch(ctx context.Context, c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic while handling frame", zap.String("conn", c.ID), zap.Any("panic", r))
			h.hub.Send(c, errorFrame(genericFailure))
		}
	}()

	f, err := ParseFrame(raw)
	if err != nil {
		h.log.Debug("unparseable frame", zap.String("conn", c.ID), zap.Error(err))
		h.hub.Send(c, errorFrame(badFrame))
		return
	}
	h.metrics.Frames.WithLabelValues(f.Type, "inbound").Inc()

	switch f.Type {
	case FrameMessage:
		h.handleChat(ctx, c, f)
	default:
		h.log.Debug("ignoring frame", zap.String("conn", c.ID), zap.String("type", f.Type))
	}
}

func (h *Handler) handleChat(ctx context.Context, c *Client, f RawFrame) {
	var in MessageIn
	if err := json.Unmarshal(f.Payload, &in); err != nil {
		h.hub.Send(c, errorFrame(badFrame))
		return
	}
	if !c.limiter.Allow() {
		h.hub.Send(c, errorFrame(rateLimited))
		return
	}

	status := StatusPayload{ThreadID: strings.TrimSpace(in.ThreadID), UserID: c.UserID}
	status.Status = StatusTyping
	h.send(ctx, c.HomeID, statusFrame(status))
	defer func() {
		status.Status = StatusIdle
		h.send(ctx, c.HomeID, statusFrame(status))
	}()

	if err := h.turns.HandleMessage(ctx, c.Session(), in); err != nil {
		h.log.Error("chat turn", zap.String("conn", c.ID), zap.String("thread", in.ThreadID), zap.Error(err))
		h.hub.Send(c, errorFrame(userMessage(err)))
	}
}

func (h *Handler) send(ctx context.Context, homeID string, f Frame) {
	if err := h.broadcast.Broadcast(ctx, homeID, f, ""); err != nil {
		h.log.Warn("broadcast", zap.String("type", f.Type), zap.Error(err))
	}
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrThreadNotFound):
		return err.Error()
	default:
		return genericFailure
	}
}

// ---------------------------------------------
// Thread REST endpoints
// ---------------------------------------------

// Routes mounts the thread endpoints under an authenticated router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/threads", h.CreateThread)
	r.Get("/threads", h.ListThreads)
	r.Get("/threads/{threadID}/messages", h.GetThreadMessages)
}

func (h *Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	var req struct {
		Title string `json:"title"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New chat"
	}
	t := &Thread{ID: uuid.NewString(), HomeID: claims.HomeID, Title: title}
	if err := h.store.CreateThread(r.Context(), t); err != nil {
		h.log.Error("create thread", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create thread")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	threads, err := h.store.ListThreads(r.Context(), claims.HomeID)
	if err != nil {
		h.log.Error("list threads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load threads")
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

func (h *Handler) GetThreadMessages(w http.ResponseWriter, r *http.Request) {
	claims, _ := myMiddleware.ClaimsFromContext(r.Context())
	threadID := chi.URLParam(r, "threadID")

	if _, err := h.store.GetThread(r.Context(), claims.HomeID, threadID); err != nil {
		if errors.Is(err, ErrThreadNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error("get thread", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load thread")
		return
	}

	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	msgs, err := h.store.FindRecentMessages(r.Context(), threadID, limit)
	if err != nil {
		h.log.Error("load messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
