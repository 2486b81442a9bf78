package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	myMiddleware "pantry/internal/middleware"
)

type Handler struct {
	Service *Service
	log     *zap.Logger
}

func NewHandler(s *Service, log *zap.Logger) *Handler {
	return &Handler{Service: s, log: log.Named("user.http")}
}

// Register creates a household with the caller as its first member.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ErrUsernameTaken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.log.Error("register", zap.String("username", req.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not register")
		return
	}

	h.log.Info("household created", zap.String("home", res.HomeID), zap.String("user", res.ID))
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			h.log.Error("login", zap.String("username", req.Username), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not log in")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Household returns the caller's household and its members. Requires the
// auth middleware.
func (h *Handler) Household(w http.ResponseWriter, r *http.Request) {
	claims, ok := myMiddleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.Service.Household(r.Context(), claims.HomeID)
	if err != nil {
		if errors.Is(err, ErrHomeNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error("load household", zap.String("home", claims.HomeID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load household")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
