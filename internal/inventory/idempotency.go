package inventory

import (
	"bytes"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	myMiddleware "pantry/internal/middleware"
)

// IdempotencyHeader carries the client-chosen key of a mutating request.
// Offline clients use the queued mutation id, so a replay whose first
// attempt was applied but whose response was lost is answered from the
// stored response instead of being applied twice.
const IdempotencyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 128

// Idempotency records successful responses per (household, key).
type Idempotency struct {
	repo     Repository
	inFlight *cache.Cache
	log      *zap.Logger
}

func NewIdempotency(repo Repository, log *zap.Logger) *Idempotency {
	return &Idempotency{
		repo:     repo,
		inFlight: cache.New(time.Minute, 5*time.Minute),
		log:      log.Named("idempotency"),
	}
}

// Handle wraps a mutating handler.
func (i *Idempotency) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		claims, ok := myMiddleware.ClaimsFromContext(r.Context())
		if key == "" || !ok {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			writeError(w, http.StatusBadRequest, "idempotency key too long")
			return
		}

		if i.replay(w, r, claims.HomeID, key) {
			return
		}

		lockKey := claims.HomeID + ":" + key
		if err := i.inFlight.Add(lockKey, struct{}{}, cache.DefaultExpiration); err != nil {
			writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
			return
		}
		defer i.inFlight.Delete(lockKey)

		// A request holding the lock may have finished between the first
		// lookup and Add.
		if i.replay(w, r, claims.HomeID, key) {
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= 200 && rec.status < 300 {
			resp := StoredResponse{Status: rec.status, Body: rec.body.Bytes()}
			if err := i.repo.SaveResponse(r.Context(), claims.HomeID, key, resp); err != nil {
				i.log.Error("save idempotency key", zap.String("key", key), zap.Error(err))
			}
		}
	})
}

// replay answers from a stored response. It reports true when the request
// has been fully handled, including on lookup failure.
func (i *Idempotency) replay(w http.ResponseWriter, r *http.Request, homeID, key string) bool {
	stored, err := i.repo.GetResponse(r.Context(), homeID, key)
	if err != nil {
		i.log.Error("lookup idempotency key", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "something went wrong")
		return true
	}
	if stored == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	w.Write(stored.Body)
	return true
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}
