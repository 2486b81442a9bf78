package myMiddleware

import (
	"context"
	"net/http"
	"strings"
)

// Context keys (exported so handlers can read them).
type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
	HomeKey     contextKey = "home_id"
)

// BearerSubprotocol is the websocket subprotocol that carries the token.
// Browsers cannot set headers on a websocket upgrade, so clients send
// "Sec-WebSocket-Protocol: bearer, <token>".
const BearerSubprotocol = "bearer"

// Claims is what a verified token tells us about the caller.
type Claims struct {
	UserID   string
	Username string
	HomeID   string
}

// TokenValidator decouples middleware from the user package.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle rejects the request with 401 unless it carries a valid token. It
// runs before the websocket upgrade, so a failed handshake never creates a
// connection.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := TokenFromRequest(r)
		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		claims, err := am.validator.ValidateToken(tokenString)
		if err != nil || claims == nil || claims.HomeID == "" {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// TokenFromRequest looks at the Authorization header, then the websocket
// subprotocol list, then the ?token= query parameter.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	if protocols := r.Header.Get("Sec-WebSocket-Protocol"); protocols != "" {
		parts := strings.Split(protocols, ",")
		for i := 0; i < len(parts)-1; i++ {
			if strings.TrimSpace(parts[i]) == BearerSubprotocol {
				return strings.TrimSpace(parts[i+1])
			}
		}
	}

	return r.URL.Query().Get("token")
}

// WithClaims stores verified claims on ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	ctx = context.WithValue(ctx, UserKey, c.UserID)
	ctx = context.WithValue(ctx, UsernameKey, c.Username)
	return context.WithValue(ctx, HomeKey, c.HomeID)
}

// ClaimsFromContext returns the caller identity set by Handle.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	userID, ok1 := ctx.Value(UserKey).(string)
	homeID, ok2 := ctx.Value(HomeKey).(string)
	if !ok1 || !ok2 || userID == "" || homeID == "" {
		return nil, false
	}
	username, _ := ctx.Value(UsernameKey).(string)
	return &Claims{UserID: userID, Username: username, HomeID: homeID}, true
}
