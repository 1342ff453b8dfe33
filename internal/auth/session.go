// Package auth consumes the external identity provider's session tokens.
// It verifies bearer tokens and exposes the caller identity through the
// request context. Session expiry is surfaced to subscribers as an event;
// what to do about it (re-login prompts, redirects) is the client's call.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Identity is the authenticated caller as asserted by the identity provider.
type Identity struct {
	UserID uuid.UUID
	Email  string
}

var (
	// ErrInvalidToken covers malformed or tampered tokens.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrTokenExpired means the session was valid once but has lapsed.
	ErrTokenExpired = errors.New("session expired")
)

type contextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext extracts the caller identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}

// Verifier validates HS256 session tokens issued by the identity provider.
type Verifier struct {
	secret []byte
	logger *zap.Logger

	mu        sync.RWMutex
	onExpired []func(reason string)
}

// NewVerifier creates a verifier for the given shared signing secret.
func NewVerifier(secret string, logger *zap.Logger) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		logger: logger,
	}
}

// OnExpired registers a callback invoked whenever a presented session has
// expired. Callbacks must be fast and must not block.
func (v *Verifier) OnExpired(fn func(reason string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onExpired = append(v.onExpired, fn)
}

func (v *Verifier) notifyExpired(reason string) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, fn := range v.onExpired {
		fn(reason)
	}
}

// Verify parses and validates a bearer token, returning the caller identity.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			v.notifyExpired("token expired")
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	email, _ := claims["email"].(string)

	return &Identity{
		UserID: userID,
		Email:  email,
	}, nil
}
