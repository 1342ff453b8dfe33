package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier(testSecret, zap.NewNop())
	userID := uuid.New()

	tokenString := signToken(t, jwt.MapClaims{
		"sub":   userID.String(),
		"email": "sam@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(tokenString)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.UserID != userID {
		t.Errorf("user id = %s, want %s", id.UserID, userID)
	}
	if id.Email != "sam@example.com" {
		t.Errorf("email = %q, want sam@example.com", id.Email)
	}
}

func TestVerify_ExpiredTokenNotifiesSubscribers(t *testing.T) {
	v := NewVerifier(testSecret, zap.NewNop())

	var gotReason string
	v.OnExpired(func(reason string) { gotReason = reason })

	tokenString := signToken(t, jwt.MapClaims{
		"sub": uuid.New().String(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := v.Verify(tokenString)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
	if gotReason == "" {
		t.Error("expiry subscriber was not notified")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	v := NewVerifier("other-secret", zap.NewNop())

	tokenString := signToken(t, jwt.MapClaims{
		"sub": uuid.New().String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(tokenString); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_MissingSubject(t *testing.T) {
	v := NewVerifier(testSecret, zap.NewNop())

	tokenString := signToken(t, jwt.MapClaims{
		"email": "sam@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(tokenString); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_GarbageToken(t *testing.T) {
	v := NewVerifier(testSecret, zap.NewNop())

	if _, err := v.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	id := &Identity{UserID: uuid.New(), Email: "sam@example.com"}

	ctx := WithIdentity(context.Background(), id)
	got, ok := IdentityFromContext(ctx)
	if !ok {
		t.Fatal("identity not found in context")
	}
	if got.UserID != id.UserID {
		t.Errorf("user id = %s, want %s", got.UserID, id.UserID)
	}

	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("empty context should carry no identity")
	}
}
