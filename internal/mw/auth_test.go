package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestAuth(t *testing.T) {
	var gotUserID, gotRole string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserID(r.Context())
		gotRole = Role(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Auth(testSecret)(next)

	t.Run("passes valid tokens and exposes the claims", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"user_id": "buyer-1",
			"role":    "buyer",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if gotUserID != "buyer-1" || gotRole != "buyer" {
			t.Errorf("unexpected claims: user_id=%s role=%s", gotUserID, gotRole)
		}
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})

	t.Run("rejects a token signed with the wrong key", func(t *testing.T) {
		token := signToken(t, "other-secret", jwt.MapClaims{"user_id": "buyer-1"})

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{
			"user_id": "buyer-1",
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})

	t.Run("rejects a token without user_id", func(t *testing.T) {
		token := signToken(t, testSecret, jwt.MapClaims{"role": "buyer"})

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})
}
