package auth

import (
	"errors"
	"testing"
	"time"
)

func TestJWTManager(t *testing.T) {
	m := NewJWTManager("test-secret-0123456789abcdef0123", time.Hour)

	t.Run("staff token round trip", func(t *testing.T) {
		token, err := m.Generate("user-1", "SACCO_STAFF", "coop-1")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		claims, err := m.Validate(token)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if claims.UserID != "user-1" || claims.Role != "SACCO_STAFF" || claims.CooperativeID != "coop-1" {
			t.Errorf("Unexpected claims: %+v", claims)
		}
		if claims.IsService() {
			t.Error("Staff token reported as service")
		}
	})

	t.Run("service token", func(t *testing.T) {
		token, err := m.Generate("", "SYSTEM_ADMIN", "coop-1")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		claims, err := m.Validate(token)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if !claims.IsService() || claims.Role != RoleService || claims.CooperativeID != "" {
			t.Errorf("Unexpected service claims: %+v", claims)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token, _ := NewJWTManager("other-secret", time.Hour).Generate("user-1", "SACCO_STAFF", "coop-1")
		if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		token, _ := NewJWTManager("test-secret-0123456789abcdef0123", -time.Minute).Generate("user-1", "SACCO_STAFF", "coop-1")
		if _, err := m.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := m.Validate("not-a-token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})
}
