package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/store"
)

type staffStoreStub struct {
	mu      sync.Mutex
	staff   map[string]domain.StaffAccount
	updates int
}

func (s *staffStoreStub) FindStaffByUsername(_ context.Context, username string) (*domain.StaffAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.staff[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *staffStoreStub) UpdateStaffPassword(_ context.Context, username string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.staff[username]
	account.Password = passwordHash
	s.staff[username] = account
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	staff := &staffStoreStub{
		staff: map[string]domain.StaffAccount{
			"manager": {ID: 4, Username: "manager", Password: "manager123", Level: 2, Active: true},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, staff)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "Manager",
		Password: "manager123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Level != 2 {
		t.Fatalf("expected level 2, got %d", resp.Level)
	}

	stored := staff.staff["manager"].Password
	if stored == "manager123" || !strings.HasPrefix(stored, "$2") {
		t.Fatalf("expected bcrypt password hash after upgrade, got %s", stored)
	}
	if staff.updates != 1 {
		t.Fatalf("expected one password update, got %d", staff.updates)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "manager", Password: "manager123"}); err != nil {
		t.Fatalf("login with upgraded hash failed: %v", err)
	}
}

func TestAuthManagerRejectsBadCredentialsAndInactive(t *testing.T) {
	staff := &staffStoreStub{
		staff: map[string]domain.StaffAccount{
			"active":   {ID: 1, Username: "active", Password: mustHashPassword(t, "secret1"), Level: 1, Active: true},
			"disabled": {ID: 2, Username: "disabled", Password: mustHashPassword(t, "secret2"), Level: 3, Active: false},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, staff)
	ctx := context.Background()

	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "active", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "ghost", Password: "secret1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "disabled", Password: "secret2"}); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}
}

func TestParseTokenCarriesStaffAndLevel(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &staffStoreStub{})
	token, err := manager.IssueToken(domain.StaffAccount{ID: 9, Username: "supervisor", Level: 3})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	actor, err := manager.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.StaffID != 9 || actor.Username != "supervisor" || actor.Level != 3 {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestParseTokenRejectsForeignSecretAndIssuer(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &staffStoreStub{})

	other := NewAuthManager("other-secret", time.Hour, &staffStoreStub{})
	foreign, _ := other.IssueToken(domain.StaffAccount{ID: 1, Username: "x", Level: 3})
	if _, err := manager.ParseToken(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}

	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "x",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Level: 3,
	}
	wrongIssuer, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if _, err := manager.ParseToken(wrongIssuer); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}

	expired := NewAuthManager("test-secret", time.Hour, &staffStoreStub{})
	expired.tokenTTL = -time.Minute
	stale, _ := expired.IssueToken(domain.StaffAccount{ID: 1, Username: "x", Level: 3})
	if _, err := manager.ParseToken(stale); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}
