package httpapi

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const tokenIssuer = "pos-backoffice"

type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	staffStore StaffStore
}

type StaffStore interface {
	FindStaffByUsername(ctx context.Context, username string) (*domain.StaffAccount, error)
	UpdateStaffPassword(ctx context.Context, username string, passwordHash string) error
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	StaffID int64 `json:"sid"`
	Level   int   `json:"lvl"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, staffStore StaffStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		staffStore: staffStore,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}

	account, err := a.staffStore.FindStaffByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, ErrInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}

	if !isPasswordHash(account.Password) {
		// Legacy rows hold plain text. Accept once and upgrade to bcrypt.
		if account.Password == "" || account.Password != req.Password {
			return domain.LoginResponse{}, ErrInvalidCredentials
		}
		if hashed, err := hashPassword(req.Password); err == nil {
			if err := a.staffStore.UpdateStaffPassword(ctx, username, hashed); err != nil {
				log.Printf("[auth] WARN: failed to upgrade password hash user=%s: %v", username, err)
			}
		}
	} else if !verifyPassword(account.Password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*account, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Level:       account.Level,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{StaffID: claims.StaffID, Username: sub, Level: claims.Level}, nil
}

// IssueToken signs a token for an already authenticated staff account.
func (a *AuthManager) IssueToken(account domain.StaffAccount) (string, error) {
	return a.sign(account, time.Now().UTC().Add(a.tokenTTL))
}

func (a *AuthManager) sign(account domain.StaffAccount, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   account.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		StaffID: account.ID,
		Level:   account.Level,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
