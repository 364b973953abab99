package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"posbackoffice/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyVoided     = errors.New("already voided")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidSale       = errors.New("invalid sale")
)

// StockLedger is the authoritative per-item quantity on hand.
type StockLedger interface {
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
	GetStock(ctx context.Context, itemID int64) (int, error)
	DecrementStock(ctx context.Context, itemID int64, qty int) error
	IncrementStock(ctx context.Context, itemID int64, qty int) error
}

// TabAccounts holds the owed balance of every running tab.
type TabAccounts interface {
	GetTab(ctx context.Context, tabID int64) (*domain.Tab, error)
	AdjustTabBalance(ctx context.Context, tabID int64, delta decimal.Decimal) error
}

// Repository implementations run every sale and void operation as one atomic
// unit: either all of its effects land or none do.
type Repository interface {
	StockLedger
	TabAccounts

	// CreateSale reports created=false when the idempotency key matched an
	// existing sale; that sale is returned and nothing is written.
	CreateSale(ctx context.Context, sale domain.Sale) (saved *domain.Sale, created bool, err error)
	FindSaleByID(ctx context.Context, saleID int64) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	VoidSaleItem(ctx context.Context, saleItemID int64) (*domain.Sale, error)
	VoidSale(ctx context.Context, saleID int64) (*domain.Sale, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	VoidOrder(ctx context.Context, orderID uuid.UUID, reason string, voidedBy string, at time.Time) (*domain.Order, error)

	FindStaffByUsername(ctx context.Context, username string) (*domain.StaffAccount, error)
	UpdateStaffPassword(ctx context.Context, username string, passwordHash string) error
}
