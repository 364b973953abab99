package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Item struct {
	ID    int64           `json:"id" db:"id"`
	Name  string          `json:"name" db:"name"`
	Price decimal.Decimal `json:"price" db:"price"`
	Stock int             `json:"stock" db:"stock"`
}

type Tab struct {
	ID     int64           `json:"id" db:"id"`
	Name   string          `json:"name" db:"name"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
}

type Sale struct {
	ID             int64           `json:"id" db:"id"`
	StaffID        int64           `json:"staff_id" db:"staff_id"`
	CustomerID     *int64          `json:"customer_id,omitempty" db:"customer_id"`
	DiscountID     *int64          `json:"discount_id,omitempty" db:"discount_id"`
	OriginalTotal  decimal.Decimal `json:"original_total" db:"original_total"`
	FinalTotal     decimal.Decimal `json:"final_total" db:"final_total"`
	PaymentMethod  string          `json:"payment_method" db:"payment_method"`
	TabID          *int64          `json:"tab_id,omitempty" db:"tab_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Voided         bool            `json:"voided" db:"voided"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	Items          []SaleItem      `json:"items,omitempty" db:"-"`
}

// SaleItem is one sold line. Quantity is decremented by item-level voids;
// RestockedQty counts units already returned to stock so a later full void
// restocks only OriginalQuantity - RestockedQty.
type SaleItem struct {
	ID               int64           `json:"id" db:"id"`
	SaleID           int64           `json:"sale_id" db:"sale_id"`
	ItemID           int64           `json:"item_id" db:"item_id"`
	ItemName         string          `json:"item_name" db:"item_name"`
	Quantity         int             `json:"quantity" db:"quantity"`
	OriginalQuantity int             `json:"original_quantity" db:"original_quantity"`
	RestockedQty     int             `json:"restocked_qty" db:"restocked_qty"`
	PriceEach        decimal.Decimal `json:"price_each" db:"price_each"`
	Subtotal         decimal.Decimal `json:"subtotal" db:"subtotal"`
	Voided           bool            `json:"voided" db:"voided"`
}

func (i SaleItem) UnrestockedQty() int {
	remaining := i.OriginalQuantity - i.RestockedQty
	if remaining < 0 {
		return 0
	}
	return remaining
}

type CartLine struct {
	ItemID   int64           `json:"item_id"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type CreateSaleRequest struct {
	Cart           []CartLine      `json:"cart"`
	CustomerID     *int64          `json:"customer_id,omitempty"`
	DiscountID     *int64          `json:"discount_id,omitempty"`
	PaymentMethod  string          `json:"payment_method"`
	TabID          *int64          `json:"tab_id,omitempty"`
	OriginalTotal  decimal.Decimal `json:"original_total"`
	FinalTotal     decimal.Decimal `json:"final_total"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type CreateSaleResponse struct {
	SaleID    int64 `json:"sale_id"`
	Duplicate bool  `json:"duplicate,omitempty"`
}

type VoidResponse struct {
	Success bool `json:"success"`
}

const (
	OrderStatusOpen = "open"
	OrderStatusPaid = "paid"
	OrderStatusVoid = "void"
)

const OrderVoidReasonPrefix = "VOID ORDER: "

type Order struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Status         string          `json:"status" db:"status"`
	Subtotal       decimal.Decimal `json:"subtotal" db:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	Total          decimal.Decimal `json:"total" db:"total"`
	VoidedAt       *time.Time      `json:"voided_at,omitempty" db:"voided_at"`
	VoidedBy       *string         `json:"voided_by,omitempty" db:"voided_by"`
	VoidReason     *string         `json:"void_reason,omitempty" db:"void_reason"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	Lines          []OrderLine     `json:"lines" db:"-"`
}

type OrderLine struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	OrderID    uuid.UUID       `json:"order_id" db:"order_id"`
	ItemName   string          `json:"item_name" db:"item_name"`
	Quantity   int             `json:"quantity" db:"quantity"`
	PriceEach  decimal.Decimal `json:"price_each" db:"price_each"`
	IsVoided   bool            `json:"is_voided" db:"is_voided"`
	VoidedAt   *time.Time      `json:"voided_at,omitempty" db:"voided_at"`
	VoidedBy   *string         `json:"voided_by,omitempty" db:"voided_by"`
	VoidReason *string         `json:"void_reason,omitempty" db:"void_reason"`
}

type VoidOrderRequest struct {
	Reason string `json:"reason"`
}

type VoidOrderResponse struct {
	Order Order `json:"order"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Level       int    `json:"level"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller of a request.
type Actor struct {
	StaffID  int64
	Username string
	Level    int
}

// StaffAccount is an internal persistence model for auth credentials.
type StaffAccount struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	Password  string    `db:"password_hash"`
	Level     int       `db:"permission_level"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

const tabPaymentPrefix = "tab"

// ParseTabReference extracts a tab id from a legacy payment method string
// such as "tab14". Only the "tab" prefix followed by digits is recognized.
func ParseTabReference(paymentMethod string) (int64, bool) {
	method := strings.ToLower(strings.TrimSpace(paymentMethod))
	if !strings.HasPrefix(method, tabPaymentPrefix) {
		return 0, false
	}
	digits := method[len(tabPaymentPrefix):]
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

func TabPaymentMethod(tabID int64) string {
	return tabPaymentPrefix + strconv.FormatInt(tabID, 10)
}
