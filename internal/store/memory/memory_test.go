package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/store"
)

func newStoreWithStock(t *testing.T, stock int) *Store {
	t.Helper()
	s := New()
	s.SeedItem(domain.Item{ID: 1, Name: "Espresso", Price: decimal.RequireFromString("3.50"), Stock: stock})
	s.SeedTab(domain.Tab{ID: 14, Name: "Staff tab", Amount: decimal.Zero})
	return s
}

func saleOf(qty int, tabID *int64) domain.Sale {
	price := decimal.RequireFromString("3.50")
	total := price.Mul(decimal.NewFromInt(int64(qty)))
	return domain.Sale{
		StaffID:       1,
		OriginalTotal: total,
		FinalTotal:    total,
		PaymentMethod: "cash",
		TabID:         tabID,
		Items:         []domain.SaleItem{{ItemID: 1, Quantity: qty, PriceEach: price}},
	}
}

func TestCreateSaleInsufficientStockWritesNothing(t *testing.T) {
	s := newStoreWithStock(t, 2)
	ctx := context.Background()

	sale := saleOf(2, nil)
	sale.Items = append(sale.Items, domain.SaleItem{ItemID: 1, Quantity: 1, PriceEach: decimal.RequireFromString("3.50")})
	_, _, err := s.CreateSale(ctx, sale)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	stock, err := s.GetStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stock)
	_, err = s.FindSaleByID(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSaleReplaysIdempotencyKey(t *testing.T) {
	s := newStoreWithStock(t, 10)
	ctx := context.Background()

	sale := saleOf(2, nil)
	sale.IdempotencyKey = "idem-1"
	first, created, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := s.CreateSale(ctx, sale)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, first.ID, second.ID)
	stock, _ := s.GetStock(ctx, 1)
	assert.Equal(t, 8, stock)
}

func TestDecrementStock(t *testing.T) {
	s := newStoreWithStock(t, 5)
	ctx := context.Background()

	require.NoError(t, s.DecrementStock(ctx, 1, 3))
	stock, err := s.GetStock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stock)

	err = s.DecrementStock(ctx, 1, 3)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	stock, _ = s.GetStock(ctx, 1)
	assert.Equal(t, 2, stock)

	require.NoError(t, s.DecrementStock(ctx, 1, 2))
	stock, _ = s.GetStock(ctx, 1)
	assert.Equal(t, 0, stock)

	assert.ErrorIs(t, s.DecrementStock(ctx, 42, 1), store.ErrNotFound)
	require.NoError(t, s.IncrementStock(ctx, 1, 4))
	stock, _ = s.GetStock(ctx, 1)
	assert.Equal(t, 4, stock)
}

func TestReturnedSaleIsDetachedFromStore(t *testing.T) {
	s := newStoreWithStock(t, 10)
	ctx := context.Background()

	created, _, err := s.CreateSale(ctx, saleOf(1, nil))
	require.NoError(t, err)
	created.Items[0].Voided = true

	found, err := s.FindSaleByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, found.Items[0].Voided)
}

func TestConcurrentItemVoidSucceedsOnce(t *testing.T) {
	s := newStoreWithStock(t, 10)
	ctx := context.Background()
	tabID := int64(14)

	sale, _, err := s.CreateSale(ctx, saleOf(3, &tabID))
	require.NoError(t, err)
	lineID := sale.Items[0].ID

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, conflicts := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.VoidSaleItem(ctx, lineID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, store.ErrAlreadyVoided):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
	stock, _ := s.GetStock(ctx, 1)
	assert.Equal(t, 8, stock)
	tab, _ := s.GetTab(ctx, tabID)
	assert.True(t, tab.Amount.Equal(decimal.RequireFromString("3.50")), "tab amount %s", tab.Amount)
}

func TestVoidSaleAbortsOnMissingTab(t *testing.T) {
	s := newStoreWithStock(t, 10)
	ctx := context.Background()
	missingTab := int64(99)

	sale, _, err := s.CreateSale(ctx, saleOf(2, &missingTab))
	require.NoError(t, err)

	_, err = s.VoidSale(ctx, sale.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	found, _ := s.FindSaleByID(ctx, sale.ID)
	assert.False(t, found.Voided)
	stock, _ := s.GetStock(ctx, 1)
	assert.Equal(t, 8, stock)
}

func TestVoidOrderZeroesTotalsAndStampsLines(t *testing.T) {
	s := New()
	ctx := context.Background()
	order, err := s.CreateOrder(ctx, domain.Order{
		Subtotal: decimal.RequireFromString("12.00"),
		Total:    decimal.RequireFromString("12.00"),
		Lines: []domain.OrderLine{
			{ItemName: "Tea", Quantity: 2, PriceEach: decimal.RequireFromString("3.00")},
			{ItemName: "Cake", Quantity: 1, PriceEach: decimal.RequireFromString("6.00")},
		},
	})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	voided, err := s.VoidOrder(ctx, order.ID, "customer left", "manager", at)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusVoid, voided.Status)
	assert.True(t, voided.Total.IsZero())
	assert.True(t, voided.Subtotal.IsZero())
	assert.Equal(t, "customer left", *voided.VoidReason)
	for _, line := range voided.Lines {
		assert.True(t, line.IsVoided)
		assert.Equal(t, "VOID ORDER: customer left", *line.VoidReason)
		assert.Equal(t, "manager", *line.VoidedBy)
		assert.True(t, line.VoidedAt.Equal(at))
	}

	_, err = s.VoidOrder(ctx, order.ID, "again", "manager", at)
	assert.ErrorIs(t, err, store.ErrAlreadyVoided)
	_, err = s.VoidOrder(ctx, uuid.New(), "missing", "manager", at)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewSeededHasStaffAndOpenOrder(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	admin, err := s.FindStaffByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, 3, admin.Level)
	cashier, err := s.FindStaffByUsername(ctx, " Cashier ")
	require.NoError(t, err)
	assert.Equal(t, 1, cashier.Level)

	s.mu.RLock()
	openOrders := 0
	for _, order := range s.ordersByID {
		if order.Status == domain.OrderStatusOpen {
			openOrders++
		}
	}
	s.mu.RUnlock()
	assert.Equal(t, 1, openOrders)
}
