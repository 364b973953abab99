package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/store"
)

// Store keeps every table behind one mutex, so each repository call is a
// single atomic unit.
type Store struct {
	mu             sync.RWMutex
	items          map[int64]domain.Item
	tabs           map[int64]domain.Tab
	salesByID      map[int64]*domain.Sale
	salesByIdem    map[string]int64
	saleIDByItemID map[int64]int64
	ordersByID     map[uuid.UUID]*domain.Order
	staffByName    map[string]domain.StaffAccount
	nextSaleID     int64
	nextSaleItemID int64
}

func New() *Store {
	return &Store{
		items:          make(map[int64]domain.Item),
		tabs:           make(map[int64]domain.Tab),
		salesByID:      make(map[int64]*domain.Sale),
		salesByIdem:    make(map[string]int64),
		saleIDByItemID: make(map[int64]int64),
		ordersByID:     make(map[uuid.UUID]*domain.Order),
		staffByName:    make(map[string]domain.StaffAccount),
	}
}

// seedStaff builds the dev/demo staff accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, with dev defaults when unset.
func seedStaff() []domain.StaffAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	accounts := make([]domain.StaffAccount, 0, 2)
	for i, u := range []struct {
		username string
		password string
		level    int
	}{
		{"admin", adminPwd, 3},
		{"cashier", cashierPwd, 1},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		accounts = append(accounts, domain.StaffAccount{
			ID:        int64(i + 1),
			Username:  u.username,
			Password:  string(hash),
			Level:     u.level,
			Active:    true,
			CreatedAt: now,
		})
	}
	return accounts
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	for _, item := range []domain.Item{
		{ID: 1, Name: "Espresso", Price: decimal.RequireFromString("3.50"), Stock: 120},
		{ID: 2, Name: "Flat White", Price: decimal.RequireFromString("4.50"), Stock: 120},
		{ID: 3, Name: "Croissant", Price: decimal.RequireFromString("3.80"), Stock: 40},
		{ID: 4, Name: "Bottled Water", Price: decimal.RequireFromString("2.00"), Stock: 200},
		{ID: 5, Name: "Club Sandwich", Price: decimal.RequireFromString("9.90"), Stock: 25},
	} {
		s.SeedItem(item)
	}
	s.SeedTab(domain.Tab{ID: 7, Name: "House account", Amount: decimal.Zero})
	s.SeedTab(domain.Tab{ID: 14, Name: "Staff tab", Amount: decimal.Zero})
	for _, account := range seedStaff() {
		s.SeedStaff(account)
	}

	orderID := uuid.New()
	_, _ = s.CreateOrder(context.Background(), domain.Order{
		ID:             orderID,
		Status:         domain.OrderStatusOpen,
		Subtotal:       decimal.RequireFromString("20.70"),
		DiscountAmount: decimal.Zero,
		Total:          decimal.RequireFromString("20.70"),
		Lines: []domain.OrderLine{
			{ItemName: "Espresso", Quantity: 2, PriceEach: decimal.RequireFromString("3.50")},
			{ItemName: "Croissant", Quantity: 1, PriceEach: decimal.RequireFromString("3.80")},
			{ItemName: "Club Sandwich", Quantity: 1, PriceEach: decimal.RequireFromString("9.90")},
		},
	})
	log.Printf("[memory-store] seeded open order %s", orderID)

	return s
}

func (s *Store) SeedItem(item domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

func (s *Store) SeedTab(tab domain.Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[tab.ID] = tab
}

func (s *Store) SeedStaff(account domain.StaffAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account.Username = strings.ToLower(strings.TrimSpace(account.Username))
	s.staffByName[account.Username] = account
}

func (s *Store) GetItem(_ context.Context, itemID int64) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) GetStock(_ context.Context, itemID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return item.Stock, nil
}

func (s *Store) DecrementStock(_ context.Context, itemID int64, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked(itemID, qty)
}

func (s *Store) IncrementStock(_ context.Context, itemID int64, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(itemID, qty)
}

func (s *Store) decrementLocked(itemID int64, qty int) error {
	if qty < 1 {
		return store.ErrInvalidSale
	}
	item, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("item %d: %w", itemID, store.ErrNotFound)
	}
	if item.Stock < qty {
		return fmt.Errorf("item %d: %w", itemID, store.ErrInsufficientStock)
	}
	item.Stock -= qty
	s.items[itemID] = item
	return nil
}

func (s *Store) incrementLocked(itemID int64, qty int) error {
	if qty < 1 {
		return nil
	}
	item, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("item %d: %w", itemID, store.ErrNotFound)
	}
	item.Stock += qty
	s.items[itemID] = item
	return nil
}

func (s *Store) GetTab(_ context.Context, tabID int64) (*domain.Tab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tab, ok := s.tabs[tabID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tab, nil
}

func (s *Store) AdjustTabBalance(_ context.Context, tabID int64, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab, ok := s.tabs[tabID]
	if !ok {
		return fmt.Errorf("tab %d: %w", tabID, store.ErrNotFound)
	}
	tab.Amount = tab.Amount.Add(delta)
	s.tabs[tabID] = tab
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, false, store.ErrInvalidSale
	}
	if sale.IdempotencyKey != "" {
		if existingID, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
			return cloneSale(s.salesByID[existingID]), false, nil
		}
	}

	// Validate every line against current stock before touching anything.
	needed := make(map[int64]int, len(sale.Items))
	for _, line := range sale.Items {
		if line.Quantity < 1 || line.PriceEach.IsNegative() {
			return nil, false, store.ErrInvalidSale
		}
		if _, ok := s.items[line.ItemID]; !ok {
			return nil, false, fmt.Errorf("item %d: %w", line.ItemID, store.ErrNotFound)
		}
		needed[line.ItemID] += line.Quantity
	}
	for itemID, qty := range needed {
		if s.items[itemID].Stock < qty {
			return nil, false, fmt.Errorf("item %d: %w", itemID, store.ErrInsufficientStock)
		}
	}

	s.nextSaleID++
	sale.ID = s.nextSaleID
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Voided = false

	lines := make([]domain.SaleItem, 0, len(sale.Items))
	for _, line := range sale.Items {
		s.nextSaleItemID++
		line.ID = s.nextSaleItemID
		line.SaleID = sale.ID
		line.ItemName = s.items[line.ItemID].Name
		line.OriginalQuantity = line.Quantity
		line.RestockedQty = 0
		line.Subtotal = line.PriceEach.Mul(decimal.NewFromInt(int64(line.Quantity)))
		line.Voided = false
		lines = append(lines, line)

		if err := s.decrementLocked(line.ItemID, line.Quantity); err != nil {
			return nil, false, err
		}
		s.saleIDByItemID[line.ID] = sale.ID
	}
	sale.Items = lines

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	return cloneSale(saved), true, nil
}

func (s *Store) FindSaleByID(_ context.Context, saleID int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saleID, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[saleID]), nil
}

func (s *Store) VoidSaleItem(_ context.Context, saleItemID int64) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saleID, ok := s.saleIDByItemID[saleItemID]
	if !ok {
		return nil, fmt.Errorf("sale item %d: %w", saleItemID, store.ErrNotFound)
	}
	sale := s.salesByID[saleID]
	idx := slices.IndexFunc(sale.Items, func(line domain.SaleItem) bool { return line.ID == saleItemID })
	if idx < 0 {
		return nil, fmt.Errorf("sale item %d: %w", saleItemID, store.ErrNotFound)
	}
	line := sale.Items[idx]
	if line.Voided || sale.Voided {
		return nil, fmt.Errorf("sale item %d: %w", saleItemID, store.ErrAlreadyVoided)
	}
	if _, ok := s.items[line.ItemID]; !ok {
		return nil, fmt.Errorf("item %d: %w", line.ItemID, store.ErrNotFound)
	}
	if sale.TabID != nil {
		if _, ok := s.tabs[*sale.TabID]; !ok {
			return nil, fmt.Errorf("tab %d: %w", *sale.TabID, store.ErrNotFound)
		}
	}

	if sale.TabID != nil {
		tab := s.tabs[*sale.TabID]
		tab.Amount = tab.Amount.Add(line.PriceEach)
		s.tabs[tab.ID] = tab
	}
	if err := s.incrementLocked(line.ItemID, 1); err != nil {
		return nil, err
	}

	line.Voided = true
	line.Subtotal = line.Subtotal.Sub(line.PriceEach)
	line.Quantity--
	line.RestockedQty++
	sale.Items[idx] = line
	sale.FinalTotal = floorZero(sale.FinalTotal.Sub(line.PriceEach))

	return cloneSale(sale), nil
}

func (s *Store) VoidSale(_ context.Context, saleID int64) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, fmt.Errorf("sale %d: %w", saleID, store.ErrNotFound)
	}
	if sale.Voided {
		return nil, fmt.Errorf("sale %d: %w", saleID, store.ErrAlreadyVoided)
	}
	if sale.TabID != nil {
		if _, ok := s.tabs[*sale.TabID]; !ok {
			return nil, fmt.Errorf("tab %d: %w", *sale.TabID, store.ErrNotFound)
		}
	}
	for _, line := range sale.Items {
		if line.UnrestockedQty() == 0 {
			continue
		}
		if _, ok := s.items[line.ItemID]; !ok {
			return nil, fmt.Errorf("item %d: %w", line.ItemID, store.ErrNotFound)
		}
	}

	if sale.TabID != nil {
		tab := s.tabs[*sale.TabID]
		tab.Amount = tab.Amount.Add(sale.FinalTotal)
		s.tabs[tab.ID] = tab
	}
	for i, line := range sale.Items {
		if err := s.incrementLocked(line.ItemID, line.UnrestockedQty()); err != nil {
			return nil, err
		}
		line.RestockedQty = line.OriginalQuantity
		line.Voided = true
		sale.Items[i] = line
	}
	sale.Voided = true
	sale.FinalTotal = decimal.Zero

	return cloneSale(sale), nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if _, exists := s.ordersByID[order.ID]; exists {
		return nil, store.ErrInvalidSale
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusOpen
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	for i := range order.Lines {
		if order.Lines[i].ID == uuid.Nil {
			order.Lines[i].ID = uuid.New()
		}
		order.Lines[i].OrderID = order.ID
	}

	saved := cloneOrder(&order)
	s.ordersByID[order.ID] = saved
	return cloneOrder(saved), nil
}

func (s *Store) FindOrderByID(_ context.Context, orderID uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) VoidOrder(_ context.Context, orderID uuid.UUID, reason string, voidedBy string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	if order.Status == domain.OrderStatusVoid {
		return nil, fmt.Errorf("order %s: %w", orderID, store.ErrAlreadyVoided)
	}

	lineReason := domain.OrderVoidReasonPrefix + reason
	for i := range order.Lines {
		order.Lines[i].IsVoided = true
		order.Lines[i].VoidedAt = timePtr(at)
		order.Lines[i].VoidedBy = stringPtr(voidedBy)
		order.Lines[i].VoidReason = stringPtr(lineReason)
	}
	order.Status = domain.OrderStatusVoid
	order.Subtotal = decimal.Zero
	order.DiscountAmount = decimal.Zero
	order.Total = decimal.Zero
	order.VoidedAt = timePtr(at)
	order.VoidedBy = stringPtr(voidedBy)
	order.VoidReason = stringPtr(reason)

	return cloneOrder(order), nil
}

func (s *Store) FindStaffByUsername(_ context.Context, username string) (*domain.StaffAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.staffByName[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *Store) UpdateStaffPassword(_ context.Context, username string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(passwordHash) == "" {
		return store.ErrInvalidSale
	}
	account, ok := s.staffByName[username]
	if !ok {
		return store.ErrNotFound
	}
	account.Password = passwordHash
	s.staffByName[username] = account
	return nil
}

func floorZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func stringPtr(v string) *string {
	return &v
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	return &dup
}

func cloneOrder(src *domain.Order) *domain.Order {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = slices.Clone(src.Lines)
	return &dup
}
