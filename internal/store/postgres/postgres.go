package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// beginTx uses read committed: a conditional UPDATE that waits on a row lock
// re-evaluates its WHERE clause, so a losing void sees zero rows.
func (s *Store) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

func (s *Store) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	var item domain.Item
	err := s.db.GetContext(ctx, &item, `SELECT id, name, price, stock FROM items WHERE id = $1`, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetStock(ctx context.Context, itemID int64) (int, error) {
	var stock int
	err := s.db.GetContext(ctx, &stock, `SELECT stock FROM items WHERE id = $1`, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return stock, nil
}

func (s *Store) DecrementStock(ctx context.Context, itemID int64, qty int) error {
	_, err := decrementStock(ctx, s.db, itemID, qty)
	return err
}

func (s *Store) IncrementStock(ctx context.Context, itemID int64, qty int) error {
	return incrementStock(ctx, s.db, itemID, qty)
}

// decrementStock removes qty units only while enough stock remains and
// returns the item name for the sale line.
func decrementStock(ctx context.Context, q sqlx.ExtContext, itemID int64, qty int) (string, error) {
	if qty < 1 {
		return "", store.ErrInvalidSale
	}
	var name string
	err := sqlx.GetContext(ctx, q, &name, `
		UPDATE items
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
		RETURNING name
	`, itemID, qty)
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)`, itemID); err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("item %d: %w", itemID, store.ErrNotFound)
	}
	return "", fmt.Errorf("item %d: %w", itemID, store.ErrInsufficientStock)
}

func incrementStock(ctx context.Context, q sqlx.ExecerContext, itemID int64, qty int) error {
	if qty < 1 {
		return nil
	}
	res, err := q.ExecContext(ctx, `UPDATE items SET stock = stock + $2 WHERE id = $1`, itemID, qty)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Sprintf("item %d", itemID))
}

func (s *Store) GetTab(ctx context.Context, tabID int64) (*domain.Tab, error) {
	var tab domain.Tab
	err := s.db.GetContext(ctx, &tab, `SELECT id, name, amount FROM tabs WHERE id = $1`, tabID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &tab, nil
}

func (s *Store) AdjustTabBalance(ctx context.Context, tabID int64, delta decimal.Decimal) error {
	return adjustTab(ctx, s.db, tabID, delta)
}

func adjustTab(ctx context.Context, q sqlx.ExecerContext, tabID int64, delta decimal.Decimal) error {
	res, err := q.ExecContext(ctx, `UPDATE tabs SET amount = amount + $2 WHERE id = $1`, tabID, delta)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Sprintf("tab %d", tabID))
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, bool, error) {
	if len(sale.Items) == 0 {
		return nil, false, store.ErrInvalidSale
	}
	for _, line := range sale.Items {
		if line.Quantity < 1 || line.PriceEach.IsNegative() {
			return nil, false, store.ErrInvalidSale
		}
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO sales (
			staff_id, customer_id, discount_id, original_total, final_total,
			payment_method, tab_id, idempotency_key, voided, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,now())
		RETURNING id, created_at
	`, sale.StaffID, sale.CustomerID, sale.DiscountID, sale.OriginalTotal, sale.FinalTotal,
		sale.PaymentMethod, sale.TabID, nullIfEmpty(sale.IdempotencyKey)).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && sale.IdempotencyKey != "" {
			_ = tx.Rollback()
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	// Item rows are locked in id order, the same order VoidSale restocks in.
	names := make(map[int64]string, len(sale.Items))
	for _, idx := range decrementOrder(sale.Items) {
		line := sale.Items[idx]
		name, err := decrementStock(ctx, tx, line.ItemID, line.Quantity)
		if err != nil {
			return nil, false, err
		}
		names[line.ItemID] = name
	}

	for i := range sale.Items {
		line := &sale.Items[i]
		line.SaleID = sale.ID
		line.ItemName = names[line.ItemID]
		line.OriginalQuantity = line.Quantity
		line.RestockedQty = 0
		line.Subtotal = line.PriceEach.Mul(decimal.NewFromInt(int64(line.Quantity)))
		line.Voided = false

		err = tx.QueryRowxContext(ctx, `
			INSERT INTO sale_items (
				sale_id, item_id, item_name, quantity, original_quantity,
				restocked_qty, price_each, subtotal, voided
			)
			VALUES ($1,$2,$3,$4,$5,0,$6,$7,false)
			RETURNING id
		`, sale.ID, line.ItemID, line.ItemName, line.Quantity, line.OriginalQuantity,
			line.PriceEach, line.Subtotal).Scan(&line.ID)
		if err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &sale, true, nil
}

// decrementOrder returns the indexes of lines sorted by item id. Ties keep
// cart order.
func decrementOrder(lines []domain.SaleItem) []int {
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lines[order[a]].ItemID < lines[order[b]].ItemID
	})
	return order
}

const saleColumns = `
	id, staff_id, customer_id, discount_id, original_total, final_total,
	payment_method, tab_id, COALESCE(idempotency_key, '') AS idempotency_key, voided, created_at
`

func (s *Store) FindSaleByID(ctx context.Context, saleID int64) (*domain.Sale, error) {
	return s.findSale(ctx, "id", saleID)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", key)
}

func (s *Store) findSale(ctx context.Context, column string, value any) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.GetContext(ctx, &sale, `SELECT `+saleColumns+` FROM sales WHERE `+column+` = $1`, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	sale.Items = make([]domain.SaleItem, 0, 8)
	err = s.db.SelectContext(ctx, &sale.Items, `
		SELECT id, sale_id, item_id, item_name, quantity, original_quantity,
			restocked_qty, price_each, subtotal, voided
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) VoidSaleItem(ctx context.Context, saleItemID int64) (*domain.Sale, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the owning sale first so item and sale voids take locks in the same order.
	var saleID int64
	err = tx.GetContext(ctx, &saleID, `
		SELECT s.id
		FROM sales s
		JOIN sale_items si ON si.sale_id = s.id
		WHERE si.id = $1
		FOR UPDATE OF s
	`, saleItemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sale item %d: %w", saleItemID, store.ErrNotFound)
		}
		return nil, err
	}

	// A voided line or a voided owning sale both refuse the claim.
	var claimed struct {
		ItemID    int64           `db:"item_id"`
		PriceEach decimal.Decimal `db:"price_each"`
	}
	err = tx.GetContext(ctx, &claimed, `
		UPDATE sale_items si
		SET voided = true,
			quantity = si.quantity - 1,
			subtotal = si.subtotal - si.price_each,
			restocked_qty = si.restocked_qty + 1
		FROM sales s
		WHERE si.id = $1 AND si.sale_id = s.id
			AND si.voided = false AND s.voided = false
		RETURNING si.item_id, si.price_each
	`, saleItemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sale item %d: %w", saleItemID, store.ErrAlreadyVoided)
		}
		return nil, err
	}

	var tabID sql.NullInt64
	err = tx.GetContext(ctx, &tabID, `
		UPDATE sales
		SET final_total = GREATEST(final_total - $2, 0)
		WHERE id = $1
		RETURNING tab_id
	`, saleID, claimed.PriceEach)
	if err != nil {
		return nil, err
	}
	if tabID.Valid {
		if err := adjustTab(ctx, tx, tabID.Int64, claimed.PriceEach); err != nil {
			return nil, err
		}
	}
	if err := incrementStock(ctx, tx, claimed.ItemID, 1); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.FindSaleByID(ctx, saleID)
}

func (s *Store) VoidSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var claimed struct {
		FinalTotal decimal.Decimal `db:"final_total"`
		TabID      sql.NullInt64   `db:"tab_id"`
	}
	err = tx.GetContext(ctx, &claimed, `
		UPDATE sales
		SET voided = true
		WHERE id = $1 AND voided = false
		RETURNING final_total, tab_id
	`, saleID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM sales WHERE id = $1)`, saleID); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("sale %d: %w", saleID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("sale %d: %w", saleID, store.ErrAlreadyVoided)
	}

	if claimed.TabID.Valid {
		if err := adjustTab(ctx, tx, claimed.TabID.Int64, claimed.FinalTotal); err != nil {
			return nil, err
		}
	}

	var pending []struct {
		ItemID int64 `db:"item_id"`
		Qty    int   `db:"qty"`
	}
	err = tx.SelectContext(ctx, &pending, `
		SELECT item_id, original_quantity - restocked_qty AS qty
		FROM sale_items
		WHERE sale_id = $1 AND original_quantity > restocked_qty
		ORDER BY item_id
		FOR UPDATE
	`, saleID)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if err := incrementStock(ctx, tx, p.ItemID, p.Qty); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sale_items
		SET restocked_qty = original_quantity, voided = true
		WHERE sale_id = $1
	`, saleID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sales SET final_total = 0 WHERE id = $1`, saleID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.FindSaleByID(ctx, saleID)
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusOpen
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, status, subtotal, discount_amount, total, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, order.ID, order.Status, order.Subtotal, order.DiscountAmount, order.Total, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidSale
		}
		return nil, err
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		line.OrderID = order.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, item_name, quantity, price_each, is_voided)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, line.ID, line.OrderID, line.ItemName, line.Quantity, line.PriceEach, line.IsVoided)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return findOrder(ctx, s.db, orderID)
}

func findOrder(ctx context.Context, q sqlx.QueryerContext, orderID uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	err := sqlx.GetContext(ctx, q, &order, `
		SELECT id, status, subtotal, discount_amount, total, voided_at, voided_by, void_reason, created_at
		FROM orders
		WHERE id = $1
	`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	order.Lines = make([]domain.OrderLine, 0, 8)
	err = sqlx.SelectContext(ctx, q, &order.Lines, `
		SELECT id, order_id, item_name, quantity, price_each, is_voided, voided_at, voided_by, void_reason
		FROM order_lines
		WHERE order_id = $1
		ORDER BY item_name, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) VoidOrder(ctx context.Context, orderID uuid.UUID, reason string, voidedBy string, at time.Time) (*domain.Order, error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, subtotal = 0, discount_amount = 0, total = 0,
			voided_at = $3, voided_by = $4, void_reason = $5
		WHERE id = $1 AND status <> $2
	`, orderID, domain.OrderStatusVoid, at, voidedBy, reason)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, orderID); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("order %s: %w", orderID, store.ErrAlreadyVoided)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE order_lines
		SET is_voided = true, voided_at = $2, voided_by = $3, void_reason = $4
		WHERE order_id = $1
	`, orderID, at, voidedBy, domain.OrderVoidReasonPrefix+reason)
	if err != nil {
		return nil, err
	}

	order, err := findOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) FindStaffByUsername(ctx context.Context, username string) (*domain.StaffAccount, error) {
	var account domain.StaffAccount
	err := s.db.GetContext(ctx, &account, `
		SELECT id, username, password_hash, permission_level, active, created_at
		FROM staff_accounts
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Store) UpdateStaffPassword(ctx context.Context, username string, passwordHash string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(passwordHash) == "" {
		return store.ErrInvalidSale
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE staff_accounts
		SET password_hash = $2
		WHERE username = $1
	`, username, passwordHash)
	if err != nil {
		return err
	}
	return requireAffected(res, "staff "+username)
}

func requireAffected(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
