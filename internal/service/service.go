package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"posbackoffice/backend/internal/cache"
	"posbackoffice/backend/internal/domain"
	"posbackoffice/backend/internal/metrics"
	"posbackoffice/backend/internal/store"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("insufficient permission level")
)

const (
	DefaultVoidMinLevel = 2
	DefaultSaleCacheTTL = 5 * time.Minute
	createSaleMinLevel  = 1
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	SaleCacheTTL time.Duration
	VoidMinLevel int
}

type Service struct {
	repo         store.Repository
	saleCache    cache.SaleCache
	metrics      *metrics.Recorder
	saleCacheTTL time.Duration
	voidMinLevel int
	now          func() time.Time
}

func New(repo store.Repository, saleCache cache.SaleCache, recorder *metrics.Recorder, opts Options) *Service {
	if saleCache == nil {
		saleCache = cache.NoopSaleCache{}
	}
	if opts.SaleCacheTTL <= 0 {
		opts.SaleCacheTTL = DefaultSaleCacheTTL
	}
	if opts.VoidMinLevel < 1 {
		opts.VoidMinLevel = DefaultVoidMinLevel
	}

	return &Service{
		repo:         repo,
		saleCache:    saleCache,
		metrics:      recorder,
		saleCacheTTL: opts.SaleCacheTTL,
		voidMinLevel: opts.VoidMinLevel,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) VoidMinLevel() int {
	return s.voidMinLevel
}

func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.CreateSaleResponse, error) {
	actor, err := requireLevel(ctx, createSaleMinLevel)
	if err != nil {
		return domain.CreateSaleResponse{}, err
	}

	if len(req.Cart) == 0 {
		return domain.CreateSaleResponse{}, fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	lines := make([]domain.SaleItem, 0, len(req.Cart))
	for i, line := range req.Cart {
		if line.ItemID < 1 || line.Quantity < 1 || line.Price.IsNegative() {
			return domain.CreateSaleResponse{}, fmt.Errorf("%w: cart line %d is invalid", ErrValidation, i)
		}
		lines = append(lines, domain.SaleItem{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			PriceEach: line.Price,
		})
	}
	if req.OriginalTotal.IsNegative() || req.FinalTotal.IsNegative() {
		return domain.CreateSaleResponse{}, fmt.Errorf("%w: totals must not be negative", ErrValidation)
	}

	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	tabID := req.TabID
	paymentTab, paymentNamesTab := domain.ParseTabReference(req.PaymentMethod)
	switch {
	case tabID != nil && paymentNamesTab && paymentTab != *tabID:
		return domain.CreateSaleResponse{}, fmt.Errorf("%w: tab_id %d contradicts payment method %q", ErrValidation, *tabID, req.PaymentMethod)
	case tabID == nil && paymentNamesTab:
		tabID = &paymentTab
	}
	if tabID != nil {
		if _, err := s.repo.GetTab(ctx, *tabID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.CreateSaleResponse{}, fmt.Errorf("%w: tab %d does not exist", ErrValidation, *tabID)
			}
			return domain.CreateSaleResponse{}, err
		}
		// The stored payment method always names the tab the voids refund.
		req.PaymentMethod = domain.TabPaymentMethod(*tabID)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
			s.metrics.SaleReplayed()
			return domain.CreateSaleResponse{SaleID: existing.ID, Duplicate: true}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.CreateSaleResponse{}, err
		}
	}

	saved, created, err := s.repo.CreateSale(ctx, domain.Sale{
		StaffID:        actor.StaffID,
		CustomerID:     req.CustomerID,
		DiscountID:     req.DiscountID,
		OriginalTotal:  req.OriginalTotal,
		FinalTotal:     req.FinalTotal,
		PaymentMethod:  req.PaymentMethod,
		TabID:          tabID,
		IdempotencyKey: req.IdempotencyKey,
		Items:          lines,
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidSale) {
			return domain.CreateSaleResponse{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return domain.CreateSaleResponse{}, fmt.Errorf("create sale: %w", err)
	}

	if !created {
		// Lost a race with a request carrying the same key.
		s.metrics.SaleReplayed()
		return domain.CreateSaleResponse{SaleID: saved.ID, Duplicate: true}, nil
	}

	s.metrics.SaleCreated()
	s.logAudit(ctx, "create_sale", "sale", fmt.Sprint(saved.ID), fmt.Sprintf("lines=%d,final_total=%s,payment=%s", len(saved.Items), saved.FinalTotal, saved.PaymentMethod))
	return domain.CreateSaleResponse{SaleID: saved.ID}, nil
}

// GetSale reads through the sale cache. Cache failures only degrade to a
// store read.
func (s *Service) GetSale(ctx context.Context, saleID int64) (domain.Sale, error) {
	if saleID < 1 {
		return domain.Sale{}, fmt.Errorf("%w: sale id must be positive", ErrValidation)
	}

	cached, ok, err := s.saleCache.Get(ctx, saleID)
	if err != nil {
		log.Printf("[cache] WARN: sale get failed id=%d: %v", saleID, err)
	}
	if ok && cached != nil {
		return *cached, nil
	}

	// The generation is read before the store so a void committing in between
	// makes the fill below a no-op.
	generation, genErr := s.saleCache.Generation(ctx, saleID)
	if genErr != nil {
		log.Printf("[cache] WARN: sale generation failed id=%d: %v", saleID, genErr)
	}

	sale, err := s.repo.FindSaleByID(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if genErr == nil {
		if _, err := s.saleCache.Set(ctx, sale, generation, s.saleCacheTTL); err != nil {
			log.Printf("[cache] WARN: sale set failed id=%d: %v", saleID, err)
		}
	}
	return *sale, nil
}

func (s *Service) VoidSaleItem(ctx context.Context, saleItemID int64) (domain.VoidResponse, error) {
	if _, err := requireLevel(ctx, s.voidMinLevel); err != nil {
		s.metrics.VoidFailed(metrics.VoidKindItem)
		return domain.VoidResponse{}, err
	}
	if saleItemID < 1 {
		return domain.VoidResponse{}, fmt.Errorf("%w: sale item id must be positive", ErrValidation)
	}

	sale, err := s.repo.VoidSaleItem(ctx, saleItemID)
	if err != nil {
		s.metrics.VoidFailed(metrics.VoidKindItem)
		return domain.VoidResponse{}, fmt.Errorf("void sale item %d: %w", saleItemID, err)
	}

	s.invalidateSale(ctx, sale.ID)
	s.metrics.Voided(metrics.VoidKindItem)
	s.logAudit(ctx, "void_item", "sale_item", fmt.Sprint(saleItemID), fmt.Sprintf("sale=%d,final_total=%s", sale.ID, sale.FinalTotal))
	return domain.VoidResponse{Success: true}, nil
}

func (s *Service) VoidSale(ctx context.Context, saleID int64) (domain.VoidResponse, error) {
	if _, err := requireLevel(ctx, s.voidMinLevel); err != nil {
		s.metrics.VoidFailed(metrics.VoidKindSale)
		return domain.VoidResponse{}, err
	}
	if saleID < 1 {
		return domain.VoidResponse{}, fmt.Errorf("%w: sale id must be positive", ErrValidation)
	}

	sale, err := s.repo.VoidSale(ctx, saleID)
	if err != nil {
		s.metrics.VoidFailed(metrics.VoidKindSale)
		return domain.VoidResponse{}, fmt.Errorf("void sale %d: %w", saleID, err)
	}

	s.invalidateSale(ctx, sale.ID)
	s.metrics.Voided(metrics.VoidKindSale)
	s.logAudit(ctx, "void_sale", "sale", fmt.Sprint(saleID), fmt.Sprintf("lines=%d", len(sale.Items)))
	return domain.VoidResponse{Success: true}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	if orderID == uuid.Nil {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) VoidOrder(ctx context.Context, orderID uuid.UUID, req domain.VoidOrderRequest) (domain.VoidOrderResponse, error) {
	actor, err := requireLevel(ctx, s.voidMinLevel)
	if err != nil {
		s.metrics.VoidFailed(metrics.VoidKindOrder)
		return domain.VoidOrderResponse{}, err
	}
	if orderID == uuid.Nil {
		return domain.VoidOrderResponse{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.VoidOrderResponse{}, fmt.Errorf("%w: void reason is required", ErrValidation)
	}

	order, err := s.repo.VoidOrder(ctx, orderID, reason, actor.Username, s.now())
	if err != nil {
		s.metrics.VoidFailed(metrics.VoidKindOrder)
		return domain.VoidOrderResponse{}, fmt.Errorf("void order %s: %w", orderID, err)
	}

	s.metrics.Voided(metrics.VoidKindOrder)
	s.logAudit(ctx, "void_order", "order", orderID.String(), reason)
	return domain.VoidOrderResponse{Order: *order}, nil
}

func (s *Service) GetStock(ctx context.Context, itemID int64) (domain.Item, error) {
	if itemID < 1 {
		return domain.Item{}, fmt.Errorf("%w: item id must be positive", ErrValidation)
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) GetTab(ctx context.Context, tabID int64) (domain.Tab, error) {
	if tabID < 1 {
		return domain.Tab{}, fmt.Errorf("%w: tab id must be positive", ErrValidation)
	}
	tab, err := s.repo.GetTab(ctx, tabID)
	if err != nil {
		return domain.Tab{}, err
	}
	return *tab, nil
}

// AdjustTab moves a tab balance by delta. Positive deltas restore owed debt.
func (s *Service) AdjustTab(ctx context.Context, tabID int64, delta decimal.Decimal) (domain.Tab, error) {
	if _, err := requireLevel(ctx, s.voidMinLevel); err != nil {
		return domain.Tab{}, err
	}
	if err := s.repo.AdjustTabBalance(ctx, tabID, delta); err != nil {
		return domain.Tab{}, fmt.Errorf("adjust tab %d: %w", tabID, err)
	}
	s.logAudit(ctx, "adjust_tab", "tab", fmt.Sprint(tabID), "delta="+delta.String())
	return s.GetTab(ctx, tabID)
}

func (s *Service) invalidateSale(ctx context.Context, saleID int64) {
	if err := s.saleCache.Delete(ctx, saleID); err != nil {
		log.Printf("[cache] WARN: sale invalidate failed id=%d: %v", saleID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system"}
	}
	log.Printf("[audit] actor=%s level=%d action=%s entity=%s/%s %s", actor.Username, actor.Level, action, entityType, entityID, detail)
}

func requireLevel(ctx context.Context, minLevel int) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: no authenticated actor", ErrForbidden)
	}
	if actor.Level < minLevel {
		return domain.Actor{}, fmt.Errorf("%w: level %d below required %d", ErrForbidden, actor.Level, minLevel)
	}
	return actor, nil
}
