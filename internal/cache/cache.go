package cache

import (
	"context"
	"strconv"
	"time"

	"posbackoffice/backend/internal/domain"
)

// SaleCache holds rendered sales for the read path. Every Delete advances the
// sale's generation, and Set only stores a sale read under the current
// generation, so a read that raced a void cannot repopulate a stale entry.
type SaleCache interface {
	Get(ctx context.Context, saleID int64) (*domain.Sale, bool, error)
	Generation(ctx context.Context, saleID int64) (int64, error)
	Set(ctx context.Context, sale *domain.Sale, generation int64, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, saleID int64) error
}

type NoopSaleCache struct{}

func (NoopSaleCache) Get(_ context.Context, _ int64) (*domain.Sale, bool, error) {
	return nil, false, nil
}

func (NoopSaleCache) Generation(_ context.Context, _ int64) (int64, error) {
	return 0, nil
}

func (NoopSaleCache) Set(_ context.Context, _ *domain.Sale, _ int64, _ time.Duration) (bool, error) {
	return false, nil
}

func (NoopSaleCache) Delete(_ context.Context, _ int64) error {
	return nil
}

func SaleKey(saleID int64) string {
	return "pos:sale:" + strconv.FormatInt(saleID, 10)
}

func SaleGenerationKey(saleID int64) string {
	return SaleKey(saleID) + ":gen"
}
