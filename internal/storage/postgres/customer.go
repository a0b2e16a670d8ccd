package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promoforge/coupon-engine/internal/domain/coupon"
)

var _ coupon.HistoryReader = (*CustomerHistoryRepository)(nil)

const hasPriorOrdersSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE customer_id = $1)`

// CustomerHistoryRepository answers the first-time-only eligibility question
// from the orders table.
type CustomerHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerHistoryRepository returns a CustomerHistoryRepository that uses
// the given pool.
func NewCustomerHistoryRepository(pool *pgxpool.Pool) *CustomerHistoryRepository {
	return &CustomerHistoryRepository{pool: pool}
}

// HasPriorOrders reports whether the customer has any completed order.
func (r *CustomerHistoryRepository) HasPriorOrders(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, hasPriorOrdersSQL, customerID).Scan(&exists); err != nil {
		return false, errors.Wrapf(err, "customer history %q", customerID)
	}
	return exists, nil
}
