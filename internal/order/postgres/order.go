package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	errors "github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/order"
)

const orderColumns = `id, customer_id, customer_email, total_amount, currency, status, paid_at, is_test, created_at, updated_at`

// OrderRepository works with any sqlx driver; queries are written with ? and
// rebound for the connection.
type OrderRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = order.StatusPending
	}
	now := r.now()
	o.CreatedAt = now
	o.UpdatedAt = now

	query := r.db.Rebind(`INSERT INTO orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		o.ID, o.CustomerID, o.CustomerEmail, o.TotalAmount, o.Currency,
		o.Status, o.PaidAt, o.IsTest, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	query := r.db.Rebind(`SELECT ` + orderColumns + ` FROM orders WHERE id = ?`)
	if err := r.db.GetContext(ctx, &o, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id, status string, paidAt *time.Time) error {
	query := r.db.Rebind(`UPDATE orders SET status = ?, paid_at = COALESCE(?, paid_at), updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, status, paidAt, r.now(), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if rows == 0 {
		return errors.ErrOrderNotFound
	}
	return nil
}

// Ping reports whether the orders database answers.
func (r *OrderRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
