package order

import (
	"context"
	"time"

	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/order"
)

// RepositoryAPI is the order store used by the payment service, the seeder and
// the health check.
type RepositoryAPI interface {
	Create(ctx context.Context, o *order.Order) error
	GetByID(ctx context.Context, id string) (*order.Order, error)
	UpdateStatus(ctx context.Context, id, status string, paidAt *time.Time) error
}
