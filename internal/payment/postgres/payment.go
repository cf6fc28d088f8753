package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	errors "github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// Save writes the mutable columns of p only if the stored row still has p.Version.
// On success p.Version is advanced to match the row.
func (r *PaymentRepository) Save(ctx context.Context, p *payment.Payment) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&payment.Payment{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]interface{}{
			"gateway_transaction_id": p.GatewayTransactionID,
			"provider_reference":     p.ProviderReference,
			"status":                 p.Status,
			"gateway_response":       p.GatewayResponse,
			"error_message":          p.ErrorMessage,
			"refunded_amount":        p.RefundedAmount,
			"refunded_at":            p.RefundedAt,
			"version":                gorm.Expr("version + 1"),
			"updated_at":             now,
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&payment.Payment{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errors.ErrPaymentNotFound
		}
		return errors.NewConflictError("payment was modified concurrently", errors.ErrCodeConcurrentUpdate)
	}

	p.Version++
	p.UpdatedAt = now
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// GetByGatewayTransactionID looks a transaction id up within one gateway; ids are
// only unique per provider.
func (r *PaymentRepository) GetByGatewayTransactionID(ctx context.Context, gatewayName, transactionID string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).
		Where("gateway_name = ? AND gateway_transaction_id = ?", gatewayName, transactionID).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// GetByProviderReference finds the newest payment carrying a provider-side parent
// reference, e.g. the PayPal order a capture belongs to.
func (r *PaymentRepository) GetByProviderReference(ctx context.Context, gatewayName, reference string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).
		Where("gateway_name = ? AND provider_reference = ?", gatewayName, reference).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at DESC").Find(&payments).Error
	return payments, err
}

func notFound(err error) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.ErrPaymentNotFound
	}
	return err
}
