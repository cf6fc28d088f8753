package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPaid       = "paid"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

type Order struct {
	ID            string          `db:"id" json:"id"`
	CustomerID    string          `db:"customer_id" json:"customer_id"`
	CustomerEmail string          `db:"customer_email" json:"customer_email"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	Currency      string          `db:"currency" json:"currency"`
	Status        string          `db:"status" json:"status"`
	PaidAt        *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	IsTest        bool            `db:"is_test" json:"is_test"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

func (o *Order) IsPaid() bool {
	return o.Status == StatusPaid
}
