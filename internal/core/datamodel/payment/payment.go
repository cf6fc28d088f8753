package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRefunded   = "refunded"
)

const (
	ResponseKeyCharge = "charge"
	ResponseKeyRefund = "refund"
	webhookKeyPrefix  = "webhook_"
)

// Payment is one attempt to charge an order through one gateway.
type Payment struct {
	ID                   string              `gorm:"column:id;primaryKey;type:varchar(36)"`
	OrderID              string              `gorm:"column:order_id;not null;index"`
	Amount               decimal.Decimal     `gorm:"column:amount;type:numeric(19,4);not null"`
	Currency             string              `gorm:"column:currency;type:varchar(3);not null"`
	GatewayName          string              `gorm:"column:gateway_name;not null"`
	GatewayTransactionID string              `gorm:"column:gateway_transaction_id;index"`
	ProviderReference    string              `gorm:"column:provider_reference;index"`
	Status               string              `gorm:"column:status;not null;default:pending"`
	GatewayResponse      datatypes.JSONMap   `gorm:"column:gateway_response"`
	ErrorMessage         *string             `gorm:"column:error_message"`
	RefundedAmount       decimal.NullDecimal `gorm:"column:refunded_amount;type:numeric(19,4)"`
	RefundedAt           *time.Time          `gorm:"column:refunded_at"`
	Version              int                 `gorm:"column:version;not null;default:1"`
	CreatedAt            time.Time           `gorm:"column:created_at"`
	UpdatedAt            time.Time           `gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.GatewayResponse == nil {
		p.GatewayResponse = datatypes.JSONMap{}
	}
	return nil
}

func (p *Payment) IsRefundable() bool {
	return p.Status == StatusCompleted
}

// MergeResponse stores raw provider data under key without touching other keys.
func (p *Payment) MergeResponse(key string, raw map[string]interface{}) {
	if p.GatewayResponse == nil {
		p.GatewayResponse = datatypes.JSONMap{}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}
	p.GatewayResponse[key] = raw
}

// NextWebhookKey returns the first unused webhook_<n> key, counting from the
// number of webhook entries already stored.
func (p *Payment) NextWebhookKey() string {
	count := 0
	for key := range p.GatewayResponse {
		if strings.HasPrefix(key, webhookKeyPrefix) {
			count++
		}
	}
	for n := count + 1; ; n++ {
		key := fmt.Sprintf("%s%d", webhookKeyPrefix, n)
		if _, taken := p.GatewayResponse[key]; !taken {
			return key
		}
	}
}

func (p *Payment) SetError(message string) {
	if message == "" {
		p.ErrorMessage = nil
		return
	}
	p.ErrorMessage = &message
}

// webhookTransitions lists the status changes a provider notification may cause.
// Refunded records are never moved by a webhook.
var webhookTransitions = map[string]map[string]bool{
	StatusPending:    {StatusProcessing: true, StatusCompleted: true, StatusFailed: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
	StatusFailed:     {StatusCompleted: true},
}

// CanWebhookTransition reports whether a notification may move a payment from one
// status to another. Same-status notifications are accepted as no-ops.
func CanWebhookTransition(from, to string) bool {
	if from == to {
		return from != StatusRefunded
	}
	return webhookTransitions[from][to]
}
