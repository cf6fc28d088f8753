package paymentgateway

import (
	"fmt"
	"math"
	"strings"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/common/validation"
	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/shopspring/decimal"
)

var centCurrencies = map[string]bool{
	"USD": true,
	"EUR": true,
	"GBP": true,
}

var hundred = decimal.NewFromInt(100)

// NormalizeAmount converts a major-unit amount to cents for USD, EUR and GBP.
// Other currencies are passed through unchanged.
func NormalizeAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	if centCurrencies[strings.ToUpper(currency)] {
		return amount.Mul(hundred).Round(0)
	}
	return amount
}

// AmountFromFloat converts a float from an untyped source, rejecting NaN and infinities.
func AmountFromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, internal.NewValidationFieldError("amount", fmt.Sprintf("amount %v is not a finite number", v), internal.ErrCodeInvalidAmount)
	}
	return decimal.NewFromFloat(v), nil
}

// ValidateRequest checks the currency and amount of a charge or refund before any
// provider is contacted.
func ValidateRequest(cfg GatewayConfig, amount decimal.Decimal, currency string) *internal.AppError {
	if err := validation.ValidateCurrency(currency, cfg.SupportedCurrencies); err != nil {
		return err
	}
	return validation.ValidateAmount(amount)
}

// Rejected turns a local validation failure into a failed response.
func Rejected(err *internal.AppError) *types.GatewayResponse {
	return types.Failed(err.GetDetailedMessage())
}
