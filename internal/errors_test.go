package internal_test

import (
	"encoding/json"
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-gateway/internal"
)

var _ = Describe("AppError", func() {
	It("is found through wrapped errors", func() {
		err := fmt.Errorf("charge: %w", internal.NewTimeoutError("stripe timed out", nil))

		Expect(internal.IsTimeout(err)).To(BeTrue())
		Expect(internal.IsEffectUnknown(err)).To(BeTrue())
		Expect(internal.IsRetryable(err)).To(BeFalse())
	})

	It("treats partial captures as unknown outcomes", func() {
		err := internal.NewPartialCaptureError("capture failed", "PAYPAL-ORDER-1", nil)

		Expect(internal.IsPartialCapture(err)).To(BeTrue())
		Expect(internal.IsEffectUnknown(err)).To(BeTrue())
		Expect(err.Details).To(Equal(map[string]string{"provider_order_id": "PAYPAL-ORDER-1"}))
	})

	It("marks remote errors retryable unless cleared", func() {
		err := internal.NewRemoteError("503 from provider", nil)
		Expect(internal.IsRetryable(err)).To(BeTrue())
		Expect(internal.IsRetryable(err.WithRetryable(false))).To(BeFalse())
	})

	DescribeTable("maps to HTTP status codes",
		func(err *internal.AppError, status int) {
			code, _ := err.ToHTTPResponse()
			Expect(code).To(Equal(status))
		},
		Entry("validation", internal.NewValidationError("bad", internal.ErrCodeValidationFailed), http.StatusBadRequest),
		Entry("not found", internal.ErrPaymentNotFound, http.StatusNotFound),
		Entry("precondition", internal.NewPreconditionError("no", internal.ErrCodeRefundNotAllowed), http.StatusConflict),
		Entry("configuration", internal.NewConfigurationError("none", internal.ErrCodeNoActiveGateway), http.StatusServiceUnavailable),
		Entry("remote", internal.NewRemoteError("down", nil), http.StatusBadGateway),
		Entry("timeout", internal.NewTimeoutError("slow", nil), http.StatusGatewayTimeout),
		Entry("declined", internal.NewPaymentDeclinedError("card declined"), http.StatusPaymentRequired),
		Entry("rate limit", internal.NewRateLimitError("slow down"), http.StatusTooManyRequests),
	)

	It("renders the error envelope without the cause", func() {
		err := internal.NewRemoteError("provider unavailable", fmt.Errorf("dial tcp: refused"))
		_, body := err.ToHTTPResponse()

		raw, marshalErr := json.Marshal(body)
		Expect(marshalErr).NotTo(HaveOccurred())
		Expect(string(raw)).To(MatchJSON(`{"error":{"type":"EXTERNAL_ERROR","code":"REMOTE_ERROR","message":"provider unavailable"}}`))
	})

	It("uses the first field message for validation errors", func() {
		err := internal.NewValidationFieldError("amount", "amount must be greater than 0", internal.ErrCodeInvalidAmount)

		Expect(err.Error()).To(Equal("amount must be greater than 0"))
		Expect(internal.IsValidation(err)).To(BeTrue())
	})
})
