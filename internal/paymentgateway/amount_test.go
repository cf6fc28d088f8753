package paymentgateway_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway"
)

var _ = Describe("Amounts", func() {
	DescribeTable("NormalizeAmount",
		func(amount, currency, expected string) {
			got := paymentgateway.NormalizeAmount(decimal.RequireFromString(amount), currency)
			Expect(got.Equal(decimal.RequireFromString(expected))).To(BeTrue(), "got %s", got)
		},
		Entry("USD goes to cents", "10.50", "USD", "1050"),
		Entry("lower-case currency", "10.50", "eur", "1050"),
		Entry("GBP rounds half cents", "0.015", "GBP", "2"),
		Entry("JPY is untouched", "10.50", "JPY", "10.50"),
		Entry("BRL is untouched", "99.99", "BRL", "99.99"),
	)

	It("rejects non-finite floats", func() {
		_, err := paymentgateway.AmountFromFloat(math.NaN())
		Expect(internal.IsValidation(err)).To(BeTrue())

		_, err = paymentgateway.AmountFromFloat(math.Inf(1))
		Expect(internal.IsValidation(err)).To(BeTrue())

		amount, err := paymentgateway.AmountFromFloat(12.5)
		Expect(err).NotTo(HaveOccurred())
		Expect(amount.String()).To(Equal("12.5"))
	})

	Describe("ValidateRequest", func() {
		cfg := paymentgateway.GatewayConfig{Name: "stripe", SupportedCurrencies: []string{"USD"}}

		It("accepts a supported currency and positive amount", func() {
			Expect(paymentgateway.ValidateRequest(cfg, decimal.NewFromInt(1), "usd")).To(BeNil())
		})

		It("rejects unsupported currencies", func() {
			err := paymentgateway.ValidateRequest(cfg, decimal.NewFromInt(1), "JPY")
			Expect(err).NotTo(BeNil())
			Expect(err.GetDetailedMessage()).To(ContainSubstring("JPY"))
		})

		It("rejects zero and negative amounts", func() {
			Expect(paymentgateway.ValidateRequest(cfg, decimal.Zero, "USD")).NotTo(BeNil())
			Expect(paymentgateway.ValidateRequest(cfg, decimal.NewFromInt(-3), "USD")).NotTo(BeNil())
		})
	})
})
