package sandbox_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway/sandbox"
)

type callbackSink struct {
	mu       sync.Mutex
	payloads []*types.WebhookPayload
}

func (s *callbackSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.payloads = append(s.payloads, &types.WebhookPayload{Headers: r.Header.Clone(), Body: body})
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *callbackSink) received() []*types.WebhookPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.WebhookPayload(nil), s.payloads...)
}

var _ = Describe("Sandbox gateway", func() {
	var (
		sink    *callbackSink
		server  *httptest.Server
		gateway *sandbox.Gateway
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		sink = &callbackSink{}
		server = httptest.NewServer(sink)

		var err error
		gateway, err = sandbox.New(paymentgateway.GatewayConfig{
			Name:                "sandbox",
			IsActive:            true,
			Credentials:         map[string]string{"webhook_token": "local-token"},
			WebhookEndpoint:     server.URL + "/api/v1/payments/webhooks/sandbox",
			SupportedCurrencies: []string{"USD"},
		}, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})), sandbox.Options{MaxWorkers: 1})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(gateway.Close()).To(Succeed())
		server.Close()
	})

	It("approves charges synchronously by default", func() {
		resp, err := gateway.ProcessPayment(ctx, &types.PaymentRequest{PaymentID: "pay_1", Amount: decimal.RequireFromString("10.50"), Currency: "USD"})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Success).To(BeTrue())
		Expect(resp.TransactionID).To(Equal("sbx_pay_1"))
		Expect(resp.Raw).To(HaveKeyWithValue("amount", "1050"))
	})

	It("declines when asked to", func() {
		resp, err := gateway.ProcessPayment(ctx, &types.PaymentRequest{
			PaymentID: "pay_1",
			Amount:    decimal.NewFromInt(1),
			Currency:  "USD",
			Metadata:  map[string]string{sandbox.MetadataDecline: "true"},
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Success).To(BeFalse())
		Expect(resp.Status).To(Equal(types.StatusFailed))
	})

	It("rejects unsupported currencies", func() {
		resp, err := gateway.ProcessPayment(ctx, &types.PaymentRequest{PaymentID: "pay_1", Amount: decimal.NewFromInt(1), Currency: "JPY"})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Success).To(BeFalse())
	})

	It("settles async charges through a signed callback", func() {
		resp, err := gateway.ProcessPayment(ctx, &types.PaymentRequest{
			PaymentID: "pay_2",
			Amount:    decimal.NewFromInt(3),
			Currency:  "USD",
			Metadata:  map[string]string{sandbox.MetadataAsync: "true"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Success).To(BeFalse())
		Expect(resp.Status).To(Equal(types.StatusProcessing))

		Eventually(sink.received).Should(HaveLen(1))
		callback := sink.received()[0]
		Expect(callback.Headers.Get(sandbox.TokenHeader)).To(Equal("local-token"))

		normalized, err := gateway.HandleWebhook(ctx, callback)
		Expect(err).NotTo(HaveOccurred())
		Expect(normalized.Success).To(BeTrue())
		Expect(normalized.TransactionID).To(Equal("sbx_pay_2"))
		Expect(normalized.Status).To(Equal(types.StatusCompleted))
	})

	Describe("HandleWebhook", func() {
		payload := func(token, body string) *types.WebhookPayload {
			headers := http.Header{}
			headers.Set(sandbox.TokenHeader, token)
			return &types.WebhookPayload{Headers: headers, Body: []byte(body)}
		}

		DescribeTable("maps sandbox statuses",
			func(status string, expected types.PaymentStatus) {
				resp, err := gateway.HandleWebhook(ctx, payload("local-token", `{"transaction_id":"sbx_pay_1","status":"`+status+`"}`))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Status).To(Equal(expected))
			},
			Entry("success", "SUCCESS", types.StatusCompleted),
			Entry("failed", "FAILED", types.StatusFailed),
			Entry("pending", "PENDING", types.StatusProcessing),
			Entry("unknown", "CHARGEBACK", types.StatusProcessing),
		)

		It("rejects a wrong token", func() {
			resp, err := gateway.HandleWebhook(ctx, payload("nope", `{"transaction_id":"sbx_pay_1","status":"SUCCESS"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Success).To(BeFalse())
		})

		It("rejects malformed bodies", func() {
			resp, err := gateway.HandleWebhook(ctx, payload("local-token", `not json`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Success).To(BeFalse())
		})
	})

	It("refunds completed charges", func() {
		resp, err := gateway.RefundPayment(ctx, &types.RefundRequest{PaymentID: "pay_1", TransactionID: "sbx_pay_1", Amount: decimal.NewFromInt(1), Currency: "USD"})

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Success).To(BeTrue())
		Expect(resp.TransactionID).To(Equal("sbx_re_pay_1"))
	})
})
