package payment_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/core/datamodel/order"
	pm "github.com/frahmantamala/payment-gateway/internal/core/datamodel/payment"
	types "github.com/frahmantamala/payment-gateway/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-gateway/internal/core/events"
	"github.com/frahmantamala/payment-gateway/internal/payment"
	"github.com/frahmantamala/payment-gateway/internal/paymentgateway/circuitbreaker"
	"github.com/frahmantamala/payment-gateway/internal/telemetry"
)

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		logger   *slog.Logger
		payments *memoryPaymentRepository
		orders   *memoryOrderRepository
		bus      *events.EventBus
		recorder *eventRecorder
		metrics  *telemetry.Metrics
		primary  *scriptedGateway
		backup   *scriptedGateway
		resolver *staticResolver
		service  *payment.Service
	)

	waitForEvents := func() {
		Expect(bus.Wait(ctx)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		payments = newMemoryPaymentRepository()
		orders = newMemoryOrderRepository(newOrder("order-1", "100.00", "USD"))
		bus = events.NewEventBus(logger)
		recorder = recordEvents(bus)
		metrics = telemetry.NewMetrics()
		primary = &scriptedGateway{name: "stripe"}
		backup = &scriptedGateway{name: "paypal"}
		resolver = newStaticResolver(primary, backup)
		service = payment.NewService(resolver, payments, orders, logger,
			payment.WithEventBus(bus),
			payment.WithMetrics(metrics),
		)
	})

	request := func() payment.ProcessRequest {
		return payment.ProcessRequest{
			OrderID:  "order-1",
			Amount:   decimal.RequireFromString("100.00"),
			Currency: "usd",
		}
	}

	Describe("ProcessPayment", func() {
		It("completes on the first active gateway", func() {
			result, err := service.ProcessPayment(ctx, request())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pending()).To(BeFalse())
			Expect(result.Payment.Status).To(Equal(pm.StatusCompleted))
			Expect(result.Payment.GatewayName).To(Equal("stripe"))
			Expect(result.Payment.Currency).To(Equal("USD"))
			Expect(result.Payment.GatewayTransactionID).To(Equal("tx_" + result.Payment.ID))
			Expect(result.Payment.GatewayResponse).To(HaveKey(pm.ResponseKeyCharge))
			Expect(result.Attempts).To(HaveLen(1))
			Expect(backup.calls()).To(Equal(0))

			Expect(primary.lastRequest.Metadata).To(HaveKeyWithValue("order_id", "order-1"))
			Expect(orders.status("order-1")).To(Equal(order.StatusPaid))

			waitForEvents()
			Expect(recorder.types()).To(Equal([]string{events.EventTypePaymentCompleted}))
			Expect(testutil.ToFloat64(metrics.AttemptCount("stripe", "completed"))).To(Equal(1.0))
		})

		It("fails over to the next gateway when the first one errors", func() {
			primary.process = remoteFailure

			result, err := service.ProcessPayment(ctx, request())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Payment.GatewayName).To(Equal("paypal"))
			Expect(result.Attempts).To(HaveLen(2))

			failed := payments.byGateway("order-1", "stripe")
			Expect(failed).NotTo(BeNil())
			Expect(failed.Status).To(Equal(pm.StatusFailed))
			Expect(failed.ErrorMessage).NotTo(BeNil())
			Expect(payments.byGateway("order-1", "paypal").Status).To(Equal(pm.StatusCompleted))
			Expect(orders.status("order-1")).To(Equal(order.StatusPaid))

			waitForEvents()
			Expect(recorder.types()).To(ConsistOf(events.EventTypePaymentFailed, events.EventTypePaymentCompleted))
		})

		It("fails over after a decline", func() {
			primary.process = decline

			result, err := service.ProcessPayment(ctx, request())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Payment.GatewayName).To(Equal("paypal"))

			declined := payments.byGateway("order-1", "stripe")
			Expect(declined.Status).To(Equal(pm.StatusFailed))
			Expect(*declined.ErrorMessage).To(Equal("card declined"))
		})

		It("returns the last error when every gateway fails", func() {
			primary.process = decline
			backup.process = remoteFailure

			result, err := service.ProcessPayment(ctx, request())
			Expect(result).To(BeNil())
			Expect(err).To(HaveOccurred())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeRemoteError))

			Expect(payments.count()).To(Equal(2))
			Expect(payments.byGateway("order-1", "stripe").Status).To(Equal(pm.StatusFailed))
			Expect(payments.byGateway("order-1", "paypal").Status).To(Equal(pm.StatusFailed))
			Expect(orders.status("order-1")).To(Equal(order.StatusPending))
		})

		It("stops failover when a gateway times out", func() {
			primary.process = func(req *types.PaymentRequest) (*types.GatewayResponse, error) {
				return nil, internal.NewTimeoutError("stripe request timed out", context.DeadlineExceeded)
			}

			_, err := service.ProcessPayment(ctx, request())
			Expect(internal.IsTimeout(err)).To(BeTrue())
			Expect(backup.calls()).To(Equal(0))

			stuck := payments.byGateway("order-1", "stripe")
			Expect(stuck.Status).To(Equal(pm.StatusProcessing))
			Expect(stuck.ErrorMessage).NotTo(BeNil())

			waitForEvents()
			Expect(recorder.types()).To(Equal([]string{events.EventTypeReconciliationRequired}))
		})

		It("keeps the provider order id when capture fails after approval", func() {
			primary.process = func(req *types.PaymentRequest) (*types.GatewayResponse, error) {
				return nil, internal.NewPartialCaptureError("capture failed", "PAYPAL-ORDER-9", nil)
			}

			_, err := service.ProcessPayment(ctx, request())
			Expect(internal.IsPartialCapture(err)).To(BeTrue())
			Expect(backup.calls()).To(Equal(0))

			stuck := payments.byGateway("order-1", "stripe")
			Expect(stuck.Status).To(Equal(pm.StatusProcessing))
			Expect(stuck.ProviderReference).To(Equal("PAYPAL-ORDER-9"))
			charge, ok := stuck.GatewayResponse[pm.ResponseKeyCharge].(map[string]interface{})
			Expect(ok).To(BeTrue())
			Expect(charge).To(HaveKeyWithValue("provider_order_id", "PAYPAL-ORDER-9"))
		})

		It("returns a pending result when the provider settles later", func() {
			primary.process = func(req *types.PaymentRequest) (*types.GatewayResponse, error) {
				return &types.GatewayResponse{
					TransactionID: "tx_" + req.PaymentID,
					Status:        types.StatusProcessing,
				}, nil
			}

			result, err := service.ProcessPayment(ctx, request())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pending()).To(BeTrue())
			Expect(result.Payment.Status).To(Equal(pm.StatusProcessing))
			Expect(result.Payment.GatewayTransactionID).NotTo(BeEmpty())
			Expect(backup.calls()).To(Equal(0))
			Expect(orders.status("order-1")).To(Equal(order.StatusPending))
		})

		It("uses only the named gateway", func() {
			req := request()
			req.GatewayName = "paypal"
			primary.process = remoteFailure

			result, err := service.ProcessPayment(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Payment.GatewayName).To(Equal("paypal"))
			Expect(primary.calls()).To(Equal(0))
		})

		It("does not fail over away from a named gateway", func() {
			req := request()
			req.GatewayName = "stripe"
			primary.process = decline

			_, err := service.ProcessPayment(ctx, req)
			Expect(err).To(HaveOccurred())
			Expect(backup.calls()).To(Equal(0))
		})

		It("rejects a named gateway that is not active", func() {
			req := request()
			req.GatewayName = "adyen"

			_, err := service.ProcessPayment(ctx, req)
			Expect(internal.IsConfiguration(err)).To(BeTrue())
			Expect(payments.count()).To(Equal(0))
		})

		It("reports a configuration error when no gateway is active", func() {
			service = payment.NewService(newStaticResolver(), payments, orders, logger)

			_, err := service.ProcessPayment(ctx, request())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeNoActiveGateway))
		})

		It("validates the request before calling any gateway", func() {
			req := request()
			req.Amount = decimal.Zero
			req.Currency = ""

			_, err := service.ProcessPayment(ctx, req)
			Expect(internal.IsValidation(err)).To(BeTrue())
			Expect(primary.calls()).To(Equal(0))
			Expect(payments.count()).To(Equal(0))
		})

		It("skips a gateway whose circuit is open", func() {
			breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour})
			service = payment.NewService(resolver, payments, orders, logger,
				payment.WithCircuitBreaker(breaker),
				payment.WithMetrics(metrics),
			)
			primary.process = remoteFailure

			_, err := service.ProcessPayment(ctx, request())
			Expect(err).NotTo(HaveOccurred())
			Expect(primary.calls()).To(Equal(1))

			state, _ := breaker.State("stripe")
			Expect(state).To(Equal(circuitbreaker.StateOpen))

			orders.orders["order-2"] = newOrder("order-2", "5.00", "USD")
			req := request()
			req.OrderID = "order-2"
			result, err := service.ProcessPayment(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Payment.GatewayName).To(Equal("paypal"))
			Expect(result.Attempts).To(HaveLen(1))
			Expect(primary.calls()).To(Equal(1))
		})

		It("reports the gateways as unavailable when every circuit is open", func() {
			breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour})
			breaker.RecordFailure("stripe")
			breaker.RecordFailure("paypal")
			service = payment.NewService(resolver, payments, orders, logger, payment.WithCircuitBreaker(breaker))

			_, err := service.ProcessPayment(ctx, request())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeGatewayUnavailable))
			Expect(payments.count()).To(Equal(0))
		})
	})

	Describe("ProcessOrderPayment", func() {
		It("charges the order total and passes customer metadata", func() {
			result, err := service.ProcessOrderPayment(ctx, "order-1", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Payment.Amount.Equal(decimal.RequireFromString("100.00"))).To(BeTrue())
			Expect(primary.lastRequest.Metadata).To(HaveKeyWithValue("customer_id", "cust-1"))
			Expect(primary.lastRequest.Metadata).To(HaveKeyWithValue("customer_email", "buyer@example.com"))
		})

		It("refuses an order that is already paid", func() {
			orders.orders["order-1"].Status = order.StatusPaid

			_, err := service.ProcessOrderPayment(ctx, "order-1", "")
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeOrderPaid))
			Expect(primary.calls()).To(Equal(0))
		})

		It("refuses a second charge while one awaits confirmation", func() {
			payments.seed(&pm.Payment{
				OrderID:     "order-1",
				Amount:      decimal.RequireFromString("100.00"),
				Currency:    "USD",
				GatewayName: "stripe",
				Status:      pm.StatusProcessing,
			})

			_, err := service.ProcessOrderPayment(ctx, "order-1", "")
			Expect(internal.IsPrecondition(err)).To(BeTrue())
			Expect(primary.calls()).To(Equal(0))
		})

		It("allows a retry after failed attempts", func() {
			payments.seed(&pm.Payment{
				OrderID:     "order-1",
				Amount:      decimal.RequireFromString("100.00"),
				Currency:    "USD",
				GatewayName: "stripe",
				Status:      pm.StatusFailed,
			})

			result, err := service.ProcessOrderPayment(ctx, "order-1", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Payment.Status).To(Equal(pm.StatusCompleted))
		})

		It("returns not found for an unknown order", func() {
			_, err := service.ProcessOrderPayment(ctx, "missing", "")
			Expect(internal.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("RefundPayment", func() {
		var completed *pm.Payment

		seedPayment := func(status string) *pm.Payment {
			return payments.seed(&pm.Payment{
				OrderID:              "order-1",
				Amount:               decimal.RequireFromString("100.00"),
				Currency:             "USD",
				GatewayName:          "stripe",
				GatewayTransactionID: "tx_seed",
				Status:               status,
				GatewayResponse:      map[string]interface{}{pm.ResponseKeyCharge: map[string]interface{}{"id": "tx_seed"}},
			})
		}

		BeforeEach(func() {
			completed = seedPayment(pm.StatusCompleted)
		})

		It("refunds the full amount when no amount is given", func() {
			refunded, err := service.RefundPayment(ctx, completed, decimal.Zero, "customer request")
			Expect(err).NotTo(HaveOccurred())
			Expect(refunded.Status).To(Equal(pm.StatusRefunded))
			Expect(refunded.RefundedAmount.Valid).To(BeTrue())
			Expect(refunded.RefundedAmount.Decimal.Equal(decimal.RequireFromString("100.00"))).To(BeTrue())
			Expect(refunded.RefundedAt).NotTo(BeNil())
			Expect(refunded.GatewayResponse).To(HaveKey(pm.ResponseKeyCharge))
			Expect(refunded.GatewayResponse).To(HaveKey(pm.ResponseKeyRefund))

			Expect(completed.Status).To(Equal(pm.StatusRefunded))
			Expect(primary.lastRefund.TransactionID).To(Equal("tx_seed"))
			Expect(primary.lastRefund.Reason).To(Equal("customer request"))

			stored, err := payments.GetByID(ctx, completed.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(pm.StatusRefunded))

			waitForEvents()
			Expect(recorder.types()).To(Equal([]string{events.EventTypePaymentRefunded}))
		})

		It("refunds part of the amount", func() {
			refunded, err := service.RefundPayment(ctx, completed, decimal.RequireFromString("40.00"), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(refunded.RefundedAmount.Decimal.Equal(decimal.RequireFromString("40.00"))).To(BeTrue())
			Expect(primary.lastRefund.Amount.Equal(decimal.RequireFromString("40.00"))).To(BeTrue())
		})

		It("rejects an amount above the payment amount", func() {
			_, err := service.RefundPayment(ctx, completed, decimal.RequireFromString("100.01"), "")
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
			details, ok := appErr.Details.(internal.ValidationErrors)
			Expect(ok).To(BeTrue())
			Expect(details.Errors[0].Code).To(Equal(string(internal.ErrCodeAmountTooHigh)))
			Expect(primary.refundCalls).To(Equal(0))
		})

		It("rejects a negative amount", func() {
			_, err := service.RefundPayment(ctx, completed, decimal.RequireFromString("-1"), "")
			Expect(internal.IsValidation(err)).To(BeTrue())
			Expect(primary.refundCalls).To(Equal(0))
		})

		DescribeTable("refuses payments that are not completed",
			func(status string) {
				p := seedPayment(status)

				_, err := service.RefundPayment(ctx, p, decimal.Zero, "")
				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(internal.ErrCodeRefundNotAllowed))
				Expect(primary.refundCalls).To(Equal(0))
			},
			Entry("pending", pm.StatusPending),
			Entry("processing", pm.StatusProcessing),
			Entry("failed", pm.StatusFailed),
			Entry("refunded", pm.StatusRefunded),
		)

		It("leaves the payment unchanged when the gateway rejects the refund", func() {
			primary.refund = func(req *types.RefundRequest) (*types.GatewayResponse, error) {
				return types.Failed("charge already refunded"), nil
			}

			_, err := service.RefundPayment(ctx, completed, decimal.Zero, "")
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeRefundFailed))

			stored, _ := payments.GetByID(ctx, completed.ID)
			Expect(stored.Status).To(Equal(pm.StatusCompleted))
			Expect(stored.RefundedAmount.Valid).To(BeFalse())
		})

		It("returns gateway errors unchanged", func() {
			primary.refund = func(req *types.RefundRequest) (*types.GatewayResponse, error) {
				return nil, internal.NewRemoteError("stripe unavailable", nil)
			}

			_, err := service.RefundPayment(ctx, completed, decimal.Zero, "")
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeRemoteError))
		})

		It("refunds by payment id", func() {
			refunded, err := service.RefundPaymentByID(ctx, completed.ID, decimal.Zero, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(refunded.Status).To(Equal(pm.StatusRefunded))
		})

		It("uses the gateway that took the payment even when it is inactive", func() {
			inactive := &scriptedGateway{name: "legacy"}
			resolver.withInactive(inactive)
			p := payments.seed(&pm.Payment{
				OrderID:              "order-1",
				Amount:               decimal.RequireFromString("10.00"),
				Currency:             "USD",
				GatewayName:          "legacy",
				GatewayTransactionID: "tx_legacy",
				Status:               pm.StatusCompleted,
			})

			_, err := service.RefundPayment(ctx, p, decimal.Zero, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(inactive.refundCalls).To(Equal(1))
		})
	})

	Describe("HandleWebhook", func() {
		var pending *pm.Payment

		notify := func(txID string, status types.PaymentStatus) {
			primary.webhook = func(payload *types.WebhookPayload) (*types.GatewayResponse, error) {
				return &types.GatewayResponse{
					Success:       true,
					TransactionID: txID,
					Status:        status,
					Raw:           map[string]interface{}{"body": string(payload.Body)},
				}, nil
			}
		}

		payload := func() *types.WebhookPayload {
			return &types.WebhookPayload{Body: []byte(`{"event":"charge"}`)}
		}

		BeforeEach(func() {
			pending = payments.seed(&pm.Payment{
				OrderID:              "order-1",
				Amount:               decimal.RequireFromString("100.00"),
				Currency:             "USD",
				GatewayName:          "stripe",
				GatewayTransactionID: "tx_pending",
				Status:               pm.StatusProcessing,
			})
		})

		It("completes a processing payment and marks the order paid", func() {
			notify("tx_pending", types.StatusCompleted)

			result, err := service.HandleWebhook(ctx, "Stripe", payload())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Matched).To(BeTrue())
			Expect(result.Applied).To(BeTrue())
			Expect(result.PaymentID).To(Equal(pending.ID))
			Expect(result.Status).To(Equal(pm.StatusCompleted))

			stored, _ := payments.GetByID(ctx, pending.ID)
			Expect(stored.Status).To(Equal(pm.StatusCompleted))
			Expect(stored.GatewayResponse).To(HaveKey("webhook_1"))
			Expect(orders.status("order-1")).To(Equal(order.StatusPaid))

			waitForEvents()
			Expect(recorder.types()).To(Equal([]string{events.EventTypePaymentCompleted}))
			Expect(testutil.ToFloat64(metrics.WebhookCount("stripe", "applied"))).To(Equal(1.0))
		})

		It("records a failure reported by the provider", func() {
			primary.webhook = func(payload *types.WebhookPayload) (*types.GatewayResponse, error) {
				return &types.GatewayResponse{
					Success:       true,
					TransactionID: "tx_pending",
					Status:        types.StatusFailed,
					Error:         "Insufficient funds",
				}, nil
			}

			_, err := service.HandleWebhook(ctx, "stripe", payload())
			Expect(err).NotTo(HaveOccurred())

			stored, _ := payments.GetByID(ctx, pending.ID)
			Expect(stored.Status).To(Equal(pm.StatusFailed))
			Expect(*stored.ErrorMessage).To(Equal("Insufficient funds"))
		})

		It("stores every notification under its own key", func() {
			notify("tx_pending", types.StatusProcessing)
			_, err := service.HandleWebhook(ctx, "stripe", payload())
			Expect(err).NotTo(HaveOccurred())

			notify("tx_pending", types.StatusCompleted)
			_, err = service.HandleWebhook(ctx, "stripe", payload())
			Expect(err).NotTo(HaveOccurred())

			stored, _ := payments.GetByID(ctx, pending.ID)
			Expect(stored.GatewayResponse).To(HaveKey("webhook_1"))
			Expect(stored.GatewayResponse).To(HaveKey("webhook_2"))
			Expect(stored.Status).To(Equal(pm.StatusCompleted))
		})

		It("ignores notifications for unknown transactions", func() {
			notify("tx_unknown", types.StatusCompleted)

			result, err := service.HandleWebhook(ctx, "stripe", payload())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Matched).To(BeFalse())

			stored, _ := payments.GetByID(ctx, pending.ID)
			Expect(stored.Status).To(Equal(pm.StatusProcessing))
			Expect(stored.GatewayResponse).NotTo(HaveKey("webhook_1"))
		})

		It("matches transactions only within the notifying gateway", func() {
			backup.webhook = func(payload *types.WebhookPayload) (*types.GatewayResponse, error) {
				return &types.GatewayResponse{Success: true, TransactionID: "tx_pending", Status: types.StatusCompleted}, nil
			}

			result, err := service.HandleWebhook(ctx, "paypal", payload())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Matched).To(BeFalse())
		})

		It("never moves a refunded payment", func() {
			refunded := payments.seed(&pm.Payment{
				OrderID:              "order-1",
				Amount:               decimal.RequireFromString("100.00"),
				Currency:             "USD",
				GatewayName:          "stripe",
				GatewayTransactionID: "tx_refunded",
				Status:               pm.StatusRefunded,
			})
			notify("tx_refunded", types.StatusCompleted)

			result, err := service.HandleWebhook(ctx, "stripe", payload())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Matched).To(BeTrue())
			Expect(result.Applied).To(BeFalse())

			stored, _ := payments.GetByID(ctx, refunded.ID)
			Expect(stored.Status).To(Equal(pm.StatusRefunded))
			Expect(stored.GatewayResponse).To(HaveKey("webhook_1"))
		})

		It("does not take over a payment that already has another transaction id", func() {
			primary.webhook = func(payload *types.WebhookPayload) (*types.GatewayResponse, error) {
				return &types.GatewayResponse{
					Success:       true,
					TransactionID: "pi_other",
					PaymentID:     pending.ID,
					Status:        types.StatusCompleted,
				}, nil
			}

			result, err := service.HandleWebhook(ctx, "stripe", payload())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Matched).To(BeFalse())

			stored, _ := payments.GetByID(ctx, pending.ID)
			Expect(stored.GatewayTransactionID).To(Equal("tx_pending"))
			Expect(stored.Status).To(Equal(pm.StatusProcessing))
		})

		It("rejects a notification the adapter cannot verify", func() {
			primary.webhook = func(payload *types.WebhookPayload) (*types.GatewayResponse, error) {
				return types.Failed("invalid signature"), nil
			}

			_, err := service.HandleWebhook(ctx, "stripe", payload())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeWebhookRejected))

			stored, _ := payments.GetByID(ctx, pending.ID)
			Expect(stored.GatewayResponse).NotTo(HaveKey("webhook_1"))
		})

		It("rejects notifications for gateways that are not configured", func() {
			_, err := service.HandleWebhook(ctx, "adyen", payload())
			Expect(internal.IsConfiguration(err)).To(BeTrue())
		})
	})

	Describe("resolving unknown outcomes", func() {
		It("settles a timed-out charge from the webhook that echoes the payment id", func() {
			primary.process = func(req *types.PaymentRequest) (*types.GatewayResponse, error) {
				return nil, internal.NewTimeoutError("stripe request timed out", context.DeadlineExceeded)
			}
			_, err := service.ProcessOrderPayment(ctx, "order-1", "")
			Expect(internal.IsTimeout(err)).To(BeTrue())

			stuck := payments.byGateway("order-1", "stripe")
			Expect(stuck.GatewayTransactionID).To(BeEmpty())

			primary.webhook = func(payload *types.WebhookPayload) (*types.GatewayResponse, error) {
				return &types.GatewayResponse{
					Success:       true,
					TransactionID: "pi_123",
					PaymentID:     stuck.ID,
					Status:        types.StatusCompleted,
				}, nil
			}

			result, err := service.HandleWebhook(ctx, "stripe", &types.WebhookPayload{Body: []byte(`{}`)})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Matched).To(BeTrue())
			Expect(result.Applied).To(BeTrue())
			Expect(result.PaymentID).To(Equal(stuck.ID))

			stored, _ := payments.GetByID(ctx, stuck.ID)
			Expect(stored.Status).To(Equal(pm.StatusCompleted))
			Expect(stored.GatewayTransactionID).To(Equal("pi_123"))
			Expect(stored.ErrorMessage).To(BeNil())
			Expect(orders.status("order-1")).To(Equal(order.StatusPaid))

			_, err = service.ProcessOrderPayment(ctx, "order-1", "")
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeOrderPaid))
		})

		It("settles a partial capture from the webhook that names the provider order", func() {
			backup.process = func(req *types.PaymentRequest) (*types.GatewayResponse, error) {
				return nil, internal.NewPartialCaptureError("capture failed", "PAYPAL-ORDER-9", nil)
			}
			_, err := service.ProcessOrderPayment(ctx, "order-1", "paypal")
			Expect(internal.IsPartialCapture(err)).To(BeTrue())

			stuck := payments.byGateway("order-1", "paypal")
			Expect(stuck.Status).To(Equal(pm.StatusProcessing))
			Expect(stuck.ProviderReference).To(Equal("PAYPAL-ORDER-9"))

			backup.webhook = func(payload *types.WebhookPayload) (*types.GatewayResponse, error) {
				return &types.GatewayResponse{
					Success:           true,
					TransactionID:     "CAPTURE-1",
					ProviderReference: "PAYPAL-ORDER-9",
					Status:            types.StatusCompleted,
				}, nil
			}

			result, err := service.HandleWebhook(ctx, "paypal", &types.WebhookPayload{Body: []byte(`{}`)})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Matched).To(BeTrue())
			Expect(result.Applied).To(BeTrue())

			stored, _ := payments.GetByID(ctx, stuck.ID)
			Expect(stored.Status).To(Equal(pm.StatusCompleted))
			Expect(stored.GatewayTransactionID).To(Equal("CAPTURE-1"))
			Expect(orders.status("order-1")).To(Equal(order.StatusPaid))

			_, err = service.RefundPaymentByID(ctx, stuck.ID, decimal.Zero, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(backup.lastRefund.TransactionID).To(Equal("CAPTURE-1"))
		})

		It("ignores an echoed payment id from another gateway", func() {
			primary.process = func(req *types.PaymentRequest) (*types.GatewayResponse, error) {
				return nil, internal.NewTimeoutError("stripe request timed out", context.DeadlineExceeded)
			}
			_, err := service.ProcessOrderPayment(ctx, "order-1", "")
			Expect(internal.IsTimeout(err)).To(BeTrue())
			stuck := payments.byGateway("order-1", "stripe")

			backup.webhook = func(payload *types.WebhookPayload) (*types.GatewayResponse, error) {
				return &types.GatewayResponse{
					Success:       true,
					TransactionID: "CAPTURE-1",
					PaymentID:     stuck.ID,
					Status:        types.StatusCompleted,
				}, nil
			}

			result, err := service.HandleWebhook(ctx, "paypal", &types.WebhookPayload{Body: []byte(`{}`)})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Matched).To(BeFalse())

			stored, _ := payments.GetByID(ctx, stuck.ID)
			Expect(stored.Status).To(Equal(pm.StatusProcessing))
			Expect(stored.GatewayTransactionID).To(BeEmpty())
		})
	})

	Describe("queries", func() {
		It("lists the attempts for an order newest first", func() {
			primary.process = decline
			_, err := service.ProcessPayment(ctx, request())
			Expect(err).NotTo(HaveOccurred())

			list, err := service.GetPaymentsByOrder(ctx, "order-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].GatewayName).To(Equal("paypal"))
			Expect(list[1].GatewayName).To(Equal("stripe"))
		})

		It("requires ids", func() {
			_, err := service.GetPaymentStatus(ctx, " ")
			Expect(internal.IsValidation(err)).To(BeTrue())
			_, err = service.GetPaymentsByOrder(ctx, "")
			Expect(internal.IsValidation(err)).To(BeTrue())
		})

		It("returns not found for an unknown payment", func() {
			_, err := service.GetPaymentStatus(ctx, "missing")
			Expect(internal.IsNotFound(err)).To(BeTrue())
		})
	})
})
