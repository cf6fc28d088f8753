package events_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-gateway/internal/core/events"
)

var _ = Describe("EventBus", func() {
	var bus *events.EventBus

	BeforeEach(func() {
		bus = events.NewEventBus(nil)
	})

	It("delivers events to handlers of their type and to wildcard handlers", func() {
		var typed, all int32
		bus.Subscribe(events.EventTypePaymentCompleted, func(ctx context.Context, e events.Event) error {
			atomic.AddInt32(&typed, 1)
			return nil
		})
		bus.SubscribeAll(func(ctx context.Context, e events.Event) error {
			atomic.AddInt32(&all, 1)
			return nil
		})

		Expect(bus.Publish(context.Background(), events.NewPaymentCompletedEvent("p", "o", "1", "USD", "stripe", "tx"))).To(Succeed())
		Expect(bus.Publish(context.Background(), events.NewPaymentFailedEvent("p", "o", "stripe", "declined"))).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(bus.Wait(ctx)).To(Succeed())

		Expect(atomic.LoadInt32(&typed)).To(Equal(int32(1)))
		Expect(atomic.LoadInt32(&all)).To(Equal(int32(2)))
	})

	It("keeps running handlers after the publisher's context is cancelled", func() {
		done := make(chan error, 1)
		bus.Subscribe(events.EventTypePaymentFailed, func(ctx context.Context, e events.Event) error {
			time.Sleep(10 * time.Millisecond)
			done <- ctx.Err()
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		Expect(bus.Publish(ctx, events.NewPaymentFailedEvent("p", "o", "stripe", "declined"))).To(Succeed())
		cancel()

		Eventually(done).Should(Receive(BeNil()))
	})

	It("stops PublishSync at the first failing handler", func() {
		bus.Subscribe(events.EventTypePaymentRefunded, func(ctx context.Context, e events.Event) error {
			return errors.New("ledger offline")
		})

		err := bus.PublishSync(context.Background(), events.NewPaymentRefundedEvent("p", "o", "stripe", "1", ""))
		Expect(err).To(MatchError(ContainSubstring("ledger offline")))
	})
})
