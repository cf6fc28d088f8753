package middleware_test

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/frahmantamala/payment-gateway/internal/transport/middleware"
	pkglogger "github.com/frahmantamala/payment-gateway/pkg/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
})

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var _ = Describe("RateLimiter", func() {
	It("rejects requests above the burst per client", func() {
		limiter := middleware.NewRateLimiter(0.001, 2, discardLogger())
		h := limiter.Middleware(ok)

		codes := []int{}
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/p", nil)
			req.RemoteAddr = "10.0.0.1:5555"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)
		}
		Expect(codes).To(Equal([]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/p", nil)
		req.RemoteAddr = "10.0.0.2:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("keys authenticated callers by user id", func() {
		limiter := middleware.NewRateLimiter(0.001, 1, discardLogger())
		h := limiter.Middleware(ok)

		send := func(userID, addr string) int {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = addr
			req = req.WithContext(internal.ContextWithUser(req.Context(), &internal.User{ID: userID, Role: "merchant"}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			return rec.Code
		}

		Expect(send("m-1", "10.0.0.1:1")).To(Equal(http.StatusOK))
		Expect(send("m-1", "10.0.0.9:1")).To(Equal(http.StatusTooManyRequests))
		Expect(send("m-2", "10.0.0.1:1")).To(Equal(http.StatusOK))
	})
})

var _ = Describe("CORS", func() {
	It("answers preflight requests for allowed origins", func() {
		h := middleware.CORS("https://shop.example.com")(ok)
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/payments", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://shop.example.com"))
	})

	It("does not set headers for other origins", func() {
		h := middleware.CORS("https://shop.example.com")(ok)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(BeEmpty())
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("turns a panic into a 500 error body", func() {
		h := middleware.RecoveryMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).To(ContainSubstring(`"INTERNAL_ERROR"`))
		Expect(rec.Body.String()).NotTo(ContainSubstring("boom"))
	})
})

var _ = Describe("RequestID", func() {
	It("echoes the caller's trace id", func() {
		h := middleware.RequestID(ok)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.TraceHeader, "trace-123")
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		Expect(rec.Header().Get(middleware.TraceHeader)).To(Equal("trace-123"))
	})

	It("generates one when missing", func() {
		rec := httptest.NewRecorder()
		middleware.RequestID(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Header().Get(middleware.TraceHeader)).NotTo(BeEmpty())
	})
})

var _ = Describe("LoggingMiddleware", func() {
	var (
		buf    *bytes.Buffer
		logger *slog.Logger
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		logger = slog.New(slog.NewJSONHandler(buf, nil))
	})

	It("masks secrets in request bodies and headers", func() {
		h := middleware.LoggingMiddleware(logger)(ok)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(`{"user_id":"u-1","api_key":"very-secret"}`))
		req.Header.Set("Authorization", "Bearer abc.def.ghi")

		h.ServeHTTP(httptest.NewRecorder(), req)

		Expect(buf.String()).To(ContainSubstring("u-1"))
		Expect(buf.String()).NotTo(ContainSubstring("very-secret"))
		Expect(buf.String()).NotTo(ContainSubstring("abc.def.ghi"))
	})

	It("masks customer emails and card data", func() {
		h := middleware.LoggingMiddleware(logger)(ok)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"order_id":"o-1","customer":{"email":"buyer@example.com"},"card_number":"4242424242424242"}`))

		h.ServeHTTP(httptest.NewRecorder(), req)

		Expect(buf.String()).To(ContainSubstring("b***@example.com"))
		Expect(buf.String()).NotTo(ContainSubstring("buyer@example.com"))
		Expect(buf.String()).NotTo(ContainSubstring("4242424242424242"))
	})

	It("logs non-JSON and oversized bodies by size only", func() {
		large := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"pad":"` + strings.Repeat("x", 5000) + `"}`))
		})
		h := middleware.LoggingMiddleware(logger)(large)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader("order=o-1"))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		Expect(rec.Body.Len()).To(BeNumerically(">", 5000))
		Expect(buf.String()).To(ContainSubstring("[9 bytes, not JSON]"))
		Expect(buf.String()).To(ContainSubstring("bytes]"))
		Expect(buf.String()).NotTo(ContainSubstring(strings.Repeat("x", 100)))
	})

	It("logs through the request logger when one is present", func() {
		h := middleware.LoggingMiddleware(discardLogger())(ok)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
		req = req.WithContext(pkglogger.With(pkglogger.NewContext(req.Context(), logger), "trace_id", "t-42"))

		h.ServeHTTP(httptest.NewRecorder(), req)

		Expect(buf.String()).To(ContainSubstring(`"trace_id":"t-42"`))
		Expect(buf.String()).To(ContainSubstring(`"status_code":200`))
	})

	It("does not log webhook bodies", func() {
		h := middleware.LoggingMiddleware(logger)(ok)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhooks/stripe", strings.NewReader(`{"id":"evt_secret_body"}`))

		h.ServeHTTP(httptest.NewRecorder(), req)

		Expect(buf.String()).To(ContainSubstring("incoming webhook"))
		Expect(buf.String()).NotTo(ContainSubstring("evt_secret_body"))
	})
})
