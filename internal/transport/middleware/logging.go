package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/payment-gateway/pkg/logger"
)

// maskedKeys are matched against lower-cased header names and JSON keys.
var maskedKeys = []string{
	"authorization",
	"api_key",
	"api-key",
	"secret",
	"token",
	"password",
	"signature",
	"transmission-sig",
	"card",
	"cvc",
	"cvv",
	"credential",
}

const (
	masked = "[MASKED]"

	// maxLoggedBody caps how much of a request or response body reaches the log.
	maxLoggedBody = 4 << 10

	// webhookPathMarker identifies provider callbacks. Their bodies are signed
	// provider payloads and are logged by size only.
	webhookPathMarker = "/webhooks/"
)

// LoggingMiddleware logs each request and its response with payment secrets and
// customer emails masked. The request-scoped logger is used when one is present.
func LoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lg := logger.FromOr(r.Context(), base).With("request_id", middleware.GetReqID(r.Context()))

			if strings.Contains(r.URL.Path, webhookPathMarker) {
				lg.Info("incoming webhook", slog.Group("request",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"content_length", r.ContentLength,
				))
			} else {
				lg.Info("incoming request", slog.Group("request", requestAttrs(r)...))
			}

			rec := &bodyRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			lg.Log(r.Context(), level, "response", slog.Group("response",
				"method", r.Method,
				"path", r.URL.Path,
				"status_code", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"size", rec.size,
				"body", maskBody(rec.body.Bytes(), rec.size),
			))
		})
	}
}

func requestAttrs(r *http.Request) []any {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	return []any{
		"method", r.Method,
		"path", r.URL.Path,
		"query", r.URL.RawQuery,
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"headers", maskHeaders(r.Header),
		"body", maskBody(body, len(body)),
	}
}

// bodyRecorder keeps the status and the first maxLoggedBody bytes of the response.
type bodyRecorder struct {
	http.ResponseWriter
	status int
	size   int
	body   bytes.Buffer
}

func (rec *bodyRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *bodyRecorder) Write(b []byte) (int, error) {
	if room := maxLoggedBody - rec.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		rec.body.Write(b[:room])
	}
	rec.size += len(b)
	return rec.ResponseWriter.Write(b)
}

func isMaskedKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range maskedKeys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

func maskHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if isMaskedKey(name) {
			out[name] = masked
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// maskBody renders a JSON body with sensitive values masked. Other content, and
// bodies cut at maxLoggedBody, are described by size only.
func maskBody(body []byte, size int) string {
	if size == 0 {
		return ""
	}
	if size > len(body) || len(body) > maxLoggedBody {
		return fmt.Sprintf("[%d bytes]", size)
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Sprintf("[%d bytes, not JSON]", size)
	}
	out, err := json.Marshal(maskValue("", data))
	if err != nil {
		return fmt.Sprintf("[%d bytes]", size)
	}
	return string(out)
}

func maskValue(key string, v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if isMaskedKey(k) {
				out[k] = masked
				continue
			}
			out[k] = maskValue(k, item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = maskValue(key, item)
		}
		return out
	case string:
		if strings.Contains(strings.ToLower(key), "email") {
			return maskEmail(val)
		}
		return val
	default:
		return val
	}
}

// maskEmail keeps the first letter and the domain: buyer@example.com -> b***@example.com.
func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return masked
	}
	return local[:1] + "***@" + domain
}
