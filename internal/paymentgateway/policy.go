package paymentgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/payment-gateway/internal"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 10 * time.Second
)

// Policy drives provider calls for one gateway: a timeout per call and bounded
// exponential backoff between attempts.
type Policy struct {
	gateway   string
	attempts  int
	timeout   time.Duration
	baseDelay time.Duration
	maxDelay  time.Duration
	limiter   *rate.Limiter
	logger    *slog.Logger
}

type PolicyOption func(*Policy)

// WithDelays overrides the backoff base and cap. Tests use it to avoid real sleeps.
func WithDelays(base, max time.Duration) PolicyOption {
	return func(p *Policy) {
		p.baseDelay = base
		p.maxDelay = max
	}
}

func WithPolicyLogger(logger *slog.Logger) PolicyOption {
	return func(p *Policy) {
		p.logger = logger
	}
}

func NewPolicy(cfg GatewayConfig, opts ...PolicyOption) *Policy {
	cfg = normalizeConfig(cfg)
	p := &Policy{
		gateway:   cfg.Name,
		attempts:  cfg.RetryAttempts,
		timeout:   cfg.Timeout,
		baseDelay: DefaultBaseDelay,
		maxDelay:  DefaultMaxDelay,
		logger:    slog.Default(),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Policy) Attempts() int {
	return p.attempts
}

func (p *Policy) Timeout() time.Duration {
	return p.timeout
}

func (p *Policy) backoff(attempts int) retry.Backoff {
	if attempts < 1 {
		attempts = 1
	}
	b := retry.NewExponential(p.baseDelay)
	b = retry.WithCappedDuration(p.maxDelay, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Delays lists the waits between consecutive attempts of one Retry call.
func (p *Policy) Delays() []time.Duration {
	b := p.backoff(p.attempts)
	var delays []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			return delays
		}
		delays = append(delays, d)
	}
}

// Retry runs op up to the configured number of attempts.
func (p *Policy) Retry(ctx context.Context, op func(context.Context) error) error {
	return p.RetryN(ctx, p.attempts, op)
}

// RetryN runs op up to n times, sleeping between attempts. Only errors flagged as
// retryable are repeated; any other error is returned straight away. After the last
// attempt the last error is returned.
func (p *Policy) RetryN(ctx context.Context, n int, op func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, p.backoff(n), func(ctx context.Context) error {
		attempt++
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if attempt > 1 {
			p.logger.Debug("retrying gateway call", "gateway", p.gateway, "attempt", attempt)
		}

		err := op(ctx)
		if err != nil && internal.IsRetryable(err) {
			p.logger.Warn("gateway call failed", "gateway", p.gateway, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// WithTimeout races op against the configured timeout. When the timer wins the
// call is abandoned and a timeout error is returned; the provider may still apply it.
func (p *Policy) WithTimeout(ctx context.Context, op func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(tctx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return p.timeoutError(err)
		}
		return err
	case <-tctx.Done():
		select {
		case err := <-done:
			if err == nil {
				return nil
			}
		default:
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return p.timeoutError(tctx.Err())
	}
}

// Execute applies the timeout to every attempt and retries retryable failures.
func (p *Policy) Execute(ctx context.Context, op func(context.Context) error) error {
	return p.Retry(ctx, func(ctx context.Context) error {
		return p.WithTimeout(ctx, op)
	})
}

func (p *Policy) timeoutError(cause error) error {
	return internal.NewTimeoutError(
		fmt.Sprintf("%s did not answer within %s", p.gateway, p.timeout),
		cause,
	)
}
