package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

const (
	defaultFailureThreshold  = 5
	defaultOpenTimeout       = 30 * time.Second
	defaultHalfOpenSuccesses = 2
)

type Config struct {
	FailureThreshold  int
	OpenTimeout       time.Duration
	HalfOpenSuccesses int
}

// CircuitBreaker keeps one gobreaker per gateway so failover skips a gateway that
// keeps failing. Outcomes are reported after the call, so each record is a
// single-request round through the two-step breaker.
type CircuitBreaker struct {
	mu       sync.Mutex
	gateways map[string]*gobreaker.TwoStepCircuitBreaker
	cfg      Config
}

func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = defaultHalfOpenSuccesses
	}
	return &CircuitBreaker{
		gateways: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		cfg:      cfg,
	}
}

func (cb *CircuitBreaker) breakerFor(gateway string) *gobreaker.TwoStepCircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	b, ok := cb.gateways[gateway]
	if !ok {
		threshold := uint32(cb.cfg.FailureThreshold)
		b = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:        gateway,
			MaxRequests: uint32(cb.cfg.HalfOpenSuccesses),
			Timeout:     cb.cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		})
		cb.gateways[gateway] = b
	}
	return b
}

// AllowRequest reports whether gateway may be called. An open circuit moves to
// half-open once its timeout has passed.
func (cb *CircuitBreaker) AllowRequest(gateway string) bool {
	return cb.breakerFor(gateway).State() != gobreaker.StateOpen
}

func (cb *CircuitBreaker) RecordFailure(gateway string) {
	cb.record(gateway, false)
}

func (cb *CircuitBreaker) RecordSuccess(gateway string) {
	cb.record(gateway, true)
}

// record drops the outcome when the breaker refuses the round, i.e. the circuit
// opened or the half-open quota filled while the call was in flight.
func (cb *CircuitBreaker) record(gateway string, success bool) {
	done, err := cb.breakerFor(gateway).Allow()
	if err != nil {
		return
	}
	done(success)
}

// State returns the gateway's state and the consecutive failures counted since
// the last state change.
func (cb *CircuitBreaker) State(gateway string) (State, int) {
	cb.mu.Lock()
	b, ok := cb.gateways[gateway]
	cb.mu.Unlock()
	if !ok {
		return StateClosed, 0
	}
	return fromGobreaker(b.State()), int(b.Counts().ConsecutiveFailures)
}

// Snapshot returns the state of every gateway seen so far.
func (cb *CircuitBreaker) Snapshot() map[string]State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	out := make(map[string]State, len(cb.gateways))
	for name, b := range cb.gateways {
		out[name] = fromGobreaker(b.State())
	}
	return out
}
