package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Decision is the outcome of make_retry_decision.
type Decision string

const (
	DecisionRetry        Decision = "retry"
	DecisionStop         Decision = "stop"
	DecisionCircuitOpen  Decision = "circuit_open"
	DecisionTimeout      Decision = "timeout"
	DecisionNonRetryable Decision = "non_retryable"
)

// MaxRetriesExceeded is returned when a Policy stops retrying and no
// GracefulDegradation value is available: the attempt budget is used up,
// the error is non-retryable or permanent, or the circuit is open.
type MaxRetriesExceeded struct {
	Attempts  int
	LastError error
}

func (e *MaxRetriesExceeded) Error() string {
	return fmt.Sprintf("retry: max retries exceeded after %d attempts: %v", e.Attempts, e.LastError)
}
func (e *MaxRetriesExceeded) Unwrap() error { return e.LastError }

// RetryTimeout is returned when the overall wall-clock timeout elapses.
type RetryTimeout struct {
	Timeout time.Duration
	Attempt int
}

func (e *RetryTimeout) Error() string {
	return fmt.Sprintf("retry: timeout of %s exceeded at attempt %d", e.Timeout, e.Attempt)
}

// DecisionContext carries everything make_retry_decision needs to judge a
// single failed attempt.
type DecisionContext struct {
	Attempt       int
	Err           error
	ElapsedWall   time.Duration
	ElapsedDelay  time.Duration
	CircuitOpen   func() bool
	Idempotent    func() bool
	OperationName string
}

// Policy composes a Strategy with classification rules and lifecycle hooks.
type Policy struct {
	Name     string
	Strategy Strategy

	MaxAttempts int
	Timeout     time.Duration
	MaxTotalDelay time.Duration

	RetryableExceptions    []error
	NonRetryableExceptions []error
	RetryCondition         func(err error) bool

	CircuitBreakerHook func(ctx *DecisionContext) bool
	IdempotencyCheck   func(ctx *DecisionContext) bool

	SuccessCallback       func(attempt int)
	FailureCallback       func(ctx *DecisionContext)
	GracefulDegradation   func(ctx *DecisionContext) (interface{}, bool)
	BackoffMultiplierOnFailure float64
}

// Decide runs the ordered classification cascade: circuit -> wall timeout
// -> total-delay budget -> strategy should-retry -> non-retryable set ->
// retryable set (allow if empty) -> custom condition ->
// idempotency.
func (p *Policy) Decide(dc *DecisionContext) Decision {
	if p.CircuitBreakerHook != nil && !p.CircuitBreakerHook(dc) {
		return DecisionCircuitOpen
	}

	if p.Timeout > 0 && dc.ElapsedWall >= p.Timeout {
		return DecisionTimeout
	}

	if p.MaxTotalDelay > 0 && dc.ElapsedDelay >= p.MaxTotalDelay {
		return DecisionTimeout
	}

	if p.MaxAttempts > 0 && dc.Attempt >= p.MaxAttempts {
		return DecisionStop
	}

	for _, target := range p.NonRetryableExceptions {
		if errorsMatch(dc.Err, target) {
			return DecisionNonRetryable
		}
	}

	if len(p.RetryableExceptions) > 0 {
		matched := false
		for _, target := range p.RetryableExceptions {
			if errorsMatch(dc.Err, target) {
				matched = true
				break
			}
		}
		if !matched {
			return DecisionNonRetryable
		}
	}

	if p.RetryCondition != nil && !p.RetryCondition(dc.Err) {
		return DecisionNonRetryable
	}

	// A missing idempotency check is conservative: no retry.
	if p.IdempotencyCheck != nil && !p.IdempotencyCheck(dc) {
		return DecisionNonRetryable
	}

	return DecisionRetry
}

func errorsMatch(err, target error) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.Is(err, target) || fmt.Sprintf("%T", err) == fmt.Sprintf("%T", target)
}

// Execute drives fn through the retry loop: on success it invokes
// SuccessCallback and returns; on failure it computes a Decision and either
// sleeps and retries, raises, or falls back to GracefulDegradation.
func (p *Policy) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	var totalDelay time.Duration
	var lastErr error

	if p.BackoffMultiplierOnFailure <= 0 {
		p.BackoffMultiplierOnFailure = 1
	}

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if p.SuccessCallback != nil {
				safeCall(func() { p.SuccessCallback(attempt) })
			}
			if adaptive, ok := p.Strategy.(*AdaptiveStrategy); ok {
				adaptive.RecordOutcome(true)
			}
			return result, nil
		}

		lastErr = err
		if adaptive, ok := p.Strategy.(*AdaptiveStrategy); ok {
			adaptive.RecordOutcome(false)
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			lastErr = permanent.Unwrap()
			return p.terminal(ctx, attempt, lastErr)
		}

		dc := &DecisionContext{
			Attempt:       attempt,
			Err:           err,
			ElapsedWall:   time.Since(start),
			ElapsedDelay:  totalDelay,
			CircuitOpen:   nil,
			OperationName: p.Name,
		}

		decision := p.Decide(dc)

		switch decision {
		case DecisionRetry:
			delay := time.Duration(float64(p.Strategy.GetDelay(attempt)) * pow(p.BackoffMultiplierOnFailure, attempt-1))
			totalDelay += delay

			if p.FailureCallback != nil {
				safeCall(func() { p.FailureCallback(dc) })
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			continue

		case DecisionTimeout:
			if p.FailureCallback != nil {
				safeCall(func() { p.FailureCallback(dc) })
			}
			return p.degrade(dc, &RetryTimeout{Timeout: p.Timeout, Attempt: attempt})

		default:
			if p.FailureCallback != nil {
				safeCall(func() { p.FailureCallback(dc) })
			}
			return p.terminal(ctx, attempt, lastErr)
		}
	}
}

func (p *Policy) terminal(ctx context.Context, attempt int, lastErr error) (interface{}, error) {
	dc := &DecisionContext{Attempt: attempt, Err: lastErr, OperationName: p.Name}
	return p.degrade(dc, &MaxRetriesExceeded{Attempts: attempt, LastError: lastErr})
}

func (p *Policy) degrade(dc *DecisionContext, fallbackErr error) (interface{}, error) {
	if p.GracefulDegradation != nil {
		if value, ok := p.GracefulDegradation(dc); ok {
			return value, nil
		}
	}
	return nil, fallbackErr
}

func safeCall(fn func()) {
	defer func() { recover() }()
	fn()
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Default presets covering common retry scenarios.

// DefaultPolicy is a generic, moderate retry policy.
func DefaultPolicy() *Policy {
	return &Policy{
		Name:        "default",
		Strategy:    NewExponentialBackoff(200*time.Millisecond, 2, 10*time.Second, true, JitterFull),
		MaxAttempts: 3,
	}
}

// NetworkPolicy retries errors carrying a recoverable HTTP status (429, 500,
// 502, 503, 504) and errors carrying no status at all; any other status is
// not retried.
func NetworkPolicy() *Policy {
	return &Policy{
		Name:        "network",
		Strategy:    NewExponentialBackoff(250*time.Millisecond, 2, 10*time.Second, true, JitterEqual),
		MaxAttempts: 5,
		RetryCondition: func(err error) bool {
			var statusErr interface{ StatusCode() int }
			if errors.As(err, &statusErr) {
				switch statusErr.StatusCode() {
				case 429, 500, 502, 503, 504:
					return true
				default:
					return false
				}
			}
			return true
		},
	}
}

// DatabasePolicy extends the default policy for driver-level operational errors.
func DatabasePolicy() *Policy {
	return &Policy{
		Name:        "database",
		Strategy:    NewExponentialBackoff(100*time.Millisecond, 2, 5*time.Second, true, JitterFull),
		MaxAttempts: 4,
	}
}

// QuickPolicy makes 2 attempts within a 5s wall-clock budget.
func QuickPolicy() *Policy {
	return &Policy{
		Name:        "quick",
		Strategy:    NewFixedDelay(200*time.Millisecond, false),
		MaxAttempts: 2,
		Timeout:     5 * time.Second,
	}
}

// AggressivePolicy allows up to 10 attempts within a 5 minute budget.
func AggressivePolicy() *Policy {
	return &Policy{
		Name:        "aggressive",
		Strategy:    NewExponentialBackoff(500*time.Millisecond, 2, 30*time.Second, true, JitterDecorrelated),
		MaxAttempts: 10,
		Timeout:     5 * time.Minute,
	}
}

// CircuitBreakerPolicy defers entirely to an injected CircuitBreakerHook.
func CircuitBreakerPolicy(hook func(ctx *DecisionContext) bool) *Policy {
	return &Policy{
		Name:               "circuit-breaker",
		Strategy:           NewExponentialBackoff(200*time.Millisecond, 2, 10*time.Second, true, JitterFull),
		MaxAttempts:        5,
		CircuitBreakerHook: hook,
	}
}

// IdempotentStorePolicy only retries operations the caller confirms are safe
// to repeat.
func IdempotentStorePolicy(check func(ctx *DecisionContext) bool) *Policy {
	return &Policy{
		Name:             "idempotent-store",
		Strategy:         NewExponentialBackoff(200*time.Millisecond, 2, 15*time.Second, true, JitterFull),
		MaxAttempts:      5,
		IdempotencyCheck: check,
	}
}

// GracefulDegradationPolicy falls back to a caller-supplied value instead of
// raising once retries are exhausted.
func GracefulDegradationPolicy(fallback func(ctx *DecisionContext) (interface{}, bool)) *Policy {
	return &Policy{
		Name:                "graceful-degradation",
		Strategy:            NewExponentialBackoff(200*time.Millisecond, 2, 10*time.Second, true, JitterFull),
		MaxAttempts:         3,
		GracefulDegradation: fallback,
	}
}
