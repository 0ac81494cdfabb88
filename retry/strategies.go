// Package retry implements policy-driven retry with pluggable backoff
// strategies, jitter algorithms, and a decision function that gates retries
// behind circuit-breaker, timeout, idempotency, and classification checks.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// JitterType selects the randomization algorithm applied to a raw delay.
type JitterType string

const (
	JitterNone         JitterType = "none"
	JitterFull         JitterType = "full"         // U(0, d)
	JitterEqual        JitterType = "equal"        // d/2 + U(0, d/2)
	JitterDecorrelated JitterType = "decorrelated" // U(d/3, d)
	JitterLegacy       JitterType = "legacy"       // d ± 25%
)

// applyJitter randomizes d per jitterType. attempt <= 0 is handled by callers.
func applyJitter(d time.Duration, jitterType JitterType) time.Duration {
	if d <= 0 {
		return 0
	}
	switch jitterType {
	case JitterFull:
		return time.Duration(rand.Float64() * float64(d))
	case JitterEqual:
		half := float64(d) / 2
		return time.Duration(half + rand.Float64()*half)
	case JitterDecorrelated:
		lo := float64(d) / 3
		return time.Duration(lo + rand.Float64()*(float64(d)-lo))
	case JitterLegacy:
		delta := float64(d) * 0.25
		return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
	default:
		return d
	}
}

// Strategy computes the delay before a given retry attempt. Attempt numbers
// are 1-based; an attempt <= 0 yields a zero delay.
type Strategy interface {
	// GetDelay returns the non-negative, max_delay-bounded, jittered delay
	// before attempt.
	GetDelay(attempt int) time.Duration

	// NextBackOff satisfies github.com/cenkalti/backoff/v5's BackOff
	// interface so a Strategy can drive an outer retry-loop helper from
	// that library directly, independent of this package's own Policy loop.
	NextBackOff() (time.Duration, error)

	// Reset clears any internal attempt counter used by NextBackOff.
	Reset()
}

// counter is embedded by strategies to support the stateful NextBackOff
// method required by backoff.BackOff, separate from the stateless
// attempt-indexed GetDelay used by Policy.
type counter struct {
	mu      sync.Mutex
	attempt int
}

func (c *counter) next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt++
	return c.attempt
}

func (c *counter) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt = 0
}

// ExponentialBackoff computes base * multiplier^(attempt-1), capped at max.
type ExponentialBackoff struct {
	counter
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     bool
	JitterType JitterType
}

func NewExponentialBackoff(base time.Duration, multiplier float64, max time.Duration, jitter bool, jitterType JitterType) *ExponentialBackoff {
	if multiplier <= 0 {
		multiplier = 2
	}
	if jitterType == "" {
		jitterType = JitterFull
	}
	return &ExponentialBackoff{Base: base, Multiplier: multiplier, Max: max, Jitter: jitter, JitterType: jitterType}
}

func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Duration(float64(s.Base) * math.Pow(s.Multiplier, float64(attempt-1)))
	if s.Max > 0 && d > s.Max {
		d = s.Max
	}
	if s.Jitter {
		d = applyJitter(d, s.JitterType)
	}
	if s.Max > 0 && d > s.Max {
		d = s.Max
	}
	return d
}

func (s *ExponentialBackoff) NextBackOff() (time.Duration, error) { return s.GetDelay(s.next()), nil }
func (s *ExponentialBackoff) Reset()                              { s.reset() }

// LinearBackoff computes base + increment*(attempt-1), capped at max.
type LinearBackoff struct {
	counter
	Base      time.Duration
	Increment time.Duration
	Max       time.Duration
	Jitter    bool
}

func NewLinearBackoff(base, increment, max time.Duration, jitter bool) *LinearBackoff {
	return &LinearBackoff{Base: base, Increment: increment, Max: max, Jitter: jitter}
}

func (s *LinearBackoff) GetDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := s.Base + s.Increment*time.Duration(attempt-1)
	if s.Max > 0 && d > s.Max {
		d = s.Max
	}
	if s.Jitter {
		d = applyJitter(d, JitterEqual)
	}
	if s.Max > 0 && d > s.Max {
		d = s.Max
	}
	return d
}

func (s *LinearBackoff) NextBackOff() (time.Duration, error) { return s.GetDelay(s.next()), nil }
func (s *LinearBackoff) Reset()                              { s.reset() }

// FixedDelay returns the same delay for every attempt, optionally jittered.
type FixedDelay struct {
	counter
	Delay  time.Duration
	Jitter bool
}

func NewFixedDelay(delay time.Duration, jitter bool) *FixedDelay {
	return &FixedDelay{Delay: delay, Jitter: jitter}
}

func (s *FixedDelay) GetDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := s.Delay
	if s.Jitter {
		d = applyJitter(d, JitterEqual)
	}
	return d
}

func (s *FixedDelay) NextBackOff() (time.Duration, error) { return s.GetDelay(s.next()), nil }
func (s *FixedDelay) Reset()                              { s.reset() }

// Fibonacci computes delays following base * fib(attempt), capped at max.
type Fibonacci struct {
	counter
	Base   time.Duration
	Max    time.Duration
	Jitter bool
}

func NewFibonacci(base, max time.Duration, jitter bool) *Fibonacci {
	return &Fibonacci{Base: base, Max: max, Jitter: jitter}
}

func fib(n int) int64 {
	if n <= 1 {
		return int64(n)
	}
	var a, b int64 = 0, 1
	for i := 2; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

func (s *Fibonacci) GetDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Duration(fib(attempt)) * s.Base
	if s.Max > 0 && d > s.Max {
		d = s.Max
	}
	if s.Jitter {
		d = applyJitter(d, JitterFull)
	}
	if s.Max > 0 && d > s.Max {
		d = s.Max
	}
	return d
}

func (s *Fibonacci) NextBackOff() (time.Duration, error) { return s.GetDelay(s.next()), nil }
func (s *Fibonacci) Reset()                              { s.reset() }

// DecorrelatedJitter implements the AWS "decorrelated jitter" backoff:
// each delay is U(base, prevDelay*3), capped.
type DecorrelatedJitter struct {
	mu        sync.Mutex
	Base      time.Duration
	Max       time.Duration
	Cap       time.Duration
	prevDelay time.Duration
	attempt   int
}

func NewDecorrelatedJitter(base, max, cap_ time.Duration) *DecorrelatedJitter {
	return &DecorrelatedJitter{Base: base, Max: max, Cap: cap_}
}

func (s *DecorrelatedJitter) GetDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.Max
	if s.Cap > 0 && (limit <= 0 || s.Cap < limit) {
		limit = s.Cap
	}

	// The first call has no prior delay to decorrelate from, so it returns
	// Base deterministically rather than a random value up to 3*Base.
	if s.prevDelay <= 0 {
		d := s.Base
		if limit > 0 && d > limit {
			d = limit
		}
		s.prevDelay = d
		return d
	}

	upper := s.prevDelay * 3
	if upper < s.Base {
		upper = s.Base
	}
	d := s.Base + time.Duration(rand.Float64()*float64(upper-s.Base))

	if limit > 0 && d > limit {
		d = limit
	}
	s.prevDelay = d
	return d
}

func (s *DecorrelatedJitter) NextBackOff() (time.Duration, error) {
	s.mu.Lock()
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()
	return s.GetDelay(attempt), nil
}

func (s *DecorrelatedJitter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = 0
	s.prevDelay = 0
}

// AdaptiveStrategy adjusts its growth rate based on a thread-safe sliding
// window of recent outcomes: while samples < MinSamples it behaves like
// plain exponential (2^(n-1)); below SuccessThreshold it grows
// aggressively (3^(n-1)); above 0.95 success it grows gently
// (1 + 0.5*(n-1)); otherwise it uses 1.5^(n-1).
type AdaptiveStrategy struct {
	counter

	Base             time.Duration
	Max              time.Duration
	SuccessThreshold float64
	AdaptationWindow int
	MinSamples       int

	windowMu sync.Mutex
	window   []bool
}

func NewAdaptiveStrategy(base, max time.Duration, successThreshold float64, adaptationWindow, minSamples int) *AdaptiveStrategy {
	if adaptationWindow <= 0 {
		adaptationWindow = 20
	}
	if minSamples <= 0 {
		minSamples = 5
	}
	if successThreshold <= 0 {
		successThreshold = 0.5
	}
	return &AdaptiveStrategy{
		Base:             base,
		Max:              max,
		SuccessThreshold: successThreshold,
		AdaptationWindow: adaptationWindow,
		MinSamples:       minSamples,
	}
}

// RecordOutcome feeds a call result into the sliding window.
func (s *AdaptiveStrategy) RecordOutcome(success bool) {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()

	s.window = append(s.window, success)
	if len(s.window) > s.AdaptationWindow {
		s.window = s.window[len(s.window)-s.AdaptationWindow:]
	}
}

func (s *AdaptiveStrategy) successRate() (float64, int) {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()

	if len(s.window) == 0 {
		return 1, 0
	}
	successes := 0
	for _, ok := range s.window {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(s.window)), len(s.window)
}

func (s *AdaptiveStrategy) GetDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	rate, samples := s.successRate()
	n := float64(attempt - 1)

	var growth float64
	switch {
	case samples < s.MinSamples:
		growth = math.Pow(2, n)
	case rate < s.SuccessThreshold:
		growth = math.Pow(3, n)
	case rate > 0.95:
		growth = 1 + 0.5*n
	default:
		growth = math.Pow(1.5, n)
	}

	d := time.Duration(float64(s.Base) * growth)
	if s.Max > 0 && d > s.Max {
		d = s.Max
	}
	return d
}

func (s *AdaptiveStrategy) NextBackOff() (time.Duration, error) { return s.GetDelay(s.next()), nil }
func (s *AdaptiveStrategy) Reset()                              { s.reset() }
