package retry

import (
	"testing"
	"time"
)

func TestExponentialBackoffGrowth(t *testing.T) {
	s := NewExponentialBackoff(100*time.Millisecond, 2, time.Second, false, JitterNone)

	if d := s.GetDelay(0); d != 0 {
		t.Errorf("attempt<=0 should yield 0, got %v", d)
	}
	if d := s.GetDelay(1); d != 100*time.Millisecond {
		t.Errorf("attempt 1 = %v, want 100ms", d)
	}
	if d := s.GetDelay(2); d != 200*time.Millisecond {
		t.Errorf("attempt 2 = %v, want 200ms", d)
	}
	if d := s.GetDelay(10); d != time.Second {
		t.Errorf("attempt 10 should be capped at 1s, got %v", d)
	}
}

func TestLinearBackoff(t *testing.T) {
	s := NewLinearBackoff(100*time.Millisecond, 50*time.Millisecond, time.Second, false)

	if d := s.GetDelay(1); d != 100*time.Millisecond {
		t.Errorf("attempt 1 = %v, want 100ms", d)
	}
	if d := s.GetDelay(3); d != 200*time.Millisecond {
		t.Errorf("attempt 3 = %v, want 200ms", d)
	}
}

func TestFixedDelay(t *testing.T) {
	s := NewFixedDelay(250*time.Millisecond, false)
	if d := s.GetDelay(1); d != 250*time.Millisecond {
		t.Errorf("expected fixed 250ms, got %v", d)
	}
	if d := s.GetDelay(5); d != 250*time.Millisecond {
		t.Errorf("expected fixed 250ms on later attempt, got %v", d)
	}
}

func TestFibonacciBackoff(t *testing.T) {
	s := NewFibonacci(100*time.Millisecond, 10*time.Second, false)

	if d := s.GetDelay(1); d != 100*time.Millisecond {
		t.Errorf("fib(1)=1 => 100ms, got %v", d)
	}
	if d := s.GetDelay(4); d != 300*time.Millisecond {
		t.Errorf("fib(4)=3 => 300ms, got %v", d)
	}
}

func TestDecorrelatedJitterFirstCallIsDeterministic(t *testing.T) {
	s := NewDecorrelatedJitter(time.Second, 0, 20*time.Second)

	if d := s.GetDelay(1); d != time.Second {
		t.Errorf("first call should return Base exactly, got %v", d)
	}
}

func TestDecorrelatedJitterBounded(t *testing.T) {
	s := NewDecorrelatedJitter(50*time.Millisecond, 2*time.Second, time.Second)

	prev := s.GetDelay(1)
	if prev != 50*time.Millisecond {
		t.Errorf("attempt 1 = %v, want Base 50ms", prev)
	}

	for attempt := 2; attempt <= 10; attempt++ {
		d := s.GetDelay(attempt)
		upper := prev * 3
		if upper > time.Second {
			upper = time.Second
		}
		if d < 50*time.Millisecond || d > upper {
			t.Errorf("attempt %d delay %v out of bounds [50ms, %v]", attempt, d, upper)
		}
		prev = d
	}
}

func TestAdaptiveStrategyLowSamplesIsExponential(t *testing.T) {
	s := NewAdaptiveStrategy(100*time.Millisecond, 10*time.Second, 0.5, 20, 5)

	d1 := s.GetDelay(1)
	d2 := s.GetDelay(2)
	if d1 != 100*time.Millisecond {
		t.Errorf("attempt1 = %v, want 100ms", d1)
	}
	if d2 != 200*time.Millisecond {
		t.Errorf("attempt2 = %v, want 200ms (2^(n-1) under low samples)", d2)
	}
}

func TestAdaptiveStrategyLowSuccessRateGrowsFaster(t *testing.T) {
	s := NewAdaptiveStrategy(100*time.Millisecond, 10*time.Second, 0.5, 20, 1)
	for i := 0; i < 10; i++ {
		s.RecordOutcome(false)
	}

	d := s.GetDelay(2)
	if d != 300*time.Millisecond {
		t.Errorf("low success rate attempt2 = %v, want 300ms (3^(n-1))", d)
	}
}

func TestAdaptiveStrategyHighSuccessRateGrowsSlowly(t *testing.T) {
	s := NewAdaptiveStrategy(100*time.Millisecond, 10*time.Second, 0.5, 20, 1)
	for i := 0; i < 10; i++ {
		s.RecordOutcome(true)
	}

	d := s.GetDelay(3)
	expected := time.Duration(float64(100*time.Millisecond) * 2.0) // 1 + 0.5*(3-1) = 2
	if d != expected {
		t.Errorf("high success rate attempt3 = %v, want %v", d, expected)
	}
}

func TestNextBackOffIncrementsAttempt(t *testing.T) {
	s := NewExponentialBackoff(100*time.Millisecond, 2, time.Second, false, JitterNone)

	d1, err := s.NextBackOff()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, _ := s.NextBackOff()

	if d1 != 100*time.Millisecond || d2 != 200*time.Millisecond {
		t.Errorf("expected successive NextBackOff calls to advance attempt, got %v then %v", d1, d2)
	}

	s.Reset()
	d3, _ := s.NextBackOff()
	if d3 != 100*time.Millisecond {
		t.Errorf("expected Reset to restart attempt count, got %v", d3)
	}
}
