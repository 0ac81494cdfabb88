package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// PoolStats tracks connection pool statistics, exported as Prometheus
// collectors by NewPool so the values are visible both in-process (via
// Stats()) and to a scraper.
type PoolStats struct {
	ActiveConnections atomic.Int32
	IdleConnections   atomic.Int32
	TotalConnections  atomic.Int32
	WaitCount         atomic.Int64
	WaitDuration      atomic.Int64 // nanoseconds
	Hits              atomic.Int64
	Misses            atomic.Int64
	Timeouts          atomic.Int64
	Errors            atomic.Int64
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	MinIdle int
	MaxOpen int

	// IdleTimeout is the connection TTL: on release, and during the periodic
	// cleanup pass, any connection older than IdleTimeout is closed instead
	// of being kept idle.
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration

	CircuitBreakerFailureThreshold uint32
	CircuitBreakerRecoveryTimeout  time.Duration
	CircuitBreakerSuccessThreshold uint32

	// Registerer receives the pool's Prometheus collectors. Nil disables
	// metrics registration (tests typically pass prometheus.NewRegistry()).
	Registerer prometheus.Registerer
}

// Pool manages a set of Transport connections behind a circuit breaker,
// built on a channel-backed idle queue with a cleanup/health-check worker
// pair, generalized from raw net.Conn-backed connections to pooled HTTP
// transports.
type Pool struct {
	conns   chan Transport
	factory Factory

	minIdle             int
	maxOpen             int
	idleTimeout         time.Duration
	healthCheckInterval time.Duration

	stats PoolStats
	cb    *gobreaker.CircuitBreaker[struct{}]

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	activeGauge prometheus.Gauge
	idleGauge   prometheus.Gauge
	totalGauge  prometheus.Gauge
	hitsCounter prometheus.Counter
	missCounter prometheus.Counter
	cbStateGauge prometheus.Gauge
}

// NewPool builds a Pool. factory must construct and return a freshly
// connected Transport.
func NewPool(factory Factory, opts PoolOptions) *Pool {
	if opts.MinIdle < 0 {
		opts.MinIdle = 0
	}
	if opts.MaxOpen < 1 {
		opts.MaxOpen = 1
	}
	if opts.MinIdle > opts.MaxOpen {
		opts.MinIdle = opts.MaxOpen
	}
	if opts.CircuitBreakerFailureThreshold == 0 {
		opts.CircuitBreakerFailureThreshold = 5
	}
	if opts.CircuitBreakerRecoveryTimeout <= 0 {
		opts.CircuitBreakerRecoveryTimeout = 30 * time.Second
	}
	if opts.CircuitBreakerSuccessThreshold == 0 {
		opts.CircuitBreakerSuccessThreshold = 2
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = 30 * time.Second
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}

	p := &Pool{
		conns:               make(chan Transport, opts.MaxOpen),
		factory:             factory,
		minIdle:             opts.MinIdle,
		maxOpen:             opts.MaxOpen,
		idleTimeout:         opts.IdleTimeout,
		healthCheckInterval: opts.HealthCheckInterval,
		stopCh:              make(chan struct{}),
	}

	p.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "zenoo-transport-pool",
		MaxRequests: opts.CircuitBreakerSuccessThreshold,
		Interval:    0,
		Timeout:     opts.CircuitBreakerRecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.CircuitBreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.cbStateGauge.Set(float64(to))
		},
	})

	p.registerMetrics(opts.Registerer)

	return p
}

func (p *Pool) registerMetrics(reg prometheus.Registerer) {
	p.activeGauge = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "zenoo", Subsystem: "pool", Name: "active_connections"})
	p.idleGauge = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "zenoo", Subsystem: "pool", Name: "idle_connections"})
	p.totalGauge = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "zenoo", Subsystem: "pool", Name: "total_connections"})
	p.hitsCounter = prometheus.NewCounter(prometheus.CounterOpts{Namespace: "zenoo", Subsystem: "pool", Name: "hits_total"})
	p.missCounter = prometheus.NewCounter(prometheus.CounterOpts{Namespace: "zenoo", Subsystem: "pool", Name: "misses_total"})
	p.cbStateGauge = prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "zenoo", Subsystem: "pool", Name: "circuit_breaker_state"})

	if reg != nil {
		reg.MustRegister(p.activeGauge, p.idleGauge, p.totalGauge, p.hitsCounter, p.missCounter, p.cbStateGauge)
	}
}

// Initialize creates minIdle connections and starts the background workers.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("transport: pool is closed")
	}

	for i := 0; i < p.minIdle; i++ {
		conn, err := p.factory(ctx)
		if err != nil {
			p.closeAllLocked()
			return fmt.Errorf("transport: failed to create initial connection: %w", err)
		}
		p.conns <- conn
		p.stats.TotalConnections.Add(1)
		p.stats.IdleConnections.Add(1)
	}

	p.activeGauge.Set(0)
	p.idleGauge.Set(float64(p.minIdle))
	p.totalGauge.Set(float64(p.minIdle))

	p.wg.Add(2)
	go p.cleanupWorker()
	go p.healthCheckWorker()

	return nil
}

// Acquire gates connection acquisition behind the circuit breaker and
// returns a Transport the caller must Release when done.
func (p *Pool) Acquire(ctx context.Context) (Transport, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("transport: pool is closed")
	}
	p.mu.RUnlock()

	var conn Transport
	_, err := p.cb.Execute(func() (struct{}, error) {
		c, err := p.acquireConn(ctx)
		if err != nil {
			return struct{}{}, err
		}
		conn = c
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (p *Pool) acquireConn(ctx context.Context) (Transport, error) {
	start := time.Now()
	p.stats.WaitCount.Add(1)

	select {
	case conn := <-p.conns:
		p.onHit(start)
		if !conn.IsHealthy() {
			p.stats.TotalConnections.Add(-1)
			p.totalGauge.Set(float64(p.stats.TotalConnections.Load()))
			conn.Close()
			return p.acquireConn(ctx)
		}
		return conn, nil

	case <-ctx.Done():
		p.stats.Timeouts.Add(1)
		return nil, ctx.Err()

	default:
		if int(p.stats.TotalConnections.Load()) < p.maxOpen {
			conn, err := p.factory(ctx)
			if err != nil {
				p.stats.Errors.Add(1)
				return nil, fmt.Errorf("transport: failed to create new connection: %w", err)
			}
			p.onMiss(start)
			p.stats.TotalConnections.Add(1)
			p.totalGauge.Set(float64(p.stats.TotalConnections.Load()))
			p.stats.ActiveConnections.Add(1)
			p.activeGauge.Set(float64(p.stats.ActiveConnections.Load()))
			return conn, nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		select {
		case conn := <-p.conns:
			p.onHit(start)
			if !conn.IsHealthy() {
				p.stats.TotalConnections.Add(-1)
				p.totalGauge.Set(float64(p.stats.TotalConnections.Load()))
				conn.Close()
				return p.acquireConn(ctx)
			}
			return conn, nil
		case <-waitCtx.Done():
			p.stats.Timeouts.Add(1)
			return nil, fmt.Errorf("transport: pool exhausted")
		}
	}
}

func (p *Pool) onHit(start time.Time) {
	p.stats.WaitDuration.Add(int64(time.Since(start)))
	p.stats.Hits.Add(1)
	p.hitsCounter.Inc()
	p.stats.IdleConnections.Add(-1)
	p.stats.ActiveConnections.Add(1)
	p.idleGauge.Set(float64(p.stats.IdleConnections.Load()))
	p.activeGauge.Set(float64(p.stats.ActiveConnections.Load()))
}

func (p *Pool) onMiss(start time.Time) {
	p.stats.WaitDuration.Add(int64(time.Since(start)))
	p.stats.Misses.Add(1)
	p.missCounter.Inc()
}

// Release returns conn to the pool, or closes it if unhealthy, past its
// TTL, or the pool is already at capacity. A connection closed for age is
// opportunistically replaced so minIdle stays met.
func (p *Pool) Release(conn Transport) {
	if conn == nil {
		return
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	p.stats.ActiveConnections.Add(-1)
	p.activeGauge.Set(float64(p.stats.ActiveConnections.Load()))

	expired := p.idleTimeout > 0 && time.Since(conn.CreatedAt()) > p.idleTimeout

	if closed || expired || !conn.IsHealthy() {
		p.stats.TotalConnections.Add(-1)
		p.totalGauge.Set(float64(p.stats.TotalConnections.Load()))
		conn.Close()
		if expired && !closed {
			go p.refill()
		}
		return
	}

	select {
	case p.conns <- conn:
		p.stats.IdleConnections.Add(1)
		p.idleGauge.Set(float64(p.stats.IdleConnections.Load()))
	default:
		p.stats.TotalConnections.Add(-1)
		p.totalGauge.Set(float64(p.stats.TotalConnections.Load()))
		conn.Close()
	}
}

// Stats returns a point-in-time snapshot of pool statistics.
func (p *Pool) Stats() PoolStats {
	var s PoolStats
	s.ActiveConnections.Store(p.stats.ActiveConnections.Load())
	s.IdleConnections.Store(p.stats.IdleConnections.Load())
	s.TotalConnections.Store(p.stats.TotalConnections.Load())
	s.WaitCount.Store(p.stats.WaitCount.Load())
	s.WaitDuration.Store(p.stats.WaitDuration.Load())
	s.Hits.Store(p.stats.Hits.Load())
	s.Misses.Store(p.stats.Misses.Load())
	s.Timeouts.Store(p.stats.Timeouts.Load())
	s.Errors.Store(p.stats.Errors.Load())
	return s
}

// Close drains and closes every connection, stopping background workers
// first. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	p.mu.Lock()
	p.closeAllLocked()
	p.mu.Unlock()

	return nil
}

func (p *Pool) closeAllLocked() {
	for {
		select {
		case conn := <-p.conns:
			conn.Close()
		default:
			return
		}
	}
}

func (p *Pool) cleanupWorker() {
	defer p.wg.Done()

	interval := p.idleTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cleanupIdle()
		}
	}
}

// cleanupIdle closes idle connections older than IdleTimeout (the
// connection TTL), closing no more than half the idle pool in one pass so a
// burst of expirations can't empty it outright.
func (p *Pool) cleanupIdle() {
	idle := int(p.stats.IdleConnections.Load())
	maxToClose := idle / 2

	closed := 0
	for i := 0; i < idle; i++ {
		select {
		case conn := <-p.conns:
			if closed < maxToClose && p.idleTimeout > 0 && time.Since(conn.CreatedAt()) > p.idleTimeout {
				conn.Close()
				p.stats.IdleConnections.Add(-1)
				p.stats.TotalConnections.Add(-1)
				closed++
				continue
			}
			p.conns <- conn
		default:
			p.idleGauge.Set(float64(p.stats.IdleConnections.Load()))
			p.totalGauge.Set(float64(p.stats.TotalConnections.Load()))
			if closed > 0 {
				p.refill()
			}
			return
		}
	}
	p.idleGauge.Set(float64(p.stats.IdleConnections.Load()))
	p.totalGauge.Set(float64(p.stats.TotalConnections.Load()))

	if closed > 0 {
		p.refill()
	}
}

func (p *Pool) refill() {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return
	}

	for int(p.stats.TotalConnections.Load()) < p.minIdle {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, err := p.factory(ctx)
		cancel()
		if err != nil {
			return
		}
		select {
		case p.conns <- conn:
			p.stats.TotalConnections.Add(1)
			p.stats.IdleConnections.Add(1)
			p.idleGauge.Set(float64(p.stats.IdleConnections.Load()))
			p.totalGauge.Set(float64(p.stats.TotalConnections.Load()))
		default:
			conn.Close()
			return
		}
	}
}

func (p *Pool) healthCheckWorker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.healthCheckIdle()
		}
	}
}

func (p *Pool) healthCheckIdle() {
	idleCount := int(p.stats.IdleConnections.Load())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < idleCount; i++ {
		select {
		case conn := <-p.conns:
			alive := conn.IsHealthy()
			if checker, ok := conn.(HealthChecker); ok {
				alive = checker.CheckHealth(ctx)
			}
			if !alive {
				p.stats.IdleConnections.Add(-1)
				p.stats.TotalConnections.Add(-1)
				conn.Close()
			} else {
				p.conns <- conn
			}
		default:
			p.idleGauge.Set(float64(p.stats.IdleConnections.Load()))
			p.totalGauge.Set(float64(p.stats.TotalConnections.Load()))
			return
		}
	}
	p.idleGauge.Set(float64(p.stats.IdleConnections.Load()))
	p.totalGauge.Set(float64(p.stats.TotalConnections.Load()))
}
