package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// HealthMonitor periodically probes the client's connection and triggers
// automatic reconnection after a run of consecutive failures.
type HealthMonitor struct {
	client           *Client
	interval         time.Duration
	failureThreshold int
	failureCount     atomic.Int32
	stopCh           chan struct{}
	wg               sync.WaitGroup
	logger           Logger
}

// NewHealthMonitor creates a health monitor for client, probing every
// interval and reconnecting after threshold consecutive failures.
func NewHealthMonitor(client *Client, interval time.Duration, threshold int) *HealthMonitor {
	return &HealthMonitor{
		client:           client,
		interval:         interval,
		failureThreshold: threshold,
		stopCh:           make(chan struct{}),
		logger:           client.logger.WithFields(String("component", "health_monitor")),
	}
}

// Start begins the health check monitoring in a background goroutine.
func (h *HealthMonitor) Start() {
	h.wg.Add(1)
	go h.monitorLoop()
	h.logger.Info("health monitor started", Duration("interval", h.interval))
}

// Stop stops the health monitor gracefully.
func (h *HealthMonitor) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	h.logger.Info("health monitor stopped")
}

func (h *HealthMonitor) monitorLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return

		case <-ticker.C:
			if h.client.GetState() != CONNECTED {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := h.client.HealthCheck(ctx)
			cancel()

			if err != nil {
				h.logger.Warn("health check failed",
					Error("error", err),
					Int("failureCount", int(h.failureCount.Add(1))))

				if int(h.failureCount.Load()) >= h.failureThreshold {
					h.logger.Error("health check failure threshold exceeded, triggering reconnection")
					go h.client.attemptReconnect(context.Background())
					h.failureCount.Store(0)
				}
			} else if prev := h.failureCount.Swap(0); prev > 0 {
				h.logger.Info("health check recovered", Int("previousFailures", int(prev)))
			}
		}
	}
}

// attemptReconnect probes the server with HealthCheck, with exponential
// backoff between attempts, up to opts.MaxReconnectAttempts; the transport
// pool itself is not rebuilt. It walks the legal
// CONNECTED -> DISCONNECTING -> DISCONNECTED -> CONNECTING chain rather than
// jumping straight to CONNECTING, since the state machine only permits
// re-entering CONNECTING from DISCONNECTED.
func (c *Client) attemptReconnect(ctx context.Context) error {
	c.logger.Warn("attempting automatic reconnection")

	if c.stateMgr.GetState() == CONNECTED {
		c.stateMgr.TransitionTo(DISCONNECTING, nil, map[string]interface{}{"reason": "auto_reconnect"})
		c.stateMgr.TransitionTo(DISCONNECTED, nil, map[string]interface{}{"reason": "auto_reconnect"})
	}
	if err := c.stateMgr.TransitionTo(CONNECTING, nil, map[string]interface{}{"reason": "auto_reconnect"}); err != nil {
		c.logger.Error("cannot begin reconnection from current state", Error("error", err))
		return err
	}

	backoff := 100 * time.Millisecond
	maxBackoff := 60 * time.Second

	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		c.logger.Info("reconnection attempt",
			Int("attempt", attempt),
			Int("maxAttempts", c.opts.MaxReconnectAttempts),
			Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			c.stateMgr.TransitionTo(DISCONNECTED, ctx.Err(), map[string]interface{}{"reason": "context_cancelled"})
			return ctx.Err()
		default:
		}

		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.HealthCheck(probeCtx)
		cancel()
		if err == nil {
			c.logger.Info("reconnection successful")
			c.stateMgr.TransitionTo(CONNECTED, nil, map[string]interface{}{
				"reason": "auto_reconnect", "attempt": attempt,
			})
			return nil
		}

		if attempt < c.opts.MaxReconnectAttempts {
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}

	c.logger.Error("reconnection failed after all attempts", Int("maxAttempts", c.opts.MaxReconnectAttempts))
	c.stateMgr.TransitionTo(DISCONNECTED, errors.New("reconnection failed"), map[string]interface{}{
		"reason": "reconnect_failed", "attempts": c.opts.MaxReconnectAttempts,
	})

	return errors.New("reconnection failed after maximum attempts")
}
