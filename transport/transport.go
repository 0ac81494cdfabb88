// Package transport implements the pooled HTTP transport that carries
// JSON-RPC calls between the client facade and the server.
package transport

import (
	"context"
	"time"
)

// Transport issues request/response round trips against a server. HTTP has
// no independent send and receive phases the way a raw socket does, so the
// interface models one call instead of a Send/Receive pair.
type Transport interface {
	// RoundTrip sends payload and returns the raw response body.
	RoundTrip(ctx context.Context, payload []byte) ([]byte, error)

	// Close closes the transport.
	Close() error

	// IsHealthy returns whether the transport is healthy.
	IsHealthy() bool

	// CreatedAt returns when this transport was constructed, so a pool can
	// expire connections older than its configured TTL.
	CreatedAt() time.Time

	// GetMetrics returns transport performance metrics.
	GetMetrics() TransportMetrics
}

// TransportMetrics contains performance and health metrics
type TransportMetrics struct {
	// TotalRequests is the total number of requests sent
	TotalRequests int64

	// TotalErrors is the total number of errors encountered
	TotalErrors int64

	// AverageLatency is the average round-trip latency
	AverageLatency time.Duration

	// LastError is the most recent error encountered
	LastError error

	// LastErrorTime is when the last error occurred
	LastErrorTime time.Time

	// BytesSent is the total bytes sent
	BytesSent int64

	// BytesReceived is the total bytes received
	BytesReceived int64

	// ConnectionsCreated is the total number of connections created
	ConnectionsCreated int64

	// ConnectionsActive is the current number of active connections
	ConnectionsActive int

	// HealthChecksPassed is the number of successful health checks
	HealthChecksPassed int64

	// HealthChecksFailed is the number of failed health checks
	HealthChecksFailed int64
}

// Factory creates new transport instances
type Factory func(ctx context.Context) (Transport, error)
