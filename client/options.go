package client

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Protocol selects the scheme used to reach the JSON-RPC endpoint.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// ClientOptions configures the zenoo client behavior.
type ClientOptions struct {
	// HostOrURL may be a bare host ("app.example.com") or a full URL
	// ("https://app.example.com:8069"). A full URL overrides Port/Protocol.
	HostOrURL string

	// Port is the server port. Default: 443 for https, 8069 otherwise.
	Port int

	// Protocol selects http or https when HostOrURL is a bare host.
	// Default: "http"
	Protocol Protocol

	// Timeout is the default per-RPC timeout.
	// Default: 30s
	Timeout time.Duration

	// VerifySSL controls TLS certificate verification.
	// Default: true
	VerifySSL bool

	// DebugMode enables the per-call "sending" and "completed" debug log
	// lines. It does not change how errors are built or formatted;
	// FormatError takes its own debugMode argument.
	// Default: false
	DebugMode bool

	// MaxRetries holds a connection retry count. The client fills in its
	// default but does not read it; calls are not retried automatically.
	// Default: 3
	MaxRetries int

	// MaxReconnectAttempts bounds the health monitor's automatic
	// reconnection loop after repeated health check failures.
	// Default: 5
	MaxReconnectAttempts int

	// HealthMonitorInterval is how often the background health monitor
	// probes the connection once the client is CONNECTED.
	// Default: 15s
	HealthMonitorInterval time.Duration

	// HealthFailureThreshold is the number of consecutive health check
	// failures that triggers automatic reconnection.
	// Default: 3
	HealthFailureThreshold int

	// PoolMinSize is the minimum number of idle connections to maintain.
	// Default: 1
	PoolMinSize int

	// PoolMaxSize is the maximum number of open connections.
	// Default: 10
	PoolMaxSize int

	// PoolIdleTimeout is the duration after which idle connections are closed.
	// Corresponds to connection_ttl in the pool algorithm.
	// Default: 30s
	PoolIdleTimeout time.Duration

	// HealthCheckInterval is how often to ping idle connections.
	// Default: 30s
	HealthCheckInterval time.Duration

	// CircuitBreakerFailureThreshold is the number of consecutive failures
	// before the breaker opens. Default: 5
	CircuitBreakerFailureThreshold uint32

	// CircuitBreakerRecoveryTimeout is how long the breaker stays open
	// before probing with a half-open call. Default: 30s
	CircuitBreakerRecoveryTimeout time.Duration

	// CircuitBreakerSuccessThreshold is the number of consecutive
	// half-open successes required to close the breaker. Default: 2
	CircuitBreakerSuccessThreshold uint32

	// Logger is the logger implementation to use.
	// If nil, a default zerolog-backed logger is used.
	Logger Logger

	// LogLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR).
	// Default: "INFO"
	LogLevel string

	// OnConnected is called when a session is successfully authenticated.
	OnConnected func(StateTransition)

	// OnDisconnected is called when the session is closed.
	OnDisconnected func(StateTransition)

	// OnReconnecting is called when automatic reconnection is attempted.
	OnReconnecting func(StateTransition)
}

// DefaultOptions returns ClientOptions with default values.
func DefaultOptions() ClientOptions {
	return ClientOptions{
		Protocol:                       ProtocolHTTP,
		Timeout:                        30 * time.Second,
		VerifySSL:                      true,
		DebugMode:                      false,
		MaxRetries:                     3,
		MaxReconnectAttempts:           5,
		HealthMonitorInterval:          15 * time.Second,
		HealthFailureThreshold:         3,
		PoolMinSize:                    1,
		PoolMaxSize:                    10,
		PoolIdleTimeout:                30 * time.Second,
		HealthCheckInterval:            30 * time.Second,
		CircuitBreakerFailureThreshold: 5,
		CircuitBreakerRecoveryTimeout:  30 * time.Second,
		CircuitBreakerSuccessThreshold: 2,
		LogLevel:                       "INFO",
	}
}

// resolvedPort returns the effective port, applying the protocol-dependent
// default when Port is unset.
func (o ClientOptions) resolvedPort() int {
	if o.Port != 0 {
		return o.Port
	}
	if o.Protocol == ProtocolHTTPS {
		return 443
	}
	return 8069
}

// ParseHostOrURL resolves HostOrURL/Port/Protocol into the base URL the
// transport dials. A HostOrURL already carrying a scheme ("https://host:port")
// is taken as-is and Port/Protocol are ignored; a bare host is combined with
// the resolved protocol and port.
func ParseHostOrURL(o ClientOptions) (string, error) {
	if o.HostOrURL == "" {
		return "", fmt.Errorf("client: HostOrURL is required")
	}

	if strings.Contains(o.HostOrURL, "://") {
		u, err := url.Parse(o.HostOrURL)
		if err != nil {
			return "", fmt.Errorf("client: invalid host URL %q: %w", o.HostOrURL, err)
		}
		if u.Host == "" {
			return "", fmt.Errorf("client: host URL %q has no host", o.HostOrURL)
		}
		return strings.TrimSuffix(u.String(), "/"), nil
	}

	protocol := o.Protocol
	if protocol == "" {
		protocol = ProtocolHTTP
	}
	return fmt.Sprintf("%s://%s:%d", protocol, o.HostOrURL, o.resolvedPort()), nil
}
