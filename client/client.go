package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zenoo-go/zenoo/batch"
	"github.com/zenoo-go/zenoo/cache"
	"github.com/zenoo-go/zenoo/protocol"
	"github.com/zenoo-go/zenoo/transaction"
	"github.com/zenoo-go/zenoo/transport"
)

// Client is the JSON-RPC facade over a remote application server: it owns
// the pooled HTTP transport, the authenticated session, and the optional
// transaction/cache/batch subsystems built on top of it.
type Client struct {
	opts    ClientOptions
	baseURL string

	pool  *transport.Pool
	codec protocol.Codec

	stateMgr  *StateManager
	logger    Logger
	debugMode atomic.Bool

	hooks   []hookEntry  // Registered hooks in execution order
	hooksMu sync.RWMutex // Protects hooks slice

	sessionMu   sync.RWMutex
	database    string
	credential  string
	uid         int
	version     map[string]interface{}
	userContext map[string]interface{}

	subsysMu           sync.Mutex
	cacheInstance      cache.Cache
	transactionManager *transaction.Manager
	batchManager       *batch.Manager

	healthMonitor *HealthMonitor
}

// NewClient builds a Client and initializes its transport pool. It does not
// authenticate; call Login before issuing model RPCs.
func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	opts = normalizeOptions(opts)

	baseURL, err := ParseHostOrURL(opts)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.LogLevel, nil)
	}

	c := &Client{
		opts:     opts,
		baseURL:  baseURL,
		codec:    protocol.NewCodec(),
		stateMgr: NewStateManager(),
		logger:   logger,
	}
	c.debugMode.Store(opts.DebugMode)

	if opts.OnConnected != nil || opts.OnDisconnected != nil || opts.OnReconnecting != nil {
		c.stateMgr.OnStateChange(func(transition StateTransition) {
			switch transition.To {
			case CONNECTED:
				if opts.OnConnected != nil {
					opts.OnConnected(transition)
				}
			case DISCONNECTED:
				if transition.From != DISCONNECTED && opts.OnDisconnected != nil {
					opts.OnDisconnected(transition)
				}
			case CONNECTING:
				if transition.From == DISCONNECTED && opts.OnReconnecting != nil {
					opts.OnReconnecting(transition)
				}
			}
		})
	}

	factory := func(ctx context.Context) (transport.Transport, error) {
		return transport.NewHTTPTransport(transport.HTTPOptions{
			BaseURL:    baseURL + "/jsonrpc",
			HealthPath: "/web/health",
			Timeout:    opts.Timeout,
			VerifySSL:  opts.VerifySSL,
		}), nil
	}

	c.pool = transport.NewPool(factory, transport.PoolOptions{
		MinIdle:                        opts.PoolMinSize,
		MaxOpen:                        opts.PoolMaxSize,
		IdleTimeout:                    opts.PoolIdleTimeout,
		HealthCheckInterval:            opts.HealthCheckInterval,
		CircuitBreakerFailureThreshold: opts.CircuitBreakerFailureThreshold,
		CircuitBreakerRecoveryTimeout:  opts.CircuitBreakerRecoveryTimeout,
		CircuitBreakerSuccessThreshold: opts.CircuitBreakerSuccessThreshold,
	})

	if err := c.pool.Initialize(ctx); err != nil {
		return nil, &ConnectionError{
			Code:    "E_POOL_INIT_FAILED",
			Type:    "CONNECTION_ERROR",
			Message: "failed to initialize transport pool",
			Cause:   err,
		}
	}

	c.logger.Info("client initialized", String("baseURL", baseURL))
	return c, nil
}

// normalizeOptions fills zero-valued fields with DefaultOptions, leaving
// any field the caller explicitly set untouched.
func normalizeOptions(o ClientOptions) ClientOptions {
	d := DefaultOptions()
	if o.Protocol == "" {
		o.Protocol = d.Protocol
	}
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.HealthMonitorInterval == 0 {
		o.HealthMonitorInterval = d.HealthMonitorInterval
	}
	if o.HealthFailureThreshold == 0 {
		o.HealthFailureThreshold = d.HealthFailureThreshold
	}
	if o.PoolMinSize == 0 {
		o.PoolMinSize = d.PoolMinSize
	}
	if o.PoolMaxSize == 0 {
		o.PoolMaxSize = d.PoolMaxSize
	}
	if o.PoolIdleTimeout == 0 {
		o.PoolIdleTimeout = d.PoolIdleTimeout
	}
	if o.HealthCheckInterval == 0 {
		o.HealthCheckInterval = d.HealthCheckInterval
	}
	if o.CircuitBreakerFailureThreshold == 0 {
		o.CircuitBreakerFailureThreshold = d.CircuitBreakerFailureThreshold
	}
	if o.CircuitBreakerRecoveryTimeout == 0 {
		o.CircuitBreakerRecoveryTimeout = d.CircuitBreakerRecoveryTimeout
	}
	if o.CircuitBreakerSuccessThreshold == 0 {
		o.CircuitBreakerSuccessThreshold = d.CircuitBreakerSuccessThreshold
	}
	if o.LogLevel == "" {
		o.LogLevel = d.LogLevel
	}
	return o
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	return c.stateMgr.GetState()
}

// GetLastTransition returns the most recent state transition.
func (c *Client) GetLastTransition() StateTransition {
	return c.stateMgr.GetLastTransition()
}

// OnStateChange registers a handler to be called on state transitions.
func (c *Client) OnStateChange(handler StateChangeHandler) {
	c.stateMgr.OnStateChange(handler)
}

// GetVersion returns the build version of the client.
func (c *Client) GetVersion() string {
	return Version
}

// IsDebugMode reports whether per-call debug logging is enabled.
func (c *Client) IsDebugMode() bool {
	return c.debugMode.Load()
}

// SetDebugMode toggles per-call debug logging at runtime.
func (c *Client) SetDebugMode(enabled bool) {
	c.debugMode.Store(enabled)
}

// SetLogLevel changes the minimum level the client's logger emits.
func (c *Client) SetLogLevel(level string) {
	c.logger = NewLogger(level, nil)
}

// Login authenticates against database as user/credential, fetching the
// server version first so a dead server fails fast with a connection
// error rather than an authentication one.
func (c *Client) Login(ctx context.Context, database, user, credential string) error {
	if err := c.stateMgr.TransitionTo(CONNECTING, nil, map[string]interface{}{
		"reason": "user_initiated", "database": database,
	}); err != nil {
		return err
	}

	version, err := c.GetServerVersion(ctx)
	if err != nil {
		c.stateMgr.TransitionTo(DISCONNECTED, err, map[string]interface{}{"reason": "error"})
		return err
	}

	result, err := c.call(ctx, "common", "authenticate",
		[]interface{}{database, user, credential, map[string]interface{}{}}, nil, "", "authenticate")
	if err != nil {
		c.stateMgr.TransitionTo(DISCONNECTED, err, map[string]interface{}{"reason": "error"})
		return err
	}

	uid, ok := coerceUID(result)
	if !ok {
		authErr := &AuthenticationError{
			Code:    "E_AUTH_FAILED",
			Message: "authentication rejected for the given database/user/credential",
			Hint:    "verify database name, username and password/API key used to authenticate",
		}
		c.stateMgr.TransitionTo(DISCONNECTED, authErr, map[string]interface{}{"reason": "error"})
		return authErr
	}

	c.sessionMu.Lock()
	c.database = database
	c.credential = credential
	c.uid = uid
	c.version = version
	c.userContext = map[string]interface{}{"lang": "en_US", "tz": "UTC", "uid": uid}
	c.sessionMu.Unlock()

	c.logger.Info("authenticated", String("database", database), Int("uid", uid))
	if err := c.stateMgr.TransitionTo(CONNECTED, nil, map[string]interface{}{
		"reason": "user_initiated", "database": database, "uid": uid,
	}); err != nil {
		return err
	}

	c.subsysMu.Lock()
	if c.healthMonitor == nil {
		c.healthMonitor = NewHealthMonitor(c, c.opts.HealthMonitorInterval, c.opts.HealthFailureThreshold)
		c.healthMonitor.Start()
	}
	c.subsysMu.Unlock()

	return nil
}

// Close tears down the cache backend, the transport pool, and the session
// state, in that order, and is safe to call more than once.
func (c *Client) Close() error {
	c.subsysMu.Lock()
	cacheInstance := c.cacheInstance
	c.cacheInstance = nil
	c.transactionManager = nil
	c.batchManager = nil
	monitor := c.healthMonitor
	c.healthMonitor = nil
	c.subsysMu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}

	var firstErr error
	if cacheInstance != nil {
		if err := cacheInstance.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.pool.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	c.sessionMu.Lock()
	c.database, c.credential, c.uid, c.version, c.userContext = "", "", 0, nil, nil
	c.sessionMu.Unlock()

	if c.stateMgr.GetState() != DISCONNECTED {
		c.stateMgr.TransitionTo(DISCONNECTING, nil, map[string]interface{}{"reason": "user_initiated"})
		c.stateMgr.TransitionTo(DISCONNECTED, nil, map[string]interface{}{"reason": "user_initiated"})
	}

	return firstErr
}

// call sends a single JSON-RPC request through the hook chain, the
// transport pool, and the codec, mapping any server-reported error to the
// appropriate typed client error via errModel/errMethod.
func (c *Client) call(ctx context.Context, service, method string, args []interface{}, kwargs map[string]interface{}, errModel, errMethod string) (interface{}, error) {
	start := time.Now()
	hookCtx := &HookContext{
		Service:     service,
		Method:      method,
		CommandType: inferCommandType(errMethod),
		Args:        args,
		Kwargs:      kwargs,
		StartTime:   start,
		Metadata:    make(map[string]interface{}),
		TraceID:     uuid.NewString(),
	}

	if err := c.executeBeforeHooks(ctx, hookCtx); err != nil {
		return nil, err
	}
	args, kwargs = hookCtx.Args, hookCtx.Kwargs

	if c.debugMode.Load() {
		c.logger.Debug("sending rpc call",
			String("service", service), String("method", method), String("trace_id", hookCtx.TraceID))
	}

	payload, _, err := c.codec.EncodeCall(service, method, args, kwargs)
	if err != nil {
		return c.finishCall(ctx, hookCtx, start, nil,
			fmt.Errorf("client: encode jsonrpc call: %w", err))
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return c.finishCall(ctx, hookCtx, start, nil, &ConnectionError{
			Code: "E_POOL_ACQUIRE", Type: "CONNECTION_ERROR",
			Message: "failed to acquire a transport from the pool", Cause: err, Retryable: true,
		})
	}
	defer c.pool.Release(conn)

	body, err := conn.RoundTrip(ctx, payload)
	if err != nil {
		return c.finishCall(ctx, hookCtx, start, nil, &ConnectionError{
			Code: "E_ROUNDTRIP_FAILED", Type: "CONNECTION_ERROR",
			Message: "failed to complete rpc round trip", Cause: err, Retryable: true,
		})
	}

	resp, err := c.codec.Decode(body)
	if err != nil {
		return c.finishCall(ctx, hookCtx, start, nil, &QueryError{
			Code: "E_DECODE_FAILED", Type: "QUERY_ERROR", Model: errModel, Method: errMethod,
			Message: err.Error(),
		})
	}

	if resp.Error != nil {
		se := protocol.MapRPCError(resp.Error)
		return c.finishCall(ctx, hookCtx, start, nil, fromServerError(errModel, errMethod, se))
	}

	var result interface{}
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return c.finishCall(ctx, hookCtx, start, nil, &QueryError{
				Code: "E_DECODE_RESULT", Type: "QUERY_ERROR", Model: errModel, Method: errMethod,
				Message: err.Error(),
			})
		}
	}

	return c.finishCall(ctx, hookCtx, start, result, nil)
}

func (c *Client) finishCall(ctx context.Context, hookCtx *HookContext, start time.Time, result interface{}, err error) (interface{}, error) {
	hookCtx.Result = result
	hookCtx.Error = err
	hookCtx.Duration = time.Since(start)

	if hookErr := c.executeAfterHooks(ctx, hookCtx); hookErr != nil {
		err = hookErr
	}

	if err != nil {
		c.logger.Debug("rpc call failed",
			String("service", hookCtx.Service), String("method", hookCtx.Method),
			Error("error", err), Duration("duration", hookCtx.Duration))
	} else if c.debugMode.Load() {
		c.logger.Debug("rpc call completed",
			String("service", hookCtx.Service), String("method", hookCtx.Method),
			Duration("duration", hookCtx.Duration))
	}

	return result, err
}

// executeKwContext is the shared implementation behind ExecuteKw and
// Execute: it builds the [database, uid, credential, model, method, args,
// kwargs] wire call, merging context in the documented order (explicit >
// call > session defaults).
func (c *Client) executeKwContext(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}, explicitContext map[string]interface{}) (interface{}, error) {
	if c.stateMgr.GetState() != CONNECTED {
		return nil, ErrInvalidState(method, CONNECTED, c.stateMgr.GetState())
	}

	callContext, _ := kwargs["context"].(map[string]interface{})

	c.sessionMu.RLock()
	database, uid, credential, sessionCtx := c.database, c.uid, c.credential, c.userContext
	c.sessionMu.RUnlock()

	merged := mergeContext(sessionCtx, callContext)
	merged = mergeContext(merged, explicitContext)

	final := cloneKwargs(kwargs)
	if merged != nil {
		final["context"] = merged
	} else {
		delete(final, "context")
	}

	wireArgs := []interface{}{database, uid, credential, model, method, args, final}
	return c.call(ctx, "object", "execute_kw", wireArgs, nil, model, method)
}

// ExecuteKw issues a generic execute_kw call. kwargs may carry its own
// "context" entry, merged over the session's default context. This is the
// narrow surface the batch and transaction packages depend on.
func (c *Client) ExecuteKw(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return c.executeKwContext(ctx, model, method, args, kwargs, nil)
}

// Execute issues a positional-args call, with context passed explicitly
// rather than folded into a kwargs map.
func (c *Client) Execute(ctx context.Context, model, method string, args []interface{}, callContext map[string]interface{}) (interface{}, error) {
	return c.executeKwContext(ctx, model, method, args, nil, callContext)
}

// SearchRead runs model's search_read, returning matching records.
func (c *Client) SearchRead(ctx context.Context, model string, domain []interface{}, fields []string, limit, offset int, order string, callContext map[string]interface{}) ([]map[string]interface{}, error) {
	kwargs := map[string]interface{}{}
	if fields != nil {
		kwargs["fields"] = fields
	}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	if offset > 0 {
		kwargs["offset"] = offset
	}
	if order != "" {
		kwargs["order"] = order
	}
	if callContext != nil {
		kwargs["context"] = callContext
	}

	result, err := c.ExecuteKw(ctx, model, "search_read", []interface{}{domain}, kwargs)
	if err != nil {
		return nil, err
	}
	return coerceRecords(result), nil
}

// SearchCount runs model's search_count against domain.
func (c *Client) SearchCount(ctx context.Context, model string, domain []interface{}, callContext map[string]interface{}) (int, error) {
	kwargs := map[string]interface{}{}
	if callContext != nil {
		kwargs["context"] = callContext
	}
	result, err := c.ExecuteKw(ctx, model, "search_count", []interface{}{domain}, kwargs)
	if err != nil {
		return 0, err
	}
	n, _ := coerceInt(result)
	return n, nil
}

// Read fetches fields for the given ids via model's read method.
func (c *Client) Read(ctx context.Context, model string, ids []int, fields []string, callContext map[string]interface{}) ([]map[string]interface{}, error) {
	kwargs := map[string]interface{}{}
	if fields != nil {
		kwargs["fields"] = fields
	}
	if callContext != nil {
		kwargs["context"] = callContext
	}
	result, err := c.ExecuteKw(ctx, model, "read", []interface{}{toAnyIntSlice(ids)}, kwargs)
	if err != nil {
		return nil, err
	}
	return coerceRecords(result), nil
}

// GetModelFields runs fields_get, returning the field-name to
// field-metadata map the server reports for model.
func (c *Client) GetModelFields(ctx context.Context, model string, callContext map[string]interface{}) (map[string]interface{}, error) {
	kwargs := map[string]interface{}{}
	if callContext != nil {
		kwargs["context"] = callContext
	}
	result, err := c.ExecuteKw(ctx, model, "fields_get", nil, kwargs)
	if err != nil {
		return nil, err
	}
	fields, _ := result.(map[string]interface{})
	return fields, nil
}

// Create inserts a new model record. When validateRequired is true, the
// client precomputes missing required fields from GetModelFields and fails
// locally with a ValidationError rather than round-tripping to the server.
func (c *Client) Create(ctx context.Context, model string, values map[string]interface{}, callContext map[string]interface{}, validateRequired bool) (int, error) {
	if validateRequired {
		if err := c.checkRequiredFields(ctx, model, values, callContext); err != nil {
			return 0, err
		}
	}

	kwargs := map[string]interface{}{}
	if callContext != nil {
		kwargs["context"] = callContext
	}
	result, err := c.ExecuteKw(ctx, model, "create", []interface{}{values}, kwargs)
	if err != nil {
		return 0, err
	}
	id, _ := coerceInt(result)
	return id, nil
}

// checkRequiredFields loads model's field metadata and reports any
// required field missing from values. A failure to load field metadata is
// not itself fatal here; it just defers validation to the server.
func (c *Client) checkRequiredFields(ctx context.Context, model string, values map[string]interface{}, callContext map[string]interface{}) error {
	fields, err := c.GetModelFields(ctx, model, callContext)
	if err != nil {
		c.logger.Debug("validate_required precheck skipped: fields_get failed",
			String("model", model), Error("error", err))
		return nil
	}

	var missing []string
	for name, raw := range fields {
		meta, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		required, _ := meta["required"].(bool)
		if !required {
			continue
		}
		if _, hasDefault := meta["default"]; hasDefault {
			continue
		}
		if _, present := values[name]; !present {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)
	return &ValidationError{
		Code:          "E_VALIDATION",
		Model:         model,
		Message:       fmt.Sprintf("missing required field(s): %s", strings.Join(missing, ", ")),
		MissingFields: missing,
		Hint:          "populate all required fields, or pass validateRequired=false to defer validation to the server",
	}
}

// Write updates ids on model. When checkAccess is true, the client
// pre-flights a search_read over ids to surface a clear AccessError before
// attempting the write.
func (c *Client) Write(ctx context.Context, model string, ids []int, values map[string]interface{}, callContext map[string]interface{}, checkAccess bool) error {
	if checkAccess {
		if err := c.checkIDsVisible(ctx, model, ids, callContext, "write"); err != nil {
			return err
		}
	}

	kwargs := map[string]interface{}{}
	if callContext != nil {
		kwargs["context"] = callContext
	}
	_, err := c.ExecuteKw(ctx, model, "write", []interface{}{toAnyIntSlice(ids), values}, kwargs)
	return err
}

// Unlink deletes ids on model. When checkReferences is true, the client
// pre-flights existence of ids; foreign-key violations the server reports
// on the delete itself surface as a ValidationError via fromServerError's
// keyword classification.
func (c *Client) Unlink(ctx context.Context, model string, ids []int, callContext map[string]interface{}, checkReferences bool) error {
	if checkReferences {
		if err := c.checkIDsVisible(ctx, model, ids, callContext, "unlink"); err != nil {
			return err
		}
	}

	kwargs := map[string]interface{}{}
	if callContext != nil {
		kwargs["context"] = callContext
	}
	_, err := c.ExecuteKw(ctx, model, "unlink", []interface{}{toAnyIntSlice(ids)}, kwargs)
	return err
}

// checkIDsVisible confirms every id in ids is returned by a search_read,
// surfacing an AccessError/MissingError before the caller's actual mutation
// attempt rather than letting the server's raw error through unexplained.
func (c *Client) checkIDsVisible(ctx context.Context, model string, ids []int, callContext map[string]interface{}, op string) error {
	if len(ids) == 0 {
		return nil
	}
	found, err := c.SearchRead(ctx, model, []interface{}{[]interface{}{"id", "in", toAnyIntSlice(ids)}}, []string{"id"}, 0, 0, "", callContext)
	if err != nil {
		return err
	}

	seen := make(map[int]bool, len(found))
	for _, rec := range found {
		if id, ok := coerceIntField(rec["id"]); ok {
			seen[id] = true
		}
	}

	var missing []int
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	return &AccessError{
		Code:    "E_ACCESS_DENIED",
		Model:   model,
		Message: fmt.Sprintf("%s: record(s) %v are not visible to this user or do not exist", op, missing),
		Hint:    "verify the authenticated user holds the required access rights and the ids exist",
	}
}

// SafeCreate is a never-raise Create: it returns (0, false) instead of
// propagating an error.
func (c *Client) SafeCreate(ctx context.Context, model string, values map[string]interface{}, callContext map[string]interface{}) (int, bool) {
	id, err := c.Create(ctx, model, values, callContext, true)
	if err != nil {
		c.logger.Warn("safe_create suppressed error", String("model", model), Error("error", err))
		return 0, false
	}
	return id, true
}

// SafeRead is a never-raise Read: on an access or missing error it falls
// back to search_read (which applies record rules instead of raising), and
// only reports failure if that fallback also fails.
func (c *Client) SafeRead(ctx context.Context, model string, ids []int, fields []string, callContext map[string]interface{}) ([]map[string]interface{}, bool) {
	records, err := c.Read(ctx, model, ids, fields, callContext)
	if err == nil {
		return records, true
	}
	if !isAccessOrMissing(err) {
		c.logger.Warn("safe_read suppressed error", String("model", model), Error("error", err))
		return nil, false
	}

	fallback, fbErr := c.SearchRead(ctx, model, []interface{}{[]interface{}{"id", "in", toAnyIntSlice(ids)}}, fields, 0, 0, "", callContext)
	if fbErr != nil {
		c.logger.Warn("safe_read fallback to search_read failed", String("model", model), Error("error", fbErr))
		return nil, false
	}
	return fallback, true
}

// SafeCreateRecord creates a record and reads it back in one never-raise
// call, returning (nil, false) if either step fails.
func (c *Client) SafeCreateRecord(ctx context.Context, model string, values map[string]interface{}, fields []string, callContext map[string]interface{}) (map[string]interface{}, bool) {
	id, ok := c.SafeCreate(ctx, model, values, callContext)
	if !ok {
		return nil, false
	}
	records, ok := c.SafeRead(ctx, model, []int{id}, fields, callContext)
	if !ok || len(records) == 0 {
		return nil, false
	}
	return records[0], true
}

// GetAccessibleRecords is a never-raise filtered read: ids this user
// cannot see are silently dropped rather than raising.
func (c *Client) GetAccessibleRecords(ctx context.Context, model string, ids []int, fields []string, callContext map[string]interface{}) []map[string]interface{} {
	records, ok := c.SafeRead(ctx, model, ids, fields, callContext)
	if !ok {
		return nil
	}
	return records
}

// AdaptiveReadRecords tries Read first and falls back to search_read only
// when the server denies access, propagating any other error unchanged.
func (c *Client) AdaptiveReadRecords(ctx context.Context, model string, ids []int, fields []string, callContext map[string]interface{}) ([]map[string]interface{}, error) {
	records, err := c.Read(ctx, model, ids, fields, callContext)
	if err == nil {
		return records, nil
	}

	var accessErr *AccessError
	if !errors.As(err, &accessErr) {
		return nil, err
	}

	c.logger.Debug("adaptive_read_records falling back to search_read after access denial",
		String("model", model))
	return c.SearchRead(ctx, model, []interface{}{[]interface{}{"id", "in", toAnyIntSlice(ids)}}, fields, 0, 0, "", callContext)
}

func isAccessOrMissing(err error) bool {
	var accessErr *AccessError
	var missingErr *MissingError
	return errors.As(err, &accessErr) || errors.As(err, &missingErr)
}

// HealthCheck probes server liveness without requiring an authenticated
// session, per the unauthenticated GET-to-status-path contract.
func (c *Client) HealthCheck(ctx context.Context) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return &ConnectionError{
			Code: "E_HEALTH_CHECK_FAILED", Type: "CONNECTION_ERROR",
			Message: "failed to acquire a transport for the health check", Cause: err,
		}
	}
	defer c.pool.Release(conn)

	checker, ok := conn.(transport.HealthChecker)
	if !ok {
		return nil
	}
	if !checker.CheckHealth(ctx) {
		return &ConnectionError{
			Code: "E_SERVER_UNHEALTHY", Type: "CONNECTION_ERROR",
			Message: "server health check failed",
		}
	}
	return nil
}

// GetServerVersion calls the unauthenticated common.version method.
func (c *Client) GetServerVersion(ctx context.Context) (map[string]interface{}, error) {
	result, err := c.call(ctx, "common", "version", nil, nil, "", "version")
	if err != nil {
		return nil, err
	}
	version, _ := result.(map[string]interface{})
	return version, nil
}

// ListDatabases calls the unauthenticated db.list method.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	result, err := c.call(ctx, "db", "list", nil, nil, "", "list")
	if err != nil {
		return nil, err
	}
	return coerceStringSlice(result), nil
}

// SetupTransactionManager constructs (or replaces) the client's transaction
// subsystem. Repeat calls replace the prior manager rather than erroring;
// any transactions active on the old manager are left to finish on their
// own, orphaned from the client's Transaction()/WithTransaction() accessors.
func (c *Client) SetupTransactionManager(maxActiveTransactions int, defaultTimeout time.Duration) error {
	c.subsysMu.Lock()
	defer c.subsysMu.Unlock()

	c.transactionManager = transaction.NewManager(&executorAdapter{c: c}, c.cacheInstance, transaction.Options{
		MaxActiveTransactions: maxActiveTransactions,
		DefaultTimeout:        defaultTimeout,
	})
	return nil
}

// SetupCacheManager constructs (or replaces) the client's cache backend.
// backend is "memory" or "remote"; for "remote", url is a Redis connection
// string. A positive circuitBreakerThreshold guards the remote backend with
// a circuit breaker, and enableFallback wraps that (guarded) remote backend
// with a local memory fallback so a degraded remote cache never blocks a
// call. Repeat calls close the previous backend and replace it.
func (c *Client) SetupCacheManager(backend, url string, enableFallback bool, circuitBreakerThreshold, maxSize int, ttl time.Duration) error {
	var backendCache cache.Cache

	switch backend {
	case "", "memory":
		backendCache = cache.NewMemory(maxSize)

	case "remote":
		remote, err := cache.NewRedis(url)
		if err != nil {
			return &ConnectionError{
				Code: "E_CACHE_BACKEND_UNAVAILABLE", Type: "CONNECTION_ERROR",
				Message: "failed to connect to remote cache backend", Cause: err,
			}
		}

		var guarded cache.Cache = remote
		if circuitBreakerThreshold > 0 {
			guarded = cache.NewCircuitBreakerCache(remote, uint32(circuitBreakerThreshold))
		}

		if enableFallback {
			backendCache = cache.NewFallbackCache(guarded, cache.NewMemory(maxSize), func(msg string, err error) {
				c.logger.Warn(msg, Error("error", err))
			})
		} else {
			backendCache = guarded
		}

	default:
		return &ValidationError{
			Code: "E_VALIDATION", Message: fmt.Sprintf("unknown cache backend %q", backend),
			Hint: `backend must be "memory" or "remote"`,
		}
	}

	c.subsysMu.Lock()
	previous := c.cacheInstance
	c.cacheInstance = backendCache
	c.subsysMu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			c.logger.Warn("failed to close previous cache backend", Error("error", err))
		}
	}
	_ = ttl // per-Set default TTL is applied by callers of the cache, not at construction
	return nil
}

// SetupBatchManager constructs (or replaces) the client's batch subsystem.
func (c *Client) SetupBatchManager(maxChunkSize, maxConcurrency int, timeout time.Duration) error {
	c.subsysMu.Lock()
	defer c.subsysMu.Unlock()

	c.batchManager = batch.NewManager(c, batch.Options{
		MaxChunkSize:   maxChunkSize,
		MaxConcurrency: maxConcurrency,
		Timeout:        timeout,
	})
	return nil
}

// Transaction begins a transaction scope. It fails with a StateError if
// SetupTransactionManager has not been called.
func (c *Client) Transaction(ctx context.Context, id string, autoCommit bool) (*transaction.Transaction, error) {
	c.subsysMu.Lock()
	mgr := c.transactionManager
	c.subsysMu.Unlock()
	if mgr == nil {
		return nil, &StateError{Code: "INVALID_STATE", Type: "STATE_ERROR",
			Message: "transaction requires SetupTransactionManager to be called first"}
	}
	return mgr.Begin(ctx, id, autoCommit)
}

// WithTransaction runs fn within a transaction scope, committing on a nil
// return and rolling back otherwise. It fails with a StateError if
// SetupTransactionManager has not been called.
func (c *Client) WithTransaction(ctx context.Context, autoCommit bool, fn func(tx *transaction.Transaction) error) error {
	c.subsysMu.Lock()
	mgr := c.transactionManager
	c.subsysMu.Unlock()
	if mgr == nil {
		return &StateError{Code: "INVALID_STATE", Type: "STATE_ERROR",
			Message: "with_transaction requires SetupTransactionManager to be called first"}
	}
	return mgr.WithTransaction(ctx, autoCommit, fn)
}

// Batch starts a fluent batch builder. It fails with a StateError if
// SetupBatchManager has not been called.
func (c *Client) Batch(id string) (*batch.Batch, error) {
	c.subsysMu.Lock()
	mgr := c.batchManager
	c.subsysMu.Unlock()
	if mgr == nil {
		return nil, &StateError{Code: "INVALID_STATE", Type: "STATE_ERROR",
			Message: "batch requires SetupBatchManager to be called first"}
	}
	return mgr.CreateBatch(id), nil
}

// WithBatch opens a batch scope, auto-executing on fn's return. It fails
// with a StateError if SetupBatchManager has not been called.
func (c *Client) WithBatch(ctx context.Context, fn func(coll *batch.Collector) error) (batch.Stats, error) {
	c.subsysMu.Lock()
	mgr := c.batchManager
	c.subsysMu.Unlock()
	if mgr == nil {
		return batch.Stats{}, &StateError{Code: "INVALID_STATE", Type: "STATE_ERROR",
			Message: "with_batch requires SetupBatchManager to be called first"}
	}
	return mgr.WithBatch(ctx, fn)
}

// executorAdapter narrows Client down to transaction.Executor, letting
// Client's public Create/Write/Unlink keep their validateRequired/
// checkAccess/checkReferences flags without those flags leaking into the
// transaction package's interface.
type executorAdapter struct {
	c *Client
}

func (a *executorAdapter) Create(ctx context.Context, model string, values map[string]interface{}, callCtx map[string]interface{}) (int, error) {
	return a.c.Create(ctx, model, values, callCtx, false)
}

func (a *executorAdapter) Write(ctx context.Context, model string, ids []int, values map[string]interface{}, callCtx map[string]interface{}) error {
	return a.c.Write(ctx, model, ids, values, callCtx, false)
}

func (a *executorAdapter) Unlink(ctx context.Context, model string, ids []int, callCtx map[string]interface{}) error {
	return a.c.Unlink(ctx, model, ids, callCtx, false)
}

func (a *executorAdapter) IsNotFoundError(err error) bool {
	var missingErr *MissingError
	return errors.As(err, &missingErr)
}

func mergeContext(base, override map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func cloneKwargs(kwargs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kwargs)+1)
	for k, v := range kwargs {
		out[k] = v
	}
	return out
}

func toAnyIntSlice(ids []int) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func coerceRecords(raw interface{}) []map[string]interface{} {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	records := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]interface{}); ok {
			records = append(records, rec)
		}
	}
	return records
}

func coerceStringSlice(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func coerceInt(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func coerceIntField(raw interface{}) (int, bool) {
	return coerceInt(raw)
}

// coerceUID interprets common.authenticate's result: an integer user id on
// success, or false/null on rejection.
func coerceUID(raw interface{}) (int, bool) {
	if raw == nil {
		return 0, false
	}
	if b, ok := raw.(bool); ok {
		return 0, b // authenticate never returns true, only false on rejection
	}
	return coerceInt(raw)
}
