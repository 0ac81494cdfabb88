package client

import (
	"context"
	"time"
)

// HookContext contains information about the RPC call being executed.
// This is passed to hooks to allow inspection and modification.
type HookContext struct {
	// Service is the JSON-RPC service name ("common", "object", "db").
	Service string

	// Method is the model/service method being invoked ("execute_kw", "search_read", ...).
	Method string

	// CommandType categorizes the call (query, mutation, transaction, schema, unknown).
	CommandType string

	// Args are the positional arguments passed to the call.
	Args []interface{}

	// Kwargs are the keyword arguments passed to the call.
	Kwargs map[string]interface{}

	// StartTime is when the call execution began.
	StartTime time.Time

	// Metadata allows hooks to store arbitrary data for passing between Before/After.
	Metadata map[string]interface{}

	// TraceID is the unique identifier for this call execution.
	TraceID string

	// Result stores the call result (set after execution, available in After hook).
	Result interface{}

	// Error stores any error that occurred (available in After hook).
	Error error

	// Duration is the execution time (available in After hook).
	Duration time.Duration
}

// Hook is the interface that all hooks must implement.
// Hooks can inspect, modify, or abort call execution.
type Hook interface {
	// Name returns the unique name of this hook.
	Name() string

	// Before is called before call execution.
	// Returning an error aborts the call and returns the error.
	Before(ctx context.Context, hookCtx *HookContext) error

	// After is called after call execution (even if it failed).
	// Returning an error replaces any existing error.
	After(ctx context.Context, hookCtx *HookContext) error
}

// hookEntry wraps a Hook with its registration order for stable iteration.
type hookEntry struct {
	hook  Hook
	order int
}

// RegisterHook adds a hook to the client's hook chain.
// Hooks execute in FIFO order (first registered, first executed).
// If a hook with the same name already exists, it is replaced.
func (c *Client) RegisterHook(hook Hook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()

	for i, entry := range c.hooks {
		if entry.hook.Name() == hook.Name() {
			c.hooks[i].hook = hook
			c.logger.Info("hook replaced", String("hook", hook.Name()))
			return
		}
	}

	order := len(c.hooks)
	c.hooks = append(c.hooks, hookEntry{hook: hook, order: order})
	c.logger.Info("hook registered", String("hook", hook.Name()), Int("order", order))
}

// UnregisterHook removes a hook by name.
// Returns true if the hook was found and removed, false otherwise.
func (c *Client) UnregisterHook(name string) bool {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()

	for i, entry := range c.hooks {
		if entry.hook.Name() == name {
			c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
			c.logger.Info("hook unregistered", String("hook", name))
			return true
		}
	}

	return false
}

// GetHooks returns the names of all registered hooks in execution order.
func (c *Client) GetHooks() []string {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()

	names := make([]string, len(c.hooks))
	for i, entry := range c.hooks {
		names[i] = entry.hook.Name()
	}
	return names
}

// executeBeforeHooks runs all Before hooks in order.
// If any hook returns an error, execution stops and the error is returned.
func (c *Client) executeBeforeHooks(ctx context.Context, hookCtx *HookContext) error {
	c.hooksMu.RLock()
	hooks := make([]Hook, len(c.hooks))
	for i, entry := range c.hooks {
		hooks[i] = entry.hook
	}
	c.hooksMu.RUnlock()

	for _, hook := range hooks {
		if err := hook.Before(ctx, hookCtx); err != nil {
			c.logger.Debug("hook aborted call",
				String("hook", hook.Name()),
				String("method", hookCtx.Method),
				Error("error", err))
			return err
		}
	}

	return nil
}

// executeAfterHooks runs all After hooks in order.
// All hooks execute even if one returns an error.
// The last error returned (if any) is returned.
func (c *Client) executeAfterHooks(ctx context.Context, hookCtx *HookContext) error {
	c.hooksMu.RLock()
	hooks := make([]Hook, len(c.hooks))
	for i, entry := range c.hooks {
		hooks[i] = entry.hook
	}
	c.hooksMu.RUnlock()

	var lastErr error
	for _, hook := range hooks {
		if err := hook.After(ctx, hookCtx); err != nil {
			c.logger.Debug("hook returned error in After",
				String("hook", hook.Name()),
				String("method", hookCtx.Method),
				Error("error", err))
			lastErr = err
		}
	}

	return lastErr
}

// inferCommandType classifies a model method into a coarse category used
// for hook metadata and logging.
func inferCommandType(method string) string {
	switch method {
	case "search_read", "search", "search_count", "read", "fields_get", "check_access_rights":
		return "query"
	case "create", "write", "unlink":
		return "mutation"
	default:
		return "unknown"
	}
}
