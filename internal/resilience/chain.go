package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every tier in a [Chain] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all tiers failed")

// ChainConfig configures the per-tier circuit breaker created for each
// entry in a [Chain].
type ChainConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// tier pairs a strategy value with its dedicated circuit breaker.
type tier[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Chain is an explicit, ordered list of strategies of the same type. When
// one tier fails (or its circuit breaker is open), the next is tried in
// registration order. The order is fixed at registration time, which makes
// the failover sequence a visible, testable property rather than nested
// error handling.
//
// Chain is safe for concurrent use.
type Chain[T any] struct {
	tiers []tier[T]
	cfg   ChainConfig
}

// NewChain creates an empty [Chain]. Tiers are registered via
// [Chain.Add] and tried in the order added.
func NewChain[T any](cfg ChainConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends a named tier. Not safe to call concurrently with Execute;
// register all tiers during construction.
func (c *Chain[T]) Add(name string, value T) {
	cbCfg := c.cfg.CircuitBreaker
	cbCfg.Name = name
	c.tiers = append(c.tiers, tier[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the tier names in execution order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.tiers))
	for i, t := range c.tiers {
		names[i] = t.name
	}
	return names
}

// Execute tries fn against each tier in order until one succeeds.
// Circuit-open tiers are skipped. Returns [ErrAllFailed] wrapped with the
// last error if every tier fails.
func (c *Chain[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range c.tiers {
		t := &c.tiers[i]
		err := t.breaker.Execute(func() error {
			return fn(t.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping tier (circuit open)", "tier", t.name)
		} else {
			slog.Warn("tier failed, trying next", "tier", t.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// ExecuteWithResult tries fn against each tier until one succeeds,
// returning both the result value and the tier name that produced it.
// This is a package-level function because Go does not support
// method-level type parameters.
func ExecuteWithResult[T any, R any](c *Chain[T], fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.tiers {
		t := &c.tiers[i]
		var result R
		err := t.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(t.value)
			return innerErr
		})
		if err == nil {
			return result, t.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping tier (circuit open)", "tier", t.name)
		} else {
			slog.Warn("tier failed, trying next", "tier", t.name, "error", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
