package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/voxtale/voxtale/internal/resilience"
)

// stubResolver is a minimal strategy type for chain tests.
type stubResolver struct {
	name string
	err  error
	hits int
}

func (s *stubResolver) resolve() (string, error) {
	s.hits++
	if s.err != nil {
		return "", s.err
	}
	return s.name, nil
}

func newChain(tiers ...*stubResolver) *resilience.Chain[*stubResolver] {
	c := resilience.NewChain[*stubResolver](resilience.ChainConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: 50 * time.Millisecond,
		},
	})
	for _, t := range tiers {
		c.Add(t.name, t)
	}
	return c
}

func TestChainPrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := &stubResolver{name: "current"}
	legacy := &stubResolver{name: "legacy"}
	c := newChain(primary, legacy)

	got, tierName, err := resilience.ExecuteWithResult(c, (*stubResolver).resolve)
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "current" || tierName != "current" {
		t.Errorf("got %q from tier %q, want current", got, tierName)
	}
	if legacy.hits != 0 {
		t.Errorf("legacy tier was tried %d times, want 0", legacy.hits)
	}
}

func TestChainFallsBackInOrder(t *testing.T) {
	t.Parallel()

	primary := &stubResolver{name: "current", err: errors.New("down")}
	legacy := &stubResolver{name: "legacy"}
	c := newChain(primary, legacy)

	got, tierName, err := resilience.ExecuteWithResult(c, (*stubResolver).resolve)
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "legacy" || tierName != "legacy" {
		t.Errorf("got %q from tier %q, want legacy", got, tierName)
	}
	if primary.hits != 1 {
		t.Errorf("primary tried %d times, want 1", primary.hits)
	}
}

func TestChainAllFail(t *testing.T) {
	t.Parallel()

	c := newChain(
		&stubResolver{name: "current", err: errors.New("down")},
		&stubResolver{name: "legacy", err: errors.New("also down")},
	)

	_, _, err := resilience.ExecuteWithResult(c, (*stubResolver).resolve)
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestChainNames(t *testing.T) {
	c := newChain(&stubResolver{name: "current"}, &stubResolver{name: "legacy"})
	names := c.Names()
	if len(names) != 2 || names[0] != "current" || names[1] != "legacy" {
		t.Errorf("Names() = %v, want [current legacy]", names)
	}
}

func TestChainSkipsOpenCircuit(t *testing.T) {
	t.Parallel()

	primary := &stubResolver{name: "current", err: errors.New("down")}
	legacy := &stubResolver{name: "legacy"}
	c := newChain(primary, legacy)

	// Trip the primary breaker (MaxFailures = 2).
	for range 2 {
		if _, _, err := resilience.ExecuteWithResult(c, (*stubResolver).resolve); err != nil {
			t.Fatalf("unexpected total failure: %v", err)
		}
	}
	primaryHits := primary.hits

	// With the breaker open the primary is skipped entirely.
	if _, tierName, err := resilience.ExecuteWithResult(c, (*stubResolver).resolve); err != nil || tierName != "legacy" {
		t.Fatalf("tier = %q, err = %v; want legacy, nil", tierName, err)
	}
	if primary.hits != primaryHits {
		t.Errorf("primary tried with open circuit (hits %d → %d)", primaryHits, primary.hits)
	}
}

func TestCircuitBreakerRecovery(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 20 * time.Millisecond,
		HalfOpenMax:  1,
	})

	boom := errors.New("boom")
	if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("first call err = %v, want boom", err)
	}
	if cb.State() != resilience.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(30 * time.Millisecond)
	if cb.State() != resilience.StateHalfOpen {
		t.Fatalf("state after timeout = %v, want half-open", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe call err = %v", err)
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("state after successful probe = %v, want closed", cb.State())
	}
}
