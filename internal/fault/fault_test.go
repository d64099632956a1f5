package fault_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/voxtale/voxtale/internal/fault"
)

func TestKindString(t *testing.T) {
	cases := []struct {
		kind fault.Kind
		want string
	}{
		{fault.Transport, "transport"},
		{fault.Protocol, "protocol"},
		{fault.State, "state"},
		{fault.Resource, "resource"},
		{fault.Kind(42), "unknown"},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("Kind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestWrapNil(t *testing.T) {
	if err := fault.Wrap(fault.Transport, "backend.call", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapPreservesKind(t *testing.T) {
	inner := fault.New(fault.Protocol, "synth.parse", "bad event")
	outer := fault.Wrap(fault.Transport, "synth.start", inner)

	kind, ok := fault.KindOf(outer)
	if !ok {
		t.Fatal("KindOf: outer is not a classified fault")
	}
	if kind != fault.Protocol {
		t.Errorf("kind = %v, want Protocol (inner kind preserved)", kind)
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := fault.Wrap(fault.Transport, "backend.call", fmt.Errorf("read body: %w", cause))

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("errors.Is could not reach the underlying cause")
	}
	var fe *fault.Error
	if !errors.As(err, &fe) {
		t.Fatal("errors.As failed for *fault.Error")
	}
	if fe.Kind != fault.Transport {
		t.Errorf("Kind = %v, want Transport", fe.Kind)
	}
}

func TestIsKind(t *testing.T) {
	err := fault.New(fault.State, "synth.start", "already active")
	if !fault.IsKind(err, fault.State) {
		t.Error("IsKind(State) = false, want true")
	}
	if fault.IsKind(err, fault.Transport) {
		t.Error("IsKind(Transport) = true, want false")
	}
	if fault.IsKind(errors.New("plain"), fault.State) {
		t.Error("IsKind on unclassified error = true, want false")
	}
}

func TestErrorMessage(t *testing.T) {
	cases := []struct {
		name string
		err  *fault.Error
		want string
	}{
		{
			name: "msg only",
			err:  fault.New(fault.State, "session.create", "already connecting"),
			want: "session.create: already connecting",
		},
		{
			name: "kind fallback",
			err:  &fault.Error{Kind: fault.Resource, Op: "engine.rebuild"},
			want: "engine.rebuild: resource fault",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.err.Error(); got != c.want {
				t.Errorf("Error() = %q, want %q", got, c.want)
			}
		})
	}
}
