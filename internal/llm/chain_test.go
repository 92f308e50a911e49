package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func TestChain_Empty(t *testing.T) {
	_, err := NewChain(zerolog.Nop()).Complete(context.Background(), "p", Options{})
	if !errors.Is(err, ErrNoProviders) {
		t.Errorf("error = %v, want ErrNoProviders", err)
	}
}

func TestChain_FallsThroughToNextProvider(t *testing.T) {
	first := &scriptedGateway{errs: []error{ErrServiceUnavailable}}
	second := &scriptedGateway{result: "from second"}

	chain := NewChain(zerolog.Nop()).Add("first", first).Add("second", second)
	text, err := chain.Complete(context.Background(), "p", Options{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != "from second" {
		t.Errorf("Complete() = %q, want from second", text)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", first.calls, second.calls)
	}
}

func TestChain_StopsAtFirstSuccess(t *testing.T) {
	first := &scriptedGateway{result: "from first"}
	second := &scriptedGateway{result: "from second"}

	chain := NewChain(zerolog.Nop()).Add("first", first).Add("second", second)
	if _, err := chain.Complete(context.Background(), "p", Options{}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if second.calls != 0 {
		t.Error("second provider should not be called")
	}
}

func TestChain_AllFailKeepsLastClass(t *testing.T) {
	chain := NewChain(zerolog.Nop()).
		Add("first", &scriptedGateway{errs: []error{ErrServiceUnavailable}}).
		Add("second", &scriptedGateway{errs: []error{ErrInvalidResponse}})

	_, err := chain.Complete(context.Background(), "p", Options{})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("error = %v, want ErrInvalidResponse", err)
	}
	if n := chain.Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
}

func TestGuarded_CircuitOpensAfterFailures(t *testing.T) {
	inner := &scriptedGateway{errs: []error{
		ErrServiceUnavailable, ErrServiceUnavailable, ErrServiceUnavailable,
	}}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	g := NewGuarded(inner, GuardConfig{BreakerFailures: 2}, metrics, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := g.Complete(context.Background(), "p", Options{}); !errors.Is(err, ErrServiceUnavailable) {
			t.Fatalf("call %d error = %v", i, err)
		}
	}

	_, err := g.Complete(context.Background(), "p", Options{})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Errorf("open circuit error = %v, want ErrServiceUnavailable", err)
	}
	if inner.calls != 2 {
		t.Errorf("provider calls = %d, want 2 (third call rejected by breaker)", inner.calls)
	}
	if got := counterValue(t, reg, "envinsight_llm_provider_calls_total", "unavailable"); got != 3 {
		t.Errorf("unavailable counter = %v, want 3", got)
	}
}

func TestGuarded_InvalidResponseDoesNotTrip(t *testing.T) {
	inner := &scriptedGateway{
		errs:   []error{ErrInvalidResponse, ErrInvalidResponse, ErrInvalidResponse},
		result: "ok",
	}
	g := NewGuarded(inner, GuardConfig{BreakerFailures: 2}, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, _ = g.Complete(context.Background(), "p", Options{})
	}
	text, err := g.Complete(context.Background(), "p", Options{})
	if err != nil || text != "ok" {
		t.Errorf("Complete() = %q, %v; want ok", text, err)
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrRateLimited, "rate_limited"},
		{ErrServiceUnavailable, "unavailable"},
		{ErrInvalidResponse, "invalid_response"},
		{ErrTimeout, "timeout"},
		{ErrNoProviders, "no_providers"},
		{errors.New("x"), "error"},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
