package circuit_breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/eleven-am/orchestra/internal/domain"
	"github.com/eleven-am/orchestra/internal/ports"
)

func testConfig() domain.CircuitBreakerConfig {
	return domain.CircuitBreakerConfig{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		OpenInterval:        50 * time.Millisecond,
		HalfOpenMaxRequests: 1,
	}
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("m1", testConfig(), nil)

	if cb.State() != ports.StateClosed {
		t.Errorf("Expected StateClosed, got %v", cb.State())
	}
	if err := cb.Allow(); err != nil {
		t.Errorf("Expected closed breaker to allow, got %v", err)
	}
	cb.Record(nil)

	if cb.Metrics().SuccessCount != 1 {
		t.Errorf("Expected one success, got %d", cb.Metrics().SuccessCount)
	}
}

func TestCircuitBreakerOpensOnConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("m1", testConfig(), nil)

	for i := 0; i < 3; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("attempt %d rejected: %v", i, err)
		}
		cb.Record(errors.New("boom"))
	}

	if cb.State() != ports.StateOpen {
		t.Fatalf("Expected StateOpen after failures, got %v", cb.State())
	}

	if err := cb.Allow(); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if cb.Metrics().RequestsRejected != 1 {
		t.Errorf("Expected one rejected request, got %d", cb.Metrics().RequestsRejected)
	}
}

func TestCircuitBreakerSuccessResetsFailureStreak(t *testing.T) {
	cb := NewCircuitBreaker("m1", testConfig(), nil)

	for _, err := range []error{errors.New("a"), errors.New("b"), nil, errors.New("c"), errors.New("d")} {
		_ = cb.Allow()
		cb.Record(err)
	}

	if cb.State() != ports.StateClosed {
		t.Errorf("Expected breaker to stay closed, got %v", cb.State())
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("m1", testConfig(), nil).(*moduleBreaker)
	now := time.Now()
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_ = cb.Allow()
		cb.Record(errors.New("boom"))
	}

	now = now.Add(100 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("Expected half-open probe to be allowed, got %v", err)
	}
	if cb.State() != ports.StateHalfOpen {
		t.Fatalf("Expected StateHalfOpen, got %v", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("Expected second concurrent probe to be rejected, got %v", err)
	}

	cb.Record(nil)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Expected next probe to be allowed, got %v", err)
	}
	cb.Record(nil)

	if cb.State() != ports.StateClosed {
		t.Errorf("Expected StateClosed after successful probes, got %v", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("m1", testConfig(), nil).(*moduleBreaker)
	now := time.Now()
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_ = cb.Allow()
		cb.Record(errors.New("boom"))
	}
	now = now.Add(time.Second)

	_ = cb.Allow()
	cb.Record(errors.New("still down"))

	if cb.State() != ports.StateOpen {
		t.Errorf("Expected StateOpen after failed probe, got %v", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker("m1", testConfig(), nil)
	for i := 0; i < 3; i++ {
		_ = cb.Allow()
		cb.Record(errors.New("boom"))
	}

	cb.Reset()

	if cb.State() != ports.StateClosed {
		t.Errorf("Expected StateClosed after reset, got %v", cb.State())
	}
	if cb.Metrics().FailureCount != 0 {
		t.Errorf("Expected counters cleared, got %d failures", cb.Metrics().FailureCount)
	}
}

func TestProviderPerModule(t *testing.T) {
	p := NewProvider(testConfig(), nil)

	a := p.ForModule("a")
	if a == nil || a != p.ForModule("a") {
		t.Fatal("Expected the same breaker for the same module")
	}
	if a == p.ForModule("b") {
		t.Error("Expected distinct breakers per module")
	}
	if len(p.Metrics()) != 2 {
		t.Errorf("Expected metrics for 2 modules, got %d", len(p.Metrics()))
	}

	disabled := NewProvider(domain.CircuitBreakerConfig{Disabled: true}, nil)
	if disabled.ForModule("a") != nil {
		t.Error("Expected nil breaker when disabled")
	}
}
