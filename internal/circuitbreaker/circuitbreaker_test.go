package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/samuelleonard/expiro/internal/mail"
)

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:                "test",
		MaxFailures:         maxFailures,
		RecoveryTimeout:     recovery,
		HalfOpenMaxRequests: 1,
	}, zap.NewNop())
}

func TestBreaker_StartsClosed(t *testing.T) {
	cb := newTestBreaker(3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("initial state = %s, want closed", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("closed breaker must allow requests")
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("state after 3 failures = %s, want open", cb.GetState())
	}
	if cb.Allow() {
		t.Error("open breaker must reject requests")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Errorf("non-consecutive failures opened the breaker: %s", cb.GetState())
	}
}

func TestBreaker_HalfOpenProbeAfterRecoveryTimeout(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("breaker should allow a probe after the recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.GetState())
	}

	// A successful probe closes the circuit.
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("state after probe success = %s, want closed", cb.GetState())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow() // probe
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Errorf("state after probe failure = %s, want open", cb.GetState())
	}
}

func TestBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Errorf("state after reset = %s, want closed", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("reset breaker must allow requests")
	}
}

// flakySender fails a fixed number of times, then succeeds.
type flakySender struct {
	failures int
	calls    int
}

func (s *flakySender) Send(ctx context.Context, msg mail.Message) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("transport down")
	}
	return nil
}

func (s *flakySender) Name() string { return "flaky" }

func TestProtectedSender_FailsFastWhenOpen(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)
	inner := &flakySender{failures: 100}
	sender := NewProtectedSender(inner, cb, zap.NewNop())

	msg := mail.Message{To: "sam@example.com", Subject: "s", HTML: "<p>b</p>"}

	// Two failures trip the breaker.
	for i := 0; i < 2; i++ {
		if err := sender.Send(context.Background(), msg); err == nil {
			t.Fatal("expected delivery failure")
		}
	}

	err := sender.Send(context.Background(), msg)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if inner.calls != 2 {
		t.Errorf("transport called %d times, want 2 (fail fast)", inner.calls)
	}
}

// rejectingSender refuses every message as malformed.
type rejectingSender struct {
	calls int
}

func (s *rejectingSender) Send(ctx context.Context, msg mail.Message) error {
	s.calls++
	return fmt.Errorf("%w: recipient is required", mail.ErrInvalidMessage)
}

func (s *rejectingSender) Name() string { return "rejecting" }

func TestProtectedSender_InvalidMessageDoesNotTrip(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)
	inner := &rejectingSender{}
	sender := NewProtectedSender(inner, cb, zap.NewNop())

	msg := mail.Message{Subject: "s", HTML: "<p>b</p>"}

	// Far more rejections than the failure threshold.
	for i := 0; i < 10; i++ {
		err := sender.Send(context.Background(), msg)
		if !errors.Is(err, mail.ErrInvalidMessage) {
			t.Fatalf("err = %v, want ErrInvalidMessage", err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Fatalf("state after invalid messages = %s, want closed", cb.GetState())
	}
	if inner.calls != 10 {
		t.Errorf("transport called %d times, want 10", inner.calls)
	}

	// Genuine transport failures still trip the breaker.
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Errorf("state after transport failures = %s, want open", cb.GetState())
	}
}

func TestProtectedSender_RecoversThroughProbe(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)
	inner := &flakySender{failures: 1}
	sender := NewProtectedSender(inner, cb, zap.NewNop())

	msg := mail.Message{To: "sam@example.com", Subject: "s", HTML: "<p>b</p>"}

	if err := sender.Send(context.Background(), msg); err == nil {
		t.Fatal("first send should fail")
	}

	time.Sleep(20 * time.Millisecond)

	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("probe send failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state after recovery = %s, want closed", cb.GetState())
	}
}
