package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/askdba/govern/internal/coretypes"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, CooldownTimeout: time.Hour})
	failing := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Call(func() error { return failing }, nil)
		if err != failing {
			t.Fatalf("attempt %d: got %v, want the underlying failure", i, err)
		}
	}

	if got := b.State().Phase; got != coretypes.CircuitOpen {
		t.Fatalf("Phase = %v, want OPEN", got)
	}

	err := b.Call(func() error { t.Fatal("op must not run while circuit is open"); return nil }, nil)
	if err == nil {
		t.Fatal("expected CircuitOpen error")
	}
}

func TestBreaker_HalfOpenProbeSucceeds(t *testing.T) {
	b := New(Config{FailureThreshold: 1, CooldownTimeout: 10 * time.Millisecond})

	_ = b.Call(func() error { return errors.New("fail once") }, nil)
	if got := b.State().Phase; got != coretypes.CircuitOpen {
		t.Fatalf("Phase = %v, want OPEN", got)
	}

	time.Sleep(20 * time.Millisecond)

	err := b.Call(func() error { return nil }, nil)
	if err != nil {
		t.Fatalf("probe call error = %v", err)
	}
	if got := b.State().Phase; got != coretypes.CircuitClosed {
		t.Fatalf("Phase after successful probe = %v, want CLOSED", got)
	}
	if got := b.State().FailureCount; got != 0 {
		t.Fatalf("FailureCount after successful probe = %d, want 0", got)
	}
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, CooldownTimeout: 10 * time.Millisecond})
	_ = b.Call(func() error { return errors.New("fail once") }, nil)
	time.Sleep(20 * time.Millisecond)

	_ = b.Call(func() error { return errors.New("probe fails too") }, nil)

	if got := b.State().Phase; got != coretypes.CircuitOpen {
		t.Fatalf("Phase after failed probe = %v, want OPEN", got)
	}
}

func TestBreaker_HalfOpenAdmitsOnlyOneConcurrentProbe(t *testing.T) {
	b := New(Config{FailureThreshold: 1, CooldownTimeout: 10 * time.Millisecond})
	_ = b.Call(func() error { return errors.New("fail once") }, nil)
	time.Sleep(20 * time.Millisecond)

	var admittedCount int32
	var wg sync.WaitGroup
	release := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Call(func() error {
				atomic.AddInt32(&admittedCount, 1)
				<-release
				return nil
			}, nil)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&admittedCount); got != 1 {
		t.Fatalf("admitted probe count = %d, want exactly 1", got)
	}
}

func TestBreaker_RetryableFailureDoesNotTripInClosedState(t *testing.T) {
	b := New(Config{FailureThreshold: 1, CooldownTimeout: time.Hour})
	retryableErr := errors.New("transient")

	_ = b.Call(func() error { return retryableErr }, func(error) bool { return true })

	if got := b.State().Phase; got != coretypes.CircuitClosed {
		t.Fatalf("Phase = %v, want CLOSED (retryable failures don't count)", got)
	}
}
