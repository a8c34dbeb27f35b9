// Package breaker implements C7: a per-subsystem circuit breaker with the
// CLOSED/OPEN/HALF_OPEN state machine of spec §4.7. It is grounded on the
// inline circuit-breaker fields of the kubernaut query-executor reference
// (circuitOpen, consecutiveFailures, circuitOpenTime, threshold, timeout),
// generalized into a reusable type with the HALF_OPEN single-probe
// invariant enforced by an atomic compare-and-swap rather than the
// reference's plain bool, since the core may call a breaker from many
// goroutines concurrently.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/askdba/govern/internal/coretypes"
	"github.com/askdba/govern/internal/orcherr"
)

// Config carries the threshold and cooldown named in spec §4.7,
// "Thresholds and cooldown come from ResilienceConfig."
type Config struct {
	FailureThreshold int
	CooldownTimeout  time.Duration
}

// Breaker is one instance of the state machine; the orchestrator keeps one
// per DatabaseId plus one for the LLM (spec §4.7).
type Breaker struct {
	cfg Config

	mu           sync.Mutex
	phase        coretypes.CircuitPhase
	failureCount int
	openedAt     time.Time

	probeInFlight atomic.Bool
}

func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, phase: coretypes.CircuitClosed}
}

// State returns a snapshot suitable for the health RPC response.
func (b *Breaker) State() coretypes.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return coretypes.CircuitState{Phase: b.phase, FailureCount: b.failureCount, OpenedAt: b.openedAt}
}

// admit decides, under lock, whether a call may proceed right now. It
// transitions OPEN->HALF_OPEN when the cooldown has elapsed, and claims the
// single HALF_OPEN probe slot if this call is the one admitted.
func (b *Breaker) admit() (admitted bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case coretypes.CircuitOpen:
		if time.Since(b.openedAt) < b.cfg.CooldownTimeout {
			return false, false
		}
		b.phase = coretypes.CircuitHalfOpen
		fallthrough
	case coretypes.CircuitHalfOpen:
		if b.probeInFlight.CompareAndSwap(false, true) {
			return true, true
		}
		return false, false
	default: // CLOSED
		return true, false
	}
}

func (b *Breaker) onSuccess(isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.phase = coretypes.CircuitClosed
	b.failureCount = 0
	if isProbe {
		b.probeInFlight.Store(false)
	}
}

func (b *Breaker) onFailure(isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if isProbe {
		b.probeInFlight.Store(false)
		b.phase = coretypes.CircuitOpen
		b.openedAt = time.Now()
		return
	}
	b.failureCount++
	if b.failureCount >= b.cfg.FailureThreshold {
		b.phase = coretypes.CircuitOpen
		b.openedAt = time.Now()
	}
}

// Call runs op if the breaker currently admits calls, else returns
// CircuitOpen without invoking op. Only non-retryable failures (per the
// orchestrator's classification of op's error) move the failure counter;
// callers pass retryable via the bool return of classify, matching the
// spec's "on non-retryable-error increment failure counter" rule for
// CLOSED-state calls. In HALF_OPEN, any failure of the probe reopens the
// circuit regardless of retryability.
func (b *Breaker) Call(op func() error, classify func(error) (retryable bool)) error {
	admitted, isProbe := b.admit()
	if !admitted {
		return orcherr.CircuitBreakerOpen()
	}

	err := op()
	if err == nil {
		b.onSuccess(isProbe)
		return nil
	}

	if isProbe {
		b.onFailure(true)
		return err
	}

	if classify == nil || !classify(err) {
		b.onFailure(false)
	}
	return err
}
