// Package idle ends a session after a period without user activity.
package idle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/telemetry"
)

// DefaultTimeout is how long a session may go without qualifying activity.
const DefaultTimeout = 25 * time.Minute

// ErrAlreadyAttached is returned when a second activity source is attached.
var ErrAlreadyAttached = errors.New("activity source already attached")

// Activity is a user interaction event.
type Activity int

const (
	PointerMove Activity = iota
	KeyPress
	Scroll
	Focus
)

// Qualifies reports whether the activity keeps the session alive.
// Only pointer movement and key presses count.
func (a Activity) Qualifies() bool {
	return a == PointerMove || a == KeyPress
}

func (a Activity) String() string {
	switch a {
	case PointerMove:
		return "pointer_move"
	case KeyPress:
		return "key_press"
	case Scroll:
		return "scroll"
	case Focus:
		return "focus"
	default:
		return "unknown"
	}
}

// Monitor owns the single idle timer. At most one expiry is pending at any
// time; every re-arm cancels the previous one first.
type Monitor struct {
	mu         sync.Mutex
	timeout    time.Duration
	onExpire   func(gen uint64)
	timer      *time.Timer
	generation uint64
	deadline   time.Time

	attached atomic.Bool
	metrics  *telemetry.Metrics
}

// NewMonitor creates a disarmed monitor. onExpire is called from the timer
// goroutine when the timeout elapses without qualifying activity. It receives
// the generation of the timer that fired; see Current.
func NewMonitor(timeout time.Duration, onExpire func(gen uint64), metrics *telemetry.Metrics) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if metrics == nil {
		metrics = telemetry.GetMetrics()
	}
	return &Monitor{
		timeout:  timeout,
		onExpire: onExpire,
		metrics:  metrics,
	}
}

// Timeout returns the configured idle timeout.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Arm cancels any pending expiry and schedules a new one at now + timeout.
func (m *Monitor) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armLocked()
}

func (m *Monitor) armLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}

	m.generation++
	gen := m.generation
	m.deadline = time.Now().Add(m.timeout)
	m.timer = time.AfterFunc(m.timeout, func() { m.expire(gen) })
}

// Stop cancels the pending expiry, if any.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	// A callback that already fired but has not taken the lock yet is now stale
	m.generation++
	m.deadline = time.Time{}
}

// Current reports whether gen is still the latest generation, that is, no
// Arm or Stop has happened since the timer of that generation fired.
func (m *Monitor) Current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

// Armed returns true while an expiry is pending.
func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Remaining returns the time left before expiry, or 0 when disarmed.
func (m *Monitor) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer == nil {
		return 0
	}
	return max(time.Until(m.deadline), 0)
}

// Observe re-arms the timer for qualifying activity. Activity while disarmed
// is ignored, so user input never starts a timer for an anonymous session.
func (m *Monitor) Observe(a Activity) {
	if !a.Qualifies() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer == nil {
		return
	}

	m.armLocked()
	m.metrics.IdleRearmsTotal.Add(context.Background(), 1)
}

// Attach feeds activity from source into the monitor until ctx is done or
// source is closed. Only one source may be attached for the monitor's
// lifetime.
func (m *Monitor) Attach(ctx context.Context, source <-chan Activity) error {
	if !m.attached.CompareAndSwap(false, true) {
		return ErrAlreadyAttached
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case a, ok := <-source:
				if !ok {
					return
				}
				m.Observe(a)
			}
		}
	}()

	return nil
}

func (m *Monitor) expire(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.deadline = time.Time{}
	callback := m.onExpire
	m.mu.Unlock()

	log.Info().Dur("timeout", m.timeout).Msg("session idle timeout reached")

	if callback != nil {
		callback(gen)
	}
}
