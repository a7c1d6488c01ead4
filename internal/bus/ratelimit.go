package bus

import (
	"sync"
	"time"
)

// #region mode

// LimitMode selects how a rate-limited topic coalesces bursts.
type LimitMode string

const (
	// Throttle delivers the leading call immediately and the trailing call
	// when the window closes; everything in between is dropped.
	Throttle LimitMode = "throttle"
	// Debounce delivers only the trailing call once the topic has been
	// quiet for a full window.
	Debounce LimitMode = "debounce"
)

// #endregion mode

// #region limiter

// limiter coalesces publishes for one (namespace,type) key. Pending
// deliveries that have not fired by close() are dropped, not flushed.
type limiter struct {
	mode    LimitMode
	window  time.Duration
	deliver func(Event)

	mu          sync.Mutex
	pending     *Event
	timer       *time.Timer
	gen         uint64
	lastLeading time.Time
	closed      bool
}

func newLimiter(mode LimitMode, window time.Duration, deliver func(Event)) *limiter {
	return &limiter{mode: mode, window: window, deliver: deliver}
}

// #endregion limiter

// #region submit

func (l *limiter) submit(e Event) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}

	switch l.mode {
	case Throttle:
		now := time.Now()
		if l.timer == nil && now.Sub(l.lastLeading) >= l.window {
			// Leading edge: deliver synchronously.
			l.lastLeading = now
			l.mu.Unlock()
			l.deliver(e)
			return
		}
		l.pending = &e
		if l.timer == nil {
			wait := l.window - now.Sub(l.lastLeading)
			if wait <= 0 {
				wait = l.window
			}
			l.timer = l.arm(wait)
		}
		l.mu.Unlock()

	case Debounce:
		l.pending = &e
		if l.timer != nil {
			l.timer.Stop()
		}
		l.timer = l.arm(l.window)
		l.mu.Unlock()

	default:
		l.mu.Unlock()
	}
}

// #endregion submit

// #region flush

// arm starts a flush timer tied to the current generation. Callers hold
// l.mu.
func (l *limiter) arm(wait time.Duration) *time.Timer {
	l.gen++
	gen := l.gen
	return time.AfterFunc(wait, func() { l.flush(gen) })
}

func (l *limiter) flush(gen uint64) {
	l.mu.Lock()
	// A Stop() that lost the race against an already-fired timer leaves a
	// stale flush in flight; it must not short-circuit the fresh window.
	if gen != l.gen || l.closed {
		l.mu.Unlock()
		return
	}
	e := l.pending
	l.pending = nil
	l.timer = nil
	if l.mode == Throttle {
		l.lastLeading = time.Now()
	}
	l.mu.Unlock()

	if e != nil {
		l.deliver(*e)
	}
}

func (l *limiter) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.gen++
	l.pending = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// #endregion flush
