package client

import (
	"sync"
	"time"
)

const (
	// defaultQuietInterval is the minimum gap between outbound typing
	// pulses during a burst of keystrokes.
	defaultQuietInterval = 2 * time.Second
	// defaultRemoteExpiry is how long a remote typing indicator stays
	// lit without a fresh pulse.
	defaultRemoteExpiry = 3 * time.Second
)

// TypingSignal tracks composing state for both ends of the open
// conversation. Outbound: Keystroke throttles pulses to one per quiet
// interval. Inbound: RemotePulse lights the indicator and arms an expiry
// timer that is re-armed, never stacked, so the indicator clears on its
// own even if no stop signal ever arrives.
type TypingSignal struct {
	mu sync.Mutex

	quiet    time.Duration
	expiry   time.Duration
	lastSent time.Time

	active   bool
	timer    *time.Timer
	onChange func(active bool)
}

// NewTypingSignal uses the default intervals. onChange may be nil; when
// set it fires on every transition of the remote indicator.
func NewTypingSignal(onChange func(active bool)) *TypingSignal {
	return NewTypingSignalWithIntervals(defaultQuietInterval, defaultRemoteExpiry, onChange)
}

func NewTypingSignalWithIntervals(quiet, expiry time.Duration, onChange func(active bool)) *TypingSignal {
	return &TypingSignal{quiet: quiet, expiry: expiry, onChange: onChange}
}

// Keystroke records a local keystroke and reports whether a typing pulse
// should go out now. At most one pulse per quiet interval; a continuous
// typist re-pulses just often enough to keep the remote timer renewed.
func (t *TypingSignal) Keystroke(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.lastSent) < t.quiet {
		return false
	}
	t.lastSent = now
	return true
}

// RemotePulse lights the remote typing indicator and re-arms its expiry
// timer. A fresh pulse before expiry extends the window rather than
// accumulating timers.
func (t *TypingSignal) RemotePulse() {
	t.mu.Lock()
	wasActive := t.active
	t.active = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.expiry, t.expire)
	cb := t.onChange
	t.mu.Unlock()

	if !wasActive && cb != nil {
		cb(true)
	}
}

func (t *TypingSignal) expire() {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	t.timer = nil
	cb := t.onChange
	t.mu.Unlock()

	if wasActive && cb != nil {
		cb(false)
	}
}

// Active reports whether the remote indicator is currently lit.
func (t *TypingSignal) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Reset clears all state, cancelling any pending expiry. Used on
// conversation switch so a stale indicator never leaks across threads.
func (t *TypingSignal) Reset() {
	t.mu.Lock()
	t.active = false
	t.lastSent = time.Time{}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}
