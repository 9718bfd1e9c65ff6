package session

import (
	"sync"
	"time"
)

// DefaultDebounce is the input quiescence interval before a query is issued.
const DefaultDebounce = 800 * time.Millisecond

// Debouncer runs the most recently triggered function once no trigger has arrived for the delay.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending func()
}

// NewDebouncer creates a Debouncer. delay <= 0 uses DefaultDebounce.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}

	return &Debouncer{delay: delay}
}

// Trigger schedules fn, replacing any function still waiting and restarting the delay.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}

	d.pending = fn
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Flush runs the waiting function immediately. It returns false when nothing was waiting.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	fn := d.pending
	d.pending = nil
	d.mu.Unlock()

	if fn == nil {
		return false
	}

	fn()

	return true
}

// Stop drops the waiting function. It returns true when one was dropped.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	dropped := d.pending != nil
	d.pending = nil

	return dropped
}
