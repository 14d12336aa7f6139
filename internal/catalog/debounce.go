package catalog

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiescence window before a search recompute runs.
const DefaultDebounce = 300 * time.Millisecond

// Debouncer coalesces rapid updates: fn runs once with the latest value after
// no update has arrived for the configured window.
type Debouncer[T any] struct {
	window time.Duration
	fn     func(T)

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending T
	armed   bool
	stopped bool
}

// NewDebouncer constructs a Debouncer. A non-positive window uses DefaultDebounce.
func NewDebouncer[T any](window time.Duration, fn func(T)) *Debouncer[T] {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer[T]{window: window, fn: fn}
}

// Update records value and restarts the quiescence window.
func (d *Debouncer[T]) Update(value T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.gen++
	d.pending = value
	d.armed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	gen := d.gen
	d.timer = time.AfterFunc(d.window, func() { d.fire(gen) })
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	// a newer Update or Stop superseded this timer
	if gen != d.gen || d.stopped || !d.armed {
		d.mu.Unlock()
		return
	}
	value := d.pending
	d.armed = false
	d.mu.Unlock()
	d.fn(value)
}

// Flush runs fn immediately with the pending value, if any.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if d.stopped || !d.armed {
		d.mu.Unlock()
		return
	}
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	value := d.pending
	d.armed = false
	d.mu.Unlock()
	d.fn(value)
}

// Stop cancels any pending run. Later updates are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.armed = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
}
