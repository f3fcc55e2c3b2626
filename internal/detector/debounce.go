package detector

import (
	"sync"
	"time"
)

type DebounceState int

const (
	DebounceIdle DebounceState = iota
	DebouncePending
	DebounceStopped
)

func (s DebounceState) String() string {
	switch s {
	case DebounceIdle:
		return "idle"
	case DebouncePending:
		return "pending"
	case DebounceStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Debouncer runs fn once after window has elapsed since the last Trigger.
//
// Transitions:
//
//	Idle    --Trigger--> Pending
//	Pending --Trigger--> Pending (pending run cancelled, window restarts)
//	Pending --fire-----> Idle    (fn runs once)
//	any     --Stop-----> Stopped (Trigger is a no-op afterwards)
//
// Each Trigger bumps a generation so a timer that already fired but lost the
// race to the lock cannot run a superseded operation.
type Debouncer struct {
	window time.Duration
	fn     func()

	mu    sync.Mutex
	state DebounceState
	gen   uint64
	timer *time.Timer
}

func NewDebouncer(window time.Duration, fn func()) *Debouncer {
	return &Debouncer{window: window, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DebounceStopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.state = DebouncePending
	d.timer = time.AfterFunc(d.window, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.state != DebouncePending || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.state = DebounceIdle
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// Stop cancels any pending run. It does not wait for a run already in progress.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.state = DebounceStopped
}

func (d *Debouncer) State() DebounceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Debouncer) Pending() bool { return d.State() == DebouncePending }
