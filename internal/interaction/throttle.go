package interaction

import "sync"

// FrameThrottle coalesces updates so that at most one runs per rendered
// frame. Requests made while one is pending replace it.
type FrameThrottle struct {
	mu        sync.Mutex
	pending   func()
	scheduled bool
	schedule  func(func())
}

// NewFrameThrottle returns a throttle that asks schedule to run Flush on the
// next frame. With a nil schedule the host must call Flush from its frame
// loop.
func NewFrameThrottle(schedule func(func())) *FrameThrottle {
	return &FrameThrottle{schedule: schedule}
}

// Request queues fn for the next frame.
func (f *FrameThrottle) Request(fn func()) {
	f.mu.Lock()
	f.pending = fn
	needSchedule := !f.scheduled && f.schedule != nil
	f.scheduled = true
	f.mu.Unlock()

	if needSchedule {
		f.schedule(func() { f.Flush() })
	}
}

// Flush runs the pending update, if any, and reports whether one ran.
func (f *FrameThrottle) Flush() bool {
	f.mu.Lock()
	fn := f.pending
	f.pending = nil
	f.scheduled = false
	f.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether an update is waiting.
func (f *FrameThrottle) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending != nil
}

// Discard drops the pending update.
func (f *FrameThrottle) Discard() {
	f.mu.Lock()
	f.pending = nil
	f.mu.Unlock()
}
