package agent

import (
	"sync"
	"time"
)

// Scheduler is the contract the core requires from the external timer
// service: deliver a callback at or after the requested time.
type Scheduler interface {
	ScheduleAt(at time.Time, fn func())
}

// TimerScheduler is the default Scheduler, backed by the runtime timer
// heap. Callbacks run on timer goroutines; processors needing agent-thread
// affinity should re-enqueue work through their own queues.
type TimerScheduler struct {
	mu     sync.Mutex
	timers []*time.Timer
	closed bool
}

// NewTimerScheduler constructs an empty scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

// ScheduleAt arranges fn to run at or after at. Scheduling on a closed
// scheduler is a no-op.
func (s *TimerScheduler) ScheduleAt(at time.Time, fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers = append(s.timers, time.AfterFunc(delay, fn))
}

// Close cancels all outstanding timers.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}
