// internal/session/timers.go
package session

import "time"

// scheduleTimer registers a named deferred action, replacing any previous
// timer under the same name. Callbacks run on their own goroutine and must
// re-acquire the lock and re-check state before acting, since the condition
// they fire on may no longer hold. Assumes lock held.
func (s *Session) scheduleTimer(name string, d time.Duration, fn func()) {
	if prev, ok := s.timers[name]; ok {
		prev.Stop()
	}
	s.timers[name] = time.AfterFunc(d, fn)
}

// cancelTimer stops and forgets the named timer. Stopping a timer whose
// callback is already running is fine: the callback's own state re-check is
// what makes it a no-op. Assumes lock held.
func (s *Session) cancelTimer(name string) {
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

// cancelAllTimers is part of the terminal transition. Assumes lock held.
func (s *Session) cancelAllTimers() {
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
}
