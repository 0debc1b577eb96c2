package scheduler

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Group is one owner's view of a Scheduler. Timers created through a
// group report their errors to the group and can only be cancelled
// through it; Stop cancels all of them at once.
type Group struct {
	scheduler *Scheduler
	name      string
	reporter  Reporter

	mu        sync.Mutex
	stopped   bool
	onRelease func(Handle)
}

// NewGroup creates a group whose callback errors go to reporter.
func (s *Scheduler) NewGroup(name string, reporter Reporter) *Group {
	return &Group{
		scheduler: s,
		name:      name,
		reporter:  reporter,
	}
}

// Name returns the owner name given at creation. Nil-safe.
func (g *Group) Name() string {
	if g == nil {
		return ""
	}
	return g.name
}

// OnRelease registers fn to be told when a timer of the group is gone for
// good: fired once, cancelled, ended by an error, or stopped.
func (g *Group) OnRelease(fn func(Handle)) {
	g.mu.Lock()
	g.onRelease = fn
	g.mu.Unlock()
}

func (g *Group) SetTimeout(cb Callback, delay time.Duration) (Handle, error) {
	return g.scheduler.schedule(g, cb, delay, 0, false)
}

func (g *Group) SetInterval(cb Callback, delay time.Duration) (Handle, error) {
	if delay <= 0 {
		return 0, ErrInvalidPeriod
	}
	return g.scheduler.schedule(g, cb, delay, delay, false)
}

func (g *Group) DoAfter(seconds float64, task Callback) (Handle, error) {
	delay, err := secondsToDuration(seconds)
	if err != nil {
		return 0, err
	}
	return g.SetTimeout(task, delay)
}

func (g *Group) DoNTimes(task Callback, times int, delay time.Duration, done Callback) (Handle, error) {
	return g.scheduler.doNTimes(g, task, times, delay, done)
}

// ClearInterval cancels one of the group's timers. Handles owned by
// other groups are left alone.
func (g *Group) ClearInterval(handle Handle) {
	g.scheduler.cancel(g, handle, true)
}

// Pending reports whether handle is a live timer of this group.
func (g *Group) Pending(handle Handle) bool {
	s := g.scheduler
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[handle]
	return ok && t.group == g
}

// Stop cancels every timer of the group and refuses new ones.
func (g *Group) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.mu.Unlock()

	cancelled := g.scheduler.cancelGroup(g)
	log.WithFields(log.Fields{
		"group":     g.name,
		"cancelled": cancelled,
	}).Debug("[Scheduler] group stopped")
}

// Clear cancels every timer of the group but keeps it usable.
func (g *Group) Clear() int {
	return g.scheduler.cancelGroup(g)
}

func (g *Group) isStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

func (g *Group) released(handle Handle) {
	if g == nil {
		return
	}
	g.mu.Lock()
	fn := g.onRelease
	g.mu.Unlock()
	if fn != nil {
		fn(handle)
	}
}
