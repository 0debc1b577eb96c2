package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Handle identifies a scheduled timer. Zero is never a valid handle.
type Handle uint64

// Callback is the unit of deferred work.
type Callback func() error

// Reporter receives errors returned (or panics raised) by callbacks.
type Reporter func(err error)

var (
	ErrNilCallback   = errors.New("callback is nil")
	ErrNegativeDelay = errors.New("delay must not be negative")
	ErrInvalidPeriod = errors.New("interval period must be positive")
	ErrInvalidTimes  = errors.New("times must be positive")
	ErrGroupStopped  = errors.New("timer group is stopped")
	ErrCallbackPanic = errors.New("callback panicked")
)

// EmptyRunPolicy decides what DoNTimes does when asked for zero runs.
type EmptyRunPolicy int

const (
	// EmptyRunDeferred schedules the completion callback with zero delay.
	EmptyRunDeferred EmptyRunPolicy = iota
	// EmptyRunImmediate runs the completion callback before DoNTimes returns.
	EmptyRunImmediate
	// EmptyRunReject fails with ErrInvalidTimes.
	EmptyRunReject
)

func (p EmptyRunPolicy) String() string {
	switch p {
	case EmptyRunDeferred:
		return "deferred"
	case EmptyRunImmediate:
		return "immediate"
	case EmptyRunReject:
		return "reject"
	}
	return fmt.Sprintf("EmptyRunPolicy(%d)", int(p))
}

// ParseEmptyRunPolicy maps a config value to a policy.
func ParseEmptyRunPolicy(value string) (EmptyRunPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "deferred":
		return EmptyRunDeferred, nil
	case "immediate":
		return EmptyRunImmediate, nil
	case "reject":
		return EmptyRunReject, nil
	}
	return 0, fmt.Errorf("unknown empty run policy %q", value)
}

// Scheduler runs callbacks on a single cooperative timeline. Callbacks
// never run concurrently with each other: Tick executes them one at a
// time and a long callback delays everything behind it.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	policy EmptyRunPolicy

	lastHandle Handle
	lastSeq    uint64
	timers     map[Handle]*timer
	queue      timerQueue

	reporter Reporter
}

// New builds a scheduler reading time from clock.
func New(clock Clock, policy EmptyRunPolicy) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		clock:  clock,
		policy: policy,
		timers: make(map[Handle]*timer),
		queue:  timerQueue{},
		reporter: func(err error) {
			log.WithError(err).Error("[Scheduler] callback failed")
		},
	}
}

// SetReporter replaces the reporter used for timers created outside a group.
func (s *Scheduler) SetReporter(reporter Reporter) {
	if reporter == nil {
		return
	}
	s.mu.Lock()
	s.reporter = reporter
	s.mu.Unlock()
}

// Now returns the scheduler's notion of the current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Len returns the number of live timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// SetTimeout runs cb once, no earlier than delay from now.
func (s *Scheduler) SetTimeout(cb Callback, delay time.Duration) (Handle, error) {
	return s.schedule(nil, cb, delay, 0, false)
}

// SetInterval runs cb every delay, the first time after one delay.
func (s *Scheduler) SetInterval(cb Callback, delay time.Duration) (Handle, error) {
	if delay <= 0 {
		return 0, ErrInvalidPeriod
	}
	return s.schedule(nil, cb, delay, delay, false)
}

// DoAfter is SetTimeout with the delay expressed in seconds.
func (s *Scheduler) DoAfter(seconds float64, task Callback) (Handle, error) {
	delay, err := secondsToDuration(seconds)
	if err != nil {
		return 0, err
	}
	return s.SetTimeout(task, delay)
}

// DoNTimes runs task times times, delay apart, then done once.
func (s *Scheduler) DoNTimes(task Callback, times int, delay time.Duration, done Callback) (Handle, error) {
	return s.doNTimes(nil, task, times, delay, done)
}

// Post queues fn to run on the next tick.
func (s *Scheduler) Post(fn Callback) (Handle, error) {
	return s.SetTimeout(fn, 0)
}

// ClearInterval cancels a timer. Unknown, fired and already cancelled
// handles are ignored, and a callback may cancel its own timer.
func (s *Scheduler) ClearInterval(handle Handle) {
	s.cancel(nil, handle, false)
}

// Pending reports whether handle still refers to a live timer.
func (s *Scheduler) Pending(handle Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[handle]
	return ok
}

// Tick runs every timer that is due. Timers created by callbacks during
// this tick run no earlier than the next one. It returns the number of
// callbacks executed.
func (s *Scheduler) Tick() int {
	now := s.clock.Now()

	s.mu.Lock()
	limit := s.lastSeq
	s.mu.Unlock()

	ran := 0
	for {
		t := s.popDue(now, limit)
		if t == nil {
			return ran
		}
		ran++
		err := invoke(t.fn)
		s.finish(t, err)
	}
}

// Run ticks the scheduler every period until ctx is done.
func (s *Scheduler) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log.WithField("period", period).Info("[Scheduler] tick loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info("[Scheduler] tick loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *Scheduler) doNTimes(g *Group, task Callback, times int, delay time.Duration, done Callback) (Handle, error) {
	if task == nil {
		return 0, ErrNilCallback
	}
	if delay < 0 {
		return 0, ErrNegativeDelay
	}
	if times <= 0 {
		return s.emptyRun(g, done)
	}

	remaining := times
	var handle Handle
	run := func() error {
		if err := task(); err != nil {
			return err
		}
		if !s.Pending(handle) {
			return nil
		}
		remaining--
		if remaining > 0 {
			return nil
		}
		var err error
		if done != nil {
			err = done()
		}
		s.cancel(nil, handle, false)
		return err
	}

	period := delay
	if period == 0 {
		// the due time still has to move forward between runs
		period = time.Nanosecond
	}
	h, err := s.schedule(g, run, delay, period, true)
	if err != nil {
		return 0, err
	}
	handle = h
	return h, nil
}

func (s *Scheduler) emptyRun(g *Group, done Callback) (Handle, error) {
	switch s.policy {
	case EmptyRunReject:
		return 0, ErrInvalidTimes
	case EmptyRunImmediate:
		if done == nil {
			return 0, nil
		}
		return 0, invoke(done)
	default:
		if done == nil {
			return 0, nil
		}
		return s.schedule(g, done, 0, 0, false)
	}
}

func (s *Scheduler) schedule(g *Group, cb Callback, delay, period time.Duration, stopOnError bool) (Handle, error) {
	if cb == nil {
		return 0, ErrNilCallback
	}
	if delay < 0 {
		return 0, ErrNegativeDelay
	}
	if period < 0 {
		return 0, ErrInvalidPeriod
	}
	if g != nil && g.isStopped() {
		return 0, ErrGroupStopped
	}

	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastHandle++
	s.lastSeq++
	t := &timer{
		handle:      s.lastHandle,
		due:         now.Add(delay),
		period:      period,
		seq:         s.lastSeq,
		fn:          cb,
		group:       g,
		stopOnError: stopOnError,
		index:       -1,
	}
	s.timers[t.handle] = t
	heap.Push(&s.queue, t)
	return t.handle, nil
}

// cancel removes handle. With a group, only that group's timers match.
func (s *Scheduler) cancel(g *Group, handle Handle, requireGroup bool) {
	s.mu.Lock()
	t, ok := s.timers[handle]
	if !ok || (requireGroup && t.group != g) {
		s.mu.Unlock()
		return
	}
	s.remove(t)
	s.mu.Unlock()

	t.group.released(t.handle)
}

// cancelGroup removes every timer owned by g.
func (s *Scheduler) cancelGroup(g *Group) int {
	s.mu.Lock()
	removed := make([]Handle, 0)
	for handle, t := range s.timers {
		if t.group == g {
			s.remove(t)
			removed = append(removed, handle)
		}
	}
	s.mu.Unlock()

	for _, handle := range removed {
		g.released(handle)
	}
	return len(removed)
}

// remove must be called with s.mu held.
func (s *Scheduler) remove(t *timer) {
	delete(s.timers, t.handle)
	if t.index >= 0 {
		heap.Remove(&s.queue, t.index)
	}
}

func (s *Scheduler) popDue(now time.Time, limit uint64) *timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	next := s.queue[0]
	if next.due.After(now) || next.seq > limit {
		return nil
	}
	return heap.Pop(&s.queue).(*timer)
}

func (s *Scheduler) finish(t *timer, runErr error) {
	s.mu.Lock()
	current, live := s.timers[t.handle]
	released := false
	if live && current == t {
		if t.period == 0 || (runErr != nil && t.stopOnError) {
			delete(s.timers, t.handle)
			released = true
		} else {
			t.due = t.due.Add(t.period)
			heap.Push(&s.queue, t)
		}
	}
	reporter := s.reporter
	s.mu.Unlock()

	if released {
		t.group.released(t.handle)
	}
	if runErr == nil {
		return
	}

	log.WithFields(log.Fields{
		"handle": t.handle,
		"group":  t.group.Name(),
	}).WithError(runErr).Debug("[Scheduler] callback returned error")

	if t.group != nil && t.group.reporter != nil {
		t.group.reporter(runErr)
		return
	}
	reporter(runErr)
}

func invoke(fn Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()
	return fn()
}

func secondsToDuration(seconds float64) (time.Duration, error) {
	if math.IsNaN(seconds) || seconds < 0 {
		return 0, ErrNegativeDelay
	}
	if seconds > math.MaxInt64/float64(time.Second) {
		return 0, fmt.Errorf("delay of %v seconds is too large", seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
