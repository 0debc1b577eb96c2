package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestScheduler(policy EmptyRunPolicy) (*Scheduler, *ManualClock) {
	clock := NewManualClock(epoch)
	return New(clock, policy), clock
}

func TestSetTimeoutFiresOnceAfterDelay(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	var calls []time.Time
	_, err := s.SetTimeout(func() error {
		calls = append(calls, clock.Now())
		return nil
	}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("set timeout: %v", err)
	}

	clock.Advance(99 * time.Millisecond)
	s.Tick()
	if len(calls) != 0 {
		t.Fatalf("expected no call before delay, got %d", len(calls))
	}

	clock.Advance(time.Millisecond)
	s.Tick()
	clock.Advance(time.Second)
	s.Tick()

	if len(calls) != 1 {
		t.Fatalf("expected exactly one call, got %d", len(calls))
	}
	if calls[0].Sub(epoch) < 100*time.Millisecond {
		t.Fatalf("fired too early at %s", calls[0].Sub(epoch))
	}
	if s.Len() != 0 {
		t.Fatalf("expected no live timers, got %d", s.Len())
	}
}

func TestSetTimeoutZeroDelay(t *testing.T) {
	s, _ := newTestScheduler(EmptyRunDeferred)

	calls := 0
	if _, err := s.SetTimeout(func() error { calls++; return nil }, 0); err != nil {
		t.Fatalf("set timeout: %v", err)
	}
	s.Tick()
	s.Tick()
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestClearIntervalBeforeTimeoutPreventsRun(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	calls := 0
	h, err := s.SetTimeout(func() error { calls++; return nil }, time.Second)
	if err != nil {
		t.Fatalf("set timeout: %v", err)
	}
	s.ClearInterval(h)
	clock.Advance(2 * time.Second)
	s.Tick()

	if calls != 0 {
		t.Fatalf("expected cancelled timeout not to run, got %d", calls)
	}
}

func TestClearIntervalIsIdempotent(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	h, err := s.SetTimeout(func() error { return nil }, time.Millisecond)
	if err != nil {
		t.Fatalf("set timeout: %v", err)
	}
	clock.Advance(time.Millisecond)
	s.Tick()

	// fired, unknown and zero handles are all no-ops
	s.ClearInterval(h)
	s.ClearInterval(h)
	s.ClearInterval(Handle(9999))
	s.ClearInterval(0)
}

func TestSetIntervalClearedAfterKFirings(t *testing.T) {
	for _, k := range []int{1, 2, 5} {
		s, clock := newTestScheduler(EmptyRunDeferred)

		calls := 0
		h, err := s.SetInterval(func() error { calls++; return nil }, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("set interval: %v", err)
		}
		for calls < k {
			clock.Advance(100 * time.Millisecond)
			s.Tick()
		}
		s.ClearInterval(h)

		clock.Advance(time.Second)
		s.Tick()
		if calls != k {
			t.Fatalf("expected %d calls, got %d", k, calls)
		}
	}
}

func TestSetIntervalCatchesUpMissedPeriods(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	calls := 0
	if _, err := s.SetInterval(func() error { calls++; return nil }, 100*time.Millisecond); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	clock.Advance(350 * time.Millisecond)
	s.Tick()
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestSetIntervalSelfCancel(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	calls := 0
	var h Handle
	h, err := s.SetInterval(func() error {
		calls++
		if calls == 2 {
			s.ClearInterval(h)
		}
		return nil
	}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("set interval: %v", err)
	}
	clock.Advance(time.Second)
	s.Tick()
	clock.Advance(time.Second)
	s.Tick()

	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if s.Pending(h) {
		t.Fatal("expected interval to be gone")
	}
}

func TestSetIntervalRejectsNonPositivePeriod(t *testing.T) {
	s, _ := newTestScheduler(EmptyRunDeferred)

	if _, err := s.SetInterval(func() error { return nil }, 0); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestInvalidArguments(t *testing.T) {
	s, _ := newTestScheduler(EmptyRunDeferred)

	if _, err := s.SetTimeout(nil, time.Second); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("expected ErrNilCallback, got %v", err)
	}
	if _, err := s.SetTimeout(func() error { return nil }, -time.Second); !errors.Is(err, ErrNegativeDelay) {
		t.Fatalf("expected ErrNegativeDelay, got %v", err)
	}
	if _, err := s.DoAfter(-1, func() error { return nil }); !errors.Is(err, ErrNegativeDelay) {
		t.Fatalf("expected ErrNegativeDelay, got %v", err)
	}
	if _, err := s.DoNTimes(nil, 3, time.Second, nil); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("expected ErrNilCallback, got %v", err)
	}
}

func TestHandlesAreUnique(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	seen := map[Handle]bool{}
	for i := 0; i < 50; i++ {
		h, err := s.SetTimeout(func() error { return nil }, time.Millisecond)
		if err != nil {
			t.Fatalf("set timeout: %v", err)
		}
		if h == 0 || seen[h] {
			t.Fatalf("duplicate or zero handle %d", h)
		}
		seen[h] = true
		if i%10 == 0 {
			clock.Advance(time.Millisecond)
			s.Tick()
		}
	}
}

func TestDoAfterUsesSeconds(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	calls := 0
	if _, err := s.DoAfter(1.5, func() error { calls++; return nil }); err != nil {
		t.Fatalf("do after: %v", err)
	}
	clock.Advance(1499 * time.Millisecond)
	s.Tick()
	if calls != 0 {
		t.Fatalf("expected no call yet, got %d", calls)
	}
	clock.Advance(time.Millisecond)
	s.Tick()
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoNTimesRunsExactlyNTimes(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	var runs []time.Time
	doneCalls := 0
	_, err := s.DoNTimes(func() error {
		runs = append(runs, clock.Now())
		return nil
	}, 3, 100*time.Millisecond, func() error {
		doneCalls++
		return nil
	})
	if err != nil {
		t.Fatalf("do n times: %v", err)
	}

	for i := 0; i < 10; i++ {
		clock.Advance(50 * time.Millisecond)
		s.Tick()
	}

	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if gap := runs[i].Sub(runs[i-1]); gap < 100*time.Millisecond {
			t.Fatalf("runs %d and %d only %s apart", i-1, i, gap)
		}
	}
	if doneCalls != 1 {
		t.Fatalf("expected done once, got %d", doneCalls)
	}
	if s.Len() != 0 {
		t.Fatalf("expected chain to be complete, %d timers live", s.Len())
	}
}

func TestDoNTimesStopsOnTaskError(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	var reported []error
	s.SetReporter(func(err error) { reported = append(reported, err) })

	runs := 0
	doneCalls := 0
	boom := errors.New("boom")
	_, err := s.DoNTimes(func() error {
		runs++
		if runs == 2 {
			return boom
		}
		return nil
	}, 5, 10*time.Millisecond, func() error {
		doneCalls++
		return nil
	})
	if err != nil {
		t.Fatalf("do n times: %v", err)
	}
	for i := 0; i < 10; i++ {
		clock.Advance(10 * time.Millisecond)
		s.Tick()
	}

	if runs != 2 {
		t.Fatalf("expected chain to end after 2 runs, got %d", runs)
	}
	if doneCalls != 0 {
		t.Fatalf("expected done not to run, got %d", doneCalls)
	}
	if len(reported) != 1 || !errors.Is(reported[0], boom) {
		t.Fatalf("expected boom reported once, got %v", reported)
	}
}

func TestDoNTimesCancelledMidway(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	runs := 0
	doneCalls := 0
	h, err := s.DoNTimes(func() error { runs++; return nil }, 5, 10*time.Millisecond, func() error {
		doneCalls++
		return nil
	})
	if err != nil {
		t.Fatalf("do n times: %v", err)
	}
	clock.Advance(20 * time.Millisecond)
	s.Tick()
	s.ClearInterval(h)
	clock.Advance(time.Second)
	s.Tick()

	if runs != 2 || doneCalls != 0 {
		t.Fatalf("expected 2 runs and no done, got %d runs and %d done", runs, doneCalls)
	}
}

func TestDoNTimesEmptyRunPolicies(t *testing.T) {
	t.Run("deferred", func(t *testing.T) {
		s, _ := newTestScheduler(EmptyRunDeferred)
		taskRuns, doneCalls := 0, 0
		_, err := s.DoNTimes(func() error { taskRuns++; return nil }, 0, time.Second, func() error {
			doneCalls++
			return nil
		})
		if err != nil {
			t.Fatalf("do n times: %v", err)
		}
		if doneCalls != 0 {
			t.Fatal("expected done to wait for the next tick")
		}
		s.Tick()
		if taskRuns != 0 || doneCalls != 1 {
			t.Fatalf("expected 0 task runs and 1 done, got %d and %d", taskRuns, doneCalls)
		}
	})

	t.Run("immediate", func(t *testing.T) {
		s, _ := newTestScheduler(EmptyRunImmediate)
		doneCalls := 0
		_, err := s.DoNTimes(func() error { return nil }, -2, time.Second, func() error {
			doneCalls++
			return nil
		})
		if err != nil {
			t.Fatalf("do n times: %v", err)
		}
		if doneCalls != 1 {
			t.Fatalf("expected done to run synchronously, got %d", doneCalls)
		}
	})

	t.Run("reject", func(t *testing.T) {
		s, _ := newTestScheduler(EmptyRunReject)
		_, err := s.DoNTimes(func() error { return nil }, 0, time.Second, nil)
		if !errors.Is(err, ErrInvalidTimes) {
			t.Fatalf("expected ErrInvalidTimes, got %v", err)
		}
	})
}

func TestParseEmptyRunPolicy(t *testing.T) {
	tests := []struct {
		value string
		want  EmptyRunPolicy
		err   bool
	}{
		{value: "", want: EmptyRunDeferred},
		{value: "deferred", want: EmptyRunDeferred},
		{value: " Immediate ", want: EmptyRunImmediate},
		{value: "reject", want: EmptyRunReject},
		{value: "sometimes", err: true},
	}
	for _, tt := range tests {
		got, err := ParseEmptyRunPolicy(tt.value)
		if tt.err {
			if err == nil {
				t.Fatalf("%q: expected error", tt.value)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tt.value, err)
		}
		if got != tt.want {
			t.Fatalf("%q: expected %s, got %s", tt.value, tt.want, got)
		}
	}
}

func TestPanickingCallbackDoesNotStopScheduler(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	var reported []error
	s.SetReporter(func(err error) { reported = append(reported, err) })

	after := 0
	if _, err := s.SetTimeout(func() error { panic("kaboom") }, time.Millisecond); err != nil {
		t.Fatalf("set timeout: %v", err)
	}
	if _, err := s.SetTimeout(func() error { after++; return nil }, 2*time.Millisecond); err != nil {
		t.Fatalf("set timeout: %v", err)
	}
	clock.Advance(time.Second)
	s.Tick()

	if after != 1 {
		t.Fatalf("expected later timer to run, got %d", after)
	}
	if len(reported) != 1 || !errors.Is(reported[0], ErrCallbackPanic) {
		t.Fatalf("expected one panic report, got %v", reported)
	}
}

func TestIntervalKeepsRunningAfterError(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)
	s.SetReporter(func(error) {})

	calls := 0
	if _, err := s.SetInterval(func() error {
		calls++
		return errors.New("flaky")
	}, 10*time.Millisecond); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	clock.Advance(30 * time.Millisecond)
	s.Tick()
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestTimersCreatedDuringTickWaitForNextTick(t *testing.T) {
	s, _ := newTestScheduler(EmptyRunDeferred)

	calls := 0
	var again Callback
	again = func() error {
		calls++
		_, err := s.Post(again)
		return err
	}
	if _, err := s.Post(again); err != nil {
		t.Fatalf("post: %v", err)
	}

	s.Tick()
	if calls != 1 {
		t.Fatalf("expected 1 call on first tick, got %d", calls)
	}
	s.Tick()
	if calls != 2 {
		t.Fatalf("expected 2 calls after second tick, got %d", calls)
	}
}

func TestTickRunsInDueOrder(t *testing.T) {
	s, clock := newTestScheduler(EmptyRunDeferred)

	var order []string
	add := func(name string, delay time.Duration) {
		if _, err := s.SetTimeout(func() error {
			order = append(order, name)
			return nil
		}, delay); err != nil {
			t.Fatalf("set timeout: %v", err)
		}
	}
	add("c", 30*time.Millisecond)
	add("a", 10*time.Millisecond)
	add("b", 20*time.Millisecond)
	add("a2", 10*time.Millisecond)

	clock.Advance(time.Second)
	s.Tick()

	want := []string{"a", "a2", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s := New(SystemClock, EmptyRunDeferred)

	fired := make(chan struct{}, 1)
	if _, err := s.Post(func() error {
		fired <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("post: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- s.Run(ctx, time.Millisecond) }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("posted callback never ran")
	}
	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
