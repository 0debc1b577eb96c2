package scheduler

import "time"

type timer struct {
	handle Handle
	due    time.Time
	period time.Duration
	seq    uint64
	fn     Callback
	group  *Group

	// stopOnError ends a repeating timer on the first failed run.
	stopOnError bool

	// index in timerQueue, -1 while not queued.
	index int
}

// timerQueue orders timers by due time, then by creation order.
type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
