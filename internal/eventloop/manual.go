package eventloop

import (
	"context"
	"sort"
	"time"
)

// Manual is a deterministic Scheduler for tests. Nothing runs until the test
// drains posts, completes jobs or advances time.
type Manual struct {
	now    time.Duration
	posted []func()
	jobs   []*Job
	timers []*manualTimer
	seq    int
}

var _ Scheduler = (*Manual)(nil)

func NewManual() *Manual { return &Manual{} }

// Job is one pending Async call.
type Job struct {
	m    *Manual
	ctx  context.Context
	work func(context.Context)
	done func()
	ran  bool
}

// Complete runs the job's work and completion, then drains posts.
func (j *Job) Complete() {
	if j.ran {
		return
	}
	j.ran = true
	j.m.remove(j)
	j.work(j.ctx)
	j.done()
	j.m.Drain()
}

func (m *Manual) Post(fn func()) {
	if fn != nil {
		m.posted = append(m.posted, fn)
	}
}

func (m *Manual) Async(ctx context.Context, work func(context.Context), done func()) {
	m.jobs = append(m.jobs, &Job{m: m, ctx: ctx, work: work, done: done})
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.seq++
	t := &manualTimer{at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Pending is the number of Async jobs not yet completed.
func (m *Manual) Pending() int { return len(m.jobs) }

// Job returns the i-th pending job in issue order.
func (m *Manual) Job(i int) *Job { return m.jobs[i] }

// Drain runs posted functions until none are left.
func (m *Manual) Drain() {
	for len(m.posted) > 0 {
		fn := m.posted[0]
		m.posted = m.posted[1:]
		fn()
	}
}

// RunAll completes pending jobs in issue order, including jobs created while
// running, and drains posts.
func (m *Manual) RunAll() {
	m.Drain()
	for len(m.jobs) > 0 {
		m.jobs[0].Complete()
	}
}

// Advance moves the clock forward and fires due timers in order.
func (m *Manual) Advance(d time.Duration) {
	m.now += d
	for {
		due := m.dueTimers()
		if len(due) == 0 {
			break
		}
		for _, t := range due {
			t.fired = true
			t.fn()
			m.Drain()
		}
	}
}

func (m *Manual) dueTimers() []*manualTimer {
	var due []*manualTimer
	keep := m.timers[:0]
	for _, t := range m.timers {
		switch {
		case t.stopped || t.fired:
		case t.at <= m.now:
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	m.timers = keep
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	return due
}

func (m *Manual) remove(j *Job) {
	for i, x := range m.jobs {
		if x == j {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			return
		}
	}
}

type manualTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
