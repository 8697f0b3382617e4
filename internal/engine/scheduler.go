// Package engine provides the discrete-event loop that invokes node
// decisions at their own next-event times, plus the simulation state that
// loop drives.
package engine

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// event is one pending node invocation. seq breaks ties between events with
// the same timestamp so runs replay in the same order.
type event struct {
	at   float64
	seq  uint64
	node int
}

type eventQueue []event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)   { *q = append(*q, x.(event)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// stallLimit is how many consecutive events at one timestamp are tolerated
// before the scheduler warns that time has stopped advancing.
const stallLimit = 100000

// Scheduler executes node invocations one at a time in timestamp order.
type Scheduler struct {
	Now            float64 // Simulated seconds of the last processed event
	Realtime       float64 // Simulated seconds per wall-clock second; 0 runs unpaced
	ReportInterval float64 // Simulated seconds between OnReport calls; 0 disables

	// OnEvent runs a node and returns the time of its next invocation.
	OnEvent func(node int, now float64) float64
	// OnReport runs at every multiple of ReportInterval.
	OnReport func(now float64)

	queue      eventQueue
	seq        uint64
	nextReport float64
	running    atomic.Bool
	processed  atomic.Uint64
	pending    atomic.Int64
}

// NewScheduler creates an empty scheduler starting at time 0.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule queues an invocation of node at time at.
func (s *Scheduler) Schedule(node int, at float64) {
	heap.Push(&s.queue, event{at: at, seq: s.seq, node: node})
	s.seq++
	s.pending.Add(1)
}

// Len returns the number of pending invocations. Safe to call while Run is
// in progress.
func (s *Scheduler) Len() int { return int(s.pending.Load()) }

// Running reports whether Run is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Processed returns the number of invocations executed so far.
func (s *Scheduler) Processed() uint64 { return s.processed.Load() }

// Run processes events until the queue drains, simulated time passes until
// (when until > 0), or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, until float64) error {
	if s.OnEvent == nil {
		return fmt.Errorf("scheduler has no event handler")
	}

	s.running.Store(true)
	defer s.running.Store(false)

	if s.ReportInterval > 0 && s.nextReport <= s.Now {
		s.nextReport = (math.Floor(s.Now/s.ReportInterval) + 1) * s.ReportInterval
	}
	slog.Info("scheduler started", "time", s.Now, "until", until, "pending", s.Len())

	stalled := 0
	for len(s.queue) > 0 {
		if err := ctx.Err(); err != nil {
			slog.Info("scheduler stopped", "time", s.Now, "reason", err)
			return nil
		}

		next := s.queue[0]
		if until > 0 && next.at > until {
			s.report(until)
			s.Now = until
			break
		}

		s.report(next.at)
		if err := s.pace(ctx, next.at); err != nil {
			slog.Info("scheduler stopped", "time", s.Now, "reason", err)
			return nil
		}

		heap.Pop(&s.queue)
		s.pending.Add(-1)
		if next.at == s.Now {
			stalled++
			if stalled == stallLimit {
				slog.Warn("simulated time is not advancing", "time", s.Now, "events", stalled)
			}
		} else {
			stalled = 0
		}
		s.Now = next.at
		s.processed.Add(1)

		at := s.OnEvent(next.node, next.at)
		switch {
		case math.IsNaN(at) || math.IsInf(at, 0):
			slog.Error("dropping node with invalid next event time", "node", next.node, "at", at)
			continue
		case at < next.at:
			at = next.at
		}
		s.Schedule(next.node, at)
	}

	slog.Info("scheduler finished", "time", s.Now, "processed", s.Processed())
	return nil
}

// report fires OnReport for every interval boundary up to t.
func (s *Scheduler) report(t float64) {
	if s.ReportInterval <= 0 || s.OnReport == nil {
		return
	}
	for s.nextReport <= t {
		s.OnReport(s.nextReport)
		s.nextReport += s.ReportInterval
	}
}

// pace sleeps so simulated time advances at Realtime seconds per wall second.
func (s *Scheduler) pace(ctx context.Context, at float64) error {
	if s.Realtime <= 0 || at <= s.Now {
		return nil
	}
	wait := time.Duration((at - s.Now) / s.Realtime * float64(time.Second))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SimTime renders simulated seconds as "day D hh:mm:ss".
func SimTime(seconds float64) string {
	total := int64(seconds)
	days := total / 86400
	h := (total % 86400) / 3600
	m := (total % 3600) / 60
	sec := total % 60
	return fmt.Sprintf("day %d %02d:%02d:%02d", days+1, h, m, sec)
}
