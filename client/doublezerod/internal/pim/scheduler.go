package pim

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler is a FIFO of MreTasks (C9, §4.9). It has no timer of its own:
// the caller runs one time-slice of the head task with RunNext, or empties
// the queue with Drain. When a new task's input-state matches the tail's,
// AddTask coalesces into it rather than enqueueing a new task — the only
// reordering the concurrency model allows (§3.3, §5).
type Scheduler struct {
	queue []*MreTask
	clock clockwork.Clock

	ts          *TrackState
	timeSlice   time.Duration
	tickEntries int

	actOnEntry func(*PimMre, []trackEntry)
	actOnMfc   func(*PimMfc, []trackEntry)
}

func NewScheduler(cfg *Config, ts *TrackState, actOnEntry func(*PimMre, []trackEntry), actOnMfc func(*PimMfc, []trackEntry)) *Scheduler {
	return &Scheduler{
		clock:       cfg.Clock,
		ts:          ts,
		timeSlice:   cfg.TimeSlice,
		tickEntries: cfg.TickEntries,
		actOnEntry:  actOnEntry,
		actOnMfc:    actOnMfc,
	}
}

// AddTask appends a task for input/selectors, or merges the selectors into
// the tail task if its InputState already matches (tail-coalescing, §3.3).
func (s *Scheduler) AddTask(input InputState, selectors ...*Selector) *MreTask {
	if len(s.queue) > 0 {
		tail := s.queue[len(s.queue)-1]
		if tail.inputStateShape() == input {
			for _, sel := range selectors {
				tail.addSelector(sel)
			}
			metricTaskQueueDepth.Set(float64(len(s.queue)))
			return tail
		}
	}
	t := newMreTask(input, selectors...)
	s.queue = append(s.queue, t)
	metricTaskQueueDepth.Set(float64(len(s.queue)))
	return t
}

// AddMfcTask is AddTask's MFC-carrying counterpart.
func (s *Scheduler) AddMfcTask(input InputState, mfcs ...*PimMfc) *MreTask {
	var t *MreTask
	if len(s.queue) > 0 && s.queue[len(s.queue)-1].inputStateShape() == input {
		t = s.queue[len(s.queue)-1]
	} else {
		t = newMreTask(input)
		s.queue = append(s.queue, t)
	}
	for _, m := range mfcs {
		t.addMfc(m)
	}
	metricTaskQueueDepth.Set(float64(len(s.queue)))
	return t
}

// enqueueDelete schedules e for deletion on the tail task's delete phase,
// or creates one if the queue is empty.
func (s *Scheduler) enqueueDelete(e *PimMre) {
	t := s.AddTask(InputDeletePimMre)
	t.enqueueDelete(e)
}

// Len reports the number of queued tasks.
func (s *Scheduler) Len() int { return len(s.queue) }

// RunNext runs one time-slice of the head task. If the task completes it is
// removed from the queue; if it yields (TimeSlice expired) it stays at the
// head for the next tick.
func (s *Scheduler) RunNext() bool {
	if len(s.queue) == 0 {
		return false
	}
	head := s.queue[0]
	result := head.Run(s.ts, s.timeSlice, s.tickEntries, s.clock.Now, s.actOnEntry, s.actOnMfc)
	metricTasksRun.Inc()
	if result.Yielded {
		metricTimeSliceYields.Inc()
	}
	if result.Done {
		s.queue = s.queue[1:]
	}
	metricTaskQueueDepth.Set(float64(len(s.queue)))
	return true
}

// Drain runs RunNext until the queue is empty, for tests and for a single
// cooperative event-loop tick that wants to clear backlog eagerly.
func (s *Scheduler) Drain(maxIterations int) {
	for i := 0; i < maxIterations && s.Len() > 0; i++ {
		s.RunNext()
	}
}
