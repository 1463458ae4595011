package gcphase

import "runtime"

// Scheduler reports how many workers take part in a collection phase.
type Scheduler interface {
	ActiveWorkers() int
}

// FixedScheduler always runs the same number of workers.
type FixedScheduler int

func (n FixedScheduler) ActiveWorkers() int {
	if n < 1 {
		return 1
	}
	return int(n)
}

// ProcScheduler runs one worker per usable processor.
type ProcScheduler struct{}

func (ProcScheduler) ActiveWorkers() int { return runtime.GOMAXPROCS(0) }

// SchedulerFor maps a configured worker count to a Scheduler; zero or less
// means one worker per processor.
func SchedulerFor(workers int) Scheduler {
	if workers <= 0 {
		return ProcScheduler{}
	}
	return FixedScheduler(workers)
}
