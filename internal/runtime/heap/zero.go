package heap

import (
	"fmt"

	herrors "github.com/orizon-lang/heapregion/internal/errors"
	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

// ZeroSlice returns the part [lo, hi) of [s, e) assigned to the worker with
// the given 1-based ordinal when workers cooperate on the range. Slices are
// chunk = RoundUp(ceil((e-s)/workers)) bytes long, the last one clipped to
// e; a slice starting at or past e is empty (lo == hi == e). Together the
// slices of ordinals 1..workers cover [s, e) exactly once.
func ZeroSlice(s, e memory.Address, ordinal, workers, pageSize int) (lo, hi memory.Address) {
	if e.LE(s) || workers < 1 || ordinal < 1 || ordinal > workers {
		return e, e
	}
	span := e.Diff(s)
	chunk := memory.RoundUp((span+uintptr(workers)-1)/uintptr(workers), pageSize)
	off := uintptr(ordinal-1) * chunk
	if off >= span {
		return e, e
	}
	lo = s.Add(off)
	return lo, memory.Min(lo.Add(chunk), e)
}

// ZeroParallel clears this worker's share of [s, e), which must lie inside
// the region. Every one of the workers cooperating on the range calls it
// once with the same s, e and workers and its own ordinal in 1..workers.
// There is no synchronization here: the phase driver agrees on the range
// before the workers start and waits for all of them before the memory is
// used.
func (r *Region) ZeroParallel(s, e memory.Address, ordinal, workers int) {
	rt := r.rt
	if s.LT(r.start) {
		rt.fatal(herrors.OutOfRange(r.name, "zero start", uintptr(s), uintptr(r.start), uintptr(r.end)))
	}
	if e.GT(r.end) {
		rt.fatal(herrors.OutOfRange(r.name, "zero end", uintptr(e), uintptr(r.start), uintptr(r.end)))
	}
	if workers < 1 || ordinal < 1 || ordinal > workers {
		rt.fatal(herrors.AssertionFailed(fmt.Sprintf("worker ordinal %d within 1..%d", ordinal, workers)))
	}
	lo, hi := ZeroSlice(s, e, ordinal, workers, rt.pageSize)
	n := hi.Diff(lo)
	if n == 0 {
		return
	}
	if verifyAssertions {
		rt.assert(memory.IsPageAligned(n, rt.pageSize), "parallel zero slice is page aligned")
	}
	memory.ZeroPages(lo, n)
	rt.metrics.zeroedBytes.Add(float64(n))
}
