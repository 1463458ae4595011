package heap

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	herrors "github.com/orizon-lang/heapregion/internal/errors"
	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

// Region owns one contiguous span of memory, [start, end).
//
// Range fields change only through SetRegion, Attach, Grow, Detach and
// Runtime.BootInit; each change recomputes size and the reference bounds
// and publishes the range to the boot record. Regions are not safe for
// concurrent mutation: all of those operations run during bootstrap or at
// collection phase boundaries.
type Region struct {
	rt      *Runtime
	name    string         // Diagnostic label
	id      int            // Position in the registry
	verbose int            // Amount of chatter during operation
	start   memory.Address // Inclusive
	end     memory.Address // Exclusive
	size    uintptr        // end - start
	minRef  memory.Address // Inclusive bounds on references into the range
	maxRef  memory.Address

	protected bool // Pages are PROT_NONE; diagnostics must not read them
}

// NewRegion creates an unattached region and registers it with rt. The
// region stays registered for the life of the process.
func NewRegion(rt *Runtime, name string) *Region {
	r := &Region{rt: rt, name: name}
	r.minRef = rt.Model.MinRef(memory.Zero)
	r.maxRef = rt.Model.MaxRef(memory.Zero)
	id, err := rt.Registry.Register(r)
	if err != nil {
		rt.fatal(err)
	}
	r.id = id
	return r
}

func (r *Region) Name() string           { return r.name }
func (r *Region) ID() int                { return r.id }
func (r *Region) Start() memory.Address  { return r.start }
func (r *Region) End() memory.Address    { return r.end }
func (r *Region) Size() uintptr          { return r.size }
func (r *Region) MinRef() memory.Address { return r.minRef }
func (r *Region) MaxRef() memory.Address { return r.maxRef }
func (r *Region) Attached() bool         { return r.size != 0 }
func (r *Region) Verbose() int           { return r.verbose }
func (r *Region) Protected() bool        { return r.protected }
func (r *Region) SetVerbose(v int)       { r.verbose = v }

// setAuxiliary derives size and reference bounds from the range and
// publishes the range.
func (r *Region) setAuxiliary() {
	rt := r.rt
	if err := rt.BootRecord.set(r.id, r.start, r.end); err != nil {
		rt.fatal(err)
	}
	r.minRef = rt.Model.MinRef(r.start)
	r.maxRef = rt.Model.MaxRef(r.end)
	r.size = r.end.Diff(r.start)
	rt.metrics.mappedBytes.WithLabelValues(r.name).Set(float64(r.size))
}

// SetRegion sets the range to [s, e). The bounds are not validated.
func (r *Region) SetRegion(s, e memory.Address) {
	r.start = s
	r.end = e
	r.setAuxiliary()
}

// Attach maps size bytes, rounded up to the page size, at an address chosen
// by the OS.
func (r *Region) Attach(size int) {
	rt := r.rt
	if size < 0 {
		rt.fatal(herrors.NegativeSize(r.name, size))
	}
	if r.size != 0 {
		rt.fatal(herrors.AlreadyAttached(r.name, r.size))
	}
	n := memory.RoundUp(uintptr(size), rt.pageSize)
	start, err := memory.Map(rt.Mapper, n, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	if err != nil {
		rt.fatal(herrors.OSFailure(herrors.CodeMapFailed, r.name, err, map[string]interface{}{
			"kbytes": n / 1024,
			"errno":  errnoOf(err),
		}))
	}
	r.start = start
	r.end = start.Add(n)
	if r.verbose >= 1 {
		level.Info(rt.Logger).Log("msg", "heap successfully mapped", "heap", r.name, "size", humanize.IBytes(uint64(n)), "start", r.start, "end", r.end)
	}
	r.setAuxiliary()
	rt.metrics.operations.WithLabelValues("attach").Inc()
}

// Grow extends the region in place to size bytes, rounded up to the page
// size, by mapping the missing pages fixed at the current end. The caller
// must own the address range being mapped.
func (r *Region) Grow(size int) {
	rt := r.rt
	if size < 0 || uintptr(size) < r.size {
		rt.fatal(herrors.ShrinkingGrow(r.name, r.size, size))
	}
	n := memory.RoundUp(uintptr(size), rt.pageSize)
	if n == r.size {
		return
	}
	if r.size == 0 {
		rt.fatal(herrors.NotAttached(r.name, "grow"))
	}
	extra := n - r.size
	if _, err := memory.MapAt(rt.Mapper, r.end, extra, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous); err != nil {
		rt.fatal(herrors.OSFailure(herrors.CodeMapFailed, r.name, err, map[string]interface{}{
			"kbytes": extra / 1024,
			"at":     r.end.String(),
			"errno":  errnoOf(err),
		}))
	}
	if r.verbose >= 1 {
		level.Info(rt.Logger).Log("msg", "heap successfully grown", "heap", r.name, "additional", humanize.IBytes(uint64(extra)), "at", r.end)
	}
	r.end = r.start.Add(n)
	r.setAuxiliary()
	rt.metrics.operations.WithLabelValues("grow").Inc()
}

// Detach unmaps the region and resets it to the empty range. The region can
// be attached again afterwards.
func (r *Region) Detach() {
	rt := r.rt
	if r.size == 0 {
		rt.fatal(herrors.NotAttached(r.name, "detach"))
	}
	if err := memory.Unmap(rt.Mapper, r.start, r.size); err != nil {
		rt.fatal(herrors.OSFailure(herrors.CodeUnmapFailed, r.name, err, map[string]interface{}{
			"kbytes": r.size / 1024,
			"at":     r.start.String(),
			"errno":  errnoOf(err),
		}))
	}
	if r.verbose >= 1 {
		level.Info(rt.Logger).Log("msg", "heap successfully detached", "heap", r.name, "size", humanize.IBytes(uint64(r.size)), "start", r.start)
	}
	r.start = memory.Zero
	r.end = memory.Zero
	r.protected = false
	r.setAuxiliary()
	rt.metrics.operations.WithLabelValues("detach").Inc()
}

// Protect makes every page of the region inaccessible. The change is
// visible to all threads immediately.
func (r *Region) Protect() { r.protect(memory.ProtNone, "protect") }

// Unprotect restores read, write and execute access to the region.
func (r *Region) Unprotect() { r.protect(memory.ProtAll, "unprotect") }

func (r *Region) protect(prot memory.Prot, op string) {
	if r.size == 0 {
		return
	}
	rt := r.rt
	if err := memory.Protect(rt.Mapper, r.start, r.size, prot); err != nil {
		rt.fatal(herrors.OSFailure(herrors.CodeProtectFailed, r.name, err, map[string]interface{}{
			"op":     op,
			"kbytes": r.size / 1024,
			"at":     r.start.String(),
			"errno":  errnoOf(err),
		}))
	}
	r.protected = prot == memory.ProtNone
	rt.metrics.operations.WithLabelValues(op).Inc()
}

// Zero clears the whole region. The size must be a whole number of pages.
func (r *Region) Zero() {
	rt := r.rt
	if !memory.IsPageAligned(r.size, rt.pageSize) {
		rt.fatal(herrors.MisalignedSize(r.name, r.size, rt.pageSize))
	}
	memory.ZeroPages(r.start, r.size)
	rt.metrics.zeroedBytes.Add(float64(r.size))
	rt.metrics.operations.WithLabelValues("zero").Inc()
}

// RefInHeap reports whether ref could be a reference to an object in the
// region. The test is approximate: any value in range qualifies.
func (r *Region) RefInHeap(ref memory.Address) bool {
	return ref.GE(r.minRef) && ref.LE(r.maxRef)
}

// AddrInHeap reports whether addr lies inside [start, end).
func (r *Region) AddrInHeap(addr memory.Address) bool {
	return addr.GE(r.start) && addr.LT(r.end)
}

// TouchPages writes one word per page, from the highest page down, so that
// every page is committed before a latency sensitive phase.
func (r *Region) TouchPages() {
	ps := uintptr(r.rt.pageSize)
	for off := r.size; off >= ps; {
		off -= ps
		memory.StoreWord(r.start.Add(off), 0)
	}
}

// ShowRange writes "start .. end".
func (r *Region) ShowRange(w io.Writer) {
	fmt.Fprintf(w, "%s .. %s", r.start, r.end)
}

// Show writes the name right aligned, the size in kilobytes and the range.
func (r *Region) Show(w io.Writer) {
	fmt.Fprintf(w, "%25s: %6d Kb  at  ", r.name, r.size/1024)
	r.ShowRange(w)
	fmt.Fprintln(w)
}

func (r *Region) String() string {
	var sb strings.Builder
	r.ShowRange(&sb)
	return fmt.Sprintf("%s[%d] %s", r.name, r.id, sb.String())
}

func errnoOf(err error) int {
	var errno *memory.Errno
	if errors.As(err, &errno) {
		return int(errno.Code)
	}
	return -1
}
