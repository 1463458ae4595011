// Package heap manages the regions of raw memory that back the collected
// heap. A Runtime owns the process-wide registry of regions and the boot
// record they publish into; regions obtain, grow, release and protect their
// memory through a memory.Mapper and report reference bounds computed by an
// objmodel.Model.
//
// Every precondition violation is fatal. The condition is logged, counted
// and passed to Runtime.Fail, which by default terminates the process.
package heap

import (
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	herrors "github.com/orizon-lang/heapregion/internal/errors"
	"github.com/orizon-lang/heapregion/internal/runtime/memory"
	"github.com/orizon-lang/heapregion/internal/runtime/objmodel"
)

// DefaultMaxHeaps is the registry capacity used when Options leaves it unset.
const DefaultMaxHeaps = 10

// DefaultImageConstraint accepts boot images of any 1.x format.
const DefaultImageConstraint = "^1.0.0"

// FailFunc handles a fatal heap condition. It must not return.
type FailFunc func(err error)

// Exit is the default FailFunc: the condition has already been logged, so
// it only terminates the process.
func Exit(error) { os.Exit(2) }

// Options configures a Runtime.
type Options struct {
	MaxHeaps        int                   // Registry capacity
	Mapper          memory.Mapper         // OS memory boundary
	Model           objmodel.Model        // Reference bounds of a range
	BootRecord      *BootRecord           // Shared with the image loader
	Logger          log.Logger            // Defaults to a nop logger
	Registerer      prometheus.Registerer // nil disables registration
	Fail            FailFunc              // Defaults to Exit
	ImageConstraint string                // Semver constraint on the image format
	GCCount         func() int            // Collection count shown by diagnostics
}

// Runtime is the process-wide heap state. It is created once during
// bootstrap and handed to every component that needs heaps; it is never
// reset.
type Runtime struct {
	Registry   *Registry
	BootRecord *BootRecord
	Mapper     memory.Mapper
	Model      objmodel.Model
	Logger     log.Logger
	Fail       FailFunc

	imageConstraint string
	gcCount         func() int
	pageSize        int
	bootHeap        *Region
	metrics         *metrics
}

// New creates the runtime heap context.
func New(opts Options) *Runtime {
	if opts.MaxHeaps <= 0 {
		opts.MaxHeaps = DefaultMaxHeaps
	}
	if opts.Mapper == nil {
		opts.Mapper = memory.System()
	}
	if opts.Model == nil {
		opts.Model = objmodel.Default
	}
	if opts.BootRecord == nil {
		opts.BootRecord = NewBootRecord(opts.MaxHeaps)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Fail == nil {
		opts.Fail = Exit
	}
	if opts.ImageConstraint == "" {
		opts.ImageConstraint = DefaultImageConstraint
	}
	if opts.GCCount == nil {
		opts.GCCount = func() int { return 0 }
	}

	rt := &Runtime{
		Registry:        NewRegistry(opts.MaxHeaps),
		BootRecord:      opts.BootRecord,
		Mapper:          opts.Mapper,
		Model:           opts.Model,
		Logger:          log.With(opts.Logger, "component", "heap"),
		Fail:            opts.Fail,
		imageConstraint: opts.ImageConstraint,
		gcCount:         opts.GCCount,
		pageSize:        opts.Mapper.PageSize(),
		metrics:         newMetrics(opts.Registerer),
	}
	if verifyAssertions {
		rt.assert(memory.ValidPageSize(rt.pageSize), "page size is a power of two")
		rt.assert(rt.BootRecord.Slots() >= 2*rt.Registry.Cap()+2, "boot record holds every heap range")
	}
	return rt
}

// PageSize is the granularity every region size is rounded to.
func (rt *Runtime) PageSize() int { return rt.pageSize }

// BootHeap returns the region initialized by BootInit, or nil.
func (rt *Runtime) BootHeap() *Region { return rt.bootHeap }

// BootInit wires the boot image region to the bounds supplied by the image
// loader through the boot record and publishes them.
func (rt *Runtime) BootInit(r *Region) {
	b := rt.BootRecord
	if b.ImageVersion != "" {
		if err := checkImageVersion(b.ImageVersion, rt.imageConstraint); err != nil {
			rt.fatal(herrors.IncompatibleImage(b.ImageVersion, rt.imageConstraint, err))
		}
	}
	rt.bootHeap = r
	r.start = b.BootImageStart
	r.end = b.BootImageEnd
	r.setAuxiliary()
	if verifyAssertions {
		rt.assert(r.RefInHeap(b.BootImageDescriptor), "boot heap descriptor lies inside the boot image")
	}
	level.Info(rt.Logger).Log("msg", "boot image heap initialized", "heap", r.name, "start", r.start, "end", r.end, "version", b.ImageVersion)
}

func checkImageVersion(version, constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return err
	}
	if ok, errs := c.Validate(v); !ok {
		if len(errs) > 0 {
			return errs[0]
		}
		return herrors.AssertionFailed("image version in range")
	}
	return nil
}

// fatal logs err, counts it and hands it to Fail. Fail is not expected to
// return; if it does, the condition is raised as a panic so that no caller
// continues past a violated invariant.
func (rt *Runtime) fatal(err error) {
	var se *herrors.StandardError
	if errors.As(err, &se) {
		level.Error(rt.Logger).Log(se.KeyVals()...)
	} else {
		level.Error(rt.Logger).Log("msg", "fatal heap condition", "err", err)
	}
	rt.metrics.fatal.WithLabelValues(herrors.CodeOf(err)).Inc()
	rt.Fail(err)
	panic(err)
}

func (rt *Runtime) assert(cond bool, what string) {
	if !cond {
		rt.fatal(herrors.AssertionFailed(what))
	}
}

// BuildTags names the optional checks compiled into this binary.
func BuildTags() string {
	var tags []string
	if verifyAssertions {
		tags = append(tags, "verify")
	}
	if diagnosticsEnabled {
		tags = append(tags, "debug")
	}
	return strings.Join(tags, ",")
}
