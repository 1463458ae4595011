//go:build linux || darwin

// Package memtest provides a deterministic memory.Mapper for tests. Every
// mapping is carved out of one real, readable and writable reservation, so
// heaps built on it can be zeroed, clobbered and scanned, while placement,
// page size and failures stay under the test's control.
package memtest

import (
	"sync"
	"syscall"
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

const (
	DefaultArenaSize = 64 << 20
	DefaultPageSize  = 4096
	DefaultSlotSize  = 4 << 20
)

// Call records one request made against the arena.
type Call struct {
	Op     string
	Addr   memory.Address
	Length uintptr
	Prot   memory.Prot
	Flags  memory.MapFlags
	Result int
}

// Arena implements memory.Mapper over a single host reservation.
// Non-fixed mappings are handed out in SlotSize steps so that a later fixed
// mapping at the end of a mapping (a grow) stays inside the same slot.
type Arena struct {
	mu       sync.Mutex
	backing  []byte
	base     memory.Address
	limit    memory.Address
	next     memory.Address
	pageSize int
	slotSize uintptr
	mapped   []bool
	prot     []memory.Prot
	calls    []Call

	failMmap   syscall.Errno
	failMunmap syscall.Errno
	failProt   syscall.Errno
}

// NewArena reserves size bytes from the host and presents them with the
// given page size. The usable range starts at the first address aligned to
// pageSize.
func NewArena(size uintptr, pageSize int) (*Arena, error) {
	if !memory.ValidPageSize(pageSize) {
		return nil, errors.Errorf("memtest: invalid page size %d", pageSize)
	}
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "memtest: reserving arena")
	}
	raw := uintptr(unsafe.Pointer(&b[0]))
	base := memory.Address(memory.RoundUp(raw, pageSize))
	pages := int(size-base.Diff(memory.Address(raw))) / pageSize
	return &Arena{
		backing:  b,
		base:     base,
		limit:    base.Add(uintptr(pages * pageSize)),
		next:     base,
		pageSize: pageSize,
		slotSize: DefaultSlotSize,
		mapped:   make([]bool, pages),
		prot:     make([]memory.Prot, pages),
	}, nil
}

// New returns an arena with default geometry that is released when t ends.
func New(t testing.TB) *Arena {
	t.Helper()
	return NewSized(t, DefaultArenaSize, DefaultPageSize)
}

// NewSized is New with explicit geometry.
func NewSized(t testing.TB, size uintptr, pageSize int) *Arena {
	t.Helper()
	a, err := NewArena(size, pageSize)
	if err != nil {
		t.Fatalf("memtest: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// Close releases the host reservation. Addresses handed out become invalid.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backing == nil {
		return nil
	}
	err := unix.Munmap(a.backing)
	a.backing = nil
	return err
}

// SetSlotSize changes the spacing between non-fixed mappings.
func (a *Arena) SetSlotSize(n uintptr) {
	a.mu.Lock()
	a.slotSize = memory.RoundUp(n, a.pageSize)
	a.mu.Unlock()
}

// FailNextMmap makes the next Mmap return errno as its sentinel.
func (a *Arena) FailNextMmap(errno syscall.Errno) {
	a.mu.Lock()
	a.failMmap = errno
	a.mu.Unlock()
}

// FailNextMunmap makes the next Munmap return errno.
func (a *Arena) FailNextMunmap(errno syscall.Errno) {
	a.mu.Lock()
	a.failMunmap = errno
	a.mu.Unlock()
}

// FailNextMprotect makes the next Mprotect return errno.
func (a *Arena) FailNextMprotect(errno syscall.Errno) {
	a.mu.Lock()
	a.failProt = errno
	a.mu.Unlock()
}

// Base returns the first address of the reservation.
func (a *Arena) Base() memory.Address { return a.base }

// Limit returns the address one past the reservation.
func (a *Arena) Limit() memory.Address { return a.limit }

// Calls returns a copy of every recorded request.
func (a *Arena) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// Mapped reports whether the page containing addr is mapped.
func (a *Arena) Mapped(addr memory.Address) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.page(addr)
	return ok && a.mapped[i]
}

// Protection returns the recorded protection of the page containing addr.
func (a *Arena) Protection(addr memory.Address) memory.Prot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i, ok := a.page(addr); ok {
		return a.prot[i]
	}
	return memory.ProtNone
}

func (a *Arena) PageSize() int { return a.pageSize }

func (a *Arena) Mmap(hint memory.Address, length uintptr, prot memory.Prot, flags memory.MapFlags) memory.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.mmap(hint, length, prot, flags)
	a.calls = append(a.calls, Call{Op: "mmap", Addr: hint, Length: length, Prot: prot, Flags: flags, Result: int(r)})
	return r
}

func (a *Arena) mmap(hint memory.Address, length uintptr, prot memory.Prot, flags memory.MapFlags) memory.Address {
	if a.failMmap != 0 {
		errno := a.failMmap
		a.failMmap = 0
		return memory.Address(errno)
	}
	if length == 0 || !memory.IsPageAligned(length, a.pageSize) {
		return memory.Address(syscall.EINVAL)
	}
	addr := hint
	if flags&memory.MapFixed != 0 {
		if !memory.IsPageAligned(uintptr(hint), a.pageSize) {
			return memory.Address(syscall.EINVAL)
		}
	} else {
		addr = a.next
		step := a.slotSize
		if length > step {
			step = (length + a.slotSize - 1) / a.slotSize * a.slotSize
		}
		a.next = a.next.Add(step)
	}
	if addr.LT(a.base) || addr.Add(length).GT(a.limit) {
		return memory.Address(syscall.ENOMEM)
	}
	first, _ := a.page(addr)
	for i := 0; i < int(length)/a.pageSize; i++ {
		a.mapped[first+i] = true
		a.prot[first+i] = prot
	}
	// Fresh anonymous mappings read as zero.
	memory.ZeroPages(addr, length)
	return addr
}

func (a *Arena) Munmap(addr memory.Address, length uintptr) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.munmap(addr, length)
	a.calls = append(a.calls, Call{Op: "munmap", Addr: addr, Length: length, Result: r})
	return r
}

func (a *Arena) munmap(addr memory.Address, length uintptr) int {
	if a.failMunmap != 0 {
		errno := a.failMunmap
		a.failMunmap = 0
		return int(errno)
	}
	first, ok := a.page(addr)
	if !ok || addr.Add(length).GT(a.limit) || !memory.IsPageAligned(length, a.pageSize) {
		return int(syscall.EINVAL)
	}
	for i := 0; i < int(length)/a.pageSize; i++ {
		a.mapped[first+i] = false
		a.prot[first+i] = memory.ProtNone
	}
	// Scribble over released memory so stale readers are noticed.
	for i, w := 0, memory.Words(addr, length); i < len(w); i++ {
		w[i] = 0xdeadbeef
	}
	return 0
}

// Mprotect records the protection without changing host page permissions,
// since the arena page size need not match the host's.
func (a *Arena) Mprotect(addr memory.Address, length uintptr, prot memory.Prot) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.mprotect(addr, length, prot)
	a.calls = append(a.calls, Call{Op: "mprotect", Addr: addr, Length: length, Prot: prot, Result: r})
	return r
}

func (a *Arena) mprotect(addr memory.Address, length uintptr, prot memory.Prot) int {
	if a.failProt != 0 {
		errno := a.failProt
		a.failProt = 0
		return int(errno)
	}
	first, ok := a.page(addr)
	if !ok || addr.Add(length).GT(a.limit) {
		return int(syscall.ENOMEM)
	}
	n := int(memory.RoundUp(length, a.pageSize)) / a.pageSize
	for i := 0; i < n; i++ {
		if !a.mapped[first+i] {
			return int(syscall.ENOMEM)
		}
	}
	for i := 0; i < n; i++ {
		a.prot[first+i] = prot
	}
	return 0
}

func (a *Arena) page(addr memory.Address) (int, bool) {
	if addr.LT(a.base) || addr.GE(a.limit) {
		return 0, false
	}
	return int(addr.Diff(a.base)) / a.pageSize, true
}
