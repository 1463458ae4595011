package memory

import (
	"fmt"
	"syscall"
)

// Prot is a page protection mask.
type Prot int

const (
	ProtNone  Prot = 0
	ProtRead  Prot = 1 << 0
	ProtWrite Prot = 1 << 1
	ProtExec  Prot = 1 << 2

	// ProtAll is the protection every heap page is mapped with.
	ProtAll = ProtRead | ProtWrite | ProtExec
)

// MapFlags selects the kind of mapping requested from the OS.
type MapFlags int

const (
	MapPrivate   MapFlags = 1 << 0
	MapAnonymous MapFlags = 1 << 1
	MapFixed     MapFlags = 1 << 2
)

// SentinelLimit bounds the values Mmap may return to signal failure. A
// result in [0, SentinelLimit) is an errno, never a mapped address.
const SentinelLimit Address = 128

// Mapper is the raw OS memory boundary. It keeps the sentinel conventions of
// the underlying system calls: Mmap returns either the mapped address or an
// errno below SentinelLimit, Munmap and Mprotect return 0 or an errno.
// Lengths are already rounded to PageSize by the caller.
type Mapper interface {
	Mmap(hint Address, length uintptr, prot Prot, flags MapFlags) Address
	Munmap(addr Address, length uintptr) int
	Mprotect(addr Address, length uintptr, prot Prot) int
	PageSize() int
}

// IsSentinel reports whether an Mmap result encodes an error.
func IsSentinel(a Address) bool { return a < SentinelLimit }

// Errno is a failed OS memory call.
type Errno struct {
	Op     string
	Addr   Address
	Length uintptr
	Code   syscall.Errno
}

func (e *Errno) Error() string {
	return fmt.Sprintf("%s %d bytes at %s: errno %d (%s)", e.Op, e.Length, e.Addr, int(e.Code), e.Code.Error())
}

func (e *Errno) Unwrap() error { return e.Code }

// Map requests an anonymous mapping at an address chosen by the OS.
func Map(m Mapper, length uintptr, prot Prot, flags MapFlags) (Address, error) {
	r := m.Mmap(Zero, length, prot, flags&^MapFixed)
	if IsSentinel(r) {
		return Zero, &Errno{Op: "mmap", Length: length, Code: syscall.Errno(r)}
	}
	return r, nil
}

// MapAt requests a mapping placed exactly at addr. Any existing mapping
// in [addr, addr+length) is replaced, so the caller must own that range.
func MapAt(m Mapper, addr Address, length uintptr, prot Prot, flags MapFlags) (Address, error) {
	r := m.Mmap(addr, length, prot, flags|MapFixed)
	if IsSentinel(r) {
		return Zero, &Errno{Op: "mmap fixed", Addr: addr, Length: length, Code: syscall.Errno(r)}
	}
	return r, nil
}

// Unmap releases [addr, addr+length).
func Unmap(m Mapper, addr Address, length uintptr) error {
	if status := m.Munmap(addr, length); status != 0 {
		return &Errno{Op: "munmap", Addr: addr, Length: length, Code: syscall.Errno(status)}
	}
	return nil
}

// Protect changes the protection of [addr, addr+length).
func Protect(m Mapper, addr Address, length uintptr, prot Prot) error {
	if status := m.Mprotect(addr, length, prot); status != 0 {
		return &Errno{Op: "mprotect", Addr: addr, Length: length, Code: syscall.Errno(status)}
	}
	return nil
}
