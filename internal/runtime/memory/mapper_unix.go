//go:build linux || darwin

package memory

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// unixMapper talks to mmap(2), munmap(2) and mprotect(2) directly.
type unixMapper struct {
	pageSize int
}

// System returns the Mapper backed by the host operating system.
func System() Mapper {
	return &unixMapper{pageSize: unix.Getpagesize()}
}

func (m *unixMapper) PageSize() int { return m.pageSize }

func (m *unixMapper) Mmap(hint Address, length uintptr, prot Prot, flags MapFlags) Address {
	p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(uintptr(hint)), length, unixProt(prot), unixFlags(flags))
	if err != nil {
		return Address(errnoCode(err))
	}
	return Address(uintptr(p))
}

func (m *unixMapper) Munmap(addr Address, length uintptr) int {
	if err := unix.MunmapPtr(unsafe.Pointer(uintptr(addr)), length); err != nil {
		return errnoCode(err)
	}
	return 0
}

func (m *unixMapper) Mprotect(addr Address, length uintptr, prot Prot) int {
	if length == 0 {
		return 0
	}
	if err := unix.Mprotect(Bytes(addr, length), unixProt(prot)); err != nil {
		return errnoCode(err)
	}
	return 0
}

// errnoCode folds err into the sentinel range.
func errnoCode(err error) int {
	var errno unix.Errno
	if errors.As(err, &errno) && errno != 0 && Address(errno) < SentinelLimit {
		return int(errno)
	}
	return int(unix.EINVAL)
}

func unixProt(p Prot) int {
	prot := unix.PROT_NONE
	if p&ProtRead != 0 {
		prot |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func unixFlags(f MapFlags) int {
	var flags int
	if f&MapPrivate != 0 {
		flags |= unix.MAP_PRIVATE
	}
	if f&MapAnonymous != 0 {
		flags |= unix.MAP_ANON
	}
	if f&MapFixed != 0 {
		flags |= unix.MAP_FIXED
	}
	return flags
}
