//go:build !(linux || darwin)

package memory

import "os"

// enosys is the Linux ENOSYS value; syscall.ENOSYS is outside the sentinel
// range on some platforms.
const enosys = 38

// unsupportedMapper fails every call with ENOSYS.
type unsupportedMapper struct{}

// System returns a Mapper that reports ENOSYS on platforms without a
// supported mmap implementation.
func System() Mapper { return unsupportedMapper{} }

func (unsupportedMapper) PageSize() int { return os.Getpagesize() }

func (unsupportedMapper) Mmap(Address, uintptr, Prot, MapFlags) Address {
	return Address(enosys)
}

func (unsupportedMapper) Munmap(Address, uintptr) int { return enosys }

func (unsupportedMapper) Mprotect(Address, uintptr, Prot) int { return enosys }
