package memory

import (
	"syscall"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// scriptedMapper returns canned results and records the last request.
type scriptedMapper struct {
	mmap     Address
	status   int
	hint     Address
	length   uintptr
	flags    MapFlags
	prot     Prot
	pageSize int
}

func (m *scriptedMapper) Mmap(hint Address, length uintptr, prot Prot, flags MapFlags) Address {
	m.hint, m.length, m.prot, m.flags = hint, length, prot, flags
	return m.mmap
}

func (m *scriptedMapper) Munmap(addr Address, length uintptr) int {
	m.hint, m.length = addr, length
	return m.status
}

func (m *scriptedMapper) Mprotect(addr Address, length uintptr, prot Prot) int {
	m.hint, m.length, m.prot = addr, length, prot
	return m.status
}

func (m *scriptedMapper) PageSize() int { return m.pageSize }

func TestMapDecodesSentinel(t *testing.T) {
	for _, r := range []Address{0, 1, 12, 127} {
		m := &scriptedMapper{mmap: r}
		addr, err := Map(m, 4096, ProtAll, MapPrivate|MapAnonymous)
		require.Error(t, err, "result %d must be treated as errno", r)
		require.Equal(t, Zero, addr)

		var errno *Errno
		require.True(t, errors.As(err, &errno))
		require.Equal(t, syscall.Errno(r), errno.Code)
		require.Equal(t, uintptr(4096), errno.Length)
	}

	m := &scriptedMapper{mmap: 128}
	addr, err := Map(m, 4096, ProtAll, MapPrivate|MapAnonymous|MapFixed)
	require.NoError(t, err)
	require.Equal(t, Address(128), addr)
	require.Equal(t, Zero, m.hint)
	require.Zero(t, m.flags&MapFixed, "Map never requests a fixed mapping")
}

func TestMapAtPassesHint(t *testing.T) {
	m := &scriptedMapper{mmap: 0x7000_0000}
	addr, err := MapAt(m, 0x7000_0000, 8192, ProtAll, MapPrivate|MapAnonymous)
	require.NoError(t, err)
	require.Equal(t, Address(0x7000_0000), addr)
	require.Equal(t, Address(0x7000_0000), m.hint)
	require.NotZero(t, m.flags&MapFixed)

	m.mmap = Address(syscall.ENOMEM)
	_, err = MapAt(m, 0x7000_2000, 4096, ProtAll, MapPrivate|MapAnonymous)
	require.ErrorIs(t, err, syscall.ENOMEM)
	require.Contains(t, err.Error(), "mmap fixed 4096 bytes at 0x70002000")
}

func TestUnmapAndProtectStatus(t *testing.T) {
	m := &scriptedMapper{}
	require.NoError(t, Unmap(m, 0x1000, 4096))
	require.NoError(t, Protect(m, 0x1000, 4096, ProtNone))
	require.Equal(t, ProtNone, m.prot)

	m.status = int(syscall.EINVAL)
	require.ErrorIs(t, Unmap(m, 0x1000, 4096), syscall.EINVAL)
	require.ErrorIs(t, Protect(m, 0x1000, 4096, ProtAll), syscall.EINVAL)
}
