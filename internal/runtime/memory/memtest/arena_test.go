//go:build linux || darwin

package memtest

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

func TestArenaPlacement(t *testing.T) {
	a := NewSized(t, 16<<20, 4096)
	a.SetSlotSize(1 << 20)

	first, err := memory.Map(a, 8192, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.NoError(t, err)
	require.Equal(t, a.Base(), first)

	second, err := memory.Map(a, 4096, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.NoError(t, err)
	require.Equal(t, a.Base().Add(1<<20), second)

	// Growing the first mapping in place stays inside its slot.
	grown, err := memory.MapAt(a, first.Add(8192), 4096, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.NoError(t, err)
	require.Equal(t, first.Add(8192), grown)
	require.True(t, a.Mapped(first.Add(8192)))
	require.False(t, a.Mapped(first.Add(3*4096)))
}

func TestArenaProtectAndUnmap(t *testing.T) {
	a := New(t)
	addr, err := memory.Map(a, 3*4096, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.NoError(t, err)

	require.NoError(t, memory.Protect(a, addr, 3*4096, memory.ProtNone))
	require.Equal(t, memory.ProtNone, a.Protection(addr.Add(4096)))
	require.NoError(t, memory.Protect(a, addr, 3*4096, memory.ProtAll))
	require.Equal(t, memory.ProtAll, a.Protection(addr))

	memory.StoreWord(addr, 99)
	require.NoError(t, memory.Unmap(a, addr, 3*4096))
	require.False(t, a.Mapped(addr))
	require.ErrorIs(t, memory.Protect(a, addr, 4096, memory.ProtAll), syscall.ENOMEM)

	again, err := memory.Map(a, 4096, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.NoError(t, err)
	require.Equal(t, uint32(0), memory.LoadWord(again), "new mappings read as zero")

	calls := a.Calls()
	require.Equal(t, "mmap", calls[0].Op)
	require.Equal(t, "munmap", calls[3].Op)
}

func TestArenaInjectedFailures(t *testing.T) {
	a := New(t)

	a.FailNextMmap(syscall.ENOMEM)
	_, err := memory.Map(a, 4096, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.ErrorIs(t, err, syscall.ENOMEM)

	addr, err := memory.Map(a, 4096, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.NoError(t, err, "failures are one-shot")

	a.FailNextMunmap(syscall.EBUSY)
	require.ErrorIs(t, memory.Unmap(a, addr, 4096), syscall.EBUSY)

	a.FailNextMprotect(syscall.EACCES)
	require.ErrorIs(t, memory.Protect(a, addr, 4096, memory.ProtNone), syscall.EACCES)

	_, err = memory.Map(a, 100, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.ErrorIs(t, err, syscall.EINVAL, "lengths must be page rounded")
}

func TestArenaBounds(t *testing.T) {
	a := NewSized(t, 1<<20, 4096)
	require.Equal(t, a.Base().Add(1<<20), a.Limit())

	last, err := memory.MapAt(a, a.Limit().Sub(4096), 4096, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.NoError(t, err)
	require.True(t, a.Mapped(last))
	require.False(t, a.Mapped(a.Limit()))
	require.Equal(t, memory.ProtNone, a.Protection(a.Limit()))

	_, err = memory.MapAt(a, a.Limit(), 4096, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.ErrorIs(t, err, syscall.ENOMEM)
	_, err = memory.MapAt(a, a.Limit().Sub(4096), 8192, memory.ProtAll, memory.MapPrivate|memory.MapAnonymous)
	require.ErrorIs(t, err, syscall.ENOMEM, "mappings may not run past the reservation")
}
