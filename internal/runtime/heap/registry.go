package heap

import (
	"fmt"
	"io"

	herrors "github.com/orizon-lang/heapregion/internal/errors"
	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

// Registry is the fixed capacity, append-only table of every region in the
// process. A region's id is its position in the table; ids are never
// reused. Registration happens during sequential bootstrap only.
type Registry struct {
	heaps    []*Region
	capacity int
}

// NewRegistry returns an empty registry holding at most capacity regions.
func NewRegistry(capacity int) *Registry {
	return &Registry{heaps: make([]*Region, 0, capacity), capacity: capacity}
}

// Register appends r and returns its id.
func (g *Registry) Register(r *Region) (int, error) {
	if len(g.heaps) >= g.capacity {
		return -1, herrors.RegistryFull(r.name, g.capacity)
	}
	g.heaps = append(g.heaps, r)
	return len(g.heaps) - 1, nil
}

// Len is the number of registered regions.
func (g *Registry) Len() int { return len(g.heaps) }

// Cap is the maximum number of regions.
func (g *Registry) Cap() int { return g.capacity }

// Region returns the region with the given id, or nil.
func (g *Registry) Region(id int) *Region {
	if id < 0 || id >= len(g.heaps) {
		return nil
	}
	return g.heaps[id]
}

// Regions returns the registered regions in id order.
func (g *Registry) Regions() []*Region {
	return append([]*Region(nil), g.heaps...)
}

// RefInAnyHeap reports whether ref could reference an object in any region.
func (g *Registry) RefInAnyHeap(ref memory.Address) bool {
	for _, h := range g.heaps {
		if h.RefInHeap(ref) {
			return true
		}
	}
	return false
}

// AddrInAnyHeap reports whether addr lies inside any region.
func (g *Registry) AddrInAnyHeap(addr memory.Address) bool {
	return g.Find(addr) != nil
}

// Find returns the region containing addr, or nil.
func (g *Registry) Find(addr memory.Address) *Region {
	for _, h := range g.heaps {
		if h.AddrInHeap(addr) {
			return h
		}
	}
	return nil
}

// TotalSize sums the sizes of all regions.
func (g *Registry) TotalSize() uintptr {
	var n uintptr
	for _, h := range g.heaps {
		n += h.size
	}
	return n
}

// ShowAllHeaps writes one line per region in registration order.
func (g *Registry) ShowAllHeaps(w io.Writer) {
	for i, h := range g.heaps {
		fmt.Fprintf(w, "Heap %d: ", i)
		h.Show(w)
	}
}

// Publish writes the range of every region into b.
func (g *Registry) Publish(b *BootRecord) error {
	for _, h := range g.heaps {
		if err := b.set(h.id, h.start, h.end); err != nil {
			return err
		}
	}
	return nil
}
