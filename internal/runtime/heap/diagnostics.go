package heap

import (
	"unsafe"

	"github.com/go-kit/log/level"

	"github.com/orizon-lang/heapregion/internal/runtime/memory"
)

// Poison written by Clobber: the outer bytes are 0xff and the middle two
// carry bits 8..23 of the byte offset, so a stray value read later can be
// traced back to where it was written.
const (
	poisonPattern = 0xff0000ff
	poisonOffset  = 0x00ffff00
)

// scanHeaderOffset is where the status word of an object sits relative to
// its reference; paranoid scans print it next to each suspicious value.
const scanHeaderOffset = 12

const ptrWords = int(unsafe.Sizeof(uintptr(0)) / memory.WordSize)

// Clobber fills [s, e) with the poison pattern. It destroys the contents
// and must only run while nothing else uses the range.
func Clobber(rt *Runtime, s, e memory.Address) {
	if !diagnosticsEnabled {
		level.Warn(rt.Logger).Log("msg", "clobber skipped, diagnostics are not built in")
		return
	}
	level.Info(rt.Logger).Log("msg", "zapping region with 0xff****ff", "start", s, "end", e)
	if e.LE(s) {
		return
	}
	clobberWords(memory.Words(s, e.Diff(s)))
}

// Clobber poisons the whole region. A protected region is left alone.
func (r *Region) Clobber() {
	if r.protected {
		level.Warn(r.rt.Logger).Log("msg", "clobber skipped, heap is protected", "heap", r.String())
		return
	}
	Clobber(r.rt, r.start, r.end)
}

// ParanoidScan looks through every word of r for values that could be
// references into target and returns how many it found. Without type
// information any integer that happens to fall in target's reference range
// counts, so the result is an upper bound. With show set every hit is
// logged along with the word scanHeaderOffset bytes below it. The scan
// never writes memory and never reads a protected region; a protected r
// is skipped and counts nothing.
func (r *Region) ParanoidScan(target *Region, show bool) int {
	rt := r.rt
	if !diagnosticsEnabled {
		level.Warn(rt.Logger).Log("msg", "paranoid scan skipped, diagnostics are not built in")
		return 0
	}
	if r.protected {
		level.Warn(rt.Logger).Log("msg", "paranoid scan skipped, heap is protected", "heap", r.String())
		return 0
	}
	level.Info(rt.Logger).Log("msg", "checking heap for references", "heap", r.String(), "target", target.String())

	var hit func(loc, value memory.Address, count int)
	if show {
		gc := rt.gcCount()
		hit = func(loc, value memory.Address, count int) {
			header := value.Sub(scanHeaderOffset)
			kv := []interface{}{"msg", "possible reference", "gc", gc, "count", count, "loc", loc, "value", value}
			if readableWord(rt.Registry, header) {
				kv = append(kv, "header", memory.Address(memory.LoadWord(header)))
			} else {
				kv = append(kv, "header", "unreadable")
			}
			level.Warn(rt.Logger).Log(kv...)
		}
	}
	count := scanWords(memory.Words(r.start, r.size), r.start, target.RefInHeap, hit)

	level.Info(rt.Logger).Log("msg", "paranoid scan finished", "suspicious", count, "target", target.String())
	rt.metrics.suspiciousRefs.Add(float64(count))
	return count
}

// readableWord reports whether the word at a lies wholly inside one
// registered region whose pages are accessible.
func readableWord(g *Registry, a memory.Address) bool {
	h := g.Find(a)
	return h != nil && !h.protected && h.AddrInHeap(a.Add(memory.WordSize-1))
}

// clobberWords writes the poison pattern into words; words[i] is at byte
// offset 4*i from the start of the poisoned range.
func clobberWords(words []uint32) {
	for i := range words {
		off := uint32(i * memory.WordSize)
		words[i] = poisonPattern | off&poisonOffset
	}
}

// scanWords reads a pointer-sized candidate at every word boundary of
// words, whose first element lives at base, and counts the word aligned
// candidates accepted by isRef. hit, when set, sees each match in order.
func scanWords(words []uint32, base memory.Address, isRef func(memory.Address) bool, hit func(loc, value memory.Address, count int)) int {
	count := 0
	for i := 0; i+ptrWords <= len(words); i++ {
		value := memory.Address(*(*uintptr)(unsafe.Pointer(&words[i])))
		if value&(memory.WordSize-1) != 0 || !isRef(value) {
			continue
		}
		count++
		if hit != nil {
			hit(base.Add(uintptr(i*memory.WordSize)), value, count)
		}
	}
	return count
}
