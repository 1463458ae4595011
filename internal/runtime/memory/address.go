// Package memory provides raw address arithmetic and the operating system
// boundary used to obtain, release and protect pages of process memory.
package memory

import "fmt"

// Address is an opaque location in the process address space.
type Address uintptr

// Zero is the null address. Unattached regions report it as start and end.
const Zero Address = 0

// Add returns a offset by n bytes.
func (a Address) Add(n uintptr) Address { return a + Address(n) }

// Sub returns a moved back by n bytes.
func (a Address) Sub(n uintptr) Address { return a - Address(n) }

// Diff returns the byte distance a - b. Callers guarantee a >= b.
func (a Address) Diff(b Address) uintptr { return uintptr(a - b) }

func (a Address) LT(b Address) bool { return a < b }
func (a Address) LE(b Address) bool { return a <= b }
func (a Address) GT(b Address) bool { return a > b }
func (a Address) GE(b Address) bool { return a >= b }

// IsZero reports whether a is the null address.
func (a Address) IsZero() bool { return a == Zero }

// String renders the address as fixed-width hex.
func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uintptr(a))
}

// Min returns the lower of two addresses.
func Min(a, b Address) Address {
	if a < b {
		return a
	}
	return b
}
