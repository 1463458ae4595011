// Package objmodel describes how object references relate to the raw
// memory that holds the objects.
package objmodel

import "github.com/orizon-lang/heapregion/internal/runtime/memory"

// Model computes the inclusive range of values that may be references to
// objects laid out in [start, end).
type Model interface {
	MinRef(start memory.Address) memory.Address
	MaxRef(end memory.Address) memory.Address
}

// HeaderLayout is the default model: every object starts with a fixed size
// header and a reference points RefOffset bytes past the object start.
type HeaderLayout struct {
	RefOffset   uintptr // Distance from object start to its reference
	HeaderBytes uintptr // Smallest possible object
}

// Default is the layout used by the Orizon object format: a three word
// header followed by the fields, referenced just past the header.
var Default = HeaderLayout{RefOffset: 12, HeaderBytes: 12}

// MinRef is the reference of an object placed at start.
func (l HeaderLayout) MinRef(start memory.Address) memory.Address {
	return start.Add(l.RefOffset)
}

// MaxRef is the reference of the smallest object that still fits before
// end. For an empty range MaxRef < MinRef, so no value is in range.
func (l HeaderLayout) MaxRef(end memory.Address) memory.Address {
	return end.Sub(l.HeaderBytes).Add(l.RefOffset)
}
