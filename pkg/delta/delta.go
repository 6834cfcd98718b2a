// Package delta defines the narrow algebra the sync state machine depends
// on, treating an edit as an opaque value (an external collaborator per the
// core's scope: the rich-text editor and its delta library are not part of
// the core, only this interface is).
package delta

// Delta is an opaque edit value. Composing, transforming, and diffing never
// mutate a Delta in place — every operation returns a new value.
type Delta interface {
	// IsEmpty reports whether applying this delta changes nothing.
	IsEmpty() bool
}

// Algebra is the full set of operations pkg/sync needs from a delta
// implementation. It is provided to DocumentPlumbing as a constructor
// argument so the sync state machine never imports a concrete delta
// implementation directly.
type Algebra interface {
	// Compose returns the delta equivalent to applying a then b in sequence.
	Compose(a, b Delta) Delta

	// Transform returns the delta that restates over against a concurrent
	// edit base, such that applying base then Transform(base, over, priority)
	// yields the same document as applying over then
	// Transform(over, base, !priority). priority=true means over should win
	// tie-breaks against base (the caller's own edit takes priority).
	Transform(base, over Delta, priority bool) Delta

	// Diff returns the delta that turns a into b.
	Diff(a, b Delta) Delta

	// Empty returns the identity delta (IsEmpty() == true, Compose(x, Empty())
	// == x for any x).
	Empty() Delta
}
