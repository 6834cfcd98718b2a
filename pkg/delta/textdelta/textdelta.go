// Package textdelta is a reference implementation of delta.Algebra over
// plain-text Quill-style operations (insert/retain/delete), grounded on the
// same insert/delete-operation shape used by the CRDT collaborative editors
// in the example corpus, generalized from a per-character RGA op to
// run-length-encoded text ops so real documents don't need one Op per rune.
package textdelta

import (
	"strings"

	"github.com/rakunlabs/quillcore/pkg/delta"
)

// OpKind distinguishes the three Quill-style operation shapes.
type OpKind int

const (
	OpInsert OpKind = iota
	OpRetain
	OpDelete
)

// Op is one run in a Delta: an insert of Text, a retain of Len unchanged
// characters, or a delete of Len characters.
type Op struct {
	Kind OpKind
	Text string // set for OpInsert
	Len  int    // set for OpRetain and OpDelete; len(Text) for OpInsert
}

func insertOp(s string) Op { return Op{Kind: OpInsert, Text: s, Len: len(s)} }
func retainOp(n int) Op    { return Op{Kind: OpRetain, Len: n} }
func deleteOp(n int) Op    { return Op{Kind: OpDelete, Len: n} }

// Delta is a sequence of ops. It implements delta.Delta.
type Delta struct {
	Ops []Op
}

// New builds a Delta from explicit ops, dropping any zero-length runs.
func New(ops ...Op) Delta {
	d := Delta{}
	for _, op := range ops {
		d.push(op)
	}
	return d
}

// FromInsert builds a single-insert Delta representing a full document.
func FromInsert(text string) Delta {
	return New(insertOp(text))
}

func (d Delta) IsEmpty() bool {
	for _, op := range d.Ops {
		if op.Kind != OpRetain {
			return false
		}
	}
	return true
}

// push appends op to the delta, merging with the previous run when possible
// (two inserts of the same kind, or two retains/deletes) so Ops stays
// minimal the way the quill-delta reference library does.
func (d *Delta) push(op Op) {
	if op.Kind != OpInsert && op.Len == 0 {
		return
	}
	if op.Kind == OpInsert && op.Text == "" {
		return
	}

	if len(d.Ops) == 0 {
		d.Ops = append(d.Ops, op)
		return
	}

	last := &d.Ops[len(d.Ops)-1]

	// Inserts are always normalized to come before deletes at the same
	// position (quill-delta's invariant), so an insert following a delete
	// is reordered ahead of it, or merged into the run before the delete
	// when that run is itself an insert.
	if last.Kind == OpDelete && op.Kind == OpInsert {
		if len(d.Ops) >= 2 && d.Ops[len(d.Ops)-2].Kind == OpInsert {
			prev := &d.Ops[len(d.Ops)-2]
			prev.Text += op.Text
			prev.Len += op.Len
			return
		}
		d.Ops = append(d.Ops[:len(d.Ops)-1], op, *last)
		return
	}

	if last.Kind == op.Kind {
		switch op.Kind {
		case OpInsert:
			last.Text += op.Text
			last.Len += op.Len
		default:
			last.Len += op.Len
		}
		return
	}

	d.Ops = append(d.Ops, op)
}

// Algebra implements delta.Algebra over textdelta.Delta.
type Algebra struct{}

var _ delta.Algebra = Algebra{}

func (Algebra) Empty() delta.Delta { return Delta{} }

// Compose returns the delta equal to applying a then b, following the
// standard three-cursor merge over a and b's op streams.
func (Algebra) Compose(a, b delta.Delta) delta.Delta {
	da, db := mustTextDelta(a), mustTextDelta(b)

	ai := newOpIterator(da.Ops)
	bi := newOpIterator(db.Ops)
	result := Delta{}

	for ai.hasNext() || bi.hasNext() {
		switch {
		case bi.peekKind() == OpInsert:
			result.push(bi.next(-1))

		case ai.peekKind() == OpDelete:
			result.push(ai.next(-1))

		default:
			length := minLen(ai.peekLen(), bi.peekLen())
			aOp := ai.next(length)
			bOp := bi.next(length)

			switch {
			case bOp.Kind == OpRetain:
				if aOp.Kind == OpInsert {
					result.push(insertOp(aOp.Text))
				} else {
					result.push(retainOp(length))
				}
			case bOp.Kind == OpDelete:
				if aOp.Kind == OpRetain {
					result.push(deleteOp(length))
				}
				// aOp was an insert being deleted by b: net effect is nothing.
			}
		}
	}

	return result
}

// Transform returns the delta that restates over against a concurrent base,
// per the standard OT transform: inserts in base shift over's retain
// offsets; simultaneous inserts at the same position are ordered by
// priority.
func (Algebra) Transform(base, over delta.Delta, priority bool) delta.Delta {
	db, do := mustTextDelta(base), mustTextDelta(over)

	bi := newOpIterator(db.Ops)
	oi := newOpIterator(do.Ops)
	result := Delta{}

	for bi.hasNext() || oi.hasNext() {
		switch {
		case bi.peekKind() == OpInsert && (!priority || oi.peekKind() != OpInsert):
			result.push(retainOp(bi.next(-1).Len))

		case oi.peekKind() == OpInsert:
			result.push(oi.next(-1))

		default:
			length := minLen(bi.peekLen(), oi.peekLen())
			bOp := bi.next(length)
			oOp := oi.next(length)

			switch {
			case bOp.Kind == OpDelete:
				// base already removed this span; over's corresponding op
				// (retain or delete) is dropped.
			case oOp.Kind == OpDelete:
				result.push(oOp)
			default:
				result.push(retainOp(length))
			}
		}
	}

	return result
}

// Diff computes the delta turning a's resulting text into b's, via a
// longest-common-prefix/suffix reduction. It does not reconstruct
// attribute changes — plain-text documents only.
func (Algebra) Diff(a, b delta.Delta) delta.Delta {
	sa := mustTextDelta(a).PlainText()
	sb := mustTextDelta(b).PlainText()

	prefix := commonPrefixLen(sa, sb)
	sa, sb = sa[prefix:], sb[prefix:]

	suffix := commonPrefixLen(reverse(sa), reverse(sb))
	if suffix > len(sa) {
		suffix = len(sa)
	}
	if suffix > len(sb) {
		suffix = len(sb)
	}
	midA := sa[:len(sa)-suffix]
	midB := sb[:len(sb)-suffix]

	result := Delta{}
	if prefix > 0 {
		result.push(retainOp(prefix))
	}
	if len(midA) > 0 {
		result.push(deleteOp(len(midA)))
	}
	if len(midB) > 0 {
		result.push(insertOp(midB))
	}
	if suffix > 0 {
		result.push(retainOp(suffix))
	}
	return result
}

// PlainText concatenates every insert run, ignoring retain/delete — used
// only where the caller already knows d represents a full document
// snapshot (not an edit delta).
func (d Delta) PlainText() string {
	var sb strings.Builder
	for _, op := range d.Ops {
		if op.Kind == OpInsert {
			sb.WriteString(op.Text)
		}
	}
	return sb.String()
}

func mustTextDelta(d delta.Delta) Delta {
	if td, ok := d.(Delta); ok {
		return td
	}
	return Delta{}
}

func minLen(a, b int) int {
	switch {
	case a < 0:
		return b
	case b < 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func reverse(s string) string {
	r := []byte(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
