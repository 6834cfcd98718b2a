package textdelta

// opIterator walks a run of ops, splitting a run when the caller consumes
// fewer characters than it holds. Mirrors the cursor quill-delta's op.iter
// uses to merge two op streams without ever materializing per-character
// ops.
type opIterator struct {
	ops    []Op
	index  int
	offset int // characters of ops[index] already consumed
}

func newOpIterator(ops []Op) *opIterator {
	return &opIterator{ops: ops}
}

func (it *opIterator) hasNext() bool {
	return it.peekLen() > 0
}

// peekLen returns how many characters remain in the current op, or -1 if
// the iterator is exhausted.
func (it *opIterator) peekLen() int {
	if it.index >= len(it.ops) {
		return -1
	}
	return opLen(it.ops[it.index]) - it.offset
}

func (it *opIterator) peekKind() OpKind {
	if it.index >= len(it.ops) {
		return OpRetain // exhausted streams behave as an infinite retain
	}
	return it.ops[it.index].Kind
}

func (it *opIterator) peek() Op {
	if it.index >= len(it.ops) {
		return retainOp(0)
	}
	return it.ops[it.index]
}

// next consumes up to length characters from the current op (or the whole
// remainder when length < 0) and returns the consumed slice as its own op.
func (it *opIterator) next(length int) Op {
	if it.index >= len(it.ops) {
		return retainOp(0)
	}

	op := it.ops[it.index]
	remaining := opLen(op) - it.offset
	if length < 0 || length > remaining {
		length = remaining
	}

	var out Op
	switch op.Kind {
	case OpInsert:
		out = insertOp(op.Text[it.offset : it.offset+length])
	default:
		out = Op{Kind: op.Kind, Len: length}
	}

	if length == remaining {
		it.index++
		it.offset = 0
	} else {
		it.offset += length
	}

	return out
}

func opLen(op Op) int {
	if op.Kind == OpInsert {
		return len(op.Text)
	}
	return op.Len
}
