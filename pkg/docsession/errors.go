package docsession

import "fmt"

// ErrBadVersion reports a baseVersion ahead of the document's actual
// version — a client desync, since a version a client has never observed
// can't be a valid base for applyDelta.
func ErrBadVersion(base, current int) error {
	return fmt.Errorf("docsession: base version %d ahead of document version %d", base, current)
}
