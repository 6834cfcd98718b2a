// Package docsession holds the authoritative, server-side half of a
// collaborative document: the version history DocumentPlumbing's
// snapshot/applyDelta/deltaAfter calls resolve against, and the workspace
// that hands out documents as proxied RPC targets.
package docsession

import (
	"context"
	"sync"

	"github.com/rakunlabs/quillcore/pkg/delta"
)

// Document is the authoritative revision history for one document. Every
// exported method is safe for concurrent use; a single Document is typically
// shared by every connection editing the same document id.
type Document struct {
	algebra delta.Algebra

	mu      sync.Mutex
	version int
	data    delta.Delta
	// history[i] is the delta committed at version i+1 (i.e. the edit that
	// took the document from version i to i+1). Append-only.
	history []delta.Delta

	// waiters are resumed, in order, whenever version advances; each entry
	// is woken once (single-shot fan-out rather than sync.Cond, so a waiter
	// can also watch ctx.Done() without a spurious wakeup loop).
	waiters []chan struct{}
}

// NewDocument creates a document at version 0 with the given initial
// content.
func NewDocument(algebra delta.Algebra, initial delta.Delta) *Document {
	return &Document{algebra: algebra, version: 0, data: initial}
}

// Snapshot returns the current version and content.
func (d *Document) Snapshot(ctx context.Context) (int, delta.Delta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version, d.data, nil
}

// ApplyDelta merges a client's edit against the history since baseVersion
// and returns the new version plus the correction from the client's
// locally-composed expected result to the server's actual resulting
// document: if nothing concurrent happened, the correction is empty; if
// other edits landed first, incoming is restated on top of them before
// being committed.
func (d *Document) ApplyDelta(ctx context.Context, baseVersion int, incoming delta.Delta) (int, delta.Delta, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if baseVersion > d.version {
		return d.version, d.algebra.Empty(), ErrBadVersion(baseVersion, d.version)
	}

	concurrent := d.algebra.Empty()
	for _, rev := range d.history[baseVersion:] {
		concurrent = d.algebra.Compose(concurrent, rev)
	}

	// Restate incoming after every edit that landed since baseVersion,
	// giving priority to what's already committed.
	toApply := d.algebra.Transform(concurrent, incoming, false)

	d.data = d.algebra.Compose(d.data, toApply)
	d.history = append(d.history, toApply)
	d.version++
	d.wake()

	// Dual of toApply's transform: what the client must apply, on top of
	// the expected document it already composed locally, to reach the same
	// result as toApply committed against concurrent.
	correction := d.algebra.Transform(incoming, concurrent, true)
	return d.version, correction, nil
}

// DeltaAfter long-polls: it does not return until the document has advanced
// past baseVersion, or ctx is done. The returned delta composes every
// revision from baseVersion+1 through the returned version.
func (d *Document) DeltaAfter(ctx context.Context, baseVersion int) (int, delta.Delta, error) {
	for {
		d.mu.Lock()
		if d.version > baseVersion {
			combined := d.history[baseVersion]
			for _, rev := range d.history[baseVersion+1:] {
				combined = d.algebra.Compose(combined, rev)
			}
			version := d.version
			d.mu.Unlock()
			return version, combined, nil
		}

		wake := make(chan struct{})
		d.waiters = append(d.waiters, wake)
		d.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return baseVersion, d.algebra.Empty(), ctx.Err()
		}
	}
}

func (d *Document) wake() {
	for _, w := range d.waiters {
		close(w)
	}
	d.waiters = nil
}
