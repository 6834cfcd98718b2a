// Package sync implements DocumentPlumbing, the client-side finite-state
// controller that mediates operational-transform deltas between a rich-text
// editor and the authoritative document on the server. It follows the same
// actor idiom used elsewhere in this codebase — a struct whose state is
// owned by a single goroutine launched by an explicit Start, with an atomic
// mirror of the current state for outside readers — generalized from a
// cron-tick loop to an event-dispatch loop.
package sync

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rakunlabs/quillcore/pkg/delta"
)

// State is one of DocumentPlumbing's five states.
type State int

const (
	StateDetached State = iota
	StateStarting
	StateIdle
	StateCollecting
	StateMerging
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateStarting:
		return "starting"
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateMerging:
		return "merging"
	default:
		return "unknown"
	}
}

// PushDelay coalesces local edits before sending; PullDelay paces long-poll
// re-issues. Both default to one second.
const (
	PushDelay = time.Second
	PullDelay = time.Second
)

// writeBackTag marks editor writes DocumentPlumbing itself performed, so the
// re-entrant text-change event they produce can be filtered out.
const writeBackTag = "quillcore-sync"

// docSnapshot is the (version, data) pair DocumentPlumbing tracks locally.
type docSnapshot struct {
	version int
	data    delta.Delta
}

// Editor is the narrow seam to the rich-text widget: an external
// collaborator per the core's scope, consumed only through this interface.
type Editor interface {
	// ApplyDelta instructs the editor to apply d, tagged with source so a
	// write originating from DocumentPlumbing can be told apart from a
	// genuine user edit.
	ApplyDelta(d delta.Delta, source string) error

	// EnableInput is called once the initial snapshot has loaded.
	EnableInput()

	// OnTextChange registers the callback DocumentPlumbing uses to receive
	// gotLocalDelta events. Only one callback is ever registered.
	OnTextChange(func(d delta.Delta, oldContents delta.Delta, source string))
}

// RPCClient is the narrow seam to the server: snapshot, apply, and
// long-poll for the next delta.
type RPCClient interface {
	Snapshot(ctx context.Context) (version int, data delta.Delta, err error)
	ApplyDelta(ctx context.Context, baseVersion int, d delta.Delta) (version int, corrected delta.Delta, err error)
	DeltaAfter(ctx context.Context, baseVersion int) (version int, d delta.Delta, err error)
}

// event is the tagged union DocumentPlumbing's loop dispatches. Only the
// payload fields that the sending site fills in for a kind are meaningful.
type event struct {
	kind eventKind

	// gotSnapshot
	version int
	data    delta.Delta

	// gotDeltaAfter
	base docSnapshot
	d    delta.Delta

	// gotLocalDelta
	oldContents delta.Delta
	source      string

	// gotApplyDelta
	expected delta.Delta

	// apiError
	method  string
	message string
}

type eventKind int

const (
	eventStart eventKind = iota
	eventGotSnapshot
	eventGotDeltaAfter
	eventGotLocalDelta
	eventWantDeltaAfter
	eventWantApplyDelta
	eventGotApplyDelta
	eventAPIError
)

// DocumentPlumbing owns the editor handle, the RPC client handle, and the
// finite-state controller described above. All state is touched only by
// the loop goroutine started by Start; external callers only ever send
// events onto events.
type DocumentPlumbing struct {
	editor  Editor
	rpc     RPCClient
	algebra delta.Algebra
	logger  *slog.Logger

	state          State
	observedState  atomic.Int32 // mirrors state for State(), safe to read from any goroutine
	doc            docSnapshot
	collectedDelta delta.Delta // nil (interface zero value) when empty

	events chan event
	done   chan struct{}
}

// setState updates both the loop-owned state and the value State() reads.
func (p *DocumentPlumbing) setState(s State) {
	p.state = s
	p.observedState.Store(int32(s))
}

// New builds a DocumentPlumbing in the detached state. Call Start to begin.
func New(editor Editor, rpc RPCClient, algebra delta.Algebra, logger *slog.Logger) *DocumentPlumbing {
	return &DocumentPlumbing{
		editor:  editor,
		rpc:     rpc,
		algebra: algebra,
		logger:  logger,
		state:   StateDetached,
		events:  make(chan event, 8),
		done:    make(chan struct{}),
	}
}

// Start launches the event loop and kicks it off with the start event. It
// returns immediately; the loop runs until ctx is cancelled or a fatal
// apiError is dispatched.
func (p *DocumentPlumbing) Start(ctx context.Context) {
	go p.loop(ctx)
	p.events <- event{kind: eventStart}
}

// Done is closed once the loop has exited (ctx cancellation or a fatal
// apiError).
func (p *DocumentPlumbing) Done() <-chan struct{} { return p.done }

// loop is the single goroutine that owns every field on p. Scheduled
// events (wantApplyDelta, wantDeltaAfter) are posted back onto p.events by
// time.AfterFunc; RPC results are posted back by the goroutines the
// handlers below spawn. Dispatch never blocks on an RPC call directly, so
// the loop always stays responsive to new local edits.
func (p *DocumentPlumbing) loop(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			next, ok := p.handle(ctx, ev)
			if !ok {
				return
			}
			for next != nil {
				var again *event
				again, ok = p.handle(ctx, *next)
				if !ok {
					return
				}
				next = again
			}
		}
	}
}

// handle dispatches one event and returns an optional synthetic follow-up
// event to run in the same turn (the "bounded tail-call chain"), plus false
// if the loop should stop (a fatal apiError).
func (p *DocumentPlumbing) handle(ctx context.Context, ev event) (*event, bool) {
	switch ev.kind {
	case eventStart:
		if p.state != StateDetached {
			return nil, true
		}
		p.setState(StateStarting)
		go p.callSnapshot(ctx)

	case eventGotSnapshot:
		if p.state != StateStarting {
			return nil, true
		}
		p.doc = docSnapshot{version: ev.version, data: ev.data}
		p.editor.OnTextChange(p.onTextChange)
		p.editor.EnableInput()
		p.setState(StateIdle)
		p.scheduleWantDeltaAfter(PullDelay)

	case eventWantDeltaAfter:
		if p.state != StateIdle {
			return nil, true // any other state: ignore
		}
		base := p.doc
		go p.callDeltaAfter(ctx, base)

	case eventGotDeltaAfter:
		if p.state != StateIdle {
			return nil, true
		}
		if ev.base.version == p.doc.version {
			p.applyServerDelta(ev.d)
		}
		p.scheduleWantDeltaAfter(PullDelay)

	case eventGotLocalDelta:
		if ev.source == writeBackTag {
			return nil, true // feedback from our own write, ignore
		}
		switch p.state {
		case StateIdle:
			p.collectedDelta = ev.d
			p.setState(StateCollecting)
			p.scheduleWantApplyDelta(PushDelay)
		case StateCollecting:
			p.collectedDelta = p.algebra.Compose(p.collectedDelta, ev.d)
		case StateMerging:
			if p.collectedDelta == nil {
				p.collectedDelta = ev.d
			} else {
				p.collectedDelta = p.algebra.Compose(p.collectedDelta, ev.d)
			}
		default:
			return nil, true
		}

	case eventWantApplyDelta:
		if p.state != StateCollecting {
			return nil, true
		}
		if p.collectedDelta == nil || p.collectedDelta.IsEmpty() {
			p.setState(StateIdle)
			p.scheduleWantDeltaAfter(0)
			return nil, true
		}
		toSend := p.collectedDelta
		expected := p.algebra.Compose(p.doc.data, toSend)
		p.collectedDelta = nil
		p.setState(StateMerging)
		baseVersion := p.doc.version
		go p.callApplyDelta(ctx, baseVersion, toSend, expected)

	case eventGotApplyDelta:
		if p.state != StateMerging {
			return nil, true
		}
		next := p.mergeDecision(ev.expected, ev.version, ev.d)
		return next, true

	case eventAPIError:
		p.logger.Error("sync: rpc call failed, stopping", "method", ev.method, "error", ev.message)
		return nil, false
	}

	return nil, true
}

// mergeDecision picks the next action from the four-way combination of
// whether the server sent a correction and whether local edits accumulated
// while the applyDelta call was in flight. S is the server correction, L is
// whatever local edits accumulated.
func (p *DocumentPlumbing) mergeDecision(expected delta.Delta, version int, s delta.Delta) *event {
	l := p.collectedDelta
	sEmpty := s == nil || s.IsEmpty()
	lEmpty := l == nil || l.IsEmpty()

	switch {
	case sEmpty && lEmpty:
		p.doc = docSnapshot{version: version, data: expected}
		p.setState(StateIdle)
		p.scheduleWantDeltaAfter(0)
		return nil

	case sEmpty && !lEmpty:
		p.doc = docSnapshot{version: version, data: expected}
		p.collectedDelta = nil
		p.setState(StateIdle)
		return &event{kind: eventGotLocalDelta, d: l, oldContents: p.doc.data, source: "internal-source"}

	case !sEmpty && lEmpty:
		p.doc = docSnapshot{version: version, data: p.algebra.Compose(expected, s)}
		p.setState(StateIdle)
		if err := p.editor.ApplyDelta(s, writeBackTag); err != nil {
			p.logger.Error("sync: failed to apply server delta to editor", "error", err)
		}
		p.scheduleWantDeltaAfter(0)
		return nil

	default:
		// Rebase: L' = transform(S, L, priority=local=false); apply S to
		// doc.data; apply L' to the editor; resume collecting with L'.
		lPrime := p.algebra.Transform(s, l, false)
		p.doc = docSnapshot{version: version, data: p.algebra.Compose(p.doc.data, s)}
		if err := p.editor.ApplyDelta(s, writeBackTag); err != nil {
			p.logger.Error("sync: failed to apply rebased server delta to editor", "error", err)
		}
		p.collectedDelta = lPrime
		p.setState(StateCollecting)
		p.scheduleWantApplyDelta(PushDelay)
		return nil
	}
}

// applyServerDelta composes d into doc.data and writes it through to the
// editor. The caller must already have confirmed collectedDelta is empty
// (the idle gotDeltaAfter handler is the only caller, and idle implies no
// pending local edits).
func (p *DocumentPlumbing) applyServerDelta(d delta.Delta) {
	if p.collectedDelta != nil && !p.collectedDelta.IsEmpty() {
		p.logger.Error("sync: version_skew: server delta arrived with local edits outstanding")
		return
	}
	p.doc.data = p.algebra.Compose(p.doc.data, d)
	if err := p.editor.ApplyDelta(d, writeBackTag); err != nil {
		p.logger.Error("sync: failed to apply delta to editor", "error", err)
	}
}

// onTextChange is registered with the editor once the initial snapshot
// loads. It always re-enters the loop via the events channel, never
// touching DocumentPlumbing state directly, since the editor may invoke it
// from its own goroutine.
func (p *DocumentPlumbing) onTextChange(d delta.Delta, oldContents delta.Delta, source string) {
	p.events <- event{kind: eventGotLocalDelta, d: d, oldContents: oldContents, source: source}
}

func (p *DocumentPlumbing) scheduleWantDeltaAfter(after time.Duration) {
	time.AfterFunc(after, func() {
		p.events <- event{kind: eventWantDeltaAfter}
	})
}

func (p *DocumentPlumbing) scheduleWantApplyDelta(after time.Duration) {
	time.AfterFunc(after, func() {
		p.events <- event{kind: eventWantApplyDelta}
	})
}

func (p *DocumentPlumbing) callSnapshot(ctx context.Context) {
	version, data, err := p.rpc.Snapshot(ctx)
	if err != nil {
		p.events <- event{kind: eventAPIError, method: "snapshot", message: err.Error()}
		return
	}
	p.events <- event{kind: eventGotSnapshot, version: version, data: data}
}

func (p *DocumentPlumbing) callDeltaAfter(ctx context.Context, base docSnapshot) {
	version, d, err := p.rpc.DeltaAfter(ctx, base.version)
	if err != nil {
		p.events <- event{kind: eventAPIError, method: "deltaAfter", message: err.Error()}
		return
	}
	p.events <- event{kind: eventGotDeltaAfter, base: base, version: version, d: d}
}

func (p *DocumentPlumbing) callApplyDelta(ctx context.Context, baseVersion int, toSend, expected delta.Delta) {
	version, corrected, err := p.rpc.ApplyDelta(ctx, baseVersion, toSend)
	if err != nil {
		p.events <- event{kind: eventAPIError, method: "applyDelta", message: err.Error()}
		return
	}
	p.events <- event{kind: eventGotApplyDelta, expected: expected, version: version, d: corrected}
}

// State reports the current state and is safe to call from any goroutine.
func (p *DocumentPlumbing) State() State {
	return State(p.observedState.Load())
}
