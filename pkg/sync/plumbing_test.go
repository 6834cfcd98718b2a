package sync

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rakunlabs/quillcore/pkg/delta"
	"github.com/rakunlabs/quillcore/pkg/delta/textdelta"
)

type fakeEditor struct {
	mu       sync.Mutex
	applied  []delta.Delta
	enabled  bool
	onChange func(d delta.Delta, oldContents delta.Delta, source string)
}

func (e *fakeEditor) ApplyDelta(d delta.Delta, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, d)
	return nil
}

func (e *fakeEditor) EnableInput() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = true
}

func (e *fakeEditor) OnTextChange(cb func(d delta.Delta, oldContents delta.Delta, source string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = cb
}

func (e *fakeEditor) trigger(d delta.Delta, old delta.Delta, source string) {
	e.mu.Lock()
	cb := e.onChange
	e.mu.Unlock()
	cb(d, old, source)
}

type fakeRPC struct {
	mu            sync.Mutex
	snapVersion   int
	snapData      delta.Delta
	applyCalls    []delta.Delta
	applyVersion  int
	applyCorrect  delta.Delta
	applyRelease  chan struct{} // if set, ApplyDelta blocks until it is closed
	deltaAfterHit chan struct{}
}

func (r *fakeRPC) Snapshot(ctx context.Context) (int, delta.Delta, error) {
	return r.snapVersion, r.snapData, nil
}

func (r *fakeRPC) ApplyDelta(ctx context.Context, baseVersion int, d delta.Delta) (int, delta.Delta, error) {
	r.mu.Lock()
	r.applyCalls = append(r.applyCalls, d)
	r.mu.Unlock()
	if r.applyRelease != nil {
		<-r.applyRelease
	}
	return r.applyVersion, r.applyCorrect, nil
}

func (r *fakeRPC) DeltaAfter(ctx context.Context, baseVersion int) (int, delta.Delta, error) {
	if r.deltaAfterHit != nil {
		select {
		case r.deltaAfterHit <- struct{}{}:
		default:
		}
	}
	<-ctx.Done()
	return 0, nil, ctx.Err()
}

func waitForState(t *testing.T, p *DocumentPlumbing, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, last seen %s", want, p.State())
}

func TestStartReachesIdleAfterSnapshot(t *testing.T) {
	editor := &fakeEditor{}
	rpcClient := &fakeRPC{snapVersion: 1, snapData: textdelta.FromInsert("hello")}
	p := New(editor, rpcClient, textdelta.Algebra{}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	waitForState(t, p, StateIdle, time.Second)

	editor.mu.Lock()
	enabled := editor.enabled
	editor.mu.Unlock()
	if !enabled {
		t.Fatal("expected editor.EnableInput to have been called once idle")
	}
}

func TestLocalEditRoundTripsThroughMergingBackToIdle(t *testing.T) {
	editor := &fakeEditor{}
	rpcClient := &fakeRPC{
		snapVersion:  1,
		snapData:     textdelta.FromInsert("hello"),
		applyVersion: 2,
		applyCorrect: textdelta.Delta{}, // server accepted the edit verbatim
		applyRelease: make(chan struct{}),
	}
	p := New(editor, rpcClient, textdelta.Algebra{}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	waitForState(t, p, StateIdle, time.Second)

	edit := textdelta.New(textdelta.Op{Kind: textdelta.OpRetain, Len: 5}, textdelta.Op{Kind: textdelta.OpInsert, Text: " world", Len: 6})
	editor.trigger(edit, textdelta.FromInsert("hello"), "user")

	waitForState(t, p, StateCollecting, time.Second)
	waitForState(t, p, StateMerging, PushDelay+500*time.Millisecond)
	close(rpcClient.applyRelease)
	waitForState(t, p, StateIdle, time.Second)

	rpcClient.mu.Lock()
	calls := len(rpcClient.applyCalls)
	rpcClient.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one ApplyDelta RPC call, got %d", calls)
	}
}

func TestOwnWriteBackIsIgnored(t *testing.T) {
	editor := &fakeEditor{}
	rpcClient := &fakeRPC{snapVersion: 1, snapData: textdelta.FromInsert("hello")}
	p := New(editor, rpcClient, textdelta.Algebra{}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	waitForState(t, p, StateIdle, time.Second)

	editor.trigger(textdelta.FromInsert("ignored"), textdelta.Delta{}, writeBackTag)

	// A write-back-tagged change must never start a collecting cycle.
	time.Sleep(100 * time.Millisecond)
	if got := p.State(); got != StateIdle {
		t.Fatalf("expected state to remain idle after write-back echo, got %s", got)
	}
}
