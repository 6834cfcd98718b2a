package docsession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rakunlabs/quillcore/pkg/delta/textdelta"
)

func TestApplyDeltaNoConcurrentEdits(t *testing.T) {
	doc := NewDocument(textdelta.Algebra{}, textdelta.FromInsert("hello"))

	incoming := textdelta.New(textdelta.Op{Kind: textdelta.OpRetain, Len: 5}, textdelta.Op{Kind: textdelta.OpInsert, Text: " world", Len: 6})
	version, correction, err := doc.ApplyDelta(context.Background(), 0, incoming)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	if !correction.IsEmpty() {
		t.Fatalf("expected empty correction with no concurrent edits, got %+v", correction)
	}

	_, data, _ := doc.Snapshot(context.Background())
	if got := data.(textdelta.Delta).PlainText(); got != "hello world" {
		t.Fatalf("document text = %q, want %q", got, "hello world")
	}
}

func TestApplyDeltaRejectsFutureBaseVersion(t *testing.T) {
	doc := NewDocument(textdelta.Algebra{}, textdelta.FromInsert("hello"))

	_, _, err := doc.ApplyDelta(context.Background(), 5, textdelta.FromInsert("x"))
	if err == nil {
		t.Fatal("expected error for a base version ahead of the document")
	}
}

func TestApplyDeltaRebasesAgainstConcurrentEdit(t *testing.T) {
	doc := NewDocument(textdelta.Algebra{}, textdelta.FromInsert("hello"))

	// Client A commits first, advancing the document to version 1.
	editA := textdelta.New(textdelta.Op{Kind: textdelta.OpRetain, Len: 5}, textdelta.Op{Kind: textdelta.OpInsert, Text: "!", Len: 1})
	if _, _, err := doc.ApplyDelta(context.Background(), 0, editA); err != nil {
		t.Fatalf("ApplyDelta A: %v", err)
	}

	// Client B started from version 0 too, unaware of A's edit.
	editB := textdelta.New(textdelta.Op{Kind: textdelta.OpInsert, Text: ">> ", Len: 3})
	version, correction, err := doc.ApplyDelta(context.Background(), 0, editB)
	if err != nil {
		t.Fatalf("ApplyDelta B: %v", err)
	}
	if version != 2 {
		t.Fatalf("version = %d, want 2", version)
	}

	_, data, _ := doc.Snapshot(context.Background())
	gotText := data.(textdelta.Delta).PlainText()
	if gotText != ">> hello!" {
		t.Fatalf("document text = %q, want %q", gotText, ">> hello!")
	}

	// The correction must restate B's expected doc (hello! composed with B
	// applied naively) into the server's true result.
	if correction.IsEmpty() {
		t.Fatal("expected a non-empty correction since A's edit landed first")
	}
}

func TestDeltaAfterReturnsImmediatelyWhenAlreadyAhead(t *testing.T) {
	doc := NewDocument(textdelta.Algebra{}, textdelta.FromInsert("hello"))
	if _, _, err := doc.ApplyDelta(context.Background(), 0, textdelta.FromInsert("!")); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	version, _, err := doc.DeltaAfter(ctx, 0)
	if err != nil {
		t.Fatalf("DeltaAfter: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
}

func TestDeltaAfterWakesOnNewCommit(t *testing.T) {
	doc := NewDocument(textdelta.Algebra{}, textdelta.FromInsert("hello"))

	result := make(chan int, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		version, _, err := doc.DeltaAfter(ctx, 0)
		if err != nil {
			result <- -1
			return
		}
		result <- version
	}()

	time.Sleep(50 * time.Millisecond)
	if _, _, err := doc.ApplyDelta(context.Background(), 0, textdelta.FromInsert("!")); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	select {
	case v := <-result:
		if v != 1 {
			t.Fatalf("DeltaAfter returned version %d, want 1", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("DeltaAfter did not wake up after commit")
	}
}

func TestDeltaAfterCancelledByContext(t *testing.T) {
	doc := NewDocument(textdelta.Algebra{}, textdelta.FromInsert("hello"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := doc.DeltaAfter(ctx, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
