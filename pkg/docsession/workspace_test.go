package docsession

import (
	"context"
	"testing"

	"github.com/rakunlabs/quillcore/pkg/delta/textdelta"
)

func TestOpenDocumentCreatesLazily(t *testing.T) {
	ws := NewWorkspace(textdelta.Algebra{})

	proxied, err := ws.OpenDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}
	doc, ok := proxied.Object.(*Document)
	if !ok {
		t.Fatalf("expected *Document, got %T", proxied.Object)
	}

	version, _, err := doc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if version != 0 {
		t.Fatalf("fresh document version = %d, want 0", version)
	}
}

func TestOpenDocumentSharesSameInstance(t *testing.T) {
	ws := NewWorkspace(textdelta.Algebra{})

	first, err := ws.OpenDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("OpenDocument first: %v", err)
	}
	doc := first.Object.(*Document)

	if _, _, err := doc.ApplyDelta(context.Background(), 0, textdelta.FromInsert("hi")); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	second, err := ws.OpenDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("OpenDocument second: %v", err)
	}
	if second.Object.(*Document) != doc {
		t.Fatal("expected OpenDocument to return the same instance for the same id")
	}

	version, _, _ := second.Object.(*Document).Snapshot(context.Background())
	if version != 1 {
		t.Fatalf("shared document version = %d, want 1", version)
	}
}

func TestOpenDocumentDistinctIdsAreIndependent(t *testing.T) {
	ws := NewWorkspace(textdelta.Algebra{})

	a, _ := ws.OpenDocument(context.Background(), "doc-a")
	b, _ := ws.OpenDocument(context.Background(), "doc-b")

	if a.Object.(*Document) == b.Object.(*Document) {
		t.Fatal("distinct document ids must not share an instance")
	}
}
