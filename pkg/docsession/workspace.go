package docsession

import (
	"context"
	"sync"

	"github.com/rakunlabs/quillcore/pkg/delta"
	"github.com/rakunlabs/quillcore/pkg/rpc"
)

// Workspace is the object a bearer token authorizes into: the root handle a
// client gets after a successful connection, from which it opens individual
// documents. Documents are created lazily and shared across every caller
// that opens the same id.
type Workspace struct {
	algebra delta.Algebra

	mu   sync.Mutex
	docs map[string]*Document
}

// NewWorkspace creates an empty workspace using algebra for every document
// it creates.
func NewWorkspace(algebra delta.Algebra) *Workspace {
	return &Workspace{algebra: algebra, docs: make(map[string]*Document)}
}

// OpenDocument returns a ProxiedObject wrapping the document for id,
// creating it (seeded with algebra.Empty()) if this is the first time it's
// been opened.
func (w *Workspace) OpenDocument(ctx context.Context, id string) (rpc.ProxiedObject, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	doc, ok := w.docs[id]
	if !ok {
		doc = NewDocument(w.algebra, w.algebra.Empty())
		w.docs[id] = doc
	}

	return rpc.Proxy(doc), nil
}

var workspaceSchema = rpc.NewSchemaBuilder(&Workspace{}).
	Method(rpc.MethodSpec{
		Name:           "openDocument",
		ArgsLoggable:   []bool{true},
		ResultLoggable: true,
		Invoke: func(ctx context.Context, recv any, args []any) (any, error) {
			if len(args) < 1 {
				return nil, rpc.ErrBadUse("missing document id argument")
			}
			id, ok := args[0].(string)
			if !ok {
				return nil, rpc.ErrBadValue(args[0], "document-id")
			}
			return recv.(*Workspace).OpenDocument(ctx, id)
		},
	}).
	Build()

func init() {
	rpc.RegisterSchema(&Workspace{}, workspaceSchema)
}

// WorkspaceSchema returns the shared Schema for Workspace.
func WorkspaceSchema() rpc.Schema { return workspaceSchema }
