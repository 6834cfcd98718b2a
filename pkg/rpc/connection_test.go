package rpc

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/rakunlabs/quillcore/pkg/rpc/jsoncodec"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestConnection(t *testing.T) *BaseConnection {
	t.Helper()
	info := NewContextInfo(jsoncodec.New(), nil)
	bc, err := NewBaseConnection(info, discardLogger(), nil, nil)
	if err != nil {
		t.Fatalf("NewBaseConnection: %v", err)
	}
	return bc
}

func TestHandleJSONMessagePingRoundTrips(t *testing.T) {
	bc := newTestConnection(t)

	frame := `{"id":1,"target":"meta","method":"ping","args":[]}`
	resp := bc.HandleJSONMessage(context.Background(), frame, nil)

	if !strings.Contains(resp, `"result":true`) {
		t.Fatalf("response = %q, want a result:true frame", resp)
	}
}

func TestHandleJSONMessageUnknownTargetIsCodedError(t *testing.T) {
	bc := newTestConnection(t)

	frame := `{"id":2,"target":"nope","method":"ping","args":[]}`
	resp := bc.HandleJSONMessage(context.Background(), frame, nil)

	if !strings.Contains(resp, `"kind":"bad_use"`) {
		t.Fatalf("response = %q, want a bad_use error frame", resp)
	}
}

func TestHandleJSONMessageMalformedFrameIsConnectionNonsense(t *testing.T) {
	bc := newTestConnection(t)

	resp := bc.HandleJSONMessage(context.Background(), "not json", nil)
	if !strings.Contains(resp, `"kind":"connection_nonsense"`) {
		t.Fatalf("response = %q, want connection_nonsense", resp)
	}
}

func TestHandleJSONMessageAfterCloseIsConnectionClosed(t *testing.T) {
	bc := newTestConnection(t)
	bc.Close(context.Background())

	if !bc.Closed() {
		t.Fatal("expected Closed() to be true after Close()")
	}

	resp := bc.HandleJSONMessage(context.Background(), `{"id":3,"target":"meta","method":"ping","args":[]}`, nil)
	if !strings.Contains(resp, `"kind":"connection_closed"`) {
		t.Fatalf("response = %q, want connection_closed", resp)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	bc := newTestConnection(t)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			bc.Close(context.Background())
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	if !bc.Closed() {
		t.Fatal("expected connection to be closed")
	}
}
