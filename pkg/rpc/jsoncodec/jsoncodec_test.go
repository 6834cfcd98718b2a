package jsoncodec

import (
	"strings"
	"testing"

	"github.com/rakunlabs/quillcore/pkg/rpc"
)

func TestDecodeMessageParsesMethodAndArgs(t *testing.T) {
	c := New()
	msg, err := c.DecodeMessage(`{"id":7,"target":"meta","method":"ping","args":["a",1]}`)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.ID != 7 || msg.TargetID != "meta" || msg.Payload.Name != "ping" {
		t.Fatalf("decoded message = %+v", msg)
	}
	if len(msg.Payload.Args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(msg.Payload.Args))
	}
}

func TestDecodeMessageMissingMethodIsError(t *testing.T) {
	c := New()
	if _, err := c.DecodeMessage(`{"id":1,"target":"meta"}`); err == nil {
		t.Fatal("expected an error for a message missing its method")
	}
}

func TestDecodeMessageMalformedJSONIsError(t *testing.T) {
	c := New()
	if _, err := c.DecodeMessage(`not json`); err == nil {
		t.Fatal("expected an error decoding non-JSON")
	}
}

func TestEncodeResponseRoundTripsResult(t *testing.T) {
	c := New()
	encoded, err := c.EncodeResponse(rpc.Response{ID: 3, Result: "ok"})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if !strings.Contains(encoded, `"result":"ok"`) {
		t.Fatalf("encoded = %q", encoded)
	}
}

func TestEncodeResponseTagsRemoteAsRegisteredClass(t *testing.T) {
	c := New()
	encoded, err := c.EncodeResponse(rpc.Response{ID: 1, Result: rpc.Remote{TargetID: "abc"}})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if !strings.Contains(encoded, `"class":"Remote"`) || !strings.Contains(encoded, `"targetId":"abc"`) {
		t.Fatalf("encoded = %q, want a tagged Remote class", encoded)
	}
}

func TestEncodeResponseCarriesErrorKind(t *testing.T) {
	c := New()
	encoded, err := c.EncodeResponse(rpc.Response{ID: 2, Err: rpc.NewError(rpc.KindBadUse, "nope")})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if !strings.Contains(encoded, `"kind":"bad_use"`) {
		t.Fatalf("encoded = %q, want kind bad_use", encoded)
	}
}

func TestEncodeConservativeStringifiesUnencodableResult(t *testing.T) {
	c := New()
	// A channel can't be JSON-marshaled; EncodeConservative must still
	// produce a valid frame by stringifying it instead.
	ch := make(chan int)
	encoded, err := c.EncodeConservative(rpc.Response{ID: 4, Result: ch})
	if err != nil {
		t.Fatalf("EncodeConservative: %v", err)
	}
	if !strings.Contains(encoded, `"result"`) {
		t.Fatalf("encoded = %q", encoded)
	}
}

func TestDecodeValueRecoversRemoteFromWireForm(t *testing.T) {
	c := New()
	msg, err := c.DecodeMessage(`{"id":1,"target":"meta","method":"use","args":[{"class":"Remote","targetId":"xyz"}]}`)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	remote, ok := msg.Payload.Args[0].(rpc.Remote)
	if !ok {
		t.Fatalf("arg[0] = %#v, want rpc.Remote", msg.Payload.Args[0])
	}
	if remote.TargetID != "xyz" {
		t.Fatalf("remote.TargetID = %q, want xyz", remote.TargetID)
	}
}
