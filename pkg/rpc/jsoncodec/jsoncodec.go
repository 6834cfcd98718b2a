// Package jsoncodec is the default Codec implementation:
// encoding/json with a registered-class tagging envelope, generalizing a
// fixed JSON-RPC envelope from a closed method set to arbitrary named
// targets.
package jsoncodec

import (
	"encoding/json"
	"fmt"

	"github.com/rakunlabs/quillcore/pkg/rpc"
)

// wireMessage is the JSON shape of a client -> server frame.
type wireMessage struct {
	ID     int    `json:"id"`
	Target string `json:"target"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// wireResponse is the JSON shape of a server -> client frame.
type wireResponse struct {
	ID     int            `json:"id"`
	Result any            `json:"result,omitempty"`
	Error  *wireCodeError `json:"error,omitempty"`
}

type wireCodeError struct {
	Kind string `json:"kind"`
	Args []any  `json:"args,omitempty"`
}

// wireRemote is the registered-class wire form of rpc.Remote.
type wireRemote struct {
	Class    string `json:"class"`
	TargetID string `json:"targetId"`
}

const remoteClassName = "Remote"

// Codec implements rpc.Codec over plain JSON text frames.
type Codec struct{}

// New builds the default JSON codec.
func New() *Codec { return &Codec{} }

func (Codec) DecodeMessage(frame string) (rpc.Message, error) {
	var wm wireMessage
	if err := json.Unmarshal([]byte(frame), &wm); err != nil {
		return rpc.Message{}, fmt.Errorf("jsoncodec: decode message: %w", err)
	}
	if wm.Method == "" {
		return rpc.Message{}, fmt.Errorf("jsoncodec: message missing method")
	}

	args := make([]any, len(wm.Args))
	for i, a := range wm.Args {
		args[i] = decodeValue(a)
	}

	return rpc.Message{
		ID:       wm.ID,
		TargetID: wm.Target,
		Payload:  rpc.Payload{Name: wm.Method, Args: args},
	}, nil
}

func (Codec) EncodeResponse(resp rpc.Response) (string, error) {
	wr := wireResponse{ID: resp.ID, Result: encodeValue(resp.Result)}
	if resp.Err != nil {
		wr.Error = &wireCodeError{Kind: string(resp.Err.Kind), Args: resp.Err.Args}
	}

	b, err := json.Marshal(wr)
	if err != nil {
		return "", fmt.Errorf("jsoncodec: encode response: %w", err)
	}

	return string(b), nil
}

func (Codec) EncodeConservative(resp rpc.Response) (string, error) {
	wr := wireResponse{ID: resp.ID}
	if resp.Err != nil {
		args := make([]any, len(resp.Err.Args))
		for i, a := range resp.Err.Args {
			args[i] = fmt.Sprint(a)
		}
		wr.Error = &wireCodeError{Kind: string(resp.Err.Kind), Args: args}
	} else {
		wr.Result = fmt.Sprintf("%v", resp.Result)
	}

	b, err := json.Marshal(wr)
	if err != nil {
		return "", fmt.Errorf("jsoncodec: conservative encode: %w", err)
	}

	return string(b), nil
}

// encodeValue tags registered wire classes before falling back to the bare
// value for everything else.
func encodeValue(v any) any {
	switch val := v.(type) {
	case rpc.Remote:
		return wireRemote{Class: remoteClassName, TargetID: val.TargetID}
	case rpc.BearerToken:
		return val.SafeString()
	default:
		return v
	}
}

// decodeValue reverses encodeValue for arguments arriving from the peer.
// json.Unmarshal into `any` produces map[string]any for objects, so a
// registered class surfaces as a map carrying its "class" tag.
func decodeValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	class, _ := m["class"].(string)
	switch class {
	case remoteClassName:
		id, _ := m["targetId"].(string)
		return rpc.Remote{TargetID: id}
	default:
		return v
	}
}
