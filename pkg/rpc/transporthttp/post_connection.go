// Package transporthttp binds a rpc.BaseConnection to a single HTTP POST per
// message, for clients that cannot hold a WebSocket open. It uses plain
// http.HandlerFunc plus small httpResponse* helpers rather than any
// higher-level web framework.
package transporthttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rakunlabs/quillcore/pkg/rpc"
)

const maxBodyBytes = 1 << 20 // 1 MiB, generous for a single RPC frame

// requiredContentType is the sole accepted Content-Type for a POST RPC
// frame; anything else, including a missing header, is rejected.
const requiredContentType = "application/json; charset=utf-8"

// noopTransport satisfies rpc.Transport with no-op hooks, since the
// request/response cycle is itself the only notification a POST-based peer
// can observe.
type noopTransport struct{}

func (noopTransport) NotifyClosing(ctx context.Context) {}
func (noopTransport) Terminate()                        {}

// Serve handles exactly one RPC call over HTTP POST. The BaseConnection
// passed in is expected to be discarded by the caller after Serve returns —
// a POST transport never reuses a connection across requests.
func Serve(w http.ResponseWriter, r *http.Request, bc *rpc.BaseConnection, cookies map[string]string) {
	if r.Method != http.MethodPost {
		httpResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != requiredContentType {
		httpResponse(w, "unsupported content type: "+ct, http.StatusBadRequest)
		return
	}

	bc.SetTransport(noopTransport{})

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpResponse(w, "failed to read body", http.StatusBadRequest)
		return
	}

	reply := bc.HandleJSONMessage(r.Context(), string(body), cookies)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, reply)
}

func httpResponse(w http.ResponseWriter, msg string, code int) {
	v, _ := json.Marshal(map[string]string{"message": msg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(v)
}
