// Package transportws binds a rpc.BaseConnection to a WebSocket using
// nhooyr.io/websocket, giving the connection a long-lived duplex transport
// instead of one request per message.
package transportws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rakunlabs/quillcore/pkg/rpc"
	"nhooyr.io/websocket"
)

// closeBacklog bounds how many additional frames a connection will service
// once it has started closing, so a chatty peer cannot stall shutdown
// indefinitely while the drain deadline is still running.
const closeBacklog = 100

// cookieExtractor returns the cookie values HandleJSONMessage needs for
// token authorization, read once from the upgrade request.
type cookieExtractor func(r *http.Request) map[string]string

// WsConnection serves one upgraded WebSocket as a rpc.BaseConnection.
type WsConnection struct {
	bc     *rpc.BaseConnection
	conn   *websocket.Conn
	logger *slog.Logger

	closeOnce chan struct{}
}

// Serve upgrades r and blocks until the connection closes, serving messages
// to bc. Call with the request's context; Serve returns when the peer
// disconnects or ctx is done.
func Serve(w http.ResponseWriter, r *http.Request, bc *rpc.BaseConnection, logger *slog.Logger, extractCookies cookieExtractor) error {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return err
	}

	wc := &WsConnection{bc: bc, conn: conn, logger: logger, closeOnce: make(chan struct{})}
	bc.SetTransport(wc)

	var cookies map[string]string
	if extractCookies != nil {
		cookies = extractCookies(r)
	}

	ctx := r.Context()
	served := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			wc.conn.Close(websocket.StatusNormalClosure, "")
			return normalizeReadErr(err)
		}

		if bc.Closing() {
			served++
			if served > closeBacklog {
				continue
			}
		}

		reply := bc.HandleJSONMessage(ctx, string(data), cookies)
		if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
			return err
		}
	}
}

func normalizeReadErr(err error) error {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// NotifyClosing sends a synthetic unsolicited meta.close() notice so the
// peer can distinguish a graceful close from a dropped socket. It does not
// close the socket; Terminate does. Implements rpc.Transport.
func (wc *WsConnection) NotifyClosing(ctx context.Context) {
	notice, err := json.Marshal(map[string]any{
		"id":     0,
		"method": "meta.close",
	})
	if err == nil {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := wc.conn.Write(writeCtx, websocket.MessageText, notice); err != nil {
			wc.logger.Warn("transportws: failed to send close notice", "error", err)
		}
	}
}

// Terminate closes the underlying socket with the normal-closure code.
// Implements rpc.Transport.
func (wc *WsConnection) Terminate() {
	select {
	case <-wc.closeOnce:
		return
	default:
		close(wc.closeOnce)
	}
	_ = wc.conn.Close(websocket.StatusNormalClosure, "connection closed")
}
