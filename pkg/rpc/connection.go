package rpc

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Transport is the narrow seam a concrete transport (WebSocket, HTTP POST)
// implements so BaseConnection's close sequence can be transport-agnostic.
type Transport interface {
	// NotifyClosing is invoked once, synchronously, at the start of
	// close(). Implementations SHOULD inform the peer (e.g. a synthetic
	// meta.close() frame on WebSocket); PostConnection's is a no-op since
	// the in-flight HTTP response itself is the notification.
	NotifyClosing(ctx context.Context)

	// Terminate tears down the underlying transport after every in-flight
	// handler has finished.
	Terminate()
}

// DrainDeadline bounds how long close() waits for in-flight handlers before
// logging abandonment and proceeding anyway.
const DrainDeadline = 30 * time.Second

// BaseConnection is the per-client connection lifecycle: decode, resolve
// target, dispatch, encode response, log, drain on close.
type BaseConnection struct {
	ID        string
	Logger    *slog.Logger
	ctx       *Context
	codec     Codec // kept alongside ctx so Close() can still encode after ctx is cleared
	apiLog    *ApiLog
	metrics   MetricsSink
	transport Transport

	mu        sync.Mutex
	closing   bool
	closed    bool
	closedCh  chan struct{}
	inFlight  int
	drainedCh chan struct{} // closed once inFlight reaches zero during drain
}

// newConnectionID mints a lexicographically sortable connection id, so log
// aggregation can order connections by creation time without a separate
// timestamp field.
func newConnectionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

var ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

// NewBaseConnection builds and opens a connection: it creates a Context from
// info and binds the well-known "meta" target.
func NewBaseConnection(info *ContextInfo, logger *slog.Logger, metrics MetricsSink, serverInfo map[string]any) (*BaseConnection, error) {
	id := newConnectionID()
	if metrics == nil {
		metrics = NoopMetrics()
	}

	bc := &BaseConnection{
		ID:       id,
		Logger:   logger.With("conn", id),
		ctx:      NewContext(info),
		codec:    info.Codec,
		metrics:  metrics,
		closedCh: make(chan struct{}),
	}
	bc.apiLog = NewApiLog(bc.Logger, id, false)

	meta := NewControlledTarget(BearerToken{}, NewMetaHandler(id, serverInfo), MetaSchema())
	meta.ID = MetaTargetID
	meta.Token = nil // meta is uncontrolled; ID is the well-known constant, not a token id
	if _, err := bc.ctx.AddEvergreenTarget(meta); err != nil {
		return nil, err
	}

	return bc, nil
}

// SetTransport attaches the transport-specific drain hook. Called once by
// WsConnection/PostConnection after construction.
func (bc *BaseConnection) SetTransport(t Transport) {
	bc.transport = t
}

// Context exposes the connection's Context, e.g. so callers can seed
// additional pre-bound targets before traffic starts.
func (bc *BaseConnection) Context() *Context { return bc.ctx }

// HandleJSONMessage never throws: every failure mode becomes an encoded
// error Response.
func (bc *BaseConnection) HandleJSONMessage(ctx context.Context, frame string, cookies map[string]string) string {
	bc.mu.Lock()
	if bc.closed {
		bc.mu.Unlock()
		return bc.encodeClosedResponse(0, NewError(KindConnectionClosed, bc.ID))
	}
	bc.mu.Unlock()

	msg, decodeErr := bc.ctx.DecodeMessage(frame)
	if decodeErr != nil {
		return bc.encodeOrGiveUp(Response{ID: 0, Err: NewError(KindConnectionNonsense, bc.ID, decodeErr.Error())})
	}

	// Resolve a token-syntax target id to a BearerToken before
	// authorization, and compute the safe identifier used for logging
	// regardless of outcome.
	var resolveAs any = msg.TargetID
	safeTargetID := msg.TargetID
	if bc.ctx.info.Authorizer != nil && bc.ctx.info.Authorizer.IsToken(msg.TargetID) {
		if tok, err := bc.ctx.info.Authorizer.TokenFromString(msg.TargetID); err == nil {
			resolveAs = tok
			safeTargetID = tok.SafeString()
		} else {
			safeTargetID = redactedSentinel
		}
	}

	// Resolve the target up front (not just at dispatch time) so its Schema
	// is available to apiLog.Incoming/Completed for the real per-method
	// redaction policy, rather than logging everything redacted.
	target, targetErr := bc.ctx.GetAuthorizedTarget(ctx, resolveAs, cookies)
	spec := specFor(target, msg.Payload.Name)
	bc.apiLog.Incoming(msg, safeTargetID, spec)

	bc.mu.Lock()
	closing := bc.closing
	if !closing {
		bc.inFlight++
	}
	bc.mu.Unlock()

	if closing {
		err := NewError(KindConnectionClosing, bc.ID)
		bc.apiLog.Completed(msg, spec, nil, err)
		return bc.encodeOrGiveUp(Response{ID: msg.ID, Err: err})
	}
	defer bc.finishInFlight()

	start := time.Now()
	result, err := bc.dispatch(ctx, target, targetErr, msg.Payload)
	bc.metrics.CallCompleted(msg.Payload.Name, err == nil, time.Since(start))
	bc.apiLog.Completed(msg, spec, result, err)

	var codable *CodableError
	if err != nil {
		codable = AsCodable(err)
	}

	return bc.encodeOrGiveUp(Response{ID: msg.ID, Result: result, Err: codable})
}

// specFor looks up the method's redaction policy on the already-resolved
// target's Schema. A nil target (unresolved/unauthorized) or an unknown
// method name falls back to nil, which redacts everything.
func specFor(target *Target, methodName string) *MethodSpec {
	if target == nil {
		return nil
	}
	spec, ok := target.Schema.Lookup(methodName)
	if !ok {
		return nil
	}
	return &spec
}

func (bc *BaseConnection) dispatch(ctx context.Context, target *Target, targetErr error, payload Payload) (any, error) {
	if targetErr != nil {
		return nil, targetErr
	}

	result, err := target.Call(ctx, payload)
	if err != nil {
		return nil, err
	}

	if proxied, ok := result.(ProxiedObject); ok {
		schema, serr := schemaForObject(proxied.Object)
		if serr != nil {
			return nil, Wrap(KindGeneralError, serr, serr.Error())
		}
		remote, rerr := bc.ctx.GetRemoteFor(ctx, proxied.Object, schema)
		if rerr != nil {
			return nil, rerr
		}
		return remote, nil
	}

	return result, nil
}

func (bc *BaseConnection) finishInFlight() {
	bc.mu.Lock()
	bc.inFlight--
	if bc.closing && bc.inFlight == 0 && bc.drainedCh != nil {
		select {
		case <-bc.drainedCh:
		default:
			close(bc.drainedCh)
		}
	}
	bc.mu.Unlock()
}

// encodeClosedResponse encodes a response without touching bc.ctx, since it
// may be called after Close() has cleared the Context reference.
func (bc *BaseConnection) encodeClosedResponse(msgID int, err *CodableError) string {
	encoded, encErr := bc.codec.EncodeResponse(Response{ID: msgID, Err: err})
	if encErr == nil {
		return encoded
	}
	fallback, _ := bc.codec.EncodeResponse(Response{ID: msgID, Err: NewError(KindCouldNotEncode, msgID)})
	return fallback
}

// encodeOrGiveUp retries encoding with a conservative restatement of the
// error, and as a last resort falls back to a could_not_encode response
// bearing only the message id.
func (bc *BaseConnection) encodeOrGiveUp(resp Response) string {
	encoded, err := bc.ctx.EncodeResponse(resp)
	if err == nil {
		return encoded
	}

	bc.Logger.Error("rpc: failed to encode response, retrying conservatively", "msg_id", resp.ID, "error", err)
	conservative, cerr := bc.ctx.info.Codec.EncodeConservative(resp)
	if cerr == nil {
		return conservative
	}

	bc.Logger.Error("rpc: conservative encode also failed, giving up", "msg_id", resp.ID, "error", cerr)
	lastResort, _ := bc.ctx.info.Codec.EncodeResponse(Response{ID: resp.ID, Err: NewError(KindCouldNotEncode, resp.ID)})
	return lastResort
}

// Close is idempotent and returns only after the connection has quiesced
//").
func (bc *BaseConnection) Close(ctx context.Context) {
	bc.mu.Lock()
	if bc.closing {
		bc.mu.Unlock()
		<-bc.closedCh
		return
	}
	bc.closing = true
	bc.drainedCh = make(chan struct{})
	inFlight := bc.inFlight
	if inFlight == 0 {
		close(bc.drainedCh)
	}
	bc.mu.Unlock()

	if bc.transport != nil {
		bc.transport.NotifyClosing(ctx)
	}

	select {
	case <-bc.drainedCh:
	case <-time.After(DrainDeadline):
		bc.Logger.Error("rpc: close() drain deadline exceeded, abandoning in-flight handlers", "conn", bc.ID)
	}

	if bc.transport != nil {
		bc.transport.Terminate()
	}

	bc.mu.Lock()
	bc.closed = true
	bc.ctx = nil // dependent objects become reclaimable
	bc.mu.Unlock()

	close(bc.closedCh)
}

// Closed reports whether Close has finished.
func (bc *BaseConnection) Closed() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.closed
}

// Closing reports whether a Close is in progress or finished.
func (bc *BaseConnection) Closing() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.closing
}
