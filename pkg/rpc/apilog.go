package rpc

import (
	"log/slog"
)

// ApiLog records incoming messages and outgoing responses with per-argument
// and per-result redaction. It wraps a *slog.Logger and calls it directly
// with key-value pairs (slog.Info/slog.Error) rather than introducing a
// bespoke logging facade.
type ApiLog struct {
	logger          *slog.Logger
	redactDisabled  bool
	connectionLabel string
}

// NewApiLog builds an ApiLog bound to one connection. disableRedaction
// should only ever be set in test fixtures — production deployments must
// leave it false.
func NewApiLog(logger *slog.Logger, connectionLabel string, disableRedaction bool) *ApiLog {
	return &ApiLog{logger: logger.With("conn", connectionLabel), connectionLabel: connectionLabel, redactDisabled: disableRedaction}
}

// Incoming logs a decoded Message before dispatch. safeTargetID must
// already be redacted by the caller when the raw target id is a full token
// string — BaseConnection passes either the plain target id or the parsed
// token's SafeString(), never the raw wire value.
func (a *ApiLog) Incoming(msg Message, safeTargetID string, spec *MethodSpec) {
	args := msg.Payload.Args
	if !a.redactDisabled {
		args = redactArgs(spec, args)
	}
	a.logger.Info("rpc call", "msg_id", msg.ID, "target", safeTargetID, "method", msg.Payload.Name, "args", args)
}

// Completed logs the outcome of a dispatched call.
func (a *ApiLog) Completed(msg Message, spec *MethodSpec, result any, err error) {
	if err != nil {
		a.logger.Info("rpc result", "msg_id", msg.ID, "method", msg.Payload.Name, "ok", false, "error", err.Error())
		return
	}
	logged := result
	if !a.redactDisabled {
		logged = redactResult(spec, result)
	}
	a.logger.Info("rpc result", "msg_id", msg.ID, "method", msg.Payload.Name, "ok", true, "result", logged)
}
