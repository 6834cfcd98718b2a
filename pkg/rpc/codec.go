package rpc

// Message is the client -> server envelope.
// TargetID is either a previously-bound uncontrolled id or a full token
// string; BaseConnection resolves which before calling the Context.
type Message struct {
	ID       int
	TargetID string
	Payload  Payload
}

// Response is the server -> client envelope. Exactly one of
// Result/Err is non-nil, except Result == nil with no error (a method that
// legitimately returns nothing). ID == 0 marks an unsolicited server
// message (e.g. the synthetic close notice).
type Response struct {
	ID     int
	Result any
	Err    *CodableError
}

// Codec encodes/decodes Messages, Responses, errors, and registered value
// classes to/from a framed wire format. External
// collaborator: the core depends only on this narrow interface; jsoncodec
// ships one concrete implementation.
type Codec interface {
	// DecodeMessage parses one framed wire string into a Message. Framing
	// failures (not a Message at all) are returned as an error, which
	// BaseConnection turns into connection_nonsense.
	DecodeMessage(frame string) (Message, error)

	// EncodeResponse frames a Response for the wire.
	EncodeResponse(resp Response) (string, error)

	// EncodeConservative re-renders a Response whose Result could not be
	// encoded normally, stringifying the offending value instead.
	EncodeConservative(resp Response) (string, error)
}

// RegisteredClass is implemented by wire-tagged value classes (currently
// only Remote) so a Codec can round-trip them by name rather than by Go
// type.
type RegisteredClass interface {
	WireClassName() string
}

func (Remote) WireClassName() string { return "Remote" }
