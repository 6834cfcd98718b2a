package rpc

// ProxiedObject is a sentinel wrapper: when returned as a method's result,
// it instructs the dispatcher to expose Object as a new Target in the
// connection's Context and send the peer an opaque Remote handle instead of
// encoding Object by value.
type ProxiedObject struct {
	Object any
}

// Proxy wraps obj so a Target's method can return it as a proxied object.
func Proxy(obj any) ProxiedObject {
	return ProxiedObject{Object: obj}
}

// Remote is the wire-side handle for a proxied object: an opaque target id
// the peer may use in a subsequent message.
type Remote struct {
	TargetID string
}
