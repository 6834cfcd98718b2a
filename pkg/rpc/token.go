package rpc

import "crypto/subtle"

// BearerToken is an opaque credential: a non-secret public id plus a secret
// that must never cross the logging boundary.
type BearerToken struct {
	ID     string
	Secret string
}

// SameToken compares secrets in constant time, resisting timing probes.
func (t BearerToken) SameToken(other BearerToken) bool {
	if t.ID != other.ID {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t.Secret), []byte(other.Secret)) == 1
}

// SafeString renders the token for logs and error messages: the id followed
// by an elision marker, never the secret.
func (t BearerToken) SafeString() string {
	return t.ID + "-..."
}

// FullString renders the complete wire form of the token: id, then the
// secret, separated by ':' so a uuid-valued id (which itself contains
// hyphens) can't be confused with the separator. This is the only method
// that materializes the secret as a string; callers must never log it.
func (t BearerToken) FullString() string {
	return t.ID + ":" + t.Secret
}
