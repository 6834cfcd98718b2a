package rpc

import (
	"context"
	"regexp"
)

// targetIDPattern is the character class and length bound for uncontrolled
// target ids.
var targetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidTargetID reports whether id satisfies the TargetId grammar. It does
// not check token-syntax collision; callers combine this with
// TokenAuthorizer.IsToken when minting a fresh uncontrolled id.
func ValidTargetID(id string) bool {
	return targetIDPattern.MatchString(id)
}

// Payload is a Functor(method-name, args...) carried by a Message.
type Payload struct {
	Name string
	Args []any
}

// Target holds one exposed object plus its Schema and dispatches a named
// call to it. Target is immutable after construction.
type Target struct {
	ID           string
	DirectObject any
	Schema       Schema
	Token        *BearerToken // nil for uncontrolled targets
}

// NewTarget builds an uncontrolled target. id must satisfy ValidTargetID and
// must not be parseable as a token by the active authorizer — callers are
// responsible for that check since Target has no authorizer reference.
func NewTarget(id string, obj any, schema Schema) *Target {
	return &Target{ID: id, DirectObject: obj, Schema: schema}
}

// NewControlledTarget builds a token-gated target. Its ID is always the
// token's public id.
func NewControlledTarget(token BearerToken, obj any, schema Schema) *Target {
	return &Target{ID: token.ID, DirectObject: obj, Schema: schema, Token: &token}
}

// Call looks up payload.Name in the schema and invokes it on DirectObject
// with payload.Args positionally. A ProxiedObject return value is passed
// through unexamined; callers (BaseConnection) are responsible for
// substituting the Remote handle.
func (t *Target) Call(ctx context.Context, payload Payload) (any, error) {
	spec, ok := t.Schema.Lookup(payload.Name)
	if !ok {
		return nil, ErrBadUse("Unknown method: " + payload.Name)
	}

	result, err := spec.Invoke(ctx, t.DirectObject, payload.Args)
	if err != nil {
		return nil, AsCodable(err)
	}

	return normalizeNil(result), nil
}

// normalizeNil collapses an untyped nil interface to a canonical nil so
// undefined-like absences always normalize to null on the wire. Typed nils
// (e.g. a nil *Foo held in an any) are left alone — the codec's job, not
// the dispatcher's, to decide how they encode.
func normalizeNil(v any) any {
	if v == nil {
		return nil
	}
	return v
}
