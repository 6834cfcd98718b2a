package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultIdleGCThreshold is the default staleness window for optional idle
// Target garbage collection.
const DefaultIdleGCThreshold = 20 * time.Minute

// ContextInfo is immutable per-deployment configuration a Context is built
// from.
type ContextInfo struct {
	Codec      Codec
	Authorizer TokenAuthorizer // nil means no token support: every id is a plain id
}

// NewContextInfo builds a ContextInfo. authorizer may be nil.
func NewContextInfo(codec Codec, authorizer TokenAuthorizer) *ContextInfo {
	return &ContextInfo{Codec: codec, Authorizer: authorizer}
}

func (ci *ContextInfo) nonTokenPrefix() string {
	if ci.Authorizer == nil {
		return "local-"
	}
	return ci.Authorizer.NonTokenPrefix()
}

// boundTarget is one entry in a Context's target map, carrying the
// bookkeeping idle-GC needs alongside the Target itself.
type boundTarget struct {
	target     *Target
	evergreen  bool
	lastAccess time.Time
}

// cachedAuth is a cookie-bound authorization decision for one token,
// keyed by the token's public id.
type cachedAuth struct {
	target  *Target
	cookies map[string]string
}

// Context is the per-connection registry of id -> Target and
// directObject -> Remote bindings, plus cached token-authorization
// decisions.
type Context struct {
	info *ContextInfo

	mu         sync.Mutex
	targetMap  map[string]*boundTarget
	remoteMap  map[any]Remote
	authCache  map[string]cachedAuth // token id -> decision
	idleWindow time.Duration
}

// NewContext builds an empty Context from shared, immutable ContextInfo.
func NewContext(info *ContextInfo) *Context {
	return &Context{
		info:       info,
		targetMap:  make(map[string]*boundTarget),
		remoteMap:  make(map[any]Remote),
		authCache:  make(map[string]cachedAuth),
		idleWindow: DefaultIdleGCThreshold,
	}
}

// SetIdleWindow overrides the idle-GC staleness threshold.
func (c *Context) SetIdleWindow(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleWindow = d
}

// AddTarget inserts t into both maps and returns a fresh Remote handle.
// Duplicate ids or duplicate direct objects are refused.
func (c *Context) AddTarget(t *Target) (Remote, error) {
	return c.addTarget(t, false)
}

// AddEvergreenTarget inserts t marked exempt from idle GC (e.g. the
// well-known "meta" target bound at connection open).
func (c *Context) AddEvergreenTarget(t *Target) (Remote, error) {
	return c.addTarget(t, true)
}

func (c *Context) addTarget(t *Target, evergreen bool) (Remote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.targetMap[t.ID]; exists {
		return Remote{}, ErrBadUse("Duplicate target ID")
	}
	if _, exists := c.remoteMap[t.DirectObject]; exists {
		return Remote{}, ErrBadUse("Duplicate target object")
	}

	c.targetMap[t.ID] = &boundTarget{target: t, evergreen: evergreen, lastAccess: time.Now()}
	remote := Remote{TargetID: t.ID}
	c.remoteMap[t.DirectObject] = remote

	return remote, nil
}

// HasId is a membership test; it does not perform token authorization.
func (c *Context) HasId(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.targetMap[id]
	return ok
}

// GetRemoteFor returns the existing Remote for proxied if already bound,
// otherwise mints a fresh random id with the non-token prefix and registers
// a new uncontrolled Target wrapping it.
func (c *Context) GetRemoteFor(ctx context.Context, proxied any, schema Schema) (Remote, error) {
	c.mu.Lock()
	if remote, ok := c.remoteMap[proxied]; ok {
		c.mu.Unlock()
		return remote, nil
	}
	c.mu.Unlock()

	for attempts := 0; attempts < 8; attempts++ {
		id, err := c.mintNonTokenID()
		if err != nil {
			return Remote{}, err
		}

		t := NewTarget(id, proxied, schema)
		remote, err := c.AddTarget(t)
		if err == nil {
			return remote, nil
		}
		// Collision on id (or, less plausibly, on object racing another
		// goroutine) — retry with a fresh id.
	}

	return Remote{}, fmt.Errorf("rpc: could not mint a unique target id")
}

// mintNonTokenID generates an id guaranteed never to be recognized as a
// token by the active authorizer.
func (c *Context) mintNonTokenID() (string, error) {
	prefix := c.info.nonTokenPrefix()
	for {
		suffix, err := randomHex(4) // 8 lowercase hex digits
		if err != nil {
			return "", err
		}
		id := prefix + suffix
		if c.info.Authorizer != nil && c.info.Authorizer.IsToken(id) {
			continue
		}
		return id, nil
	}
}

// GetAuthorizedTarget resolves x (a plain target id or a token string/value)
// to a Target, authorizing through the configured TokenAuthorizer when x
// carries a token.
func (c *Context) GetAuthorizedTarget(ctx context.Context, x any, cookies map[string]string) (*Target, error) {
	switch v := x.(type) {
	case BearerToken:
		return c.getAuthorizedTokenTarget(ctx, v, cookies)
	case string:
		if c.info.Authorizer != nil && c.info.Authorizer.IsToken(v) {
			t, err := c.info.Authorizer.TokenFromString(v)
			if err != nil {
				return nil, ErrUnknownTarget(redactedSentinel)
			}
			return c.getAuthorizedTokenTarget(ctx, t, cookies)
		}
		return c.getPlainTarget(v)
	default:
		return nil, ErrBadValue(redactValue(x), "target-id")
	}
}

func (c *Context) getPlainTarget(id string) (*Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bt, ok := c.targetMap[id]
	if !ok || bt.target.Token != nil {
		return nil, ErrUnknownTarget(id)
	}
	bt.lastAccess = time.Now()

	return bt.target, nil
}

func (c *Context) getAuthorizedTokenTarget(ctx context.Context, t BearerToken, cookies map[string]string) (*Target, error) {
	c.mu.Lock()
	if cached, ok := c.authCache[t.ID]; ok {
		if cached.target.Token.SameToken(t) && cookiesEqual(cached.cookies, cookies) {
			if bt, ok := c.targetMap[t.ID]; ok {
				bt.lastAccess = time.Now()
			}
			c.mu.Unlock()
			return cached.target, nil
		}
		// Secret or cookies changed: fall through and re-authorize, but
		// never log t.Secret while doing so.
	}
	c.mu.Unlock()

	if c.info.Authorizer == nil {
		return nil, ErrUnknownTarget(t.SafeString())
	}

	cookieNames, err := c.info.Authorizer.CookieNamesForToken(ctx, t)
	if err != nil {
		return nil, ErrUnknownTarget(t.SafeString())
	}

	used := make(map[string]string, len(cookieNames))
	for _, name := range cookieNames {
		val, ok := cookies[name]
		if !ok {
			return nil, ErrUnknownTarget(t.SafeString())
		}
		used[name] = val
	}

	obj, err := c.info.Authorizer.GetAuthorizedTarget(ctx, t, used)
	if err != nil || obj == nil {
		return nil, ErrUnknownTarget(t.SafeString())
	}

	schema, err := schemaForObject(obj)
	if err != nil {
		return nil, ErrUnknownTarget(t.SafeString())
	}

	target := NewControlledTarget(t, obj, schema)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have raced us to the same token; prefer the
	// already-installed target map entry so Context.addTarget's injectivity
	// invariant holds, but still refresh the cache to this call's
	// cookie snapshot.
	if existing, ok := c.targetMap[t.ID]; ok {
		existing.lastAccess = time.Now()
		c.authCache[t.ID] = cachedAuth{target: existing.target, cookies: used}
		return existing.target, nil
	}

	c.targetMap[t.ID] = &boundTarget{target: target, lastAccess: time.Now()}
	c.remoteMap[obj] = Remote{TargetID: t.ID}
	c.authCache[t.ID] = cachedAuth{target: target, cookies: used}

	return target, nil
}

func cookiesEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// schemaRegistry is populated by RegisterSchema so that a token
// authorization (which hands back an arbitrary object) can be wired to a
// Target without the caller threading a Schema through the authorizer
// interface. A module-level registry scoped to schema lookup by concrete
// type, in the same style as other package-level provider registries in
// this codebase.
var (
	schemaRegistryMu sync.RWMutex
	schemaRegistry   = map[string]Schema{}
)

// RegisterSchema associates a Schema with the Go type of example so that
// objects of that type — however they enter a Context (pre-seeded, token
// authorization, or ProxiedObject) — dispatch through the same method
// table. Call once at process startup, in the same explicit-wiring style
// as route and middleware registration.
func RegisterSchema(example any, schema Schema) {
	schemaRegistryMu.Lock()
	defer schemaRegistryMu.Unlock()
	schemaRegistry[typeKey(example)] = schema
}

func schemaForObject(obj any) (Schema, error) {
	schemaRegistryMu.RLock()
	defer schemaRegistryMu.RUnlock()
	s, ok := schemaRegistry[typeKey(obj)]
	if !ok {
		return nil, fmt.Errorf("rpc: no schema registered for %T", obj)
	}
	return s, nil
}

func typeKey(v any) string {
	return fmt.Sprintf("%T", v)
}

// GCIdleTargets discards targets whose last access is older than the
// context's idle window, skipping evergreen targets. Safe to call
// concurrently with normal Context use; safe to skip if the Context is
// about to be closed anyway.
func (c *Context) GCIdleTargets(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, bt := range c.targetMap {
		if bt.evergreen {
			continue
		}
		if now.Sub(bt.lastAccess) < c.idleWindow {
			continue
		}
		delete(c.targetMap, id)
		delete(c.remoteMap, bt.target.DirectObject)
		delete(c.authCache, id)
		removed++
	}

	return removed
}

// EncodeResponse delegates to the codec.
func (c *Context) EncodeResponse(resp Response) (string, error) {
	return c.info.Codec.EncodeResponse(resp)
}

// DecodeMessage delegates to the codec.
func (c *Context) DecodeMessage(frame string) (Message, error) {
	return c.info.Codec.DecodeMessage(frame)
}
