// Package sessionauth provides TokenAuthorizer backends for pkg/rpc: a
// session Record binds a minted token's secret hash to the cookies it
// requires and the workspace object it authorizes, persisted by one of the
// memory/pgsession/litesession implementations.
package sessionauth

import "time"

// Record is one persisted session: the outcome of minting a token for a
// workspace, plus the cookie values captured when the token was first
// authorized. BoundCookies is encrypted at rest by the store when an
// encryption key is configured.
type Record struct {
	ID           string
	TokenHash    string
	WorkspaceID  string
	BoundCookies map[string]string
	CreatedAt    time.Time
	LastUsedAt   time.Time
}
