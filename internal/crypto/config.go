package crypto

import (
	"fmt"

	"github.com/rakunlabs/quillcore/pkg/sessionauth"
)

// EncryptRecord encrypts the sensitive fields of a session record (the bound
// cookie values captured during token authorization) and returns a copy
// holding a new BoundCookies map; the caller's record and map are left
// untouched. If key is nil, the record is returned unchanged
// (no-op) — the caller has opted out of at-rest encryption and records are
// stored as plaintext.
func EncryptRecord(rec sessionauth.Record, key []byte) (sessionauth.Record, error) {
	if key == nil || len(rec.BoundCookies) == 0 {
		return rec, nil
	}

	encrypted := make(map[string]string, len(rec.BoundCookies))
	for name, value := range rec.BoundCookies {
		enc, err := Encrypt(value, key)
		if err != nil {
			return rec, fmt.Errorf("encrypt bound cookie %q: %w", name, err)
		}
		encrypted[name] = enc
	}
	rec.BoundCookies = encrypted

	return rec, nil
}

// DecryptRecord decrypts the sensitive fields of a session record and
// returns a copy holding a new BoundCookies map; the caller's record and map
// are left untouched. If key is nil, the record is returned
// unchanged. Values without the "enc:" prefix are left as-is (plaintext
// passthrough, e.g. records written before encryption was enabled).
func DecryptRecord(rec sessionauth.Record, key []byte) (sessionauth.Record, error) {
	if key == nil || len(rec.BoundCookies) == 0 {
		return rec, nil
	}

	decrypted := make(map[string]string, len(rec.BoundCookies))
	for name, value := range rec.BoundCookies {
		dec, err := Decrypt(value, key)
		if err != nil {
			return rec, fmt.Errorf("decrypt bound cookie %q: %w", name, err)
		}
		decrypted[name] = dec
	}
	rec.BoundCookies = decrypted

	return rec, nil
}
