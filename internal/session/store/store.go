// Package store holds the per-session key/value storage that backs the cart
// and the verification record. Values are opaque JSON documents; expiry and
// shape rules belong to the modules that own each key.
package store

import (
	"context"

	id "storefront/pkg/domain"
)

// Well-known keys.
const (
	KeyCart         = "cart"
	KeyVerification = "age_verification"
)

// Store is session-scoped durable storage.
// Get returns sentinel.ErrNotFound when the key is absent.
type Store interface {
	Get(ctx context.Context, sessionID id.SessionID, key string) ([]byte, error)
	Set(ctx context.Context, sessionID id.SessionID, key string, value []byte) error
	Delete(ctx context.Context, sessionID id.SessionID, key string) error
}
