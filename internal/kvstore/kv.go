package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Key-value store abstraction
// ---------------------------------------------------------------------------

// Store is the external key-value store. Writes are last-write-wins; the
// pipeline relies on entry sets being append-only and flag writes being
// idempotent, so no locking is layered on top.
// Implementations: RedisStore (production), MemoryStore (tests).
type Store interface {
	// Get returns the string value at key. The second return is false when
	// the key does not exist.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes a string value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetAdd adds members to the set at key.
	SetAdd(ctx context.Context, key string, members ...string) error

	// SetMembers returns all members of the set at key. A missing key is an
	// empty set, not an error.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Delete removes a key.
	Delete(ctx context.Context, key string) error
}

// GetJSON reads key and unmarshals its value into dest. Returns false when
// the key is absent.
func GetJSON(ctx context.Context, s Store, key string, dest any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return true, fmt.Errorf("kvstore: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals value and writes it at key.
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(raw), ttl)
}

// GetFlag reads a boolean flag key. Absent keys read as false.
func GetFlag(ctx context.Context, s Store, key string) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return raw == "true" || raw == "1", nil
}

// SetFlag sets a boolean flag key to true, with no expiry.
func SetFlag(ctx context.Context, s Store, key string) error {
	return s.Set(ctx, key, "true", 0)
}
