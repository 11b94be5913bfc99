// Package session is the server-side replacement for browser storage: a
// string key/value map per session with a sliding TTL.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key is absent from a session.
var ErrNotFound = errors.New("session key not found")

// Store persists per-session values. Separate Set calls are independent so a
// partially populated session is normal and readers must tolerate missing
// keys; SetMany writes all of its keys at once and no reader sees a subset.
type Store interface {
	Get(ctx context.Context, sessionID, key string) (string, error)
	Set(ctx context.Context, sessionID, key, value string) error
	SetMany(ctx context.Context, sessionID string, values map[string]string) error
	Delete(ctx context.Context, sessionID string, keys ...string) error
	All(ctx context.Context, sessionID string) (map[string]string, error)
}

// Scoped binds a Store to one session id.
type Scoped struct {
	store Store
	id    string
}

// Scope returns a view of store restricted to sessionID.
func Scope(store Store, sessionID string) Scoped {
	return Scoped{store: store, id: sessionID}
}

func (s Scoped) ID() string { return s.id }

func (s Scoped) Get(ctx context.Context, key string) (string, error) {
	return s.store.Get(ctx, s.id, key)
}

func (s Scoped) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, s.id, key, value)
}

func (s Scoped) SetMany(ctx context.Context, values map[string]string) error {
	return s.store.SetMany(ctx, s.id, values)
}

func (s Scoped) Delete(ctx context.Context, keys ...string) error {
	return s.store.Delete(ctx, s.id, keys...)
}

func (s Scoped) All(ctx context.Context) (map[string]string, error) {
	return s.store.All(ctx, s.id)
}

// GetJSON decodes the value at key into v.
func (s Scoped) GetJSON(ctx context.Context, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode session key %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func (s Scoped) SetJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode session key %s: %w", key, err)
	}
	return s.Set(ctx, key, string(b))
}

// Lookup returns the value at key and whether it was present. Store errors
// other than ErrNotFound are returned as-is.
func (s Scoped) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
