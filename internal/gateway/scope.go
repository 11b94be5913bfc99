package gateway

import (
	"context"
	"strings"
)

type sessionCtxKey struct{}

// WithSession scopes every Send made with the returned context to sessionID.
// Cache entries and in-flight requests of one session are invisible to the
// others, so ClearSession and CancelSession never touch a second user's work.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// SessionFrom returns the session bound to ctx, or "" for unscoped callers
// such as the scheduler.
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionCtxKey{}).(string)
	return id
}

const scopeSep = "\x00"

func scopedKey(sessionID, key string) string {
	return sessionID + scopeSep + key
}

func inScope(scoped, sessionID string) bool {
	return strings.HasPrefix(scoped, sessionID+scopeSep)
}
