package domain

import "context"

type sessionKey struct{}

// ContextWithSessionID tags ctx with the session a turn belongs to, so log
// records emitted below the agent carry it.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionIDFromContext returns the tagged session ID, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
