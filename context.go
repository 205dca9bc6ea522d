package portal

import "context"

type ctxKey string

const (
	ctxKeyActor ctxKey = "portal_actor"
	ctxKeyState ctxKey = "portal_session_state"
)

// WithActor stores the acting user in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

// ActorFromContext extracts the acting user from the context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	v, ok := ctx.Value(ctxKeyActor).(Actor)
	return v, ok
}

// WithSessionState stores the session snapshot a request was admitted with.
func WithSessionState(ctx context.Context, state SessionState) context.Context {
	return context.WithValue(ctx, ctxKeyState, state)
}

// SessionStateFromContext extracts the snapshot stored by WithSessionState.
func SessionStateFromContext(ctx context.Context) (SessionState, bool) {
	v, ok := ctx.Value(ctxKeyState).(SessionState)
	return v, ok
}
