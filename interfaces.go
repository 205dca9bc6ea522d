package portal

import "context"

// CredentialStore holds the bearer credential pair.
// Implementations: credential.Memory, credential.File, credential.Redis.
//
// Storage failures never reach callers: a store that cannot be read behaves
// as if it were empty, which forces a new login.
type CredentialStore interface {
	// Save replaces the stored pair.
	Save(ctx context.Context, creds Credentials)

	// Load returns the stored pair, or nil if none is available.
	Load(ctx context.Context) *Credentials

	// Clear removes the stored pair.
	Clear(ctx context.Context)
}

// API issues calls against the remote REST API.
// Implementations: gateway.Gateway.
type API interface {
	// Do sends an authenticated request. body is JSON-encoded when non-nil,
	// and a successful response is decoded into out when out is non-nil.
	Do(ctx context.Context, method, path string, body, out any) error

	// DoPublic sends a request without credentials and without the refresh path.
	DoPublic(ctx context.Context, method, path string, body, out any) error
}

// SessionManager owns the authenticated-user state.
// Implementations: session.Manager.
type SessionManager interface {
	// Bootstrap restores a session from stored credentials. It runs once;
	// later calls return the settled state.
	Bootstrap(ctx context.Context) (SessionState, error)

	// Login exchanges credentials for a token pair and loads the profile.
	Login(ctx context.Context, username, password string) (*UserProfile, error)

	// Logout clears credentials and the current user without a network call.
	Logout(ctx context.Context)

	// State returns the current snapshot.
	State() SessionState

	// Subscribe registers fn to receive every new snapshot.
	Subscribe(fn func(SessionState)) (unsubscribe func())
}

// UserService provides user directory lookups.
type UserService interface {
	// GetCurrent returns the profile of the authenticated user.
	GetCurrent(ctx context.Context) (*RawProfile, error)

	// Get returns a user by ID.
	Get(ctx context.Context, userID string) (*RawProfile, error)

	// List returns users with pagination.
	List(ctx context.Context, opts ListOptions) ([]*RawProfile, error)
}

// NotificationService reads and acknowledges notifications for the current user.
type NotificationService interface {
	List(ctx context.Context) ([]Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	UnreadCount(ctx context.Context) (int, error)
}

// Reviews is the review/approval workflow for one kind of item.
// Implementations: workflow.Engine.
type Reviews[S any] interface {
	// Create files a new pending item owned by actor.
	Create(ctx context.Context, actor Actor, subject S, reason string) (*Item[S], error)

	// Decide moves a pending item to Approved or Rejected. Only privileged
	// actors may decide, and response must be non-empty.
	Decide(ctx context.Context, actor Actor, id string, outcome Status, response string) (*Item[S], error)

	// Get returns one item visible to actor.
	Get(ctx context.Context, actor Actor, id string) (*Item[S], error)

	// List returns the items visible to actor.
	List(ctx context.Context, actor Actor, filter Filter) ([]*Item[S], error)
}
