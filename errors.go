package portal

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials is returned when login is refused.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionInvalidated is returned when the refresh path is exhausted and
	// the stored credentials were cleared.
	ErrSessionInvalidated = errors.New("session invalidated")

	// ErrNoCredentials is returned when an operation needs a credential pair
	// or a signed-in user and none is present.
	ErrNoCredentials = errors.New("no credentials")

	// ErrNotFound is wrapped by errors for missing resources.
	ErrNotFound = errors.New("not found")

	// ErrSuperseded is returned when a session operation finished after the
	// session changed underneath it; its result was discarded.
	ErrSuperseded = errors.New("result superseded by a newer session change")
)

// AuthError reports an authentication failure: bad credentials at login,
// or an expired/rotated refresh token.
type AuthError struct {
	Op     string
	Detail string
	Err    error
}

func (e *AuthError) Error() string {
	msg := "portal: auth"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// AuthorizationError reports a role mismatch.
type AuthorizationError struct {
	Action   string
	Role     Role
	Required []Role
	Detail   string
}

func (e *AuthorizationError) Error() string {
	var msg string
	if e.Role == RoleNone {
		msg = "portal: not authorized to " + e.Action
	} else {
		msg = fmt.Sprintf("portal: role %q may not %s", e.Role, e.Action)
	}
	if len(e.Required) > 0 {
		names := make([]string, len(e.Required))
		for i, r := range e.Required {
			names[i] = string(r)
		}
		msg += " (requires " + strings.Join(names, "|") + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// NetworkError reports a transport failure. It is safe to retry manually.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("portal: network %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *NetworkError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// ValidationError carries the backend's rejection of a payload, with
// per-field messages when available.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	msg := "portal: validation failed"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
		}
		msg += " [" + strings.Join(parts, "; ") + "]"
	}
	return msg
}

// WorkflowStateError reports an operation that is invalid for the item's
// current state, such as deciding an item that is no longer pending.
type WorkflowStateError struct {
	Op     string
	ItemID string
	Status Status
	Detail string
}

func (e *WorkflowStateError) Error() string {
	msg := "portal: workflow"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.ItemID != "" {
		msg += fmt.Sprintf(" item %q", e.ItemID)
	}
	if e.Status != "" {
		msg += fmt.Sprintf(": not pending (status %s)", e.Status)
	} else {
		msg += ": not pending"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// APIError is any other non-success response from the backend.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("portal: api returned %d", e.StatusCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }
