package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Role is the portal role that decides which views and workflow actions a
// user may reach. The zero value is RoleNone.
type Role string

const (
	RoleNone    Role = ""
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ParseRole normalizes a backend role string. Unknown values report false.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleTeacher:
		return RoleTeacher, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return RoleNone, false
}

// Privileged reports whether the role may decide reviewable items.
func (r Role) Privileged() bool { return r == RoleAdmin }

// In reports whether r is one of roles. RoleNone is never a member.
func (r Role) In(roles ...Role) bool {
	if r == RoleNone {
		return false
	}
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}

// ID is an identifier as sent by the backend, which uses either JSON numbers
// or strings depending on the resource.
type ID string

// UnmarshalJSON accepts both `"42"` and `42`.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("portal: id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// Credentials is the bearer credential pair issued at login.
// Both tokens are redacted from String and slog output.
type Credentials struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

// String implements fmt.Stringer without exposing token material.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{access:%s refresh:%s}", redact(c.AccessToken), redact(c.RefreshToken))
}

// LogValue implements slog.LogValuer.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("access", redact(c.AccessToken)),
		slog.String("refresh", redact(c.RefreshToken)),
	)
}

func redact(token string) string {
	if token == "" {
		return "<empty>"
	}
	return "<redacted>"
}

// RawProfile is the current-user payload exactly as the backend returns it.
// Role may be missing; see session.Derive for how it is resolved.
type RawProfile struct {
	ID        ID     `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Matricule string `json:"matricule,omitempty"`
	Role      string `json:"role,omitempty"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
	IsTeacher bool   `json:"is_teacher,omitempty"`
	IsStudent bool   `json:"is_student,omitempty"`
}

// UserProfile is an authenticated user with a resolved role.
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Matricule   string `json:"matricule,omitempty"`
	Role        Role   `json:"role"`
}

// NewUserProfile builds a profile from a raw payload and a derived role.
func NewUserProfile(raw *RawProfile, role Role) *UserProfile {
	name := strings.TrimSpace(raw.FirstName + " " + raw.LastName)
	if name == "" {
		name = raw.Username
	}
	return &UserProfile{
		ID:          raw.ID.String(),
		Username:    raw.Username,
		DisplayName: name,
		Email:       raw.Email,
		FirstName:   raw.FirstName,
		LastName:    raw.LastName,
		Matricule:   raw.Matricule,
		Role:        role,
	}
}

// Actor returns the workflow actor for the profile.
func (u *UserProfile) Actor() Actor {
	if u == nil {
		return Actor{}
	}
	return Actor{ID: u.ID, Role: u.Role}
}

// SessionStatus is the lifecycle phase of the session.
type SessionStatus int

const (
	StatusIdle SessionStatus = iota
	StatusLoading
	StatusReady
)

func (s SessionStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	}
	return fmt.Sprintf("SessionStatus(%d)", int(s))
}

// SessionState is an immutable snapshot of the session.
type SessionState struct {
	User   *UserProfile
	Status SessionStatus
	// Generation increases every time User changes. Consumers compare it
	// before applying a fetched result.
	Generation uint64
}

// Authenticated reports whether a user is present.
func (s SessionState) Authenticated() bool { return s.User != nil }

// Actor identifies who performs a workflow operation.
type Actor struct {
	ID   string
	Role Role
}

// Status is the lifecycle state of a reviewable item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

// Outcome reports whether s is a valid decision outcome.
func (s Status) Outcome() bool { return s.Terminal() }

// Kind names a family of reviewable items.
type Kind string

const (
	KindGradeClaim Kind = "grade_claim"
	KindRequest    Kind = "request"
	KindPermission Kind = "permission"
)

// Item is a reviewable claim or request. Terminal fields (AdminResponse,
// DecidedAt, DecidedBy) are set together exactly once.
type Item[S any] struct {
	ID            string     `json:"id"`
	Kind          Kind       `json:"kind"`
	Subject       S          `json:"subject"`
	RequesterID   string     `json:"requester_id"`
	Reason        string     `json:"reason"`
	Status        Status     `json:"status"`
	AdminResponse string     `json:"admin_response,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	DecidedBy     string     `json:"decided_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// GradeClaim disputes a published grade.
type GradeClaim struct {
	GradeID string `json:"grade"`
}

// Validate implements subject validation for the workflow engine.
func (g GradeClaim) Validate() error {
	if strings.TrimSpace(g.GradeID) == "" {
		return &ValidationError{Message: "grade is required", Fields: map[string][]string{"grade": {"This field is required."}}}
	}
	return nil
}

// AdminRequest is a free-form administrative request (certificate, transcript, ...).
type AdminRequest struct {
	RequestType string `json:"request_type"`
}

func (a AdminRequest) Validate() error {
	if strings.TrimSpace(a.RequestType) == "" {
		return &ValidationError{Message: "request type is required", Fields: map[string][]string{"request_type": {"This field is required."}}}
	}
	return nil
}

// Permission is a teacher's absence permission for a date range (YYYY-MM-DD).
type Permission struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (p Permission) Validate() error {
	fields := map[string][]string{}
	start, serr := time.Parse(time.DateOnly, p.StartDate)
	if serr != nil {
		fields["start_date"] = []string{"Enter a valid date."}
	}
	end, eerr := time.Parse(time.DateOnly, p.EndDate)
	if eerr != nil {
		fields["end_date"] = []string{"Enter a valid date."}
	}
	if serr == nil && eerr == nil && end.Before(start) {
		fields["end_date"] = []string{"End date must not precede start date."}
	}
	if len(fields) > 0 {
		return &ValidationError{Message: "invalid permission dates", Fields: fields}
	}
	return nil
}

// Filter narrows a workflow listing.
type Filter struct {
	Status      Status
	RequesterID string
}

// Match reports whether the item passes the filter.
func (f Filter) Match(status Status, requesterID string) bool {
	if f.Status != "" && status != f.Status {
		return false
	}
	if f.RequesterID != "" && requesterID != f.RequesterID {
		return false
	}
	return true
}

// Notification is a message addressed to the current user.
type Notification struct {
	ID        ID        `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOptions holds pagination parameters.
type ListOptions struct {
	Page     int
	PageSize int
}
