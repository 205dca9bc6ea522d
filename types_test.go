package portal_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	portal "github.com/academia-portal/portal-go"
)

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want portal.ID
	}{
		{`"abc"`, "abc"},
		{`42`, "42"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var id portal.ID
		if err := json.Unmarshal([]byte(tt.in), &id); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", tt.in, err)
		}
		if id != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, id, tt.want)
		}
	}

	var id portal.ID
	if err := json.Unmarshal([]byte(`{}`), &id); err == nil {
		t.Error("expected error for object id")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want portal.Role
		ok   bool
	}{
		{"student", portal.RoleStudent, true},
		{" Teacher ", portal.RoleTeacher, true},
		{"ADMIN", portal.RoleAdmin, true},
		{"dean", portal.RoleNone, false},
		{"", portal.RoleNone, false},
	}
	for _, tt := range tests {
		got, ok := portal.ParseRole(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseRole(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRoleInNeverMatchesNone(t *testing.T) {
	if portal.RoleNone.In(portal.RoleNone, portal.RoleAdmin) {
		t.Error("RoleNone must not be a member of any role set")
	}
	if !portal.RoleAdmin.In(portal.RoleTeacher, portal.RoleAdmin) {
		t.Error("expected admin to be in {teacher, admin}")
	}
}

func TestCredentialsNeverPrintTokens(t *testing.T) {
	creds := portal.Credentials{AccessToken: "access-secret", RefreshToken: "refresh-secret"}

	if s := fmt.Sprint(creds); strings.Contains(s, "secret") {
		t.Errorf("String() leaked token: %s", s)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("stored", "creds", creds)
	if strings.Contains(buf.String(), "secret") {
		t.Errorf("slog output leaked token: %s", buf.String())
	}
}

func TestNewUserProfileDisplayName(t *testing.T) {
	p := portal.NewUserProfile(&portal.RawProfile{ID: "1", Username: "jdoe"}, portal.RoleStudent)
	if p.DisplayName != "jdoe" {
		t.Errorf("DisplayName = %q, want %q", p.DisplayName, "jdoe")
	}
	p = portal.NewUserProfile(&portal.RawProfile{ID: "1", Username: "jdoe", FirstName: "Jane", LastName: "Doe"}, portal.RoleStudent)
	if p.DisplayName != "Jane Doe" {
		t.Errorf("DisplayName = %q, want %q", p.DisplayName, "Jane Doe")
	}
}

func TestPermissionValidate(t *testing.T) {
	if err := (portal.Permission{StartDate: "2026-01-10", EndDate: "2026-01-12"}).Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}

	err := (portal.Permission{StartDate: "2026-01-12", EndDate: "2026-01-10"}).Validate()
	var ve *portal.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Validate() error = %v, want ValidationError", err)
	}
	if _, ok := ve.Fields["end_date"]; !ok {
		t.Errorf("expected end_date field error, got %v", ve.Fields)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &portal.AuthError{Op: "refresh", Err: portal.ErrSessionInvalidated}
	if !errors.Is(err, portal.ErrSessionInvalidated) {
		t.Error("AuthError should unwrap to ErrSessionInvalidated")
	}

	err = fmt.Errorf("wrapped: %w", &portal.APIError{StatusCode: 404, Err: portal.ErrNotFound})
	if !errors.Is(err, portal.ErrNotFound) {
		t.Error("APIError should unwrap to ErrNotFound")
	}

	err = &portal.WorkflowStateError{Op: "decide", ItemID: "9", Status: portal.StatusRejected}
	if !strings.Contains(err.Error(), "not pending") {
		t.Errorf("WorkflowStateError message = %q", err.Error())
	}

	err = &portal.ValidationError{Fields: map[string][]string{"b": {"two"}, "a": {"one"}}}
	if got := err.Error(); !strings.Contains(got, "a: one; b: two") {
		t.Errorf("ValidationError fields not sorted: %q", got)
	}
}
