package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	portal "github.com/academia-portal/portal-go"
)

// Account endpoints.
const (
	PathRegisterStudent = "/users/register/student/"
	PathChangePassword  = "/users/me/password/"
)

// StudentRegistration is the self-service sign-up form.
type StudentRegistration struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Matricule       string `json:"matricule"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"-"`
}

// Validate checks required fields and the password confirmation.
func (r StudentRegistration) Validate() error {
	fields := requiredFields(map[string]string{
		"first_name": strings.TrimSpace(r.FirstName),
		"last_name":  strings.TrimSpace(r.LastName),
		"matricule":  strings.TrimSpace(r.Matricule),
		"email":      strings.TrimSpace(r.Email),
		"password":   r.Password,
	})
	if r.Email != "" && !strings.Contains(r.Email, "@") {
		fields["email"] = []string{"Enter a valid email address."}
	}
	if r.Password != r.PasswordConfirm {
		fields["password_confirm"] = []string{"Passwords do not match."}
	}
	if len(fields) > 0 {
		return &portal.ValidationError{Message: "invalid registration", Fields: fields}
	}
	return nil
}

// PasswordChange replaces the signed-in user's password.
type PasswordChange struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
	Confirm     string `json:"new_password2"`
}

// Validate checks required fields and the confirmation.
func (p PasswordChange) Validate() error {
	fields := requiredFields(map[string]string{
		"old_password": p.OldPassword,
		"new_password": p.NewPassword,
	})
	if p.NewPassword != p.Confirm {
		fields["new_password2"] = []string{"Passwords do not match."}
	}
	if len(fields) > 0 {
		return &portal.ValidationError{Message: "invalid password change", Fields: fields}
	}
	return nil
}

// Register creates a student account. It never changes the session; the new
// student signs in with Login.
func (m *Manager) Register(ctx context.Context, reg StudentRegistration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	reg.FirstName = strings.TrimSpace(reg.FirstName)
	reg.LastName = strings.TrimSpace(reg.LastName)
	reg.Matricule = strings.TrimSpace(reg.Matricule)
	reg.Email = strings.TrimSpace(reg.Email)

	if err := m.api.DoPublic(ctx, http.MethodPost, PathRegisterStudent, reg, nil); err != nil {
		return fmt.Errorf("portal/session: register: %w", err)
	}
	m.logger.Info("student registered", "matricule", reg.Matricule)
	return nil
}

// ChangePassword updates the signed-in user's password.
func (m *Manager) ChangePassword(ctx context.Context, change PasswordChange) error {
	if m.State().User == nil {
		return &portal.AuthError{Op: "change password", Err: portal.ErrNoCredentials}
	}
	if err := change.Validate(); err != nil {
		return err
	}
	if err := m.api.Do(ctx, http.MethodPut, PathChangePassword, change, nil); err != nil {
		return fmt.Errorf("portal/session: change password: %w", err)
	}
	return nil
}
