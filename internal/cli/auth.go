package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/academia-portal/portal-go/remote"
	"github.com/academia-portal/portal-go/session"
)

func newLoginCmd(app *App) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the credential pair",
		Example: strings.TrimSpace(`
  portal login --username alice --password s3cret
  echo s3cret | portal login --username alice
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = readSecret(cmd)
			}
			return withClient(cmd, app, func(c *remote.Client) error {
				user, err := c.Session().Login(cmd.Context(), username, password)
				if err != nil {
					return err
				}
				return writeOut(cmd, app, user)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", envOr("PORTAL_USERNAME", ""), "Username or matricule")
	cmd.Flags().StringVar(&password, "password", envOr("PORTAL_PASSWORD", ""), "Password (read from stdin when empty)")
	return cmd
}

// readSecret reads one line from stdin.
func readSecret(cmd *cobra.Command) string {
	line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, app, func(c *remote.Client) error {
				c.Session().Logout(cmd.Context())
				return writeOut(cmd, app, map[string]any{"authenticated": false})
			})
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, app, func(c *remote.Client) error {
				state := c.Session().State()
				return writeOut(cmd, app, map[string]any{
					"authenticated": state.Authenticated(),
					"status":        state.Status.String(),
					"user":          state.User,
				})
			})
		},
	}
}

func newRegisterCmd(app *App) *cobra.Command {
	var reg session.StudentRegistration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a student account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reg.PasswordConfirm == "" {
				reg.PasswordConfirm = reg.Password
			}
			return withClient(cmd, app, func(c *remote.Client) error {
				if err := c.Manager().Register(cmd.Context(), reg); err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{
					"registered": reg.Matricule,
					"next":       fmt.Sprintf("portal login --username %s", reg.Matricule),
				})
			})
		},
	}
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&reg.Matricule, "matricule", "", "Student number, used as the username")
	cmd.Flags().StringVar(&reg.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&reg.Password, "password", "", "Password")
	cmd.Flags().StringVar(&reg.PasswordConfirm, "password-confirm", "", "Password confirmation (defaults to --password)")
	return cmd
}

func newPasswordCmd(app *App) *cobra.Command {
	var change session.PasswordChange
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change the signed-in user's password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if change.Confirm == "" {
				change.Confirm = change.NewPassword
			}
			return withClient(cmd, app, func(c *remote.Client) error {
				if err := c.Manager().ChangePassword(cmd.Context(), change); err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]any{"changed": true})
			})
		},
	}
	cmd.Flags().StringVar(&change.OldPassword, "old", "", "Current password")
	cmd.Flags().StringVar(&change.NewPassword, "new", "", "New password")
	cmd.Flags().StringVar(&change.Confirm, "confirm", "", "New password again (defaults to --new)")
	return cmd
}
