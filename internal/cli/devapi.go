package cli

import (
	"github.com/spf13/cobra"

	"github.com/academia-portal/portal-go/fake"
)

func newDevAPICmd(app *App) *cobra.Command {
	var (
		addr   string
		secret string
	)
	cmd := &cobra.Command{
		Use:   "dev-api",
		Short: "Run an in-memory portal API for local development",
		Long: "Serves the REST API from memory with three demo accounts: " +
			"student/student, teacher/teacher and admin/admin. Data is lost on exit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := newDevAPI(app, secret)
			return listen(cmd.Context(), addr, api.Handler(), app.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", app.Config.DevAPIAddr, "Listen address (PORTAL_DEV_API_ADDR)")
	cmd.Flags().StringVar(&secret, "secret", envOr("PORTAL_DEV_API_SECRET", ""), "Token signing key")
	return cmd
}

func newDevAPI(app *App, secret string) *fake.API {
	opts := []fake.Option{
		fake.WithLogger(app.logger),
		fake.WithUser(fake.Student("1", "student"), "student"),
		fake.WithUser(fake.Teacher("2", "teacher"), "teacher"),
		fake.WithUser(fake.Admin("3", "admin"), "admin"),
		fake.WithNotification("1", "Welcome", "Your student account is ready."),
	}
	if secret != "" {
		opts = append(opts, fake.WithSecret(secret))
	}
	return fake.New(opts...)
}
