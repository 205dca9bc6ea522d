// Package cli implements the portal command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/audit"
	"github.com/academia-portal/portal-go/credential"
	"github.com/academia-portal/portal-go/internal/config"
	"github.com/academia-portal/portal-go/metrics"
	"github.com/academia-portal/portal-go/remote"
)

type App struct {
	Config     config.Config
	PrettyJSON bool

	logger *slog.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{Config: config.Load()}

	cmd := &cobra.Command{
		Use:          "portal",
		Short:        "Academic portal client",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Sign in and show who you are
  portal login --username alice
  portal whoami

  # File and review grade claims
  portal claims create --grade 42 --reason "exam 2 total is wrong"
  portal claims list --status pending
  portal claims decide 7 --outcome approved --response "corrected"

  # Run a local API and a guarded web host against it
  portal dev-api --addr :8000
  portal serve --addr :8080
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level := app.Config.LogLevel
		if s, _ := cmd.Flags().GetString("log-level"); s != "" {
			if err := level.UnmarshalText([]byte(s)); err != nil {
				return writeErr(cmd, fmt.Errorf("invalid --log-level %q", s))
			}
		}
		app.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		app.Config.CredentialStore = strings.ToLower(app.Config.CredentialStore)
		return nil
	}

	cfg := &app.Config
	cmd.PersistentFlags().StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "REST API base URL (PORTAL_API_URL)")
	cmd.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-request timeout (PORTAL_TIMEOUT)")
	cmd.PersistentFlags().StringVar(&cfg.CredentialStore, "store", cfg.CredentialStore, "Credential store: memory|file|redis (PORTAL_CREDENTIAL_STORE)")
	cmd.PersistentFlags().StringVar(&cfg.CredentialFile, "credential-file", cfg.CredentialFile, "Credential file for --store=file (PORTAL_CREDENTIAL_FILE)")
	cmd.PersistentFlags().StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for --store=redis (REDIS_ADDR)")
	cmd.PersistentFlags().StringVar(&cfg.SessionKey, "session", cfg.SessionKey, "Shared session name for --store=redis (PORTAL_SESSION_KEY)")
	cmd.PersistentFlags().String("log-level", envOr("PORTAL_LOG_LEVEL", ""), "Log level: debug|info|warn|error")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON output")

	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	cmd.AddCommand(newWhoamiCmd(app))
	cmd.AddCommand(newRegisterCmd(app))
	cmd.AddCommand(newPasswordCmd(app))
	cmd.AddCommand(newGuardCmd(app))
	cmd.AddCommand(newClaimsCmd(app))
	cmd.AddCommand(newRequestsCmd(app))
	cmd.AddCommand(newPermissionsCmd(app))
	cmd.AddCommand(newNotificationsCmd(app))
	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newDevAPICmd(app))

	return cmd
}

// newStore builds the configured credential store.
func newStore(app *App, m *metrics.Metrics) (portal.CredentialStore, error) {
	opts := []credential.Option{credential.WithLogger(app.logger), credential.WithMetrics(m)}
	switch app.Config.CredentialStore {
	case config.StoreMemory:
		return credential.NewMemory(), nil
	case config.StoreFile:
		return credential.NewFile(app.Config.CredentialFile, opts...), nil
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     app.Config.RedisAddr,
			Password: app.Config.RedisPassword,
			DB:       app.Config.RedisDB,
		})
		return credential.NewRedis(rdb, credential.RedisConfig{
			Session: app.Config.SessionKey,
			TTL:     app.Config.SessionTTL,
		}, opts...), nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", app.Config.CredentialStore)
	}
}

type connectOptions struct {
	metrics *metrics.Metrics
	audit   *audit.Logger
}

// connect builds the client stack and restores the stored session.
func connect(ctx context.Context, app *App, co connectOptions) (*remote.Client, error) {
	if err := app.Config.Validate(); err != nil {
		return nil, err
	}
	store, err := newStore(app, co.metrics)
	if err != nil {
		return nil, err
	}
	client, err := remote.NewClient(app.Config.Portal(),
		remote.WithCredentialStore(store),
		remote.WithLogger(app.logger),
		remote.WithMetrics(co.metrics),
		remote.WithAudit(co.audit),
	)
	if err != nil {
		return nil, err
	}
	if _, err := client.Session().Bootstrap(ctx); err != nil {
		app.logger.Warn("session restore failed", "error", err)
	}
	return client, nil
}

// withClient runs fn against a connected client and closes it afterwards.
func withClient(cmd *cobra.Command, app *App, fn func(*remote.Client) error) error {
	client, err := connect(cmd.Context(), app, connectOptions{})
	if err != nil {
		return writeErr(cmd, err)
	}
	defer client.Close()
	if err := fn(client); err != nil {
		return writeErr(cmd, describe(err))
	}
	return nil
}

// describe turns client errors into messages a terminal user can act on.
func describe(err error) error {
	var verr *portal.ValidationError
	switch {
	case errors.Is(err, portal.ErrNoCredentials):
		return fmt.Errorf("not signed in: run `portal login`")
	case errors.As(err, &verr) && len(verr.Fields) > 0:
		parts := make([]string, 0, len(verr.Fields))
		for _, field := range slices.Sorted(maps.Keys(verr.Fields)) {
			parts = append(parts, field+": "+strings.Join(verr.Fields[field], " "))
		}
		return fmt.Errorf("%s (%s)", verr.Message, strings.Join(parts, "; "))
	}
	return err
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if app.PrettyJSON {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(map[string]any{"data": v})
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
