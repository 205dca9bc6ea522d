package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/guard"
	"github.com/academia-portal/portal-go/remote"
)

func newGuardCmd(app *App) *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "guard <path>",
		Short: "Show the access decision for a view path",
		Long:  "Evaluates the route table (or --role) against the current session without calling the API.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			required := make([]portal.Role, 0, len(roles))
			for _, r := range roles {
				role, ok := portal.ParseRole(r)
				if !ok {
					return writeErr(cmd, fmt.Errorf("unknown role %q", r))
				}
				required = append(required, role)
			}
			return withClient(cmd, app, func(c *remote.Client) error {
				state := c.Session().State()
				var (
					d      guard.Decision
					target string
				)
				if len(required) > 0 {
					d = guard.Decide(state, required...)
					target = guard.Target(d, state)
				} else {
					d, target = guard.DefaultRoutes().Check(state, args[0])
				}
				out := map[string]any{
					"path":     args[0],
					"decision": d.String(),
				}
				if target != "" {
					out["target"] = target
				}
				return writeOut(cmd, app, out)
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Required roles instead of the route table (student|teacher|admin)")
	return cmd
}
