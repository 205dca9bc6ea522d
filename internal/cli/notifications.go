package cli

import (
	"github.com/spf13/cobra"

	"github.com/academia-portal/portal-go/remote"
)

func newNotificationsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "Read and acknowledge notifications",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, app, func(c *remote.Client) error {
				ns, err := c.Notifications().List(cmd.Context())
				if err != nil {
					return err
				}
				return writeOut(cmd, app, ns)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unread",
		Short: "Count unread notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, app, func(c *remote.Client) error {
				n, err := c.Notifications().UnreadCount(cmd.Context())
				if err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]int{"unread_count": n})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "read [id]",
		Short: "Mark one notification read, or all of them without an id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, app, func(c *remote.Client) error {
				var err error
				if len(args) == 1 {
					err = c.Notifications().MarkRead(cmd.Context(), args[0])
				} else {
					err = c.Notifications().MarkAllRead(cmd.Context())
				}
				if err != nil {
					return err
				}
				return writeOut(cmd, app, map[string]bool{"read": true})
			})
		},
	})

	return cmd
}
