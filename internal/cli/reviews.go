package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/remote"
)

// reviewKind binds one workflow to its subcommands.
type reviewKind[S any] struct {
	use, short string
	reviews    func(*remote.Client) portal.Reviews[S]
	// subject registers the create flags and returns the parsed subject and reason.
	subject func(cmd *cobra.Command) func() (S, string)
}

func newClaimsCmd(app *App) *cobra.Command {
	return newReviewCmd(app, reviewKind[portal.GradeClaim]{
		use:     "claims",
		short:   "File and review grade claims",
		reviews: func(c *remote.Client) portal.Reviews[portal.GradeClaim] { return c.GradeClaims() },
		subject: func(cmd *cobra.Command) func() (portal.GradeClaim, string) {
			grade := cmd.Flags().String("grade", "", "Grade ID")
			reason := cmd.Flags().String("reason", "", "Why the grade is wrong")
			return func() (portal.GradeClaim, string) { return portal.GradeClaim{GradeID: *grade}, *reason }
		},
	})
}

func newRequestsCmd(app *App) *cobra.Command {
	return newReviewCmd(app, reviewKind[portal.AdminRequest]{
		use:     "requests",
		short:   "File and review administrative requests",
		reviews: func(c *remote.Client) portal.Reviews[portal.AdminRequest] { return c.Requests() },
		subject: func(cmd *cobra.Command) func() (portal.AdminRequest, string) {
			typ := cmd.Flags().String("type", "", "Request type (certificate, transcript, ...)")
			desc := cmd.Flags().String("description", "", "What is requested")
			return func() (portal.AdminRequest, string) { return portal.AdminRequest{RequestType: *typ}, *desc }
		},
	})
}

func newPermissionsCmd(app *App) *cobra.Command {
	return newReviewCmd(app, reviewKind[portal.Permission]{
		use:     "permissions",
		short:   "File and review teacher absence permissions",
		reviews: func(c *remote.Client) portal.Reviews[portal.Permission] { return c.Permissions() },
		subject: func(cmd *cobra.Command) func() (portal.Permission, string) {
			start := cmd.Flags().String("start", "", "First day (YYYY-MM-DD)")
			end := cmd.Flags().String("end", "", "Last day (YYYY-MM-DD)")
			reason := cmd.Flags().String("reason", "", "Reason for the absence")
			return func() (portal.Permission, string) {
				return portal.Permission{StartDate: *start, EndDate: *end}, *reason
			}
		},
	})
}

func newReviewCmd[S any](app *App, k reviewKind[S]) *cobra.Command {
	cmd := &cobra.Command{Use: k.use, Short: k.short}
	cmd.AddCommand(newReviewListCmd(app, k))
	cmd.AddCommand(newReviewShowCmd(app, k))
	cmd.AddCommand(newReviewCreateCmd(app, k))
	cmd.AddCommand(newReviewDecideCmd(app, k))
	return cmd
}

func newReviewListCmd[S any](app *App, k reviewKind[S]) *cobra.Command {
	var (
		status string
		mine   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := portal.Filter{Status: portal.Status(status)}
			if status != "" && filter.Status != portal.StatusPending && !filter.Status.Outcome() {
				return writeErr(cmd, fmt.Errorf("unknown status %q", status))
			}
			return withClient(cmd, app, func(c *remote.Client) error {
				actor, err := c.Actor()
				if err != nil {
					return err
				}
				if mine {
					filter.RequesterID = actor.ID
				}
				items, err := k.reviews(c).List(cmd.Context(), actor, filter)
				if err != nil {
					return err
				}
				return writeOut(cmd, app, items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only items in this status (pending|approved|rejected)")
	cmd.Flags().BoolVar(&mine, "mine", false, "Only items you filed")
	return cmd
}

func newReviewShowCmd[S any](app *App, k reviewKind[S]) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, app, func(c *remote.Client) error {
				actor, err := c.Actor()
				if err != nil {
					return err
				}
				item, err := k.reviews(c).Get(cmd.Context(), actor, args[0])
				if err != nil {
					return err
				}
				return writeOut(cmd, app, item)
			})
		},
	}
}

func newReviewCreateCmd[S any](app *App, k reviewKind[S]) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "File a new pending item",
		Args:  cobra.NoArgs,
	}
	parse := k.subject(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		subject, reason := parse()
		return withClient(cmd, app, func(c *remote.Client) error {
			actor, err := c.Actor()
			if err != nil {
				return err
			}
			item, err := k.reviews(c).Create(cmd.Context(), actor, subject, reason)
			if err != nil {
				return err
			}
			return writeOut(cmd, app, item)
		})
	}
	return cmd
}

func newReviewDecideCmd[S any](app *App, k reviewKind[S]) *cobra.Command {
	var outcome, response string
	cmd := &cobra.Command{
		Use:   "decide <id>",
		Short: "Approve or reject a pending item (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, app, func(c *remote.Client) error {
				actor, err := c.Actor()
				if err != nil {
					return err
				}
				item, err := k.reviews(c).Decide(cmd.Context(), actor, args[0], portal.Status(outcome), response)
				if err != nil {
					return err
				}
				return writeOut(cmd, app, item)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "approved|rejected")
	cmd.Flags().StringVar(&response, "response", "", "Response shown to the requester")
	return cmd
}
