package main

import (
	"fmt"
	"time"

	"caseflow/internal/auth"
	"caseflow/internal/model"

	"github.com/spf13/cobra"
)

func newTokenCommand(root *rootOptions) *cobra.Command {
	var (
		role   string
		dept   int64
		alerts bool
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <actor-id>",
		Short: "Issue a bearer token for an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := model.Actor{ID: args[0], Role: role, AlertsEnabled: alerts}
			if dept > 0 {
				d := model.DepartmentID(dept)
				actor.DepartmentID = &d
			}
			token, err := auth.NewJWTConfig(root.cfg.JWTSecret, false).IssueToken(actor, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "agent", "actor role")
	cmd.Flags().Int64Var(&dept, "department", 0, "department the actor belongs to")
	cmd.Flags().BoolVar(&alerts, "alerts", false, "opt the actor into alerts")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}
