package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/PratikDhanave/user-report-service/internal/store"
	"github.com/PratikDhanave/user-report-service/internal/userreports"
)

// NewReconcileCommand reconciles one report synchronously, bypassing the queue.
func NewReconcileCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <user-report-id>",
		Short: "Attach a user report to its event's group and environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid user report id %q", args[0])
			}

			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.store.GetUserReport(cmd.Context(), id)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("user report %d does not exist", id)
			}
			if err != nil {
				return err
			}

			if err := a.reconciler.Reconcile(cmd.Context(), &report); err != nil {
				if errors.Is(err, userreports.ErrEventNotFound) {
					return fmt.Errorf("user report %d: %w", id, err)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "user report %d: group=%d environment=%d\n",
				report.ID, *report.GroupID, *report.EnvironmentID)
			return nil
		},
	}
}
