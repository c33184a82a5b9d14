package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewTasksCommand lists the registered tasks and their dispatch settings.
func NewTasksCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List registered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tQUEUE\tRETRY DELAY\tMAX RETRIES")
			for _, t := range a.registry.Tasks() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", t.Name, t.Queue, t.DefaultRetryDelay, t.MaxRetries)
			}
			return w.Flush()
		},
	}
}
