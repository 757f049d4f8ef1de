package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"github.com/zulandar/agentbus/internal/bus"
	"github.com/zulandar/agentbus/internal/models"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Snapshot inspection commands",
	}

	cmd.AddCommand(newStateShowCmd())
	return cmd
}

func newStateShowCmd() *cobra.Command {
	var store storeFlags

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Summarize the snapshot file",
		Long:  "Loads the snapshot and prints agent, pending message and task counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, &store, false, func(b *bus.Bus) error {
				agents := b.Agents()
				pending := 0
				for _, a := range agents {
					msgs, err := b.Pending(a.Name)
					if err != nil {
						return err
					}
					pending += len(msgs)
				}

				byStatus := make(map[models.TaskStatus]int)
				total := 0
				for _, t := range b.QueryTasks(bus.TaskFilter{Limit: math.MaxInt}) {
					byStatus[t.Status]++
					total++
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Strategy:         %s\n", b.Strategy())
				fmt.Fprintf(out, "Agents:           %d\n", len(agents))
				fmt.Fprintf(out, "Pending messages: %d\n", pending)
				fmt.Fprintf(out, "Tasks:            %d\n", total)
				for _, s := range models.AllStatuses {
					if n := byStatus[s]; n > 0 {
						fmt.Fprintf(out, "  %-12s %d\n", s, n)
					}
				}
				return nil
			})
		},
	}

	store.register(cmd)
	return cmd
}
