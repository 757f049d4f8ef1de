package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/agentbus/internal/bus"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent registry commands",
	}

	cmd.AddCommand(newAgentRegisterCmd())
	cmd.AddCommand(newAgentListCmd())
	return cmd
}

func newAgentRegisterCmd() *cobra.Command {
	var (
		store        storeFlags
		capabilities []string
		metadata     map[string]string
	)

	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register or update an agent",
		Long:  "Adds an agent to the registry. Re-registering replaces capabilities and metadata but keeps load and delegation history.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, &store, true, func(b *bus.Bus) error {
				meta := make(map[string]any, len(metadata))
				for k, v := range metadata {
					meta[k] = v
				}
				if err := b.Register(args[0], capabilities, meta); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered agent %s\n", strings.TrimSpace(args[0]))
				return nil
			})
		},
	}

	store.register(cmd)
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "capability tag (repeatable)")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "metadata key=value pairs")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var store storeFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		Long:  "Lists agents in registration order with their load and pending message count.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, &store, false, func(b *bus.Bus) error {
				out := cmd.OutOrStdout()
				agents := b.Agents()
				if len(agents) == 0 {
					fmt.Fprintln(out, "No agents registered")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tCAPABILITIES\tLOAD\tPENDING\tDELEGATIONS\tLAST SEEN")
				for _, a := range agents {
					pending, _ := b.Pending(a.Name)
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
						a.Name, strings.Join(a.Capabilities, ","), a.Load, len(pending),
						len(a.DelegationHistory), a.LastSeen.Format("2006-01-02 15:04"))
				}
				w.Flush()
				return nil
			})
		},
	}

	store.register(cmd)
	return cmd
}
