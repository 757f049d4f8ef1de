package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/agentbus/internal/bus"
	"github.com/zulandar/agentbus/internal/models"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Task ledger commands",
	}

	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskStatusCmd())
	return cmd
}

func newTaskCreateCmd() *cobra.Command {
	var (
		store       storeFlags
		description string
		to          string
		from        string
		priority    string
		deadline    string
		dependsOn   []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task assigned to an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := models.ParsePriority(priority)
			if err != nil {
				return err
			}
			req := bus.CreateTaskRequest{
				Description:  description,
				AssignedTo:   to,
				CreatedBy:    from,
				Priority:     p,
				Dependencies: dependsOn,
			}
			if deadline != "" {
				d, err := time.Parse(time.RFC3339, deadline)
				if err != nil {
					return fmt.Errorf("invalid --deadline %q (want RFC3339): %w", deadline, err)
				}
				req.Deadline = &d
			}

			return withStore(cmd, &store, true, func(b *bus.Bus) error {
				task, err := b.CreateTask(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created task %s assigned to %s\n", task.ID, task.AssignedTo)
				return nil
			})
		},
	}

	store.register(cmd)
	cmd.Flags().StringVar(&description, "description", "", "task description (required)")
	cmd.Flags().StringVar(&to, "to", "", "assignee agent (required)")
	cmd.Flags().StringVar(&from, "from", "", "creating agent (required)")
	cmd.Flags().StringVar(&priority, "priority", "medium", "task priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline in RFC3339 format")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "ids of tasks this one depends on")
	cmd.MarkFlagRequired("description")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("from")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		store      storeFlags
		assignedTo string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := bus.TaskFilter{AssignedTo: assignedTo, Limit: limit}
			if status != "" {
				s, err := models.ParseTaskStatus(status)
				if err != nil {
					return err
				}
				f.Status = s
			}

			return withStore(cmd, &store, false, func(b *bus.Bus) error {
				out := cmd.OutOrStdout()
				tasks := b.QueryTasks(f)
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No tasks found")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tASSIGNED\tCREATED BY\tDESCRIPTION")
				for _, t := range tasks {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
						t.ID, t.Status, t.Priority, t.AssignedTo, t.CreatedBy, truncate(t.Description, 50))
				}
				w.Flush()
				return nil
			})
		},
	}

	store.register(cmd)
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "filter by assignee")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, in_progress, completed, failed, delegated)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum tasks to show")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	var store storeFlags

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and its message history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, &store, false, func(b *bus.Bus) error {
				t, err := b.Task(args[0])
				if err != nil {
					return err
				}
				printTask(cmd, t)
				return nil
			})
		},
	}

	store.register(cmd)
	return cmd
}

func newTaskStatusCmd() *cobra.Command {
	var store storeFlags

	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Change a task's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := models.ParseTaskStatus(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, &store, true, func(b *bus.Bus) error {
				if err := b.UpdateTaskStatus(args[0], s); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s is now %s\n", args[0], s)
				return nil
			})
		},
	}

	store.register(cmd)
	return cmd
}

func printTask(cmd *cobra.Command, t models.Task) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:        %s\n", t.ID)
	fmt.Fprintf(out, "Description: %s\n", t.Description)
	fmt.Fprintf(out, "Status:      %s\n", t.Status)
	fmt.Fprintf(out, "Priority:    %s\n", t.Priority)
	fmt.Fprintf(out, "Assigned to: %s\n", t.AssignedTo)
	fmt.Fprintf(out, "Created by:  %s\n", t.CreatedBy)
	fmt.Fprintf(out, "Created at:  %s\n", t.CreatedAt.Format(time.RFC3339))
	if t.Deadline != nil {
		fmt.Fprintf(out, "Deadline:    %s\n", t.Deadline.Format(time.RFC3339))
	}
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(out, "Depends on:  %s\n", strings.Join(t.Dependencies, ", "))
	}

	if len(t.Messages) == 0 {
		return
	}
	fmt.Fprintf(out, "\nMessages (%d):\n", len(t.Messages))
	for _, m := range t.Messages {
		fmt.Fprintf(out, "  [%s] %s -> %s (%s): %s\n",
			m.Timestamp.Format("15:04:05"), m.Sender, m.Recipient, m.Priority, truncate(m.Content, 60))
	}
}
