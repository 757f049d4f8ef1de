package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/agentbus/internal/agent"
	"github.com/zulandar/agentbus/internal/bus"
	"github.com/zulandar/agentbus/internal/models"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Messaging commands",
	}

	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newMessagePendingCmd())
	cmd.AddCommand(newMessagePollCmd())
	cmd.AddCommand(newMessageReadCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		store      storeFlags
		from       string
		to         string
		content    string
		priority   string
		taskID     string
		command    string
		requireAck bool
		createTask bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to an agent",
		Long:  "Enqueues a message in the recipient's mailbox, resolving conflicts with the configured strategy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := models.ParsePriority(priority)
			if err != nil {
				return err
			}
			var meta map[string]any
			if command != "" {
				meta = agent.WithCommand(nil, agent.Command(command))
			}

			return withStore(cmd, &store, true, func(b *bus.Bus) error {
				res, err := b.Send(bus.SendRequest{
					Sender:      from,
					Recipient:   to,
					Content:     content,
					Priority:    p,
					Metadata:    meta,
					TaskID:      taskID,
					RequiresAck: requireAck,
					CreateTask:  createTask,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Sent message %s to %s\n", res.MessageID, res.Recipient)
				if res.TaskID != "" && createTask {
					fmt.Fprintf(out, "Created task %s\n", res.TaskID)
				}
				if res.Evicted > 0 {
					fmt.Fprintf(out, "Conflict: evicted %d pending message(s)\n", res.Evicted)
				}
				if res.Delegated {
					fmt.Fprintf(out, "Conflict: delegated from %s to %s\n", to, res.Recipient)
				}
				if res.Degraded {
					fmt.Fprintf(out, "Conflict: no alternate agent, delivered to %s\n", res.Recipient)
				}
				return nil
			})
		},
	}

	store.register(cmd)
	cmd.Flags().StringVar(&from, "from", "", "sender agent (required)")
	cmd.Flags().StringVar(&to, "to", "", "recipient agent (required)")
	cmd.Flags().StringVar(&content, "content", "", "message content (required)")
	cmd.Flags().StringVar(&priority, "priority", "medium", "message priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task the message belongs to")
	cmd.Flags().StringVar(&command, "command", "", "command tag for the receiving runtime (ping, status, ...)")
	cmd.Flags().BoolVar(&requireAck, "require-ack", false, "ask the recipient to acknowledge on poll")
	cmd.Flags().BoolVar(&createTask, "create-task", false, "open a task for the recipient with the content as description")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("content")
	return cmd
}

func newMessagePendingCmd() *cobra.Command {
	var store storeFlags

	cmd := &cobra.Command{
		Use:   "pending <agent>",
		Short: "Show an agent's mailbox without draining it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, &store, false, func(b *bus.Bus) error {
				msgs, err := b.Pending(args[0])
				if err != nil {
					return err
				}
				printMessages(cmd, args[0], msgs)
				return nil
			})
		},
	}

	store.register(cmd)
	return cmd
}

func newMessagePollCmd() *cobra.Command {
	var (
		store      storeFlags
		limit      int
		unreadOnly bool
	)

	cmd := &cobra.Command{
		Use:   "poll <agent>",
		Short: "Drain messages from an agent's mailbox",
		Long:  "Removes up to --limit messages, most urgent first. Messages that asked for acknowledgment are acknowledged to their sender.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, &store, true, func(b *bus.Bus) error {
				msgs, err := b.Poll(args[0], bus.PollOptions{UnreadOnly: unreadOnly, Limit: limit})
				if err != nil {
					return err
				}
				printMessages(cmd, args[0], msgs)
				return nil
			})
		},
	}

	store.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum messages to drain")
	cmd.Flags().BoolVar(&unreadOnly, "unread-only", false, "skip messages marked read")
	return cmd
}

func newMessageReadCmd() *cobra.Command {
	var store storeFlags

	cmd := &cobra.Command{
		Use:   "read <message-id>",
		Short: "Mark a pending message as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, &store, true, func(b *bus.Bus) error {
				if err := b.MarkRead(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Marked message %s as read\n", args[0])
				return nil
			})
		},
	}

	store.register(cmd)
	return cmd
}

func printMessages(cmd *cobra.Command, agentName string, msgs []models.Message) {
	out := cmd.OutOrStdout()
	if len(msgs) == 0 {
		fmt.Fprintf(out, "No messages for %s\n", agentName)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFROM\tPRIORITY\tTASK\tREAD\tSENT\tCONTENT")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			m.ID, m.Sender, m.Priority, m.TaskID, m.Read,
			m.Timestamp.Format("2006-01-02 15:04:05"), truncate(m.Content, 60))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
