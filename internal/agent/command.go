package agent

import (
	"github.com/zulandar/agentbus/internal/models"
)

// Command tells the receiving runtime how to treat a message. It travels in
// metadata["command"]; messages without one are plain chat.
type Command string

const (
	CommandChat    Command = "chat"
	CommandPing    Command = "ping"
	CommandStatus  Command = "status"
	CommandRequest Command = "request"
	CommandReply   Command = "reply"
	CommandAck     Command = "ack"
)

// WithCommand returns a copy of meta tagged with cmd.
func WithCommand(meta map[string]any, cmd Command) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out[models.MetaCommand] = string(cmd)
	return out
}

// CommandOf classifies a received message. An explicit tag wins; otherwise
// bus acknowledgments and correlated replies are recognised by their
// metadata, and everything else is chat.
func CommandOf(m models.Message) Command {
	if c := m.MetaString(models.MetaCommand); c != "" {
		return Command(c)
	}
	switch {
	case m.MetaString(models.MetaAckFor) != "":
		return CommandAck
	case m.MetaString(models.MetaInReplyTo) != "":
		return CommandReply
	default:
		return CommandChat
	}
}
