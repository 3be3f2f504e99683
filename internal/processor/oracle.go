package processor

import (
	"github.com/MikeSquared-Agency/briefsmith/internal/anthropic"
	"github.com/MikeSquared-Agency/briefsmith/internal/conversation"
)

// oracleMessages converts a transcript to Messages API turns: the list must
// start with a user turn and alternate roles, so leading assistant messages
// (the greeting) are dropped and consecutive same-role messages merged.
func oracleMessages(transcript []conversation.Message) []anthropic.Message {
	var out []anthropic.Message
	for _, m := range transcript {
		if m.Role != conversation.RoleUser && m.Role != conversation.RoleAssistant {
			continue
		}
		if len(out) == 0 && m.Role != conversation.RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, anthropic.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
