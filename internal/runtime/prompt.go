package runtime

import (
	"strings"

	"chatd/pkg/types"
)

// buildPrompt flattens a conversation into the plain role-prefixed format
// the raw completion API expects: system text first, then "User: " /
// "Assistant: " turns separated by blank lines, ending with the assistant
// cue the model completes from.
func buildPrompt(msgs []types.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			b.WriteString(m.Content)
		case types.RoleAssistant:
			b.WriteString("Assistant: ")
			b.WriteString(m.Content)
		default:
			b.WriteString("User: ")
			b.WriteString(m.Content)
		}
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant: ")
	return b.String()
}
