package runtime

import (
	"testing"

	"chatd/pkg/types"
)

func TestBuildPrompt(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "You are Ada."},
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello"},
		{Role: types.RoleUser, Content: "how are you?"},
	}
	want := "You are Ada.\n\nUser: hi\n\nAssistant: hello\n\nUser: how are you?\n\nAssistant: "
	if got := buildPrompt(msgs); got != want {
		t.Fatalf("prompt = %q, want %q", got, want)
	}
}

func TestBuildPromptEmpty(t *testing.T) {
	if got := buildPrompt(nil); got != "Assistant: " {
		t.Fatalf("prompt = %q", got)
	}
}
