package ai

import (
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/litechat/backend/internal/model/chat"
)

func TestBuildPromptWindowsHistory(t *testing.T) {
	svc := NewService("be brief")

	history := make([]*chat.Message, 0, 14)
	for i := 0; i < 14; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		history = append(history, &chat.Message{Role: role, Content: "turn"})
	}

	msgs := svc.buildPrompt(history, "question")

	// system + 10-turn window + new user turn
	if len(msgs) != 12 {
		t.Fatalf("expected 12 prompt messages, got %d", len(msgs))
	}
	if msgs[0].Role != schema.System {
		t.Fatalf("expected leading system message, got %s", msgs[0].Role)
	}
	last := msgs[len(msgs)-1]
	if last.Role != schema.User || last.Content != "question" {
		t.Fatalf("expected trailing user turn, got %+v", last)
	}
}

func TestBuildPromptSkipsWorkflowParents(t *testing.T) {
	svc := NewService("")

	history := []*chat.Message{
		{Role: chat.RoleUser, Content: "compare models"},
		{Role: chat.RoleAssistant, Workflow: &chat.Workflow{Type: chat.WorkflowRace, Status: chat.WorkflowCompleted}},
		{Role: chat.RoleAssistant, Content: ""},
	}

	msgs := svc.buildPrompt(history, "next")
	if len(msgs) != 2 {
		t.Fatalf("workflow parents and empty turns must be skipped, got %d messages", len(msgs))
	}
}
