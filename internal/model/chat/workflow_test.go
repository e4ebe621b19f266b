package chat

import "testing"

func TestWorkflowAdvanceForwardOnly(t *testing.T) {
	w := &Workflow{Type: WorkflowRace, Status: WorkflowPending}

	if !w.Advance(WorkflowRunning) {
		t.Fatal("pending -> running should be allowed")
	}
	if w.Advance(WorkflowPending) {
		t.Fatal("running -> pending must be refused")
	}
	if !w.Advance(WorkflowCompleted) {
		t.Fatal("running -> completed should be allowed")
	}
	if w.Advance(WorkflowError) {
		t.Fatal("terminal state must not transition")
	}
	if w.Status != WorkflowCompleted {
		t.Fatalf("status corrupted: %s", w.Status)
	}
}

func TestWorkflowAdvanceDirectToError(t *testing.T) {
	w := &Workflow{Type: WorkflowRace, Status: WorkflowPending}
	if !w.Advance(WorkflowError) {
		t.Fatal("pending -> error should be allowed for zero-task workflows")
	}
	if !w.Status.Terminal() {
		t.Fatal("error must be terminal")
	}
}

func TestMessageSettled(t *testing.T) {
	parent := &Message{
		Workflow: &Workflow{Type: WorkflowRace, Status: WorkflowRunning},
		Children: []*Message{
			{ID: "a", IsStreaming: false},
			{ID: "b", IsStreaming: true},
		},
	}
	if parent.Settled() {
		t.Fatal("parent with a streaming child is not settled")
	}
	parent.Children[1].IsStreaming = false
	if !parent.Settled() {
		t.Fatal("parent with no streaming children is settled")
	}
}

func TestMessageCloneIsDeep(t *testing.T) {
	parent := &Message{
		ID:       "p",
		Workflow: &Workflow{Type: WorkflowRace, Status: WorkflowRunning, ChildIDs: []string{"a"}},
		Children: []*Message{{ID: "a", Content: "one"}},
	}

	clone := parent.Clone()
	clone.Children[0].Content = "mutated"
	clone.Workflow.ChildIDs[0] = "z"

	if parent.Children[0].Content != "one" {
		t.Fatal("clone shares child memory with original")
	}
	if parent.Workflow.ChildIDs[0] != "a" {
		t.Fatal("clone shares workflow memory with original")
	}
}
