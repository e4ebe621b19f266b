package chat

// WorkflowType identifies the fan-out kind of a parent message.
const WorkflowRace = "race"

// WorkflowStatus is the aggregate state of a workflow parent.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowError     WorkflowStatus = "error"
)

// Terminal reports whether the status admits no further transition.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowError
}

// Workflow describes the fan-out attached to a parent message. ChildIDs is
// the exact set of task ids the coordinator was started with.
type Workflow struct {
	Type     string         `json:"type"`
	Status   WorkflowStatus `json:"status"`
	ChildIDs []string       `json:"childIds"`
}

// rank orders statuses along the only legal path:
// pending -> running -> {completed|error}.
func (s WorkflowStatus) rank() int {
	switch s {
	case WorkflowPending:
		return 0
	case WorkflowRunning:
		return 1
	case WorkflowCompleted, WorkflowError:
		return 2
	}
	return -1
}

// Advance moves the workflow to next and reports whether the transition was
// applied. Backward transitions and transitions out of a terminal state are
// refused.
func (w *Workflow) Advance(next WorkflowStatus) bool {
	if w.Status.Terminal() {
		return false
	}
	if next.rank() <= w.Status.rank() {
		return false
	}
	w.Status = next
	return true
}
