package chat

import "time"

// Roles a message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn unit in a conversation. A message with a non-nil
// Workflow is a fan-out parent and aggregates its Children; everything else
// is a plain turn. IsStreaming and Error are view state and never persisted.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	ParentID       string     `json:"parentId,omitempty"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	ProviderID     string     `json:"providerId,omitempty"`
	ModelID        string     `json:"modelId,omitempty"`
	TokensInput    int        `json:"tokensInput,omitempty"`
	TokensOutput   int        `json:"tokensOutput,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	IsStreaming    bool       `json:"isStreaming,omitempty"`
	Error          string     `json:"error,omitempty"`
	Children       []*Message `json:"children,omitempty"`
	Workflow       *Workflow  `json:"workflow,omitempty"`
}

// Child returns the child with the given id, or nil.
func (m *Message) Child(id string) *Message {
	for _, c := range m.Children {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Settled reports whether no child is still streaming. A parent may only
// reach a terminal workflow status once this holds.
func (m *Message) Settled() bool {
	for _, c := range m.Children {
		if c.IsStreaming {
			return false
		}
	}
	return true
}

// HasErroredChild reports whether any child carries an error.
func (m *Message) HasErroredChild() bool {
	for _, c := range m.Children {
		if c.Error != "" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand outside the owning store.
func (m *Message) Clone() *Message {
	out := *m
	if m.Workflow != nil {
		w := *m.Workflow
		w.ChildIDs = append([]string(nil), m.Workflow.ChildIDs...)
		out.Workflow = &w
	}
	if m.Children != nil {
		out.Children = make([]*Message, 0, len(m.Children))
		for _, c := range m.Children {
			out.Children = append(out.Children, c.Clone())
		}
	}
	return &out
}
