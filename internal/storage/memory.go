package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/litechat/backend/internal/model/chat"
)

// Memory implements Store with in-process maps, for tests and embedders.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	messages      map[string]*chat.Message // keyed by message id, top-level only
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string]*chat.Message),
	}
}

func (s *Memory) Close() error { return nil }

func (s *Memory) SaveConversation(_ context.Context, conv chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}

func (s *Memory) Conversations(_ context.Context) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Memory) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	for msgID, msg := range s.messages {
		if msg.ConversationID == id {
			delete(s.messages, msgID)
		}
	}
	return nil
}

func (s *Memory) TouchConversation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.UpdatedAt = at
	s.conversations[id] = conv
	return nil
}

func (s *Memory) SaveMessage(_ context.Context, msg *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := msg.Clone()
	stripTransient(stored)
	s.messages[stored.ID] = stored
	return nil
}

func (s *Memory) Messages(_ context.Context, conversationID string) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*chat.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrMessageNotFound
	}
	delete(s.messages, id)
	return nil
}

// stripTransient drops view-only state, mirroring what the SQLite schema
// refuses to record.
func stripTransient(msg *chat.Message) {
	msg.IsStreaming = false
	msg.Error = ""
	for _, c := range msg.Children {
		stripTransient(c)
	}
}
