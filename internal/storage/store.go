// Package storage persists conversations and message trees.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/litechat/backend/internal/model/chat"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// Store is the durable gateway the chat service writes through. Messages are
// append-ordered by CreatedAt within a conversation; SaveMessage upserts the
// message and its children. Transient view state (IsStreaming, Error) is
// never persisted.
type Store interface {
	SaveConversation(ctx context.Context, conv chat.Conversation) error
	Conversations(ctx context.Context) ([]chat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	TouchConversation(ctx context.Context, id string, at time.Time) error

	SaveMessage(ctx context.Context, msg *chat.Message) error
	Messages(ctx context.Context, conversationID string) ([]*chat.Message, error)
	DeleteMessage(ctx context.Context, id string) error

	Close() error
}
