package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/litechat/backend/internal/model/chat"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "litechat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteConversationRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	conv := chat.Conversation{ID: "c1", Title: "first", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.SaveConversation(ctx, conv))

	got, err := store.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, conv, got[0])

	later := now.Add(time.Minute)
	require.NoError(t, store.TouchConversation(ctx, "c1", later))
	got, err = store.Conversations(ctx)
	require.NoError(t, err)
	require.Equal(t, later, got[0].UpdatedAt)

	require.ErrorIs(t, store.TouchConversation(ctx, "missing", later), ErrConversationNotFound)
}

func TestSQLiteMessageTreeRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	user := &chat.Message{
		ID: "m1", ConversationID: "c1", Role: chat.RoleUser,
		Content: "explain recursion", CreatedAt: base,
	}
	parent := &chat.Message{
		ID: "m2", ConversationID: "c1", Role: chat.RoleAssistant,
		CreatedAt: base.Add(time.Second),
		Workflow: &chat.Workflow{
			Type:     chat.WorkflowRace,
			Status:   chat.WorkflowCompleted,
			ChildIDs: []string{"t1", "t2"},
		},
		Children: []*chat.Message{
			{ID: "t1", ConversationID: "c1", Role: chat.RoleAssistant,
				Content: "answer one", ModelID: "gpt-x", ProviderID: "ark",
				TokensInput: 10, TokensOutput: 20, CreatedAt: base.Add(2 * time.Second)},
			{ID: "t2", ConversationID: "c1", Role: chat.RoleAssistant,
				Content: "answer two", ModelID: "gpt-y", ProviderID: "ark",
				CreatedAt: base.Add(3 * time.Second)},
		},
	}

	require.NoError(t, store.SaveMessage(ctx, user))
	require.NoError(t, store.SaveMessage(ctx, parent))

	got, err := store.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "m1", got[0].ID)
	require.Equal(t, "m2", got[1].ID)

	loaded := got[1]
	require.NotNil(t, loaded.Workflow)
	require.Equal(t, chat.WorkflowCompleted, loaded.Workflow.Status)
	require.Equal(t, []string{"t1", "t2"}, loaded.Workflow.ChildIDs)
	require.Len(t, loaded.Children, 2)
	require.Equal(t, "answer one", loaded.Children[0].Content)
	require.Equal(t, 20, loaded.Children[0].TokensOutput)
	require.Equal(t, "t2", loaded.Children[1].ID)
}

func TestSQLiteSaveMessageUpserts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	msg := &chat.Message{
		ID: "m1", ConversationID: "c1", Role: chat.RoleAssistant,
		Content: "partial", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveMessage(ctx, msg))

	msg.Content = "final"
	msg.TokensOutput = 42
	require.NoError(t, store.SaveMessage(ctx, msg))

	got, err := store.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "final", got[0].Content)
	require.Equal(t, 42, got[0].TokensOutput)
}

func TestSQLiteDeleteMessageCascades(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	parent := &chat.Message{
		ID: "p", ConversationID: "c1", Role: chat.RoleAssistant, CreatedAt: base,
		Workflow: &chat.Workflow{Type: chat.WorkflowRace, Status: chat.WorkflowError, ChildIDs: []string{"a"}},
		Children: []*chat.Message{
			{ID: "a", ConversationID: "c1", Role: chat.RoleAssistant, CreatedAt: base.Add(time.Second)},
		},
	}
	require.NoError(t, store.SaveMessage(ctx, parent))

	require.NoError(t, store.DeleteMessage(ctx, "p"))
	got, err := store.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, got)

	require.ErrorIs(t, store.DeleteMessage(ctx, "p"), ErrMessageNotFound)
}

func TestSQLiteDeleteConversationRemovesMessages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.SaveConversation(ctx, chat.Conversation{ID: "c1", CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, store.SaveMessage(ctx, &chat.Message{ID: "m1", ConversationID: "c1", Role: chat.RoleUser, CreatedAt: now}))

	require.NoError(t, store.DeleteConversation(ctx, "c1"))

	msgs, err := store.Messages(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.ErrorIs(t, store.DeleteConversation(ctx, "c1"), ErrConversationNotFound)
}
