package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/litechat/backend/internal/model/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    parent_id       TEXT NOT NULL DEFAULT '',
    role            TEXT NOT NULL,
    content         TEXT NOT NULL DEFAULT '',
    provider_id     TEXT NOT NULL DEFAULT '',
    model_id        TEXT NOT NULL DEFAULT '',
    tokens_input    INTEGER NOT NULL DEFAULT 0,
    tokens_output   INTEGER NOT NULL DEFAULT 0,
    workflow_type   TEXT NOT NULL DEFAULT '',
    workflow_status TEXT NOT NULL DEFAULT '',
    child_ids       TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id);
`

// SQLite implements Store on a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The modernc driver serializes writers; one connection avoids
	// SQLITE_BUSY under concurrent finalize callbacks.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveConversation upserts a conversation row.
func (s *SQLite) SaveConversation(ctx context.Context, conv chat.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at`,
		conv.ID, conv.Title, conv.CreatedAt.UnixMicro(), conv.UpdatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Conversations lists all conversations, most recently updated first.
func (s *SQLite) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []chat.Conversation
	for rows.Next() {
		var conv chat.Conversation
		var created, updated int64
		if err := rows.Scan(&conv.ID, &conv.Title, &created, &updated); err != nil {
			return nil, err
		}
		conv.CreatedAt = time.UnixMicro(created).UTC()
		conv.UpdatedAt = time.UnixMicro(updated).UTC()
		out = append(out, conv)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and all of its messages.
func (s *SQLite) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConversationNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id)
	return err
}

// TouchConversation bumps a conversation's updated_at.
func (s *SQLite) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, at.UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// SaveMessage upserts the message and, recursively, its children.
func (s *SQLite) SaveMessage(ctx context.Context, msg *chat.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	defer tx.Rollback()

	if err := saveMessageTx(ctx, tx, msg, msg.ParentID); err != nil {
		return err
	}
	return tx.Commit()
}

func saveMessageTx(ctx context.Context, tx *sql.Tx, msg *chat.Message, parentID string) error {
	var workflowType, workflowStatus, childIDs string
	if msg.Workflow != nil {
		workflowType = msg.Workflow.Type
		workflowStatus = string(msg.Workflow.Status)
		encoded, err := json.Marshal(msg.Workflow.ChildIDs)
		if err != nil {
			return fmt.Errorf("encode child ids for %s: %w", msg.ID, err)
		}
		childIDs = string(encoded)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages
			(id, conversation_id, parent_id, role, content, provider_id, model_id,
			 tokens_input, tokens_output, workflow_type, workflow_status, child_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			provider_id = excluded.provider_id,
			model_id = excluded.model_id,
			tokens_input = excluded.tokens_input,
			tokens_output = excluded.tokens_output,
			workflow_type = excluded.workflow_type,
			workflow_status = excluded.workflow_status,
			child_ids = excluded.child_ids`,
		msg.ID, msg.ConversationID, parentID, msg.Role, msg.Content,
		msg.ProviderID, msg.ModelID, msg.TokensInput, msg.TokensOutput,
		workflowType, workflowStatus, childIDs, msg.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}

	for _, child := range msg.Children {
		if err := saveMessageTx(ctx, tx, child, msg.ID); err != nil {
			return err
		}
	}
	return nil
}

// Messages loads the conversation's message tree ordered by creation time.
func (s *SQLite) Messages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, parent_id, role, content, provider_id, model_id,
		       tokens_input, tokens_output, workflow_type, workflow_status, child_ids, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	byID := make(map[string]*chat.Message)
	var ordered []*chat.Message
	parents := make(map[string]string)

	for rows.Next() {
		msg := &chat.Message{}
		var parentID, workflowType, workflowStatus, childIDs string
		var created int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &parentID, &msg.Role,
			&msg.Content, &msg.ProviderID, &msg.ModelID,
			&msg.TokensInput, &msg.TokensOutput,
			&workflowType, &workflowStatus, &childIDs, &created); err != nil {
			return nil, err
		}
		msg.CreatedAt = time.UnixMicro(created).UTC()
		msg.ParentID = parentID
		if workflowType != "" {
			msg.Workflow = &chat.Workflow{
				Type:   workflowType,
				Status: chat.WorkflowStatus(workflowStatus),
			}
			if childIDs != "" {
				if err := json.Unmarshal([]byte(childIDs), &msg.Workflow.ChildIDs); err != nil {
					return nil, fmt.Errorf("decode child ids for %s: %w", msg.ID, err)
				}
			}
			// Children may legitimately be empty, but the slice must exist.
			msg.Children = []*chat.Message{}
		}
		byID[msg.ID] = msg
		ordered = append(ordered, msg)
		parents[msg.ID] = parentID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var top []*chat.Message
	for _, msg := range ordered {
		if parentID := parents[msg.ID]; parentID != "" {
			if parent, ok := byID[parentID]; ok {
				parent.Children = append(parent.Children, msg)
				continue
			}
		}
		top = append(top, msg)
	}
	return top, nil
}

// DeleteMessage removes a message and any children under it.
func (s *SQLite) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrMessageNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE parent_id = ?`, id)
	return err
}
