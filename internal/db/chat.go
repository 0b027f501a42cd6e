package db

import (
	"context"
	"fmt"
	"time"

	"github.com/kuitang/aihub-e2e/internal/errs"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	ID           int64
	Conversation string
	AgentID      string
	Role         string
	Content      string
	CreatedAt    time.Time
}

// ConversationKey names the conversation between a user and an agent.
func ConversationKey(userID, agentID string) string {
	return userID + ":" + agentID
}

// AppendMessage adds a turn to its conversation.
func (s *Store) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if m.Role != RoleUser && m.Role != RoleAssistant {
		return Message{}, errs.New(errs.InvalidArgument, "unknown chat role")
	}
	m.CreatedAt = fromMillis(s.millis())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (conversation, agent_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.Conversation, m.AgentID, m.Role, m.Content, toMillis(m.CreatedAt))
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// Conversation returns the turns of a conversation, oldest first.
func (s *Store) Conversation(ctx context.Context, key string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation, agent_id, role, content, created_at
		FROM chat_messages WHERE conversation = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.ID, &m.Conversation, &m.AgentID, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = fromMillis(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ClearConversation deletes every turn of a conversation.
func (s *Store) ClearConversation(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE conversation = ?`, key); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}
