package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/fabfab/fundlens/llm"
)

// SQLiteStore persists turns in the conversation_turns table created by
// database.OpenSQLite.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id, name
		FROM conversation_turns
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query conversation turns: %w", err)
	}
	defer rows.Close()

	var out []llm.Message
	for rows.Next() {
		var (
			msg                     llm.Message
			calls, callID, toolName sql.NullString
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &calls, &callID, &toolName); err != nil {
			return nil, fmt.Errorf("scan conversation turn: %w", err)
		}
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		msg.ToolCallID = callID.String
		msg.Name = toolName.String
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, messages ...llm.Message) (err error) {
	if len(messages) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, msg := range messages {
		var calls sql.NullString
		if len(msg.ToolCalls) > 0 {
			data, marshalErr := json.Marshal(msg.ToolCalls)
			if marshalErr != nil {
				err = fmt.Errorf("encode tool calls: %w", marshalErr)
				return err
			}
			calls = sql.NullString{String: string(data), Valid: true}
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_turns (session_id, role, content, tool_calls, tool_call_id, name)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sessionID, msg.Role, msg.Content, calls, msg.ToolCallID, msg.Name); err != nil {
			return fmt.Errorf("insert conversation turn: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation turns: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversation_turns WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}
