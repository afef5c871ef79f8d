package assistantstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/datamartlabs/source-assistant/pkg/assistant"
)

// ContextStore is the per-session context-blob view of a Store. Snapshot
// columns hold raw JSON so malformed payloads surface at decode time, not
// here.
type ContextStore struct {
	store *Store
}

var _ assistant.ContextStore = &ContextStore{}

// Contexts returns the context store backed by this database.
func (s *Store) Contexts() *ContextStore { return &ContextStore{store: s} }

func (c *ContextStore) Get(ctx context.Context, sessionID string) (assistant.StoredContext, bool, error) {
	row := c.store.conn(ctx).QueryRowContext(ctx, `
		SELECT session_id, conversation_snapshot_json, state_snapshot_json, updated_at_ms
		FROM session_contexts
		WHERE session_id = ?
	`, sessionID)

	var (
		stored           assistant.StoredContext
		conversationJSON string
		stateJSON        string
		updatedAtMs      int64
	)
	err := row.Scan(&stored.SessionID, &conversationJSON, &stateJSON, &updatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return assistant.StoredContext{}, false, nil
	}
	if err != nil {
		return assistant.StoredContext{}, false, errors.Wrap(err, "assistant store: scan session context")
	}
	stored.UpdatedAt = time.UnixMilli(updatedAtMs)
	if strings.TrimSpace(conversationJSON) != "" {
		stored.ConversationSnapshot = json.RawMessage(conversationJSON)
	}
	if strings.TrimSpace(stateJSON) != "" {
		stored.StateSnapshot = json.RawMessage(stateJSON)
	}
	return stored, true, nil
}

func (c *ContextStore) Save(ctx context.Context, stored assistant.StoredContext) error {
	if strings.TrimSpace(stored.SessionID) == "" {
		return errors.New("assistant store: session id is empty")
	}
	updatedAt := stored.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := c.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO session_contexts(session_id, conversation_snapshot_json, state_snapshot_json, updated_at_ms)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			conversation_snapshot_json = excluded.conversation_snapshot_json,
			state_snapshot_json = excluded.state_snapshot_json,
			updated_at_ms = excluded.updated_at_ms
	`, stored.SessionID, string(stored.ConversationSnapshot), string(stored.StateSnapshot), updatedAt.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "assistant store: upsert session context")
	}
	return nil
}
