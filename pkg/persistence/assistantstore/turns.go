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

// TurnStore is the chat-turn view of a Store.
type TurnStore struct {
	store *Store
}

var _ assistant.TurnStore = &TurnStore{}

// Turns returns the chat-turn store backed by this database.
func (s *Store) Turns() *TurnStore { return &TurnStore{store: s} }

func (t *TurnStore) AppendTurn(ctx context.Context, turn assistant.ChatTurn) error {
	if strings.TrimSpace(turn.ID) == "" {
		return errors.New("assistant store: turn id is empty")
	}
	if strings.TrimSpace(turn.SessionID) == "" {
		return errors.New("assistant store: session id is empty")
	}
	actionsJSON, err := marshalProposedActions(turn.ProposedActions)
	if err != nil {
		return errors.Wrap(err, "assistant store: marshal proposed actions")
	}
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = t.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO chat_turns(id, session_id, role, content, sql_candidate, proposed_actions_json, created_at_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.SessionID, string(turn.Role), turn.Content, turn.SQLCandidate, actionsJSON, createdAt.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "assistant store: insert chat turn")
	}
	return nil
}

func (t *TurnStore) ListBySession(ctx context.Context, sessionID string) ([]assistant.ChatTurn, error) {
	rows, err := t.store.conn(ctx).QueryContext(ctx, `
		SELECT id, session_id, role, content, sql_candidate, proposed_actions_json, created_at_ms
		FROM chat_turns
		WHERE session_id = ?
		ORDER BY created_at_ms ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "assistant store: query chat turns")
	}
	defer func() { _ = rows.Close() }()

	turns := []assistant.ChatTurn{}
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}

func (t *TurnStore) GetAssistantTurn(ctx context.Context, sessionID, turnID string) (assistant.ChatTurn, error) {
	row := t.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, session_id, role, content, sql_candidate, proposed_actions_json, created_at_ms
		FROM chat_turns
		WHERE session_id = ? AND id = ? AND role = ?
	`, sessionID, turnID, string(assistant.RoleAssistant))
	turn, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return assistant.ChatTurn{}, assistant.NewNotFoundError("assistant message %s is not found", turnID)
	}
	if err != nil {
		return assistant.ChatTurn{}, err
	}
	return turn, nil
}

func (t *TurnStore) LatestAssistantTurnWithActions(ctx context.Context, sessionID string) (assistant.ChatTurn, bool, error) {
	row := t.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, session_id, role, content, sql_candidate, proposed_actions_json, created_at_ms
		FROM chat_turns
		WHERE session_id = ? AND role = ? AND proposed_actions_json != '[]' AND proposed_actions_json != ''
		ORDER BY created_at_ms DESC, id DESC
		LIMIT 1
	`, sessionID, string(assistant.RoleAssistant))
	turn, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return assistant.ChatTurn{}, false, nil
	}
	if err != nil {
		return assistant.ChatTurn{}, false, err
	}
	return turn, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (assistant.ChatTurn, error) {
	var (
		turn        assistant.ChatTurn
		role        string
		actionsJSON string
		createdAtMs int64
	)
	if err := row.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content, &turn.SQLCandidate, &actionsJSON, &createdAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return assistant.ChatTurn{}, err
		}
		return assistant.ChatTurn{}, errors.Wrap(err, "assistant store: scan chat turn")
	}
	turn.Role = assistant.Role(role)
	turn.CreatedAt = time.UnixMilli(createdAtMs)
	if strings.TrimSpace(actionsJSON) != "" {
		if err := json.Unmarshal([]byte(actionsJSON), &turn.ProposedActions); err != nil {
			return assistant.ChatTurn{}, errors.Wrap(err, "assistant store: parse proposed actions")
		}
	}
	return turn, nil
}

func marshalProposedActions(actions []assistant.ProposedAction) (string, error) {
	if len(actions) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
