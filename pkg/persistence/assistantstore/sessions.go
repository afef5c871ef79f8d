package assistantstore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/datamartlabs/source-assistant/pkg/assistant"
)

// SessionStore is the session view of a Store.
type SessionStore struct {
	store *Store
}

var _ assistant.SessionStore = &SessionStore{}

// Sessions returns the session store backed by this database.
func (s *Store) Sessions() *SessionStore { return &SessionStore{store: s} }

// Get loads a session and checks it belongs to the caller's data mart and
// project. A session outside the scope reads as not found.
func (st *SessionStore) Get(ctx context.Context, sessionID string, scope assistant.Scope) (assistant.Session, error) {
	row := st.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, data_mart_id, project_id, template_id, scope, created_by_id
		FROM sessions
		WHERE id = ? AND data_mart_id = ? AND project_id = ?
	`, sessionID, scope.DataMartID, scope.ProjectID)

	var (
		session   assistant.Session
		scopeName string
	)
	err := row.Scan(&session.ID, &session.DataMartID, &session.ProjectID, &session.TemplateID, &scopeName, &session.CreatedByID)
	if errors.Is(err, sql.ErrNoRows) {
		return assistant.Session{}, assistant.NewNotFoundError("session %s is not found", sessionID)
	}
	if err != nil {
		return assistant.Session{}, errors.Wrap(err, "assistant store: scan session")
	}
	session.Scope = assistant.SessionScope(scopeName)
	return session, nil
}

// Save upserts a session row.
func (st *SessionStore) Save(ctx context.Context, session assistant.Session) error {
	if strings.TrimSpace(session.ID) == "" {
		return errors.New("assistant store: session id is empty")
	}
	_, err := st.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO sessions(id, data_mart_id, project_id, template_id, scope, created_by_id)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data_mart_id = excluded.data_mart_id,
			project_id = excluded.project_id,
			template_id = excluded.template_id,
			scope = excluded.scope,
			created_by_id = excluded.created_by_id
	`, session.ID, session.DataMartID, session.ProjectID, session.TemplateID, string(session.Scope), session.CreatedByID)
	if err != nil {
		return errors.Wrap(err, "assistant store: upsert session")
	}
	return nil
}
