package assistantstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/datamartlabs/source-assistant/pkg/assistant"
)

// LedgerStore is the apply-ledger view of a Store. The database enforces the
// (session_id, request_id, created_by_id) uniqueness the idempotency contract
// rests on.
type LedgerStore struct {
	store *Store
}

var _ assistant.ApplyLedger = &LedgerStore{}

// Ledger returns the apply ledger backed by this database.
func (s *Store) Ledger() *LedgerStore { return &LedgerStore{store: s} }

func (l *LedgerStore) Get(ctx context.Context, sessionID, requestID, createdByID string) (assistant.ApplyActionRecord, bool, error) {
	row := l.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, session_id, request_id, created_by_id, response_json, modified_at_ms
		FROM apply_actions
		WHERE session_id = ? AND request_id = ? AND created_by_id = ?
	`, sessionID, requestID, createdByID)
	record, err := scanLedgerRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return assistant.ApplyActionRecord{}, false, nil
	}
	if err != nil {
		return assistant.ApplyActionRecord{}, false, err
	}
	return record, true, nil
}

func (l *LedgerStore) Insert(ctx context.Context, record assistant.ApplyActionRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("assistant store: ledger record id is empty")
	}
	responseJSON, err := json.Marshal(record.Response)
	if err != nil {
		return errors.Wrap(err, "assistant store: marshal ledger response")
	}
	modifiedAt := record.ModifiedAt
	if modifiedAt.IsZero() {
		modifiedAt = time.Now()
	}
	_, err = l.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO apply_actions(id, session_id, request_id, created_by_id, response_json, modified_at_ms)
		VALUES(?, ?, ?, ?, ?, ?)
	`, record.ID, record.SessionID, record.RequestID, record.CreatedByID, string(responseJSON), modifiedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return assistant.ErrDuplicateRecord
		}
		return errors.Wrap(err, "assistant store: insert ledger record")
	}
	return nil
}

func (l *LedgerStore) MarkApplied(ctx context.Context, recordID string, response assistant.ApplyActionResponse, modifiedAt time.Time) error {
	responseJSON, err := json.Marshal(response)
	if err != nil {
		return errors.Wrap(err, "assistant store: marshal ledger response")
	}
	res, err := l.store.conn(ctx).ExecContext(ctx, `
		UPDATE apply_actions
		SET response_json = ?, modified_at_ms = ?
		WHERE id = ?
	`, string(responseJSON), modifiedAt.UnixMilli(), recordID)
	if err != nil {
		return errors.Wrap(err, "assistant store: update ledger record")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "assistant store: update ledger record")
	}
	if affected == 0 {
		return assistant.NewNotFoundError("apply action record %s is not found", recordID)
	}
	return nil
}

func (l *LedgerStore) ListBySession(ctx context.Context, sessionID, createdByID string) ([]assistant.ApplyActionRecord, error) {
	rows, err := l.store.conn(ctx).QueryContext(ctx, `
		SELECT id, session_id, request_id, created_by_id, response_json, modified_at_ms
		FROM apply_actions
		WHERE session_id = ? AND created_by_id = ?
		ORDER BY modified_at_ms ASC, id ASC
	`, sessionID, createdByID)
	if err != nil {
		return nil, errors.Wrap(err, "assistant store: query ledger records")
	}
	defer func() { _ = rows.Close() }()

	records := []assistant.ApplyActionRecord{}
	for rows.Next() {
		record, err := scanLedgerRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanLedgerRecord(row rowScanner) (assistant.ApplyActionRecord, error) {
	var (
		record       assistant.ApplyActionRecord
		responseJSON string
		modifiedAtMs int64
	)
	if err := row.Scan(&record.ID, &record.SessionID, &record.RequestID, &record.CreatedByID, &responseJSON, &modifiedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return assistant.ApplyActionRecord{}, err
		}
		return assistant.ApplyActionRecord{}, errors.Wrap(err, "assistant store: scan ledger record")
	}
	record.ModifiedAt = time.UnixMilli(modifiedAtMs)
	if err := json.Unmarshal([]byte(responseJSON), &record.Response); err != nil {
		return assistant.ApplyActionRecord{}, errors.Wrap(err, "assistant store: parse ledger response")
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
