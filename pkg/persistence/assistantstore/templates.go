package assistantstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/datamartlabs/source-assistant/pkg/assistant"
)

// TemplateStore is the report-template view of a Store.
type TemplateStore struct {
	store *Store
}

var _ assistant.TemplateStore = &TemplateStore{}

// Templates returns the template store backed by this database.
func (s *Store) Templates() *TemplateStore { return &TemplateStore{store: s} }

func (t *TemplateStore) Get(ctx context.Context, templateID string, scope assistant.Scope) (assistant.Template, error) {
	row := t.store.conn(ctx).QueryRowContext(ctx, `
		SELECT id, data_mart_id, project_id, sources_json
		FROM templates
		WHERE id = ? AND data_mart_id = ? AND project_id = ?
	`, templateID, scope.DataMartID, scope.ProjectID)

	var (
		template    assistant.Template
		sourcesJSON string
	)
	err := row.Scan(&template.ID, &template.DataMartID, &template.ProjectID, &sourcesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return assistant.Template{}, assistant.NewNotFoundError("template %s is not found", templateID)
	}
	if err != nil {
		return assistant.Template{}, errors.Wrap(err, "assistant store: scan template")
	}
	if strings.TrimSpace(sourcesJSON) != "" {
		if err := json.Unmarshal([]byte(sourcesJSON), &template.Sources); err != nil {
			return assistant.Template{}, errors.Wrap(err, "assistant store: parse template sources")
		}
	}
	return template, nil
}

func (t *TemplateStore) SaveSources(ctx context.Context, templateID string, scope assistant.Scope, sources []assistant.TemplateSource) error {
	sourcesJSON, err := marshalTemplateSources(sources)
	if err != nil {
		return errors.Wrap(err, "assistant store: marshal template sources")
	}
	res, err := t.store.conn(ctx).ExecContext(ctx, `
		UPDATE templates
		SET sources_json = ?
		WHERE id = ? AND data_mart_id = ? AND project_id = ?
	`, sourcesJSON, templateID, scope.DataMartID, scope.ProjectID)
	if err != nil {
		return errors.Wrap(err, "assistant store: update template sources")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "assistant store: update template sources")
	}
	if affected == 0 {
		return assistant.NewNotFoundError("template %s is not found", templateID)
	}
	return nil
}

// SaveTemplate upserts a template row.
func (t *TemplateStore) SaveTemplate(ctx context.Context, template assistant.Template) error {
	if strings.TrimSpace(template.ID) == "" {
		return errors.New("assistant store: template id is empty")
	}
	sourcesJSON, err := marshalTemplateSources(template.Sources)
	if err != nil {
		return errors.Wrap(err, "assistant store: marshal template sources")
	}
	_, err = t.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO templates(id, data_mart_id, project_id, sources_json)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data_mart_id = excluded.data_mart_id,
			project_id = excluded.project_id,
			sources_json = excluded.sources_json
	`, template.ID, template.DataMartID, template.ProjectID, sourcesJSON)
	if err != nil {
		return errors.Wrap(err, "assistant store: upsert template")
	}
	return nil
}

func marshalTemplateSources(sources []assistant.TemplateSource) (string, error) {
	if len(sources) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(sources)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
