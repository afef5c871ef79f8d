package assistantstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/datamartlabs/source-assistant/pkg/assistant"
)

// Memory is an in-process store set with the same views as the sqlite Store.
// It backs tests and the demo CLI; there is no transactionality beyond the
// mutex.
type Memory struct {
	mu        sync.Mutex
	turns     []assistant.ChatTurn
	sessions  map[string]assistant.Session
	templates map[string]assistant.Template
	artifacts map[string]assistant.Artifact
	records   []assistant.ApplyActionRecord
	contexts  map[string]assistant.StoredContext
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  map[string]assistant.Session{},
		templates: map[string]assistant.Template{},
		artifacts: map[string]assistant.Artifact{},
		contexts:  map[string]assistant.StoredContext{},
	}
}

func (m *Memory) Turns() *MemoryTurnStore         { return &MemoryTurnStore{m} }
func (m *Memory) Sessions() *MemorySessionStore   { return &MemorySessionStore{m} }
func (m *Memory) Templates() *MemoryTemplateStore { return &MemoryTemplateStore{m} }
func (m *Memory) Artifacts() *MemoryArtifactStore { return &MemoryArtifactStore{m} }
func (m *Memory) Ledger() *MemoryLedgerStore      { return &MemoryLedgerStore{m} }
func (m *Memory) Contexts() *MemoryContextStore   { return &MemoryContextStore{m} }

type MemoryTurnStore struct{ m *Memory }

var _ assistant.TurnStore = &MemoryTurnStore{}

func (t *MemoryTurnStore) AppendTurn(_ context.Context, turn assistant.ChatTurn) error {
	if strings.TrimSpace(turn.ID) == "" {
		return errors.New("memory store: turn id is empty")
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	t.m.turns = append(t.m.turns, turn)
	return nil
}

func (t *MemoryTurnStore) ListBySession(_ context.Context, sessionID string) ([]assistant.ChatTurn, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	out := []assistant.ChatTurn{}
	for _, turn := range t.m.turns {
		if turn.SessionID == sessionID {
			out = append(out, turn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *MemoryTurnStore) GetAssistantTurn(_ context.Context, sessionID, turnID string) (assistant.ChatTurn, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for _, turn := range t.m.turns {
		if turn.SessionID == sessionID && turn.ID == turnID && turn.Role == assistant.RoleAssistant {
			return turn, nil
		}
	}
	return assistant.ChatTurn{}, assistant.NewNotFoundError("assistant message %s is not found", turnID)
}

func (t *MemoryTurnStore) LatestAssistantTurnWithActions(_ context.Context, sessionID string) (assistant.ChatTurn, bool, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var latest assistant.ChatTurn
	found := false
	for _, turn := range t.m.turns {
		if turn.SessionID != sessionID || turn.Role != assistant.RoleAssistant || len(turn.ProposedActions) == 0 {
			continue
		}
		if !found || turn.CreatedAt.After(latest.CreatedAt) {
			latest = turn
			found = true
		}
	}
	return latest, found, nil
}

type MemorySessionStore struct{ m *Memory }

var _ assistant.SessionStore = &MemorySessionStore{}

func (s *MemorySessionStore) Get(_ context.Context, sessionID string, scope assistant.Scope) (assistant.Session, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	session, ok := s.m.sessions[sessionID]
	if !ok || session.DataMartID != scope.DataMartID || session.ProjectID != scope.ProjectID {
		return assistant.Session{}, assistant.NewNotFoundError("session %s is not found", sessionID)
	}
	return session, nil
}

func (s *MemorySessionStore) Save(_ context.Context, session assistant.Session) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.sessions[session.ID] = session
	return nil
}

type MemoryTemplateStore struct{ m *Memory }

var _ assistant.TemplateStore = &MemoryTemplateStore{}

func (t *MemoryTemplateStore) Get(_ context.Context, templateID string, scope assistant.Scope) (assistant.Template, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	template, ok := t.m.templates[templateID]
	if !ok || template.DataMartID != scope.DataMartID || template.ProjectID != scope.ProjectID {
		return assistant.Template{}, assistant.NewNotFoundError("template %s is not found", templateID)
	}
	template.Sources = append([]assistant.TemplateSource(nil), template.Sources...)
	return template, nil
}

func (t *MemoryTemplateStore) SaveSources(_ context.Context, templateID string, scope assistant.Scope, sources []assistant.TemplateSource) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	template, ok := t.m.templates[templateID]
	if !ok || template.DataMartID != scope.DataMartID || template.ProjectID != scope.ProjectID {
		return assistant.NewNotFoundError("template %s is not found", templateID)
	}
	template.Sources = append([]assistant.TemplateSource(nil), sources...)
	t.m.templates[templateID] = template
	return nil
}

func (t *MemoryTemplateStore) SaveTemplate(_ context.Context, template assistant.Template) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.templates[template.ID] = template
	return nil
}

type MemoryArtifactStore struct{ m *Memory }

var _ assistant.ArtifactStore = &MemoryArtifactStore{}

func (a *MemoryArtifactStore) Get(_ context.Context, artifactID string, scope assistant.Scope) (assistant.Artifact, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	artifact, ok := a.m.artifacts[artifactID]
	if !ok || artifact.DataMartID != scope.DataMartID {
		return assistant.Artifact{}, assistant.NewNotFoundError("artifact %s is not found", artifactID)
	}
	return artifact, nil
}

func (a *MemoryArtifactStore) ListByIDs(_ context.Context, artifactIDs []string, scope assistant.Scope) ([]assistant.Artifact, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	out := []assistant.Artifact{}
	for _, id := range artifactIDs {
		if artifact, ok := a.m.artifacts[id]; ok && artifact.DataMartID == scope.DataMartID {
			out = append(out, artifact)
		}
	}
	return out, nil
}

func (a *MemoryArtifactStore) Save(_ context.Context, artifact assistant.Artifact) (assistant.Artifact, error) {
	if strings.TrimSpace(artifact.ID) == "" {
		return assistant.Artifact{}, errors.New("memory store: artifact id is empty")
	}
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	if artifact.ModifiedAt.IsZero() {
		artifact.ModifiedAt = time.Now()
	}
	a.m.artifacts[artifact.ID] = artifact
	return artifact, nil
}

type MemoryLedgerStore struct{ m *Memory }

var _ assistant.ApplyLedger = &MemoryLedgerStore{}

func (l *MemoryLedgerStore) Get(_ context.Context, sessionID, requestID, createdByID string) (assistant.ApplyActionRecord, bool, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	for _, record := range l.m.records {
		if record.SessionID == sessionID && record.RequestID == requestID && record.CreatedByID == createdByID {
			return record, true, nil
		}
	}
	return assistant.ApplyActionRecord{}, false, nil
}

func (l *MemoryLedgerStore) Insert(_ context.Context, record assistant.ApplyActionRecord) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	for _, existing := range l.m.records {
		if existing.SessionID == record.SessionID && existing.RequestID == record.RequestID && existing.CreatedByID == record.CreatedByID {
			return assistant.ErrDuplicateRecord
		}
	}
	if record.ModifiedAt.IsZero() {
		record.ModifiedAt = time.Now()
	}
	l.m.records = append(l.m.records, record)
	return nil
}

func (l *MemoryLedgerStore) MarkApplied(_ context.Context, recordID string, response assistant.ApplyActionResponse, modifiedAt time.Time) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	for i := range l.m.records {
		if l.m.records[i].ID == recordID {
			l.m.records[i].Response = response
			l.m.records[i].ModifiedAt = modifiedAt
			return nil
		}
	}
	return assistant.NewNotFoundError("apply action record %s is not found", recordID)
}

func (l *MemoryLedgerStore) ListBySession(_ context.Context, sessionID, createdByID string) ([]assistant.ApplyActionRecord, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	out := []assistant.ApplyActionRecord{}
	for _, record := range l.m.records {
		if record.SessionID == sessionID && record.CreatedByID == createdByID {
			out = append(out, record)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ModifiedAt.Before(out[j].ModifiedAt) })
	return out, nil
}

type MemoryContextStore struct{ m *Memory }

var _ assistant.ContextStore = &MemoryContextStore{}

func (c *MemoryContextStore) Get(_ context.Context, sessionID string) (assistant.StoredContext, bool, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	stored, ok := c.m.contexts[sessionID]
	return stored, ok, nil
}

func (c *MemoryContextStore) Save(_ context.Context, stored assistant.StoredContext) error {
	if strings.TrimSpace(stored.SessionID) == "" {
		return errors.New("memory store: session id is empty")
	}
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.contexts[stored.SessionID] = stored
	return nil
}
