package assistant

import (
	"context"
	"sort"
	"time"
)

// Shared in-memory fakes for the collaborator interfaces.

type fakeTurnStore struct {
	turns []ChatTurn
}

func (f *fakeTurnStore) AppendTurn(_ context.Context, turn ChatTurn) error {
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakeTurnStore) ListBySession(_ context.Context, sessionID string) ([]ChatTurn, error) {
	out := []ChatTurn{}
	for _, t := range f.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeTurnStore) GetAssistantTurn(_ context.Context, sessionID, turnID string) (ChatTurn, error) {
	for _, t := range f.turns {
		if t.SessionID == sessionID && t.ID == turnID && t.Role == RoleAssistant {
			return t, nil
		}
	}
	return ChatTurn{}, NewNotFoundError("assistant message %s is not found", turnID)
}

func (f *fakeTurnStore) LatestAssistantTurnWithActions(_ context.Context, sessionID string) (ChatTurn, bool, error) {
	var latest ChatTurn
	found := false
	for _, t := range f.turns {
		if t.SessionID != sessionID || t.Role != RoleAssistant || len(t.ProposedActions) == 0 {
			continue
		}
		if !found || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
			found = true
		}
	}
	return latest, found, nil
}

type fakeSessionStore struct {
	sessions map[string]Session
}

func (f *fakeSessionStore) Get(_ context.Context, sessionID string, scope Scope) (Session, error) {
	session, ok := f.sessions[sessionID]
	if !ok || session.DataMartID != scope.DataMartID || session.ProjectID != scope.ProjectID {
		return Session{}, NewNotFoundError("session %s is not found", sessionID)
	}
	return session, nil
}

type fakeTemplateStore struct {
	templates map[string]Template
	saved     [][]TemplateSource
}

func (f *fakeTemplateStore) Get(_ context.Context, templateID string, scope Scope) (Template, error) {
	template, ok := f.templates[templateID]
	if !ok || template.DataMartID != scope.DataMartID {
		return Template{}, NewNotFoundError("template %s is not found", templateID)
	}
	template.Sources = append([]TemplateSource(nil), template.Sources...)
	return template, nil
}

func (f *fakeTemplateStore) SaveSources(_ context.Context, templateID string, _ Scope, sources []TemplateSource) error {
	template, ok := f.templates[templateID]
	if !ok {
		return NewNotFoundError("template %s is not found", templateID)
	}
	template.Sources = append([]TemplateSource(nil), sources...)
	f.templates[templateID] = template
	f.saved = append(f.saved, template.Sources)
	return nil
}

type fakeArtifactStore struct {
	artifacts map[string]Artifact
}

func (f *fakeArtifactStore) Get(_ context.Context, artifactID string, scope Scope) (Artifact, error) {
	artifact, ok := f.artifacts[artifactID]
	if !ok || artifact.DataMartID != scope.DataMartID {
		return Artifact{}, NewNotFoundError("artifact %s is not found", artifactID)
	}
	return artifact, nil
}

func (f *fakeArtifactStore) ListByIDs(_ context.Context, artifactIDs []string, scope Scope) ([]Artifact, error) {
	out := []Artifact{}
	for _, id := range artifactIDs {
		if artifact, ok := f.artifacts[id]; ok && artifact.DataMartID == scope.DataMartID {
			out = append(out, artifact)
		}
	}
	return out, nil
}

func (f *fakeArtifactStore) Save(_ context.Context, artifact Artifact) (Artifact, error) {
	if f.artifacts == nil {
		f.artifacts = map[string]Artifact{}
	}
	f.artifacts[artifact.ID] = artifact
	return artifact, nil
}

type fakeLedger struct {
	records []ApplyActionRecord
}

func (f *fakeLedger) Get(_ context.Context, sessionID, requestID, createdByID string) (ApplyActionRecord, bool, error) {
	for _, rec := range f.records {
		if rec.SessionID == sessionID && rec.RequestID == requestID && rec.CreatedByID == createdByID {
			return rec, true, nil
		}
	}
	return ApplyActionRecord{}, false, nil
}

func (f *fakeLedger) Insert(_ context.Context, record ApplyActionRecord) error {
	for _, rec := range f.records {
		if rec.SessionID == record.SessionID && rec.RequestID == record.RequestID && rec.CreatedByID == record.CreatedByID {
			return ErrDuplicateRecord
		}
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeLedger) MarkApplied(_ context.Context, recordID string, response ApplyActionResponse, modifiedAt time.Time) error {
	for i := range f.records {
		if f.records[i].ID == recordID {
			f.records[i].Response = response
			f.records[i].ModifiedAt = modifiedAt
			return nil
		}
	}
	return NewNotFoundError("apply action record %s is not found", recordID)
}

func (f *fakeLedger) ListBySession(_ context.Context, sessionID, createdByID string) ([]ApplyActionRecord, error) {
	out := []ApplyActionRecord{}
	for _, rec := range f.records {
		if rec.SessionID == sessionID && rec.CreatedByID == createdByID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeContextStore struct {
	contexts map[string]StoredContext
	saves    int
}

func (f *fakeContextStore) Get(_ context.Context, sessionID string) (StoredContext, bool, error) {
	stored, ok := f.contexts[sessionID]
	return stored, ok, nil
}

func (f *fakeContextStore) Save(_ context.Context, stored StoredContext) error {
	if f.contexts == nil {
		f.contexts = map[string]StoredContext{}
	}
	f.contexts[stored.SessionID] = stored
	f.saves++
	return nil
}

type fakeValidator struct {
	err error
}

func (f fakeValidator) ValidateSources(context.Context, []TemplateSource, Scope) error {
	return f.err
}

type fakeReplacer struct {
	result ReplaceTemplateResult
	err    error
	calls  []ReplaceTemplateRequest
}

func (f *fakeReplacer) Apply(_ context.Context, req ReplaceTemplateRequest) (ReplaceTemplateResult, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return ReplaceTemplateResult{}, f.err
	}
	return f.result, nil
}

type fakeSnapshotAgent struct {
	content SnapshotContent
	err     error
	calls   []SnapshotRequest
}

func (f *fakeSnapshotAgent) BuildSnapshot(_ context.Context, req SnapshotRequest) (SnapshotContent, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return SnapshotContent{}, f.err
	}
	return f.content, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }
