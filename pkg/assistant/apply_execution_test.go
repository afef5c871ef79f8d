package assistant

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine    *ExecutionEngine
	turns     *fakeTurnStore
	templates *fakeTemplateStore
	artifacts *fakeArtifactStore
	replacer  *fakeReplacer
	session   Session
	now       time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &engineFixture{
		turns: &fakeTurnStore{turns: []ChatTurn{
			{ID: "msg-1", SessionID: "s1", Role: RoleAssistant, SQLCandidate: "SELECT day, count(*) FROM events GROUP BY day"},
		}},
		templates: &fakeTemplateStore{templates: map[string]Template{
			"tpl": {
				ID: "tpl", DataMartID: "dm", ProjectID: "p",
				Sources: []TemplateSource{
					{ID: "src-1", Key: "events", Type: SourceTypeInsightArtifact, ArtifactID: "art-1"},
				},
			},
		}},
		artifacts: &fakeArtifactStore{artifacts: map[string]Artifact{
			"art-1": {ID: "art-1", DataMartID: "dm", Title: "Events", SQL: "SELECT 1"},
		}},
		replacer: &fakeReplacer{result: ReplaceTemplateResult{TemplateUpdated: true, TemplateID: "tpl", Status: StatusUpdated, Reason: "template_replaced"}},
		session:  Session{ID: "s1", DataMartID: "dm", ProjectID: "p", TemplateID: "tpl", Scope: ScopeTemplate},
		now:      now,
	}
	f.engine = NewExecutionEngine(ExecutionEngineConfig{
		Turns:     f.turns,
		Templates: f.templates,
		Artifacts: f.artifacts,
		Validator: fakeValidator{},
		Replacer:  f.replacer,
		Clock:     fixedClock{now: now},
		Logger:    zerolog.Nop(),
	})
	return f
}

func (f *engineFixture) cmd() ApplyCommand {
	return ApplyCommand{
		SessionID:          "s1",
		DataMartID:         "dm",
		ProjectID:          "p",
		UserID:             "u1",
		RequestID:          "req-1",
		AssistantMessageID: "msg-1",
	}
}

func TestExecuteUpdateExistingSource(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type:      ApplyUpdateExistingSource,
		SourceKey: "events",
	})
	require.NoError(t, err)
	require.Equal(t, StatusUpdated, result.Status)
	require.Equal(t, "update_existing_source", result.Reason)
	require.Equal(t, "art-1", result.ArtifactID)

	saved := f.artifacts.artifacts["art-1"]
	require.Equal(t, "SELECT day, count(*) FROM events GROUP BY day", saved.SQL)
	require.Equal(t, ValidationValid, saved.ValidationStatus)
	require.Equal(t, f.now, saved.ModifiedAt)
}

func TestExecuteUpdateExplicitSQLOverrideWins(t *testing.T) {
	f := newEngineFixture(t)
	cmd := f.cmd()
	cmd.SQL = "SELECT 2"
	cmd.ArtifactTitle = "Renamed"

	result, err := f.engine.Execute(context.Background(), f.session, cmd, ApplyAction{
		Type:             ApplyUpdateExistingSource,
		TargetArtifactID: "art-1",
	})
	require.NoError(t, err)
	require.Equal(t, "art-1", result.ArtifactID)
	require.Equal(t, "SELECT 2", f.artifacts.artifacts["art-1"].SQL)
	require.Equal(t, "Renamed", f.artifacts.artifacts["art-1"].Title)
}

func TestExecuteCreateAndAttachNewSource(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type:      ApplyCreateAndAttachSource,
		SourceKey: "orders",
	})
	require.NoError(t, err)
	require.Equal(t, StatusUpdated, result.Status)
	require.Equal(t, "create_and_attach_source", result.Reason)
	require.True(t, result.TemplateUpdated)
	require.Equal(t, "orders", result.SourceKey)
	require.NotEmpty(t, result.ArtifactID)

	sources := f.templates.templates["tpl"].Sources
	require.Len(t, sources, 2)
	require.Equal(t, "orders", sources[1].Key)
	require.Equal(t, result.ArtifactID, sources[1].ArtifactID)
	require.Equal(t, SourceTypeInsightArtifact, sources[1].Type)
}

func TestExecuteCreateAndAttachReusesExistingKey(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type:      ApplyCreateAndAttachSource,
		SourceKey: "events",
	})
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyPresent, result.Status)
	require.Equal(t, "source_already_in_template", result.Reason)
	require.Equal(t, "art-1", result.ArtifactID)
	require.False(t, result.TemplateUpdated)
	// Stored SQL untouched.
	require.Equal(t, "SELECT 1", f.artifacts.artifacts["art-1"].SQL)
}

func TestExecuteCreateAndAttachReuseWithDifferingSQLUpdates(t *testing.T) {
	f := newEngineFixture(t)
	cmd := f.cmd()
	cmd.SQL = "SELECT   42"

	result, err := f.engine.Execute(context.Background(), f.session, cmd, ApplyAction{
		Type:      ApplyCreateAndAttachSource,
		SourceKey: "events",
	})
	require.NoError(t, err)
	require.Equal(t, StatusUpdated, result.Status)
	require.Equal(t, "update_existing_source", result.Reason)
	require.Equal(t, "SELECT   42", f.artifacts.artifacts["art-1"].SQL)
}

func TestExecuteCreateAndAttachReuseIgnoresWhitespaceCaseDiff(t *testing.T) {
	f := newEngineFixture(t)
	cmd := f.cmd()
	cmd.SQL = "select\n\t1"

	result, err := f.engine.Execute(context.Background(), f.session, cmd, ApplyAction{
		Type:      ApplyCreateAndAttachSource,
		SourceKey: "events",
	})
	require.NoError(t, err)
	require.Equal(t, StatusAlreadyPresent, result.Status)
	require.Equal(t, "SELECT 1", f.artifacts.artifacts["art-1"].SQL)
}

func TestExecuteCreateAndAttachExplicitTarget(t *testing.T) {
	f := newEngineFixture(t)
	f.artifacts.artifacts["art-2"] = Artifact{ID: "art-2", DataMartID: "dm", Title: "Orders", SQL: "SELECT o"}

	result, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type:             ApplyCreateAndAttachSource,
		SourceKey:        "orders",
		TargetArtifactID: "art-2",
	})
	require.NoError(t, err)
	require.Equal(t, StatusUpdated, result.Status)
	require.Equal(t, "attach_existing_source", result.Reason)
	require.Equal(t, "art-2", result.ArtifactID)
	require.True(t, result.TemplateUpdated)
}

func TestExecuteCreateAndAttachKeyCollisionOtherArtifact(t *testing.T) {
	f := newEngineFixture(t)
	f.artifacts.artifacts["art-2"] = Artifact{ID: "art-2", DataMartID: "dm", SQL: "SELECT o"}
	// Attach art-2 under a key held by a different artifact via the direct
	// attach path (no template source with that key yet for art-2).
	template := f.templates.templates["tpl"]
	template.Sources = append(template.Sources, TemplateSource{Key: "orders", Type: SourceTypeInsightArtifact, ArtifactID: "art-1"})
	f.templates.templates["tpl"] = template

	_, err := f.engine.attachArtifactToTemplate(context.Background(), f.session, f.artifacts.artifacts["art-2"], "tpl", "orders")
	require.Error(t, err)
	require.True(t, IsClientInputError(err))
	require.Contains(t, err.Error(), `source key "orders" is already used`)
}

func TestExecuteCreateAndAttachRequiresSourceKey(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{Type: ApplyCreateAndAttachSource})
	require.True(t, IsClientInputError(err))
}

func TestExecuteReplaceTemplateDocument(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type: ApplyReplaceTemplateDocument,
		Text: "# Report",
		Tags: []PlaceholderTag{{ID: "tag-1", Name: "table"}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusUpdated, result.Status)
	require.True(t, result.TemplateUpdated)
	require.Len(t, f.replacer.calls, 1)
	require.Equal(t, "tpl", f.replacer.calls[0].TemplateID)
	require.Equal(t, "# Report", f.replacer.calls[0].Text)
}

func TestExecuteReplaceTemplateDocumentRequiresTextAndTags(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type: ApplyReplaceTemplateDocument,
		Tags: []PlaceholderTag{},
	})
	require.True(t, IsClientInputError(err))

	_, err = f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type: ApplyReplaceTemplateDocument,
		Text: "doc",
	})
	require.True(t, IsClientInputError(err))
}

func TestExecuteRemoveSourceFromTemplate(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type:      ApplyRemoveSourceFromTemplate,
		SourceKey: "events",
	})
	require.NoError(t, err)
	require.Equal(t, StatusUpdated, result.Status)
	require.Equal(t, "remove_source_only", result.Reason)
	require.True(t, result.TemplateUpdated)
	require.Empty(t, f.templates.templates["tpl"].Sources)

	// Second removal of the same key is a no-op.
	result, err = f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type:      ApplyRemoveSourceFromTemplate,
		SourceKey: "events",
	})
	require.NoError(t, err)
	require.Equal(t, StatusNoOp, result.Status)
	require.Equal(t, "remove_source_no_changes", result.Reason)
	require.False(t, result.TemplateUpdated)
}

func TestExecuteRemoveSourceValidationFailureDoesNotPersist(t *testing.T) {
	f := newEngineFixture(t)
	f.engine.validator = fakeValidator{err: NewValidationError("orphan placeholder references events")}

	result, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type:      ApplyRemoveSourceFromTemplate,
		SourceKey: "events",
	})
	require.NoError(t, err)
	require.Equal(t, StatusValidationFailed, result.Status)
	require.Equal(t, "orphan placeholder references events", result.Reason)
	require.Len(t, f.templates.templates["tpl"].Sources, 1)
	require.Empty(t, f.templates.saved)
}

func TestExecuteCompositeSourceAndTemplateEdit(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type:      ApplyUpdateExistingSource,
		SourceKey: "events",
		Text:      "# Updated report",
		Tags:      []PlaceholderTag{{ID: "tag-1", Name: "table"}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusUpdated, result.Status)
	require.True(t, result.TemplateUpdated)
	require.Equal(t, "art-1", result.ArtifactID)
	require.Len(t, f.replacer.calls, 1)
}

func TestExecuteCompositeTemplateValidationFailureEscalates(t *testing.T) {
	f := newEngineFixture(t)
	f.replacer.result = ReplaceTemplateResult{Status: StatusValidationFailed, Reason: "bad placeholder"}

	_, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{
		Type:      ApplyUpdateExistingSource,
		SourceKey: "events",
		Text:      "# Doc",
		Tags:      []PlaceholderTag{},
	})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
	require.Contains(t, err.Error(), "bad placeholder")
}

func TestExecuteUnsupportedActionType(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Execute(context.Background(), f.session, f.cmd(), ApplyAction{Type: "explode"})
	require.True(t, IsClientInputError(err))
}

func TestSuggestedArtifactTitleFallback(t *testing.T) {
	f := newEngineFixture(t)
	f.turns.turns = append(f.turns.turns, ChatTurn{
		ID: "msg-2", SessionID: "s1", Role: RoleAssistant,
		SQLCandidate: "SELECT 9",
		ProposedActions: []ProposedAction{
			{Type: ActionCreateSourceAndAttach, ID: "req-9", Payload: ProposedPayload{
				SuggestedSourceKey:     "revenue",
				SuggestedArtifactTitle: "Revenue by week",
			}},
		},
		CreatedAt: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	})
	cmd := f.cmd()
	cmd.AssistantMessageID = "msg-2"

	result, err := f.engine.Execute(context.Background(), f.session, cmd, ApplyAction{
		Type:      ApplyCreateAndAttachSource,
		SourceKey: "revenue",
	})
	require.NoError(t, err)
	require.Equal(t, "Revenue by week", result.ArtifactTitle)
}
