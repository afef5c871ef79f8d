package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newContextManagerFixture(t *testing.T, turns *fakeTurnStore, ledger *fakeLedger, contexts *fakeContextStore, agent SnapshotAgent) (*ContextManager, Session) {
	t.Helper()
	session := Session{ID: "s1", DataMartID: "dm", ProjectID: "p", TemplateID: "tpl", Scope: ScopeTemplate}
	templates := &fakeTemplateStore{templates: map[string]Template{
		"tpl": {ID: "tpl", DataMartID: "dm", ProjectID: "p"},
	}}
	m, err := NewContextManager(ContextManagerConfig{
		Turns:     turns,
		Ledger:    ledger,
		Contexts:  contexts,
		Compactor: NewCompactor(agent, fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, zerolog.Nop()),
		Snapshots: NewStateSnapshotBuilder(templates, &fakeArtifactStore{}),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return m, session
}

func sessionTurns(n int) []ChatTurn {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]ChatTurn, 0, n)
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		out = append(out, ChatTurn{
			ID:        fmt.Sprintf("t%d", i),
			SessionID: "s1",
			Role:      role,
			Content:   fmt.Sprintf("turn %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestBuildPromptContextShortSessionNoSnapshot(t *testing.T) {
	turns := &fakeTurnStore{turns: sessionTurns(5)}
	contexts := &fakeContextStore{}
	agent := &fakeSnapshotAgent{}
	m, session := newContextManagerFixture(t, turns, &fakeLedger{}, contexts, agent)

	pc, err := m.BuildPromptContext(context.Background(), session, "u1")
	require.NoError(t, err)
	require.Nil(t, pc.ConversationSnapshot)
	require.Len(t, pc.RecentTurns, 5)
	require.Empty(t, agent.calls)
	require.Equal(t, 1, contexts.saves)
}

func TestBuildPromptContextLongSessionCompacts(t *testing.T) {
	turns := &fakeTurnStore{turns: sessionTurns(20)}
	contexts := &fakeContextStore{}
	agent := &fakeSnapshotAgent{content: SnapshotContent{Goal: "compressed"}}
	m, session := newContextManagerFixture(t, turns, &fakeLedger{}, contexts, agent)

	pc, err := m.BuildPromptContext(context.Background(), session, "u1")
	require.NoError(t, err)
	require.NotNil(t, pc.ConversationSnapshot)
	require.Equal(t, 17, pc.ConversationSnapshot.CompressedTurns)
	require.Len(t, pc.RecentTurns, 3)
	require.Equal(t, "turn 17", pc.RecentTurns[0].Content)
	require.Len(t, agent.calls, 1)

	stored := contexts.contexts["s1"]
	var persisted ConversationSnapshot
	require.NoError(t, json.Unmarshal(stored.ConversationSnapshot, &persisted))
	require.Equal(t, 17, persisted.CompressedTurns)
	require.Equal(t, "compressed", persisted.Goal)
}

func TestBuildPromptContextMergesAppliedLedgerEntries(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	turns := &fakeTurnStore{turns: sessionTurns(2)}
	ledger := &fakeLedger{records: []ApplyActionRecord{
		{
			ID: "rec-1", SessionID: "s1", RequestID: "req-1", CreatedByID: "u1",
			ModifiedAt: base.Add(30 * time.Second),
			Response: ApplyActionResponse{
				LifecycleStatus: LifecycleApplied,
				ActionType:      ApplyCreateAndAttachSource,
				SourceKey:       "events",
				ArtifactTitle:   "Events by day",
				TemplateUpdated: true,
			},
		},
	}}
	m, session := newContextManagerFixture(t, turns, ledger, &fakeContextStore{}, &fakeSnapshotAgent{})

	pc, err := m.BuildPromptContext(context.Background(), session, "u1")
	require.NoError(t, err)
	require.Len(t, pc.RecentTurns, 3)
	require.Contains(t, pc.RecentTurns[1].Content, "[Action applied]")
	require.Contains(t, pc.RecentTurns[1].Content, `source: "events"`)
}

func TestBuildPromptContextSkipsUnchangedWrite(t *testing.T) {
	turns := &fakeTurnStore{turns: sessionTurns(5)}
	contexts := &fakeContextStore{}
	m, session := newContextManagerFixture(t, turns, &fakeLedger{}, contexts, &fakeSnapshotAgent{})

	_, err := m.BuildPromptContext(context.Background(), session, "u1")
	require.NoError(t, err)
	_, err = m.BuildPromptContext(context.Background(), session, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, contexts.saves)
}

func TestBuildPromptContextHysteresisReusesStoredSnapshot(t *testing.T) {
	turns := &fakeTurnStore{turns: sessionTurns(13)}
	agent := &fakeSnapshotAgent{}
	stored := ConversationSnapshot{
		SnapshotContent: SnapshotContent{Goal: "stored"},
		CompressedTurns: 6,
	}
	raw, err := json.Marshal(stored)
	require.NoError(t, err)
	contexts := &fakeContextStore{contexts: map[string]StoredContext{
		"s1": {SessionID: "s1", ConversationSnapshot: raw},
	}}
	m, session := newContextManagerFixture(t, turns, &fakeLedger{}, contexts, agent)

	pc, err := m.BuildPromptContext(context.Background(), session, "u1")
	require.NoError(t, err)
	require.NotNil(t, pc.ConversationSnapshot)
	require.Equal(t, "stored", pc.ConversationSnapshot.Goal)
	require.Equal(t, 6, pc.ConversationSnapshot.CompressedTurns)
	require.Empty(t, agent.calls)
	// Everything after the checkpoint rides along verbatim.
	require.Len(t, pc.RecentTurns, 7)
	require.Equal(t, "turn 6", pc.RecentTurns[0].Content)
}

func TestBuildPromptContextSummarizerFailureAborts(t *testing.T) {
	turns := &fakeTurnStore{turns: sessionTurns(20)}
	contexts := &fakeContextStore{}
	agent := &fakeSnapshotAgent{err: fmt.Errorf("summarizer down")}
	m, session := newContextManagerFixture(t, turns, &fakeLedger{}, contexts, agent)

	_, err := m.BuildPromptContext(context.Background(), session, "u1")
	require.Error(t, err)
	require.Equal(t, 0, contexts.saves)
}
