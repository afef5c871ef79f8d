package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ContextManager assembles the model prompt context for one session turn:
// timeline merge, snapshot compaction, state snapshot derivation and budget
// enforcement, followed by a change-guarded context write.
type ContextManager struct {
	turns     TurnStore
	ledger    ApplyLedger
	contexts  ContextStore
	compactor *Compactor
	snapshots *StateSnapshotBuilder
	logger    zerolog.Logger
}

// ContextManagerConfig wires the context manager's collaborators.
type ContextManagerConfig struct {
	Turns     TurnStore
	Ledger    ApplyLedger
	Contexts  ContextStore
	Compactor *Compactor
	Snapshots *StateSnapshotBuilder
	Logger    zerolog.Logger
}

// NewContextManager validates the wiring and returns the manager.
func NewContextManager(cfg ContextManagerConfig) (*ContextManager, error) {
	if cfg.Turns == nil {
		return nil, errors.New("context manager: turn store is nil")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("context manager: apply ledger is nil")
	}
	if cfg.Contexts == nil {
		return nil, errors.New("context manager: context store is nil")
	}
	if cfg.Compactor == nil {
		return nil, errors.New("context manager: compactor is nil")
	}
	if cfg.Snapshots == nil {
		return nil, errors.New("context manager: state snapshot builder is nil")
	}
	return &ContextManager{
		turns:     cfg.Turns,
		ledger:    cfg.Ledger,
		contexts:  cfg.Contexts,
		compactor: cfg.Compactor,
		snapshots: cfg.Snapshots,
		logger:    cfg.Logger.With().Str("component", "context_manager").Logger(),
	}, nil
}

// BuildPromptContext runs the full pipeline for one turn. A summarizer
// failure aborts the build; the caller retries on the next turn, where the
// unchanged checkpoint makes compaction pick up the same delta again.
func (m *ContextManager) BuildPromptContext(ctx context.Context, session Session, userID string) (PromptContext, error) {
	var (
		stored       StoredContext
		hasStored    bool
		records      []ApplyActionRecord
		sessionTurns []ChatTurn
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stored, hasStored, err = m.contexts.Get(gctx, session.ID)
		return errors.Wrap(err, "context manager: load stored context")
	})
	g.Go(func() error {
		var err error
		records, err = m.ledger.ListBySession(gctx, session.ID, userID)
		return errors.Wrap(err, "context manager: list ledger records")
	})
	g.Go(func() error {
		var err error
		sessionTurns, err = m.turns.ListBySession(gctx, session.ID)
		return errors.Wrap(err, "context manager: list session turns")
	})
	if err := g.Wait(); err != nil {
		return PromptContext{}, err
	}

	timeline := BuildTurnTimeline(sessionTurns, appliedEventsFromRecords(records))

	var storedSnapshot json.RawMessage
	if hasStored {
		storedSnapshot = stored.ConversationSnapshot
	}
	snapshot, err := m.compactor.Compact(ctx, storedSnapshot, timeline)
	if err != nil {
		return PromptContext{}, errors.Wrap(err, "context manager: compact conversation")
	}

	state, err := m.snapshots.Build(ctx, session, records, sessionTurns)
	if err != nil {
		return PromptContext{}, err
	}

	pc := EnforceContextBudget(PromptContext{
		RecentTurns:          RecentTurnsForPrompt(timeline, snapshot),
		ConversationSnapshot: snapshot,
		StateSnapshot:        state,
	}, timeline)

	if err := m.persistContext(ctx, session.ID, stored, hasStored, pc); err != nil {
		return PromptContext{}, err
	}

	m.logger.Debug().
		Str("session_id", session.ID).
		Int("timeline_turns", len(timeline)).
		Int("recent_turns", len(pc.RecentTurns)).
		Bool("has_snapshot", pc.ConversationSnapshot != nil).
		Msg("prompt context built")

	return pc, nil
}

// persistContext serializes the new snapshots and writes only when the stored
// blob actually changed, avoiding per-turn persistence churn.
func (m *ContextManager) persistContext(ctx context.Context, sessionID string, stored StoredContext, hasStored bool, pc PromptContext) error {
	var snapshotRaw json.RawMessage
	if pc.ConversationSnapshot != nil {
		b, err := json.Marshal(pc.ConversationSnapshot)
		if err != nil {
			return errors.Wrap(err, "context manager: marshal conversation snapshot")
		}
		snapshotRaw = b
	}
	stateRaw, err := json.Marshal(pc.StateSnapshot)
	if err != nil {
		return errors.Wrap(err, "context manager: marshal state snapshot")
	}

	if hasStored &&
		bytes.Equal(stored.ConversationSnapshot, snapshotRaw) &&
		bytes.Equal(stored.StateSnapshot, stateRaw) {
		return nil
	}

	return errors.Wrap(m.contexts.Save(ctx, StoredContext{
		SessionID:            sessionID,
		ConversationSnapshot: snapshotRaw,
		StateSnapshot:        stateRaw,
	}), "context manager: save context")
}

func appliedEventsFromRecords(records []ApplyActionRecord) []AppliedActionEvent {
	sorted := append([]ApplyActionRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ModifiedAt.Before(sorted[j].ModifiedAt)
	})
	events := []AppliedActionEvent{}
	for _, rec := range sorted {
		if rec.Response.LifecycleStatus != LifecycleApplied {
			continue
		}
		events = append(events, AppliedActionEvent{
			ActionType:      rec.Response.ActionType,
			SourceKey:       rec.Response.SourceKey,
			ArtifactTitle:   rec.Response.ArtifactTitle,
			TemplateUpdated: rec.Response.TemplateUpdated,
			AppliedAt:       rec.ModifiedAt,
		})
	}
	return events
}
