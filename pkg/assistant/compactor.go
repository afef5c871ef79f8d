package assistant

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

const (
	// RecentWindow is the number of trailing turns kept verbatim before
	// compaction kicks in; it also caps the prompt's recent-turn list.
	RecentWindow = 12
	// SnapshotTailTurns always stays out of the compressed region.
	SnapshotTailTurns = 3
	// SnapshotCompactBatch is the minimum uncompressed delta that justifies
	// another summarizer call once a snapshot exists.
	SnapshotCompactBatch = 8
)

// Compactor folds older timeline turns into an evolving conversation snapshot
// with an explicit checkpoint (CompressedTurns). The summarizer call is the
// only side effect; the fold itself is deterministic.
type Compactor struct {
	agent  SnapshotAgent
	clock  Clock
	logger zerolog.Logger
}

// NewCompactor builds a compactor around the summarization collaborator.
func NewCompactor(agent SnapshotAgent, clock Clock, logger zerolog.Logger) *Compactor {
	if clock == nil {
		clock = SystemClock()
	}
	return &Compactor{
		agent:  agent,
		clock:  clock,
		logger: logger.With().Str("component", "compactor").Logger(),
	}
}

// Compact returns the active conversation snapshot for the timeline, invoking
// the summarizer only when no valid stored snapshot exists or the
// uncompressed delta reached SnapshotCompactBatch turns. Below the
// RecentWindow threshold it returns nil: the raw turns fit the prompt.
func (c *Compactor) Compact(ctx context.Context, storedRaw json.RawMessage, timeline []TimelineTurn) (*ConversationSnapshot, error) {
	totalTurns := len(timeline)
	if totalTurns <= RecentWindow {
		return nil, nil
	}

	tail := SnapshotTailTurns
	if tail > totalTurns {
		tail = totalTurns
	}
	target := totalTurns - tail
	if target <= 0 {
		return nil, nil
	}

	stored := DecodeStoredSnapshot(storedRaw, totalTurns)
	compressed := 0
	if stored != nil {
		compressed = stored.CompressedTurns
	}
	// The checkpoint can land past the target when the timeline shrank
	// relative to the one it was computed against (shorter per-user ledger
	// merge on a shared session). Nothing left to fold in then.
	if compressed > target {
		compressed = target
	}
	delta := timeline[compressed:target]

	if stored != nil && len(delta) < SnapshotCompactBatch {
		return stored, nil
	}

	content, err := c.agent.BuildSnapshot(ctx, SnapshotRequest{
		Existing:        stored,
		TurnsToCompress: delta,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("total_turns", totalTurns).
		Int("compressed_turns", target).
		Int("delta", len(delta)).
		Msg("conversation snapshot updated")

	return &ConversationSnapshot{
		SnapshotContent: content,
		CompressedTurns: target,
		UpdatedAt:       c.clock.Now(),
	}, nil
}

// DecodeStoredSnapshot validates a persisted snapshot blob. Malformed or
// old-format payloads decode to nil rather than erroring; the checkpoint is
// clamped into [0, totalTurns].
func DecodeStoredSnapshot(raw json.RawMessage, totalTurns int) *ConversationSnapshot {
	if len(raw) == 0 {
		return nil
	}
	var snap ConversationSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil
	}
	if snap.CompressedTurns < 0 {
		snap.CompressedTurns = 0
	}
	if snap.CompressedTurns > totalTurns {
		snap.CompressedTurns = totalTurns
	}
	return &snap
}

// RecentTurnsForPrompt selects the live turns accompanying the snapshot:
// everything strictly after the checkpoint, else the last SnapshotTailTurns,
// else (no snapshot) the last RecentWindow turns.
func RecentTurnsForPrompt(timeline []TimelineTurn, snap *ConversationSnapshot) []TimelineTurn {
	if snap == nil {
		return tailTurns(timeline, RecentWindow)
	}
	start := snap.CompressedTurns
	if start < 0 {
		start = 0
	}
	if start > len(timeline) {
		start = len(timeline)
	}
	if after := timeline[start:]; len(after) > 0 {
		return after
	}
	return tailTurns(timeline, SnapshotTailTurns)
}

func tailTurns(timeline []TimelineTurn, n int) []TimelineTurn {
	if len(timeline) <= n {
		return timeline
	}
	return timeline[len(timeline)-n:]
}
